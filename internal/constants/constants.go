package constants

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Bot Commands
const (
	CMD_START  = "start"
	CMD_ADMIN  = "admin"
	CMD_CANCEL = "cancel"
	CMD_HELP   = "help"
)

// Префикс параметра /start для запуска конкретного потока: /start flow_<id>
const START_PAYLOAD_FLOW_PREFIX = "flow_"

// Callback Data Prefixes: admin menu
const (
	CALLBACK_ADMIN_MENU     = "adm_menu"
	CALLBACK_FLOW_CREATE    = "flow_create"
	CALLBACK_FLOW_LIST      = "flow_list"
	CALLBACK_FLOW_DEFAULTS  = "flow_defaults"
	CALLBACK_FLOW_REPORT    = "flow_report"
	CALLBACK_FLOW_FINISH    = "flow_finish"
	CALLBACK_AUTHOR_CANCEL  = "author_cancel"
	CALLBACK_AUTHOR_RETRY   = "author_retry"
	CALLBACK_CAPTION_SKIP   = "caption_skip"
	CALLBACK_CONVERT_ACCEPT = "convert_yes"
	CALLBACK_CONVERT_REJECT = "convert_no"
)

// Callback prefixes with an ID parameter (prefix_<id>)
const (
	CALLBACK_PREFIX_ADD_STEP     = "add_step"    // add_step_<type>[_btn]
	CALLBACK_PREFIX_FLOW_VIEW    = "flow_view"   // flow_view_<flowID>
	CALLBACK_PREFIX_FLOW_APPEND  = "flow_append" // flow_append_<flowID>
	CALLBACK_PREFIX_FLOW_DELETE  = "flow_del"    // flow_del_<flowID>
	CALLBACK_PREFIX_FLOW_DEL_OK  = "flow_delok"  // flow_delok_<flowID> - delete confirmation
	CALLBACK_PREFIX_FLOW_DEFAULT = "flow_def"    // flow_def_<flowID>
	CALLBACK_PREFIX_FLOW_SHARE   = "flow_share"  // flow_share_<flowID>
	CALLBACK_PREFIX_FLOW_PREVIEW = "flow_prev"   // flow_prev_<flowID>
	CALLBACK_PREFIX_STEP_VIEW    = "step_view"   // step_view_<stepID>
	CALLBACK_PREFIX_STEP_TEXT    = "step_text"   // step_text_<stepID>
	CALLBACK_PREFIX_STEP_MEDIA   = "step_media"  // step_media_<stepID>
	CALLBACK_PREFIX_STEP_DELETE  = "step_del"    // step_del_<stepID>
	CALLBACK_PREFIX_STEP_UP      = "step_up"     // step_up_<stepID>
)

// Суффикс шага с кнопкой в CALLBACK_PREFIX_ADD_STEP
const ADD_STEP_BUTTON_SUFFIX = "_btn"

// Timeouts and Limits
const (
	UPDATE_TIMEOUT_SECONDS = 60
	HTTP_READ_TIMEOUT      = 15 * time.Second
	HTTP_WRITE_TIMEOUT     = 60 * time.Second
	SHUTDOWN_TIMEOUT       = 10 * time.Second
	FILE_URL_CACHE_TTL     = 50 * time.Minute // Ссылки на файлы Telegram живут около часа
	MAX_DOWNLOAD_BYTES     = 50 << 20
	INIT_DATA_MAX_AGE      = 24 * time.Hour
)

// Callback собирает callback data из префикса и идентификатора.
func Callback(prefix string, id int64) string {
	return fmt.Sprintf("%s_%d", prefix, id)
}

// ParseCallbackID извлекает идентификатор из callback data вида prefix_<id>.
func ParseCallbackID(data, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(data, prefix+"_")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
