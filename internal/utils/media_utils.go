// internal/utils/media_utils.go
package utils

import (
	"strings"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
)

// Виды вложений во входящем сообщении.
const (
	MediaKindPhoto     = "photo"
	MediaKindVideo     = "video"
	MediaKindVideoNote = "video_note"
	MediaKindDocument  = "document"
)

// IsVideo проверяет, является ли MIME-тип видео.
func IsVideo(mimeType string) bool {
	return strings.HasPrefix(mimeType, "video/")
}

// IsImage проверяет, является ли MIME-тип изображением.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// MessageMedia извлекает file_id, вид вложения и размер из сообщения.
// Для фото берется самый большой размер.
func MessageMedia(msg *tgbotapi.Message) (fileID, kind string, size int64, ok bool) {
	if msg == nil {
		return "", "", 0, false
	}
	switch {
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		return p.FileID, MediaKindPhoto, int64(p.FileSize), true
	case msg.VideoNote != nil:
		return msg.VideoNote.FileID, MediaKindVideoNote, int64(msg.VideoNote.FileSize), true
	case msg.Video != nil:
		return msg.Video.FileID, MediaKindVideo, int64(msg.Video.FileSize), true
	case msg.Document != nil:
		kind = MediaKindDocument
		if IsVideo(msg.Document.MimeType) {
			kind = MediaKindVideo
		} else if IsImage(msg.Document.MimeType) {
			kind = MediaKindPhoto
		}
		return msg.Document.FileID, kind, int64(msg.Document.FileSize), true
	}
	return "", "", 0, false
}
