package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"flowbot/internal/logger"
)

type operatorKey struct{}

// Operator - пользователь WebApp, подписавший запрос.
type Operator struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// OperatorFrom достает оператора, сохраненный AuthMiddleware.
func OperatorFrom(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(Operator)
	return op, ok
}

var (
	errNoHash     = errors.New("в initData нет hash")
	errNoUser     = errors.New("в initData нет user")
	errBadHash    = errors.New("подпись initData не совпадает")
	errStaleInput = errors.New("initData устарели")
)

// AuthMiddleware проверяет подпись initData из заголовка X-Telegram-Auth.
func AuthMiddleware(botToken string, maxAge time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-Telegram-Auth")
			if raw == "" {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Missing X-Telegram-Auth header")
				return
			}
			op, err := parseInitData(raw, botToken, maxAge, time.Now())
			if err != nil {
				logger.Warn("API: initData отклонены", zap.Error(err), zap.String("path", r.URL.Path))
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Invalid initData")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, op)))
		})
	}
}

// AdminMiddleware пропускает только операторов из белого списка.
func AdminMiddleware(isAdmin func(chatID int64) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, ok := OperatorFrom(r.Context())
			if !ok || !isAdmin(op.ID) {
				logger.Warn("API: доступ запрещен", zap.Int64("chat_id", op.ID))
				writeJSONError(w, http.StatusForbidden, "Forbidden: Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseInitData(raw, botToken string, maxAge time.Duration, now time.Time) (Operator, error) {
	var op Operator
	q, err := url.ParseQuery(raw)
	if err != nil {
		return op, err
	}
	hash := q.Get("hash")
	if hash == "" {
		return op, errNoHash
	}
	if !hmac.Equal([]byte(signInitData(q, botToken)), []byte(hash)) {
		return op, errBadHash
	}
	if maxAge > 0 {
		ts, err := strconv.ParseInt(q.Get("auth_date"), 10, 64)
		if err != nil || now.Sub(time.Unix(ts, 0)) > maxAge {
			return op, errStaleInput
		}
	}
	user := q.Get("user")
	if user == "" {
		return op, errNoUser
	}
	if err := json.Unmarshal([]byte(user), &op); err != nil {
		return op, err
	}
	return op, nil
}

// signInitData: HMAC-SHA256 отсортированных пар key=value (кроме hash)
// на ключе HMAC("WebAppData", токен бота).
func signInitData(q url.Values, botToken string) string {
	pairs := make([]string, 0, len(q))
	for k, v := range q {
		if k != "hash" {
			pairs = append(pairs, k+"="+v[0])
		}
	}
	sort.Strings(pairs)

	key := hmac.New(sha256.New, []byte("WebAppData"))
	key.Write([]byte(botToken))
	h := hmac.New(sha256.New, key.Sum(nil))
	h.Write([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
