package execution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrCancelled исполнение прервано флагом отмены
	ErrCancelled = errors.New("исполнение отменено")
	// ErrBundleFailed релей сообщил Failed
	ErrBundleFailed = errors.New("бандл не прошел")
	// ErrConfirmTimeout статус не стал терминальным за отведенные попытки
	ErrConfirmTimeout = errors.New("бандл не подтвержден за отведенное время")
	// ErrDeadline истек срок контекста цикла
	ErrDeadline = errors.New("истекло время исполнения")
)

// HTTPError ответ внешнего сервиса с неуспешным кодом
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// MalformedQuoteError котировка не разбирается или неполна
type MalformedQuoteError struct {
	Message string
}

func (e *MalformedQuoteError) Error() string {
	return "некорректная котировка: " + e.Message
}

// FatalVenueError ошибка площадки, которую нельзя повторять
type FatalVenueError struct {
	Stage string
	Err   error
}

func (e *FatalVenueError) Error() string {
	return fmt.Sprintf("фатальная ошибка площадки на этапе %s: %v", e.Stage, e.Err)
}

func (e *FatalVenueError) Unwrap() error { return e.Err }

// transientBodyMarkers подстроки тела ответа 400, после которых повтор имеет смысл
var transientBodyMarkers = []string{
	"rate limit",
	"rate-limit",
	"too many",
	"try again",
	"temporarily",
	"capacity",
	"congest",
	"busy",
	"timeout",
	"timed out",
	"overloaded",
}

// Retryable определяет, стоит ли повторять вызов после ошибки
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrDeadline) || errors.Is(err, context.Canceled) {
		return false
	}

	var fatal *FatalVenueError
	if errors.As(err, &fatal) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return true
		case httpErr.StatusCode == http.StatusBadRequest:
			return transientBody(httpErr.Body)
		case httpErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	// таймауты, сетевые ошибки и некорректные ответы считаются временными
	return true
}

// RateLimited возвращает true для ответа 429
func RateLimited(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests
}

func transientBody(body string) bool {
	b := strings.ToLower(body)
	for _, m := range transientBodyMarkers {
		if strings.Contains(b, m) {
			return true
		}
	}
	return false
}
