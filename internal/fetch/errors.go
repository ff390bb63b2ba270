package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"caliberscan/internal/models"
)

// ErrTooLarge is returned when a feed document exceeds the size cap.
var ErrTooLarge = errors.New("feed document exceeds size limit")

// StatusError is an HTTP response with a 4xx/5xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// ErrorCode maps a fetch failure onto the run error codes: timeouts become
// TIMEOUT_ERROR, everything else FETCH_ERROR. The substring checks catch
// transport libraries that wrap their timeouts in plain strings.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return models.ErrTimeout
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return models.ErrTimeout
	}
	return models.ErrFetch
}
