package memoria

import (
	"time"

	"github.com/google/uuid"
)

// NewCorrelationID generates a globally unique, time-sortable UUIDv7
// (RFC 9562), used to tie together the log lines, spans, and telemetry
// emitted by a single store or retrieve call.
func NewCorrelationID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
