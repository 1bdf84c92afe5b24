package webcore

import (
	"github.com/google/uuid"
)

// newCorrelationID returns a fresh UUIDv4 string, used to tag a
// websocket client for external log correlation.
func newCorrelationID() string {
	return uuid.NewString()
}
