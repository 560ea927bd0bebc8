package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns "<unix-ms>-<8 hex chars>".
func NewID(now time.Time) string {
	suffix, _, _ := strings.Cut(uuid.NewString(), "-")
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}
