package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const suffixLength = 9

// NewID returns "{prefix}_{unix_ms}_{random}".
func NewID(prefix string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), RandomSuffix(suffixLength))
}

// RandomSuffix returns n lowercase hex characters (n <= 32).
func RandomSuffix(n int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(raw) {
		n = len(raw)
	}
	return raw[:n]
}
