package transport

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// Envelope is one logical action bound for the gateway. The correlation id is
// unique per attempt; the idempotency key, when present, persists across
// retries of the same logical write.
type Envelope struct {
	Action         string
	Payload        json.RawMessage
	CorrelationID  string
	IdempotencyKey string
	Metadata       map[string]string
	CreatedAt      time.Time
	RetryCount     int
}

// writeActions is the static allowlist of actions that produce backend side
// effects and therefore carry an idempotency key.
var writeActions = map[string]bool{
	"IMPORT_PRODUCT":          true,
	"IMPORT_BULK":             true,
	"AI_OPTIMIZE_TITLE":       true,
	"AI_OPTIMIZE_DESCRIPTION": true,
	"AI_OPTIMIZE_FULL":        true,
	"AI_GENERATE_SEO":         true,
	"AI_GENERATE_TAGS":        true,
	"SYNC_STOCK":              true,
	"SYNC_PRICE":              true,
}

// IsWriteAction reports whether the action is on the write allowlist.
func IsWriteAction(action string) bool {
	return writeActions[action]
}

// idempotencyKey derives a stable key from the action, the canonical payload
// serialization, and a coarse time bucket. The same logical write retried
// within one bucket reuses the key, letting the backend collapse duplicates.
func idempotencyKey(action string, payload json.RawMessage, bucket time.Duration, now time.Time) string {
	if bucket <= 0 {
		bucket = 5 * time.Minute
	}
	h := xxhash.New()
	_, _ = h.WriteString(action)
	_, _ = h.WriteString("|")
	_, _ = h.Write(payload)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(strconv.FormatInt(now.UnixNano()/int64(bucket), 10))
	return fmt.Sprintf("%s-%016x", action, h.Sum64())
}
