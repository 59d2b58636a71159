package job

import (
	"encoding/json"
	"time"
)

// Job records a reindex run that exhausted its retries. Payload is the
// original task so a retry can republish it verbatim.
type Job struct {
	ID        string          `json:"id"`
	SourceTag string          `json:"source_tag"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
