// Package audit records every webhook delivery and outbound send as an
// append-only log row for postmortems and support escalations.
package audit

import (
	"time"
)

// Direction marks which way a logged message travelled.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// maxPayloadBytes bounds the stored raw payload. Larger bodies are kept
// truncated; the log is for diagnosis, not replay.
const maxPayloadBytes = 8 << 10

// Record is one webhook_logs row.
type Record struct {
	ID         int64
	EventID    string
	Phone      string
	Direction  Direction
	Kind       string
	Text       string
	RawPayload []byte
	Outcome    string
	CreatedAt  time.Time
}

func truncatePayload(raw []byte) []byte {
	if len(raw) <= maxPayloadBytes {
		return raw
	}
	return raw[:maxPayloadBytes]
}
