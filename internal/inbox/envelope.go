// Package inbox keeps transactions received over the air until the device
// is back online and can broadcast them.
package inbox

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Separator joins signature and transaction in a payload.
const Separator = "|||"

// Envelope is the decoded form of a transferred payload.
type Envelope struct {
	Signature string
	Tx        string
}

// BuildEnvelope returns the payload a Sender transfers for tx signed with sig.
func BuildEnvelope(sig, tx string) []byte {
	if sig == "" {
		return []byte(tx)
	}
	return []byte(sig + Separator + tx)
}

// ParseEnvelope splits payload at its last separator. A payload without one
// is taken as a bare transaction.
func ParseEnvelope(payload []byte) Envelope {
	s := string(payload)
	i := strings.LastIndex(s, Separator)
	if i < 0 {
		return Envelope{Tx: s}
	}
	return Envelope{Signature: s[:i], Tx: s[i+len(Separator):]}
}

// Status of a stored transaction.
type Status string

const (
	StatusPending   Status = "pending"   // waiting for connectivity
	StatusBroadcast Status = "broadcast" // handed to the network
)

// Record is one received transaction.
type Record struct {
	ID         uuid.UUID `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Signature  string    `json:"signature,omitempty"`
	Tx         string    `json:"tx"`
	Size       int       `json:"size"`
	Status     Status    `json:"status"`
}

// NewRecord wraps a received payload as a pending record.
func NewRecord(payload []byte, now time.Time) Record {
	env := ParseEnvelope(payload)
	return Record{
		ID:         uuid.New(),
		ReceivedAt: now,
		Signature:  env.Signature,
		Tx:         env.Tx,
		Size:       len(payload),
		Status:     StatusPending,
	}
}
