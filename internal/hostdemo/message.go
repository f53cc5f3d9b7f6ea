// Package hostdemo is a reference Ops implementation for swim.Context: an
// in-memory member store plus a UDP transport (one net.UDPConn, JSON
// framing, a single receive goroutine).
package hostdemo

import (
	"time"

	"github.com/google/uuid"

	"github.com/orbitmesh/swim"
)

func msDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// wireUpdate is the JSON-serializable form of swim.Update; the engine's
// Update.Delay is a time.Duration (int64 nanoseconds), sent as milliseconds
// on the wire so the format stays stable across platforms with different
// monotonic-clock resolutions.
type wireUpdate struct {
	ID          uint64 `json:"id"`
	Status      int    `json:"status"`
	Incarnation uint64 `json:"incarnation"`
	DelayMS     int64  `json:"delay_ms"`
}

// message is the single wire envelope for every protocol exchange: direct
// probes, indirect-probe forward requests, and replies all use it,
// distinguished by Type.
type message struct {
	Type string       `json:"type"` // "request" or "reply"
	ID   string       `json:"id"`   // uuid, echoed on reply for correlation
	From uint64       `json:"from"`
	To   uint64       `json:"to"`
	Upds []wireUpdate `json:"upds,omitempty"`

	// Reply-only fields.
	OK   bool   `json:"ok,omitempty"`
	RC   string `json:"rc,omitempty"`
}

func newMessageID() string { return uuid.NewString() }

func toWire(upds []swim.Update) []wireUpdate {
	out := make([]wireUpdate, len(upds))
	for i, u := range upds {
		out[i] = wireUpdate{
			ID:          uint64(u.ID),
			Status:      int(u.Status),
			Incarnation: uint64(u.Incarnation),
			DelayMS:     u.Delay.Milliseconds(),
		}
	}
	return out
}

func fromWire(upds []wireUpdate) []swim.Update {
	out := make([]swim.Update, len(upds))
	for i, u := range upds {
		out[i] = swim.Update{
			ID:          swim.MemberID(u.ID),
			Status:      swim.Status(u.Status),
			Incarnation: swim.Incarnation(u.Incarnation),
			Delay:       msDuration(u.DelayMS),
		}
	}
	return out
}
