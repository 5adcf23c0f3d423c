// Session tracking for paid analysis streams.
//
// DESIGN: A session ties one reservation to one streaming analysis. The state
// graph is created -> streaming -> {completed, failed}; terminal states never
// transition again. Keys are unguessable: 32 random bytes, hex encoded.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle position of a session.
type State string

const (
	StateCreated   State = "created"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ErrInvalidTransition is returned when a state change violates the graph.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// ErrNotFound is returned when no session exists for a key.
var ErrNotFound = errors.New("session: not found")

// Meta describes the submitted analysis content. The snippet is held so the
// stream endpoint can open the upstream call after the session was created.
type Meta struct {
	Snippet   string
	Language  string
	SizeBytes int
}

// Session is one tracked analysis stream.
type Session struct {
	Key           string
	AccountID     string
	ReservationID string
	Cost          int64

	Meta Meta

	State         State
	FailureReason string

	// RefundPending marks a swept session whose refund has not landed yet.
	// The sweep keeps retrying it and never evicts it while set.
	RefundPending bool

	ChunksRelayed int
	BytesRelayed  int64

	CreatedAt      time.Time
	LastAccessedAt time.Time
	SettledAt      time.Time
}

// validNext enumerates the state graph.
var validNext = map[State][]State{
	StateCreated:   {StateStreaming, StateFailed},
	StateStreaming: {StateCompleted, StateFailed},
}

func canTransition(from, to State) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// newKey returns 32 random bytes, hex encoded.
func newKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: key generation: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
