package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RefundFunc settles an orphaned reservation during a sweep. It receives the
// reservation ID and must be safe to call for already-settled reservations.
type RefundFunc func(ctx context.Context, reservationID string) error

// Store tracks live sessions and sweeps abandoned ones.
//
// The sweep snapshots candidates under the store lock, then settles refunds
// outside it, so the store lock and the ledger's account locks are never held
// together.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl            time.Duration
	completedGrace time.Duration
	sweepInterval  time.Duration
	refund         RefundFunc
}

// Config holds the store's timing knobs.
type Config struct {
	TTL            time.Duration // idle time before a non-terminal session is abandoned
	CompletedGrace time.Duration // how long terminal sessions stay queryable
	SweepInterval  time.Duration
}

// NewStore creates a session store. refund is called for each abandoned
// session whose reservation is still held.
func NewStore(cfg Config, refund RefundFunc) *Store {
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.CompletedGrace == 0 {
		cfg.CompletedGrace = 10 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Store{
		sessions:       make(map[string]*Session),
		ttl:            cfg.TTL,
		completedGrace: cfg.CompletedGrace,
		sweepInterval:  cfg.SweepInterval,
		refund:         refund,
	}
}

// Create registers a new session in state created and returns its key.
func (s *Store) Create(accountID, reservationID string, cost int64, meta Meta) (*Session, error) {
	key, err := newKey()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		Key:            key,
		AccountID:      accountID,
		ReservationID:  reservationID,
		Cost:           cost,
		Meta:           meta,
		State:          StateCreated,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	s.mu.Lock()
	s.sessions[key] = sess
	s.mu.Unlock()

	return s.snapshot(sess), nil
}

// Get returns a copy of the session for key.
func (s *Store) Get(key string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.snapshotLocked(sess), nil
}

// Transition moves the session to a new state, enforcing the state graph.
// reason is recorded for failures.
func (s *Store) Transition(key string, to State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return ErrNotFound
	}
	if !canTransition(sess.State, to) {
		return ErrInvalidTransition
	}

	sess.State = to
	sess.LastAccessedAt = time.Now()
	if to == StateFailed {
		sess.FailureReason = reason
	}
	if to.Terminal() {
		sess.SettledAt = time.Now()
	}
	return nil
}

// Touch refreshes the session's last-access time and relay counters.
func (s *Store) Touch(key string, chunks int, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return
	}
	sess.LastAccessedAt = time.Now()
	sess.ChunksRelayed += chunks
	sess.BytesRelayed += bytes
}

// Count returns live session totals by state.
func (s *Store) Count() map[State]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[State]int)
	for _, sess := range s.sessions {
		counts[sess.State]++
	}
	return counts
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, time.Now())
		}
	}
}

// Sweep fails and refunds sessions idle past the TTL, retries refunds that
// previously failed, and drops settled terminal sessions past the grace
// period. Returns the number of refunds issued.
func (s *Store) Sweep(ctx context.Context, now time.Time) int {
	type orphan struct {
		key           string
		reservationID string
	}

	idleCutoff := now.Add(-s.ttl)
	graceCutoff := now.Add(-s.completedGrace)

	s.mu.Lock()
	var orphans []orphan
	for key, sess := range s.sessions {
		switch {
		case sess.State.Terminal():
			// A pending refund pins the session: it is retried every pass
			// and never evicted until the refund lands.
			if sess.RefundPending {
				orphans = append(orphans, orphan{key: key, reservationID: sess.ReservationID})
			} else if sess.SettledAt.Before(graceCutoff) {
				delete(s.sessions, key)
			}
		case sess.LastAccessedAt.Before(idleCutoff):
			sess.State = StateFailed
			sess.FailureReason = "abandoned"
			sess.SettledAt = now
			sess.RefundPending = true
			orphans = append(orphans, orphan{key: key, reservationID: sess.ReservationID})
		}
	}
	s.mu.Unlock()

	refunded := 0
	for _, o := range orphans {
		if err := s.refund(ctx, o.reservationID); err != nil {
			log.Error().Err(err).
				Str("session_key", o.key).
				Str("reservation_id", o.reservationID).
				Msg("session: sweep refund failed")
			continue
		}
		refunded++
		s.clearRefundPending(o.key)
		log.Info().
			Str("session_key", o.key).
			Str("reservation_id", o.reservationID).
			Msg("session: abandoned session refunded")
	}
	return refunded
}

func (s *Store) clearRefundPending(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		sess.RefundPending = false
	}
}

func (s *Store) snapshot(sess *Session) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(sess)
}

func (s *Store) snapshotLocked(sess *Session) *Session {
	cp := *sess
	return &cp
}
