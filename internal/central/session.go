package central

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/host"
)

// Session is one logical connection to the host BLE stack.
type Session struct {
	id        string
	restoreID string
	stack     host.Stack
	createdAt time.Time

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// ID returns the unique instance id of this session.
func (s *Session) ID() string { return s.id }

// RestoreID returns the identifier shared by all sessions of one holder.
func (s *Session) RestoreID() string { return s.restoreID }

// Stack returns the host stack behind this session.
func (s *Session) Stack() host.Stack { return s.stack }

// CreatedAt returns when the session was built.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Close closes the host stack once. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.stack.Close()
	})
	return s.closeErr
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

// SessionHolder owns the current adapter session and replaces it atomically.
// Components look the session up per operation instead of keeping it.
type SessionHolder struct {
	factory   host.Factory
	restoreID string
	logger    *logrus.Logger

	replaceMu sync.Mutex
	current   atomic.Pointer[Session]
}

// NewSessionHolder builds the initial session.
func NewSessionHolder(factory host.Factory, restoreID string, logger *logrus.Logger) (*SessionHolder, error) {
	if factory == nil {
		return nil, fmt.Errorf("session factory is nil")
	}
	if logger == nil {
		logger = logrus.New()
	}

	h := &SessionHolder{
		factory:   factory,
		restoreID: restoreID,
		logger:    logger,
	}

	s, err := h.build()
	if err != nil {
		return nil, err
	}
	h.current.Store(s)
	return h, nil
}

// Current returns the live session.
func (h *SessionHolder) Current() *Session {
	return h.current.Load()
}

// Replace discards the current session and builds a new one carrying the same
// restore identifier. The previous session is closed before the new stack is
// created: some adapters (a linux HCI socket) allow a single open device.
//
// If building fails, the closed previous session stays current, so every
// operation fails until Replace succeeds. previous is returned in both cases.
func (h *SessionHolder) Replace() (previous, current *Session, err error) {
	h.replaceMu.Lock()
	defer h.replaceMu.Unlock()

	previous = h.current.Load()
	if previous != nil {
		if err := previous.Close(); err != nil {
			h.logger.WithError(err).WithField("session", previous.id).Warn("Failed to close previous adapter session")
		}
	}

	s, err := h.build()
	if err != nil {
		return previous, nil, err
	}
	h.current.Store(s)

	fields := logrus.Fields{
		"restore_id": h.restoreID,
		"session":    s.id,
	}
	if previous != nil {
		fields["previous_session"] = previous.id
	}
	h.logger.WithFields(fields).Info("Adapter session replaced")

	return previous, s, nil
}

func (h *SessionHolder) build() (*Session, error) {
	stack, err := h.factory(host.SessionOptions{
		RestoreID: h.restoreID,
		Logger:    h.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter session: %w", err)
	}

	s := &Session{
		id:        ulid.Make().String(),
		restoreID: h.restoreID,
		stack:     stack,
		createdAt: time.Now(),
	}
	h.logger.WithFields(logrus.Fields{
		"restore_id": h.restoreID,
		"session":    s.id,
	}).Debug("Adapter session created")
	return s, nil
}
