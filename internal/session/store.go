// Package session implements the Redis-backed Session/SessionState store
// and the per-session coarse lock spec §5 requires for linearizable
// handleTurn/onPaymentEvent mutation, generalizing
// examples/travel-chat-agent/session.go from a flat chat history into the
// full domain.Session/SessionState shape.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
	"github.com/itsneelabh/gomind/core"
)

// Store provides Redis-based session management, isolated on
// core.RedisDBSessions the same way the teacher's chat-agent example does.
type Store struct {
	client      *core.RedisClient
	ttl         time.Duration
	maxMessages int
	logger      core.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewStore creates a Redis-backed Store under the "travel:sessions"
// namespace, keeping the framework's DB-isolation convention.
func NewStore(redisURL string, ttl time.Duration, maxMessages int, logger core.Logger) (*Store, error) {
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  redisURL,
		DB:        core.RedisDBSessions,
		Namespace: "travel:sessions",
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client for sessions: %w", err)
	}

	return &Store{
		client:      client,
		ttl:         ttl,
		maxMessages: maxMessages,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// Lock returns the mutex guarding sessionID's state, creating it on first
// use. Callers must hold it for the duration of handleTurn or
// onPaymentEvent (spec §5 Per-session serialization).
func (s *Store) Lock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	m, ok := s.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[sessionID] = m
	}
	return m
}

// Create starts a new Session in GREETING.
func (s *Store) Create(ctx context.Context, userID string) (*domain.Session, error) {
	sess := &domain.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Messages:  make([]domain.Message, 0),
		State:     domain.SessionState{Status: domain.StatusGreeting, Intent: domain.IntentUnknown},
	}

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a Session by id, returning travelerrors.ErrSessionNotFound if
// absent or expired.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionID)
	if err != nil {
		return nil, travelerrors.New("session.Get", travelerrors.KindInvalidInput, travelerrors.ErrSessionNotFound).WithID(sessionID)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Save persists sess, trimming its message history to the configured
// sliding window (spec §5 shared-resource rule: mutation only under the
// per-session lock — callers are expected to hold Lock(sess.ID)).
func (s *Store) Save(ctx context.Context, sess *domain.Session) error {
	if len(sess.Messages) > s.maxMessages {
		sess.Messages = sess.Messages[len(sess.Messages)-s.maxMessages:]
	}
	sess.UpdatedAt = time.Now()
	return s.save(ctx, sess)
}

// AppendMessage appends msg to sess's history and persists it.
func (s *Store) AppendMessage(ctx context.Context, sess *domain.Session, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	sess.Messages = append(sess.Messages, msg)
	return s.Save(ctx, sess)
}

func (s *Store) save(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Terminal sessions (a bound policy, or explicitly abandoned) are kept
	// without expiry per spec §3 Session lifecycle ("never deleted").
	ttl := s.ttl
	if sess.Terminal {
		ttl = 0
	}

	if err := s.client.Set(ctx, sess.ID, string(data), ttl); err != nil {
		return fmt.Errorf("failed to save session to Redis: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
