package chat

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
)

// Store 是会话消息的存储后端。实现必须保证同一会话内按追加顺序返回。
type Store interface {
	Append(ctx context.Context, msg chat.Message) error
	// Tail returns up to n most recent messages in insertion order; an
	// unknown or expired session yields an empty slice and no error.
	Tail(ctx context.Context, sessionID string, n int) ([]chat.Message, error)
	Delete(ctx context.Context, sessionID string) error
}

// Sweeper is implemented by stores that need periodic eviction.
type Sweeper interface {
	Sweep(now time.Time) int
}

type memorySession struct {
	messages   []chat.Message
	lastActive time.Time
}

// MemoryStore 是进程内存储，会话在最后一次追加后闲置超过 ttl 即过期。
// 过期会话对读取不可见，由 Sweep 回收。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore creates a store; ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) expired(sess *memorySession, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.lastActive) > s.ttl
}

// Append adds a message, starting a fresh session if the old one expired.
func (s *MemoryStore) Append(_ context.Context, msg chat.Message) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[msg.SessionID]
	if !ok || s.expired(sess, now) {
		sess = &memorySession{messages: make([]chat.Message, 0, 16)}
		s.sessions[msg.SessionID] = sess
	}
	sess.messages = append(sess.messages, msg)
	sess.lastActive = now
	return nil
}

// Tail returns a copy of the last n messages.
func (s *MemoryStore) Tail(_ context.Context, sessionID string, n int) ([]chat.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || s.expired(sess, s.now()) {
		return nil, nil
	}

	start := len(sess.messages) - n
	if start < 0 {
		start = 0
	}
	copied := make([]chat.Message, len(sess.messages)-start)
	copy(copied, sess.messages[start:])
	return copied, nil
}

// Delete drops a session; deleting an unknown session is a no-op.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Sweep removes expired sessions and reports how many were dropped.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)
