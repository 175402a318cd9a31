package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrSpeakerRequired = errors.New("speaker is required")
)

// Service encapsulates conversation state management.
type Service struct {
	store  Store
	logger *slog.Logger

	clockMu sync.Mutex
	last    time.Time
	now     func() time.Time

	lockMu sync.Mutex
	locks  map[string]*turnLock
}

// turnLock 用容量为 1 的通道充当互斥锁，等待时可以响应 ctx 取消。
type turnLock struct {
	ch   chan struct{}
	refs int
}

// NewService wraps a store. A nil store falls back to an in-memory store
// without expiry.
func NewService(store Store, logger *slog.Logger) *Service {
	if store == nil {
		store = NewMemoryStore(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*turnLock),
	}
}

// stamp returns a timestamp strictly after every previously issued one.
func (s *Service) stamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

// Append 追加一条消息；会话不存在时自动创建。
// 内容中的换行会被替换为空格，保证一条消息在历史中只占一行。
func (s *Service) Append(ctx context.Context, sessionID, speaker, content string) (chat.Message, error) {
	if sessionID == "" {
		return chat.Message{}, ErrSessionRequired
	}
	if speaker == "" {
		return chat.Message{}, ErrSpeakerRequired
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Speaker:   speaker,
		Content:   flatten(content),
		Timestamp: s.stamp(),
	}
	if err := s.store.Append(ctx, msg); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// Tail returns the last max messages in insertion order.
func (s *Service) Tail(ctx context.Context, sessionID string, max int) ([]chat.Message, error) {
	return s.store.Tail(ctx, sessionID, max)
}

// ReadTail 返回最近 max 条消息，格式为 "speaker: content" 按换行拼接。
// 未知会话返回空字符串且不报错，分支逻辑依赖“无历史即第一轮”。
func (s *Service) ReadTail(ctx context.Context, sessionID string, max int) (string, error) {
	messages, err := s.store.Tail(ctx, sessionID, max)
	if err != nil {
		return "", err
	}
	return chat.FormatHistory(messages), nil
}

// Preview 返回追加 speaker/content 之后 ReadTail 将看到的历史，但不写入。
// content 为空时等同于 ReadTail。
func (s *Service) Preview(ctx context.Context, sessionID, speaker, content string, max int) (string, error) {
	messages, err := s.store.Tail(ctx, sessionID, max)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return chat.FormatHistory(messages), nil
	}
	messages = append(messages, chat.Message{SessionID: sessionID, Speaker: speaker, Content: flatten(content)})
	if max > 0 && len(messages) > max {
		messages = messages[len(messages)-max:]
	}
	return chat.FormatHistory(messages), nil
}

// Close 显式结束会话并删除其历史。
func (s *Service) Close(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	return s.store.Delete(ctx, sessionID)
}

// Lock serialises turns for one session. The returned unlock func is safe
// to call more than once.
func (s *Service) Lock(ctx context.Context, sessionID string) (func(), error) {
	s.lockMu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &turnLock{ch: make(chan struct{}, 1)}
		s.locks[sessionID] = l
	}
	l.refs++
	s.lockMu.Unlock()

	select {
	case <-ctx.Done():
		s.releaseRef(sessionID, l)
		return nil, fmt.Errorf("acquire session %s: %w", sessionID, ctx.Err())
	case l.ch <- struct{}{}:
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			s.releaseRef(sessionID, l)
		})
	}, nil
}

func (s *Service) releaseRef(sessionID string, l *turnLock) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, sessionID)
	}
}

// RunJanitor periodically evicts expired sessions until ctx ends. Stores
// that expire on their own (Redis) make this a no-op.
func (s *Service) RunJanitor(ctx context.Context, every time.Duration) {
	sweeper, ok := s.store.(Sweeper)
	if !ok || every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if n := sweeper.Sweep(t); n > 0 {
				s.logger.Info("evicted idle sessions", "count", n)
			}
		}
	}
}

func flatten(content string) string {
	content = strings.ReplaceAll(content, "\r\n", " ")
	content = strings.ReplaceAll(content, "\n", " ")
	return strings.TrimSpace(content)
}
