package chat_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/evacsim/backend/internal/model/chat"
	chat "github.com/zhouzirui/evacsim/backend/internal/service/chat"
)

func TestReadTailUnknownSessionIsEmpty(t *testing.T) {
	svc := chat.NewService(nil, nil)

	for _, id := range []string{"never_seen", "bob_session", ""} {
		history, err := svc.ReadTail(context.Background(), id, 11)
		require.NoError(t, err)
		assert.Equal(t, "", history)
	}
}

func TestReadTailReturnsLastNInOrder(t *testing.T) {
	svc := chat.NewService(nil, nil)
	ctx := context.Background()

	for i := 1; i <= 15; i++ {
		_, err := svc.Append(ctx, "s1", "Operator", fmt.Sprintf("line %d", i))
		require.NoError(t, err)
	}

	history, err := svc.ReadTail(ctx, "s1", 11)
	require.NoError(t, err)

	lines := strings.Split(history, "\n")
	require.Len(t, lines, 11)
	assert.Equal(t, "Operator: line 5", lines[0])
	assert.Equal(t, "Operator: line 15", lines[10])

	again, err := svc.ReadTail(ctx, "s1", 11)
	require.NoError(t, err)
	assert.Equal(t, history, again, "reads must not mutate state")

	all, err := svc.ReadTail(ctx, "s1", 100)
	require.NoError(t, err)
	assert.Equal(t, 15, model.CountLines(all))
}

func TestTwoTurnsForBobSession(t *testing.T) {
	svc := chat.NewService(nil, nil)
	ctx := context.Background()
	id := model.InteractiveSessionID("bob")

	_, err := svc.Append(ctx, id, "Operator", "Hello, this is the Fire Department.")
	require.NoError(t, err)
	_, err = svc.Append(ctx, id, "bob", "Yeah, who's this?")
	require.NoError(t, err)

	history, err := svc.ReadTail(ctx, id, 11)
	require.NoError(t, err)
	assert.Equal(t, "Operator: Hello, this is the Fire Department.\nbob: Yeah, who's this?", history)
	assert.Equal(t, 2, model.CountLines(history))
}

func TestAppendStampsStrictlyIncreasingTimestamps(t *testing.T) {
	svc := chat.NewService(nil, nil)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := svc.Append(ctx, "s", "bob", "ok")
		require.NoError(t, err)
	}

	msgs, err := svc.Tail(ctx, "s", 50)
	require.NoError(t, err)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].Timestamp.After(msgs[i-1].Timestamp))
	}
}

func TestAppendFlattensNewlines(t *testing.T) {
	svc := chat.NewService(nil, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, "s", "bob", "first\nsecond\r\nthird\n")
	require.NoError(t, err)

	history, err := svc.ReadTail(ctx, "s", 5)
	require.NoError(t, err)
	assert.Equal(t, "bob: first second third", history)
}

func TestAppendValidation(t *testing.T) {
	svc := chat.NewService(nil, nil)

	_, err := svc.Append(context.Background(), "", "bob", "hi")
	assert.ErrorIs(t, err, chat.ErrSessionRequired)

	_, err = svc.Append(context.Background(), "s", "", "hi")
	assert.ErrorIs(t, err, chat.ErrSpeakerRequired)
}

func TestCloseDropsHistory(t *testing.T) {
	svc := chat.NewService(nil, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, "s", "bob", "hi")
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, "s"))

	history, err := svc.ReadTail(ctx, "s", 5)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLockSerialisesSameSession(t *testing.T) {
	svc := chat.NewService(nil, nil)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := svc.Lock(ctx, "bob_session")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestLockHonoursCancellation(t *testing.T) {
	svc := chat.NewService(nil, nil)

	unlock, err := svc.Lock(context.Background(), "s")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = svc.Lock(ctx, "s")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := svc.Lock(context.Background(), "other")
	require.NoError(t, err, "different sessions do not block each other")
	other()
	other()
}

func TestPreviewDoesNotWrite(t *testing.T) {
	svc := chat.NewService(nil, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := svc.Append(ctx, "p", "Operator", fmt.Sprintf("line %d", i))
		require.NoError(t, err)
	}

	preview, err := svc.Preview(ctx, "p", "Operator", "next\nline", 3)
	require.NoError(t, err)
	assert.Equal(t, "Operator: line 2\nOperator: line 3\nOperator: next line", preview)

	history, err := svc.ReadTail(ctx, "p", 3)
	require.NoError(t, err)
	assert.Equal(t, "Operator: line 1\nOperator: line 2\nOperator: line 3", history)

	blank, err := svc.Preview(ctx, "p", "Operator", "  ", 3)
	require.NoError(t, err)
	assert.Equal(t, history, blank)
}
