package biometric

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkyc/internal/platform/logger"
	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
)

func event(id domain.SessionID, at time.Time) Event {
	return Event{
		SessionID:  id,
		Type:       EventBlink,
		CapturedAt: at,
		Payload:    map[string]any{"count": 1},
	}
}

func TestLoggerRejectsNonIncreasingTimestamps(t *testing.T) {
	l := NewLogger(NewInMemoryStore(), 16, time.Second, logger.New("error"), nil)
	id := domain.NewSessionID()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.Log(context.Background(), event(id, base)))
	require.NoError(t, l.Log(context.Background(), event(id, base.Add(time.Second))))

	err := l.Log(context.Background(), event(id, base.Add(time.Second)))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	err = l.Log(context.Background(), event(id, base))
	require.Error(t, err)
}

func TestLoggerOrderingIsPerSession(t *testing.T) {
	l := NewLogger(NewInMemoryStore(), 16, time.Second, logger.New("error"), nil)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	a, b := domain.NewSessionID(), domain.NewSessionID()
	require.NoError(t, l.Log(context.Background(), event(a, base.Add(time.Minute))))
	// An earlier timestamp on a different session is fine.
	require.NoError(t, l.Log(context.Background(), event(b, base)))
}

func TestLoggerDropsOldestWhenFull(t *testing.T) {
	l := NewLogger(NewInMemoryStore(), 4, time.Second, logger.New("error"), nil)
	id := domain.NewSessionID()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		require.NoError(t, l.Log(context.Background(), event(id, base.Add(time.Duration(i)*time.Second))))
	}

	assert.Equal(t, int64(2), l.Dropped())
	assert.Equal(t, 4, l.buffer.len())
}

func TestLoggerFlushesToStore(t *testing.T) {
	store := NewInMemoryStore()
	l := NewLogger(store, 64, time.Second, logger.New("error"), nil)
	id := domain.NewSessionID()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		e := event(id, base.Add(time.Duration(i)*time.Second))
		e.Payload = map[string]any{"seq": fmt.Sprint(i)}
		require.NoError(t, l.Log(context.Background(), e))
	}

	l.flush(context.Background())

	got, err := store.BySession(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].CapturedAt.After(got[i-1].CapturedAt))
	}
}

type flakyStore struct {
	*InMemoryStore
	failures int
	appends  int
}

func (s *flakyStore) Append(ctx context.Context, events []Event) error {
	s.appends++
	if s.appends <= s.failures {
		return errors.New("sink unavailable")
	}
	return s.InMemoryStore.Append(ctx, events)
}

func TestLoggerRetainsBatchWhenStoreUnavailable(t *testing.T) {
	store := &flakyStore{InMemoryStore: NewInMemoryStore(), failures: 1}
	l := NewLogger(store, 64, time.Second, logger.New("error"), nil)
	id := domain.NewSessionID()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Log(context.Background(), event(id, base.Add(time.Duration(i)*time.Second))))
	}

	// The first flush fails; nothing is lost and nothing counts as dropped.
	l.flush(context.Background())
	assert.Equal(t, int64(0), l.Dropped())
	assert.Equal(t, 5, l.buffer.len())

	l.flush(context.Background())
	got, err := store.BySession(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].CapturedAt.After(got[i-1].CapturedAt))
	}
}

func TestLoggerForgetSessionResetsWatermark(t *testing.T) {
	l := NewLogger(NewInMemoryStore(), 16, time.Second, logger.New("error"), nil)
	id := domain.NewSessionID()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.Log(context.Background(), event(id, base.Add(time.Hour))))
	l.ForgetSession(id)
	require.NoError(t, l.Log(context.Background(), event(id, base)))
}
