package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smmswarm/internal/config"
	smmerrors "smmswarm/internal/errors"
)

func sample() *Session {
	return &Session{
		ID:              "session-1",
		UserID:          "alice",
		AgentType:       "content",
		TaskDescription: "posts for a bakery",
		Mode:            "text",
		Answers:         map[string]any{"audience": "students"},
		QuestionsAsked:  2,
		CreatedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, smmerrors.ErrUnknownSession)

	s := sample()
	require.NoError(t, store.Put(ctx, s))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "posts for a bakery", got.TaskDescription)
	assert.Equal(t, 2, got.QuestionsAsked)
	assert.Equal(t, "students", got.Answers["audience"])
	assert.True(t, got.CreatedAt.Equal(s.CreatedAt))

	got.Answers["tone"] = "playful"
	again, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.NotContains(t, again.Answers, "tone", "stored state changes only through Put")

	again.Summary = "bakery in Kazan"
	again.Facts = map[string]any{"geo": "Kazan"}
	again.Remember("user", "hi", 10)
	require.NoError(t, store.Put(ctx, again))
	memo, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "bakery in Kazan", memo.Summary)
	assert.Equal(t, "Kazan", memo.Facts["geo"])
	assert.Equal(t, []Turn{{Role: "user", Text: "hi"}}, memo.History)

	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, smmerrors.ErrUnknownSession)
}

func TestRememberKeepsLatestTurns(t *testing.T) {
	s := sample()
	for _, text := range []string{"a", "b", "c", "d"} {
		s.Remember("user", text, 3)
	}
	assert.Equal(t, []Turn{{"user", "b"}, {"user", "c"}, {"user", "d"}}, s.History)

	clone := s.Clone()
	clone.History[0].Text = "changed"
	assert.Equal(t, "b", s.History[0].Text)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Minute))
}

func TestMemoryStoreExpires(t *testing.T) {
	store := NewMemoryStore(20 * time.Millisecond)
	require.NoError(t, store.Put(context.Background(), sample()))
	time.Sleep(40 * time.Millisecond)
	_, err := store.Get(context.Background(), "session-1")
	assert.ErrorIs(t, err, smmerrors.ErrUnknownSession)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, "", time.Hour)
	exerciseStore(t, store)

	require.NoError(t, store.Put(context.Background(), sample()))
	assert.True(t, mr.Exists(defaultKeyPrefix+"session-1"))
	assert.Equal(t, time.Hour, mr.TTL(defaultKeyPrefix+"session-1"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(context.Background(), "session-1")
	assert.ErrorIs(t, err, smmerrors.ErrUnknownSession)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := NewStore(ctx, config.SessionConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore(ctx, config.SessionConfig{Backend: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)

	_, err = NewStore(ctx, config.SessionConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestLockerSerializesSameID(t *testing.T) {
	locker := NewLocker()
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("s1")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak)
	assert.Zero(t, locker.Held())
}

func TestLockerIndependentIDs(t *testing.T) {
	locker := NewLocker()
	unlockA := locker.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := locker.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
