package kvstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clock *fakeClock) Store {
			s := NewMemoryStore()
			s.now = clock.Now
			return s
		},
		"bolt": func(t *testing.T, clock *fakeClock) Store {
			s, err := OpenBolt(filepath.Join(t.TempDir(), "data", "store.db"), time.Second)
			require.NoError(t, err)
			s.now = clock.Now
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store, clock *fakeClock)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
			fn(t, factory(t, clock), clock)
		})
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()

		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), got)

		ok, err := s.Exists(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.Set(ctx, "a", []byte("2"), 0))
		got, _ = s.Get(ctx, "a")
		assert.Equal(t, []byte("2"), got)

		require.NoError(t, s.Delete(ctx, "a", "never-existed"))
		ok, err = s.Exists(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_TTL(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *fakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "short", []byte("v"), time.Minute))
		require.NoError(t, s.Set(ctx, "forever", []byte("v"), 0))

		clock.Advance(59 * time.Second)
		_, err := s.Get(ctx, "short")
		require.NoError(t, err)

		clock.Advance(time.Second)
		_, err = s.Get(ctx, "short")
		assert.ErrorIs(t, err, ErrNotFound)

		clock.Advance(24 * time.Hour)
		_, err = s.Get(ctx, "forever")
		assert.NoError(t, err)
	})
}

func TestStore_Sets(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()

		members, err := s.SetMembers(ctx, "ids")
		require.NoError(t, err)
		assert.Empty(t, members)

		require.NoError(t, s.SetAdd(ctx, "ids", "b", "a"))
		require.NoError(t, s.SetAdd(ctx, "ids", "a"))
		require.NoError(t, s.SetAdd(ctx, "ids-other", "z"))

		members, err = s.SetMembers(ctx, "ids")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, members)

		require.NoError(t, s.SetRemove(ctx, "ids", "a"))
		members, _ = s.SetMembers(ctx, "ids")
		assert.Equal(t, []string{"b"}, members)

		require.NoError(t, s.Delete(ctx, "ids"))
		members, _ = s.SetMembers(ctx, "ids")
		assert.Empty(t, members)

		members, _ = s.SetMembers(ctx, "ids-other")
		assert.Equal(t, []string{"z"}, members)
	})
}

func TestStore_DeletePattern(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "response:cb1:v1:aaa", []byte("x"), 0))
		require.NoError(t, s.Set(ctx, "response:cb1:v2:bbb", []byte("x"), 0))
		require.NoError(t, s.Set(ctx, "response:cb2:v1:aaa", []byte("x"), 0))
		require.NoError(t, s.SetAdd(ctx, "response:cb1:index", "m"))

		n, err := s.DeletePattern(ctx, "response:cb1:*")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		ok, _ := s.Exists(ctx, "response:cb1:v1:aaa")
		assert.False(t, ok)
		ok, _ = s.Exists(ctx, "response:cb2:v1:aaa")
		assert.True(t, ok)
		members, _ := s.SetMembers(ctx, "response:cb1:index")
		assert.Empty(t, members)
	})
}

func TestStore_CancelledContext(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, _ *fakeClock) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, s.Set(ctx, "k", []byte("v"), 0), context.Canceled)
		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	s, err := OpenBolt(path, time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "codebase:1", []byte("{}"), 0))
	require.NoError(t, s.SetAdd(ctx, "codebases:all", "1"))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path, time.Second)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Get(ctx, "codebase:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), got)
	members, err := s.SetMembers(ctx, "codebases:all")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, members)
}

func TestBoltStore_LockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenBolt(path, time.Second)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = OpenBolt(path, 50*time.Millisecond)
	assert.Error(t, err)
}
