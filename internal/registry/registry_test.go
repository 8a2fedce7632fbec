package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codehuddle/backend/internal/db"
)

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		database.Close()
		os.RemoveAll(tmpDir)
	})

	return New(database)
}

func TestJoinCreatesRoomWithDefaults(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	room, err := reg.Join(ctx, "r1", "alice")
	require.NoError(t, err)
	require.NotNil(t, room)

	assert.Equal(t, "", room.Code)
	assert.Equal(t, db.DefaultLanguage, room.Language)
	assert.Equal(t, []string{"alice"}, room.Users)
}

func TestJoinIsIdempotentOnMembership(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Join(ctx, "r1", "alice")
	require.NoError(t, err)
	room, err := reg.Join(ctx, "r1", "alice")
	require.NoError(t, err)

	assert.Equal(t, []string{"alice"}, room.Users)
}

func TestSetCodeAndLanguage(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Join(ctx, "r1", "alice")
	require.NoError(t, err)

	room, found, err := reg.SetCode(ctx, "r1", "print(1)")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "print(1)", room.Code)

	room, found, err = reg.SetLanguage(ctx, "r1", "python")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "python", room.Language)
}

func TestMutationsOnAbsentRoomAreNoOps(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	_, found, err := reg.SetCode(ctx, "ghost", "x")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = reg.SetLanguage(ctx, "ghost", "python")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = reg.RemoveUser(ctx, "ghost", "alice")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemoveUserKeepsRoom(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Join(ctx, "r1", "alice")
	require.NoError(t, err)
	_, _, err = reg.SetCode(ctx, "r1", "print(1)")
	require.NoError(t, err)

	room, found, err := reg.RemoveUser(ctx, "r1", "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, room.Users)
	assert.Equal(t, "print(1)", room.Code)

	// Rejoin sees the prior state
	room, err = reg.Join(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", room.Code)
}

func TestConcurrentMembershipNeverLosesUpdates(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := reg.Join(ctx, "r1", name)
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	room, err := reg.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, room.Users, len(names))

	for _, name := range names[:4] {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, _, err := reg.RemoveUser(ctx, "r1", name)
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	room, err = reg.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, room.Users, 4)
}

func TestEvictIdleDropsOnlyStaleEntries(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Join(ctx, "stale", "alice")
	require.NoError(t, err)

	// Backdate the entry so the sweep sees it as idle
	reg.mu.Lock()
	reg.rooms["stale"].lastUsed = time.Now().Add(-time.Hour)
	reg.mu.Unlock()

	_, err = reg.Join(ctx, "fresh", "bob")
	require.NoError(t, err)

	evicted := reg.evictIdle(time.Now().Add(-30 * time.Minute))
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, reg.EntryCount())

	// Durable state is untouched by eviction
	room, err := reg.Get(ctx, "stale")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, []string{"alice"}, room.Users)
}

func TestEvictSkipsHeldLocks(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Join(ctx, "busy", "alice")
	require.NoError(t, err)

	reg.mu.Lock()
	e := reg.rooms["busy"]
	e.lastUsed = time.Now().Add(-time.Hour)
	reg.mu.Unlock()

	e.mu.Lock()
	evicted := reg.evictIdle(time.Now())
	e.mu.Unlock()

	assert.Equal(t, 0, evicted)
	assert.Equal(t, 1, reg.EntryCount())
}

func TestJanitorStartStop(t *testing.T) {
	reg := setupTestRegistry(t)

	j := NewJanitor(reg, JanitorConfig{Interval: 10 * time.Millisecond, IdleAfter: time.Hour})
	j.Start()
	time.Sleep(30 * time.Millisecond)
	j.Stop()
}
