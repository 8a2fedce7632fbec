// Package registry is the single source of truth for room state.
// Callers never touch the store directly for rooms; every mutation goes
// through here and is serialized per room identifier.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/codehuddle/backend/internal/db"
)

type Registry struct {
	store *db.Database

	mu    sync.Mutex
	rooms map[string]*roomEntry
}

// roomEntry serializes mutations for one room identifier. A room is the
// unit of isolation; there is no cross-room locking.
type roomEntry struct {
	mu       sync.Mutex
	lastUsed time.Time
}

func New(store *db.Database) *Registry {
	return &Registry{
		store: store,
		rooms: make(map[string]*roomEntry),
	}
}

func (r *Registry) entry(roomID string) *roomEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rooms[roomID]
	if !ok {
		e = &roomEntry{}
		r.rooms[roomID] = e
	}
	e.lastUsed = time.Now()
	return e
}

// Join creates the room on first sight and adds userName to its member
// set. Rejoining is a membership no-op. Returns the full room state so
// the caller can hydrate the new session.
func (r *Registry) Join(ctx context.Context, roomID, userName string) (*db.Room, error) {
	e := r.entry(roomID)
	e.mu.Lock()
	defer e.mu.Unlock()

	return r.store.JoinRoom(ctx, roomID, userName)
}

// SetLanguage updates the selected language on an existing room.
// Returns found=false (a no-op, not an error) if the room is absent.
func (r *Registry) SetLanguage(ctx context.Context, roomID, language string) (*db.Room, bool, error) {
	e := r.entry(roomID)
	e.mu.Lock()
	defer e.mu.Unlock()

	found, err := r.store.SetRoomLanguage(ctx, roomID, language)
	if err != nil || !found {
		return nil, false, err
	}
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	return room, true, nil
}

// SetCode updates the shared buffer on an existing room. Same
// no-op-on-absent policy as SetLanguage.
func (r *Registry) SetCode(ctx context.Context, roomID, code string) (*db.Room, bool, error) {
	e := r.entry(roomID)
	e.mu.Lock()
	defer e.mu.Unlock()

	found, err := r.store.SetRoomCode(ctx, roomID, code)
	if err != nil || !found {
		return nil, false, err
	}
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	return room, true, nil
}

// RemoveUser removes userName from the room's member set. The room
// itself persists, possibly empty. Returns the updated room and
// found=false if the room never existed.
func (r *Registry) RemoveUser(ctx context.Context, roomID, userName string) (*db.Room, bool, error) {
	e := r.entry(roomID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := r.store.RemoveMember(ctx, roomID, userName); err != nil {
		return nil, false, err
	}
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	if room == nil {
		return nil, false, nil
	}
	return room, true, nil
}

// Get returns the current room state without mutating anything, or
// nil if the room does not exist.
func (r *Registry) Get(ctx context.Context, roomID string) (*db.Room, error) {
	return r.store.GetRoom(ctx, roomID)
}

// EntryCount reports how many per-room lock entries are currently held
// in memory. Used by the janitor and by tests.
func (r *Registry) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// evictIdle drops lock entries untouched since the cutoff. Durable room
// state is unaffected; the entry is recreated on the next mutation.
func (r *Registry) evictIdle(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.rooms {
		if e.lastUsed.After(cutoff) {
			continue
		}
		// Skip entries whose lock is held by an in-flight mutation.
		if !e.mu.TryLock() {
			continue
		}
		e.mu.Unlock()
		delete(r.rooms, id)
		evicted++
	}
	return evicted
}
