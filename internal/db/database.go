package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

// Room is the durable shared-session state. Users holds the display
// names of currently joined participants in join order.
type Room struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	Users     []string  `json:"users"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remark is one entry of a room's annotation log. Immutable after
// creation except for the Resolved flag.
type Remark struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserName  string    `json:"userName"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Line      int       `json:"line"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"createdAt"`
}

const DefaultLanguage = "javascript"

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'javascript',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id TEXT NOT NULL,
		user_name TEXT NOT NULL,
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_id, user_name),
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS remarks (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		user_name TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		line INTEGER NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_room_members_room_id ON room_members(room_id);
	CREATE INDEX IF NOT EXISTS idx_remarks_room_id ON remarks(room_id, created_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

// JoinRoom creates the room on first join and adds the user to its
// member set. Both statements are INSERT OR IGNORE, so rejoining is a
// no-op on membership and concurrent joins never clobber each other.
func (d *Database) JoinRoom(ctx context.Context, roomID, userName string) (*Room, error) {
	_, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (id, code, language) VALUES (?, '', ?)",
		roomID, DefaultLanguage,
	)
	if err != nil {
		return nil, fmt.Errorf("db: creating room %s: %w", roomID, err)
	}

	_, err = d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO room_members (room_id, user_name) VALUES (?, ?)",
		roomID, userName,
	)
	if err != nil {
		return nil, fmt.Errorf("db: adding member to room %s: %w", roomID, err)
	}

	if err := d.touchRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return d.GetRoom(ctx, roomID)
}

// GetRoom returns the room with its member list, or nil if it does not
// exist.
func (d *Database) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT id, code, language, created_at, updated_at FROM rooms WHERE id = ?",
		roomID,
	)

	var room Room
	err := row.Scan(&room.ID, &room.Code, &room.Language, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: getting room %s: %w", roomID, err)
	}

	room.Users, err = d.roomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) roomMembers(ctx context.Context, roomID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT user_name FROM room_members WHERE room_id = ? ORDER BY joined_at, user_name",
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("db: listing members of room %s: %w", roomID, err)
	}
	defer rows.Close()

	users := make([]string, 0, 4)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		users = append(users, name)
	}
	return users, rows.Err()
}

// SetRoomCode overwrites the shared buffer, latest writer wins.
// Returns false if the room does not exist.
func (d *Database) SetRoomCode(ctx context.Context, roomID, code string) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		"UPDATE rooms SET code = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		code, roomID,
	)
	if err != nil {
		return false, fmt.Errorf("db: setting code for room %s: %w", roomID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetRoomLanguage overwrites the selected language, latest writer wins.
// Returns false if the room does not exist.
func (d *Database) SetRoomLanguage(ctx context.Context, roomID, language string) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		"UPDATE rooms SET language = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		language, roomID,
	)
	if err != nil {
		return false, fmt.Errorf("db: setting language for room %s: %w", roomID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveMember removes one user from a room's member set. A single
// DELETE, so concurrent removals cannot lose updates. Rooms are never
// deleted on empty — they persist so a rejoin sees the prior state.
func (d *Database) RemoveMember(ctx context.Context, roomID, userName string) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM room_members WHERE room_id = ? AND user_name = ?",
		roomID, userName,
	)
	if err != nil {
		return fmt.Errorf("db: removing member from room %s: %w", roomID, err)
	}
	return nil
}

func (d *Database) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, code, language, created_at, updated_at FROM rooms ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("db: listing rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Code, &room.Language, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (d *Database) touchRoom(ctx context.Context, roomID string) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		roomID,
	)
	return err
}

// Remark operations

// CreateRemark appends one remark to a room's annotation log. The
// caller assigns ID and CreatedAt so the persisted values match what is
// echoed back to connections.
func (d *Database) CreateRemark(ctx context.Context, remark *Remark) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO remarks (id, room_id, user_name, role, text, line, resolved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		remark.ID, remark.RoomID, remark.UserName, remark.Role,
		remark.Text, remark.Line, remark.Resolved, remark.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("db: creating remark for room %s: %w", remark.RoomID, err)
	}
	return nil
}

// ListRemarks returns a room's annotation log in creation order.
func (d *Database) ListRemarks(ctx context.Context, roomID string) ([]Remark, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, room_id, user_name, role, text, line, resolved, created_at
		 FROM remarks WHERE room_id = ? ORDER BY created_at, id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("db: listing remarks for room %s: %w", roomID, err)
	}
	defer rows.Close()

	remarks := make([]Remark, 0, 8)
	for rows.Next() {
		var r Remark
		if err := rows.Scan(&r.ID, &r.RoomID, &r.UserName, &r.Role, &r.Text, &r.Line, &r.Resolved, &r.CreatedAt); err != nil {
			return nil, err
		}
		remarks = append(remarks, r)
	}
	return remarks, rows.Err()
}

// ResolveRemark flips the resolved flag. Everything else on a remark is
// immutable. Returns false if no remark has that ID.
func (d *Database) ResolveRemark(ctx context.Context, id string, resolved bool) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		"UPDATE remarks SET resolved = ? WHERE id = ?",
		resolved, id,
	)
	if err != nil {
		return false, fmt.Errorf("db: resolving remark %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats

func (d *Database) GetStats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)

	var roomCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	var remarkCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM remarks").Scan(&remarkCount); err != nil {
		return nil, err
	}
	stats["remark_count"] = remarkCount

	return stats, nil
}
