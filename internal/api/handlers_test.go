package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/xid"

	"github.com/codehuddle/backend/internal/auth"
	"github.com/codehuddle/backend/internal/db"
	"github.com/codehuddle/backend/internal/exec"
	"github.com/codehuddle/backend/internal/ws"
)

type fakeRunner struct {
	result *exec.Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, req exec.Request) (*exec.Result, error) {
	return f.result, f.err
}

func setupTestAPI(t *testing.T) (*API, *db.Database, *fakeRunner) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	verifier, err := auth.NewVerifier("test-secret-at-least-16-chars")
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	runner := &fakeRunner{}
	api := New(ws.NewHub(), database, runner, verifier)
	return api, database, runner
}

func bearer(t *testing.T, a *API, id auth.Identity) string {
	t.Helper()
	token, err := a.verifier.Issue(id, time.Minute)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthHandler(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	w := httptest.NewRecorder()
	api.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	api, database, _ := setupTestAPI(t)

	database.JoinRoom(context.Background(), "r1", "alice")

	w := httptest.NewRecorder()
	api.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/api/stats", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["total_rooms"] != float64(1) {
		t.Errorf("Expected total_rooms 1, got %v", response["total_rooms"])
	}
}

func TestGetRoomHandler(t *testing.T) {
	api, database, _ := setupTestAPI(t)

	database.JoinRoom(context.Background(), "r1", "alice")
	database.SetRoomCode(context.Background(), "r1", "print(1)")

	w := httptest.NewRecorder()
	api.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/api/rooms/r1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var room RoomResponse
	if err := json.NewDecoder(w.Body).Decode(&room); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if room.ID != "r1" || room.Code != "print(1)" {
		t.Errorf("Unexpected room response: %+v", room)
	}
	if len(room.Users) != 1 || room.Users[0] != "alice" {
		t.Errorf("Expected users [alice], got %v", room.Users)
	}

	// Unknown room
	w = httptest.NewRecorder()
	api.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/api/rooms/ghost", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestListRoomsHandler(t *testing.T) {
	api, database, _ := setupTestAPI(t)

	for _, id := range []string{"r1", "r2"} {
		database.JoinRoom(context.Background(), id, "alice")
	}

	w := httptest.NewRecorder()
	api.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/api/rooms", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Rooms []RoomResponse `json:"rooms"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Rooms) != 2 {
		t.Errorf("Expected 2 rooms, got %d", len(response.Rooms))
	}
}

func TestListRemarksHandler(t *testing.T) {
	api, database, _ := setupTestAPI(t)
	ctx := context.Background()

	database.JoinRoom(ctx, "r1", "bob")
	database.CreateRemark(ctx, &db.Remark{
		ID: xid.New().String(), RoomID: "r1", UserName: "bob", Role: "Tester",
		Text: "check this", Line: 3, CreatedAt: time.Now().UTC(),
	})

	w := httptest.NewRecorder()
	api.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/api/rooms/r1/remarks", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Remarks []db.Remark `json:"remarks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Remarks) != 1 || response.Remarks[0].Text != "check this" {
		t.Errorf("Unexpected remarks: %+v", response.Remarks)
	}
}

func TestResolveRemarkHandler(t *testing.T) {
	api, database, _ := setupTestAPI(t)
	ctx := context.Background()

	database.JoinRoom(ctx, "r1", "bob")
	remarkID := xid.New().String()
	database.CreateRemark(ctx, &db.Remark{
		ID: remarkID, RoomID: "r1", UserName: "bob", Role: "Tester",
		Text: "check this", Line: 3, CreatedAt: time.Now().UTC(),
	})

	// No token
	w := httptest.NewRecorder()
	api.Routes().ServeHTTP(w, httptest.NewRequest("POST", "/api/remarks/"+remarkID+"/resolve", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	// Wrong role
	w = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/remarks/"+remarkID+"/resolve", nil)
	req.Header.Set("Authorization", bearer(t, api, auth.Identity{Name: "alice", Role: auth.RoleDeveloper}))
	api.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for Developer, got %d", w.Code)
	}

	// Tester resolves
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/remarks/"+remarkID+"/resolve", nil)
	req.Header.Set("Authorization", bearer(t, api, auth.Identity{Name: "bob", Role: auth.RoleTester}))
	api.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	remarks, _ := database.ListRemarks(ctx, "r1")
	if !remarks[0].Resolved {
		t.Error("Remark should be resolved")
	}

	// Unknown remark
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/remarks/ghost/resolve", nil)
	req.Header.Set("Authorization", bearer(t, api, auth.Identity{Name: "bob", Role: auth.RoleTester}))
	api.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown remark, got %d", w.Code)
	}
}

func TestExecuteHandler(t *testing.T) {
	api, _, runner := setupTestAPI(t)
	authHeader := bearer(t, api, auth.Identity{Name: "alice", Role: auth.RoleDeveloper})

	post := func(body any) *httptest.ResponseRecorder {
		data, _ := json.Marshal(body)
		req := httptest.NewRequest("POST", "/api/execute", bytes.NewReader(data))
		req.Header.Set("Authorization", authHeader)
		w := httptest.NewRecorder()
		api.Routes().ServeHTTP(w, req)
		return w
	}

	// Success
	runner.result = &exec.Result{Stdout: "hello\n", Status: "Accepted"}
	w := post(ExecuteRequest{Language: "python", Code: "print('hello')"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var result exec.Result
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result.Stdout != "hello\n" {
		t.Errorf("Expected stdout 'hello\\n', got %q", result.Stdout)
	}

	// Missing code
	w = post(ExecuteRequest{Language: "python"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty code, got %d", w.Code)
	}

	// Unknown language maps to 400
	runner.result = nil
	runner.err = exec.ErrUnknownLanguage
	w = post(ExecuteRequest{Language: "cobol", Code: "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown language, got %d", w.Code)
	}

	// Service failure maps to 502 and carries the service's message
	runner.err = errors.New("exec: service rejected submission: 429 Too Many Requests")
	w = post(ExecuteRequest{Language: "python", Code: "x"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 for service failure, got %d", w.Code)
	}

	// No token
	data, _ := json.Marshal(ExecuteRequest{Language: "python", Code: "x"})
	req := httptest.NewRequest("POST", "/api/execute", bytes.NewReader(data))
	w = httptest.NewRecorder()
	api.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}
