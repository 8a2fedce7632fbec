package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/rs/xid"

	"github.com/codehuddle/backend/internal/db"
	"github.com/codehuddle/backend/internal/registry"
)

// Outcome tags what happened to an inbound event. Denied and NotFound
// are silent on the wire, but kept distinguishable so the behavior is
// intentional rather than a fallthrough.
type Outcome int

const (
	// Applied: state mutated and the resulting update fanned out.
	Applied Outcome = iota
	// Denied: the session's role does not permit the event.
	Denied
	// NotFound: the event targets no existing room, or the session is
	// not joined to one.
	NotFound
	// Malformed: the envelope or payload could not be decoded, or the
	// event name is unknown.
	Malformed
	// Failed: the store rejected the mutation; the sender got an
	// errorNotice and nothing was broadcast.
	Failed
)

// Router dispatches session events: it validates the sender's role,
// mutates the registry (and remark log), and fans the canonical result
// out to the room. Broadcasts happen only after the store write has
// been acknowledged.
type Router struct {
	hub      *Hub
	registry *registry.Registry
	store    *db.Database
}

func NewRouter(hub *Hub, reg *registry.Registry, store *db.Database) *Router {
	return &Router{
		hub:      hub,
		registry: reg,
		store:    store,
	}
}

func (rt *Router) Dispatch(c *Client, raw []byte) Outcome {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Malformed
	}

	ctx := context.Background()

	switch env.Event {
	case EventJoin:
		return rt.handleJoin(ctx, c, env.Data)
	case EventLanguageChange:
		return rt.handleLanguageChange(ctx, c, env.Data)
	case EventCodeChange:
		return rt.handleCodeChange(ctx, c, env.Data)
	case EventRemarkAdd:
		return rt.handleRemarkAdd(ctx, c, env.Data)
	case EventLeaveRoom:
		return rt.handleExit(ctx, c)
	default:
		return Malformed
	}
}

// HandleDisconnect runs the exit cleanup for a dropped connection. Safe
// to call on an unjoined session.
func (rt *Router) HandleDisconnect(c *Client) {
	rt.handleExit(context.Background(), c)
}

func (rt *Router) handleJoin(ctx context.Context, c *Client, data json.RawMessage) Outcome {
	var payload JoinPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		return Malformed
	}

	// Joining while joined elsewhere leaves the prior room first; a
	// session holds exactly one room at a time.
	if c.roomID != "" && c.roomID != payload.RoomID {
		rt.handleExit(ctx, c)
	}

	room, err := rt.registry.Join(ctx, payload.RoomID, c.identity.Name)
	if err != nil {
		return rt.fail(c, EventJoin, err)
	}

	c.roomID = room.ID
	rt.hub.Join(room.ID, c)

	// Membership goes to the whole room, joiner included. The joiner's
	// initial code/language paint is unicast so it never races a
	// concurrent broadcast of state it is about to be handed.
	rt.broadcast(room.ID, EventUserJoined, UserJoinedPayload{Users: room.Users}, nil)
	rt.unicast(c, EventCodeUpdate, CodeUpdatePayload{Code: room.Code})
	rt.unicast(c, EventLanguageUpdate, LanguageUpdatePayload{Language: room.Language})

	return Applied
}

func (rt *Router) handleLanguageChange(ctx context.Context, c *Client, data json.RawMessage) Outcome {
	if c.roomID == "" {
		return NotFound
	}
	if !c.identity.Role.CanEditCode() {
		return Denied
	}

	var payload LanguageChangePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Malformed
	}

	room, found, err := rt.registry.SetLanguage(ctx, c.roomID, payload.Language)
	if err != nil {
		return rt.fail(c, EventLanguageChange, err)
	}
	if !found {
		return NotFound
	}

	rt.broadcast(c.roomID, EventLanguageUpdate, LanguageUpdatePayload{Language: room.Language}, c)
	return Applied
}

func (rt *Router) handleCodeChange(ctx context.Context, c *Client, data json.RawMessage) Outcome {
	if c.roomID == "" {
		return NotFound
	}
	if !c.identity.Role.CanEditCode() {
		return Denied
	}

	var payload CodeChangePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Malformed
	}

	room, found, err := rt.registry.SetCode(ctx, c.roomID, payload.Code)
	if err != nil {
		return rt.fail(c, EventCodeChange, err)
	}
	if !found {
		return NotFound
	}

	rt.broadcast(c.roomID, EventCodeUpdate, CodeUpdatePayload{Code: room.Code}, c)
	return Applied
}

func (rt *Router) handleRemarkAdd(ctx context.Context, c *Client, data json.RawMessage) Outcome {
	if c.roomID == "" {
		return NotFound
	}
	if !c.identity.Role.CanAnnotate() {
		return Denied
	}

	var payload RemarkAddPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Malformed
	}

	remark := &db.Remark{
		ID:        xid.New().String(),
		RoomID:    c.roomID,
		UserName:  c.identity.Name,
		Role:      string(c.identity.Role),
		Text:      payload.Text,
		Line:      payload.Line,
		Resolved:  false,
		CreatedAt: time.Now().UTC(),
	}
	if err := rt.store.CreateRemark(ctx, remark); err != nil {
		return rt.fail(c, EventRemarkAdd, err)
	}

	// The author needs the server-assigned id and timestamp echoed
	// back, so this one includes the sender.
	rt.broadcast(c.roomID, EventRemarkUpdate, RemarkUpdatePayload{
		ID:        remark.ID,
		RoomID:    remark.RoomID,
		UserName:  remark.UserName,
		Role:      remark.Role,
		Text:      remark.Text,
		Line:      remark.Line,
		CreatedAt: remark.CreatedAt,
		Resolved:  remark.Resolved,
	}, nil)
	return Applied
}

// handleExit is the single leave/disconnect path: remove the user from
// the room, tell the remaining members, reset the session to unjoined.
// Idempotent for sessions that never joined or already left.
func (rt *Router) handleExit(ctx context.Context, c *Client) Outcome {
	if c.roomID == "" {
		return NotFound
	}
	roomID := c.roomID
	c.roomID = ""

	rt.hub.Leave(roomID, c)

	room, found, err := rt.registry.RemoveUser(ctx, roomID, c.identity.Name)
	if err != nil {
		log.Printf("Exit cleanup for %s in room %s: %v", c.identity.Name, roomID, err)
		return Failed
	}
	if !found {
		return NotFound
	}

	rt.broadcast(roomID, EventUserJoined, UserJoinedPayload{Users: room.Users}, nil)
	return Applied
}

func (rt *Router) broadcast(roomID, event string, payload any, exclude *Client) {
	data, err := encode(event, payload)
	if err != nil {
		log.Printf("Encoding %s broadcast: %v", event, err)
		return
	}
	rt.hub.Broadcast(roomID, data, exclude)
}

func (rt *Router) unicast(c *Client, event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		log.Printf("Encoding %s unicast: %v", event, err)
		return
	}
	if !c.enqueue(data) {
		c.shutdown()
	}
}

// fail reports a store failure to the originating connection only.
// Nothing is broadcast: members never see an update without a durable
// write behind it.
func (rt *Router) fail(c *Client, event string, err error) Outcome {
	log.Printf("Store error applying %s for %s: %v", event, c.identity.Name, err)
	rt.unicast(c, EventErrorNotice, ErrorNoticePayload{
		Message: "failed to apply " + event,
	})
	return Failed
}
