package ws

import (
	"encoding/json"
	"time"
)

// Wire protocol. Every frame is a JSON envelope {event, data}; field
// names below are part of the contract with clients.

// Inbound events
const (
	EventJoin           = "join"
	EventLanguageChange = "languageChange"
	EventCodeChange     = "codeChange"
	EventRemarkAdd      = "remark:add"
	EventLeaveRoom      = "leaveRoom"
)

// Outbound events
const (
	EventUserJoined     = "userJoined"
	EventCodeUpdate     = "codeUpdate"
	EventLanguageUpdate = "languageUpdate"
	EventRemarkUpdate   = "remark:update"
	EventErrorNotice    = "errorNotice"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinPayload struct {
	RoomID string `json:"roomId"`
	// userName and role fields sent by older clients are ignored; the
	// session identity comes from the verified connection token.
}

type LanguageChangePayload struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type CodeChangePayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type RemarkAddPayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
	Line   int    `json:"line"`
}

type UserJoinedPayload struct {
	Users []string `json:"users"`
}

type CodeUpdatePayload struct {
	Code string `json:"code"`
}

type LanguageUpdatePayload struct {
	Language string `json:"language"`
}

type RemarkUpdatePayload struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserName  string    `json:"userName"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Line      int       `json:"line"`
	CreatedAt time.Time `json:"createdAt"`
	Resolved  bool      `json:"resolved"`
}

type ErrorNoticePayload struct {
	Message string `json:"message"`
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
