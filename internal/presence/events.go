package presence

import (
	"encoding/json"
	"time"
)

// Envelope is the frame exchanged on the socket in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound commands.
const (
	CmdJoin         = "template:join"
	CmdLeave        = "template:leave"
	CmdFetch        = "template:fetch"
	CmdEditingStart = "card:editing:start"
	CmdEditingEnd   = "card:editing:end"
)

// Outbound events.
const (
	EvtConnected    = "connected"
	EvtUsersList    = "users:list"
	EvtUserJoined   = "user:joined"
	EvtUserLeft     = "user:left"
	EvtFetch        = "template:fetch"
	EvtEditingStart = "card:editing:start"
	EvtEditingEnd   = "card:editing:end"
	EvtNotification = "notification"
	EvtError        = "error"
)

type TemplateRef struct {
	TemplateID string `json:"templateUuid"`
}

type EditingRef struct {
	TemplateID string `json:"templateUuid"`
	CardID     string `json:"cardUuid"`
}

// Member is the public view of a roster entry.
type Member struct {
	UserID        string    `json:"userId"`
	SocketID      string    `json:"socketId"`
	DisplayName   string    `json:"displayName"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	EditingCardID string    `json:"editingCardUuid,omitempty"`
	JoinedAt      time.Time `json:"joinedAt"`
}

type ConnectedEvent struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
}

type UsersListEvent struct {
	TemplateID string   `json:"templateUuid"`
	Users      []Member `json:"users"`
}

type UserJoinedEvent struct {
	TemplateID string `json:"templateUuid"`
	User       Member `json:"user"`
}

type UserLeftEvent struct {
	TemplateID string `json:"templateUuid"`
	UserID     string `json:"userId"`
	SocketID   string `json:"socketId"`
}

type FetchEvent struct {
	TemplateID string `json:"templateUuid"`
}

type EditingEvent struct {
	TemplateID  string `json:"templateUuid"`
	CardID      string `json:"cardUuid"`
	UserID      string `json:"userId"`
	SocketID    string `json:"socketId"`
	DisplayName string `json:"displayName"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(eventType string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: eventType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Data: raw}, nil
}
