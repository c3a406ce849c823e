// Package ws pushes realtime events to connected chat clients over
// websockets and mirrors presence into Redis.
package ws

import "encoding/json"

// Event types pushed to clients.
const (
	EventOnlineUsers     = "ONLINE_USERS"
	EventUserStatus      = "USER_STATUS"
	EventNewMessage      = "NEW_MESSAGE"
	EventMessageRead     = "MESSAGE_READ"
	EventMessageRecalled = "MESSAGE_RECALLED"
)

// Event is the wire envelope for every websocket push.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

// StatusPayload announces a user going online or offline.
type StatusPayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// OnlinePayload is the snapshot sent right after a client connects.
type OnlinePayload struct {
	UserIDs []string `json:"userIds"`
}
