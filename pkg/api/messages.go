package api

import "github.com/waypointxr/waypoint/pkg/dispatch"

// Client message types.
const (
	TypePing           = "ping"
	TypeUpdateLocation = "update_location"
	TypeAction         = "action"
)

// Server message types.
const (
	TypeConnected      = "connected"
	TypePong           = "pong"
	TypeActionResponse = "action_response"
	TypeError          = "error"
)

// ClientMessage is the envelope every inbound message must fit. Raw
// keeps the full payload for action-specific fields.
type ClientMessage struct {
	Type   string   `json:"type"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
	Action string   `json:"action,omitempty"`

	raw map[string]any
}

// ConnectedMessage is the welcome sent right after authentication.
type ConnectedMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	Experience   string `json:"experience"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type string `json:"type"`
}

// ActionResponse wraps a dispatcher result for the wire.
type ActionResponse struct {
	Type            string                 `json:"type"`
	Success         bool                   `json:"success"`
	MessageToPlayer string                 `json:"message_to_player,omitempty"`
	StateChanges    map[string]any         `json:"state_changes,omitempty"`
	Metadata        map[string]any         `json:"metadata,omitempty"`
	Error           *dispatch.CommandError `json:"error,omitempty"`
}

func newActionResponse(res *dispatch.Result) ActionResponse {
	return ActionResponse{
		Type:            TypeActionResponse,
		Success:         res.Success,
		MessageToPlayer: res.MessageToPlayer,
		StateChanges:    res.StateChanges,
		Metadata:        res.Metadata,
		Error:           res.Error,
	}
}

// ErrorMessage reports a per-message failure without tearing the
// connection down.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorMessage(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}
