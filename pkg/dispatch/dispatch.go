// Package dispatch routes player commands to their handlers. Fast
// handlers are registered at startup; admin commands (anything starting
// with "@") go to a dedicated admin handler and never reach the
// interpreter; everything else falls through to the slow-path
// interpreter adapter.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
)

// CommandError is the error half of a failed command result.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is what every handler returns, success or not. Handlers report
// failures as values here; an error escaping a handler is an
// infrastructure problem and becomes processing_error at the dispatcher
// boundary.
type Result struct {
	Success         bool           `json:"success"`
	StateChanges    map[string]any `json:"state_changes,omitempty"`
	MessageToPlayer string         `json:"message_to_player,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Error           *CommandError  `json:"error,omitempty"`
}

// Fail builds a failed result with an on-wire error code.
func Fail(code, message string) *Result {
	return &Result{
		Success:         false,
		MessageToPlayer: message,
		Error:           &CommandError{Code: code, Message: message},
	}
}

// OK builds a successful result with a player-facing message.
func OK(message string) *Result {
	return &Result{Success: true, MessageToPlayer: message}
}

// Request carries one command through the dispatcher. Args is the full
// action payload as received; Action is its "action" field.
type Request struct {
	Experience string
	UserID     string
	Admin      bool
	Action     string
	Args       map[string]any
}

// StringArg reads a string field from the payload, empty when absent or
// not a string.
func (r *Request) StringArg(key string) string {
	s, _ := r.Args[key].(string)
	return s
}

// Handler processes one command. A non-nil error means the handler hit
// infrastructure trouble, not a player-facing failure.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) (*Result, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}

// Dispatcher holds the fast-handler registry plus the admin and
// interpreter routes. The registry is built during startup and
// read-only afterwards.
type Dispatcher struct {
	registry map[string]Handler
	admin    Handler
	interp   Handler
}

// New builds a dispatcher. admin handles every "@"-prefixed action;
// interp is the slow-path fallback for unregistered actions.
func New(admin, interp Handler) *Dispatcher {
	return &Dispatcher{
		registry: make(map[string]Handler),
		admin:    admin,
		interp:   interp,
	}
}

// Register binds an action name to a fast handler. Not safe for use
// after Dispatch traffic has started.
func (d *Dispatcher) Register(action string, h Handler) {
	d.registry[action] = h
}

// Actions returns the registered fast-handler action names.
func (d *Dispatcher) Actions() []string {
	names := make([]string, 0, len(d.registry))
	for name := range d.registry {
		names = append(names, name)
	}
	return names
}

// Dispatch routes a request and normalizes the outcome into a Result.
// Errors escaping a handler are logged and mapped to processing_error;
// nothing propagates past this boundary.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Result {
	if req.Action == "" {
		return Fail("missing_action", "action is required")
	}

	var (
		h    Handler
		path string
	)
	switch {
	case strings.HasPrefix(req.Action, "@"):
		h, path = d.admin, "admin"
	default:
		if reg, ok := d.registry[req.Action]; ok {
			h, path = reg, "fast"
		} else {
			h, path = d.interp, "interpreter"
		}
	}

	res, err := h.Handle(ctx, req)
	if err != nil {
		slog.Error("Command handler failed",
			"action", req.Action,
			"path", path,
			"user_id", req.UserID,
			"experience", req.Experience,
			"error", err)
		return Fail("processing_error", "internal error processing command")
	}
	if res == nil {
		slog.Error("Command handler returned no result",
			"action", req.Action, "path", path)
		return Fail("processing_error", "internal error processing command")
	}
	return res
}
