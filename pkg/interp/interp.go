// Package interp is the slow-path adapter: commands the fast registry
// does not know are shipped to an external interpreter service, which
// answers with the same result shape the fast handlers produce. Inside
// the core it is just another handler; transport and latency are
// details of this package.
package interp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/waypointxr/waypoint/pkg/dispatch"
)

// DefaultTimeout bounds one interpreter round trip. Slow-path commands
// can legitimately take seconds; tens of seconds means something is
// wrong on the other side.
const DefaultTimeout = 30 * time.Second

// request is the JSON body posted to the interpreter.
type request struct {
	Experience string         `json:"experience"`
	UserID     string         `json:"user_id"`
	Action     string         `json:"action"`
	Data       map[string]any `json:"data,omitempty"`
}

// response mirrors the interpreter's result document.
type response struct {
	Success         bool           `json:"success"`
	StateChanges    map[string]any `json:"state_changes,omitempty"`
	MessageToPlayer string         `json:"message_to_player,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Error           *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// HTTPClient talks to the interpreter service over HTTP with a bearer
// token. It satisfies dispatch.Handler.
type HTTPClient struct {
	url     string
	bearer  string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPClient builds an interpreter client. A zero timeout means
// DefaultTimeout.
func NewHTTPClient(url, bearerToken string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		url:     url,
		bearer:  bearerToken,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Handle posts the command and maps the reply into a dispatch.Result.
// Interpreter-reported failures pass through unchanged; transport
// failures surface as errors for the dispatcher to normalize.
func (c *HTTPClient) Handle(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	body, err := json.Marshal(request{
		Experience: req.Experience,
		UserID:     req.UserID,
		Action:     req.Action,
		Data:       req.Args,
	})
	if err != nil {
		return nil, fmt.Errorf("encode interpreter request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build interpreter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("interpreter call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("interpreter returned %d: %s", resp.StatusCode, snippet)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode interpreter response: %w", err)
	}

	result := &dispatch.Result{
		Success:         out.Success,
		StateChanges:    out.StateChanges,
		MessageToPlayer: out.MessageToPlayer,
		Metadata:        out.Metadata,
	}
	if out.Error != nil {
		result.Error = &dispatch.CommandError{Code: out.Error.Code, Message: out.Error.Message}
	}
	return result, nil
}

// Unavailable is the stand-in used when no interpreter is configured.
// Unknown commands get a clean not_implemented instead of a timeout.
type Unavailable struct{}

func (Unavailable) Handle(_ context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	return dispatch.Fail("not_implemented",
		fmt.Sprintf("no handler for %q and no interpreter is configured", req.Action)), nil
}
