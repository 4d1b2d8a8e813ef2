// Package api exposes the HTTP surface: the /ws/experience WebSocket
// endpoint players connect to, and a health probe.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/waypointxr/waypoint/pkg/auth"
	"github.com/waypointxr/waypoint/pkg/version"
)

// Authenticator resolves connect-time tokens. Satisfied by
// auth.Verifier.
type Authenticator interface {
	Authenticate(token string) (auth.Identity, error)
}

// Server wires the echo router over the connection manager.
type Server struct {
	echo        *echo.Echo
	httpServer  *http.Server
	verifier    Authenticator
	connManager *ConnectionManager
}

// NewServer builds the HTTP server and registers its routes.
func NewServer(verifier Authenticator, connManager *ConnectionManager) *Server {
	e := echo.New()
	s := &Server{
		echo:        e,
		verifier:    verifier,
		connManager: connManager,
	}
	e.GET("/health", s.healthHandler)
	e.GET("/ws/experience", s.wsHandler)
	return s
}

// Start listens on addr and serves until Shutdown. Blocks.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"version":     version.Full(),
		"connections": s.connManager.ActiveConnections(),
	})
}

// wsHandler upgrades to WebSocket and authenticates. The socket is
// accepted first so auth failures can close with 1008 as clients
// expect, instead of failing the HTTP upgrade.
func (s *Server) wsHandler(c *echo.Context) error {
	token := c.QueryParam("token")
	experience := c.QueryParam("experience")

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin allowlisting is handled at the edge proxy
	})
	if err != nil {
		return err
	}

	if experience == "" {
		conn.Close(websocket.StatusPolicyViolation, "experience is required")
		return nil
	}
	identity, err := s.verifier.Authenticate(token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			conn.Close(websocket.StatusPolicyViolation, "unauthenticated")
			return nil
		}
		conn.Close(websocket.StatusInternalError, "authentication unavailable")
		return nil
	}

	// Blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn, identity, experience)
	return nil
}
