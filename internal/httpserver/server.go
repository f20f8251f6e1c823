// Package httpserver exposes the transport over HTTP: a liveness probe,
// the bind status, and a message submission endpoint.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/tmunro/smppgate/internal/auth"
	"github.com/tmunro/smppgate/internal/config"
	"github.com/tmunro/smppgate/internal/logging"
	"github.com/tmunro/smppgate/internal/message"
	"github.com/tmunro/smppgate/internal/smpp"
)

// Transport is the slice of the SMPP transport the API serves.
type Transport interface {
	Submit(ctx context.Context, msg *message.Message) ([]int32, error)
	Status() smpp.TransportStatus
}

var _ Transport = (*smpp.Transport)(nil)

// Server implements the HTTP status and submission API.
type Server struct {
	config     config.HTTPConfig
	transport  Transport
	httpServer *http.Server
	stopOnce   sync.Once
}

// NewServer creates a new HTTP server instance.
func NewServer(cfg config.HTTPConfig, transport Transport) *Server {
	if transport == nil {
		panic("Transport cannot be nil for HTTP server")
	}
	return &Server{
		config:    cfg,
		transport: transport,
	}
}

// ListenAndServe starts the HTTP server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	if s.httpServer != nil {
		return errors.New("http server already started")
	}

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn), // Use slog for server errors
	}

	slog.Info("Starting status API server", slog.String("address", s.config.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Status API ListenAndServe error", slog.Any("error", err))
		return err
	}
	slog.Info("Status API server stopped.")
	return nil
}

func (s *Server) router() *gin.Engine {
	router := gin.Default() // Includes basic middleware (logger, recovery)

	router.GET("/healthz", s.handleHealthz)
	router.GET("/status", s.handleStatus)
	router.POST("/messages", s.authMiddleware(), s.handleSubmitMessage)

	return router
}

// authMiddleware guards the submission endpoint with the configured API
// key. An empty hash disables the check.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.APIKeyHash == "" {
			c.Next()
			return
		}

		secret := c.GetHeader("X-API-Key")
		if secret == "" {
			if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
				secret = strings.TrimPrefix(h, "Bearer ")
			}
		}
		if secret == "" || !auth.CheckAPIKey(secret, s.config.APIKeyHash) {
			slog.WarnContext(c.Request.Context(), "HTTP auth failed: missing or invalid API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.InfoContext(ctx, "Shutdown requested for status API server...")
	var err error
	s.stopOnce.Do(func() {
		if s.httpServer != nil {
			// Disable keep-alives before shutting down
			s.httpServer.SetKeepAlivesEnabled(false)
			err = s.httpServer.Shutdown(ctx)
			s.httpServer = nil
		}
	})
	return err
}

// --- HTTP Handlers ---

// handleHealthz is liveness only. A reconnecting transport is still a
// healthy process; the supervisor owns the link, so an unbound session
// must not get the process restarted.
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus reports the transport's view of the SMPP session.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.transport.Status())
}

// Define the expected JSON request body structure
type submitMessageRequest struct {
	To            string            `json:"to" binding:"required,max=20"`
	From          string            `json:"from" binding:"max=20"`
	Content       string            `json:"content"`
	TransportType string            `json:"transport_type" binding:"omitempty,oneof=sms ussd"`
	SessionEvent  string            `json:"session_event" binding:"omitempty,oneof=new resume close"`
	Metadata      map[string]string `json:"metadata"`
}

type submitMessageResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Segments  int    `json:"segments"`
}

// handleSubmitMessage handles POST /messages. The 202 means the message
// went out on the wire; the final outcome arrives later through the
// transport's Handler once the SMSC responds.
func (s *Server) handleSubmitMessage(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "SubmitMessage")

	var req submitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(logCtx, "Rejected malformed submit request", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := message.New(req.To, req.From, req.Content)
	if req.TransportType != "" {
		msg.TransportType = req.TransportType
	}
	msg.SessionEvent = req.SessionEvent
	msg.Metadata = req.Metadata

	seqs, err := s.transport.Submit(logCtx, msg)
	if err != nil {
		switch {
		case errors.Is(err, smpp.ErrNotBound):
			slog.WarnContext(logCtx, "Submit refused: session not bound")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session not bound"})
		case strings.Contains(err.Error(), "encode submit"):
			// The message itself could not be turned into PDUs.
			slog.WarnContext(logCtx, "Submit refused: unencodable message", slog.Any("error", err))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			slog.ErrorContext(logCtx, "Submit failed", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "submit failed"})
		}
		return
	}

	slog.InfoContext(logCtx, "HTTP message accepted",
		slog.String("msg_id", msg.MessageID),
		slog.Int("segments", len(seqs)))
	c.JSON(http.StatusAccepted, submitMessageResponse{
		Status:    "accepted",
		MessageID: msg.MessageID,
		Segments:  len(seqs),
	})
}
