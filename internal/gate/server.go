package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/bus"
	"github.com/fyrsmithlabs/sentineld/internal/completion"
	"github.com/fyrsmithlabs/sentineld/internal/config"
	"github.com/fyrsmithlabs/sentineld/internal/history"
	"github.com/fyrsmithlabs/sentineld/internal/supervisor"
	"github.com/fyrsmithlabs/sentineld/internal/task"
)

const maxBodyBytes = 1 << 20

// Analyzer accepts thinking chunks for classification. The scheduler
// satisfies it.
type Analyzer interface {
	AnalyzeThinking(chunk supervisor.Chunk, contextData map[string]string) ([]supervisor.Result, error)
}

// Deps are the collaborators wired into the HTTP boundary. Gate is required;
// everything else degrades to a 503 on its endpoints when absent.
type Deps struct {
	Gate     *Gate
	Tasks    *task.List
	Detector *completion.Detector
	Analyzer Analyzer
	History  *history.Log
	Events   *bus.Bus
	Gatherer prometheus.Gatherer
}

// Server exposes the gate and the supervision ingest endpoints on loopback.
type Server struct {
	echo     *echo.Echo
	deps     Deps
	cfg      config.GateConfig
	logger   *zap.Logger
	listener net.Listener
}

// NewServer creates the HTTP boundary.
func NewServer(cfg config.GateConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(corsMiddleware)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	s.registerRoutes()

	return s, nil
}

// corsMiddleware answers preflight requests with 200 and stamps CORS headers
// on everything else. The server is loopback-only, so the open origin is for
// local tooling, not the public internet.
func corsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set(echo.HeaderAccessControlAllowOrigin, "*")
		h.Set(echo.HeaderAccessControlAllowMethods, "GET, POST, DELETE, OPTIONS")
		h.Set(echo.HeaderAccessControlAllowHeaders, "Content-Type")
		if c.Request().Method == http.MethodOptions {
			return c.NoContent(http.StatusOK)
		}
		return next(c)
	}
}

func (s *Server) registerRoutes() {
	s.echo.POST("/api/check-stop", s.handleCheckStop)
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.POST("/api/bypass", s.handleBypass)

	s.echo.POST("/api/thinking", s.handleThinking)
	s.echo.POST("/api/output", s.handleOutput)
	s.echo.POST("/api/tasks", s.handleTasks)
	s.echo.GET("/api/history", s.handleHistory)
	s.echo.DELETE("/api/history", s.handleClearHistory)

	s.echo.GET("/api/events", s.handleEvents)

	if s.deps.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
}

// handleCheckStop evaluates one stop request. The body is optional free-form
// context; an unparseable body fails open with allow:true so a client-side
// serialization bug can never deadlock the supervised agent.
func (s *Server) handleCheckStop(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error": fmt.Sprintf("failed to read body: %v", err),
			"allow": true,
		})
	}
	if len(bytes.TrimSpace(body)) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			s.logger.Warn("malformed check-stop body, failing open", zap.Error(err))
			return c.JSON(http.StatusBadRequest, map[string]any{
				"error": fmt.Sprintf("invalid JSON body: %v", err),
				"allow": true,
			})
		}
	}

	return c.JSON(http.StatusOK, s.deps.Gate.CheckStop())
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Gate.Status())
}

func (s *Server) handleBypass(c echo.Context) error {
	s.deps.Gate.AllowNextStop()
	s.logger.Info("stop bypass armed")
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "next stop request will be allowed",
	})
}

// ThinkingRequest is the body for POST /api/thinking.
type ThinkingRequest struct {
	Content   string            `json:"content"`
	MessageID string            `json:"message_id,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// ThinkingResponse reports what happened to a submitted chunk. Queued chunks
// surface their results on the event stream instead.
type ThinkingResponse struct {
	Queued  bool                `json:"queued"`
	Results []supervisor.Result `json:"results,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (s *Server) handleThinking(c echo.Context) error {
	if s.deps.Analyzer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "analysis is not running")
	}

	var req ThinkingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	results, err := s.deps.Analyzer.AnalyzeThinking(supervisor.Chunk{
		Content:   req.Content,
		MessageID: req.MessageID,
	}, req.Context)

	resp := ThinkingResponse{
		Queued:  results == nil && err == nil,
		Results: results,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// OutputRequest is the body for POST /api/output.
type OutputRequest struct {
	Text string `json:"text"`
}

// OutputResponse lists the completions detected in an output fragment.
type OutputResponse struct {
	Matches  []completion.Match `json:"matches"`
	Progress int                `json:"progress"`
}

func (s *Server) handleOutput(c echo.Context) error {
	if s.deps.Detector == nil || s.deps.Tasks == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "completion detection is not running")
	}

	var req OutputRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	matches := s.deps.Detector.Detect(req.Text, s.deps.Tasks.Items())
	for _, m := range matches {
		completed := false
		if m.ItemID != "" {
			completed = s.deps.Tasks.Complete(m.ItemID)
		} else {
			completed = s.deps.Tasks.CompleteByName(m.ItemName)
		}
		if completed {
			s.logger.Info("task item completed",
				zap.String("item", m.ItemName),
				zap.String("match_type", string(m.Type)),
				zap.Float64("confidence", m.Confidence))
			s.deps.Events.Publish(bus.SubjectItemCompleted, m)
		}
	}

	if matches == nil {
		matches = []completion.Match{}
	}
	return c.JSON(http.StatusOK, OutputResponse{
		Matches:  matches,
		Progress: s.deps.Tasks.Progress(),
	})
}

// TasksRequest is the body for POST /api/tasks.
type TasksRequest struct {
	Items []task.Item `json:"items"`
}

func (s *Server) handleTasks(c echo.Context) error {
	if s.deps.Tasks == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "task tracking is not running")
	}

	var req TasksRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	s.deps.Tasks.SetItems(req.Items)
	// A new task scope starts a fresh detection session.
	if s.deps.Detector != nil {
		s.deps.Detector.Reset()
	}

	return c.JSON(http.StatusOK, map[string]any{
		"count":    s.deps.Tasks.Len(),
		"progress": s.deps.Tasks.Progress(),
	})
}

func (s *Server) handleHistory(c echo.Context) error {
	if s.deps.History == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "alert history is not running")
	}

	var entries []history.Entry
	if name := c.QueryParam("supervisor"); name != "" {
		entries = s.deps.History.BySupervisor(name)
	} else {
		entries = s.deps.History.Entries()
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries})
}

// handleClearHistory is the explicit operator action that empties the log.
func (s *Server) handleClearHistory(c echo.Context) error {
	if s.deps.History == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "alert history is not running")
	}
	s.deps.History.Clear()
	s.logger.Info("alert history cleared by operator")
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// handleEvents streams supervision events over SSE, bridged from the NATS
// bus. Unavailable when the bus is disconnected.
func (s *Server) handleEvents(c echo.Context) error {
	nc := s.deps.Events.Conn()
	if nc == nil || !s.deps.Events.Connected() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event bus is not connected")
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	msgCh := make(chan *nats.Msg, 16)
	sub, err := nc.ChanSubscribe(bus.SubjectWildcard, msgCh)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgCh:
			event := strings.TrimPrefix(msg.Subject, "supervision.")
			fmt.Fprintf(c.Response(), "event: %s\n", event)
			fmt.Fprintf(c.Response(), "data: %s\n\n", msg.Data)
			c.Response().Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// Bind claims a loopback port, auto-incrementing past bind conflicts up to
// MaxPortAttempts. Idempotent; returns the bound port.
func (s *Server) Bind() (int, error) {
	if s.listener != nil {
		return s.Port(), nil
	}

	attempts := s.cfg.MaxPortAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		port := s.cfg.Port + i
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, port))
		if err != nil {
			lastErr = err
			continue
		}
		if i > 0 {
			s.logger.Info("gate port busy, moved up",
				zap.Int("configured", s.cfg.Port),
				zap.Int("bound", port))
		}
		s.listener = ln
		return port, nil
	}

	return 0, fmt.Errorf("no free port in %d..%d: %w",
		s.cfg.Port, s.cfg.Port+attempts-1, lastErr)
}

// Port returns the bound port, or 0 before Bind.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Start binds if necessary and serves until Shutdown.
func (s *Server) Start() error {
	if _, err := s.Bind(); err != nil {
		return err
	}
	s.echo.Listener = s.listener
	s.logger.Info("gate listening", zap.String("addr", s.listener.Addr().String()))
	return s.echo.Start("")
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gate server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree for httptest-driven tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
