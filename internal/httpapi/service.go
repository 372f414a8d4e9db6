// Package httpapi is the external HTTP surface over the alert pipeline:
// POST /ingest, GET /alerts, and the GET /ws streaming upgrade. Per spec,
// the HTTP layer itself is an external collaborator — this package stays a
// thin adapter over internal/pipeline.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/iff-guardian/siem-gateway/internal/alert"
	"github.com/iff-guardian/siem-gateway/internal/enrich"
	"github.com/iff-guardian/siem-gateway/internal/pipeline"
	"github.com/iff-guardian/siem-gateway/pkg/logger"
)

// writeWait bounds how long a single websocket frame write may block this
// client's writer loop when the client is stalled at the TCP layer. The
// pipeline's broadcast never waits on this write: it only fills the
// per-client send queue in internal/broadcast.
const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Service adapts the Orchestrator to gin routes.
type Service struct {
	pipeline *pipeline.Orchestrator
	log      logger.Logger
}

// New creates an httpapi Service bound to the given pipeline.
func New(p *pipeline.Orchestrator, log logger.Logger) *Service {
	return &Service{pipeline: p, log: log.With("component", "httpapi")}
}

// RegisterRoutes wires the ingest, query, and streaming endpoints. The
// upstream daemon is expected to push at a steady cadence, not burst
// arbitrarily, so /ingest alone carries a rate limit ahead of the pipeline.
func (s *Service) RegisterRoutes(router gin.IRouter) {
	router.POST("/ingest", ingestRateLimit(), s.handleIngest)
	router.GET("/alerts", s.handleAlerts)
	router.GET("/ws", s.handleWebSocket)
}

// ingestRateLimit caps sustained /ingest throughput, bursts aside, so a
// malfunctioning upstream daemon cannot flood the single pipeline worker.
// golang.org/x/time/rate's token bucket is shared process-wide, matching the
// single-writer discipline the pipeline already imposes downstream.
func ingestRateLimit() gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(500), 1000)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusOK, gin.H{"status": "error", "message": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// handleIngest accepts a RawAlert document. Per spec.md §7, a malformed body
// never aborts the pipeline: it is reported back with HTTP 200. Normalize and
// Enrich run here, synchronously, rather than inside the worker, so the
// response can carry the assigned id per spec.md §6.
func (s *Service) handleIngest(c *gin.Context) {
	var raw alert.RawAlert
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": err.Error()})
		return
	}

	canonical := enrich.Enrich(alert.Normalize(raw))
	s.pipeline.IngestCanonical(alert.SourceWazuh, canonical)
	c.JSON(http.StatusOK, gin.H{"status": "processed", "id": canonical.ID})
}

// handleAlerts returns the most recent replay batch, oldest first.
func (s *Service) handleAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.Replay())
}

// handleWebSocket upgrades the connection, replays the recent batch, then
// streams every subsequent broadcast as a JSON text frame. Any text the
// client sends is treated as a keepalive and ignored.
func (s *Service) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := s.pipeline.Subscribe()
	defer s.pipeline.Unsubscribe(client)

	go s.drainKeepalives(conn)

	for a := range client.Send {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		payload, err := json.Marshal(a)
		if err != nil {
			s.log.Warn("failed to marshal alert for broadcast", "error", err, "alert_id", a.ID)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.log.Warn("broadcast to client failed, will be cleaned up on disconnect", "error", err)
			return
		}
	}
}

// drainKeepalives reads and discards everything the client sends until the
// connection closes, which is also how a dead client is detected.
func (s *Service) drainKeepalives(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

// LoggingMiddleware logs each request the way the rest of the platform does.
func LoggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}
