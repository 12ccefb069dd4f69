// Package webhook serves the inbound HTTP boundary: the provider handshake
// and message delivery endpoint. It validates, enqueues, and acknowledges;
// processing happens asynchronously in the ingest workers.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/pipeline"
	"github.com/zulandar/switchboard/internal/whatsapp"
	"gorm.io/gorm"
)

// Server hosts the webhook endpoints.
type Server struct {
	db       *gorm.DB
	pipeline *pipeline.Pipeline
	cfg      config.WebhookConfig
	out      io.Writer
	engine   *gin.Engine
}

// Opts holds parameters for creating a Server.
type Opts struct {
	DB       *gorm.DB
	Pipeline *pipeline.Pipeline
	Config   config.WebhookConfig
	Out      io.Writer // defaults to os.Stdout
}

// New creates a Server and registers its routes.
func New(opts Opts) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("webhook: db is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("webhook: pipeline is required")
	}
	if opts.Config.VerifyToken == "" {
		return nil, fmt.Errorf("webhook: verify token is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		db:       opts.DB,
		pipeline: opts.Pipeline,
		cfg:      opts.Config,
		out:      out,
		engine:   engine,
	}
	engine.GET("/webhook", s.handleVerify)
	engine.POST("/webhook", s.handleDelivery)
	engine.GET("/healthz", s.handleHealth)
	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves HTTP until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(s.out, "Webhook server listening on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook: shutdown: %w", err)
	}
	fmt.Fprintf(s.out, "Webhook server stopped\n")
	return nil
}

// handleVerify answers the provider's subscription handshake.
func (s *Server) handleVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == s.cfg.VerifyToken {
		c.String(http.StatusOK, challenge)
		return
	}
	c.String(http.StatusForbidden, "verification failed")
}

// handleDelivery accepts a webhook delivery: verify the signature, enqueue
// inbound messages as durable tasks, apply delivery-status updates, and
// acknowledge. The provider retries on non-2xx, so per-message processing
// failures are logged rather than surfaced; only enqueue failures (the
// delivery was not made durable) return an error status.
func (s *Server) handleDelivery(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader("X-Hub-Signature-256")
	if err := whatsapp.VerifySignature(s.cfg.AppSecret, body, signature); err != nil {
		log.Printf("webhook: rejected delivery: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	payload, err := whatsapp.ParsePayload(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	inbounds, statuses := whatsapp.Normalize(payload)

	for _, in := range inbounds {
		if _, err := pipeline.EnqueueIngest(s.db, in); err != nil {
			log.Printf("webhook: enqueue %s: %v", in.ProviderMessageID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
			return
		}
	}

	for _, st := range statuses {
		// Status updates are applied inline; they are idempotent and cheap.
		if err := s.pipeline.UpdateDeliveryStatus(st); err != nil {
			log.Printf("webhook: status update %s: %v", st.ProviderMessageID, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"received": len(inbounds), "statuses": len(statuses)})
}

// handleHealth reports process and database liveness.
func (s *Server) handleHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
