// Package ingest exposes the producer side of the bus over HTTP.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/drblury/simabus/internal/runtime/envelope"
	errspkg "github.com/drblury/simabus/internal/runtime/errors"
	idspkg "github.com/drblury/simabus/internal/runtime/ids"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
	metadatapkg "github.com/drblury/simabus/internal/runtime/metadata"
	"github.com/drblury/simabus/topics"
)

// HeaderCorrelationID is read from requests and echoed on responses.
const HeaderCorrelationID = "X-Correlation-ID"

// MaxBodyBytes caps an event body.
const MaxBodyBytes = 1 << 20

// Producer publishes one event. *runtime.Service satisfies it.
type Producer interface {
	Publish(ctx context.Context, topic string, event any, md metadatapkg.Metadata, opts ...envelope.Option) error
}

// HealthReporter reports connection state per role.
type HealthReporter interface {
	Health() map[string]string
}

type api struct {
	producer Producer
	health   HealthReporter
	logger   loggingpkg.ServiceLogger
}

// Option registers additional routes on the router.
type Option func(*gin.Engine)

// NewRouter builds the ingest API:
//
//	POST /v1/events/:topic  publish the JSON body to a catalog topic
//	GET  /healthz           connection states
func NewRouter(producer Producer, health HealthReporter, logger loggingpkg.ServiceLogger, opts ...Option) *gin.Engine {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	a := &api{producer: producer, health: health, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	router.POST("/v1/events/:topic", a.publish)
	router.GET("/healthz", a.healthz)
	for _, opt := range opts {
		opt(router)
	}
	return router
}

func (a *api) publish(c *gin.Context) {
	topic, ok := topics.Lookup(c.Param("topic"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown topic %q", c.Param("topic"))})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body could not be read"})
		return
	}

	correlationID := c.GetHeader(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = idspkg.NewMessageID()
	}
	opts := []envelope.Option{envelope.WithCorrelationID(correlationID)}
	if key, ok := c.GetQuery("key"); ok {
		opts = append(opts, envelope.WithKey(key))
	}

	err = a.producer.Publish(c.Request.Context(), topic.String(), json.RawMessage(body), nil, opts...)
	c.Header(HeaderCorrelationID, correlationID)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{
			"status":        "accepted",
			"topic":         topic.String(),
			"correlationId": correlationID,
		})
	case errors.Is(err, errspkg.ErrEncoding):
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body is not valid JSON"})
	default:
		a.logger.Error("Ingest publish failed", err, loggingpkg.LogFields{
			"topic":          topic.String(),
			"correlation_id": correlationID,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event could not be published"})
	}
}

func (a *api) healthz(c *gin.Context) {
	states := map[string]string{}
	if a.health != nil {
		states = a.health.Health()
	}
	status, code := "ok", http.StatusOK
	for _, state := range states {
		if state == "disconnected" {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{"status": status, "connections": states})
}

func requestLogger(log loggingpkg.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("HTTP request", loggingpkg.LogFields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		})
	}
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log loggingpkg.ServiceLogger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", loggingpkg.LogFields{"address": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
