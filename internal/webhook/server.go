// Package webhook receives Telegram updates over HTTPS instead of long
// polling. Telegram POSTs one JSON update per request to a secret path.
package webhook

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/signalpost/signalpost/internal/telegram"
)

// Handler consumes one inbound update.
type Handler interface {
	HandleUpdate(ctx context.Context, u telegram.Update) error
}

// StartOpts holds configuration for the webhook server.
type StartOpts struct {
	Handler Handler
	Port    int
	// Secret is the path component Telegram is configured to POST to.
	// Requests to any other path are 404s.
	Secret string
	Logger *zap.Logger
}

// Start launches the webhook HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Handler == nil {
		return fmt.Errorf("webhook: handler is required")
	}
	if opts.Secret == "" {
		return fmt.Errorf("webhook: secret path is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8443
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: newRouter(opts.Handler, opts.Secret, log),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Info("webhook server listening", zap.Int("port", opts.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func newRouter(handler Handler, secret string, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/webhook/:secret", func(c *gin.Context) {
		if c.Param("secret") != secret {
			c.Status(http.StatusNotFound)
			return
		}
		var u telegram.Update
		if err := c.ShouldBindJSON(&u); err != nil {
			log.Warn("malformed webhook update", zap.Error(err))
			c.Status(http.StatusBadRequest)
			return
		}
		// Always 200: Telegram re-delivers on non-2xx, and handler
		// errors are already surfaced in-chat.
		if err := handler.HandleUpdate(c.Request.Context(), u); err != nil {
			log.Error("update handling failed", zap.Int64("update", u.UpdateID), zap.Error(err))
		}
		c.Status(http.StatusOK)
	})
	return router
}
