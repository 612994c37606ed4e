package shutdownsetup

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// DefaultTimeout bounds how long in-flight requests get to finish.
const DefaultTimeout = 30 * time.Second

// Hook runs after the HTTP server stops accepting requests.
type Hook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// SetupGracefulShutdown blocks until SIGINT/SIGTERM or ctx is done, then
// drains the server and runs hooks in order.
func SetupGracefulShutdown(ctx context.Context, server *http.Server, log *logger.Logger, hooks ...Hook) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("Shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	for _, h := range hooks {
		if err := h.Fn(shutdownCtx); err != nil {
			log.Error("Shutdown hook failed", "hook", h.Name, "error", err)
			continue
		}
		log.Debug("Shutdown hook completed", "hook", h.Name)
	}

	log.Info("Server exited")
}
