package shutdownsetup

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

func TestSetupGracefulShutdownRunsHooks(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	ctx, cancel := context.WithCancel(context.Background())

	var ran []string
	done := make(chan struct{})
	go func() {
		SetupGracefulShutdown(ctx, server, logger.Nop(),
			Hook{Name: "first", Fn: func(context.Context) error { ran = append(ran, "first"); return nil }},
			Hook{Name: "second", Fn: func(context.Context) error { ran = append(ran, "second"); return nil }},
		)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	assert.Equal(t, []string{"first", "second"}, ran)
}
