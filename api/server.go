package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/hostelsync/hostelsync-backend/pkg/config"
)

// NewServer builds the HTTP server that cmd/api runs. Request contexts derive
// from baseCtx, so canceling it reaches open location streams.
func NewServer(cfg *config.Config, handler http.Handler, baseCtx context.Context) *http.Server {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}
}
