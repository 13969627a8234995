package controllers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hostelsync/hostelsync-backend/api/validators"
	"github.com/hostelsync/hostelsync-backend/internal/locations"
	"github.com/hostelsync/hostelsync-backend/pkg/config"
	"github.com/hostelsync/hostelsync-backend/pkg/enums"
	pkgerrors "github.com/hostelsync/hostelsync-backend/pkg/errors"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
	"github.com/hostelsync/hostelsync-backend/pkg/metrics"
)

const (
	shutdownCloseReason = "server shutting down"

	defaultPongWait     = 60 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultWriteWait    = 10 * time.Second
)

func withStreamDefaults(cfg config.IngestConfig) config.IngestConfig {
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	return cfg
}

// LocationStream upgrades to a websocket and ingests every text frame as a
// location report. Frames are never acknowledged; bad frames are logged and
// dropped and the stream stays open.
func LocationStream(svc locations.Service, cfg config.IngestConfig, m *metrics.LocationMetrics, logg *logger.Logger) http.HandlerFunc {
	cfg = withStreamDefaults(cfg)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithChannel(ctx, enums.IngestChannelWebsocket.String())
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "stream.upgrade_failed")
			}
			return
		}
		defer conn.Close()

		m.StreamOpened()
		defer m.StreamClosed()
		if logg != nil {
			logg.Info(ctx, "stream.opened")
		}

		if cfg.ReadLimitBytes > 0 {
			conn.SetReadLimit(cfg.ReadLimitBytes)
		}
		_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		})

		done := make(chan struct{})
		defer close(done)
		go keepAlive(ctx, conn, cfg, done)

		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				if logg != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
						logg.Warn(logg.WithField(ctx, "error", err.Error()), "stream.closed_unexpectedly")
					} else {
						logg.Info(ctx, "stream.closed")
					}
				}
				return
			}
			if messageType != websocket.TextMessage {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "message_type", messageType), "stream.frame_dropped")
				}
				m.IncSample(enums.IngestChannelWebsocket.String(), metrics.ResultRejected)
				continue
			}
			ingestFrame(ctx, svc, m, logg, payload)
		}
	}
}

func ingestFrame(ctx context.Context, svc locations.Service, m *metrics.LocationMetrics, logg *logger.Logger, payload []byte) {
	var report locationReport
	if err := validators.DecodeJSONFrame(payload, &report); err != nil {
		if logg != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "stream.frame_dropped")
		}
		m.IncSample(enums.IngestChannelWebsocket.String(), metrics.ResultRejected)
		return
	}

	err := svc.Ingest(ctx, report.toSample(ctx, logg, enums.IngestChannelWebsocket))
	if err == nil || logg == nil {
		return
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
		logg.Warn(logg.WithField(ctx, "error", typed.Message()), "stream.frame_dropped")
		return
	}
	logg.Error(ctx, "stream.ingest_failed", err)
}

// keepAlive pings the peer and sends a close frame when the server shuts down.
// WriteControl may run concurrently with the reader.
func keepAlive(ctx context.Context, conn *websocket.Conn, cfg config.IngestConfig, done <-chan struct{}) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, shutdownCloseReason)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(cfg.WriteWait))
			_ = conn.SetReadDeadline(time.Now().Add(cfg.WriteWait))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}

// originChecker allows requests without an Origin header (devices, CLIs) and
// browser origins present in the allow list. "*" allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	set := map[string]struct{}{}
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
