package tracker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hostelsync/hostelsync-backend/internal/geofence"
	pkgerrors "github.com/hostelsync/hostelsync-backend/pkg/errors"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
)

// Params wires a tracker loop.
type Params struct {
	Source   Source
	Watcher  *geofence.Watcher
	Reporter Reporter
	Logger   *logger.Logger

	Username string
	Email    string

	// Interval is how often the source is sampled.
	Interval time.Duration
	// ReportEvery throttles reports; zero reports every accepted fix.
	ReportEvery time.Duration
	// MaxAge discards fixes older than this when positive.
	MaxAge time.Duration

	// OnAlert runs when the watcher raises a leave alert.
	OnAlert func(geofence.Observation)
	Now     func() time.Time
}

// Tracker samples a source, feeds the geofence watcher and reports positions.
type Tracker struct {
	params     Params
	now        func() time.Time
	lastReport time.Time
}

func New(params Params) (*Tracker, error) {
	if params.Source == nil {
		return nil, errors.New("source required")
	}
	if params.Watcher == nil {
		return nil, errors.New("watcher required")
	}
	if params.Reporter == nil {
		return nil, errors.New("reporter required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if strings.TrimSpace(params.Username) == "" && strings.TrimSpace(params.Email) == "" {
		return nil, errors.New("username or email is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{params: params, now: now}, nil
}

// Run samples immediately and then on every interval until ctx is canceled.
// It returns nil on cancellation; reporting errors are logged, not returned.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.params.Interval)
	defer ticker.Stop()
	defer func() {
		if err := t.params.Reporter.Close(); err != nil {
			t.params.Logger.Warn(t.params.Logger.WithField(context.Background(), "error", err.Error()), "tracker.reporter_close_failed")
		}
	}()

	t.params.Logger.Info(ctx, "tracker.started")
	for {
		t.Step(ctx)
		select {
		case <-ctx.Done():
			t.params.Logger.Info(context.Background(), "tracker.stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Step processes a single fix.
func (t *Tracker) Step(ctx context.Context) {
	logg := t.params.Logger

	fix, err := t.params.Source.Next(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "tracker.fix_unavailable")
		}
		return
	}
	now := t.now()
	if t.params.MaxAge > 0 && now.Sub(fix.Timestamp) > t.params.MaxAge {
		logg.Debug(logg.WithField(ctx, "fix_age_ms", now.Sub(fix.Timestamp).Milliseconds()), "tracker.fix_stale")
		return
	}

	obs := t.params.Watcher.Observe(fix.Point)
	logCtx := logg.WithFields(logg.WithPoint(ctx, fix.Point.Lat, fix.Point.Lng), map[string]any{
		"distance_m": obs.Distance,
		"state":      obs.State.String(),
	})
	logg.Debug(logCtx, "tracker.fix")
	if obs.Alert {
		logg.Warn(logCtx, "tracker.left_geofence")
		if t.params.OnAlert != nil {
			t.params.OnAlert(obs)
		}
	} else if obs.Changed {
		logg.Info(logCtx, "tracker.returned_within_geofence")
	}

	if t.params.ReportEvery > 0 && !t.lastReport.IsZero() && now.Sub(t.lastReport) < t.params.ReportEvery && !obs.Changed {
		return
	}

	report := Report{
		Username:  strings.TrimSpace(t.params.Username),
		Email:     strings.TrimSpace(t.params.Email),
		Latitude:  fix.Point.Lat,
		Longitude: fix.Point.Lng,
	}
	if err := t.params.Reporter.Report(ctx, report); err != nil {
		if ctx.Err() == nil {
			logg.Error(logg.WithField(logCtx, "retryable", pkgerrors.Retryable(err)), "tracker.report_failed", err)
		}
		return
	}
	t.lastReport = now
}
