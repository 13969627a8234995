package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hostelsync/hostelsync-backend/internal/geofence"
	"github.com/hostelsync/hostelsync-backend/internal/tracker"
	pkgAuth "github.com/hostelsync/hostelsync-backend/pkg/auth"
	"github.com/hostelsync/hostelsync-backend/pkg/config"
	"github.com/hostelsync/hostelsync-backend/pkg/geo"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
)

type runFlags struct {
	server    string
	username  string
	email     string
	token     string
	mode      string
	route     string
	lat       float64
	lng       float64
	interval  time.Duration
	reportAll bool
	once      bool
}

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags runFlags

	rootCmd := &cobra.Command{
		Use:           "tracker",
		Short:         "Report device positions and watch the hostel geofence",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags)
		},
	}

	fs := rootCmd.Flags()
	fs.StringVar(&flags.server, "server", "", "API base URL (overrides HOSTELSYNC_TRACKER_SERVER_URL)")
	fs.StringVarP(&flags.username, "username", "u", "", "username to report as")
	fs.StringVarP(&flags.email, "email", "e", "", "email to report as")
	fs.StringVar(&flags.token, "token", "", "device access token")
	fs.StringVarP(&flags.mode, "mode", "m", "", "delivery mode: stream, oneshot or http")
	fs.StringVar(&flags.route, "route", "", "JSON route file to replay instead of a fixed point")
	fs.Float64Var(&flags.lat, "lat", 0, "fixed latitude when no route is given")
	fs.Float64Var(&flags.lng, "lng", 0, "fixed longitude when no route is given")
	fs.DurationVarP(&flags.interval, "interval", "i", 0, "sampling interval")
	fs.BoolVar(&flags.reportAll, "report-all", false, "report every fix instead of throttling")
	fs.BoolVar(&flags.once, "once", false, "process a single fix and exit")

	rootCmd.AddCommand(newMintTokenCommand())
	return rootCmd
}

func run(cmd *cobra.Command, flags runFlags) error {
	settings, err := config.LoadTracker()
	if err != nil {
		return err
	}
	applyFlags(cmd, &settings.Tracker, flags)

	logg := logger.New(logger.Options{
		ServiceName: "tracker",
		Level:       logger.ParseLevel(settings.LogLevel),
	})

	mode, err := tracker.ParseMode(settings.Tracker.Mode)
	if err != nil {
		return err
	}
	reporter, err := tracker.NewReporter(mode, tracker.ReporterOptions{
		ServerURL: settings.Tracker.ServerURL,
		Token:     settings.Tracker.Token,
	})
	if err != nil {
		return err
	}

	source, err := buildSource(cmd, settings.Tracker, flags, settings.Geofence)
	if err != nil {
		return err
	}

	center := geo.Point{Lat: settings.Geofence.ReferenceLat, Lng: settings.Geofence.ReferenceLng}
	watcher, err := geofence.NewWatcher(center, settings.Geofence.RadiusMeters, settings.Geofence.BufferMeters)
	if err != nil {
		return err
	}

	reportEvery := settings.Tracker.ReportEvery
	if flags.reportAll {
		reportEvery = 0
	}

	t, err := tracker.New(tracker.Params{
		Source:      source,
		Watcher:     watcher,
		Reporter:    reporter,
		Logger:      logg,
		Username:    settings.Tracker.Username,
		Email:       settings.Tracker.Email,
		Interval:    settings.Tracker.Interval,
		ReportEvery: reportEvery,
		MaxAge:      settings.Tracker.MaxAge,
		OnAlert: func(obs geofence.Observation) {
			fmt.Fprintf(cmd.ErrOrStderr(), "You are not within %.0f meters of the hostel (%.1f m away)\n", settings.Geofence.RadiusMeters, obs.Distance)
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.once {
		t.Step(ctx)
		return reporter.Close()
	}
	return t.Run(ctx)
}

func applyFlags(cmd *cobra.Command, cfg *config.TrackerConfig, flags runFlags) {
	changed := cmd.Flags().Changed
	if changed("server") {
		cfg.ServerURL = flags.server
	}
	if changed("username") {
		cfg.Username = flags.username
	}
	if changed("email") {
		cfg.Email = flags.email
	}
	if changed("token") {
		cfg.Token = flags.token
	}
	if changed("mode") {
		cfg.Mode = flags.mode
	}
	if changed("route") {
		cfg.RouteFile = flags.route
	}
	if changed("interval") && flags.interval > 0 {
		cfg.Interval = flags.interval
	}
}

// buildSource prefers a route file, then explicit coordinates, then the hostel itself.
func buildSource(cmd *cobra.Command, cfg config.TrackerConfig, flags runFlags, fence config.GeofenceConfig) (tracker.Source, error) {
	if cfg.RouteFile != "" {
		return tracker.LoadRouteFile(cfg.RouteFile)
	}
	point := geo.Point{Lat: fence.ReferenceLat, Lng: fence.ReferenceLng}
	if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
		point = geo.Point{Lat: flags.lat, Lng: flags.lng}
	}
	if err := point.Validate(); err != nil {
		return nil, err
	}
	return tracker.StaticSource{Point: point}, nil
}

func newMintTokenCommand() *cobra.Command {
	var identity string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Mint a device token for local testing (needs HOSTELSYNC_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			jwtCfg := config.JWTConfig{
				Secret:            os.Getenv(config.EnvJWTSecret),
				Issuer:            "hostelsync",
				ExpirationMinutes: int(ttl.Minutes()),
			}
			if issuer := os.Getenv("HOSTELSYNC_JWT_ISSUER"); issuer != "" {
				jwtCfg.Issuer = issuer
			}
			token, err := pkgAuth.MintAccessToken(jwtCfg, time.Now(), pkgAuth.AccessTokenPayload{Identity: identity})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "username or email the token is bound to")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}
