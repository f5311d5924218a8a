package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/hospital-locator/internal/backend"
	"github.com/stuartshay/hospital-locator/internal/calculator"
	"github.com/stuartshay/hospital-locator/internal/config"
	"github.com/stuartshay/hospital-locator/internal/directory"
	"github.com/stuartshay/hospital-locator/internal/eventloop"
	"github.com/stuartshay/hospital-locator/internal/geolocate"
	"github.com/stuartshay/hospital-locator/internal/history"
	"github.com/stuartshay/hospital-locator/internal/mapview"
	"github.com/stuartshay/hospital-locator/internal/notify"
	"github.com/stuartshay/hospital-locator/internal/tracing"
	"github.com/stuartshay/hospital-locator/internal/ui"
)

const shutdownTimeout = 10 * time.Second

// app is one wired locator session.
type app struct {
	cfg      *config.Config
	client   *backend.Client
	dir      *directory.Directory
	notifier *notify.Client
	history  *history.Client
	loop     *eventloop.Loop
	surface  *mapview.MemorySurface
	ctl      *ui.Controller

	shutdownTracer func(context.Context) error
}

type appOptions struct {
	view ui.View
	// wrapNotifier decorates the notifier the controller sees.
	wrapNotifier func(ui.Notifier) ui.Notifier
}

// newBackend creates the API client and resolves the CSRF token.
func newBackend(ctx context.Context, cfg *config.Config) (*backend.Client, error) {
	client, err := backend.NewClient(backend.Options{
		BaseURL:           cfg.BackendURL,
		SessionCookie:     cfg.SessionCookie,
		SessionCookieName: cfg.SessionCookieName,
		AuthToken:         cfg.AuthToken,
		CSRFToken:         cfg.CSRFToken,
		Timeout:           cfg.HTTPTimeout,
		Debug:             cfg.HTTPDebug,
	})
	if err != nil {
		return nil, fmt.Errorf("creating backend client: %w", err)
	}

	if cfg.CSRFToken == "" && cfg.CSRFPageURL != "" {
		if err := client.LoadCSRFToken(ctx, cfg.CSRFPageURL); err != nil {
			// Reads still work; notifications will be rejected by the backend.
			log.Warn().Err(err).Str("page", cfg.CSRFPageURL).Msg("Failed to load CSRF token")
		}
	}
	return client, nil
}

func newProvider(cfg *config.Config) (geolocate.Provider, error) {
	switch cfg.LocationProvider {
	case "static":
		return geolocate.StaticProvider{Coordinate: calculator.Coordinate{
			Latitude:       cfg.Latitude,
			Longitude:      cfg.Longitude,
			AccuracyMeters: cfg.AccuracyMeters,
		}}, nil
	case "google":
		if cfg.GoogleAPIKey == "" {
			return nil, fmt.Errorf("LOCATOR_PROVIDER=google requires GOOGLE_API_KEY")
		}
		return geolocate.NewGoogleProvider(cfg.GoogleAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown LOCATOR_PROVIDER %q", cfg.LocationProvider)
	}
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.shutdownTracer, err = tracing.InitTracer(tracing.FromConfig(cfg, version))
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	if a.client, err = newBackend(ctx, cfg); err != nil {
		return nil, err
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	var recorder ui.Recorder
	if cfg.HistoryEnabled {
		a.history, err = history.NewClient(cfg.DatabaseDSN())
		if err != nil {
			return nil, fmt.Errorf("connecting to history database: %w", err)
		}
		if err := a.history.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("creating history schema: %w", err)
		}
		recorder = a.history
		log.Info().Str("db_host", cfg.PostgresHost).Msg("History recording enabled")
	}

	a.dir = directory.New(a.client, cfg.RadiiKM)
	a.notifier = notify.New(a.client, notify.Options{
		InitialDelay: cfg.PollInitialDelay,
		Interval:     cfg.PollInterval,
		MaxAttempts:  cfg.PollMaxAttempts,
	})
	var notifier ui.Notifier = a.notifier
	if opts.wrapNotifier != nil {
		notifier = opts.wrapNotifier(notifier)
	}

	a.loop = eventloop.New(eventloop.Options{})
	a.surface = mapview.NewMemorySurface()

	a.ctl, err = ui.New(ui.Deps{
		Loop: a.loop,
		Locator: geolocate.NewLocator(provider, geolocate.Options{
			HighAccuracy: true,
			Timeout:      cfg.LocationTimeout,
			MaximumAge:   cfg.LocationMaxAge,
		}),
		Directory:       a.dir,
		Notifier:        notifier,
		Map:             mapview.New(a.surface),
		View:            opts.view,
		Recorder:        recorder,
		DefaultRadiusKM: cfg.DefaultRadiusKM,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Str("backend", cfg.BackendURL).
		Str("provider", cfg.LocationProvider).
		Ints("radii_km", cfg.RadiiKM).
		Msg("Configuration loaded")

	return a, nil
}

// settle waits for the session to go quiet.
func (a *app) settle(ctx context.Context) error {
	return a.ctl.Settle(ctx)
}

// locate acquires the position and waits for the search around it.
func (a *app) locate(ctx context.Context, radiusKM int) (ui.Session, error) {
	if radiusKM != 0 {
		if _, err := a.ctl.SetRadius(radiusKM); err != nil {
			return ui.Session{}, err
		}
	}
	if _, err := a.ctl.GetLocation(); err != nil {
		return ui.Session{}, err
	}
	if err := a.settle(ctx); err != nil {
		return ui.Session{}, err
	}
	return a.ctl.Session(ctx)
}

// writeMap renders the current map page to path.
func (a *app) writeMap(ctx context.Context, path string) (err error) {
	data, err := a.ctl.PageData(ctx, a.surface)
	if err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating map page: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if err := mapview.RenderPage(out, data); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("Map page written")
	return nil
}

// Close releases everything newApp opened. It is safe on a partial app.
func (a *app) Close() {
	if a.ctl != nil {
		a.ctl.Close()
	}
	if a.loop != nil {
		if err := a.loop.Shutdown(shutdownTimeout); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown event loop")
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close history database")
		}
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracer")
		}
	}
}
