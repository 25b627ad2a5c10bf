package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dealsignal/internal/alerting"
	"dealsignal/internal/api"
	"dealsignal/internal/clock"
	"dealsignal/internal/config"
	"dealsignal/internal/deals"
	"dealsignal/internal/keepa"
	"dealsignal/internal/scheduler"
	"dealsignal/internal/service"
	"dealsignal/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Clock  clock.Clock
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Clock: clock.System{}}
}

func (a *App) newKeepa() *keepa.Client {
	cfg := a.Config.Keepa
	return keepa.NewClient(keepa.Options{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Domain:            cfg.Domain,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		UserAgent:         cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}

	var notifiers alerting.Multi
	for _, channel := range a.Config.Alerting.Channels {
		switch channel {
		case "telegram":
			cfg := a.Config.Alerting.Telegram
			if !cfg.Enabled {
				a.Logger.Warn().Msg("telegram channel listed but alerting.telegram.enabled is false")
				continue
			}
			notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
		case "log":
			notifiers = append(notifiers, alerting.NewLogNotifier(a.Logger))
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unknown alert channel ignored")
		}
	}
	if len(notifiers) == 0 {
		return nil
	}
	return notifiers
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler) *service.Service {
	return service.New(a.Config, service.Dependencies{
		Scheduler: sched,
		Fetcher:   a.newKeepa(),
		Products:  store,
		Prices:    store,
		Alerts:    store,
		Notifier:  a.newNotifier(),
		Clock:     a.Clock,
	}, a.Logger)
}

func (a *App) newScheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Clock, a.Logger)
}

func (a *App) newAPIServer(store *storage.Store) (*api.Server, *api.ClickRecorder) {
	recorder := api.NewClickRecorder(store, a.Config.API.ClickBuffer, a.Logger)
	reader := deals.NewReader(store, a.Clock)
	router := api.NewRouter(a.Config.API, reader, recorder, a.Clock, a.Logger)
	return api.NewServer(a.Config.API, router, a.Logger), recorder
}

// Run serves the API and drives the scheduled refresh in one process.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store, a.newScheduler())
	server, recorder := a.newAPIServer(store)
	defer recorder.Close()

	a.Logger.Info().Msg("starting dealsignal")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("dealsignal terminated with error")
		return err
	}

	a.Logger.Info().Msg("dealsignal stopped")
	return nil
}

// Serve runs only the API.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	server, recorder := a.newAPIServer(store)
	defer recorder.Close()

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Refresh runs a single refresh cycle.
func (a *App) Refresh(ctx context.Context) (service.CycleReport, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return service.CycleReport{}, err
	}
	defer closeStore()

	return a.newService(store, nil).RefreshAll(ctx)
}

// Import imports asins, falling back to the configured list.
func (a *App) Import(ctx context.Context, asins []string) (service.CycleReport, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return service.CycleReport{}, err
	}
	defer closeStore()

	return a.newService(store, nil).Import(ctx, a.Config.ResolveASINs(asins))
}

// Retag recomputes platform tags for the catalogue.
func (a *App) Retag(ctx context.Context) (int, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return 0, err
	}
	defer closeStore()

	return a.newService(store, nil).Retag(ctx)
}

// Migrate applies or rolls back the embedded schema migrations.
func (a *App) Migrate(direction string, steps int) (storage.MigrationStatus, error) {
	status, err := storage.Migrate(a.Config.Database.DSN, direction, steps)
	if err != nil {
		return status, err
	}
	a.Logger.Info().Uint("version", status.Version).Bool("dirty", status.Dirty).Str("direction", direction).Msg("migrations applied")
	return status, nil
}

// ExportOptions hold parameters for exporting a product ledger.
type ExportOptions struct {
	Product   string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Category string
	Platform string
	Signal   string
}

// ClassifyOptions describe an ad-hoc observation. Empty strings mean absent.
type ClassifyOptions struct {
	Current     string
	AllTimeLow  string
	Low90d      string
	Low30d      string
	Previous    string
	PreviousAge string
}
