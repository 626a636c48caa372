package app

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/handlers"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/ipc"
	"github.com/ternarybob/transitwatch/internal/metrics"
	"github.com/ternarybob/transitwatch/internal/models"
	"github.com/ternarybob/transitwatch/internal/services/browser"
	"github.com/ternarybob/transitwatch/internal/services/hub"
	"github.com/ternarybob/transitwatch/internal/services/monitor"
	"github.com/ternarybob/transitwatch/internal/services/scheduler"
	"github.com/ternarybob/transitwatch/internal/services/scraper"
	"github.com/ternarybob/transitwatch/internal/storage"
)

// Worker modes
const (
	WorkerModeProcess = "process"
	WorkerModeInproc  = "inproc"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	InstanceID     string
	StorageManager interfaces.StorageManager // nil when persistence is disabled

	// Services
	Hub              *hub.Hub
	Channel          *ipc.Channel
	MonitorService   *monitor.Service
	SchedulerService *scheduler.Service

	// Handlers
	APIHandler     *handlers.APIHandler
	ConfigHandler  *handlers.ConfigHandler
	ArrivalHandler *handlers.ArrivalHandler
	TargetHandler  *handlers.TargetHandler
	WorkerHandler  *handlers.WorkerHandler
	WSHandler      *handlers.WebSocketHandler

	// configFiles are handed to the worker process so it resolves the same config
	configFiles []string
}

// New initializes the application and starts the worker with the initial target set
func New(cfg *common.Config, configFiles []string, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config:      cfg,
		Logger:      logger,
		InstanceID:  common.NewInstanceID(),
		configFiles: configFiles,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if err := app.start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start monitoring: %w", err)
	}

	logger.Info().
		Str("server_instance_id", app.InstanceID).
		Str("worker_mode", cfg.Worker.Mode).
		Int("targets", len(app.Hub.Targets())).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	if storageManager != nil {
		a.Logger.Debug().
			Str("storage", "badger").
			Str("path", a.Config.Storage.Badger.Path).
			Msg("Storage layer initialized")
	}
	return nil
}

func (a *App) initServices() error {
	var arrivals interfaces.ArrivalStorage
	var targets interfaces.TargetStorage
	if a.StorageManager != nil {
		arrivals = a.StorageManager.ArrivalStorage()
		targets = a.StorageManager.TargetStorage()
	}

	a.Hub = hub.New(a.Config.WebSocket.BufferSize, arrivals, a.Logger)

	launcher, err := a.newLauncher()
	if err != nil {
		return err
	}
	a.Channel = ipc.NewChannel(launcher, a.Hub, a.Config.Worker.AckTimeout, a.Logger)
	a.MonitorService = monitor.NewService(a.Channel, a.Hub, targets, a.Logger)

	a.SchedulerService = scheduler.NewService(a.MonitorService, a.Config.Worker.AckTimeout*2, a.Logger)
	if err := a.SchedulerService.Start(a.Config.Recycle.Schedule); err != nil {
		return fmt.Errorf("failed to start recycle scheduler: %w", err)
	}

	return nil
}

// newLauncher picks how the worker is hosted. Process mode needs extra file
// descriptors, which Windows does not pass to children.
func (a *App) newLauncher() (ipc.Launcher, error) {
	mode := a.Config.Worker.Mode
	if mode == WorkerModeProcess && runtime.GOOS == "windows" {
		a.Logger.Warn().Msg("Process worker mode unsupported on windows, using inproc")
		mode = WorkerModeInproc
	}

	switch mode {
	case WorkerModeProcess:
		args := make([]string, 0, len(a.configFiles)*2)
		for _, path := range a.configFiles {
			args = append(args, "--config", path)
		}
		launcher, err := ipc.NewProcessLauncher(a.Config.Worker.Binary, args, a.Logger)
		if err != nil {
			return nil, err
		}
		return launcher, nil

	case WorkerModeInproc:
		policy := scraper.PolicyFromConfig(&a.Config.Scraper, a.Config.Browser.Selectors)
		return &ipc.PipeLauncher{
			NewHost: func() *ipc.Host {
				sessions := browser.NewManager(&a.Config.Browser, &a.Config.Scraper, a.Logger)
				return ipc.NewHost(sessions, policy, a.Config.Scraper.StartStagger, a.Logger)
			},
			Logger: a.Logger,
		}, nil

	default:
		return nil, fmt.Errorf("unknown worker mode %q", mode)
	}
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.MonitorService, a.Hub, a.InstanceID, a.Logger)
	a.ConfigHandler = handlers.NewConfigHandler(a.Logger, a.Config)
	a.ArrivalHandler = handlers.NewArrivalHandler(a.Hub, a.Logger)
	a.TargetHandler = handlers.NewTargetHandler(a.MonitorService, a.Config.Browser.LocatorTemplate, a.Config.Worker.AckTimeout, a.Logger)
	a.WorkerHandler = handlers.NewWorkerHandler(a.MonitorService, a.Hub, a.SchedulerService, a.Config.Worker.AckTimeout, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Hub, a.InstanceID, a.Logger, &a.Config.WebSocket)
}

// start resolves the initial target set, seeds the cache and launches the worker.
// A persisted set wins over the configured one.
func (a *App) start() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Worker.AckTimeout+10*time.Second)
	defer cancel()

	targets, source, err := a.initialTargets(ctx)
	if err != nil {
		return err
	}
	if err := models.ValidateTargets(targets); err != nil {
		return fmt.Errorf("invalid %s target set: %w", source, err)
	}

	a.Hub.SetTargets(targets)
	if a.StorageManager != nil {
		entries, err := a.StorageManager.ArrivalStorage().ListArrivals(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to load persisted arrivals")
		} else {
			seeded := a.Hub.Seed(entries)
			a.Logger.Info().Int("seeded", seeded).Int("stored", len(entries)).Msg("Arrival cache seeded from storage")
		}
	}

	a.Logger.Info().
		Str("source", source).
		Strs("ids", models.TargetIDs(targets)).
		Msg("Initial target set resolved")

	metrics.SetWorkerUp(false)
	return a.MonitorService.Start(ctx, targets)
}

func (a *App) initialTargets(ctx context.Context) ([]models.Target, string, error) {
	if a.StorageManager != nil {
		saved, ok, err := a.StorageManager.TargetStorage().LoadTargets(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to load persisted targets, using config")
		} else if ok {
			return saved, "persisted", nil
		}
	}

	targets := make([]models.Target, 0, len(a.Config.Targets))
	for _, t := range a.Config.Targets {
		targets = append(targets, models.NewTarget(t.ID, t.Line, t.Stop, a.Config.Browser.LocatorTemplate))
	}
	return targets, "config", nil
}

// Close stops the scheduler and worker, then releases storage
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.MonitorService != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Worker.AckTimeout)
		if err := a.MonitorService.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Worker shutdown incomplete")
		}
		cancel()
	}

	if a.Hub != nil {
		a.Hub.Close()
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
