package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppimport/internal/api"
	"github.com/matheus3301/wppimport/internal/bus"
	"github.com/matheus3301/wppimport/internal/config"
	"github.com/matheus3301/wppimport/internal/helpdesk"
	"github.com/matheus3301/wppimport/internal/importer"
	"github.com/matheus3301/wppimport/internal/ledger"
	"github.com/matheus3301/wppimport/internal/lock"
	"github.com/matheus3301/wppimport/internal/logging"
	"github.com/matheus3301/wppimport/internal/metrics"
	"github.com/matheus3301/wppimport/internal/session"
	"github.com/matheus3301/wppimport/internal/staging"
	"github.com/matheus3301/wppimport/internal/status"
	intsync "github.com/matheus3301/wppimport/internal/sync"
	"github.com/matheus3301/wppimport/internal/wa"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the daemon options passed to the fx module.
type Params struct {
	ConfigPath string
	// Listen overrides http.listen from the config when set.
	Listen string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideMetrics,
			provideHelpdeskDB,
			provideRepository,
			provideResolver,
			provideLedger,
			provideStaging,
			provideService,
			provideAdapters,
			provideSyncEngine,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if p.Listen != "" {
		cfg.HTTP.Listen = p.Listen
	}
	return cfg, nil
}

func provideLogger() (*zap.Logger, error) {
	return logging.New(session.LogPath(), "wppimportd")
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(logger *zap.Logger) (*lock.Process, error) {
	logger.Info("acquiring daemon lock", zap.String("dir", session.BaseDir()))
	l, err := lock.AcquireProcess(session.BaseDir())
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func provideHelpdeskDB(cfg *config.Config, logger *zap.Logger) (*bun.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := helpdesk.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	logger.Info("helpdesk database connected", zap.Int("max_open_conns", cfg.Database.MaxOpenConns))
	return db, nil
}

func provideRepository(db *bun.DB) *helpdesk.Repository {
	return helpdesk.NewRepository(db)
}

// provideResolver picks how missing contacts and conversations are created:
// directly in the database, or through the helpdesk REST API so the
// helpdesk's own hooks run.
func provideResolver(cfg *config.Config, repo *helpdesk.Repository, logger *zap.Logger) (helpdesk.KeyResolver, error) {
	switch cfg.Import.Resolver {
	case config.ResolverSQL:
		return helpdesk.NewSQLResolver(repo, logger), nil
	case config.ResolverAPI:
		client := helpdesk.NewClient(cfg.Helpdesk.BaseURL, cfg.Helpdesk.APIToken, cfg.Helpdesk.Timeout.Duration)
		return helpdesk.NewAPIResolver(repo, client, logger), nil
	default:
		return nil, fmt.Errorf("unknown resolver %q", cfg.Import.Resolver)
	}
}

func provideLedger(logger *zap.Logger) (*ledger.DB, error) {
	path := session.LedgerPath()
	db, err := ledger.Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("ledger migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("ledger migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("ledger initialized", zap.String("path", path))
	return db, nil
}

func provideStaging() *staging.Store {
	return staging.New()
}

func provideService(cfg *config.Config, store *staging.Store, repo *helpdesk.Repository, resolver helpdesk.KeyResolver, runs *ledger.DB, m *metrics.Metrics, b *bus.Bus, logger *zap.Logger) *importer.Service {
	opts := importer.Options{
		ContactChunkSize: cfg.Import.ContactChunkSize,
		MessageChunkSize: cfg.Import.MessageChunkSize,
		LabelColor:       cfg.Import.LabelColor,
	}
	return importer.NewService(importer.ServiceParams{
		Staging:  store,
		Contacts: importer.NewContactImporter(store, repo, opts, m, logger),
		Messages: importer.NewMessageImporter(store, repo, resolver, opts, m, logger),
		Locks:    lock.NewTenants(),
		Board:    status.NewBoard(b),
		Ledger:   runs,
		Metrics:  m,
		Bus:      b,
		Logger:   logger,
	})
}

func provideAdapters(cfg *config.Config, b *bus.Bus, logger *zap.Logger) ([]*wa.Adapter, error) {
	adapters := make([]*wa.Adapter, 0, len(cfg.Instances))
	for _, inst := range cfg.Instances {
		a, err := wa.NewAdapter(context.Background(), inst.Name, b, logger)
		if err != nil {
			for _, opened := range adapters {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("instance %q: %w", inst.Name, err)
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func provideSyncEngine(cfg *config.Config, svc *importer.Service, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	targets := make(map[string]intsync.Target, len(cfg.Instances))
	for _, inst := range cfg.Instances {
		targets[inst.Name] = intsync.Target{AccountID: inst.AccountID, InboxID: inst.InboxID}
	}
	var auto intsync.AutoImporter
	if cfg.Import.AutoImport {
		auto = svc
	}
	return intsync.NewEngine(svc, auto, targets, b, logger)
}

func provideHandler(cfg *config.Config, svc *importer.Service, runs *ledger.DB, m *metrics.Metrics, logger *zap.Logger) *api.Handler {
	return api.NewHandler(svc, runs, cfg, m.Handler(), logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Process, adapters []*wa.Adapter, engine *intsync.Engine, svc *importer.Service, helpdeskDB *bun.DB, runs *ledger.DB, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start the capture engine before any session can emit events.
			engine.Start(context.Background())

			for _, a := range adapters {
				handler := wa.NewEventHandler(a.Instance(), b, a, logger)
				a.RegisterEventHandler(handler.Handle)
				go startSession(a, svc, logger)
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			for _, a := range adapters {
				if err := a.Close(); err != nil {
					logger.Warn("error closing session", zap.String("tenant", a.Instance()), zap.Error(err))
				}
			}
			engine.Stop()
			if err := runs.Close(); err != nil {
				logger.Warn("error closing ledger", zap.Error(err))
			}
			if err := helpdeskDB.Close(); err != nil {
				logger.Warn("error closing helpdesk database", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// startSession connects a linked instance and stages the contacts already in
// its device store, or starts QR pairing for an unlinked one.
func startSession(a *wa.Adapter, svc *importer.Service, logger *zap.Logger) {
	log := logger.With(zap.String("tenant", a.Instance()))
	if !a.IsLoggedIn() {
		log.Info("no credentials found, pairing required")
		events, err := a.StartQRAuth(context.Background())
		if err != nil {
			log.Error("failed to start pairing", zap.Error(err))
			return
		}
		for evt := range events {
			if evt.Type == wa.AuthEventAuthFailed || evt.Type == wa.AuthEventTimeout {
				log.Warn("pairing ended", zap.String("reason", evt.Message))
			}
		}
		return
	}

	if err := a.Connect(); err != nil {
		log.Error("auto-connect failed", zap.Error(err))
		return
	}
	if n := svc.StageContacts(a.Instance(), a.Contacts(context.Background())...); n > 0 {
		log.Info("staged contacts from device store", zap.Int("contacts", n))
	}
}
