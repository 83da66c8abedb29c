package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	redislib "github.com/redis/go-redis/v9"

	"github.com/leadscout/leadscout/internal/agent"
	"github.com/leadscout/leadscout/internal/api"
	"github.com/leadscout/leadscout/internal/bridge"
	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/conversation"
	"github.com/leadscout/leadscout/internal/database"
	"github.com/leadscout/leadscout/internal/dedup"
	"github.com/leadscout/leadscout/internal/domain"
	"github.com/leadscout/leadscout/internal/health"
	"github.com/leadscout/leadscout/internal/httpserver"
	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/logger"
	"github.com/leadscout/leadscout/internal/quota"
	"github.com/leadscout/leadscout/internal/redis"
	"github.com/leadscout/leadscout/internal/scheduler"
	"github.com/leadscout/leadscout/internal/scrape"
	"github.com/leadscout/leadscout/internal/session"
	"github.com/leadscout/leadscout/internal/worker"
)

const (
	defaultConfigPath = "config.yml"
	// seenMessageTTL bounds how long handled inbox message IDs are
	// remembered.
	seenMessageTTL = 7 * 24 * time.Hour
)

// engine holds every wired component of one leadscout process.
type engine struct {
	cfg    *config.Config
	logger logger.Logger
	db     *sqlx.DB
	redis  *redislib.Client

	repos       repositories
	maintenance *worker.Maintenance
	fleet       *agent.Fleet
	server      *httpserver.Server
}

type repositories struct {
	accounts      *database.AccountRepository
	agents        *database.AgentRepository
	groups        *database.GroupRepository
	posts         *database.PostRepository
	leads         *database.LeadRepository
	contacts      *database.ContactRepository
	notifications *database.NotificationRepository
}

// buildEngine loads configuration and wires the requested components.
// withControlPlane mounts the HTTP API; withFleet builds the agent runners.
func buildEngine(withControlPlane, withFleet bool) *engine {
	cfg, err := config.Load(config.Path(defaultConfigPath))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Service.Debug,
	}
	appLogger := logger.Must(logCfg)

	db, err := database.Connect(&cfg.Database)
	if err != nil {
		appLogger.Fatal("database connection failed", logger.Error(err))
	}

	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		appLogger.Fatal("redis connection failed", logger.Error(err))
	}

	repos := repositories{
		accounts:      database.NewAccountRepository(db),
		agents:        database.NewAgentRepository(db),
		groups:        database.NewGroupRepository(db),
		posts:         database.NewPostRepository(db),
		leads:         database.NewLeadRepository(db),
		contacts:      database.NewContactRepository(db),
		notifications: database.NewNotificationRepository(db),
	}

	if err := syncRoster(cfg, repos.accounts); err != nil {
		appLogger.Fatal("sync account roster failed", logger.Error(err))
	}

	quotas := quota.NewTracker(redisClient, cfg.Quota, appLogger)
	sessions := session.NewStore(repos.accounts, redisClient, cfg.Health.SessionLockTTL, appLogger)
	convos := conversation.NewService(repos.contacts, cfg.Conversation, appLogger)
	maintenance := worker.NewMaintenance(repos.posts, convos, repos.agents, cfg, appLogger)

	eng := &engine{
		cfg:         cfg,
		logger:      appLogger,
		db:          db,
		redis:       redisClient,
		repos:       repos,
		maintenance: maintenance,
	}

	if withFleet {
		eng.fleet = buildFleet(cfg, repos, quotas, sessions, convos, redisClient, appLogger)
	}
	if withControlPlane {
		eng.server = buildServer(cfg, repos, maintenance, db, redisClient, appLogger)
	}

	return eng
}

// syncRoster upserts every configured account so session acquisition and
// agent registration find them on a fresh deployment. Session state on
// existing rows is preserved.
func syncRoster(cfg *config.Config, accounts *database.AccountRepository) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := range cfg.Accounts {
		entry := &cfg.Accounts[i]
		account := &domain.Account{
			ID:            entry.ID,
			Username:      entry.Username,
			CredentialRef: entry.CredentialRef,
		}
		if err := accounts.Upsert(ctx, account); err != nil {
			return fmt.Errorf("upsert account %s: %w", entry.ID, err)
		}
	}

	return nil
}

// buildFleet wires one runner per roster account over the automation
// sidecar. A missing sidecar URL disables the fleet.
func buildFleet(
	cfg *config.Config,
	repos repositories,
	quotas *quota.Tracker,
	sessions *session.Store,
	convos *conversation.Service,
	redisClient *redislib.Client,
	appLogger logger.Logger,
) *agent.Fleet {
	if cfg.Automation.BaseURL == "" {
		appLogger.Warn("automation.base_url not set, agent fleet disabled")
		return nil
	}
	if len(cfg.Accounts) == 0 {
		appLogger.Warn("account roster is empty, agent fleet disabled")
		return nil
	}

	sidecar := bridge.NewClient(cfg.Automation, appLogger)
	seen := dedup.NewTracker(redisClient, seenMessageTTL, appLogger)
	sched := scheduler.New(cfg.Schedule, quotas, sessions, appLogger)
	scraper := scrape.NewService(sidecar, repos.groups, repos.posts, cfg.Scrape, appLogger)
	pipeline := leads.NewPipeline(sidecar, repos.leads, repos.posts, appLogger)

	var sink health.Sink
	if cfg.Health.ControlPlaneURL != "" {
		sink = health.NewHTTPSink(cfg.Health.ControlPlaneURL, appLogger)
	} else {
		sink = health.NewLocalSink(repos.agents)
	}

	deps := agent.RunnerDeps{
		Scheduler: sched,
		Quotas:    quotas,
		Sessions:  sessions,
		Scraper:   scraper,
		Pipeline:  pipeline,
		Convos:    convos,
		Engager:   sidecar,
		Seen:      seen,
		Leads:     repos.leads,
		Groups:    repos.groups,
		Agents:    repos.agents,
		Notifier:  repos.notifications,
		Logger:    appLogger,
	}

	return agent.NewFleet(cfg, deps, sink)
}

func buildServer(
	cfg *config.Config,
	repos repositories,
	maintenance *worker.Maintenance,
	db *sqlx.DB,
	redisClient *redislib.Client,
	appLogger logger.Logger,
) *httpserver.Server {
	router := api.NewRouter(api.RouterDeps{
		Accounts:      repos.accounts,
		Agents:        repos.agents,
		Groups:        repos.groups,
		Leads:         repos.leads,
		Contacts:      repos.contacts,
		Notifications: repos.notifications,
		Maintenance:   maintenance,
	}, cfg, appLogger)

	serverCfg := &httpserver.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Port:           cfg.Service.Port,
		Debug:          cfg.Service.Debug,
		CORS:           httpserver.CORSConfig{Enabled: true, AllowCredentials: true},
	}

	checks := map[string]httpserver.HealthChecker{
		"database": httpserver.DatabaseHealthChecker(db.Ping),
		"redis": httpserver.RedisHealthChecker(func() error {
			return redis.CheckConnection(redisClient)
		}),
	}

	return httpserver.NewServer(serverCfg, appLogger, checks, router.SetupRoutes)
}

// close releases process-wide resources.
func (e *engine) close() {
	if err := e.db.Close(); err != nil {
		e.logger.Warn("close database", logger.Error(err))
	}
	if err := e.redis.Close(); err != nil {
		e.logger.Warn("close redis", logger.Error(err))
	}
	if err := e.logger.Sync(); err != nil {
		// Stderr sync failures on shutdown are expected on some platforms
		_ = err
	}
}

// runServe runs the full engine: control plane, fleet, maintenance.
func runServe() {
	eng := buildEngine(true, true)
	defer eng.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.maintenance.Start(); err != nil {
		eng.logger.Fatal("start maintenance worker failed", logger.Error(err))
	}

	if eng.fleet != nil {
		if err := eng.fleet.Start(ctx); err != nil {
			eng.maintenance.Stop()
			eng.logger.Fatal("start fleet failed", logger.Error(err))
		}
	}

	err := eng.server.RunWithGracefulShutdown(ctx, func() {
		if eng.fleet != nil {
			eng.fleet.Stop()
		}
		eng.maintenance.Stop()
	})
	if err != nil {
		eng.logger.Error("server exited with error", logger.Error(err))
	}
}

// runAPI runs the control plane only.
func runAPI() {
	eng := buildEngine(true, false)
	defer eng.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.maintenance.Start(); err != nil {
		eng.logger.Fatal("start maintenance worker failed", logger.Error(err))
	}

	err := eng.server.RunWithGracefulShutdown(ctx, eng.maintenance.Stop)
	if err != nil {
		eng.logger.Error("server exited with error", logger.Error(err))
	}
}

// runFleet runs the agent fleet only, reporting heartbeats to a remote
// control plane.
func runFleet() {
	eng := buildEngine(false, true)
	defer eng.close()

	if eng.fleet == nil {
		eng.logger.Fatal("fleet command requires automation.base_url and a non-empty account roster")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.fleet.Start(ctx); err != nil {
		eng.logger.Fatal("start fleet failed", logger.Error(err))
	}

	waitForShutdown(eng.logger)
	eng.fleet.Stop()
}
