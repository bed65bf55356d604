package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/grants"
	"github.com/odyssey-erp/odyssey-authz/internal/instances"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/roles"
	"github.com/odyssey-erp/odyssey-authz/internal/session"
	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

// Deps are the external resources a process has opened. DB is nil when the
// memory driver is selected and Redis is nil when caching is unavailable.
// *pgxpool.Pool and pgx.Tx both satisfy store.DBTX.
type Deps struct {
	Logger  *slog.Logger
	DB      store.DBTX
	Redis   *redis.Client
	Metrics *observability.Metrics
}

// Services is the authorization core wired for one process.
type Services struct {
	Audit     audit.Sink
	Catalog   *catalog.Service
	Roles     *roles.Service
	Grants    *grants.Store
	Instances *instances.Registry
	Sessions  *session.Service
	Engine    *rbac.Engine
	Cache     *rbac.Cache
	Timeline  *audit.Service
}

// NewServices builds every component over the configured storage driver.
func NewServices(cfg *Config, deps Deps) (*Services, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var execer audit.Execer
	if deps.DB != nil {
		execer = deps.DB
	}
	sink, err := audit.NewSink(audit.Config{
		Kind:         cfg.AuditSink,
		Dir:          cfg.AuditDir,
		FilePrefix:   cfg.AuditFilePrefix,
		FlushDelay:   cfg.AuditFlushDelay,
		WriteTimeout: cfg.AuditWriteTimeout,
		Logger:       NewStderrLogger(cfg),
		Observer:     deps.Metrics,
	}, execer)
	if err != nil {
		return nil, err
	}

	var (
		catalogRepos  catalog.Repositories
		roleRepo      roles.Repository
		grantRepos    grants.Repositories
		instanceRepo  instances.Repository
		sessionRepo   session.Repository
		timelineRepo  audit.Repository
		postgresStore bool
	)
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		catalogRepos = catalog.NewMemoryRepositories()
		roleRepo = roles.NewMemoryRepository()
		grantRepos = grants.NewMemoryRepositories()
		instanceRepo = instances.NewMemoryRepository()
		sessionRepo = session.NewMemoryRepository()
	default:
		if deps.DB == nil {
			return nil, fmt.Errorf("app: %s driver requires a database", cfg.StoreDriver)
		}
		catalogRepos = catalog.NewPostgresRepositories(deps.DB)
		roleRepo = roles.NewPostgresRepository(deps.DB)
		grantRepos = grants.NewPostgresRepositories(deps.DB)
		instanceRepo = instances.NewPostgresRepository(deps.DB)
		sessionRepo = session.NewPostgresRepository(deps.DB)
		timelineRepo = audit.NewRepository(deps.DB)
		postgresStore = true
	}

	var cache *rbac.Cache
	if deps.Redis != nil {
		cache = rbac.NewCache(deps.Redis, cfg.AuthzCacheTTL)
	}

	catalogService := catalog.NewService(catalogRepos, sink)
	roleOpts := []roles.Option{roles.WithLogger(logger)}
	if cache != nil {
		roleOpts = append(roleOpts, roles.WithInvalidator(cache))
	}
	roleService := roles.NewService(roleRepo, sink, roleOpts...)
	registry := instances.NewRegistry(instanceRepo, catalogService, sink)

	grantOpts := []grants.Option{
		grants.WithLogger(logger),
		grants.WithReferents(
			func(ctx context.Context, id int64) error {
				_, err := roleService.GetRole(ctx, id)
				return err
			},
			func(ctx context.Context, id int64) error {
				_, err := catalogService.GetPermission(ctx, id)
				return err
			},
			registry.Exists,
		),
	}
	if cache != nil {
		grantOpts = append(grantOpts, grants.WithInvalidator(cache))
	}
	grantStore := grants.NewStore(grantRepos, sink, grantOpts...)

	mode, err := rbac.ParseMode(cfg.AuthzInstanceMode)
	if err != nil {
		return nil, err
	}
	var source rbac.Source = rbac.NewRepositorySource(grantStore, roleService, catalogService, registry)
	if postgresStore {
		source = rbac.NewPostgresSource(deps.DB)
	}
	engine := rbac.NewEngine(source, rbac.Options{
		Mode:      mode,
		AdminRole: cfg.AdminRole,
		Cache:     cache,
		Observer:  deps.Metrics,
		Logger:    logger,
	})

	services := &Services{
		Audit:     sink,
		Catalog:   catalogService,
		Roles:     roleService,
		Grants:    grantStore,
		Instances: registry,
		Sessions:  session.NewService(sessionRepo, session.NewTracker(cfg.OnlineThresholdSeconds)),
		Engine:    engine,
		Cache:     cache,
	}
	if timelineRepo != nil {
		services.Timeline = audit.NewService(timelineRepo)
	}
	return services, nil
}

// Close flushes the audit sink.
func (s *Services) Close(ctx context.Context) error {
	if s == nil || s.Audit == nil {
		return nil
	}
	return s.Audit.Close(ctx)
}
