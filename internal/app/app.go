// Package app wires configuration into stores, services and the replication engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"poscore/internal/config"
	"poscore/internal/core/docstore"
	"poscore/internal/core/entity"
	"poscore/internal/domain"
	"poscore/internal/domain/audit"
	"poscore/internal/domain/auth"
	"poscore/internal/domain/catalogs/branch"
	"poscore/internal/domain/catalogs/category"
	"poscore/internal/domain/catalogs/department"
	"poscore/internal/domain/catalogs/expense"
	"poscore/internal/domain/catalogs/item"
	"poscore/internal/domain/documents/inventory"
	"poscore/internal/domain/reports"
	"poscore/internal/domain/returns"
	"poscore/internal/domain/sales"
	"poscore/internal/domain/salesid"
	"poscore/internal/infrastructure/cache"
	"poscore/internal/infrastructure/codec"
	"poscore/internal/infrastructure/idempotency"
	"poscore/internal/infrastructure/metrics"
	"poscore/internal/infrastructure/replication/httppeer"
	"poscore/internal/infrastructure/storage/docrepo"
	"poscore/internal/infrastructure/storage/memory"
	"poscore/internal/infrastructure/storage/postgres"
	"poscore/internal/replication"
	"poscore/pkg/logger"
	"poscore/pkg/numerator"
)

// Services holds every wired component of a node.
type Services struct {
	Config *config.Config
	Store  docstore.Store

	Branches     *domain.DocumentService[*branch.Branch]
	Departments  *domain.DocumentService[*department.Department]
	Categories   *domain.DocumentService[*category.Category]
	Items        *item.Service
	Expenses     *domain.DocumentService[*expense.Expense]
	Reports      *domain.DocumentService[*reports.Report]
	Logs         *domain.DocumentService[*audit.Log]
	Transactions *domain.DocumentService[*sales.Transaction]
	Returns      *domain.DocumentService[*returns.Return]
	Inventory    *inventory.Service

	Sales       *sales.Processor
	ReturnsFlow *returns.Processor

	// Engine is nil when no remote is configured.
	Engine *replication.Engine
	// JWT is nil when no replication secret is configured.
	JWT *auth.JWTService

	Cache       cache.Cache
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
	Registry    *prometheus.Registry
	Zstd        *codec.Zstd

	// Checks are readiness checks by dependency name.
	Checks map[string]func(ctx context.Context) error

	log     *logger.Logger
	closers []func() error
}

// New builds the services described by cfg.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (s *Services, err error) {
	s = &Services{
		Config: cfg,
		Checks: make(map[string]func(ctx context.Context) error),
		log:    log.WithComponent("app"),
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.Zstd, err = codec.NewZstd(); err != nil {
		return nil, err
	}

	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if s.Metrics, err = metrics.New(s.Registry); err != nil {
		return nil, err
	}

	if err := s.openStore(ctx); err != nil {
		return nil, err
	}
	if err := s.openCache(ctx); err != nil {
		return nil, err
	}
	if err := s.buildServices(); err != nil {
		return nil, err
	}
	if cfg.ReplicationSecret != "" {
		s.JWT = auth.NewJWTService(auth.DefaultJWTConfig(cfg.ReplicationSecret))
	}
	if cfg.HasRemote() {
		if err := s.buildEngine(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Services) openStore(ctx context.Context) error {
	names := domain.AllCollections()

	switch s.Config.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(s.Config.DatabaseURL))
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		txm := postgres.NewTxManager(pool)
		s.Store = postgres.NewDocumentStore(txm, names)
		s.Checks["database"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		s.Idempotency = postgres.NewIdempotencyStore(txm, s.Config.IdempotencyTTL)
	default:
		var opts []memory.Option
		if s.Config.SnapshotPath != "" {
			opts = append(opts, memory.WithSnapshot(s.Config.SnapshotPath))
		}
		store, err := memory.New(names, opts...)
		if err != nil {
			return err
		}
		s.Store = store
	}
	s.closers = append(s.closers, s.Store.Close)
	return nil
}

func (s *Services) openCache(ctx context.Context) error {
	if s.Config.RedisAddr == "" {
		s.Cache = cache.NewMemory(s.Config.CacheTTL)
		if s.Idempotency == nil {
			s.Idempotency = idempotency.NewMemory(s.Config.IdempotencyTTL)
		}
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Config.RedisAddr})
	s.closers = append(s.closers, client.Close)
	rc := cache.NewRedis(client, s.Config.CacheTTL)
	if err := rc.Ping(ctx); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	s.Cache = rc
	s.Checks["redis"] = rc.Ping
	if s.Idempotency == nil {
		s.Idempotency = idempotency.NewRedis(client, s.Config.IdempotencyTTL)
	}
	return nil
}

func (s *Services) collection(name string) docstore.Collection {
	c, err := s.Store.Collection(name)
	if err != nil {
		// AllCollections is served by every store.
		panic(err)
	}
	return c
}

func repo[T entity.Document](s *Services, name, entityName string, newDoc func() T) *docrepo.Repo[T] {
	return docrepo.New(s.collection(name), entityName, newDoc, docrepo.WithCache(s.Cache, s.Metrics.CacheLookup))
}

func (s *Services) buildServices() error {
	s.Branches = domain.NewDocumentService(domain.DocumentServiceConfig[*branch.Branch]{
		Repo:       repo(s, domain.CollectionBranches, "Branch", branch.New),
		EntityName: "Branch",
	})
	s.Departments = domain.NewDocumentService(domain.DocumentServiceConfig[*department.Department]{
		Repo:         repo(s, domain.CollectionDepartments, "Department", department.New),
		EntityName:   "Department",
		BranchScoped: true,
	})
	s.Categories = domain.NewDocumentService(domain.DocumentServiceConfig[*category.Category]{
		Repo:         repo(s, domain.CollectionCategories, "Category", category.New),
		EntityName:   "Category",
		BranchScoped: true,
	})
	s.Expenses = domain.NewDocumentService(domain.DocumentServiceConfig[*expense.Expense]{
		Repo:         repo(s, domain.CollectionExpenses, "Expense", expense.New),
		EntityName:   "Expense",
		BranchScoped: true,
	})
	s.Reports = domain.NewDocumentService(domain.DocumentServiceConfig[*reports.Report]{
		Repo:         repo(s, domain.CollectionReports, "Report", reports.New),
		EntityName:   "Report",
		BranchScoped: true,
	})
	s.Logs = domain.NewDocumentService(domain.DocumentServiceConfig[*audit.Log]{
		Repo:         repo(s, domain.CollectionLogs, "Log", audit.New),
		EntityName:   "Log",
		BranchScoped: true,
	})
	recorder := audit.NewRecorder(s.Logs)

	s.Items = item.NewService(repo(s, domain.CollectionItems, "Item", item.New), s.Metrics.StockApplied)
	s.Transactions = sales.NewTransactionService(repo(s, domain.CollectionTransactions, "Transaction", sales.New))
	s.Returns = returns.NewReturnService(repo(s, domain.CollectionReturns, "Return", returns.New))
	s.Inventory = inventory.NewService(repo(s, domain.CollectionInventoryChecks, "InventoryCheck", inventory.New), s.Items, recorder)

	allocator, err := s.salesIDAllocator()
	if err != nil {
		return err
	}
	s.Sales = sales.NewProcessor(s.Items, s.Transactions, allocator, recorder, s.Metrics)
	s.ReturnsFlow = returns.NewProcessor(s.Items, s.Transactions, s.Returns, recorder, s.Metrics)
	return nil
}

func (s *Services) salesIDAllocator() (salesid.Allocator, error) {
	scan := salesid.NewScanAllocator(s.collection(domain.CollectionTransactions), s.collection(domain.CollectionReturns))
	switch s.Config.SalesIDStrategy {
	case config.SalesIDCounter:
		seq := numerator.NewDocumentSequence(s.collection(domain.CollectionCounters))
		return salesid.NewCounterAllocator(numerator.New(seq, nil), scan), nil
	case config.SalesIDScan, "":
		return scan, nil
	default:
		return nil, fmt.Errorf("unsupported sales id strategy %q", s.Config.SalesIDStrategy)
	}
}

func (s *Services) buildEngine() error {
	if s.JWT == nil {
		return errors.New("replication secret is required for a remote")
	}
	peer, err := httppeer.New(httppeer.Config{
		BaseURL:  strings.TrimRight(s.Config.RemoteURL, "/") + "/api/v1/replication",
		Compress: true,
	}, auth.NewTokenSource(s.JWT, s.Config.NodeID, auth.ScopeReplicate), nil)
	if err != nil {
		return err
	}

	s.Engine = replication.NewEngine(s.Store, peer, replication.Config{
		PeerName:    "authority",
		Collections: domain.ReplicatedCollections(),
		BatchSize:   s.Config.SyncBatchSize,
		Interval:    s.Config.SyncInterval,
	}, replication.WithMetrics(s.Metrics), replication.WithLogger(s.log))

	// Pulled documents bypass the repositories, so their projections are dropped here.
	s.Engine.OnComplete(func(ctx context.Context, result replication.Result) {
		for name, cr := range result.Collections {
			if cr.Pulled > 0 {
				s.InvalidateProjections(ctx, name)
			}
		}
	})
	return nil
}

// InvalidateProjections drops the cached list projections of a collection
// written behind the repositories' back, by replication in either direction.
func (s *Services) InvalidateProjections(ctx context.Context, collection string) {
	if err := s.Cache.InvalidateCollection(ctx, collection); err != nil {
		logger.Warn(ctx, "projection cache invalidation failed", "collection", collection, "error", err)
	}
}

// Close releases stores and connections in reverse order of opening.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
