package v1

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poscore/internal/app"
	"poscore/internal/domain"
	"poscore/internal/domain/audit"
	"poscore/internal/domain/auth"
	"poscore/internal/domain/catalogs/branch"
	"poscore/internal/domain/catalogs/category"
	"poscore/internal/domain/catalogs/department"
	"poscore/internal/domain/catalogs/expense"
	"poscore/internal/domain/reports"
	"poscore/internal/infrastructure/http/v1/handlers"
	"poscore/internal/infrastructure/http/v1/middleware"
	"poscore/internal/replication"
	"poscore/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	Services *app.Services

	// Logger for request logging
	Logger *logger.Logger

	// ServeReplication exposes the replication endpoints; requires Services.JWT.
	ServeReplication bool

	// Debug switches gin to debug mode.
	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()
	svc := cfg.Services

	// Global middleware (order matters!)
	router.Use(middleware.Recovery(cfg.Logger))
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	checks := make(map[string]handlers.Check, len(svc.Checks))
	for name, check := range svc.Checks {
		checks[name] = handlers.Check(check)
	}
	healthHandler := handlers.NewHealthHandler(checks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{})))

	base := handlers.NewBaseHandler()
	v1 := router.Group("/api/v1")
	{
		api := v1.Group("")
		if svc.Idempotency != nil {
			api.Use(middleware.Idempotency(svc.Idempotency))
		}
		registerResourceRoutes(api, base, svc)

		if cfg.ServeReplication && svc.JWT != nil {
			registerReplicationRoutes(v1, base, svc)
		}
	}

	return router
}

func registerResourceRoutes(api *gin.RouterGroup, base *handlers.BaseHandler, svc *app.Services) {
	syncHandler := handlers.NewSyncHandler(base, svc.Engine)
	api.POST("/sync", syncHandler.SyncAll)
	api.GET("/sync/status", syncHandler.Status)

	resource := func(collection string, handler ReadRouteHandler, opts RouteOptions) *gin.RouterGroup {
		group := api.Group("/" + collection)
		group.POST("/sync", syncHandler.SyncCollection(collection))
		RegisterDocumentRoutes(group, handler, opts)
		return group
	}

	resource(domain.CollectionBranches, handlers.NewDocumentHandler(base, svc.Branches, branch.New), RouteOptions{})
	resource(domain.CollectionDepartments, handlers.NewDocumentHandler(base, svc.Departments, department.New), RouteOptions{})
	resource(domain.CollectionCategories, handlers.NewDocumentHandler(base, svc.Categories, category.New), RouteOptions{})
	resource(domain.CollectionExpenses, handlers.NewDocumentHandler(base, svc.Expenses, expense.New), RouteOptions{})
	resource(domain.CollectionReports, handlers.NewDocumentHandler(base, svc.Reports, reports.New), RouteOptions{})
	resource(domain.CollectionLogs, handlers.NewDocumentHandler(base, svc.Logs, audit.New), RouteOptions{})

	itemHandler := handlers.NewItemHandler(base, svc.Items)
	items := resource(domain.CollectionItems, itemHandler, RouteOptions{})
	items.POST("/:id/adjust-stock", itemHandler.AdjustStock)

	resource(domain.CollectionInventoryChecks, handlers.NewInventoryHandler(base, svc.Inventory), RouteOptions{})

	resource(domain.CollectionTransactions,
		handlers.NewTransactionHandler(base, svc.Transactions, svc.Sales),
		RouteOptions{NoUpdate: true, NoDelete: true})
	resource(domain.CollectionReturns,
		handlers.NewReturnHandler(base, svc.Returns, svc.ReturnsFlow),
		RouteOptions{NoDelete: true})
}

func registerReplicationRoutes(v1 *gin.RouterGroup, base *handlers.BaseHandler, svc *app.Services) {
	h := handlers.NewReplicationHandler(base, svc.Store, domain.ReplicatedCollections(), svc.Zstd,
		replication.WithWriteHook(func(ctx context.Context, collection string, _ int) {
			svc.InvalidateProjections(ctx, collection)
		}))

	repl := v1.Group("/replication")
	repl.Use(middleware.PeerAuth(svc.JWT, auth.ScopeReplicate))
	{
		repl.GET("/ping", h.Ping)
		repl.GET("/:collection/changes", h.Changes)
		repl.POST("/:collection/revs-diff", h.RevsDiff)
		repl.POST("/:collection/revisions", h.Revisions)
		repl.POST("/:collection/bulk", h.Bulk)
	}
}

