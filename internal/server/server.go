package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ruledomain "github.com/smallbiznis/ziswaf/internal/allocationrule/domain"
	auditdomain "github.com/smallbiznis/ziswaf/internal/audit/domain"
	"github.com/smallbiznis/ziswaf/internal/cascade"
	cascadedomain "github.com/smallbiznis/ziswaf/internal/cascade/domain"
	collectiondomain "github.com/smallbiznis/ziswaf/internal/collection/domain"
	"github.com/smallbiznis/ziswaf/internal/config"
	distributiondomain "github.com/smallbiznis/ziswaf/internal/distribution/domain"
	"github.com/smallbiznis/ziswaf/internal/observability"
	obsmiddleware "github.com/smallbiznis/ziswaf/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ziswaf/internal/observability/metrics"
	obstracing "github.com/smallbiznis/ziswaf/internal/observability/tracing"
	"github.com/smallbiznis/ziswaf/internal/ratelimit"
	recapdomain "github.com/smallbiznis/ziswaf/internal/recap/domain"
	"github.com/smallbiznis/ziswaf/internal/report"
	unitdomain "github.com/smallbiznis/ziswaf/internal/unit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// recomputeTasks is the operator surface of the recompute queue.
type recomputeTasks interface {
	ListDead(ctx context.Context, limit int) ([]cascadedomain.Task, error)
	Requeue(ctx context.Context, id string) (*cascadedomain.Task, error)
	RequestRebuild(ctx context.Context, req cascadedomain.RebuildRequest) (*cascadedomain.RebuildResponse, error)
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	ruleSvc         ruledomain.Service
	resolver        ruledomain.Resolver
	unitSvc         unitdomain.Service
	transactionSvc  collectiondomain.TransactionService
	depositSvc      collectiondomain.DepositService
	importer        collectiondomain.Importer
	distributionSvc distributiondomain.Service
	recapSvc        recapdomain.Service
	tasks           recomputeTasks
	reportSvc       report.Service
	auditSvc        auditdomain.Service
	importLimiter   *ratelimit.ImportLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	RuleSvc         ruledomain.Service
	Resolver        ruledomain.Resolver
	UnitSvc         unitdomain.Service
	TransactionSvc  collectiondomain.TransactionService
	DepositSvc      collectiondomain.DepositService
	Importer        collectiondomain.Importer
	DistributionSvc distributiondomain.Service
	RecapSvc        recapdomain.Service
	Queue           *cascade.Queue
	ReportSvc       report.Service
	AuditSvc        auditdomain.Service      `optional:"true"`
	ImportLimiter   *ratelimit.ImportLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		ruleSvc:         p.RuleSvc,
		resolver:        p.Resolver,
		unitSvc:         p.UnitSvc,
		transactionSvc:  p.TransactionSvc,
		depositSvc:      p.DepositSvc,
		importer:        p.Importer,
		distributionSvc: p.DistributionSvc,
		recapSvc:        p.RecapSvc,
		tasks:           p.Queue,
		reportSvc:       p.ReportSvc,
		auditSvc:        p.AuditSvc,
		importLimiter:   p.ImportLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	rules := api.Group("/allocation-rules")
	rules.GET("", s.ListAllocationRules)
	rules.POST("", s.CreateAllocationRule)
	rules.GET("/resolve", s.ResolveAllocationRule)
	rules.GET("/:id", s.GetAllocationRule)
	rules.PUT("/:id", s.UpdateAllocationRule)
	rules.DELETE("/:id", s.DeleteAllocationRule)

	units := api.Group("/units")
	units.GET("", s.ListUnits)
	units.POST("", s.CreateUnit)
	units.GET("/:id", s.GetUnit)
	units.PUT("/:id", s.UpdateUnit)

	transactions := api.Group("/transactions")
	transactions.GET("", s.ListTransactions)
	transactions.POST("", s.CreateTransaction)
	transactions.POST("/import", s.ImportTransactions)
	transactions.GET("/:id", s.GetTransaction)
	transactions.PUT("/:id", s.UpdateTransaction)
	transactions.DELETE("/:id", s.DeleteTransaction)
	transactions.POST("/:id/restore", s.RestoreTransaction)
	transactions.DELETE("/:id/force", s.ForceDeleteTransaction)

	distributions := api.Group("/distributions")
	distributions.POST("", s.CreateDistribution)
	distributions.GET("/:id", s.GetDistribution)
	distributions.PUT("/:id", s.UpdateDistribution)
	distributions.DELETE("/:id", s.DeleteDistribution)
	distributions.POST("/:id/restore", s.RestoreDistribution)
	distributions.DELETE("/:id/force", s.ForceDeleteDistribution)

	deposits := api.Group("/deposits")
	deposits.POST("", s.CreateDeposit)
	deposits.GET("/:id", s.GetDeposit)
	deposits.PUT("/:id", s.UpdateDeposit)
	deposits.DELETE("/:id", s.DeleteDeposit)
	deposits.POST("/:id/restore", s.RestoreDeposit)
	deposits.DELETE("/:id/force", s.ForceDeleteDeposit)

	api.GET("/recaps/:kind", s.ListRecaps)
	api.GET("/allocations/preview", s.PreviewAllocation)

	tasks := api.Group("/recompute-tasks")
	tasks.GET("/dead", s.ListDeadTasks)
	tasks.POST("/rebuild", s.RebuildRecaps)
	tasks.POST("/:id/requeue", s.RequeueTask)

	api.GET("/reports/unit-summary.xlsx", s.UnitSummaryXLSX)
	api.GET("/reports/unit-summary.pdf", s.UnitSummaryPDF)

	if s.auditSvc != nil {
		api.GET("/audit-logs", s.ListAuditLogs)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
