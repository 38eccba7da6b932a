package http

import (
	"context"
	"net/http"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vireopay/merchant-gateway/internal/agents"
	"github.com/vireopay/merchant-gateway/internal/config"
	"github.com/vireopay/merchant-gateway/internal/http/middleware"
	"github.com/vireopay/merchant-gateway/internal/keys"
	"github.com/vireopay/merchant-gateway/internal/logger"
	"github.com/vireopay/merchant-gateway/internal/metrics"
	"github.com/vireopay/merchant-gateway/internal/onboarding"
	"github.com/vireopay/merchant-gateway/internal/psp"
	"github.com/vireopay/merchant-gateway/internal/ratelimit"
	"github.com/vireopay/merchant-gateway/internal/repository"
	"github.com/vireopay/merchant-gateway/internal/usage"
)

type Server struct {
	e   *echo.Echo
	rec *usage.Recorder
}

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, ledgerPub usage.Publisher) *Server {
	// repos (MySQL)
	merchantsRepo := repository.NewMerchantsRepository(mysqlDB)
	agentsRepo := repository.NewAgentsRepository(mysqlDB)
	keysRepo := repository.NewAPIKeysRepository(mysqlDB)

	// repos (ClickHouse)
	usageRepo := repository.NewCHUsageRepository(clickhouseDB)

	// services
	keyManager := keys.NewManager(keysRepo, merchantsRepo, agentsRepo)
	pspService := psp.NewService(cfg.PSP)
	onboardingSvc := onboarding.New(merchantsRepo, keyManager, pspService, cfg.Onboarding)
	agentsSvc := agents.New(agentsRepo, keyManager, cfg.AgentAuth)
	limiter := ratelimit.NewLimiter(rds, cfg.RateLimit)
	recorder := usage.NewRecorder(ledgerPub)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	usageMW := middleware.RecordUsage(recorder)
	authMW := middleware.TenantAuth(keyManager)
	rlMW := middleware.RateLimit(limiter)
	adminMW := middleware.AdminAuth(cfg.Admin.Keys)

	// public onboarding entry points
	pub := e.Group("/v1", usageMW)
	pub.POST("/merchants", registerMerchantHandler(onboardingSvc))
	pub.POST("/agents/signin", agentSigninHandler(agentsSvc))

	// employee review surface
	admin := e.Group("/v1", usageMW, adminMW)
	admin.GET("/merchants/:id", getMerchantHandler(onboardingSvc))
	admin.POST("/merchants/:id/documents", uploadDocumentHandler(onboardingSvc))
	admin.POST("/merchants/:id/review", reviewHandler(onboardingSvc))
	admin.POST("/merchants/:id/reset", resetHandler(onboardingSvc))
	admin.POST("/merchants/:id/psp", connectPSPHandler(onboardingSvc))
	admin.DELETE("/merchants/:id", deleteMerchantHandler(onboardingSvc))
	admin.GET("/reports/funnel", funnelHandler(onboardingSvc))

	// authenticated tenant surface: key auth, token bucket, usage ledger
	v1 := e.Group("/v1", usageMW, authMW, rlMW)
	v1.GET("/whoami", whoamiHandler())
	v1.GET("/keys", listKeysHandler(keyManager))
	v1.POST("/keys/rotate", rotateKeyHandler(keyManager))
	v1.DELETE("/keys/:id", revokeKeyHandler(keyManager))
	v1.GET("/usage/summary", usageSummaryHandler(usageRepo))
	v1.GET("/usage/timeline", usageTimelineHandler(usageRepo))

	return &Server{e: e, rec: recorder}
}

func (s *Server) Start(addr string) error {
	logger.Log.Info("http server starting", zap.String("addr", addr))
	return s.e.Start(addr)
}
// Shutdown stops the listener first, then drains the usage queue so
// records from in-flight requests still reach the broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.e.Shutdown(ctx)
	s.rec.Close()
	return err
}
