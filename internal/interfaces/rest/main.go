package rest

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echo_middleware "github.com/labstack/echo/v4/middleware"
	"github.com/pot-code/lecture-gate/internal/access"
	infra "github.com/pot-code/lecture-gate/internal/infrastructure"
	"github.com/pot-code/lecture-gate/internal/infrastructure/auth"
	"github.com/pot-code/lecture-gate/internal/infrastructure/driver"
	"github.com/pot-code/lecture-gate/internal/infrastructure/validate"
	"github.com/pot-code/lecture-gate/internal/interfaces/rest/handler"
	"github.com/pot-code/lecture-gate/internal/interfaces/rest/middleware"
	"github.com/pot-code/lecture-gate/internal/lecture"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.elastic.co/apm/module/apmechov4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ShutdownTimeout how long in-flight requests get once Serve's context is done
const ShutdownTimeout = 10 * time.Second

// Serve runs the http transport server and the idle session sweeper until ctx
// is done, then closes every open session
func Serve(
	ctx context.Context,
	conn driver.ITransactionalDB,
	rdb driver.KeyValueDB,
	option *infra.AppConfig,
	registry *access.Registry,
	LectureUseCase lecture.LectureUseCase,
	Receipts handler.ReceiptLookup,
	logger *zap.Logger,
) error {
	app := newApp(conn, rdb, option, registry, LectureUseCase, Receipts, logger)
	printRoutes(app, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", option.Host, option.Port)
		logger.Info("Server started", zap.String("server.address", addr))
		if err := app.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return registry.RunSweeper(gctx, option.Session.SweepInterval, option.Session.IdleTimeout)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		err := app.Shutdown(shutdownCtx)
		registry.Shutdown()
		logger.Info("Server stopped")
		return err
	})
	return g.Wait()
}

func newApp(
	conn driver.ITransactionalDB,
	rdb driver.KeyValueDB,
	option *infra.AppConfig,
	registry *access.Registry,
	LectureUseCase lecture.LectureUseCase,
	Receipts handler.ReceiptLookup,
	logger *zap.Logger,
) *echo.Echo {
	var (
		app       = echo.New()
		metrics   = newServerMetrics(registry)
		validator = validate.NewValidator("en")
		websocket = infra.NewWebsocket(option.Security.AllowOrigins...)
		jwtUtil   = auth.NewJWTUtil(option.Security.JWTMethod,
			option.Security.JWTSecret,
			option.Security.TokenName,
			option.SessionTimeout)
		isRevoked = func(ctx context.Context, token string) (bool, error) {
			return rdb.Exists(ctx, handler.RevokedTokenKey(token))
		}
		tokenMiddleware = middleware.VerifyToken(jwtUtil, &middleware.ValidateTokenOption{
			InBlackList: func(c echo.Context, token string) (bool, error) {
				return isRevoked(c.Request().Context(), token)
			},
			Optional: true,
		})
		refreshMiddleware = middleware.RefreshToken(jwtUtil)
		viewerMiddleware  = middleware.RequireViewer(jwtUtil)
		requestTimeout    = middleware.AbortRequest(&middleware.AbortRequestOption{
			Timeout: option.RequestTimeout,
		})
		paymentTimeout = middleware.AbortRequest(&middleware.AbortRequestOption{
			Timeout: option.Payment.Timeout,
		})
		limiter = middleware.NewKeyedLimiter(middleware.LimiterConfig{
			Rate:  rate.Limit(option.Payment.Rate),
			Burst: option.Payment.Burst,
		})
		unlockLimiter = middleware.RateLimit(limiter,
			&middleware.RateLimitOption{
				Key: func(c echo.Context) string {
					return handler.ViewerID(c, jwtUtil)
				},
				Rejected: metrics.rateLimited,
			},
		)
	)
	app.HideBanner = true
	app.HidePort = true

	registerLivenessProbe(app, conn, rdb)
	app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})))
	if option.Env == infra.EnvDevelopment {
		registerProfileEndpoints(app)

		app.Use(middleware.Logging(logger, &middleware.LoggingConfig{
			Skipper: func(e echo.Context) bool {
				uri := e.Request().RequestURI
				return strings.HasPrefix(uri, "/healthz") || strings.HasPrefix(uri, "/metrics")
			},
		}))
	}
	app.Use(middleware.ErrorHandling(&middleware.ErrorHandlingOption{Logger: logger}))
	app.Use(middleware.NoRouteMatched())
	app.Use(echo_middleware.Secure())
	if option.DevOP.APM {
		app.Use(apmechov4.Middleware())
	}
	app.Use(echo_middleware.CORSWithConfig(echo_middleware.CORSConfig{
		AllowOrigins:     option.Security.AllowOrigins,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestedWith},
		AllowCredentials: true,
	}))

	var (
		AuthHandler    = handler.NewAuthHandler(jwtUtil, rdb, validator, logger)
		CatalogHandler = handler.NewCatalogHandler(LectureUseCase, validator)
		SessionHandler = handler.NewSessionHandler(registry, LectureUseCase, jwtUtil, validator, metrics.unlockOutcomes)
		StreamHandler  = handler.NewStreamHandler(registry, jwtUtil, websocket, &handler.StreamOption{
			Outcomes:          metrics.unlockOutcomes,
			Limiter:           limiter,
			Rejected:          metrics.rateLimited,
			Revoked:           isRevoked,
			PaymentTimeout:    option.Payment.Timeout,
			CloseOnDisconnect: option.Session.CloseOnDisconnect,
		})
		ReceiptHandler = handler.NewReceiptHandler(Receipts)
	)

	createEndpoint(app,
		&endpoint{
			apiVersion: "api/v1",
			middlewares: []echo.MiddlewareFunc{
				echo_middleware.RequestID(),
				middleware.SetTraceLogger(logger),
				tokenMiddleware,
				refreshMiddleware,
			},
			groups: []*apiGroup{
				{
					prefix:      "/auth",
					middlewares: []echo.MiddlewareFunc{requestTimeout},
					routes: []*route{
						{"POST", "/connect", AuthHandler.HandleConnect, nil},
						{"PUT", "/disconnect", AuthHandler.HandleDisconnect, []echo.MiddlewareFunc{viewerMiddleware}},
					},
				},
				{
					prefix:      "/catalog",
					middlewares: []echo.MiddlewareFunc{requestTimeout},
					routes: []*route{
						{"GET", "/search", CatalogHandler.HandleSearch, nil},
					},
				},
				{
					prefix: "/sessions",
					routes: []*route{
						{"POST", "", SessionHandler.HandleOpen, []echo.MiddlewareFunc{requestTimeout}},
						{"GET", "/:id", SessionHandler.HandleGet, []echo.MiddlewareFunc{requestTimeout}},
						{"POST", "/:id/preview", SessionHandler.HandlePreview, []echo.MiddlewareFunc{requestTimeout}},
						{"POST", "/:id/unlock", SessionHandler.HandleUnlock, []echo.MiddlewareFunc{viewerMiddleware, unlockLimiter, paymentTimeout}},
						{"DELETE", "/:id", SessionHandler.HandleClose, []echo.MiddlewareFunc{requestTimeout}},
					},
				},
				{
					prefix:      "/receipts",
					middlewares: []echo.MiddlewareFunc{requestTimeout},
					routes: []*route{
						{"GET", "/:tx", ReceiptHandler.HandleGetReceipt, nil},
					},
				},
				{
					prefix: "/ws",
					routes: []*route{
						{"GET", "/sessions/:id", websocket.WithHeartbeat(StreamHandler.HandleStream), nil},
					},
				},
			},
		})
	return app
}

func registerLivenessProbe(app *echo.Echo, db driver.ITransactionalDB, rdb driver.KeyValueDB) {
	app.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				return c.NoContent(http.StatusServiceUnavailable)
			}
		}
		if err := rdb.Ping(ctx); err != nil {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	})
}

func registerProfileEndpoints(app *echo.Echo) {
	expvarHandler := expvar.Handler()
	app.GET("/debug/vars", func(c echo.Context) error {
		expvarHandler.ServeHTTP(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/", func(c echo.Context) error {
		pprof.Index(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/:name", func(c echo.Context) error {
		switch c.Param("name") {
		case "cmdline":
			pprof.Cmdline(c.Response().Writer, c.Request())
		case "profile":
			pprof.Profile(c.Response().Writer, c.Request())
		case "symbol":
			pprof.Symbol(c.Response().Writer, c.Request())
		case "trace":
			pprof.Trace(c.Response().Writer, c.Request())
		default:
			pprof.Handler(c.Param("name")).ServeHTTP(c.Response().Writer, c.Request())
		}
		return nil
	})
}
