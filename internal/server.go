package internal

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fitly-app/fitly/internal/athlete"
	"github.com/fitly-app/fitly/internal/auth"
	"github.com/fitly-app/fitly/internal/config"
	"github.com/fitly-app/fitly/internal/db"
	"github.com/fitly-app/fitly/internal/fitness"
	"github.com/fitly-app/fitly/internal/hrv"
	"github.com/fitly-app/fitly/internal/middleware"
	"github.com/fitly-app/fitly/internal/misc"
	"github.com/fitly-app/fitly/internal/providers"
	"github.com/fitly-app/fitly/internal/providers/oura"
	"github.com/fitly-app/fitly/internal/providers/peloton"
	"github.com/fitly-app/fitly/internal/providers/strava"
	"github.com/fitly-app/fitly/internal/providers/withings"
	datasync "github.com/fitly-app/fitly/internal/sync"
	"github.com/fitly-app/fitly/internal/telemetry/metrics"
	metricsmiddleware "github.com/fitly-app/fitly/internal/telemetry/metrics/middleware"
	"github.com/fitly-app/fitly/internal/telemetry/tracing"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config        *config.Config
	dbPool        *pgxpool.Pool
	quotesManager *misc.QuotesManager

	redisClient  *redis.Client
	loginChecker *auth.LoginChecker
	authService  *auth.Service

	connections   *providers.ConnectionsRepo
	oauthClients  []providers.OAuthProvider
	pelotonClient *peloton.Client
	orchestrator  *datasync.Orchestrator
	scheduler     *datasync.Scheduler
	planEngine    *hrv.Engine

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type ProviderSecrets struct {
	OuraClientID       string
	OuraClientSecret   string
	StravaClientID     string
	StravaClientSecret string
	WithingsClientID   string
	WithingsSecret     string
	PelotonUsername    string
	PelotonPassword    string
}

type NewServerParams struct {
	Config                  *config.Config
	ProviderSecrets         ProviderSecrets
	VersionInfo             string
	AdminUsername           string
	AdminPasswordHash       string
	RedisPassword           string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         params.Config.PostgresHost,
		DBPort:         params.Config.PostgresPort,
		DBName:         params.Config.PostgresDBName,
		TracingEnabled: params.HoneycombTracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("new db pool: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Warnf("failed to ping db: %s", err)
	}

	pgxpoolCollector := pgxpoolprometheus.NewCollector(
		dbPool,
		map[string]string{"db_name": params.Config.PostgresDBName},
	)
	promRegistry := metrics.SetupPrometheus(pgxpoolCollector)
	metricsManager := metrics.NewManager("fitly", "service", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(params.Config.RedisHost, params.Config.RedisPort),
		Password: params.RedisPassword,
		DB:       0, // use default DB
	})

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	authService := auth.NewAuthService(&auth.Admin{
		Username:     params.AdminUsername,
		PasswordHash: params.AdminPasswordHash,
	}, auth.DefaultTTL, rdb)
	go func() {
		for range time.Tick(time.Hour * 8) {
			authService.ScanAndClean(ctx)
		}
	}()

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "fitly-backend", rdb)
	if err != nil {
		return nil, err
	}

	tracedHttpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	cfg := params.Config
	secrets := params.ProviderSecrets
	connections := providers.NewConnectionsRepo(dbPool)

	ouraClient := oura.NewClient(oura.Config{
		APIURL:       valueOrDefault(cfg.OuraAPIURL, "https://api.ouraring.com"),
		AuthURL:      valueOrDefault(cfg.OuraAuthURL, "https://cloud.ouraring.com"),
		ClientID:     secrets.OuraClientID,
		ClientSecret: secrets.OuraClientSecret,
		RedirectURI:  cfg.OuraRedirectURI,
	}, connections, tracedHttpClient)
	stravaClient := strava.NewClient(strava.Config{
		APIURL:       valueOrDefault(cfg.StravaAPIURL, "https://www.strava.com"),
		AuthURL:      valueOrDefault(cfg.StravaAuthURL, "https://www.strava.com"),
		ClientID:     secrets.StravaClientID,
		ClientSecret: secrets.StravaClientSecret,
		RedirectURI:  cfg.StravaRedirectURI,
	}, connections, tracedHttpClient)
	withingsClient := withings.NewClient(withings.Config{
		APIURL:       valueOrDefault(cfg.WithingsAPIURL, "https://wbsapi.withings.net"),
		AuthURL:      valueOrDefault(cfg.WithingsAuthURL, "https://account.withings.com"),
		ClientID:     secrets.WithingsClientID,
		ClientSecret: secrets.WithingsSecret,
		RedirectURI:  cfg.WithingsRedirect,
	}, connections, tracedHttpClient)
	pelotonClient := peloton.NewClient(peloton.Config{
		APIURL:   valueOrDefault(cfg.PelotonAPIURL, "https://api.onepeloton.com"),
		Username: secrets.PelotonUsername,
		Password: secrets.PelotonPassword,
	}, tracedHttpClient)

	fitnessRepo := fitness.NewRepo(dbPool)
	athleteRepo := athlete.NewRepo(dbPool)
	stepsRepo := hrv.NewRepo(dbPool)

	planEngine := hrv.NewEngine(stepsRepo, fitnessRepo, athleteRepo, metricsManager)
	orchestrator := datasync.NewOrchestrator(
		fitnessRepo,
		athleteRepo,
		[]providers.Provider{ouraClient, stravaClient, withingsClient, pelotonClient},
		planEngine,
		metricsManager,
	)

	s := &Server{
		config:      cfg,
		dbPool:      dbPool,
		versionInfo: params.VersionInfo,

		redisClient:  rdb,
		authService:  authService,
		loginChecker: auth.NewLoginChecker(auth.DefaultTTL, rdb),

		connections:   connections,
		oauthClients:  []providers.OAuthProvider{ouraClient, stravaClient, withingsClient},
		pelotonClient: pelotonClient,
		orchestrator:  orchestrator,
		scheduler: datasync.NewScheduler(
			orchestrator,
			time.Duration(cfg.ScheduledRefreshMinutes)*time.Minute,
		),
		planEngine: planEngine,

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}

	quotesCsvFile, err := os.Open(cfg.QuotesCsvPath)
	if err != nil {
		return nil, fmt.Errorf("open quotes file: %w", err)
	}
	defer func() {
		if err := quotesCsvFile.Close(); err != nil {
			log.Warnf("close quotes csv file: %s", err)
		}
	}()

	s.quotesManager, err = misc.NewQuoteManager(csv.NewReader(quotesCsvFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create quote manager: %s", err)
	}

	return s, nil
}

func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func (s *Server) routerSetup() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("fitly-router"))

	reqRateLimiter := redis_rate.NewLimiter(s.redisClient)
	miscHandler := misc.NewHandler(s.quotesManager, s.versionInfo, s.authService)
	miscHandler.SetupRoutes(r, reqRateLimiter, s.metricsManager, s.config.LoginRateLimitAllowedPerMin)

	athleteHandler := athlete.NewHandler(athlete.NewRepo(s.dbPool), s.pelotonClient)
	r.HandleFunc("/athlete", athleteHandler.HandleGet).Methods("GET", "OPTIONS").Name("get-athlete")
	r.HandleFunc("/athlete/peloton/bookmarks", athleteHandler.HandleUpdateBookmarks).Methods("PUT", "OPTIONS").Name("update-bookmarks")
	r.HandleFunc("/athlete/{field}", athleteHandler.HandleUpdateField).Methods("PUT", "OPTIONS").Name("update-athlete-field")

	providersHandler := providers.NewHandler(s.connections, s.oauthClients)
	r.HandleFunc("/connections", providersHandler.HandleConnections).Methods("GET", "OPTIONS").Name("connections")
	r.HandleFunc("/oauth/{provider}/connect", providersHandler.HandleConnect).Methods("GET").Name("oauth-connect")
	r.HandleFunc("/oauth/{provider}/redirect", providersHandler.HandleRedirect).Methods("GET").Name("oauth-redirect")

	hrvHandler := hrv.NewHandler(s.planEngine)
	r.HandleFunc("/hrv/plan", hrvHandler.HandlePlan).Methods("GET", "OPTIONS").Name("hrv-plan")
	r.HandleFunc("/hrv/reset", hrvHandler.HandleReset).Methods("POST", "OPTIONS").Name("hrv-reset")

	refreshHandler := datasync.NewHandler(s.orchestrator)
	refreshSubrouter := r.PathPrefix("/refresh").Subrouter()
	refreshSubrouter.HandleFunc("", refreshHandler.HandleRefresh).Methods("POST", "OPTIONS").Name("refresh")
	refreshSubrouter.Use(middleware.RateLimit(
		reqRateLimiter, "refresh",
		s.config.RefreshRateLimitAllowedPerMin, s.metricsManager,
	))

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "OPTIONS").Name("unknown")

	authMiddleware := middleware.NewAuthMiddlewareHandler(s.loginChecker)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors())
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest())

	return r, nil
}

func (s *Server) Serve(ctx context.Context, host string, port int) {
	router, err := s.routerSetup()
	if err != nil {
		log.Fatalf("failed to setup router: %s", err)
	}

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", metricsmiddleware.
		New(s.promRegistry, nil).
		WrapHandler("/metrics", promhttp.HandlerFor(
			s.promRegistry,
			promhttp.HandlerOpts{}),
		))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("fitly service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.scheduler.Start(ctx)

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown http server")
	}
	log.Warnln("server shut down")

	if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
		log.Error(" >>> failed to gracefully shutdown metrics http server")
	}
	log.Warnln("metrics server shut down")
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
