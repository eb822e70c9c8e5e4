package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fitly-app/fitly/internal"
	"github.com/fitly-app/fitly/internal/config"
	"github.com/fitly-app/fitly/internal/logging"

	log "github.com/sirupsen/logrus"
)

func main() {
	fmt.Println("starting ...")

	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	flag.Parse()

	log.Warnf("---->> running in [%s] environment", *env)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    false,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        sentryDSN,
		SentryServerName: "fitly-service",
	})

	log.Debugf("using port: %d", cfg.Port)
	log.Debugf("using server logs path: [%s]", cfg.LogsPath)

	versionInfo, err := tryGetLastCommitHash()
	if err != nil {
		log.Tracef("failed to get last commit hash / version info: %s", err)
	} else {
		log.Tracef("running version: %s", versionInfo)
	}

	adminUsername := os.Getenv("FITLY_ADMIN_USERNAME")
	adminPasswordHash := os.Getenv("FITLY_ADMIN_PASSWORD_HASH")
	if adminUsername == "" || adminPasswordHash == "" {
		log.Fatalf("admin username and password not set. use FITLY_ADMIN_USERNAME and FITLY_ADMIN_PASSWORD_HASH")
	}

	providerSecrets := internal.ProviderSecrets{
		OuraClientID:       os.Getenv("FITLY_OURA_CLIENT_ID"),
		OuraClientSecret:   os.Getenv("FITLY_OURA_CLIENT_SECRET"),
		StravaClientID:     os.Getenv("FITLY_STRAVA_CLIENT_ID"),
		StravaClientSecret: os.Getenv("FITLY_STRAVA_CLIENT_SECRET"),
		WithingsClientID:   os.Getenv("FITLY_WITHINGS_CLIENT_ID"),
		WithingsSecret:     os.Getenv("FITLY_WITHINGS_CLIENT_SECRET"),
		PelotonUsername:    os.Getenv("FITLY_PELOTON_USERNAME"),
		PelotonPassword:    os.Getenv("FITLY_PELOTON_PASSWORD"),
	}
	if providerSecrets.OuraClientID == "" {
		log.Errorf("oura client id not set. use FITLY_OURA_CLIENT_ID")
	}
	if providerSecrets.StravaClientID == "" {
		log.Errorf("strava client id not set. use FITLY_STRAVA_CLIENT_ID")
	}
	if providerSecrets.WithingsClientID == "" {
		log.Errorf("withings client id not set. use FITLY_WITHINGS_CLIENT_ID")
	}
	if providerSecrets.PelotonUsername == "" {
		log.Warnf("peloton credentials not set, peloton sync will be skipped. use FITLY_PELOTON_USERNAME and FITLY_PELOTON_PASSWORD")
	}

	redisPassword := os.Getenv("FITLY_REDIS_PASS")
	if redisPassword == "" {
		log.Errorf("redis password not set. use FITLY_REDIS_PASS")
	}

	if otelServiceName := os.Getenv("OTEL_SERVICE_NAME"); otelServiceName == "" {
		log.Warnln("OTEL_SERVICE_NAME env var not set")
	}

	honeycombEnabled := os.Getenv("HONEYCOMB_ENABLED") == "true"
	if honeycombEnabled {
		if honeycombApiKey := os.Getenv("HONEYCOMB_API_KEY"); honeycombApiKey == "" {
			log.Warnln("HONEYCOMB_API_KEY env var not set")
		}
	} else {
		log.Debugln("honeycomb tracing disabled")
	}

	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:                  cfg,
			ProviderSecrets:         providerSecrets,
			VersionInfo:             versionInfo,
			AdminUsername:           adminUsername,
			AdminPasswordHash:       adminPasswordHash,
			RedisPassword:           redisPassword,
			HoneycombTracingEnabled: honeycombEnabled,
		},
	)
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	server.Serve(ctx, cfg.Host, cfg.Port)

	receivedSig := <-chOsInterrupt
	log.Warnf("signal [%s] received, shutting down ...", receivedSig)
	cancel()

	server.GracefulShutdown()
}

// tryGetLastCommitHash will try to get the last commit hash
// assumes that the built main executable is in project root
func tryGetLastCommitHash() (string, error) {
	cmd := exec.Command("/usr/bin/git", "rev-parse", "HEAD")
	stdout, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}
