// Command server starts the CirrusDrive API HTTP service.
package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"cirrusdrive/internal/api"
	"cirrusdrive/internal/auth"
	"cirrusdrive/internal/mail"
	"cirrusdrive/internal/observability/logging"
	"cirrusdrive/internal/observability/metrics"
	"cirrusdrive/internal/server"
	"cirrusdrive/internal/serverutil"
	"cirrusdrive/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	filesRoot := flag.String("files-root", "", "directory for uploaded file content")
	shareStoreDriver := flag.String("share-store", "", "share-link store driver (memory, redis, or postgres)")
	shareRedisAddr := flag.String("share-redis-addr", "", "Redis address for the share-link store")
	shareRedisUsername := flag.String("share-redis-username", "", "Redis username for the share-link store")
	shareRedisPassword := flag.String("share-redis-password", "", "Redis password for the share-link store")
	shareRedisDB := flag.Int("share-redis-db", 0, "Redis database index for the share-link store")
	shareRedisTimeout := flag.Duration("share-redis-timeout", 0, "timeout for share-link Redis operations")
	sharePostgresDSN := flag.String("share-postgres-dsn", "", "Postgres DSN for the share-link store")
	jwtSecret := flag.String("jwt-secret", "", "HMAC secret for signing tokens")
	jwtTTL := flag.Duration("jwt-ttl", 0, "token lifetime")
	smtpAddr := flag.String("smtp-addr", "", "SMTP relay address for outgoing mail")
	smtpFrom := flag.String("smtp-from", "", "From address for outgoing mail")
	smtpUsername := flag.String("smtp-username", "", "SMTP username")
	smtpPassword := flag.String("smtp-password", "", "SMTP password")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate-limit Redis operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated browser origins allowed to call the API")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("CIRRUSDRIVE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("CIRRUSDRIVE_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("CIRRUSDRIVE_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("CIRRUSDRIVE_ADDR"))

	secret := firstNonEmpty(*jwtSecret, os.Getenv("CIRRUSDRIVE_JWT_SECRET"))
	if secret == "" {
		logger.Error("no token secret configured: set CIRRUSDRIVE_JWT_SECRET or --jwt-secret")
		os.Exit(1)
	}
	ttl := resolveDuration(*jwtTTL, "CIRRUSDRIVE_JWT_TTL", auth.DefaultTokenTTL)
	tokens, err := auth.NewTokenManager([]byte(secret), ttl)
	if err != nil {
		logger.Error("failed to configure token manager", "error", err)
		os.Exit(1)
	}

	resolvedPostgresDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("CIRRUSDRIVE_STORAGE_DRIVER"), resolvedPostgresDSN)
	if err != nil {
		logger.Error("failed to resolve datastore driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres datastore driver", "driver", driver)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("CIRRUSDRIVE_DATA"))
		store, err = storage.NewStorage(dataFile)
	case "postgres":
		if resolvedPostgresDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.PostgresOption
		maxConns := resolveInt(*postgresMaxConns, "CIRRUSDRIVE_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "CIRRUSDRIVE_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(minConns), int32(maxConns)))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("CIRRUSDRIVE_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(resolvedPostgresDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	blobs, err := storage.NewBlobStore(resolveFilesRoot(*filesRoot, os.Getenv("CIRRUSDRIVE_FILES_ROOT")))
	if err != nil {
		logger.Error("failed to open blob store", "error", err)
		os.Exit(1)
	}

	shareDriver := resolveShareStoreDriver(
		*shareStoreDriver,
		os.Getenv("CIRRUSDRIVE_SHARE_STORE"),
		firstNonEmpty(*shareRedisAddr, os.Getenv("CIRRUSDRIVE_SHARE_REDIS_ADDR")),
		driver,
	)

	var (
		shareStore  auth.ShareLinkStore
		shareCloser func(context.Context) error
	)
	switch shareDriver {
	case "memory":
		shareStore = auth.NewMemoryShareLinkStore()
	case "redis":
		redisStore, err := auth.NewRedisShareLinkStore(auth.RedisShareLinkConfig{
			Addr:     firstNonEmpty(*shareRedisAddr, os.Getenv("CIRRUSDRIVE_SHARE_REDIS_ADDR")),
			Username: firstNonEmpty(*shareRedisUsername, os.Getenv("CIRRUSDRIVE_SHARE_REDIS_USERNAME")),
			Password: firstNonEmpty(*shareRedisPassword, os.Getenv("CIRRUSDRIVE_SHARE_REDIS_PASSWORD")),
			DB:       resolveInt(*shareRedisDB, "CIRRUSDRIVE_SHARE_REDIS_DB"),
			Timeout:  resolveDuration(*shareRedisTimeout, "CIRRUSDRIVE_SHARE_REDIS_TIMEOUT", 0),
		})
		if err != nil {
			logger.Error("failed to open share-link store", "error", err)
			os.Exit(1)
		}
		shareStore = redisStore
		shareCloser = func(context.Context) error { return redisStore.Close() }
	case "postgres":
		dsn := firstNonEmpty(*sharePostgresDSN, os.Getenv("CIRRUSDRIVE_SHARE_POSTGRES_DSN"), resolvedPostgresDSN)
		pgStore, err := auth.NewPostgresShareLinkStore(dsn)
		if err != nil {
			logger.Error("failed to open share-link store", "error", err)
			os.Exit(1)
		}
		shareStore = pgStore
		shareCloser = pgStore.Close
	default:
		logger.Error("unsupported share-link store driver", "driver", shareDriver)
		os.Exit(1)
	}

	shareLinks := auth.NewShareLinkManager(auth.WithShareLinkStore(shareStore))

	var mailer mail.Mailer
	if smtp := firstNonEmpty(*smtpAddr, os.Getenv("CIRRUSDRIVE_SMTP_ADDR")); smtp != "" {
		smtpMailer, err := mail.NewSMTPMailer(mail.SMTPConfig{
			Addr:     smtp,
			From:     firstNonEmpty(*smtpFrom, os.Getenv("CIRRUSDRIVE_SMTP_FROM")),
			Username: firstNonEmpty(*smtpUsername, os.Getenv("CIRRUSDRIVE_SMTP_USERNAME")),
			Password: firstNonEmpty(*smtpPassword, os.Getenv("CIRRUSDRIVE_SMTP_PASSWORD")),
		})
		if err != nil {
			logger.Error("failed to configure mailer", "error", err)
			os.Exit(1)
		}
		mailer = smtpMailer
	} else {
		mailer = mail.LogMailer{Logger: logging.WithComponent(logger, "mail")}
	}

	handler := api.NewHandler(store, tokens, shareLinks, blobs)
	handler.Mailer = mailer
	handler.Logger = logging.WithComponent(logger, "api")
	handler.Metrics = recorder

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "CIRRUSDRIVE_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "CIRRUSDRIVE_RATE_GLOBAL_BURST"),
		LoginLimit:    resolveInt(*loginLimit, "CIRRUSDRIVE_RATE_LOGIN_LIMIT"),
		LoginWindow:   resolveDuration(*loginWindow, "CIRRUSDRIVE_RATE_LOGIN_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("CIRRUSDRIVE_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("CIRRUSDRIVE_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "CIRRUSDRIVE_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		TLS:       server.TLSConfig{CertFile: firstNonEmpty(*tlsCert, os.Getenv("CIRRUSDRIVE_TLS_CERT")), KeyFile: firstNonEmpty(*tlsKey, os.Getenv("CIRRUSDRIVE_TLS_KEY"))},
		RateLimit: rateCfg,
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("CIRRUSDRIVE_CORS_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	closers := []func(context.Context) error{}
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		closers = append(closers, closer.Close)
	}
	if shareCloser != nil {
		closers = append(closers, shareCloser)
	}

	logger.Info("CirrusDrive API listening", "addr", listenAddr, "mode", serverMode, "storage_driver", driver, "share_store", shareDriver)
	logger.Info("metrics endpoint available", "path", "/metrics")

	if err := serverutil.Run(srv, serverutil.Config{
		Logger:  logger,
		Closers: closers,
	}); err != nil {
		os.Exit(1)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return fallback
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("CIRRUSDRIVE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

// resolveShareStoreDriver picks the share-link store. Explicit configuration
// wins; otherwise a configured Redis address selects redis, and the postgres
// datastore driver carries the share links in the same database. Development
// falls back to the in-memory store.
func resolveShareStoreDriver(flagValue, envValue, redisAddr, storageDriver string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if strings.TrimSpace(redisAddr) != "" {
		return "redis"
	}
	if storageDriver == "postgres" {
		return "postgres"
	}
	return "memory"
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolveFilesRoot(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/files"
}
