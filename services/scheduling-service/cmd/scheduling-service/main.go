package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jmendozar/citadesk/libs/config"
	"github.com/jmendozar/citadesk/libs/db"
	"github.com/jmendozar/citadesk/libs/httpx"
	"github.com/jmendozar/citadesk/libs/kafkax"
	otelx "github.com/jmendozar/citadesk/libs/otel"
	"github.com/jmendozar/citadesk/libs/runtime"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/agenda"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/booking"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/consumer"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/handlers"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/inbox"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/outbox"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/refdata"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	location := time.UTC
	if tz := config.String("TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			logger.Error("invalid timezone, falling back to UTC", "tz", tz, "err", err)
		} else {
			location = loc
		}
	}

	offices := storage.NewOfficeRepository(pool)
	services := storage.NewServiceRepository(pool)
	holidays := storage.NewHolidayRepository(pool)
	blackouts := storage.NewBlackoutRepository(pool)
	clients := storage.NewClientRepository(pool)
	appointments := storage.NewAppointmentRepository(pool)

	registry, err := refdata.NewProvider(config.String("REGISTRY_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("registry provider init failed; using local clients only", "err", err)
		registry = nil
	}
	clientSource := storage.NewRegistryClientSource(clients, registry)

	outboxRepo := outbox.NewRepository(pool)
	notifier := outbox.NewNotifier(pool, outboxRepo)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		holidayConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "scheduling-service"),
			Topic:   config.String("KAFKA_HOLIDAY_TOPIC", consumer.TopicHolidayCalendar),
		}, consumer.HolidayHandler(holidays))
		go holidayConsumer.Run(ctx)
	}

	engine := booking.NewEngine(booking.Deps{
		Offices:        offices,
		Services:       services,
		OfficeServices: services,
		Holidays:       holidays,
		Blackouts:      blackouts,
		Clients:        clientSource,
		Ledger:         appointments,
		Notifier:       notifier,
		Logger:         logger,
	}, booking.Config{
		HorizonDays: config.Int("SCHEDULING_HORIZON_DAYS", agenda.DefaultHorizonDays),
		DayPolicy: agenda.DayPolicy{
			DropImminentDay: config.Bool("SCHEDULING_DROP_IMMINENT_DAY", false),
			CutoffHour:      config.Hour("SCHEDULING_CUTOFF_HOUR", 14),
		},
		DefaultPendingQuota: config.Int("PENDING_QUOTA_DEFAULT", 3),
		CancelLead:          time.Duration(config.Int("CANCEL_LEAD_HOURS", 24)) * time.Hour,
		Location:            location,
	})

	jwtSecret, err := config.RequiredString("AUTH_JWT_SECRET")
	if err != nil {
		panic(err)
	}

	handler := handlers.NewSchedulingHandler(engine, logger, location)
	directory := handlers.NewDirectoryHandler(offices, services, logger)
	withAuth := handlers.WithClientAuth(jwtSecret)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/offices", directory.Offices)
	mux.HandleFunc("/api/v1/services", directory.Services)
	mux.HandleFunc("/api/v1/dates", handler.Dates)
	mux.HandleFunc("/api/v1/slots", handler.Slots)
	mux.Handle("/api/v1/appointments", withAuth(pick(handler.Create, handler.List)))
	mux.Handle("/api/v1/appointments/cancel", withAuth(http.HandlerFunc(handler.Cancel)))
	mux.Handle("/api/v1/appointments/detail", withAuth(http.HandlerFunc(handler.Detail)))
	mux.Handle("/api/v1/appointments/remaining", withAuth(http.HandlerFunc(handler.RemainingQuota)))

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	var rateLimitMW httpx.Middleware
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           time.Duration(config.Int("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		}),
		rateLimitMW,
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10))*time.Second),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pick routes one path by method: POST creates, GET lists.
func pick(post, get http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			post(w, r)
		case http.MethodGet:
			get(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
