package handler

import (
	"context"
	"net/http"

	httpadapter "github.com/ClareAI/astra-dialer-service/internal/adapters/http"
	"github.com/ClareAI/astra-dialer-service/internal/cache"
	"github.com/ClareAI/astra-dialer-service/internal/config"
	"github.com/ClareAI/astra-dialer-service/internal/core/task"
	"github.com/ClareAI/astra-dialer-service/internal/domain"
	"github.com/ClareAI/astra-dialer-service/internal/observability"
	"github.com/ClareAI/astra-dialer-service/internal/repository"
	"github.com/ClareAI/astra-dialer-service/internal/services/backfill"
	"github.com/ClareAI/astra-dialer-service/internal/services/call"
	"github.com/ClareAI/astra-dialer-service/internal/services/outcome"
	"github.com/ClareAI/astra-dialer-service/internal/services/webhook"
	"github.com/ClareAI/astra-dialer-service/pkg/gcs"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"github.com/ClareAI/astra-dialer-service/pkg/pubsub"
	"github.com/ClareAI/astra-dialer-service/pkg/redis"
	"github.com/ClareAI/astra-dialer-service/pkg/twilio"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Services are the collaborators the routes are served by
type Services struct {
	Calls      CallInitiator
	Reconciler interface {
		VoiceEventReconciler
		TelephonyStatusReconciler
	}
	Validator CallbackValidator // nil disables Twilio signature checks
	Health    Pinger
	Metrics   *observability.Metrics
}

// HandlerManager manages all handlers and their initialization
type HandlerManager struct {
	config   *config.DialerConfig
	services Services

	// owned resources, released by Close
	repoManager repository.RepositoryManager
	redisSvc    *redis.RedisService
	gcsClient   *gcs.GCSClient
	publisher   *pubsub.PubSubService
}

// NewHandlerManager creates and initializes all handlers and services.
// Redis, GCS and Pub/Sub are optional; each is skipped with a warning when
// unconfigured or unreachable.
func NewHandlerManager(ctx context.Context, cfg *config.DialerConfig) (*HandlerManager, error) {
	metrics := observability.NewMetrics()

	// Database connection opens lazily on first use
	repoManager := repository.NewRepositoryManager()

	hm := &HandlerManager{config: cfg, repoManager: repoManager}

	// Redis backs the delivery ledger and the task bus when configured
	var ledger cache.DeliveryLedger = cache.NewMemoryDeliveryLedger(cache.DefaultDeliveryTTL)
	var taskBus task.Bus = task.NewLocalBus()
	if cfg.RedisEnabled() {
		redisSvc, err := redis.NewRedisService(ctx, &redis.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize redis service, using in-process ledger and task bus", zap.Error(err))
		} else {
			hm.redisSvc = redisSvc
			ledger = cache.NewRedisDeliveryLedger(redisSvc, cache.DefaultDeliveryTTL)
			taskBus = task.NewRedisBus(redisSvc)
			logger.Base().Info("redis ledger and task bus initialized", zap.String("host", cfg.RedisHost))
		}
	}

	voiceClient := httpadapter.NewVoiceAIClient(cfg.VoiceAIBaseURL, cfg.VoiceAIAPIKey, cfg.UpstreamTimeout)
	twilioService := twilio.NewCallService(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber, cfg.UpstreamTimeout)

	classifier := outcome.NewOpenAIClassifier(outcome.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.ClassifierTimeout,
	})
	classifier.OnResult(func(label domain.OutcomeLabel, fallback bool) {
		metrics.RecordOutcome(string(label), fallback)
	})

	callService := call.NewCallService(call.Config{
		PublicBaseURL:       cfg.PublicBaseURL,
		DefaultCountryCode:  cfg.DefaultCountryCode,
		UpstreamTimeout:     cfg.UpstreamTimeout,
		BatchCallsPerSecond: cfg.BatchCallsPerSecond,
		BatchMaxContacts:    cfg.BatchMaxContacts,
	}, repoManager, voiceClient, twilioService, metrics)

	opts := []webhook.Option{
		webhook.WithLedger(ledger),
		webhook.WithTaskBus(taskBus),
		webhook.WithMetrics(metrics),
	}
	if cfg.PubSubProjectID != "" {
		publisher, err := pubsub.NewPubSubService(ctx, &pubsub.PubSubConfig{
			ProjectID: cfg.PubSubProjectID,
			TopicName: cfg.PubSubTopicName,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize pubsub, call events disabled", zap.Error(err))
		} else {
			hm.publisher = publisher
			opts = append(opts, webhook.WithPublisher(publisher))
		}
	}
	reconciler := webhook.NewReconciler(repoManager, classifier, opts...)

	var store backfill.RecordingStore
	if cfg.RecordingBucket != "" {
		gcsClient, err := gcs.NewGCSClient(ctx, cfg.RecordingBucket)
		if err != nil {
			logger.Base().Warn("failed to initialize gcs client, recording backfill disabled", zap.Error(err))
		} else {
			hm.gcsClient = gcsClient
			store = gcsClient
		}
	}

	worker := backfill.NewWorker(repoManager, voiceClient, store, metrics)
	if err := worker.Start(ctx, taskBus); err != nil {
		logger.Base().Error("failed to start backfill worker", zap.Error(err))
	}

	hm.services = Services{
		Calls:      callService,
		Reconciler: reconciler,
		Validator:  callbackValidator(cfg, twilioService),
		Health:     repoManager,
		Metrics:    metrics,
	}
	return hm, nil
}

// callbackValidator checks Twilio signatures unless explicitly switched off
func callbackValidator(cfg *config.DialerConfig, twilioService *twilio.CallService) CallbackValidator {
	if !cfg.TwilioValidateCallbacks {
		logger.Base().Warn("TWILIO_VALIDATE_CALLBACKS=false, accepting unsigned Twilio callbacks")
		return nil
	}
	return twilioService
}

// NewHandlerManagerFromServices wires routes around prebuilt services
func NewHandlerManagerFromServices(cfg *config.DialerConfig, services Services) *HandlerManager {
	return &HandlerManager{config: cfg, services: services}
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	// Apply global middleware
	router.Use(CORSMiddleware)
	router.Use(GlobalLoggingMiddleware)
	router.Use(MetricsMiddleware(hm.services.Metrics))

	NewHealthHandler(hm.services.Health).SetupHealthRoutes(router)
	if hm.services.Metrics != nil {
		router.Handle("/metrics", hm.services.Metrics.Handler()).Methods(http.MethodGet)
	}

	// Provider callbacks authenticate with their own signatures
	NewBridgeHandler(hm.config.PublicBaseURL, hm.services.Validator).SetupBridgeRoutes(router)
	NewTelephonyStatusHandler(hm.services.Reconciler, hm.config.PublicBaseURL, hm.services.Validator).SetupTelephonyStatusRoutes(router)
	NewVoiceWebhookHandler(hm.services.Reconciler, hm.config.WebhookSecret).SetupVoiceWebhookRoutes(router)

	hm.SetupAPIRoutes(router)

	logger.Base().Info("all application routes registered")
}

// SetupAPIRoutes sets up the session-authenticated dashboard routes
func (hm *HandlerManager) SetupAPIRoutes(router *mux.Router) {
	apiRouter := router.NewRoute().Subrouter()
	apiRouter.Use(SessionAuthMiddleware(hm.config.SessionJWTSecret))

	NewCallHandler(hm.services.Calls).SetupCallRoutes(apiRouter)

	if hm.config.SessionJWTSecret == "" {
		logger.Base().Warn("SESSION_JWT_SECRET not set, trusting X-User-ID header (development mode)")
	}
	logger.Base().Info("call api routes registered")
}

// Close releases the resources the manager opened
func (hm *HandlerManager) Close() {
	if hm.publisher != nil {
		if err := hm.publisher.Close(); err != nil {
			logger.Base().Warn("failed to close pubsub client", zap.Error(err))
		}
	}
	if hm.gcsClient != nil {
		if err := hm.gcsClient.Close(); err != nil {
			logger.Base().Warn("failed to close gcs client", zap.Error(err))
		}
	}
	if hm.redisSvc != nil {
		_ = hm.redisSvc.Close()
	}
	if hm.repoManager != nil {
		if err := hm.repoManager.Close(); err != nil {
			logger.Base().Warn("failed to close database", zap.Error(err))
		}
	}
}
