package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"contact-service/internal/backup"
	"contact-service/internal/captcha"
	"contact-service/internal/client"
	"contact-service/internal/config"
	"contact-service/internal/events"
	"contact-service/internal/mailer"
	"contact-service/internal/ratelimit"
	"contact-service/internal/search"
	"contact-service/internal/service"
	"contact-service/internal/tls"
	"contact-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Components
	limiter     *ratelimit.Limiter
	backupIndex *backup.Index
	backupStore *backup.Store
	verifier    captcha.Verifier
	mailer      *mailer.Mailer
	publisher   events.Publisher
	searchIndex *search.Index

	serviceFactory *service.ServiceFactory
	mu             sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads the configuration, initializes the global logger and
// builds every dependency.
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return New(ctx, cfg, util.Named("contactd"))
}

// New builds the dependencies described by cfg. Optional backends that fail
// to initialize are logged and skipped; the form endpoint keeps working
// without them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		logger.Warn("Configuration incomplete", zap.Error(err))
	}

	f := &Factory{
		config: cfg,
		logger: logger,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.Environment)
	}

	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeComponents(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	logger.Info("Factory initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.Bool("tls_enabled", cfg.Server.EnableTLS),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
		zap.Bool("captcha_configured", f.verifier != nil),
		zap.Bool("search_enabled", f.searchIndex != nil),
	)

	return f, nil
}

// initializeClients connects the external backends that are configured.
// Only Redis is critical, and only when it backs the rate limiter.
func (f *Factory) initializeClients(ctx context.Context) error {
	cfg := f.config

	if cfg.Redis.URL != "" {
		c, err := client.NewRedisClient(ctx, cfg.Redis, f.logger.Named("redis"))
		if err != nil {
			if cfg.RateLimit.Backend == "redis" {
				return fmt.Errorf("redis: %w", err)
			}
			f.logger.Warn("Redis unavailable - proceeding without it", zap.Error(err))
		} else {
			f.redisClient = c
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		p, err := client.NewKafkaProducer(cfg.Kafka, f.logger.Named("kafka"))
		if err != nil {
			f.logger.Warn("Kafka producer initialization failed - proceeding without Kafka", zap.Error(err))
		} else {
			f.kafkaProducer = p
		}
	}

	if cfg.Clickhouse.URL != "" {
		c, err := client.NewClickHouseClient(ctx, cfg.Clickhouse, f.logger.Named("clickhouse"))
		if err != nil {
			f.logger.Warn("ClickHouse unavailable - proceeding without analytics", zap.Error(err))
		} else {
			f.clickhouseClient = c
		}
	}

	if cfg.Elasticsearch.URL != "" {
		c, err := client.NewElasticsearchClient(ctx, cfg.Elasticsearch, f.logger.Named("elasticsearch"))
		if err != nil {
			f.logger.Warn("Elasticsearch unavailable - admin search disabled", zap.Error(err))
		} else {
			f.esClient = c
		}
	}

	return nil
}

func (f *Factory) initializeComponents(ctx context.Context) error {
	cfg := f.config

	store, err := f.rateLimitStore()
	if err != nil {
		return err
	}
	rules := make([]ratelimit.Rule, 0, len(cfg.RateLimit.Rules))
	for _, r := range cfg.RateLimit.Rules {
		rules = append(rules, ratelimit.Rule{Window: r.Window, Limit: r.Limit})
	}
	f.limiter = ratelimit.NewLimiter(store, rules, f.logger.Named("ratelimit"))

	if f.esClient != nil {
		idx := search.NewIndex(f.esClient.Client, cfg.Elasticsearch.Index)
		if err := idx.EnsureIndex(ctx); err != nil {
			f.logger.Warn("Failed to ensure search index", zap.String("index", idx.Name()), zap.Error(err))
		}
		f.searchIndex = idx
	}

	opts := []backup.Option{
		backup.WithRetention(cfg.Backup.Retention),
		backup.WithPurgeOnSave(cfg.Backup.PurgeOnSave),
		backup.WithLogger(f.logger.Named("backup")),
	}
	if f.searchIndex != nil {
		// Expired backups take their search documents with them.
		opts = append(opts, backup.WithPurgeHook(f.searchIndex.DeleteSubmissions))
	}
	if idx, err := backup.OpenIndex(cfg.BackupIndexPath()); err != nil {
		f.logger.Warn("Backup index unavailable - listing disabled", zap.Error(err))
	} else {
		f.backupIndex = idx
		opts = append(opts, backup.WithIndex(idx))
	}
	f.backupStore, err = backup.NewStore(cfg.Backup.Dir, opts...)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	if cfg.Captcha.Secret != "" {
		f.verifier = captcha.NewRecaptcha(cfg.Captcha.Secret,
			captcha.WithVerifyURL(cfg.Captcha.VerifyURL),
			captcha.WithThreshold(cfg.Captcha.ScoreThreshold),
			captcha.WithTimeout(cfg.Captcha.Timeout),
			captcha.WithLogger(f.logger.Named("captcha")),
		)
	}

	var sender mailer.Sender
	if cfg.Mail.SMTPHost != "" {
		sender = mailer.NewSMTPSender(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.SMTPUser, cfg.Mail.SMTPPassword)
	} else {
		f.logger.Warn("SMTP_HOST not set - notification emails disabled")
	}
	f.mailer = mailer.New(sender, mailer.Config{
		From:      cfg.Mail.From,
		To:        cfg.Mail.To,
		SiteName:  cfg.Mail.SiteName,
		OwnerName: cfg.Mail.OwnerName,
	}, f.logger.Named("mailer"))

	f.publisher = f.eventPublisher(ctx)
	return nil
}

func (f *Factory) rateLimitStore() (ratelimit.Store, error) {
	switch f.config.RateLimit.Backend {
	case "redis":
		if f.redisClient == nil {
			return nil, errors.New("rate limit backend redis requires REDIS_URL")
		}
		return ratelimit.NewRedisStore(f.redisClient.Client), nil
	case "memory":
		return ratelimit.NewMemoryStore(), nil
	case "file", "":
		store, err := ratelimit.NewFileStore(f.config.RateLimit.File, f.logger.Named("ratelimit"))
		if err != nil {
			return nil, fmt.Errorf("rate limit file store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", f.config.RateLimit.Backend)
	}
}

// eventPublisher fans submission events out to every connected sink.
func (f *Factory) eventPublisher(ctx context.Context) events.Publisher {
	var sinks events.Multi
	if f.kafkaProducer != nil {
		sinks = append(sinks, events.NewKafkaSink(f.kafkaProducer.Writer, f.config.Kafka.Topic))
	}
	if f.clickhouseClient != nil {
		sink, err := events.NewClickHouseSink(f.clickhouseClient, f.config.Clickhouse.Table)
		if err != nil {
			f.logger.Warn("ClickHouse sink disabled", zap.Error(err))
		} else {
			if err := sink.EnsureTable(ctx); err != nil {
				f.logger.Warn("Failed to ensure ClickHouse events table", zap.Error(err))
			}
			sinks = append(sinks, sink)
		}
	}
	if len(sinks) == 0 {
		return events.Nop{}
	}
	return sinks
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.serviceFactory == nil {
		c := service.Components{
			Limiter:   f.limiter,
			Archive:   f.backupStore,
			Notifier:  f.mailer,
			Publisher: f.publisher,
		}
		if f.verifier != nil {
			c.Verifier = f.verifier
		}
		if f.searchIndex != nil {
			c.Indexer = f.searchIndex
			c.Searcher = f.searchIndex
		}
		f.serviceFactory = service.NewServiceFactory(c, f.logger)
	}
	return f.serviceFactory
}

// StartSweeper runs the backup retention sweep until ctx is cancelled.
func (f *Factory) StartSweeper(ctx context.Context) <-chan struct{} {
	return backup.NewSweeper(f.backupStore, f.config.Backup.SweepInterval, f.logger.Named("sweeper")).Start(ctx)
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else if f.config.RateLimit.Backend == "redis" {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.backupIndex != nil {
		if err := f.backupIndex.Ping(ctx); err != nil {
			healthErrors["backup_index"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.verifier == nil {
		healthErrors["captcha"] = fmt.Errorf("recaptcha secret not configured")
	}

	return healthErrors
}

// Unhealthy returns the failures that stop the service from accepting
// submissions. The best-effort event sinks are left out.
func (f *Factory) Unhealthy(ctx context.Context) map[string]error {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	return len(f.Unhealthy(ctx)) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		f.logger.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("Failed to close ClickHouse client", zap.Error(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka producer", zap.Error(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("Failed to close Redis client", zap.Error(err))
			}
		}

		if f.backupIndex != nil {
			if err := f.backupIndex.Close(); err != nil {
				f.logger.Error("Failed to close backup index", zap.Error(err))
			}
		}

		f.logger.Info("Factory shutdown completed")
		_ = f.logger.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) BackupStore() *backup.Store {
	return f.backupStore
}
