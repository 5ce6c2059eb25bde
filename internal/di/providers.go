package di

import (
	"context"
	"fmt"
	"time"

	"DigitPilot/internal/domain/repository"
	domsvc "DigitPilot/internal/domain/service"
	"DigitPilot/internal/handler/api"
	mid "DigitPilot/internal/middleware"
	internalrepo "DigitPilot/internal/repository"
	svccache "DigitPilot/internal/service/cache"
	"DigitPilot/internal/service/deriv"
	"DigitPilot/internal/services/learning"
	"DigitPilot/internal/services/risk"
	"DigitPilot/internal/services/signal"
	"DigitPilot/internal/usecase"
	"DigitPilot/pkg/cache"
	pkgch "DigitPilot/pkg/clickhouse"
	"DigitPilot/pkg/config"
	xhttp "DigitPilot/pkg/http"
	pkgkafka "DigitPilot/pkg/kafka"
	applogger "DigitPilot/pkg/logger"
	"DigitPilot/pkg/metrics"
	pkgpg "DigitPilot/pkg/postgres"
	pkgqueue "DigitPilot/pkg/queue"
	"DigitPilot/pkg/server"

	kafkago "github.com/segmentio/kafka-go"
)

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	lc := &applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if lc.Level == "" {
		lc.Level = "info"
	}
	if lc.Format == "" {
		lc.Format = "console"
	}
	if lc.Output == "" {
		lc.Output = "stdout"
	}
	if cfg.Logging.Rotate.Enabled {
		lc.Rotate = &applogger.RotateConfig{
			MaxSizeMB:  cfg.Logging.Rotate.MaxSizeMB,
			MaxBackups: cfg.Logging.Rotate.MaxBackups,
			MaxAgeDays: cfg.Logging.Rotate.MaxAgeDays,
			Compress:   cfg.Logging.Rotate.Compress,
		}
	}
	return applogger.New(lc)
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvidePostgres opens the Postgres pool and migrates the schema.
func ProvidePostgres(cfg *config.Config) (*pkgpg.Client, error) {
	client, err := pkgpg.NewClient(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}
	if err := client.AutoMigrate(
		&internalrepo.SessionRecord{},
		&internalrepo.ContractRecord{},
	); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return client, nil
}

// ProvideRedisCache connects the Redis cache backend.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	opts := []cache.RedisOption{
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	}
	if cfg.Redis.Host != "" {
		opts = append(opts, cache.WithRedisHost(cfg.Redis.Host))
	}
	if cfg.Redis.Port > 0 {
		opts = append(opts, cache.WithRedisPort(cfg.Redis.Port))
	}
	if cfg.Redis.Prefix != "" {
		opts = append(opts, cache.WithRedisPrefix(cfg.Redis.Prefix))
	}
	c, err := cache.NewRedisCache(opts...)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

// ProvideCacheService exposes the Redis cache behind the cache port.
func ProvideCacheService(c *cache.RedisCache) cache.Service {
	return c
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when
// archiving is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideTickArchive creates the ClickHouse tick archive and ensures its
// schema. Nil when archiving is disabled.
func ProvideTickArchive(ch *pkgch.Client, log *applogger.Logger) (repository.TickArchive, error) {
	if ch == nil {
		return nil, nil
	}
	archive := internalrepo.NewTickArchive(ch, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := archive.Init(ctx); err != nil {
		return nil, fmt.Errorf("tick archive schema: %w", err)
	}
	return archive, nil
}

// ProvideKafkaProducer creates the Kafka producer for events and ticks.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher wraps the producer for the engine event and tick
// topics. The publisher owns the producer.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.EventPublisher {
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.TicksTopic, cfg.Kafka.EventsTopic)
}

// ProvideKafkaConsumer creates the archive-path consumer, or nil when
// archiving is disabled.
func ProvideKafkaConsumer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Err: func(_ context.Context, topic string, km kafkago.Message, _ []byte, err error) {
			log.Warn("archive consume failed",
				applogger.String("topic", topic),
				applogger.Int("partition", km.Partition),
				applogger.Int64("offset", km.Offset),
				applogger.Error(err))
		},
	})
	return consumer, nil
}

// ProvideTickPipeline builds the stream-to-Kafka tick pipeline, or nil
// when archiving is disabled.
func ProvideTickPipeline(pub repository.EventPublisher, cfg *config.Config, log *applogger.Logger) *mid.TickPipeline {
	if !cfg.Archive.Enabled {
		return nil
	}
	opts := []mid.PipelineOption{
		mid.WithBatch(cfg.Archive.BatchSize, cfg.Archive.FlushInterval),
	}
	if cfg.Archive.MaxRPS > 0 {
		opts = append(opts, mid.WithMaxRPS(cfg.Archive.MaxRPS))
	}
	return mid.NewTickPipeline(pub, log, opts...)
}

// ProvideTickArchiveHandler consumes the ticks topic into the archive.
// Nil when archiving is disabled.
func ProvideTickArchiveHandler(archive repository.TickArchive, cfg *config.Config, log *applogger.Logger) *usecase.TickArchiveHandler {
	if archive == nil {
		return nil
	}
	return usecase.NewTickArchiveHandler(
		cfg.Kafka.TicksTopic,
		archive,
		cfg.Archive.BatchSize,
		cfg.Archive.FlushInterval,
		log,
	)
}

// ProvideStream creates the venue tick stream.
func ProvideStream(cfg *config.Config, log *applogger.Logger, m repository.Metrics) *deriv.Stream {
	return deriv.NewStream(deriv.StreamConfig{
		Endpoint:       cfg.Deriv.Endpoint,
		AppID:          cfg.Deriv.AppID,
		Markets:        cfg.Deriv.Markets,
		PingInterval:   cfg.Deriv.PingInterval,
		ConnectTimeout: cfg.Deriv.ConnectTimeout,
		CallTimeout:    cfg.Deriv.CallTimeout,
		MaxReconnects:  cfg.Deriv.MaxReconnects,
		ReconnectBase:  cfg.Deriv.ReconnectBase,
	}, log, m)
}

// ProvideTickSource exposes the stream behind the market-data port.
func ProvideTickSource(s *deriv.Stream) repository.TickSource {
	return s
}

// ProvidePool creates the authenticated venue connection pool.
func ProvidePool(cfg *config.Config, log *applogger.Logger) *deriv.Pool {
	return deriv.NewPool(deriv.PoolConfig{
		Endpoint:          cfg.Deriv.Endpoint,
		AppID:             cfg.Deriv.AppID,
		PingInterval:      cfg.Deriv.PingInterval,
		ConnectTimeout:    cfg.Deriv.ConnectTimeout,
		CallTimeout:       cfg.Deriv.CallTimeout,
		KeepaliveInterval: cfg.Pool.KeepaliveInterval,
		IdleTimeout:       cfg.Pool.IdleTimeout,
		ReapInterval:      cfg.Pool.ReapInterval,
	}, log)
}

// ProvideVenue exposes the pool behind the trading port.
func ProvideVenue(p *deriv.Pool) repository.Venue {
	return p
}

// ProvideSessionStore creates the Postgres session repository. Point reads
// sit behind a two-level cache; the short L1 TTL keeps a replica from
// serving a pause or cancel stale for more than a few cycles.
func ProvideSessionStore(pg *pkgpg.Client, rc *cache.RedisCache, log *applogger.Logger) repository.SessionStore {
	layered := cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(512),
		cache.WithLayeredMemoryTTL(5*time.Second),
	)
	return internalrepo.NewSessionRepository(pg, layered, log)
}

// ProvideContractStore creates the Postgres contract repository.
func ProvideContractStore(pg *pkgpg.Client) repository.ContractStore {
	return internalrepo.NewContractRepository(pg)
}

// ProvideMemoryStore creates the cache-backed learning record store.
func ProvideMemoryStore(c cache.Service) repository.MemoryStore {
	return internalrepo.NewMemoryRepository(c)
}

// ProvideSignalLocker creates the Redis signal lock.
func ProvideSignalLocker(c cache.Service) repository.SignalLocker {
	return internalrepo.NewSignalLockRepository(c)
}

// ProvideEvaluator creates the digit signal engine.
func ProvideEvaluator(cfg *config.Config) domsvc.Evaluator {
	return signal.NewEngine(signal.Config{
		WarmupDigits:       cfg.Engine.WarmupDigits,
		EntropyWindow:      cfg.Engine.EntropyWindow,
		MarkovWindow:       cfg.Engine.MarkovWindow,
		StableMaxEntropy:   cfg.Engine.StableMaxEntropy,
		ChaosMinEntropy:    cfg.Engine.ChaosMinEntropy,
		MinConfidence:      cfg.Engine.MinConfidence,
		MinFactors:         cfg.Engine.MinFactors,
		ContradictionRatio: cfg.Engine.ContradictionRatio,
		StreakMin:          cfg.Engine.StreakMin,
		StreakWrap:         cfg.Engine.StreakWrap,
		BiasEdge:           cfg.Engine.BiasEdge,
	})
}

// ProvideLearner creates the adaptive weight memory.
func ProvideLearner(cfg *config.Config, store repository.MemoryStore, log *applogger.Logger) domsvc.Learner {
	return learning.NewMemory(learning.Config{
		CacheTTL: cfg.Learning.CacheTTL,
	}, store, log)
}

// ProvideGuard creates the pre-trade risk guard.
func ProvideGuard(cfg *config.Config, log *applogger.Logger, m repository.Metrics) *risk.Guard {
	return risk.NewGuard(risk.Config{
		TradesPerMinute:  cfg.Risk.TradesPerMinute,
		TradesPerHour:    cfg.Risk.TradesPerHour,
		BreakerFailures:  cfg.Risk.BreakerFailures,
		BreakerCooldown:  cfg.Risk.BreakerCooldown,
		MaxOpenPerMarket: cfg.Risk.MaxOpenPerMarket,
		MaxOpenTotal:     cfg.Risk.MaxOpenTotal,
	}, log, m)
}

// ProvideGuardPort exposes the guard behind the domain port.
func ProvideGuardPort(g *risk.Guard) domsvc.Guard {
	return g
}

// ProvideQueue creates the Redis job queue with the engine jobs
// registered. Start happens in the app lifecycle.
func ProvideQueue(
	cfg *config.Config,
	rc *cache.RedisCache,
	contracts repository.ContractStore,
	events repository.EventPublisher,
	log *applogger.Logger,
) *pkgqueue.RedisQueue {
	q := pkgqueue.NewRedisQueue(log, &pkgqueue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryMax,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client())
	q.RegisterJobs([]pkgqueue.Job{
		usecase.NewContractOutcomeJob(contracts),
		usecase.NewEngineEventJob(events),
	})
	return q
}

// ProvideQueueService exposes the queue behind the publish port.
func ProvideQueueService(q *pkgqueue.RedisQueue) pkgqueue.QueueService {
	return q
}

// ProvideSnapshotCache keeps the latest per-market evaluations for the
// status API. Entries refresh every scheduler cycle.
func ProvideSnapshotCache(cfg *config.Config) *svccache.SnapshotCache {
	return svccache.NewSnapshotCache(10 * cfg.Scheduler.Interval)
}

// ProvideSessionGate serializes all session mutations.
func ProvideSessionGate(store repository.SessionStore) *usecase.SessionGate {
	return usecase.NewSessionGate(store)
}

// ProvideMonitor creates the contract monitor.
func ProvideMonitor(cfg *config.Config, log *applogger.Logger) *usecase.Monitor {
	return usecase.NewMonitor(usecase.MonitorConfig{
		CallTimeout: cfg.Execution.MonitorTimeout,
	}, log)
}

// ProvideOrchestrator creates the trade execution orchestrator.
func ProvideOrchestrator(
	cfg *config.Config,
	venue repository.Venue,
	gate *usecase.SessionGate,
	contracts repository.ContractStore,
	monitor *usecase.Monitor,
	guard domsvc.Guard,
	learner domsvc.Learner,
	events repository.EventPublisher,
	jobs pkgqueue.QueueService,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(usecase.OrchestratorConfig{
		PlacementDelay:       cfg.Execution.PlacementDelay,
		MaxConsecutiveLosses: cfg.Execution.MaxConsecutiveLosses,
		MaxAPIErrors:         cfg.Execution.MaxAPIErrors,
		MinStake:             cfg.Execution.MinStake,
		MaxStake:             cfg.Execution.MaxStake,
		MinBalance:           cfg.Execution.MinBalance,
	}, venue, gate, contracts, monitor, guard, learner, events, jobs, m, log)
}

// ProvideScheduler creates the evaluation scheduler.
func ProvideScheduler(
	cfg *config.Config,
	store repository.SessionStore,
	stream repository.TickSource,
	engine domsvc.Evaluator,
	learner domsvc.Learner,
	guard domsvc.Guard,
	locker repository.SignalLocker,
	events repository.EventPublisher,
	exec *usecase.Orchestrator,
	snaps *svccache.SnapshotCache,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.Scheduler {
	return usecase.NewScheduler(usecase.SchedulerConfig{
		Interval:   cfg.Scheduler.Interval,
		SmartDelay: cfg.Scheduler.SmartDelay,
		LockTTL:    cfg.Scheduler.LockTTL,
	}, store, stream, engine, learner, guard, locker, events, exec, snaps, m, log)
}

// ProvideSessionManager creates the session lifecycle manager.
func ProvideSessionManager(
	gate *usecase.SessionGate,
	store repository.SessionStore,
	contracts repository.ContractStore,
	stream repository.TickSource,
	guard *risk.Guard,
	exec *usecase.Orchestrator,
	events repository.EventPublisher,
	log *applogger.Logger,
) *usecase.SessionManager {
	return usecase.NewSessionManager(gate, store, contracts, stream, guard, exec, events, log)
}

// ProvideBacktester creates the tick replay backtester.
func ProvideBacktester(archive repository.TickArchive, engine domsvc.Evaluator, log *applogger.Logger) *usecase.Backtester {
	return usecase.NewBacktester(archive, engine, log)
}

// ProvideHTTPHandler creates the operator API handler.
func ProvideHTTPHandler(
	log *applogger.Logger,
	sessions *usecase.SessionManager,
	backtest *usecase.Backtester,
	snaps *svccache.SnapshotCache,
	guard *risk.Guard,
	venue repository.Venue,
	stream repository.TickSource,
	monitor *usecase.Monitor,
	archive repository.TickArchive,
) xhttp.Handler {
	return api.NewHandler(log, sessions, backtest, snaps, guard, venue, stream, monitor, archive)
}

// kafkaLogSink adapts the Kafka producer to the log collector's publisher
// port.
type kafkaLogSink struct {
	producer *pkgkafka.Producer
}

func (s kafkaLogSink) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return s.producer.Publish(ctx, topic, nil, payload)
}

// ProvideApp assembles the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	stream *deriv.Stream,
	pool *deriv.Pool,
	pipeline *mid.TickPipeline,
	consumer *pkgkafka.Consumer,
	archiver *usecase.TickArchiveHandler,
	q *pkgqueue.RedisQueue,
	scheduler *usecase.Scheduler,
	monitor *usecase.Monitor,
	sessions *usecase.SessionManager,
	publisher repository.EventPublisher,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	pgClient *pkgpg.Client,
	handler xhttp.Handler,
) *server.App {
	if cfg.Logging.AggregateTopic != "" {
		log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Logging.AggregateTopic,
			Publisher:      kafkaLogSink{producer: producer},
		})
	}
	return server.New(server.Components{
		Config:     cfg,
		Log:        log,
		Stream:     stream,
		Pool:       pool,
		Pipeline:   pipeline,
		Consumer:   consumer,
		Archiver:   archiver,
		Queue:      q,
		Scheduler:  scheduler,
		Monitor:    monitor,
		Sessions:   sessions,
		Publisher:  publisher,
		ClickHouse: chClient,
		Postgres:   pgClient,
		Handler:    handler,
	})
}
