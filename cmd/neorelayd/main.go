package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"NeoGas-Relay/internal/api"
	"NeoGas-Relay/internal/assets"
	"NeoGas-Relay/internal/auth"
	"NeoGas-Relay/internal/config"
	"NeoGas-Relay/internal/intent"
	"NeoGas-Relay/internal/neo"
	"NeoGas-Relay/internal/neo/rpc"
	"NeoGas-Relay/internal/observability/alerting"
	"NeoGas-Relay/internal/observability/metrics"
	"NeoGas-Relay/internal/oracle"
	"NeoGas-Relay/internal/relay"
	"NeoGas-Relay/internal/storage/mysql"
	"NeoGas-Relay/internal/track"
	"NeoGas-Relay/pkg/logger"
)

// main 是中继守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("neorelayd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("NEORELAY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "relay.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	priceClient, err := oracle.NewClient(oracle.Config{
		BaseURL: cfg.Oracle.BaseURL,
		APIKey:  resolveSecret(cfg.Oracle.APIKey, cfg.Oracle.APIKeyEnv),
		Timeout: time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	pool, err := newRPCPool(cfg)
	if err != nil {
		return err
	}

	wif := resolveSecret(cfg.Chain.AgentWIF, cfg.Chain.AgentWIFEnv)
	if wif == "" {
		return errors.New("缺少代理账户私钥，请配置 chain.agent_wif 或 chain.agent_wif_env")
	}
	agent, err := neo.NewAccountFromWIF(wif)
	if err != nil {
		return err
	}

	contract, err := neo.ParseUInt160(cfg.Chain.RelayContract)
	if err != nil {
		return fmt.Errorf("解析中继合约哈希失败: %w", err)
	}

	quoter, err := relay.NewFeeQuoter(priceClient, cfg.Fees.SlippageBps)
	if err != nil {
		return err
	}
	guard, err := relay.NewGasGuard(pool, priceClient, agent, relay.GuardConfig{
		MinBalance:  cfg.Fees.MinAgentBalance,
		TopUpTarget: cfg.Fees.TopUpTarget,
	})
	if err != nil {
		return err
	}

	registry, err := newDedupRegistry(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = registry.Close()
	}()

	journal, err := newJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = journal.Close()
	}()

	dispatcher := newAlertDispatcher(cfg)

	serviceOpts := []relay.Option{relay.WithRegistry(registry)}
	if dispatcher != nil {
		serviceOpts = append(serviceOpts, relay.WithAlertDispatcher(dispatcher))
	}

	var trackService *track.Service
	if cfg.Tracker.Enabled {
		store, queue, err := newTrackBackend(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = queue.Close()
		}()

		trackService = track.NewService(store, queue, cfg.Tracker.MaxAttempts)
		defer func() {
			_ = trackService.Close()
		}()

		processorOpts := []track.ProcessorOption{
			track.WithWorkerCount(cfg.Tracker.Workers),
			track.WithPollInterval(time.Duration(cfg.Tracker.PollIntervalSeconds) * time.Second),
			track.WithConfirmationDepth(cfg.Tracker.Confirmations),
		}
		if dispatcher != nil {
			processorOpts = append(processorOpts, track.WithAlertDispatcher(dispatcher))
		}
		processor := track.NewProcessor(pool, store, queue, queue, journal, processorOpts...)

		processorCtx, processorCancel := context.WithCancel(ctx)
		processorDone := make(chan struct{})
		// 等消费协程全部退出后再关队列，避免停机时向已关闭的队列投递。
		defer func() {
			processorCancel()
			<-processorDone
		}()
		go func() {
			defer close(processorDone)
			if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("确认轮询异常退出: %v", err)
			}
		}()
		// 先起消费者再回放，避免待确认积压灌满队列时发布阻塞。
		if err := processor.Resume(processorCtx); err != nil {
			return fmt.Errorf("恢复待确认记录失败: %w", err)
		}

		serviceOpts = append(serviceOpts, relay.WithTracker(trackService))
	}

	relayService, err := relay.NewService(pool, agent, catalog, quoter, guard, journal, relay.ServiceConfig{
		Contract:           contract,
		ValidUntilOffset:   cfg.Chain.ValidUntilOffset,
		NetworkMagic:       cfg.Chain.NetworkMagic,
		DefaultFeeGas:      cfg.Fees.DefaultFeeGas,
		SystemFeeFallback:  cfg.Chain.SystemFeeFallback,
		NetworkFeeFallback: cfg.Chain.NetworkFeeFallback,
	}, serviceOpts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = relayService.Close()
	}()

	authSvc, err := newAuthService(cfg)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	apiOpts := []api.Option{api.WithAuth(authSvc)}
	if trackService != nil {
		apiOpts = append(apiOpts, api.WithTracker(trackService))
	}
	server := api.NewServer(cfg.Server.Address, relayService, apiOpts...)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadCatalog 读取资产目录，未配置时回落到内置目录。
func loadCatalog(cfg *config.Config) (*assets.Catalog, error) {
	if cfg.Assets.CatalogPath == "" {
		return assets.Builtin(), nil
	}
	catalog, err := assets.Load(cfg.Assets.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("加载资产目录失败: %w", err)
	}
	return catalog, nil
}

func newRPCPool(cfg *config.Config) (*rpc.Pool, error) {
	if len(cfg.Chain.RPCEndpoints) == 0 {
		return nil, errors.New("缺少节点端点，请配置 chain.rpc_endpoints")
	}
	timeout := time.Duration(cfg.Chain.RPCTimeoutSeconds) * time.Second
	nodeCfgs := make([]rpc.Config, 0, len(cfg.Chain.RPCEndpoints))
	for _, endpoint := range cfg.Chain.RPCEndpoints {
		nodeCfgs = append(nodeCfgs, rpc.Config{Endpoint: endpoint, Timeout: timeout})
	}
	return rpc.NewPool(nodeCfgs)
}

func newDedupRegistry(cfg *config.Config) (intent.Registry, error) {
	switch cfg.Dedup.Driver {
	case "", "memory":
		return intent.NewMemoryRegistry(), nil
	case "redis":
		return intent.NewRedisRegistry(intent.RedisRegistryConfig{
			Address:   cfg.Dedup.Redis.Address,
			Password:  cfg.Dedup.Redis.Password,
			DB:        cfg.Dedup.Redis.DB,
			KeyPrefix: cfg.Dedup.Redis.KeyPrefix,
			TTL:       time.Duration(cfg.Dedup.Redis.TTLSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的去重驱动: %s", cfg.Dedup.Driver)
	}
}

func newJournal(ctx context.Context, cfg *config.Config) (relay.Journal, error) {
	jc := cfg.Storage.Journal
	switch jc.Driver {
	case "", "memory":
		return relay.NewMemoryJournal(), nil
	case "file":
		return relay.NewFileJournal(jc.DataDir)
	case "mysql":
		return mysql.NewRelayJournal(ctx, mysql.Config{
			DSN:             jc.DSN,
			MaxOpenConns:    jc.MaxOpenConns,
			MaxIdleConns:    jc.MaxIdleConns,
			ConnMaxLifetime: time.Duration(jc.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(jc.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的台账驱动: %s", jc.Driver)
	}
}

// newTrackBackend 构造确认轮询的存储与队列。存储跟随台账驱动，台账走
// MySQL 时确认记录也落在同一个库里。
func newTrackBackend(cfg *config.Config) (track.Store, track.Queue, error) {
	var store track.Store
	if cfg.Storage.Journal.Driver == "mysql" {
		mysqlStore, err := track.NewMySQLStore(cfg.Storage.Journal.DSN)
		if err != nil {
			return nil, nil, err
		}
		store = mysqlStore
	} else {
		store = track.NewMemoryStore()
	}

	switch cfg.Tracker.Queue.Driver {
	case "", "memory":
		return store, track.NewMemoryQueue(1024), nil
	case "redis":
		queue, err := track.NewRedisQueue(track.RedisQueueConfig{
			Address:   cfg.Tracker.Queue.Redis.Address,
			Password:  cfg.Tracker.Queue.Redis.Password,
			DB:        cfg.Tracker.Queue.Redis.DB,
			Queue:     cfg.Tracker.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Tracker.Queue.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, queue, nil
	case "rabbitmq":
		queue, err := track.NewRabbitMQQueue(track.RabbitMQConfig{
			URL:        cfg.Tracker.Queue.RabbitMQ.URL,
			Queue:      cfg.Tracker.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Tracker.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Tracker.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Tracker.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, queue, nil
	default:
		_ = store.Close()
		return nil, nil, fmt.Errorf("未知的队列驱动: %s", cfg.Tracker.Queue.Driver)
	}
}

func newAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerting.Log.Enabled {
		notifiers = append(notifiers, &alerting.LogNotifier{})
	}
	if cfg.Alerting.Webhook.Enabled {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			Endpoint: cfg.Alerting.Webhook.Endpoint,
			Token:    cfg.Alerting.Webhook.Token,
		})
	}
	if cfg.Alerting.Email.Enabled {
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender: &alerting.SMTPSender{
				Addr:     cfg.Alerting.Email.SMTPAddr,
				Username: cfg.Alerting.Email.Username,
				Password: cfg.Alerting.Email.Password,
				From:     cfg.Alerting.Email.From,
			},
			To:            cfg.Alerting.Email.To,
			SubjectPrefix: cfg.Alerting.Email.SubjectPrefix,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

func newAuthService(cfg *config.Config) (*auth.Service, error) {
	tokens := make([]auth.Token, 0, len(cfg.Auth.Tokens))
	for _, token := range cfg.Auth.Tokens {
		tokens = append(tokens, auth.Token{Token: token.Token, Name: token.Name})
	}
	return auth.NewService(auth.Config{Mode: auth.Mode(cfg.Auth.Mode), Tokens: tokens})
}

// resolveSecret 优先取配置里的明文，否则读环境变量。
func resolveSecret(value, env string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	if env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}
