package app

import (
	"sync"

	"github.com/mohitkumar/agentflow/analytics"
	"github.com/mohitkumar/agentflow/config"
	"github.com/mohitkumar/agentflow/engine"
	"github.com/mohitkumar/agentflow/executor"
	"github.com/mohitkumar/agentflow/interaction"
	"github.com/mohitkumar/agentflow/invocation"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/memory"
	"github.com/mohitkumar/agentflow/metadata"
	"github.com/mohitkumar/agentflow/persistence"
	store "github.com/mohitkumar/agentflow/persistence/memory"
	rd "github.com/mohitkumar/agentflow/persistence/redis"
	"github.com/mohitkumar/agentflow/rest"
	"github.com/mohitkumar/agentflow/service"
	"github.com/mohitkumar/agentflow/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// App owns every long lived component of a running node.
type App struct {
	Config          config.Config
	registry        *prometheus.Registry
	storage         persistence.Storage
	metadataService *metadata.ServiceImpl
	memoryService   *memory.SQLiteService
	dispatcher      *analytics.Dispatcher
	gate            *interaction.Gate
	engine          *engine.FlowEngine
	controlService  *service.ControlService
	statusService   *service.StatusService
	executors       *executor.Group
	httpServer      *rest.Server
	invoker         invocation.AgentInvoker
	closers         []func() error
	shutdown        bool
	shutdownLock    sync.Mutex
	wg              sync.WaitGroup
}

func New(conf config.Config) (*App, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	a := &App{
		Config:   conf,
		registry: prometheus.NewRegistry(),
	}
	setup := []func() error{
		a.setupStorage,
		a.setupMemory,
		a.setupAnalytics,
		a.setupEngine,
		a.setupExecutors,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) setupStorage() error {
	var metadataStorage metadata.Storage
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		flowStorage := rd.NewStorage(a.Config.RedisConfig)
		redisMetadata := rd.NewRedisMetadataStorage(a.Config.RedisConfig)
		a.closers = append(a.closers, flowStorage.Close, redisMetadata.Close)
		a.storage = flowStorage
		metadataStorage = redisMetadata
	case config.STORAGE_TYPE_INMEM:
		a.storage = store.NewStorage()
		metadataStorage = store.NewMetadataStorage()
	}
	a.metadataService = metadata.NewService(metadataStorage)
	return nil
}

func (a *App) setupMemory() error {
	var err error
	a.memoryService, err = memory.NewSQLiteService(a.Config.MemoryDBPath)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.memoryService.Close)
	return nil
}

func (a *App) setupAnalytics() error {
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := analytics.NewDataCollector(a.Config.AnalyticsConfig, a.registry)
	if err != nil {
		return err
	}
	a.dispatcher = analytics.NewDispatcher(collector, a.Config.AnalyticsConfig.BufferSize, &a.wg)
	a.storage = persistence.WithEventListener(a.storage, a.dispatcher)
	return nil
}

func (a *App) setupEngine() error {
	clock := util.SystemClock{}
	a.invoker = invocation.NewOpenAIInvoker(a.Config.OpenAIConfig)
	runner := invocation.NewRunner(a.invoker, a.Config.RetryPolicy, a.Config.ProviderPolicies)
	a.gate = interaction.NewGate(a.storage, interaction.OpenAPISchemaValidator{}, clock)
	a.engine = engine.NewFlowEngine(a.storage, a.metadataService, runner, memory.NewBridge(a.memoryService), a.gate,
		engine.WithClock(clock),
		engine.WithRetryDelay(a.Config.StepRetryDelay),
		engine.WithJobListener(a.dispatcher))
	a.controlService = service.NewControlService(a.storage, a.engine, a.gate, clock)
	a.statusService = service.NewStatusService(a.storage)
	return nil
}

func (a *App) setupExecutors() error {
	a.executors = executor.NewGroup(&a.wg)
	a.executors.Register("jobs", executor.NewJobExecutor("job-worker", a.engine, a.Config.WorkerCount, a.Config.PollInterval, &a.wg))
	a.executors.Register("interaction-expiry", executor.NewExpiryExecutor(a.gate, a.Config.ExpiryInterval, &a.wg))
	return nil
}

func (a *App) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.metadataService, a.controlService, a.statusService, a.registry)
	return err
}

// Start launches the workers and, unless serveHttp is false, the HTTP server.
func (a *App) Start(serveHttp bool) error {
	a.dispatcher.Start()
	a.executors.Start()
	if serveHttp {
		go func() {
			if err := a.httpServer.Start(); err != nil {
				logger.Error("http server failed", zap.Error(err))
				_ = a.Shutdown()
			}
		}()
	}
	return nil
}

func (a *App) MetadataService() metadata.Service {
	return a.metadataService
}

func (a *App) ControlService() *service.ControlService {
	return a.controlService
}

func (a *App) StatusService() *service.StatusService {
	return a.statusService
}

func (a *App) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	if err := a.httpServer.Stop(); err != nil {
		return err
	}
	a.executors.Stop()
	a.dispatcher.Stop()
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return a.close()
}

func (a *App) close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
