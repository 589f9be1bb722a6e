package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/pollmark/internal/core/claim"
	"github.com/vietddude/pollmark/internal/core/config"
	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/core/worker"
	"github.com/vietddude/pollmark/internal/engine/effect"
	"github.com/vietddude/pollmark/internal/engine/emitter"
	"github.com/vietddude/pollmark/internal/engine/extract"
	"github.com/vietddude/pollmark/internal/engine/health"
	"github.com/vietddude/pollmark/internal/engine/processor"
	"github.com/vietddude/pollmark/internal/engine/scheduler"
	"github.com/vietddude/pollmark/internal/engine/tracing"
	"github.com/vietddude/pollmark/internal/infra/channel"
	"github.com/vietddude/pollmark/internal/infra/document"
	"github.com/vietddude/pollmark/internal/infra/llm"
	redisclient "github.com/vietddude/pollmark/internal/infra/redis"
	"github.com/vietddude/pollmark/internal/infra/store"
	"github.com/vietddude/pollmark/internal/infra/store/dynamo"
	"github.com/vietddude/pollmark/internal/infra/store/memory"
	"github.com/vietddude/pollmark/internal/infra/store/notion"
	"github.com/vietddude/pollmark/internal/infra/store/postgres"
)

// App owns the shared backends and every configured instance.
type App struct {
	cfg       *config.AppConfig
	deps      Deps
	instances []*Instance
	byName    map[string]*Instance

	db             *postgres.DB
	redisClient    *redisclient.Client
	closers        []io.Closer
	shutdownTraces tracing.Shutdown

	healthServer *health.Server
	log          *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewApp builds every backend not supplied in deps, then one processor and
// poller per instance.
func NewApp(ctx context.Context, cfg *config.AppConfig, deps Deps) (*App, error) {
	a := &App{
		cfg:    cfg,
		byName: make(map[string]*Instance),
		log:    slog.Default().With("component", "control"),
	}

	if err := a.init(ctx, deps); err != nil {
		a.closeBackends(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, deps Deps) error {
	shutdown, err := tracing.Setup(ctx, a.cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	a.shutdownTraces = shutdown

	if deps.Store == nil {
		if deps.Store, err = a.openStore(ctx); err != nil {
			return err
		}
	}

	if deps.Ledger == nil && a.cfg.Claims.Enabled {
		if deps.Ledger, err = a.openLedger(ctx); err != nil {
			return err
		}
	}

	if deps.Emitter == nil {
		if len(a.cfg.Events.Kafka.Brokers) > 0 {
			kafka, err := emitter.NewKafkaEmitter(a.cfg.Events.Kafka)
			if err != nil {
				return fmt.Errorf("failed to init kafka emitter: %w", err)
			}
			deps.Emitter = kafka
			a.log.Info("Emitting completion events to Kafka", "topic", a.cfg.Events.Kafka.Topic)
		} else {
			deps.Emitter = emitter.NewLogEmitter(slog.Default())
		}
	}
	a.deps = deps

	statuses := make([]health.StatusSource, 0, len(a.cfg.Instances))
	for _, ic := range a.cfg.Instances {
		inst, err := a.buildInstance(ctx, ic)
		if err != nil {
			return fmt.Errorf("instance %s: %w", ic.Name, err)
		}
		a.instances = append(a.instances, inst)
		a.byName[ic.Name] = inst
		statuses = append(statuses, inst.Poller)
	}

	monitor := health.NewMonitor(statuses, a.deps.Ledger)
	a.healthServer = health.NewServer(monitor, a.cfg.Server.Port)
	return nil
}

func (a *App) openStore(ctx context.Context) (store.RecordStore, error) {
	switch a.cfg.Store.Kind {
	case config.StoreNotion:
		s, err := notion.New(a.cfg.Store.Notion)
		if err != nil {
			return nil, fmt.Errorf("failed to init notion store: %w", err)
		}
		a.log.Info("Using Notion store", "database", a.cfg.Store.Notion.DatabaseID)
		return s, nil

	case config.StorePostgres:
		db, err := postgres.NewDB(ctx, a.cfg.Store.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		a.db = db
		if a.cfg.Store.Postgres.Migrate {
			if err := db.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate db: %w", err)
			}
		}
		s := postgres.NewStore(db, a.cfg.Store.Postgres.Collection)
		a.closers = append(a.closers, s)
		a.log.Info("Using PostgreSQL store")
		return s, nil

	case config.StoreDynamoDB:
		s, err := dynamo.New(ctx, a.cfg.Store.DynamoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to init dynamodb store: %w", err)
		}
		a.log.Info("Using DynamoDB store", "table", a.cfg.Store.DynamoDB.Table)
		return s, nil

	case config.StoreMemory:
		a.log.Warn("Using memory store, nothing is persisted")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("%w: store kind %q", domain.ErrUnsupported, a.cfg.Store.Kind)
}

func (a *App) openLedger(ctx context.Context) (claim.Ledger, error) {
	if a.cfg.Redis.URL == "" {
		a.log.Info("Using in-process claim ledger")
		return claim.NewMemoryLedger(), nil
	}
	client, err := redisclient.NewClient(ctx, a.cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redisClient = client
	a.log.Info("Using Redis claim ledger")
	return redisclient.NewClaimLedger(client), nil
}

func (a *App) buildInstance(ctx context.Context, ic config.InstanceConfig) (*Instance, error) {
	expr, err := ic.Eligibility()
	if err != nil {
		return nil, err
	}

	provider, contactKind, err := a.buildProvider(ctx, ic)
	if err != nil {
		return nil, err
	}
	extractor := extract.New(ic.Fields, contactKind, ic.NameFallback)
	logger := slog.Default()

	proc, err := processor.New(processor.Config{
		Instance:        ic.Name,
		CompletionField: ic.CompletionField,
		Store:           a.deps.Store,
		Extractor:       extractor,
		Provider:        provider,
		Predicate:       expr,
		Ledger:          a.deps.Ledger,
		ClaimTTL:        a.cfg.Claims.TTL,
		OutcomeTTL:      a.cfg.Claims.OutcomeTTL,
		Emitter:         a.deps.Emitter,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	poller, err := scheduler.New(scheduler.Config{
		Instance:        ic.Name,
		Interval:        ic.PollInterval,
		Predicate:       expr,
		Store:           a.deps.Store,
		Processor:       proc,
		MaxAuthFailures: ic.MaxAuthFailures,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	return &Instance{
		Config:    ic,
		Predicate: expr,
		Extractor: extractor,
		Provider:  provider,
		Processor: proc,
		Poller:    poller,
	}, nil
}

func (a *App) buildProvider(ctx context.Context, ic config.InstanceConfig) (effect.Provider, domain.ContactKind, error) {
	switch ic.Kind {
	case effect.KindEvaluate:
		gen, err := a.generator(ctx)
		if err != nil {
			return nil, "", err
		}
		prompt := ic.Prompt
		if ic.PromptFile != "" {
			data, err := os.ReadFile(ic.PromptFile)
			if err != nil {
				return nil, "", fmt.Errorf("read prompt file: %w", err)
			}
			prompt = string(data)
		}
		p, err := effect.NewEvaluator(a.fetcher(ctx), gen, effect.EvaluatorConfig{
			Prompt:        prompt,
			ScoreField:    ic.Outcome.ScoreField,
			FeedbackField: ic.Outcome.FeedbackField,
		})
		return p, domain.ContactEmail, err

	case effect.KindEmail:
		mailer, err := a.mailer(ctx)
		if err != nil {
			return nil, "", err
		}
		p, err := effect.NewEmailNotifier(mailer, effect.EmailConfig{
			Subject:      ic.Email.Subject,
			Body:         ic.Email.Body,
			BodyFile:     ic.Email.BodyFile,
			Link:         ic.Email.Link,
			ReceiptField: ic.Outcome.ReceiptField,
		})
		return p, domain.ContactEmail, err

	case effect.KindWhatsApp:
		messenger, err := a.messenger()
		if err != nil {
			return nil, "", err
		}
		p, err := effect.NewWhatsAppNotifier(messenger, effect.WhatsAppConfig{
			Template:      ic.WhatsApp.Template,
			Language:      ic.WhatsApp.Language,
			DefaultPrefix: ic.WhatsApp.DefaultPrefix,
			Link:          ic.WhatsApp.Link,
			ReceiptField:  ic.Outcome.ReceiptField,
			Params:        ic.WhatsApp.Params,
		})
		return p, domain.ContactPhone, err
	}
	return nil, "", fmt.Errorf("%w: instance kind %q", domain.ErrUnsupported, ic.Kind)
}

func (a *App) generator(ctx context.Context) (llm.Generator, error) {
	if a.deps.Generator == nil {
		gen, err := llm.New(ctx, a.cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to init llm: %w", err)
		}
		a.deps.Generator = gen
	}
	return a.deps.Generator, nil
}

func (a *App) fetcher(ctx context.Context) effect.DocumentFetcher {
	if a.deps.Fetcher != nil {
		return a.deps.Fetcher
	}

	docs := a.cfg.Documents
	f := document.NewFetcher(docs.Timeout, docs.MaxBytes)
	if docs.S3.Enabled {
		src, err := document.NewS3Source(ctx, docs.S3)
		if err != nil {
			a.log.Warn("Failed to init S3 documents, s3:// references disabled", "error", err)
		} else {
			f.Register("s3", src)
		}
	}
	if docs.GCS.Enabled {
		src, err := document.NewGCSSource(ctx)
		if err != nil {
			a.log.Warn("Failed to init GCS documents, gs:// references disabled", "error", err)
		} else {
			f.Register("gs", src)
			a.closers = append(a.closers, src)
		}
	}
	a.deps.Fetcher = f
	return f
}

func (a *App) mailer(ctx context.Context) (channel.Mailer, error) {
	if a.deps.Mailer == nil {
		m, err := channel.NewSESMailer(ctx, a.cfg.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to init ses mailer: %w", err)
		}
		a.deps.Mailer = m
	}
	return a.deps.Mailer, nil
}

func (a *App) messenger() (channel.Messenger, error) {
	if a.deps.Messenger == nil {
		m, err := channel.NewRespondIO(a.cfg.WhatsApp)
		if err != nil {
			return nil, fmt.Errorf("failed to init respond.io client: %w", err)
		}
		a.deps.Messenger = m
	}
	return a.deps.Messenger, nil
}

// Instances returns every instance in configuration order.
func (a *App) Instances() []*Instance {
	return a.instances
}

// Instance returns the named instance.
func (a *App) Instance(name string) (*Instance, bool) {
	inst, ok := a.byName[name]
	return inst, ok
}

// Store returns the shared record store.
func (a *App) Store() store.RecordStore {
	return a.deps.Store
}

// Ledger returns the claim ledger, nil when claims are disabled.
func (a *App) Ledger() claim.Ledger {
	return a.deps.Ledger
}

// Start launches the health server and one goroutine per instance.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.group != nil {
		return errors.New("app already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	a.cancel = cancel
	a.group = group

	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(groupCtx)
	}
	if sweeper, ok := a.deps.Ledger.(worker.Sweeper); ok {
		pruner := worker.NewPruner("claims", sweeper, a.cfg.Claims.OutcomeTTL)
		go pruner.Start(groupCtx)
	}

	for _, inst := range a.instances {
		group.Go(func() error {
			if err := inst.Poller.Run(groupCtx); err != nil {
				return fmt.Errorf("instance %s: %w", inst.Config.Name, err)
			}
			return nil
		})
	}

	a.log.Info("Started instances", "count", len(a.instances), "port", a.cfg.Server.Port)
	return nil
}

// Wait blocks until every poller returns. A halted poller stops the others
// and its error, wrapping scheduler.ErrHalted, is returned.
func (a *App) Wait() error {
	a.mu.Lock()
	group := a.group
	a.mu.Unlock()

	if group == nil {
		return nil
	}
	return group.Wait()
}

// Run starts the app and blocks until ctx is cancelled or an instance halts.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	return a.Wait()
}

// RunOnce runs a single cycle of every instance in order.
func (a *App) RunOnce(ctx context.Context) (map[string]processor.Summary, error) {
	summaries := make(map[string]processor.Summary, len(a.instances))
	var errs []error
	for _, inst := range a.instances {
		summary, err := inst.Poller.RunOnce(ctx)
		summaries[inst.Config.Name] = summary
		if err != nil {
			errs = append(errs, fmt.Errorf("instance %s: %w", inst.Config.Name, err))
		}
	}
	return summaries, errors.Join(errs...)
}

// Stop cancels the pollers, waits for them and releases every backend.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping instances...")

	a.mu.Lock()
	cancel, group := a.cancel, a.group
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if group != nil {
		done := make(chan error, 1)
		go func() { done <- group.Wait() }()
		select {
		case werr := <-done:
			if werr != nil && !errors.Is(werr, scheduler.ErrHalted) {
				err = werr
			}
		case <-ctx.Done():
			err = fmt.Errorf("waiting for pollers: %w", ctx.Err())
		}
	}

	if a.healthServer != nil {
		if serr := a.healthServer.Stop(ctx); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	a.closeBackends(ctx)
	return err
}

func (a *App) closeBackends(ctx context.Context) {
	if a.deps.Emitter != nil {
		if err := a.deps.Emitter.Close(); err != nil {
			a.log.Warn("Failed to close emitter", "error", err)
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("Failed to close backend", "error", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.shutdownTraces != nil {
		if err := a.shutdownTraces(ctx); err != nil {
			a.log.Warn("Failed to flush traces", "error", err)
		}
	}
}
