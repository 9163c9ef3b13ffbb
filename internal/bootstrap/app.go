package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"callqa-backend/internal/analysis"
	"callqa-backend/internal/audio"
	"callqa-backend/internal/calls"
	"callqa-backend/internal/llm"
	"callqa-backend/internal/llm/openai"
	"callqa-backend/internal/pipeline"
	"callqa-backend/internal/queue"
	"callqa-backend/internal/shared/config"
	"callqa-backend/internal/shared/server"
	"callqa-backend/internal/shared/storage/db"
	"callqa-backend/internal/shared/telemetry"
	"callqa-backend/internal/transcribe"
	"callqa-backend/internal/workerproc"
)

// App holds shared dependencies.
type App struct {
	Config       config.Config
	Router       *gin.Engine
	DB           *sql.DB
	CallsRepo    calls.Repo
	Queue        queue.Client
	LocalQueue   *workerproc.LocalQueue
	Pipeline     *pipeline.Controller
	RetryPolicy  workerproc.RetryPolicy
	CallsService *calls.Service
	CallsHandler *calls.Handler
}

// Build wires the dependency graph from cfg. poolOpts sizes the database pool.
func Build(ctx context.Context, cfg config.Config, poolOpts db.Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	sqlDB, err := buildDB(ctx, cfg, poolOpts)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		RetryPolicy: workerproc.RetryPolicy{
			MaxAttempts: cfg.Worker.MaxAttempts,
			Delay:       workerproc.FixedDelay(cfg.Worker.RetryDelay),
		},
	}
	if sqlDB != nil {
		app.CallsRepo = &calls.PGRepo{DB: sqlDB}
	} else {
		app.CallsRepo = calls.NewMemoryRepo()
	}

	ctrl, err := buildPipeline(ctx, cfg, app.CallsRepo)
	if err != nil {
		return nil, err
	}
	app.Pipeline = ctrl

	if err := buildQueue(ctx, app); err != nil {
		return nil, err
	}

	app.CallsService = &calls.Service{Repo: app.CallsRepo, Queue: app.Queue}
	app.CallsHandler = calls.NewHandler(app.CallsService)
	app.Router = server.NewRouter(server.RouterDeps{
		Config:       cfg,
		CallsHandler: app.CallsHandler,
		Ready:        app.ready,
	})
	return app, nil
}

// Close drains the in-process queue and releases the database pool.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.LocalQueue != nil {
		errs = append(errs, a.LocalQueue.Close(ctx))
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func (a *App) ready() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Ping()
}

func buildDB(ctx context.Context, cfg config.Config, opts db.Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repos", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repos", map[string]any{"reason": "connect failed", "error": err.Error()})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildPipeline(ctx context.Context, cfg config.Config, repo calls.Repo) (*pipeline.Controller, error) {
	p := cfg.Providers

	groq, err := buildClient(cfg, openai.Config{Provider: "groq", APIKey: p.GroqAPIKey, BaseURL: p.GroqBaseURL, Timeout: p.Timeout})
	if err != nil {
		return nil, err
	}
	oa, err := buildClient(cfg, openai.Config{Provider: "openai", APIKey: p.OpenAIAPIKey, BaseURL: p.OpenAIBaseURL, Timeout: p.Timeout})
	if err != nil {
		return nil, err
	}

	router := transcribe.NewRouter(
		&transcribe.WhisperProvider{
			ProviderName:  "groq",
			Client:        groq,
			Model:         p.TranscribeModel,
			ContextPrompt: transcribe.CallCenterPrompt,
		},
		&transcribe.TranslationProvider{
			ProviderName:  "openai",
			Client:        oa,
			Model:         p.FallbackTranscribeModel,
			ContextPrompt: transcribe.TranslationPrompt,
		},
		nil,
	)

	fetcher := &audio.Fetcher{
		HTTPClient: &http.Client{},
		Timeout:    cfg.Audio.FetchTimeout,
		TempDir:    cfg.Audio.TempDir,
	}
	if opener, err := audio.NewS3Opener(ctx, cfg.AWSRegion); err != nil {
		telemetry.Warn("bootstrap.s3_disabled", map[string]any{"error": err.Error()})
	} else {
		fetcher.Objects = opener
	}

	normalizer := &audio.Normalizer{
		Exec:           audio.NewExecutor(),
		FFmpegPath:     cfg.Audio.FFmpegPath,
		MaxBytes:       cfg.Audio.MaxBytes,
		SegmentSeconds: cfg.Audio.SegmentSeconds,
		TempDir:        cfg.Audio.TempDir,
	}

	return pipeline.New(
		repo,
		fetcher,
		normalizer,
		transcribe.NewOrchestrator(router, cfg.Audio.ContextTailChars),
		analysis.New(oa, analysis.Config{Model: p.LLMModel}),
		pipeline.Config{Lease: cfg.ProcessingLease},
	), nil
}

// providerClient is what both OpenAI-compatible backends must offer.
type providerClient interface {
	llm.ChatClient
	llm.AudioClient
}

func buildClient(cfg config.Config, oc openai.Config) (providerClient, error) {
	client, err := openai.NewClient(oc)
	if err == nil {
		return client, nil
	}
	if !cfg.IsDevLike() {
		return nil, err
	}
	telemetry.Warn("bootstrap.provider_unconfigured", map[string]any{"provider": oc.Provider, "error": err.Error()})
	return unconfiguredClient{provider: oc.Provider}, nil
}

func buildQueue(ctx context.Context, app *App) error {
	if app.Config.SQSQueueURL != "" {
		client, err := queue.NewSQSClient(ctx, app.Config.SQSQueueURL, app.Config.AWSRegion)
		if err != nil {
			return err
		}
		app.Queue = client
		return nil
	}
	if !app.Config.IsDevLike() {
		telemetry.Warn("bootstrap.queue_disabled", map[string]any{"reason": "RA_SQS_QUEUE_URL empty"})
		return nil
	}
	app.LocalQueue = workerproc.NewLocalQueue(app.Pipeline, app.RetryPolicy)
	app.Queue = app.LocalQueue
	return nil
}

// unconfiguredClient fails every call so dev runs without keys still boot.
type unconfiguredClient struct {
	provider string
}

func (u unconfiguredClient) err() error {
	return fmt.Errorf("%s client not configured", u.provider)
}

func (u unconfiguredClient) Chat(context.Context, llm.ChatRequest) (string, error) {
	return "", u.err()
}

func (u unconfiguredClient) Transcribe(context.Context, llm.AudioRequest) (string, error) {
	return "", u.err()
}

func (u unconfiguredClient) Translate(context.Context, llm.AudioRequest) (string, error) {
	return "", u.err()
}
