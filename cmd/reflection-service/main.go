// main package for the reflection-service daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/reflection-service/internal/artifactstore"
	"github.com/book-expert/reflection-service/internal/audio"
	"github.com/book-expert/reflection-service/internal/codec"
	"github.com/book-expert/reflection-service/internal/compose"
	"github.com/book-expert/reflection-service/internal/config"
	"github.com/book-expert/reflection-service/internal/directory"
	"github.com/book-expert/reflection-service/internal/dispatch"
	"github.com/book-expert/reflection-service/internal/history"
	"github.com/book-expert/reflection-service/internal/journal"
	"github.com/book-expert/reflection-service/internal/llm"
	"github.com/book-expert/reflection-service/internal/notify"
	"github.com/book-expert/reflection-service/internal/queue"
	"github.com/book-expert/reflection-service/internal/reference"
	"github.com/book-expert/reflection-service/internal/schedule"
	"github.com/book-expert/reflection-service/internal/speech"
	"github.com/book-expert/reflection-service/internal/worker"
)

// Environment variable names for secrets. Secrets never live in the
// configuration document.
const (
	envLLMAPIKey    = "ANTHROPIC_API_KEY"
	envSpeechAPIKey = "ELEVENLABS_API_KEY"
	envSMTPPassword = "SMTP_PASSWORD"
	envSignSecret   = "ARTIFACT_SIGN_SECRET"
)

const httpShutdownTimeout = 10 * time.Second

var errMissingSecret = errors.New("required secret is not set")

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "reflection-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

type secrets struct {
	llmAPIKey    string
	speechAPIKey string
	smtpPassword string
	signSecret   string
}

func loadSecrets() (secrets, error) {
	loaded := secrets{
		llmAPIKey:    os.Getenv(envLLMAPIKey),
		speechAPIKey: os.Getenv(envSpeechAPIKey),
		smtpPassword: os.Getenv(envSMTPPassword),
		signSecret:   os.Getenv(envSignSecret),
	}

	for name, value := range map[string]string{
		envLLMAPIKey:    loaded.llmAPIKey,
		envSpeechAPIKey: loaded.speechAPIKey,
		envSMTPPassword: loaded.smtpPassword,
		envSignSecret:   loaded.signSecret,
	} {
		if value == "" {
			return secrets{}, fmt.Errorf("%w: %s", errMissingSecret, name)
		}
	}

	return loaded, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runService(ctx, cfg, log)
}

func runService(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	loadedSecrets, err := loadSecrets()
	if err != nil {
		return err
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at '%s': %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	service, err := buildService(cfg, loadedSecrets, jetstreamContext, log)
	if err != nil {
		return err
	}

	log.System(
		"Reflection service initialized. Consuming from subject: %s",
		cfg.NATS.ReflectionRequestedSubject,
	)

	return service.run(ctx)
}

// service holds the wired collaborators for the daemon's three long-running
// loops: the HTTP listener, the scheduler, and the queue consumers.
type service struct {
	cfg        *config.Config
	log        *logger.Logger
	router     *mux.Router
	scheduler  *schedule.Scheduler
	workQueue  *queue.NatsQueue
	pipeline   *worker.Pipeline
	dispatcher *dispatch.Dispatcher
}

func buildService(
	cfg *config.Config,
	loadedSecrets secrets,
	jetstreamContext nats.JetStreamContext,
	log *logger.Logger,
) (*service, error) {
	historyStore, err := history.New(jetstreamContext, cfg.NATS.FeelingsBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create history store: %w", err)
	}

	subscriberDirectory, err := directory.New(jetstreamContext, cfg.NATS.SubscribersBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber directory: %w", err)
	}

	artifacts, err := artifactstore.New(jetstreamContext, cfg.NATS.ArtifactObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}

	signer, err := artifactstore.NewSigner(
		cfg.Artifacts.PublicBaseURL, []byte(loadedSecrets.signSecret), nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create link signer: %w", err)
	}

	mailer, err := notify.NewMailer(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		loadedSecrets.smtpPassword,
		cfg.SMTP.FromAddress,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mailer: %w", err)
	}

	bed, err := loadBed(cfg.Audio.BedPath)
	if err != nil {
		return nil, err
	}

	pipeline, err := buildPipeline(cfg, loadedSecrets, historyStore, artifacts, signer, mailer, bed, log)
	if err != nil {
		return nil, err
	}

	workQueue, err := queue.New(
		jetstreamContext,
		cfg.NATS.ReflectionStreamName,
		cfg.NATS.ReflectionRequestedSubject,
		cfg.NATS.ReflectionConsumerName,
		cfg.Pipeline.MaxDeliver,
		// Ack wait exceeds the item budget so in-flight items do not
		// redeliver mid-run.
		time.Duration(cfg.Pipeline.ItemTimeoutSeconds)*time.Second+time.Minute,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create work queue: %w", err)
	}

	dispatcher := dispatch.New(subscriberDirectory, workQueue, log)

	router := mux.NewRouter()
	artifactstore.NewHandler(artifacts, signer, log).Register(router)
	journal.NewHandler(historyStore, log).Register(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	scheduler, err := buildScheduler(cfg, dispatcher, subscriberDirectory, mailer, log)
	if err != nil {
		return nil, err
	}

	return &service{
		cfg:        cfg,
		log:        log,
		router:     router,
		scheduler:  scheduler,
		workQueue:  workQueue,
		pipeline:   pipeline,
		dispatcher: dispatcher,
	}, nil
}

func buildPipeline(
	cfg *config.Config,
	loadedSecrets secrets,
	historyStore *history.NatsHistoryStore,
	artifacts *artifactstore.NatsArtifactStore,
	signer *artifactstore.Signer,
	mailer *notify.Mailer,
	bed audio.Track,
	log *logger.Logger,
) (*worker.Pipeline, error) {
	referenceProvider := reference.New(
		cfg.Reference.URL,
		cfg.Reference.Selector,
		time.Duration(cfg.Reference.TimeoutSeconds)*time.Second,
		log,
	)

	completer := llm.New(
		cfg.LLM.BaseURL,
		loadedSecrets.llmAPIKey,
		cfg.LLM.Model,
		cfg.LLM.MaxTokens,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second,
	)

	composer := compose.New(completer, cfg.Pipeline.RetryAttempts, log)

	synthesizer, err := speech.New(
		cfg.Speech.BaseURL,
		loadedSecrets.speechAPIKey,
		speech.Persona{
			VoiceID:         cfg.Speech.VoiceID,
			ModelID:         cfg.Speech.ModelID,
			Stability:       cfg.Speech.Stability,
			SimilarityBoost: cfg.Speech.SimilarityBoost,
			Style:           cfg.Speech.Style,
		},
		time.Duration(cfg.Speech.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech synthesizer: %w", err)
	}

	encoder := codec.NewFFmpegEncoder(cfg.Audio.BitrateKbps, log)

	pipeline, err := worker.New(
		historyStore,
		referenceProvider,
		composer,
		synthesizer,
		encoder,
		artifactstore.NewSignedStore(artifacts, signer),
		mailer,
		bed,
		worker.Options{
			LookbackDays:   cfg.Pipeline.LookbackDays,
			ItemTimeout:    time.Duration(cfg.Pipeline.ItemTimeoutSeconds) * time.Second,
			RetryAttempts:  cfg.Pipeline.RetryAttempts,
			RetryDelay:     time.Duration(cfg.Pipeline.RetryDelaySeconds) * time.Second,
			RateLimitDelay: time.Duration(cfg.Pipeline.RateLimitDelaySeconds) * time.Second,
			LinkTTL:        time.Duration(cfg.Artifacts.LinkTTLHours) * time.Hour,
		},
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return pipeline, nil
}

func loadBed(path string) (audio.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return audio.Track{}, fmt.Errorf("failed to read bed asset '%s': %w", path, err)
	}

	bed, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Track{}, fmt.Errorf("failed to decode bed asset '%s': %w", path, err)
	}

	return bed, nil
}

func buildScheduler(
	cfg *config.Config,
	dispatcher *dispatch.Dispatcher,
	subscriberDirectory *directory.NatsDirectory,
	mailer *notify.Mailer,
	log *logger.Logger,
) (*schedule.Scheduler, error) {
	scheduler, err := schedule.New(cfg.Schedule.Timezone, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	dispatchJob := func(ctx context.Context) error {
		_, dispatchErr := dispatcher.Dispatch(ctx)

		return dispatchErr
	}

	formURL := cfg.Artifacts.PublicBaseURL + "/feelings"

	checkInJob := func(ctx context.Context) error {
		subscribers, listErr := subscriberDirectory.ListActive(ctx)
		if listErr != nil {
			return fmt.Errorf("failed to list subscribers for check-in: %w", listErr)
		}

		for _, subscriber := range subscribers {
			sendErr := mailer.SendCheckIn(ctx, subscriber.Email, formURL)
			if sendErr != nil {
				log.Error("Failed to send check-in to %s: %v", subscriber.Email, sendErr)
			}
		}

		return nil
	}

	reportJob := func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-24 * time.Hour)

		stale, listErr := subscriberDirectory.ListUnverifiedSince(ctx, cutoff)
		if listErr != nil {
			return fmt.Errorf("failed to list unverified subscribers: %w", listErr)
		}

		emails := make([]string, 0, len(stale))
		for _, subscriber := range stale {
			emails = append(emails, subscriber.Email)
		}

		return mailer.SendReport(ctx, cfg.SMTP.AdminAddress, emails)
	}

	jobs := []struct {
		name string
		expr string
		run  func(ctx context.Context) error
	}{
		{"morning-dispatch", cfg.Schedule.MorningCron, dispatchJob},
		{"evening-dispatch", cfg.Schedule.EveningCron, dispatchJob},
		{"check-in", cfg.Schedule.CheckInCron, checkInJob},
		{"unverified-report", cfg.Schedule.ReportCron, reportJob},
	}

	for _, entry := range jobs {
		if entry.expr == "" {
			continue
		}

		addErr := scheduler.Add(entry.name, entry.expr, entry.run)
		if addErr != nil {
			return nil, fmt.Errorf("failed to register job '%s': %w", entry.name, addErr)
		}
	}

	return scheduler, nil
}

func (s *service) run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              s.cfg.HTTP.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group.Go(func() error {
		s.log.Info("HTTP listener starting on %s", s.cfg.HTTP.ListenAddr)

		serveErr := httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("HTTP listener failed: %w", serveErr)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()

		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			return fmt.Errorf("HTTP shutdown failed: %w", shutdownErr)
		}

		return nil
	})

	group.Go(func() error {
		return s.scheduler.Run(groupCtx)
	})

	group.Go(func() error {
		return s.workQueue.Consume(groupCtx, s.cfg.Pipeline.Workers, s.pipeline.Handle)
	})

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("service run failed: %w", err)
	}

	return nil
}
