package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"meet-transcription-pipeline/internal/capture"
	"meet-transcription-pipeline/internal/config"
	"meet-transcription-pipeline/internal/events"
	"meet-transcription-pipeline/internal/observability"
	"meet-transcription-pipeline/internal/observability/logging"
	"meet-transcription-pipeline/internal/pipeline"
	"meet-transcription-pipeline/internal/stt"
	"meet-transcription-pipeline/internal/stt/google"
	"meet-transcription-pipeline/internal/stt/mock"
)

func main() {
	_ = godotenv.Load()

	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "Optional YAML config file")
	audioFile := flag.String("audio", "", "Stream a 16-bit PCM WAV file instead of waiting for a live source")
	flag.Parse()

	cfg := config.Load()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configFile).Msg("Failed to load config file")
		}
		cfg = loaded
	}

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	logger := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs := observability.NewServer(cfg.Service.MetricsAddr)
	obs.Start()

	publisher := events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicTranscripts: cfg.Kafka.TopicTranscripts,
		TopicSpeakers:    cfg.Kafka.TopicSpeakers,
		Principal:        cfg.Service.Principal,
	})
	defer publisher.Close()

	factory, cleanup, err := buildFactory(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.STT.Provider).Msg("Failed to initialize recognition provider")
	}
	defer cleanup()

	task, err := config.NormalizeTask(cfg.STT.Task)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid task")
	}

	p := pipeline.New(pipeline.Config{
		Language:           cfg.STT.LanguageCode,
		Task:               task,
		TargetSampleRateHz: cfg.Pipeline.TargetSampleRateHz,
		InterimResults:     cfg.STT.InterimResults,
		ConnectTimeout:     cfg.STT.ConnectTimeout,
		ReconnectDelay:     cfg.STT.ReconnectDelay,
		PublishTimeout:     cfg.Pipeline.PublishTimeout,
		CommandBuffer:      cfg.Pipeline.CommandBuffer,
	}, factory, publisher)

	src, srcDone, err := buildSource(ctx, *audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio source")
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- p.Run(ctx, src)
	}()
	obs.SetReady(true)

	logger.Info().
		Str("sessionId", p.Session().ID).
		Str("provider", cfg.STT.Provider).
		Msg("Transcription pipeline started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case err := <-runDone:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("Pipeline stopped")
		}
	case err := <-srcDone:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("Audio source failed")
		} else {
			// Leave time for trailing recognition results to arrive.
			logger.Info().Msg("Audio source drained, waiting for trailing results")
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
			}
		}
	}

	obs.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.Shutdown(shutdownCtx)
	obs.Shutdown(shutdownCtx)
}

// buildFactory selects the recognition backend from configuration.
func buildFactory(ctx context.Context, cfg *config.Config) (stt.Factory, func(), error) {
	switch cfg.STT.Provider {
	case "google":
		provider, err := google.NewProvider(ctx, google.Config{
			LanguageCode:   cfg.STT.LanguageCode,
			SampleRateHz:   cfg.STT.SampleRateHz,
			InterimResults: cfg.STT.InterimResults,
			AudioEncoding:  cfg.STT.AudioEncoding,
		})
		if err != nil {
			return nil, nil, err
		}
		return provider.Factory(), func() { _ = provider.Close() }, nil
	default:
		return mock.Factory(nil), func() {}, nil
	}
}

// buildSource returns a WAV file source when -audio is set, otherwise an
// idle channel source for hosts that push frames programmatically.
func buildSource(ctx context.Context, audioFile string) (capture.Source, <-chan error, error) {
	done := make(chan error, 1)
	if audioFile == "" {
		return capture.NewChanSource(16), done, nil
	}

	wav, err := capture.NewWavSource(audioFile)
	if err != nil {
		return nil, nil, err
	}
	go func() {
		done <- wav.Stream(ctx)
	}()
	return wav, done, nil
}
