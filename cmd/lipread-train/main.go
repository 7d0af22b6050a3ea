package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ieee0824/lipread-go/internal/blas"
	"github.com/ieee0824/lipread-go/internal/config"
	"github.com/ieee0824/lipread-go/internal/logging"
	"github.com/ieee0824/lipread-go/internal/metrics"
	"github.com/ieee0824/lipread-go/internal/observability"
	"github.com/ieee0824/lipread-go/model"
	"github.com/ieee0824/lipread-go/training"
	"github.com/ieee0824/lipread-go/video"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML config file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	checkpoint := flag.String("checkpoint", "", "base checkpoint to fine-tune (overrides config)")
	output := flag.String("output", "", "output checkpoint path (default: overwrite -checkpoint)")
	dataRoot := flag.String("data", "", "dataset root (overrides config)")
	speaker := flag.String("speaker", "", "speaker directory (overrides config)")
	lr := flag.Float64("lr", 0, "learning rate (0=config)")
	epochs := flag.Int("epochs", 0, "max training epochs (0=config)")
	patience := flag.Int("patience", -1, "early stopping patience (-1=config, 0=disabled)")
	limit := flag.Int("limit", 0, "use at most this many samples (0=all)")
	metricsAddr := flag.String("metrics-addr", "", "address for /metrics while training")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: lipread-train [flags]")
		fmt.Fprintln(os.Stderr, "  Fine-tunes the output layer of a checkpoint on GRID samples with the CTC loss.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load env: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	if *checkpoint != "" {
		cfg.Model.Checkpoint = *checkpoint
	}
	if *dataRoot != "" {
		cfg.Training.DataRoot = *dataRoot
	}
	if *speaker != "" {
		cfg.Training.Speaker = *speaker
	}
	if *lr > 0 {
		cfg.Training.LearningRate = *lr
	}
	if *epochs > 0 {
		cfg.Training.Epochs = *epochs
	}
	if *patience >= 0 {
		cfg.Training.Patience = *patience
	}
	if *output == "" {
		*output = cfg.Model.Checkpoint
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	logging.Init(cfg.Log)
	log := logging.WithComponent("train")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := cfg.Codec()
	if err != nil {
		log.Error().Err(err).Msg("Invalid alphabet")
		return 1
	}

	m, err := model.LoadFile(cfg.Model.Checkpoint, codec.NumClasses())
	metrics.DefaultMetrics.RecordCheckpointLoad(err)
	if err != nil {
		log.Error().Err(err).Str("checkpoint", cfg.Model.Checkpoint).Msg("Failed to load checkpoint")
		return 1
	}
	log.Info().
		Str("checkpoint", cfg.Model.Checkpoint).
		Int("featureDim", m.Config().FeatureDim()).
		Int("classes", m.NumClasses()).
		Bool("accelerate", blas.HasAccelerate()).
		Msg("Base model loaded")

	if cfg.Metrics.Addr != "" {
		srv := observability.NewServer(cfg.Metrics.Addr, prometheus.DefaultGatherer, func() bool { return true })
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	ext, err := video.NewExtractor(cfg.ExtractorConfig(), cfg.Opener())
	if err != nil {
		log.Error().Err(err).Msg("Invalid video config")
		return 1
	}
	if got, want := m.Config().InputShape(), ext.Config().Shape(); got != want {
		log.Error().Interface("model", got).Interface("video", want).Msg("Checkpoint does not match the video config")
		return 1
	}

	layout := training.Layout{Root: cfg.Training.DataRoot, Speaker: cfg.Training.Speaker}
	names, err := layout.Samples()
	if err != nil {
		log.Error().Err(err).Msg("List samples")
		return 1
	}
	if *limit > 0 && len(names) > *limit {
		names = names[:*limit]
	}
	log.Info().Int("samples", len(names)).Str("root", layout.Root).Str("speaker", layout.Speaker).Msg("Loading samples")

	loader := &training.Loader{
		Extractor: ext,
		Codec:     codec,
		Layout:    layout,
		Workers:   cfg.Workers,
		Log:       log,
		Metrics:   metrics.DefaultMetrics,
	}
	start := time.Now()
	examples, err := loader.Load(ctx, names)
	if err != nil {
		log.Error().Err(err).Msg("Load samples")
		return 1
	}
	log.Info().Int("usable", len(examples)).Dur("elapsed", time.Since(start)).Msg("Samples loaded")

	hc := training.DefaultHeadConfig()
	hc.LearningRate = cfg.Training.LearningRate
	hc.MaxEpochs = cfg.Training.Epochs
	hc.BatchSize = cfg.Training.BatchSize
	hc.Patience = cfg.Training.Patience
	hc.HeldOutFrac = cfg.Training.HeldOutFrac
	hc.Workers = cfg.Workers

	trainer := training.NewHeadTrainer(hc, codec, log, metrics.DefaultMetrics)
	report, err := trainer.Train(ctx, m, examples)
	if err != nil {
		log.Error().Err(err).Msg("Training failed")
		return 1
	}
	log.Info().
		Int("epochs", len(report.Epochs)).
		Int("bestEpoch", report.BestEpoch).
		Float64("bestValLoss", report.BestValLoss).
		Bool("stoppedEarly", report.StoppedEarly).
		Msg("Training finished")

	if err := m.SaveFile(*output); err != nil {
		log.Error().Err(err).Str("output", *output).Msg("Save checkpoint")
		return 1
	}
	log.Info().Str("output", *output).Msg("Checkpoint saved")
	return 0
}
