package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	lipread "github.com/ieee0824/lipread-go"
	"github.com/ieee0824/lipread-go/internal/config"
	"github.com/ieee0824/lipread-go/internal/events"
	"github.com/ieee0824/lipread-go/internal/logging"
	"github.com/ieee0824/lipread-go/internal/metrics"
	"github.com/ieee0824/lipread-go/internal/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to YAML config file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	checkpoint := flag.String("checkpoint", "", "model checkpoint (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "address for /metrics and /healthz (overrides config)")
	untrained := flag.Bool("untrained", false, "start with random weights when the checkpoint is missing")
	verbose := flag.Bool("v", false, "print frame counts and timings")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: lipread [flags] VIDEO...")
		fmt.Fprintln(os.Stderr, "  Transcribes each video and prints one line per input.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return 1
	}

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
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	logging.Init(cfg.Log)
	log := logging.WithComponent("cli")

	codec, err := cfg.Codec()
	if err != nil {
		log.Error().Err(err).Msg("Invalid alphabet")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := lipread.NewRecognizer(cfg.Model.Checkpoint,
		lipread.WithCodec(codec),
		lipread.WithVideoConfig(cfg.ExtractorConfig()),
		lipread.WithOpener(cfg.Opener()),
		lipread.WithUntrainedFallback(*untrained),
	)
	if err != nil {
		log.Error().Err(err).Str("checkpoint", cfg.Model.Checkpoint).Msg("Failed to load model")
		return 1
	}

	if cfg.Metrics.Addr != "" {
		srv := observability.NewServer(cfg.Metrics.Addr, prometheus.DefaultGatherer, rec.Ready)
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

	pub := events.New(&cfg.Events, metrics.DefaultMetrics)
	defer pub.Close()
	log.Debug().Bool("kafka", pub.Enabled()).Int("workers", cfg.Workers).Int("videos", flag.NArg()).Msg("Starting batch")

	paths := flag.Args()
	results := make([]*lipread.Result, len(paths))
	var failed sync.Map

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := rec.Transcribe(path)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				failed.Store(i, err)
				return nil
			}
			results[i] = res
			ev := events.TranscriptEvent{
				RequestID:  res.RequestID,
				Source:     path,
				Text:       res.Text,
				FramesRead: res.FrameCount,
				Degraded:   res.Degraded,
				Reason:     res.Reason,
				Timestamp:  time.Now().UTC(),
			}
			if err := pub.PublishTranscript(gctx, ev); err != nil {
				log.Warn().Err(err).Str("requestId", res.RequestID).Msg("Failed to publish transcript")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Interrupted")
	}

	exit := 0
	for i, path := range paths {
		if v, ok := failed.Load(i); ok {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, v)
			exit = 1
			continue
		}
		res := results[i]
		if res == nil {
			exit = 1
			continue
		}
		if len(paths) == 1 {
			fmt.Println(res.Text)
		} else {
			fmt.Printf("%s\t%s\n", path, res.Text)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "  frames=%d shape=%v degraded=%t extract=%s forward=%s decode=%s\n",
				res.FrameCount, res.ClipShape, res.Degraded,
				res.Timings.Extract, res.Timings.Forward, res.Timings.Decode)
			if res.Reason != "" {
				fmt.Fprintf(os.Stderr, "  reason: %s\n", res.Reason)
			}
		}
	}
	return exit
}
