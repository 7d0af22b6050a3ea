package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ieee0824/lipread-go/internal/config"
	"github.com/ieee0824/lipread-go/internal/logging"
	"github.com/ieee0824/lipread-go/model"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("lipread-init", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	envFile := fs.String("env", ".env", "dotenv file loaded before the config")
	output := fs.String("output", "", "output checkpoint path (default: config checkpoint)")
	seed := fs.Int64("seed", 1, "weight initialization seed")
	units := fs.Int("units", 0, "LSTM units per direction (0=default)")
	layers := fs.Int("layers", 0, "BiLSTM layers (0=default)")
	force := fs.Bool("force", false, "overwrite an existing checkpoint")
	if err := fs.Parse(args); err != nil {
		return 2
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
	logging.Init(cfg.Log)
	log := logging.WithComponent("init")

	if *output == "" {
		*output = cfg.Model.Checkpoint
	}
	if _, err := os.Stat(*output); err == nil && !*force {
		log.Error().Str("output", *output).Msg("Checkpoint exists, use -force to overwrite")
		return 1
	}

	codec, err := cfg.Codec()
	if err != nil {
		log.Error().Err(err).Msg("Invalid alphabet")
		return 1
	}

	mc := model.DefaultConfig(codec.NumClasses())
	shape := cfg.ExtractorConfig().Shape()
	mc.Frames, mc.Height, mc.Width, mc.Channels = shape[0], shape[1], shape[2], shape[3]
	mc.Seed = *seed
	if *units > 0 {
		mc.LSTMUnits = *units
	}
	if *layers > 0 {
		mc.LSTMLayers = *layers
	}

	m, err := model.Build(mc)
	if err != nil {
		log.Error().Err(err).Msg("Build model")
		return 1
	}
	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		log.Error().Err(err).Msg("Create output directory")
		return 1
	}
	if err := m.SaveFile(*output); err != nil {
		log.Error().Err(err).Str("output", *output).Msg("Save checkpoint")
		return 1
	}
	log.Info().
		Str("output", *output).
		Interface("input", mc.InputShape()).
		Int("featureDim", mc.FeatureDim()).
		Int("classes", mc.NumClasses).
		Msg("Initialized checkpoint")
	return 0
}
