package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/thyrook/fenvision/internal/classify"
	"github.com/thyrook/fenvision/internal/config"
	"github.com/thyrook/fenvision/internal/logger"
	"github.com/thyrook/fenvision/internal/model"
	"github.com/thyrook/fenvision/internal/pipeline"
	"github.com/thyrook/fenvision/internal/vision"
	"github.com/thyrook/fenvision/internal/vision/opencv"
)

const version = "1.0.0"

const usage = `fenvision %s - chessboard photo to FEN

Usage:
  fenvision convert  -image board.png -corners "x,y x,y x,y x,y" [flags]
  fenvision convert  -screen x,y,w,h -interactive
  fenvision parse    "<FEN>"
  fenvision validate -dir datas
  fenvision history  [-n 20]
  fenvision train    -dir datas -out models/patchnet.gob

Run "fenvision <command> -h" for the flags of a command.
`

type command func(ctx context.Context, args []string) error

func main() {
	commands := map[string]command{
		"convert":  runConvert,
		"parse":    runParse,
		"validate": runValidate,
		"history":  runHistory,
		"train":    runTrain,
	}

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, version)
		os.Exit(2)
	}

	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		fmt.Printf(usage, version)
		return
	}
	if name == "version" {
		fmt.Println(version)
		return
	}

	run, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", name)
		fmt.Fprintf(os.Stderr, usage, version)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes bad input from processing failures.
func exitCode(err error) int {
	var (
		de *vision.DecodeError
		ce *vision.ConfigError
	)
	switch {
	case errors.As(err, &de), errors.As(err, &ce):
		return 2
	case errors.Is(err, context.Canceled), errors.Is(err, errAborted):
		return 130
	default:
		return 1
	}
}

// setup loads the configuration and builds the logger.
func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}

	log, err := logger.New(logger.Level(cfg.Interface.LogLevel), cfg.Interface.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

// newClassifier builds the configured square classifier. The returned
// closer releases model resources.
func newClassifier(ctx context.Context, cfg *config.Config, log *zap.Logger) (classify.Classifier, func() error, error) {
	noop := func() error { return nil }

	var (
		c      classify.Classifier
		closer = noop
	)
	switch cfg.Classifier.Backend {
	case config.ClassifierIntensity:
		c = classify.NewIntensity(cfg.Classifier.Contrast)

	case config.ClassifierModel:
		mc, err := model.LoadClassifier(cfg.Classifier.ModelPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load model: %w", err)
		}
		c, closer = mc, mc.Close

	case config.ClassifierGemini:
		gc := cfg.Classifier.Gemini
		if gc.APIKey == "" {
			gc.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		if gc.Project == "" {
			gc.Project = os.Getenv("GCP_PROJECT_ID")
		}
		g, err := classify.NewGemini(ctx, gc, log)
		if err != nil {
			return nil, nil, err
		}
		c = g

	default:
		return nil, nil, fmt.Errorf("unknown classifier backend %q", cfg.Classifier.Backend)
	}

	if cfg.Classifier.ConfidenceMin > 0 {
		c = classify.Threshold(c, cfg.Classifier.ConfidenceMin)
	}
	return c, closer, nil
}

// newEngine wires normalizer, partitioner and classifier from cfg.
func newEngine(ctx context.Context, cfg *config.Config, log *zap.Logger) (*pipeline.Engine, func() error, error) {
	n, err := vision.NewNormalizer(&cfg.Vision, opencv.New)
	if err != nil {
		return nil, nil, err
	}

	c, closeClassifier, err := newClassifier(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	log.Info("Engine ready",
		zap.String("backend", cfg.Vision.Backend),
		zap.String("classifier", cfg.Classifier.Backend),
		zap.Int("workers", cfg.Pipeline.Workers),
		zap.Int("output_size", cfg.Vision.OutputSize),
	)

	e := pipeline.NewEngine(n, vision.GridPartitioner{}, c,
		pipeline.WithLogger(log),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithExpectedSize(cfg.Vision.OutputSize),
	)
	return e, closeClassifier, nil
}
