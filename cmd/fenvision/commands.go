package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/fenvision/internal/dataset"
	"github.com/thyrook/fenvision/internal/fen"
	"github.com/thyrook/fenvision/internal/model"
	"github.com/thyrook/fenvision/internal/storage"
	"github.com/thyrook/fenvision/internal/vision"
	"github.com/thyrook/fenvision/internal/vision/opencv"
)

func runParse(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), `Usage: fenvision parse "<FEN>"`)
	}
	fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if text == "" {
		fs.Usage()
		return errors.New("no FEN given")
	}

	rec, err := fen.Parse(text)
	if err != nil {
		return err
	}

	fmt.Println(rec.Board.Render())
	fmt.Println()
	white, black := rec.Board.Count()
	fmt.Printf("Side to move:  %c\n", rec.SideToMove)
	fmt.Printf("Castling:      %s\n", rec.Castling)
	fmt.Printf("En passant:    %s\n", rec.EnPassant)
	fmt.Printf("Halfmove:      %d\n", rec.Halfmove)
	fmt.Printf("Fullmove:      %d\n", rec.Fullmove)
	fmt.Printf("Pieces:        %d white, %d black\n", white, black)

	if canonical := fen.Encode(rec); canonical != strings.TrimSpace(text) {
		fmt.Printf("Canonical FEN: %s\n", canonical)
	}
	return nil
}

func runValidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	dir := fs.String("dir", "datas", "Dataset root holding case* directories")
	recognize := fs.Bool("recognize", true, "Recognize cases that have a corner file")
	configPath := fs.String("config", "", "Configuration file (JSON)")
	fs.Parse(args)

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	var rec dataset.Recognizer
	if *recognize {
		engine, closeEngine, err := newEngine(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeEngine()
		rec = engine
	}

	results, err := dataset.ValidateAll(ctx, *dir, rec)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Printf("No %s* directories in %s\n", dataset.CasePrefix, *dir)
		return nil
	}

	if err := dataset.WriteReport(os.Stdout, results); err != nil {
		return err
	}

	if passed, total := dataset.Summary(results); passed != total {
		return fmt.Errorf("%d of %d cases failed", total-passed, total)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	n := fs.Int("n", 20, "Number of conversions to list, 0 for all")
	configPath := fs.String("config", "", "Configuration file (JSON)")
	clearHistory := fs.Bool("clear", false, "Delete the stored history")
	fs.Parse(args)

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := storage.NewConversionStore(cfg.Storage.DBPath, cfg.Storage.MaxRecords)
	if err != nil {
		return err
	}
	defer store.Close()

	if *clearHistory {
		if err := store.Clear(); err != nil {
			return err
		}
		log.Info("History cleared", zap.String("db", cfg.Storage.DBPath))
		fmt.Println("History cleared")
		return nil
	}

	stats, err := store.GetStats()
	if err != nil {
		return err
	}
	list, err := store.List(*n)
	if err != nil {
		return err
	}

	fmt.Printf("%d conversions stored (%d ever, max %d) in %s\n\n", stats.Records, stats.TotalStored, stats.MaxRecords, stats.DBPath)
	for _, c := range list {
		fmt.Printf("#%-5d %s  %-12s %s\n", c.ID, c.CreatedAt.Local().Format(time.DateTime), c.SideHint, c.Source)
		fmt.Printf("       %s\n", c.FEN)
		for _, w := range c.Warnings {
			fmt.Printf("       warning: %s\n", w)
		}
	}
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	dir := fs.String("dir", "datas", "Dataset root holding case* directories with corner files")
	out := fs.String("out", "models/patchnet.gob", "Where to save the trained weights")
	epochs := fs.Int("epochs", 20, "Number of training epochs")
	batchSize := fs.Int("batch-size", 16, "Batch size for training")
	learningRate := fs.Float64("lr", 0.005, "Learning rate")
	configPath := fs.String("config", "", "Configuration file (JSON)")
	fs.Parse(args)

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	n, err := vision.NewNormalizer(&cfg.Vision, opencv.New)
	if err != nil {
		return err
	}

	patches, err := dataset.CollectPatches(*dir, n, vision.GridPartitioner{})
	if err != nil {
		return err
	}
	if len(patches) == 0 {
		return fmt.Errorf("no labelled cases with corner files in %s", *dir)
	}

	samples := make([]model.Sample, len(patches))
	for i, p := range patches {
		samples[i] = model.NewSample(p.Patch.Image, p.Label)
	}
	log.Info("Training data loaded", zap.Int("samples", len(samples)), zap.String("dir", *dir))

	config := model.DefaultTrainingConfig()
	config.Epochs = *epochs
	config.BatchSize = *batchSize
	config.LearningRate = *learningRate

	trainer, err := model.NewTrainer(config, log)
	if err != nil {
		return err
	}
	defer trainer.Close()

	metrics, err := trainer.Train(samples)
	if err != nil {
		if done := trainer.Metrics(); len(done) > 0 {
			last := done[len(done)-1]
			log.Warn("Training stopped early",
				zap.Int("epochs_completed", len(done)),
				zap.Float64("loss", last.Loss),
				zap.Float64("accuracy", last.Accuracy),
			)
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := trainer.Save(*out); err != nil {
		return fmt.Errorf("save model: %w", err)
	}

	if len(metrics) == 0 {
		return errors.New("training ran no epochs")
	}
	last := metrics[len(metrics)-1]
	fmt.Printf("Trained %d epochs on %d squares: loss %.4f, accuracy %.1f%%\n", len(metrics), len(samples), last.Loss, last.Accuracy*100)
	fmt.Printf("Weights saved to %s (set classifier.backend to \"model\" and classifier.model_path to use them)\n", *out)
	return nil
}
