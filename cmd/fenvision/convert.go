package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/thyrook/fenvision/internal/config"
	"github.com/thyrook/fenvision/internal/fen"
	"github.com/thyrook/fenvision/internal/geometry"
	"github.com/thyrook/fenvision/internal/storage"
	"github.com/thyrook/fenvision/internal/vision"
	"github.com/thyrook/fenvision/internal/vision/capture"
)

type convertOutput struct {
	FEN      string   `json:"fen"`
	Hint     string   `json:"side_hint"`
	Warnings []string `json:"warnings,omitempty"`
	ID       uint64   `json:"id,omitempty"`
	Cached   bool     `json:"cached,omitempty"`
}

func runConvert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	imagePath := fs.String("image", "", "Board photo (png, jpeg, gif, bmp, tiff, webp)")
	screen := fs.String("screen", "", "Capture the screen region x,y,w,h (or display:N) instead of reading a file")
	cornersFlag := fs.String("corners", "", `Board corners "x,y x,y x,y x,y" in order TL TR BR BL`)
	cornersFile := fs.String("corners-file", "", "YAML or JSON corner file")
	saveCorners := fs.String("save-corners", "", "Write the corners used to this YAML file")
	interactive := fs.Bool("interactive", false, "Prompt for missing input and the FEN metadata")
	side := fs.String("side", "", "Side to move (w or b)")
	castling := fs.String("castling", "", "Castling rights, e.g. KQkq or -")
	ep := fs.String("ep", "", "En passant target square or -")
	halfmove := fs.Int("halfmove", 0, "Halfmove clock")
	fullmove := fs.Int("fullmove", 1, "Fullmove number")
	configPath := fs.String("config", "", "Configuration file (JSON)")
	record := fs.Bool("record", false, "Store the result in the conversion history")
	reuse := fs.Bool("reuse", false, "Return the stored result when this image was converted before")
	showBoard := fs.Bool("board", false, "Print the recognized board")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	fs.Parse(args)

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	meta := cfg.Metadata()
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "side":
			if *side != "" {
				meta.SideToMove = (*side)[0]
			}
		case "castling":
			meta.Castling = *castling
		case "ep":
			meta.EnPassant = *ep
		case "halfmove":
			meta.Halfmove = *halfmove
		case "fullmove":
			meta.Fullmove = *fullmove
		}
	})

	data, source, err := readInput(ctx, *imagePath, *screen, *interactive)
	if err != nil {
		return err
	}

	corners, err := resolveCorners(ctx, data, *cornersFlag, *cornersFile, *interactive)
	if err != nil {
		return err
	}
	if *saveCorners != "" {
		if err := config.SaveCorners(*saveCorners, corners); err != nil {
			return err
		}
	}

	if *interactive {
		if meta, err = askMetadata(ctx, meta); err != nil {
			return err
		}
	}

	var store *storage.ConversionStore
	if *record || *reuse {
		store, err = storage.NewConversionStore(cfg.Storage.DBPath, cfg.Storage.MaxRecords)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	digest := storage.ImageDigest(data)
	recognizer := cfg.RecognizerKey()
	if *reuse {
		prev, err := store.Lookup(digest, corners, recognizer)
		switch {
		case err == nil:
			text, err := prev.FENWith(meta)
			if err != nil {
				return err
			}
			log.Info("Reusing stored conversion", zap.Uint64("id", prev.ID))
			return printConversion(convertOutput{FEN: text, Hint: prev.SideHint, Warnings: prev.Warnings, ID: prev.ID, Cached: true}, nil, *asJSON)
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
	}

	engine, closeEngine, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeEngine()

	res, err := engine.Recognize(ctx, data, corners, meta)
	if err != nil {
		return err
	}

	out := convertOutput{FEN: res.FEN, Hint: res.Hint.String(), Warnings: res.Warnings}
	if *record {
		conv := &storage.Conversion{
			FEN:         res.FEN,
			SideHint:    res.Hint.String(),
			Corners:     corners,
			ImageSHA256: digest,
			Source:      source,
			Recognizer:  recognizer,
			Warnings:    res.Warnings,
		}
		if err := store.Put(conv); err != nil {
			return fmt.Errorf("record conversion: %w", err)
		}
		out.ID = conv.ID
	}

	var board *fen.Record
	if *showBoard {
		board = &res.Record
	}
	return printConversion(out, board, *asJSON)
}

func printConversion(out convertOutput, rec *fen.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println(out.FEN)
	if rec != nil {
		fmt.Println()
		fmt.Println(rec.Board.Render())
	}
	if out.Hint != vision.UnknownSide.String() {
		fmt.Fprintf(os.Stderr, "side hint: %s\n", out.Hint)
	}
	for _, w := range out.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if out.Cached {
		fmt.Fprintf(os.Stderr, "reused conversion #%d\n", out.ID)
	} else if out.ID != 0 {
		fmt.Fprintf(os.Stderr, "recorded as #%d\n", out.ID)
	}
	return nil
}

func readInput(ctx context.Context, imagePath, screen string, interactive bool) ([]byte, string, error) {
	switch {
	case imagePath != "" && screen != "":
		return nil, "", errors.New("use either -image or -screen")
	case screen != "":
		c, err := capture.ParseRegion(screen)
		if err != nil {
			return nil, "", err
		}
		data, err := c.CapturePNG()
		return data, "screen", err
	case imagePath == "" && interactive:
		p, err := askImagePath(ctx)
		if err != nil {
			return nil, "", err
		}
		imagePath = p
	case imagePath == "":
		return nil, "", errors.New("no input: pass -image, -screen or -interactive")
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, "", err
	}
	return data, imagePath, nil
}

func resolveCorners(ctx context.Context, data []byte, flagValue, file string, interactive bool) (geometry.CornerSet, error) {
	switch {
	case flagValue != "" && file != "":
		return geometry.CornerSet{}, errors.New("use either -corners or -corners-file")
	case flagValue != "":
		return geometry.ParseCorners(flagValue)
	case file != "":
		return config.LoadCorners(file)
	case interactive:
		img, _, err := vision.DecodeImage(data)
		if err != nil {
			return geometry.CornerSet{}, err
		}
		b := img.Bounds()
		return askCorners(ctx, b.Dx(), b.Dy())
	default:
		return geometry.CornerSet{}, errors.New("no corners: pass -corners, -corners-file or -interactive")
	}
}
