package main

import (
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/thyrook/fenvision/internal/board"
	"github.com/thyrook/fenvision/internal/config"
	"github.com/thyrook/fenvision/internal/fen"
	"github.com/thyrook/fenvision/internal/geometry"
	"github.com/thyrook/fenvision/internal/vision"
)

func main() {
	position := flag.String("fen", fen.StartPosition, "Position to draw (full FEN or board field)")
	outFile := flag.String("out", "testdata/chess_board.png", "Output PNG")
	size := flag.Int("size", vision.DefaultOutputSize, "Board side in pixels, multiple of 8")
	canvas := flag.String("canvas", "", "Place the board on a WxH canvas, e.g. 1200x900")
	cornersFlag := flag.String("corners", "", `Board corners on the canvas "x,y x,y x,y x,y" (TL TR BR BL)`)
	cornersOut := flag.String("corners-out", "", "Also write the corners as YAML, e.g. datas/case1/corners.yaml")
	flag.Parse()

	m, err := parseBoard(*position)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid position: %v\n", err)
		os.Exit(1)
	}

	img, err := vision.RenderBoard(m, *size)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render board: %v\n", err)
		os.Exit(1)
	}

	var out image.Image = img
	corners := geometry.RectCorners(0, 0, float64(*size), float64(*size))

	if *canvas != "" {
		w, h, err := parseCanvas(*canvas)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid canvas: %v\n", err)
			os.Exit(1)
		}

		corners = geometry.RectCorners(float64(w-*size)/2, float64(h-*size)/2, float64(*size), float64(*size))
		if *cornersFlag != "" {
			if corners, err = geometry.ParseCorners(*cornersFlag); err != nil {
				fmt.Fprintf(os.Stderr, "Invalid corners: %v\n", err)
				os.Exit(1)
			}
		}

		out, err = vision.PlaceOnCanvas(img, w, h, corners)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to place board: %v\n", err)
			os.Exit(1)
		}
	}

	data, err := vision.EncodePNG(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode image: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(*outFile), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outFile, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save image: %v\n", err)
		os.Exit(1)
	}

	if *cornersOut != "" {
		if err := config.SaveCorners(*cornersOut, corners); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save corners: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("✓ Board saved to %s\n", *outFile)
	fmt.Printf("  corners: %s\n", corners)
}

// parseBoard accepts a full FEN or just its board field.
func parseBoard(s string) (board.Matrix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, " ") {
		rec, err := fen.Parse(s)
		return rec.Board, err
	}
	return fen.ParseBoard(s)
}

func parseCanvas(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("want WxH, got %q", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, err
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, err
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("canvas must be positive, got %dx%d", w, h)
	}
	return w, h, nil
}
