// Package dataset checks labelled test cases: directories holding a board
// photo and the FEN it should convert to.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/notnil/chess"

	"github.com/thyrook/fenvision/internal/config"
	"github.com/thyrook/fenvision/internal/fen"
	"github.com/thyrook/fenvision/internal/geometry"
	"github.com/thyrook/fenvision/internal/pipeline"
	"github.com/thyrook/fenvision/internal/vision"
)

// CasePrefix marks case directories below a dataset root.
const CasePrefix = "case"

// CornerFiles are tried in order inside a case directory.
var CornerFiles = []string{"corners.yaml", "corners.yml", "corners.json"}

// Recognizer is the part of pipeline.Engine the validator needs.
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, corners geometry.CornerSet, meta fen.Metadata) (*pipeline.Result, error)
}

// CaseResult is the outcome of validating one case directory.
type CaseResult struct {
	Name        string
	FENFile     string
	ImageFile   string
	OriginalFEN string
	RebuiltFEN  string
	RoundTrip   bool   // RebuiltFEN == OriginalFEN
	Preview     string // board drawing
	Notes       []string

	// Set when a recognizer and corners were available.
	Recognized string
	Checked    bool
	BoardMatch bool

	Err error
}

// Passed reports whether the case is well formed and, when it was
// recognized, whether the board matched.
func (r *CaseResult) Passed() bool {
	if r.Err != nil || !r.RoundTrip {
		return false
	}
	return !r.Checked || r.BoardMatch
}

// ValidateCase checks one case directory. The label must survive a FEN
// parse and re-encode unchanged. When rec is not nil and the directory has
// a corner file, the image is recognized and its board field compared with
// the label.
func ValidateCase(ctx context.Context, dir string, rec Recognizer) CaseResult {
	res := CaseResult{Name: filepath.Base(dir)}

	var err error
	res.FENFile, res.ImageFile, err = caseFiles(dir)
	if err != nil {
		res.Err = err
		return res
	}

	text, err := os.ReadFile(filepath.Join(dir, res.FENFile))
	if err != nil {
		res.Err = err
		return res
	}
	res.OriginalFEN = strings.TrimSpace(string(text))

	record, err := fen.Parse(res.OriginalFEN)
	if err != nil {
		res.Err = fmt.Errorf("parsing failed: %w", err)
		return res
	}
	res.RebuiltFEN = fen.Encode(record)
	res.RoundTrip = res.RebuiltFEN == res.OriginalFEN

	res.Preview, err = preview(res.RebuiltFEN)
	if err != nil {
		res.Notes = append(res.Notes, fmt.Sprintf("not a playable position: %v", err))
		res.Preview = record.Board.Render()
	}

	if rec == nil {
		return res
	}
	cornersPath := findCorners(dir)
	if cornersPath == "" {
		res.Notes = append(res.Notes, "no corner file, recognition skipped")
		return res
	}

	corners, err := config.LoadCorners(cornersPath)
	if err != nil {
		res.Err = err
		return res
	}
	data, err := os.ReadFile(filepath.Join(dir, res.ImageFile))
	if err != nil {
		res.Err = err
		return res
	}

	out, err := rec.Recognize(ctx, data, corners, record.Metadata)
	if err != nil {
		res.Err = fmt.Errorf("recognition failed: %w", err)
		return res
	}
	res.Checked = true
	res.Recognized = out.FEN
	res.BoardMatch = out.Record.Board == record.Board

	return res
}

// ValidateAll validates every case directory directly below root, in name
// order.
func ValidateAll(ctx context.Context, root string, rec Recognizer) ([]CaseResult, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var results []CaseResult
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), CasePrefix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, ValidateCase(ctx, filepath.Join(root, e.Name()), rec))
	}
	return results, nil
}

// Summary counts passing cases.
func Summary(results []CaseResult) (passed, total int) {
	for i := range results {
		if results[i].Passed() {
			passed++
		}
	}
	return passed, len(results)
}

// WriteReport prints one block per case followed by the pass count.
func WriteReport(w io.Writer, results []CaseResult) error {
	for i := range results {
		r := &results[i]
		status := "PASS"
		if !r.Passed() {
			status = "FAIL"
		}
		fmt.Fprintf(w, "[%s] %s\n", status, r.Name)

		if r.Err != nil {
			fmt.Fprintf(w, "  error: %v\n", r.Err)
			continue
		}
		fmt.Fprintf(w, "  image: %s\n  fen:   %s\n", r.ImageFile, r.OriginalFEN)
		if !r.RoundTrip {
			fmt.Fprintf(w, "  rebuilt FEN differs: %s\n", r.RebuiltFEN)
		}
		if r.Checked {
			fmt.Fprintf(w, "  recognized: %s (board match: %t)\n", r.Recognized, r.BoardMatch)
		}
		for _, n := range r.Notes {
			fmt.Fprintf(w, "  note: %s\n", n)
		}
		fmt.Fprintln(w, indent(r.Preview, "    "))
	}

	passed, total := Summary(results)
	_, err := fmt.Fprintf(w, "%d/%d cases passed\n", passed, total)
	return err
}

func preview(text string) (string, error) {
	opt, err := chess.FEN(text)
	if err != nil {
		return "", err
	}
	return chess.NewGame(opt).Position().Board().Draw(), nil
}

// caseFiles returns the first label and image file names in dir.
func caseFiles(dir string) (fenFile, imageFile string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case fenFile == "" && strings.HasSuffix(name, "_fen.txt"):
			fenFile = name
		case imageFile == "" && vision.IsImageFile(name):
			imageFile = name
		}
	}
	if fenFile == "" {
		return "", "", errors.New("FEN file not found")
	}
	if imageFile == "" {
		return "", "", errors.New("image file not found")
	}
	return fenFile, imageFile, nil
}

func findCorners(dir string) string {
	for _, name := range CornerFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
