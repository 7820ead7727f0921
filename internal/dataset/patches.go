package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thyrook/fenvision/internal/board"
	"github.com/thyrook/fenvision/internal/config"
	"github.com/thyrook/fenvision/internal/fen"
	"github.com/thyrook/fenvision/internal/vision"
)

// LabelledPatch is one square of a case photo with its true symbol.
type LabelledPatch struct {
	Case  string
	Patch vision.Patch
	Label board.Symbol
}

// CollectPatches cuts every case below root that has a corner file into 64
// labelled patches. Cases without corners are skipped; malformed ones fail
// the call.
func CollectPatches(root string, n vision.Normalizer, p vision.Partitioner) ([]LabelledPatch, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var out []LabelledPatch
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), CasePrefix) {
			continue
		}
		dir := filepath.Join(root, e.Name())
		cornersPath := findCorners(dir)
		if cornersPath == "" {
			continue
		}

		patches, err := casePatches(dir, cornersPath, n, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, patches...)
	}
	return out, nil
}

func casePatches(dir, cornersPath string, n vision.Normalizer, p vision.Partitioner) ([]LabelledPatch, error) {
	fenFile, imageFile, err := caseFiles(dir)
	if err != nil {
		return nil, err
	}

	text, err := os.ReadFile(filepath.Join(dir, fenFile))
	if err != nil {
		return nil, err
	}
	record, err := fen.Parse(strings.TrimSpace(string(text)))
	if err != nil {
		return nil, err
	}

	corners, err := config.LoadCorners(cornersPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, imageFile))
	if err != nil {
		return nil, err
	}

	raster, err := n.Normalize(data, corners)
	if err != nil {
		return nil, err
	}
	patches, err := p.Partition(raster)
	if err != nil {
		return nil, err
	}

	out := make([]LabelledPatch, 0, len(patches))
	for _, patch := range patches {
		out = append(out, LabelledPatch{
			Case:  filepath.Base(dir),
			Patch: patch,
			Label: record.Board.At(patch.Square),
		})
	}
	return out, nil
}
