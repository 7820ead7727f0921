package dataset

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/thyrook/fenvision/internal/classify"
	"github.com/thyrook/fenvision/internal/config"
	"github.com/thyrook/fenvision/internal/fen"
	"github.com/thyrook/fenvision/internal/geometry"
	"github.com/thyrook/fenvision/internal/pipeline"
	"github.com/thyrook/fenvision/internal/vision"
)

const pawnsFEN = "8/pppppppp/8/8/8/8/PPPPPPPP/8 w - - 0 1"

// writeCase creates dir/name with a FEN label, a rendered board photo of
// board and, when withCorners, its corner file.
func writeCase(t *testing.T, root, name, label, boardFEN string, withCorners bool) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, name+"_fen.txt"), []byte(label+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := fen.ParseBoard(boardFEN)
	if err != nil {
		t.Fatal(err)
	}
	img, err := vision.RenderBoard(m, 400)
	if err != nil {
		t.Fatal(err)
	}
	corners := geometry.RectCorners(20, 20, 400, 400)
	photo, err := vision.PlaceOnCanvas(img, 440, 440, corners)
	if err != nil {
		t.Fatal(err)
	}
	data, err := vision.EncodePNG(photo)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "board.png"), data, 0644); err != nil {
		t.Fatal(err)
	}

	if withCorners {
		if err := config.SaveCorners(filepath.Join(dir, "corners.yaml"), corners); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newEngine(t *testing.T) *pipeline.Engine {
	t.Helper()
	n, err := vision.NewNativeNormalizer(nil)
	if err != nil {
		t.Fatal(err)
	}
	return pipeline.NewEngine(n, vision.GridPartitioner{}, classify.NewIntensity(0))
}

func TestValidateCaseRoundTrip(t *testing.T) {
	dir := writeCase(t, t.TempDir(), "case1", fen.StartPosition, "8/8/8/8/8/8/8/8", false)

	res := ValidateCase(context.Background(), dir, nil)
	if res.Err != nil {
		t.Fatalf("Unexpected error: %v", res.Err)
	}
	if !res.RoundTrip {
		t.Errorf("Start position should round trip, rebuilt %q", res.RebuiltFEN)
	}
	if res.Checked {
		t.Error("Recognition should be skipped without a recognizer")
	}
	if !res.Passed() {
		t.Error("Expected case to pass")
	}
	if res.FENFile != "case1_fen.txt" || res.ImageFile != "board.png" {
		t.Errorf("Unexpected files %q %q", res.FENFile, res.ImageFile)
	}
	if res.Preview == "" {
		t.Error("Expected a board preview")
	}
}

func TestValidateCaseNonCanonicalLabel(t *testing.T) {
	// "44" is a legal but non-canonical run length.
	dir := writeCase(t, t.TempDir(), "case2", "44/8/8/8/8/8/8/8 w - - 0 1", "8/8/8/8/8/8/8/8", false)

	res := ValidateCase(context.Background(), dir, nil)
	if res.Err != nil {
		t.Fatalf("Unexpected error: %v", res.Err)
	}
	if res.RoundTrip {
		t.Error("Non-canonical label should not round trip")
	}
	if res.RebuiltFEN != "8/8/8/8/8/8/8/8 w - - 0 1" {
		t.Errorf("Rebuilt = %q", res.RebuiltFEN)
	}
	if res.Passed() {
		t.Error("Expected case to fail")
	}
}

func TestValidateCaseErrors(t *testing.T) {
	root := t.TempDir()

	noFEN := filepath.Join(root, "case_nofen")
	os.MkdirAll(noFEN, 0755)
	os.WriteFile(filepath.Join(noFEN, "board.png"), []byte("x"), 0644)

	noImage := filepath.Join(root, "case_noimage")
	os.MkdirAll(noImage, 0755)
	os.WriteFile(filepath.Join(noImage, "a_fen.txt"), []byte(fen.StartPosition), 0644)

	badFEN := writeCase(t, root, "case_bad", "8/8/8 w - - 0 1", "8/8/8/8/8/8/8/8", false)

	tests := []struct {
		dir  string
		want string
	}{
		{noFEN, "FEN file not found"},
		{noImage, "image file not found"},
		{badFEN, "parsing failed"},
		{filepath.Join(root, "missing"), ""},
	}

	for _, tt := range tests {
		res := ValidateCase(context.Background(), tt.dir, nil)
		if res.Err == nil {
			t.Errorf("%s: expected error", filepath.Base(tt.dir))
			continue
		}
		if !strings.Contains(res.Err.Error(), tt.want) {
			t.Errorf("%s: error %q does not mention %q", filepath.Base(tt.dir), res.Err, tt.want)
		}
		if res.Passed() {
			t.Errorf("%s: failed case reported as passed", filepath.Base(tt.dir))
		}
	}

	res := ValidateCase(context.Background(), badFEN, nil)
	var fe *fen.FormatError
	if !errors.As(res.Err, &fe) {
		t.Errorf("Expected FormatError, got %v", res.Err)
	}
}

func TestValidateCaseRecognizes(t *testing.T) {
	root := t.TempDir()
	engine := newEngine(t)

	match := writeCase(t, root, "case_match", pawnsFEN, "8/pppppppp/8/8/8/8/PPPPPPPP/8", true)
	res := ValidateCase(context.Background(), match, engine)
	if res.Err != nil {
		t.Fatalf("Unexpected error: %v", res.Err)
	}
	if !res.Checked || !res.BoardMatch {
		t.Errorf("Expected matching recognition, got %q", res.Recognized)
	}
	if res.Recognized != pawnsFEN {
		t.Errorf("Recognized %q, want %q", res.Recognized, pawnsFEN)
	}

	// Label says pawns, photo shows an empty board.
	mismatch := writeCase(t, root, "case_mismatch", pawnsFEN, "8/8/8/8/8/8/8/8", true)
	res = ValidateCase(context.Background(), mismatch, engine)
	if res.Err != nil {
		t.Fatalf("Unexpected error: %v", res.Err)
	}
	if !res.Checked || res.BoardMatch || res.Passed() {
		t.Errorf("Expected board mismatch, got %q", res.Recognized)
	}

	noCorners := writeCase(t, root, "case_nocorners", pawnsFEN, "8/8/8/8/8/8/8/8", false)
	res = ValidateCase(context.Background(), noCorners, engine)
	if res.Checked || !res.Passed() {
		t.Error("Case without corners should pass on its label alone")
	}
	if len(res.Notes) == 0 {
		t.Error("Expected a note about skipped recognition")
	}
}

func TestValidateCaseOtherImageFormats(t *testing.T) {
	dir := writeCase(t, t.TempDir(), "case_bmp", pawnsFEN, "8/pppppppp/8/8/8/8/PPPPPPPP/8", true)

	data, err := os.ReadFile(filepath.Join(dir, "board.png"))
	if err != nil {
		t.Fatal(err)
	}
	img, _, err := vision.DecodeImage(data)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(filepath.Join(dir, "board.bmp"))
	if err != nil {
		t.Fatal(err)
	}
	if err := bmp.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if err := os.Remove(filepath.Join(dir, "board.png")); err != nil {
		t.Fatal(err)
	}

	res := ValidateCase(context.Background(), dir, newEngine(t))
	if res.Err != nil {
		t.Fatalf("Unexpected error: %v", res.Err)
	}
	if res.ImageFile != "board.bmp" {
		t.Errorf("ImageFile = %q, want board.bmp", res.ImageFile)
	}
	if !res.Checked || !res.BoardMatch {
		t.Errorf("Expected the BMP photo to be recognized, got %q", res.Recognized)
	}
}

func TestValidateAll(t *testing.T) {
	root := t.TempDir()
	writeCase(t, root, "case2", fen.StartPosition, "8/8/8/8/8/8/8/8", false)
	writeCase(t, root, "case1", pawnsFEN, "8/8/8/8/8/8/8/8", false)
	writeCase(t, root, "other", pawnsFEN, "8/8/8/8/8/8/8/8", false)
	writeCase(t, root, "case3", "44/8/8/8/8/8/8/8 w - - 0 1", "8/8/8/8/8/8/8/8", false)

	results, err := ValidateAll(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("ValidateAll failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 cases, got %d", len(results))
	}
	for i, want := range []string{"case1", "case2", "case3"} {
		if results[i].Name != want {
			t.Errorf("results[%d] = %s, want %s", i, results[i].Name, want)
		}
	}

	passed, total := Summary(results)
	if passed != 2 || total != 3 {
		t.Errorf("Summary = %d/%d, want 2/3", passed, total)
	}

	var buf bytes.Buffer
	if err := WriteReport(&buf, results); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"[PASS] case1", "[FAIL] case3", "2/3 cases passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("Report missing %q:\n%s", want, out)
		}
	}

	if _, err := ValidateAll(context.Background(), filepath.Join(root, "missing"), nil); err == nil {
		t.Error("Expected error for missing root")
	}
}

func TestCollectPatches(t *testing.T) {
	root := t.TempDir()
	writeCase(t, root, "case1", pawnsFEN, "8/pppppppp/8/8/8/8/PPPPPPPP/8", true)
	writeCase(t, root, "case2", fen.StartPosition, "8/8/8/8/8/8/8/8", false)

	n, err := vision.NewNativeNormalizer(nil)
	if err != nil {
		t.Fatal(err)
	}

	patches, err := CollectPatches(root, n, vision.GridPartitioner{})
	if err != nil {
		t.Fatalf("CollectPatches failed: %v", err)
	}
	if len(patches) != 64 {
		t.Fatalf("Expected 64 patches from the case with corners, got %d", len(patches))
	}

	counts := map[byte]int{}
	for _, p := range patches {
		if p.Case != "case1" {
			t.Errorf("Unexpected case %q", p.Case)
		}
		counts[byte(p.Label)]++
	}
	if counts['P'] != 8 || counts['p'] != 8 || counts[0] != 48 {
		t.Errorf("Unexpected label counts %v", counts)
	}
	if patches[8].Patch.Square.String() != "a7" || patches[8].Label != 'p' {
		t.Errorf("patches[8] = %v %c, want a7 p", patches[8].Patch.Square, byte(patches[8].Label))
	}
}
