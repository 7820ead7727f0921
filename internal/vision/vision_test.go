package vision

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"golang.org/x/image/draw"

	"github.com/thyrook/fenvision/internal/board"
	"github.com/thyrook/fenvision/internal/geometry"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.OutputSize != 800 {
		t.Errorf("Expected output size 800, got %d", config.OutputSize)
	}

	if !config.StrictCorners {
		t.Error("Strict corners should be on by default")
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config validation failed: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		expectErr bool
	}{
		{
			name:      "Valid config",
			modifyFn:  func(c *Config) {},
			expectErr: false,
		},
		{
			name: "Output size not a multiple of 8",
			modifyFn: func(c *Config) {
				c.OutputSize = 804
			},
			expectErr: true,
		},
		{
			name: "Output size zero",
			modifyFn: func(c *Config) {
				c.OutputSize = 0
			},
			expectErr: true,
		},
		{
			name: "Unknown backend",
			modifyFn: func(c *Config) {
				c.Backend = "magic"
			},
			expectErr: true,
		},
		{
			name: "OpenCV backend",
			modifyFn: func(c *Config) {
				c.Backend = BackendOpenCV
			},
			expectErr: false,
		},
		{
			name: "Max condition too small",
			modifyFn: func(c *Config) {
				c.MaxCondition = 0.5
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modifyFn(config)

			err := config.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
			if err != nil {
				var ce *ConfigError
				if !errors.As(err, &ce) {
					t.Errorf("Expected *ConfigError, got %T", err)
				}
			}
		})
	}
}

func TestConfigSaveLoad(t *testing.T) {
	path := t.TempDir() + "/vision.json"

	config := DefaultConfig()
	config.OutputSize = 640
	config.StrictCorners = false
	if err := config.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if *loaded != *config {
		t.Errorf("Loaded config %+v, want %+v", loaded, config)
	}
}

// gradientImage has red growing left to right and green top to bottom.
func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / (w - 1)),
				G: uint8(y * 255 / (h - 1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// patternImage has unrelated neighbouring pixels so any resampling shows.
func patternImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x*31 + y*17) % 256),
				G: uint8((x*x + y) % 256),
				B: uint8((x ^ y) % 256),
				A: 255,
			})
		}
	}
	return img
}

func mustPNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	return data
}

func mustNormalizer(t *testing.T, config *Config) *NativeNormalizer {
	t.Helper()
	n, err := NewNativeNormalizer(config)
	if err != nil {
		t.Fatalf("NewNativeNormalizer failed: %v", err)
	}
	return n
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestNormalizeIdentityIsExact(t *testing.T) {
	src := patternImage(800, 800)
	n := mustNormalizer(t, nil)

	r, err := n.Normalize(mustPNG(t, src), geometry.RectCorners(0, 0, 800, 800))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if r.Size != 800 || r.Image.Bounds().Dx() != 800 || r.Image.Bounds().Dy() != 800 {
		t.Fatalf("Unexpected raster size %d / %v", r.Size, r.Image.Bounds())
	}

	for y := 0; y < 800; y++ {
		for x := 0; x < 800; x++ {
			if got, want := r.Image.RGBAAt(x, y), src.RGBAAt(x, y); got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestNormalizeAxisAlignedCrop(t *testing.T) {
	src := patternImage(1000, 900)
	n := mustNormalizer(t, nil)

	r, err := n.Normalize(mustPNG(t, src), geometry.RectCorners(100, 50, 800, 800))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	for y := 0; y < 800; y += 7 {
		for x := 0; x < 800; x += 7 {
			if got, want := r.Image.RGBAAt(x, y), src.RGBAAt(x+100, y+50); got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestNormalizeMatchesResize(t *testing.T) {
	src := gradientImage(1600, 1600)
	n := mustNormalizer(t, nil)

	r, err := n.Normalize(mustPNG(t, src), geometry.RectCorners(0, 0, 1600, 1600))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	want := image.NewRGBA(image.Rect(0, 0, 800, 800))
	draw.BiLinear.Scale(want, want.Bounds(), src, src.Bounds(), draw.Src, nil)

	var total, worst int
	for y := 2; y < 798; y++ {
		for x := 2; x < 798; x++ {
			g, w := r.Image.RGBAAt(x, y), want.RGBAAt(x, y)
			d := absDiff(g.R, w.R) + absDiff(g.G, w.G) + absDiff(g.B, w.B)
			total += d
			if d > worst {
				worst = d
			}
		}
	}
	mean := float64(total) / float64(796*796)
	if mean > 2 || worst > 8 {
		t.Errorf("normalized raster differs from resize: mean %.2f, worst %d", mean, worst)
	}
}

func TestIsImageFile(t *testing.T) {
	for _, name := range []string{"a.png", "b.JPG", "c.jpeg", "d.gif", "e.bmp", "f.tif", "g.TIFF", "h.webp"} {
		if !IsImageFile(name) {
			t.Errorf("%s should be an image", name)
		}
	}
	for _, name := range []string{"a_fen.txt", "corners.yaml", "png", "board.svg"} {
		if IsImageFile(name) {
			t.Errorf("%s should not be an image", name)
		}
	}
}

func TestNormalizeDecodeError(t *testing.T) {
	n := mustNormalizer(t, nil)

	for _, data := range [][]byte{nil, []byte("definitely not an image")} {
		_, err := n.Normalize(data, geometry.RectCorners(0, 0, 10, 10))
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("Expected *DecodeError, got %T: %v", err, err)
		}
	}
}

func TestNormalizeRejectsBadCorners(t *testing.T) {
	data := mustPNG(t, patternImage(200, 200))
	n := mustNormalizer(t, nil)

	tests := []struct {
		name    string
		corners geometry.CornerSet
	}{
		{"collinear", geometry.CornerSet{
			TopLeft: geometry.Pt(0, 0), TopRight: geometry.Pt(100, 0),
			BottomRight: geometry.Pt(199, 0), BottomLeft: geometry.Pt(50, 0),
		}},
		{"counter clockwise", geometry.CornerSet{
			TopLeft: geometry.Pt(0, 0), TopRight: geometry.Pt(0, 199),
			BottomRight: geometry.Pt(199, 199), BottomLeft: geometry.Pt(199, 0),
		}},
		{"coincident", geometry.CornerSet{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := n.Normalize(data, tt.corners)
			if r != nil {
				t.Error("Expected no raster on failure")
			}
			var te *geometry.TransformError
			if !errors.As(err, &te) {
				t.Fatalf("Expected *geometry.TransformError, got %T: %v", err, err)
			}
		})
	}
}

func TestNormalizeLenientCornersTranspose(t *testing.T) {
	src := patternImage(64, 64)
	config := DefaultConfig()
	config.OutputSize = 64
	config.StrictCorners = false
	n := mustNormalizer(t, config)

	// TR and BL swapped: the raster comes out transposed.
	corners := geometry.CornerSet{
		TopLeft:     geometry.Pt(0, 0),
		TopRight:    geometry.Pt(0, 63),
		BottomRight: geometry.Pt(63, 63),
		BottomLeft:  geometry.Pt(63, 0),
	}
	r, err := n.Normalize(mustPNG(t, src), corners)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	for y := 0; y < 64; y += 3 {
		for x := 0; x < 64; x += 3 {
			if got, want := r.Image.RGBAAt(x, y), src.RGBAAt(y, x); got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestOrientationOf(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 80, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 80; x++ {
			v := uint8(y * 3)
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	if got := OrientationOf(img); got != WhiteBottom {
		t.Errorf("bright bottom: got %v, want %v", got, WhiteBottom)
	}

	flipped := image.NewRGBA(img.Bounds())
	for y := 0; y < 80; y++ {
		for x := 0; x < 80; x++ {
			flipped.SetRGBA(x, 79-y, img.RGBAAt(x, y))
		}
	}
	if got := OrientationOf(flipped); got != BlackBottom {
		t.Errorf("dark bottom: got %v, want %v", got, BlackBottom)
	}

	if got := OrientationOf(image.NewRGBA(image.Rect(0, 0, 4, 4))); got != UnknownSide {
		t.Errorf("tiny image: got %v, want %v", got, UnknownSide)
	}
}

func startMatrix() board.Matrix {
	var m board.Matrix
	back := "rnbqkbnr"
	for c := 0; c < 8; c++ {
		m[0][c] = board.Symbol(back[c])
		m[1][c] = board.BlackPawn
		m[6][c] = board.WhitePawn
		m[7][c] = board.Symbol(strings.ToUpper(back)[c])
	}
	return m
}

func TestRenderedStartPositionHint(t *testing.T) {
	img, err := RenderBoard(startMatrix(), 400)
	if err != nil {
		t.Fatalf("RenderBoard failed: %v", err)
	}

	if got := OrientationOf(img); got != WhiteBottom {
		t.Errorf("start position: got %v, want %v", got, WhiteBottom)
	}
}

func TestPartition(t *testing.T) {
	img, err := RenderBoard(board.Matrix{}, 800)
	if err != nil {
		t.Fatalf("RenderBoard failed: %v", err)
	}

	patches, err := GridPartitioner{}.Partition(&CanonicalRaster{Image: img, Size: 800})
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}

	if len(patches) != 64 {
		t.Fatalf("Expected 64 patches, got %d", len(patches))
	}

	seen := make(map[board.Square]bool)
	for i, p := range patches {
		if want := board.Squares()[i]; p.Square != want {
			t.Errorf("patch %d is %v, want %v", i, p.Square, want)
		}
		if seen[p.Square] {
			t.Errorf("square %v appears twice", p.Square)
		}
		seen[p.Square] = true

		if p.Bounds.Dx() != 100 || p.Bounds.Dy() != 100 {
			t.Errorf("patch %v has size %v", p.Square, p.Bounds.Size())
		}
		if p.Image.Bounds() != p.Bounds {
			t.Errorf("patch %v image bounds %v, want %v", p.Square, p.Image.Bounds(), p.Bounds)
		}
		for j := 0; j < i; j++ {
			if p.Bounds.Overlaps(patches[j].Bounds) {
				t.Fatalf("patches %v and %v overlap", p.Square, patches[j].Square)
			}
		}
	}

	first, last := patches[0], patches[63]
	if first.Square.String() != "a8" || first.Bounds.Min != image.Pt(0, 0) {
		t.Errorf("first patch = %v at %v", first.Square, first.Bounds)
	}
	if last.Square.String() != "h1" || last.Bounds.Max != image.Pt(800, 800) {
		t.Errorf("last patch = %v at %v", last.Square, last.Bounds)
	}

	// Patches share pixels with the raster.
	img.SetRGBA(150, 50, color.RGBA{1, 2, 3, 255})
	if got := patches[1].Image.RGBAAt(150, 50); got != (color.RGBA{1, 2, 3, 255}) {
		t.Errorf("patch b8 does not share raster pixels: %v", got)
	}
}

func TestPartitionRejectsIndivisibleSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 804, 804))

	_, err := GridPartitioner{}.Partition(&CanonicalRaster{Image: img, Size: 804})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ConfigError, got %T: %v", err, err)
	}

	_, err = GridPartitioner{}.Partition(&CanonicalRaster{Image: image.NewRGBA(image.Rect(0, 0, 400, 400)), Size: 800})
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ConfigError for mismatched bounds, got %T: %v", err, err)
	}
}

func uniform(size int, c color.RGBA) *CanonicalRaster {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return &CanonicalRaster{Image: img, Size: size}
}

func TestAssessQuality(t *testing.T) {
	rendered, err := RenderBoard(startMatrix(), 400)
	if err != nil {
		t.Fatalf("RenderBoard failed: %v", err)
	}

	tests := []struct {
		name     string
		raster   *CanonicalRaster
		expected int
		want     []string
	}{
		{"rendered board", &CanonicalRaster{Image: rendered, Size: 400}, 400, nil},
		{"wrong size", &CanonicalRaster{Image: rendered, Size: 400}, 800, []string{"unexpected image size"}},
		{"black", uniform(80, color.RGBA{0, 0, 0, 255}), 80, []string{"too dark", "low contrast"}},
		{"white", uniform(80, color.RGBA{255, 255, 255, 255}), 80, []string{"too bright", "low contrast"}},
		{"flat grey", uniform(80, color.RGBA{128, 128, 128, 255}), 80, []string{"low contrast"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssessQuality(tt.raster, tt.expected)
			if len(got) != len(tt.want) {
				t.Fatalf("AssessQuality = %q, want %d warnings", got, len(tt.want))
			}
			for i := range tt.want {
				if !strings.Contains(got[i], tt.want[i]) {
					t.Errorf("warning %d = %q, want it to mention %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRenderBoardColours(t *testing.T) {
	var m board.Matrix
	m.Set(board.Square{File: 'a', Rank: 8}, board.WhiteQueen)
	m.Set(board.Square{File: 'b', Rank: 8}, board.BlackKnight)

	img, err := RenderBoard(m, 80)
	if err != nil {
		t.Fatalf("RenderBoard failed: %v", err)
	}

	if got := img.RGBAAt(5, 5); got != WhitePiece {
		t.Errorf("a8 centre = %v, want white piece", got)
	}
	if got := img.RGBAAt(0, 0); got != LightSquare {
		t.Errorf("a8 corner = %v, want light square", got)
	}
	if got := img.RGBAAt(15, 5); got != BlackPiece {
		t.Errorf("b8 centre = %v, want black piece", got)
	}
	if got := img.RGBAAt(10, 0); got != DarkSquare {
		t.Errorf("b8 corner = %v, want dark square", got)
	}
	if got := img.RGBAAt(5, 75); got != DarkSquare {
		t.Errorf("a1 = %v, want dark square", got)
	}

	if _, err := RenderBoard(m, 81); err == nil {
		t.Error("Expected error for size 81")
	}
}

func TestPlaceOnCanvasRoundTrip(t *testing.T) {
	boardImg, err := RenderBoard(startMatrix(), 400)
	if err != nil {
		t.Fatalf("RenderBoard failed: %v", err)
	}

	corners := geometry.CornerSet{
		TopLeft:     geometry.Pt(120, 80),
		TopRight:    geometry.Pt(560, 110),
		BottomRight: geometry.Pt(600, 520),
		BottomLeft:  geometry.Pt(90, 480),
	}
	canvas, err := PlaceOnCanvas(boardImg, 700, 600, corners)
	if err != nil {
		t.Fatalf("PlaceOnCanvas failed: %v", err)
	}

	if got := canvas.RGBAAt(5, 5); got != black {
		t.Errorf("outside the board = %v, want black", got)
	}

	config := DefaultConfig()
	config.OutputSize = 400
	r, err := mustNormalizer(t, config).Normalize(mustPNG(t, canvas), corners)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	// Square centres survive the two warps.
	for _, sq := range board.Squares() {
		x, y := sq.Col()*50+25, sq.Row()*50+25
		g, w := r.Image.RGBAAt(x, y), boardImg.RGBAAt(x, y)
		if d := absDiff(g.R, w.R) + absDiff(g.G, w.G) + absDiff(g.B, w.B); d > 30 {
			t.Errorf("centre of %v = %v, want about %v", sq, g, w)
		}
	}
}

func TestNewNormalizerBackends(t *testing.T) {
	n, err := NewNormalizer(nil, nil)
	if err != nil {
		t.Fatalf("NewNormalizer(native) failed: %v", err)
	}
	if _, ok := n.(*NativeNormalizer); !ok {
		t.Errorf("Expected *NativeNormalizer, got %T", n)
	}

	config := DefaultConfig()
	config.Backend = BackendOpenCV
	_, err = NewNormalizer(config, nil)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("Expected *ConfigError without an opencv constructor, got %v", err)
	}

	called := false
	_, err = NewNormalizer(config, func(c *Config) (Normalizer, error) {
		called = true
		n, err := NewNativeNormalizer(c)
		if err != nil {
			return nil, err
		}
		return n, nil
	})
	if err != nil || !called {
		t.Errorf("opencv constructor not used: called=%v err=%v", called, err)
	}
}
