// Package capture grabs a screen region as the input image of a
// conversion.
package capture

import (
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/thyrook/fenvision/internal/vision"
)

// Capturer handles screen capture of a fixed region
type Capturer struct {
	region image.Rectangle
	grab   func(image.Rectangle) (*image.RGBA, error)
	mu     sync.Mutex
}

// NewCapturer creates a capturer for the width x height region at (x, y).
func NewCapturer(x, y, width, height int) (*Capturer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid capture region %dx%d", width, height)
	}
	return &Capturer{
		region: image.Rect(x, y, x+width, y+height),
		grab:   screenshot.CaptureRect,
	}, nil
}

// ForDisplay creates a capturer covering the whole of display index.
func ForDisplay(index int) (*Capturer, error) {
	if index < 0 {
		return nil, fmt.Errorf("invalid display %d", index)
	}
	displays := Displays()
	if index >= len(displays) {
		return nil, fmt.Errorf("display %d not found (%d active)", index, len(displays))
	}
	r := displays[index]
	return NewCapturer(r.Min.X, r.Min.Y, r.Dx(), r.Dy())
}

// ParseRegion parses "x,y,w,h" or "display:N" into a capturer.
func ParseRegion(s string) (*Capturer, error) {
	if rest, ok := strings.CutPrefix(s, "display:"); ok {
		index, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid display %q: %w", rest, err)
		}
		return ForDisplay(index)
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid region %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid region %q: %w", s, err)
		}
		v[i] = n
	}
	return NewCapturer(v[0], v[1], v[2], v[3])
}

// Region returns the captured rectangle in screen coordinates.
func (c *Capturer) Region() image.Rectangle {
	return c.region
}

// Screenshot is one captured frame
type Screenshot struct {
	Image     *image.RGBA
	Timestamp time.Time
}

// CaptureFrame captures the current screen region. The returned image
// starts at (0, 0), so corners are relative to the region.
func (c *Capturer) CaptureFrame() (*Screenshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	img, err := c.grab(c.region)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen: %w", err)
	}

	if img.Rect.Min != (image.Point{}) {
		shifted := *img
		shifted.Rect = img.Rect.Sub(img.Rect.Min)
		img = &shifted
	}

	return &Screenshot{Image: img, Timestamp: time.Now()}, nil
}

// CapturePNG captures the region and encodes it for the pipeline.
func (c *Capturer) CapturePNG() ([]byte, error) {
	shot, err := c.CaptureFrame()
	if err != nil {
		return nil, err
	}
	return vision.EncodePNG(shot.Image)
}

// Displays returns the bounds of every active display.
func Displays() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out
}
