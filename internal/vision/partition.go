package vision

import (
	"fmt"
	"image"

	"github.com/thyrook/fenvision/internal/board"
)

// Patch is one square of the canonical raster. Image shares pixels with the
// raster it came from.
type Patch struct {
	Square board.Square
	Image  *image.RGBA
	Bounds image.Rectangle
}

// Partitioner splits a canonical raster into square patches.
type Partitioner interface {
	Partition(r *CanonicalRaster) ([]Patch, error)
}

// GridPartitioner cuts the raster into an 8x8 grid of equal cells.
type GridPartitioner struct{}

// Partition returns 64 patches ordered rank 8 to 1, file a to h. The raster
// side must be a positive multiple of 8; nothing is truncated.
func (GridPartitioner) Partition(r *CanonicalRaster) ([]Patch, error) {
	if r == nil || r.Image == nil {
		return nil, fmt.Errorf("partition: nil raster")
	}
	if err := validateSize(r.Size); err != nil {
		return nil, err
	}
	b := r.Image.Bounds()
	if b.Dx() != r.Size || b.Dy() != r.Size {
		return nil, &ConfigError{
			Field:  "raster bounds",
			Value:  b.Size(),
			Reason: fmt.Sprintf("want %dx%d", r.Size, r.Size),
		}
	}

	cell := r.Size / board.Size
	patches := make([]Patch, 0, board.Size*board.Size)
	for _, sq := range board.Squares() {
		x := b.Min.X + sq.Col()*cell
		y := b.Min.Y + sq.Row()*cell
		rect := image.Rect(x, y, x+cell, y+cell)
		patches = append(patches, Patch{
			Square: sq,
			Image:  r.Image.SubImage(rect).(*image.RGBA),
			Bounds: rect,
		})
	}

	return patches, nil
}
