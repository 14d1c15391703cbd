package codec

import (
	"fmt"
	"math"

	"github.com/menta2k/drone-annotator/pkg/types"
)

// DecodePixelXYXY converts absolute pixel corners [x1,y1,x2,y2] into a
// canonical record using the image dimensions in ctx. Either corner
// ordering is tolerated and normalized; a box that is degenerate after
// ordering fails with a GeometryError.
func (c *Codec) DecodePixelXYXY(box [4]float64, ctx types.ImageContext) (types.BBoxRecord, error) {
	if !ctx.Valid() {
		return types.BBoxRecord{}, &types.GeometryError{
			Reason: fmt.Sprintf("image context %dx%d", ctx.Width, ctx.Height),
		}
	}

	x1, y1, x2, y2 := box[0], box[1], box[2], box[3]
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	if x2 <= x1 || y2 <= y1 {
		return types.BBoxRecord{}, &types.GeometryError{
			Reason: fmt.Sprintf("degenerate pixel box [%g %g %g %g]", box[0], box[1], box[2], box[3]),
		}
	}

	fw, fh := float64(ctx.Width), float64(ctx.Height)
	rec := types.BBoxRecord{
		Cx:     (x1 + x2) / (2 * fw),
		Cy:     (y1 + y2) / (2 * fh),
		W:      (x2 - x1) / fw,
		H:      (y2 - y1) / fh,
		Source: types.FormatPixelXYXY,
	}
	return c.validate(rec, "pixel-xyxy", 0)
}

// EncodePixelXYXY converts a canonical record into pixel corners, rounding
// to the nearest integer pixel. The output always satisfies x1<x2, y1<y2.
func (c *Codec) EncodePixelXYXY(rec types.BBoxRecord, ctx types.ImageContext) ([4]int, error) {
	if !ctx.Valid() {
		return [4]int{}, &types.GeometryError{
			Reason: fmt.Sprintf("image context %dx%d", ctx.Width, ctx.Height),
		}
	}
	if err := rec.Validate(); err != nil {
		return [4]int{}, err
	}

	fw, fh := float64(ctx.Width), float64(ctx.Height)
	x1 := int(math.Round((rec.Cx - rec.W/2) * fw))
	y1 := int(math.Round((rec.Cy - rec.H/2) * fh))
	x2 := int(math.Round((rec.Cx + rec.W/2) * fw))
	y2 := int(math.Round((rec.Cy + rec.H/2) * fh))

	// Integer rounding can collapse very thin boxes; keep them one pixel wide.
	if x2 <= x1 {
		x2 = x1 + 1
	}
	if y2 <= y1 {
		y2 = y1 + 1
	}
	return [4]int{x1, y1, x2, y2}, nil
}
