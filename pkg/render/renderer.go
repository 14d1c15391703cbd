// Package render draws bounding-box records onto images.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/drone-annotator/pkg/types"
)

// RenderError reports that the source image could not be opened or the
// annotated output could not be written. Fatal for that single job only.
type RenderError struct {
	Path   string
	Reason string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render: %s: %s", e.Path, e.Reason)
}

// palette is the fixed box color set, indexed by class id with wraparound,
// so repeated runs over the same input produce pixel-identical output.
var palette = []color.NRGBA{
	{255, 0, 0, 255},     // red
	{0, 200, 0, 255},     // green
	{0, 120, 255, 255},   // blue
	{255, 204, 0, 255},   // gold
	{255, 0, 255, 255},   // magenta
	{0, 210, 210, 255},   // cyan
	{255, 128, 0, 255},   // orange
	{160, 60, 255, 255},  // violet
}

// Style controls the drawn annotation appearance.
type Style struct {
	Quality    int  // JPEG/WebP quality for the output image
	Lossless   bool // WebP lossless mode
	Numbered   bool // prefix labels with their 1-based index
	MinStroke  int  // minimum rectangle stroke in pixels
}

// DefaultStyle returns the style used by the CLI.
func DefaultStyle() Style {
	return Style{Quality: 95, Numbered: true, MinStroke: 2}
}

// Renderer projects bounding-box records onto an image. Drawing is
// deterministic; malformed records are skipped and logged, never fatal.
type Renderer struct {
	style Style
	log   *logrus.Logger
}

// New creates a Renderer with the default style.
func New() *Renderer {
	return NewWithStyle(DefaultStyle(), logrus.StandardLogger())
}

// NewWithStyle creates a Renderer with a custom style and logger.
func NewWithStyle(style Style, log *logrus.Logger) *Renderer {
	if style.MinStroke < 1 {
		style.MinStroke = 1
	}
	if style.Quality < 1 || style.Quality > 100 {
		style.Quality = 95
	}
	return &Renderer{style: style, log: log}
}

// PaletteColor returns the deterministic color for a class id.
func PaletteColor(classID int) color.NRGBA {
	if classID < 0 {
		classID = 0
	}
	return palette[classID%len(palette)]
}

// Render draws each record as a rectangle plus a text label onto a copy of
// img. The source image is never mutated. Records that fail validation are
// skipped with a warning so one bad box never blocks the others.
func (r *Renderer) Render(img image.Image, records []types.BBoxRecord) image.Image {
	canvas := imaging.Clone(img)
	w, h := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	stroke := int(math.Max(float64(r.style.MinStroke), 0.004*float64(minInt(w, h))))

	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			r.log.WithFields(logrus.Fields{
				"record": i,
				"error":  err,
			}).Warn("skipping malformed record during render")
			continue
		}
		rec, clamped := rec.Clamp()
		if clamped {
			r.log.WithFields(logrus.Fields{"record": i}).Warn("box exceeds image bounds, clamped for render")
		}

		col := PaletteColor(rec.Class(0))
		x0, y0, x1, y1 := boxToPixels(rec, w, h)
		drawRect(canvas, x0, y0, x1, y1, col, stroke)

		label := rec.Label()
		if r.style.Numbered {
			label = fmt.Sprintf("%d: %s", i+1, label)
		}
		r.drawLabel(canvas, label, x0, y0, y1)
	}
	return canvas
}

// RenderToFile draws records onto img and writes the result to path.
// The output format follows the file extension (jpg, png, webp).
func (r *Renderer) RenderToFile(img image.Image, records []types.BBoxRecord, path string) error {
	annotated := r.Render(img, records)
	if err := r.save(annotated, path); err != nil {
		return &RenderError{Path: path, Reason: err.Error()}
	}
	return nil
}

// AnnotateFile loads an image from disk, draws records onto it, and writes
// the annotated copy to outPath.
func (r *Renderer) AnnotateFile(inPath string, records []types.BBoxRecord, outPath string) error {
	img, err := imaging.Open(inPath)
	if err != nil {
		return &RenderError{Path: inPath, Reason: err.Error()}
	}
	return r.RenderToFile(img, records, outPath)
}

func (r *Renderer) save(img image.Image, path string) error {
	switch ext(path) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return webp.Encode(f, img, &webp.Options{Lossless: r.style.Lossless, Quality: float32(r.style.Quality)})
	case "png":
		return imaging.Save(img, path)
	default:
		return imaging.Save(img, path, imaging.JPEGQuality(r.style.Quality))
	}
}

// drawLabel paints the label text on a filled background just above the
// box, or below its top edge when the box touches the top of the image.
func (r *Renderer) drawLabel(canvas *image.NRGBA, label string, x0, y0, y1 int) {
	face := basicfont.Face7x13
	textW := font.MeasureString(face, label).Ceil()
	textH := face.Metrics().Height.Ceil()
	pad := 3

	boxH := textH + 2*pad
	lx := x0
	ly := y0 - boxH - 1
	if ly < 0 {
		// No room above the box, place the label just below it.
		ly = y1 + 1
	}
	w, h := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	if lx+textW+2*pad > w {
		lx = w - textW - 2*pad
	}
	if lx < 0 {
		lx = 0
	}
	if ly+boxH > h {
		ly = h - boxH
	}
	if ly < 0 {
		ly = 0
	}

	// White background, black text, as the field crews expect.
	fillRect(canvas, lx, ly, lx+textW+2*pad, ly+boxH, color.NRGBA{255, 255, 255, 255})
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.NRGBA{0, 0, 0, 255}),
		Face: face,
		Dot:  fixed.P(lx+pad, ly+pad+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(label)
}

func boxToPixels(rec types.BBoxRecord, w, h int) (int, int, int, int) {
	x0 := int(clamp(rec.Cx-rec.W/2, 0, 1)*float64(w) + 0.5)
	y0 := int(clamp(rec.Cy-rec.H/2, 0, 1)*float64(h) + 0.5)
	x1 := int(clamp(rec.Cx+rec.W/2, 0, 1)*float64(w) + 0.5)
	y1 := int(clamp(rec.Cy+rec.H/2, 0, 1)*float64(h) + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func fillRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	for y := y0; y < y1; y++ {
		drawHLine(img, y, x0, x1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}

func ext(path string) string {
	e := strings.ToLower(filepath.Ext(path))
	return strings.TrimPrefix(e, ".")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
