package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/drone-annotator/pkg/types"
)

func newTestRenderer() *Renderer {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewWithStyle(DefaultStyle(), log)
}

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{64, 64, 64, 255})
		}
	}
	return img
}

func intPtr(v int) *int { return &v }

func TestRenderDrawsEveryRecord(t *testing.T) {
	r := newTestRenderer()
	img := createTestImage(400, 300)

	records := []types.BBoxRecord{
		{ClassID: intPtr(0), Cx: 0.25, Cy: 0.5, W: 0.2, H: 0.2, Description: "crack"},
		{ClassID: intPtr(1), Cx: 0.75, Cy: 0.5, W: 0.2, H: 0.2, Description: "spalling"},
		{ClassID: intPtr(2), Cx: 0.5, Cy: 0.85, W: 0.2, H: 0.1, Description: "hole"},
	}

	out := r.Render(img, records)
	nrgba, ok := out.(*image.NRGBA)
	if !ok {
		t.Fatalf("Render returned %T", out)
	}

	// Each rectangle's left edge midpoint carries its class color.
	for i, rec := range records {
		x := int((rec.Cx - rec.W/2) * 400)
		y := int(rec.Cy * 300)
		got := nrgba.NRGBAAt(x, y)
		want := PaletteColor(*rec.ClassID)
		if got != want {
			t.Errorf("record %d edge color = %v, want %v", i, got, want)
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	r := newTestRenderer()
	img := createTestImage(200, 200)
	records := []types.BBoxRecord{
		{ClassID: intPtr(0), Cx: 0.3, Cy: 0.3, W: 0.2, H: 0.2, Description: "crack"},
		{ClassID: intPtr(8), Cx: 0.7, Cy: 0.7, W: 0.2, H: 0.2},
	}

	encodePNG := func(img image.Image) []byte {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}

	a := encodePNG(r.Render(img, records))
	b := encodePNG(r.Render(img, records))
	if !bytes.Equal(a, b) {
		t.Error("two renders of the same input are not pixel-identical")
	}
}

func TestPaletteWraparound(t *testing.T) {
	if PaletteColor(0) != PaletteColor(len(palette)) {
		t.Error("palette does not wrap around")
	}
	if PaletteColor(0) == PaletteColor(1) {
		t.Error("adjacent classes share a color")
	}
	if PaletteColor(-1) != PaletteColor(0) {
		t.Error("negative class should map to the first color")
	}
}

func TestRenderSkipsMalformedRecords(t *testing.T) {
	r := newTestRenderer()
	img := createTestImage(200, 200)

	records := []types.BBoxRecord{
		{ClassID: intPtr(0), Cx: 0.5, Cy: 0.5, W: 0.2, H: 0.2},
		{ClassID: intPtr(1), Cx: 0.5, Cy: 0.5, W: 0, H: 0.2}, // zero area
		{ClassID: intPtr(2), Cx: 5.0, Cy: 0.5, W: 0.2, H: 0.2}, // far outside
	}

	// Must not panic or fail; the good record still gets drawn.
	out := r.Render(img, records)
	nrgba := out.(*image.NRGBA)
	if nrgba.NRGBAAt(int(0.4*200), 100) != PaletteColor(0) {
		t.Error("valid record was not drawn")
	}
}

func TestRenderDoesNotMutateSource(t *testing.T) {
	r := newTestRenderer()
	img := createTestImage(100, 100).(*image.RGBA)
	before := make([]uint8, len(img.Pix))
	copy(before, img.Pix)

	r.Render(img, []types.BBoxRecord{{Cx: 0.5, Cy: 0.5, W: 0.5, H: 0.5}})

	if !bytes.Equal(before, img.Pix) {
		t.Error("source image pixels changed")
	}
}

func TestRenderToFile(t *testing.T) {
	r := newTestRenderer()
	dir := t.TempDir()
	out := filepath.Join(dir, "annotated.png")

	err := r.RenderToFile(createTestImage(100, 100), []types.BBoxRecord{
		{ClassID: intPtr(0), Cx: 0.5, Cy: 0.5, W: 0.4, H: 0.4, Description: "crack"},
	}, out)
	if err != nil {
		t.Fatalf("RenderToFile failed: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output not written: %v", err)
	}
}

func TestRenderToFileUnwritable(t *testing.T) {
	r := newTestRenderer()
	err := r.RenderToFile(createTestImage(50, 50), nil, "/nonexistent-dir/out.png")
	if err == nil {
		t.Fatal("expected error for unwritable path")
	}
	if _, ok := err.(*RenderError); !ok {
		t.Errorf("expected RenderError, got %T", err)
	}
}

func TestAnnotateFileMissingImage(t *testing.T) {
	r := newTestRenderer()
	err := r.AnnotateFile("/no/such/image.jpg", nil, filepath.Join(t.TempDir(), "out.jpg"))
	if _, ok := err.(*RenderError); !ok {
		t.Errorf("expected RenderError, got %T (%v)", err, err)
	}
}
