package droneannotator

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/drone-annotator/pkg/types"
)

func TestDecodeYOLOFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.txt")

	a := New()
	records := []types.BBoxRecord{
		{ClassID: intPtr(0), Cx: 0.5, Cy: 0.5, W: 0.2, H: 0.1},
		{ClassID: intPtr(3), Cx: 0.25, Cy: 0.75, W: 0.1, H: 0.1},
	}
	if err := a.ExportYOLOFile(records, path); err != nil {
		t.Fatalf("ExportYOLOFile() error = %v", err)
	}

	got, err := a.DecodeYOLOFile(path)
	if err != nil {
		t.Fatalf("DecodeYOLOFile() error = %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("DecodeYOLOFile() returned %d records, want %d", len(got), len(records))
	}
	for i, rec := range got {
		if rec.Class(-1) != records[i].Class(-1) {
			t.Errorf("record %d class = %d, want %d", i, rec.Class(-1), records[i].Class(-1))
		}
	}
}

func TestDecodeQwenFileBothForms(t *testing.T) {
	dir := t.TempDir()
	a := New()

	jsonPath := filepath.Join(dir, "labels.json")
	doc := `{"cracks": [{"bbox_2d": [0, 0.5, 0.5, 0.2, 0.1], "description": "hairline crack"}]}`
	if err := os.WriteFile(jsonPath, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := a.DecodeQwenFile(jsonPath)
	if err != nil {
		t.Fatalf("DecodeQwenFile(json) error = %v", err)
	}
	if len(got) != 1 || got[0].Category != "cracks" {
		t.Fatalf("DecodeQwenFile(json) = %+v, want one record in category cracks", got)
	}

	linesPath := filepath.Join(dir, "labels.txt")
	if err := os.WriteFile(linesPath, []byte("0 0.5 0.5 0.2 0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = a.DecodeQwenFile(linesPath)
	if err != nil {
		t.Fatalf("DecodeQwenFile(lines) error = %v", err)
	}
	if len(got) != 1 || got[0].Class(-1) != 0 {
		t.Fatalf("DecodeQwenFile(lines) = %+v, want one class-0 record", got)
	}
}

func TestAnnotateWritesOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "frame.png")
	out := filepath.Join(dir, "frame_annotated.jpg")

	img := image.NewRGBA(image.Rect(0, 0, 120, 80))
	if err := imaging.Save(img, src); err != nil {
		t.Fatal(err)
	}

	a := New()
	records := []types.BBoxRecord{{ClassID: intPtr(1), Cx: 0.5, Cy: 0.5, W: 0.4, H: 0.4}}
	if err := a.Annotate(context.Background(), src, records, out); err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("annotated output missing: %v", err)
	}
}

func TestAnnotateMissingSource(t *testing.T) {
	a := New()
	err := a.Annotate(context.Background(), "/nonexistent/frame.jpg", nil, "out.jpg")
	if err == nil {
		t.Fatal("Annotate() with missing source should fail")
	}
}

func intPtr(v int) *int { return &v }
