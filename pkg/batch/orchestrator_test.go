package batch

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/drone-annotator/pkg/codec"
	"github.com/menta2k/drone-annotator/pkg/processing"
	"github.com/menta2k/drone-annotator/pkg/render"
	"github.com/menta2k/drone-annotator/pkg/types"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{100, 90, 80, 255})
		}
	}
	return img
}

// stubFetcher fails for sources listed in failing.
type stubFetcher struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   map[string]int
}

func (s *stubFetcher) Fetch(ctx context.Context, source string) (image.Image, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[source]++
	s.mu.Unlock()
	if s.failing[source] {
		return nil, &processing.FetchError{URL: source, Reason: "connection refused"}
	}
	return testImage(), nil
}

type stubDetector struct {
	records []types.BBoxRecord
}

func (s *stubDetector) DetectDefects(ctx context.Context, model, imgB64 string) ([]types.BBoxRecord, string, error) {
	return s.records, `{"cracks":[]}`, nil
}

func intPtr(v int) *int { return &v }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func newTestOrchestrator(t *testing.T, fetcher Fetcher, detector DefectFinder, opts Options) *Orchestrator {
	t.Helper()
	log := quietLogger()
	return NewWith(fetcher, detector, codec.NewWithLogger(log), render.NewWithStyle(render.DefaultStyle(), log), log, opts)
}

func TestRunRecordsPerSourceOutcomes(t *testing.T) {
	sources := []string{
		"https://example.com/a.jpg",
		"https://example.com/b.jpg",
		"https://example.com/c.jpg",
		"https://example.com/d.jpg",
		"https://example.com/e.jpg",
	}
	fetcher := &stubFetcher{failing: map[string]bool{"https://example.com/c.jpg": true}}
	detector := &stubDetector{records: []types.BBoxRecord{
		{ClassID: intPtr(0), Cx: 0.5, Cy: 0.5, W: 0.1, H: 0.1, Description: "crack"},
	}}

	opts := DefaultOptions()
	opts.OutputDir = t.TempDir()
	opts.RetryAttempts = 1
	opts.RetryBackoff = time.Millisecond

	o := newTestOrchestrator(t, fetcher, detector, opts)
	manifest, err := o.Run(context.Background(), "TESTRUN", sources)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(manifest.Entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(manifest.Entries))
	}

	ok, failed := 0, 0
	for i, e := range manifest.Entries {
		if e.Index != i {
			t.Errorf("entry %d has index %d, manifest not in source order", i, e.Index)
		}
		if e.ID == "" {
			t.Errorf("entry %d missing id", i)
		}
		switch e.Status {
		case StatusOK:
			ok++
			if len(e.OutputPaths) == 0 {
				t.Errorf("successful entry %d has no output paths", i)
			}
		case StatusFailed:
			failed++
			if !strings.Contains(e.Error, "fetch") {
				t.Errorf("failed entry error = %q, want a fetch error", e.Error)
			}
		}
	}
	if ok != 4 || failed != 1 {
		t.Errorf("ok=%d failed=%d, want 4/1", ok, failed)
	}
	if manifest.Entries[2].Status != StatusFailed {
		t.Error("source 3 should be the failed one")
	}

	// Sources after the failure were still processed.
	if manifest.Entries[3].Status != StatusOK || manifest.Entries[4].Status != StatusOK {
		t.Error("sources after the failed one were not processed")
	}

	// Failed fetch was retried.
	if fetcher.calls["https://example.com/c.jpg"] != 2 {
		t.Errorf("failing source fetched %d times, want 2", fetcher.calls["https://example.com/c.jpg"])
	}
}

func TestRunWritesOutputsAndManifest(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.OutputDir = dir

	fetcher := &stubFetcher{}
	detector := &stubDetector{records: []types.BBoxRecord{
		{ClassID: intPtr(0), Cx: 0.5, Cy: 0.5, W: 0.2, H: 0.2, Description: "crack"},
	}}

	o := newTestOrchestrator(t, fetcher, detector, opts)
	manifest, err := o.Run(context.Background(), "R001", []string{"https://example.com/DJI_0942.JPG"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	outDir := filepath.Join(dir, "R001_DJI_0942")
	for _, f := range []string{"DJI_0942.txt", "classes.txt", "DJI_0942_analysis.json", "DJI_0942_annotated.jpg"} {
		if _, err := os.Stat(filepath.Join(outDir, f)); err != nil {
			t.Errorf("missing output %s: %v", f, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "R001_manifest.json")); err != nil {
		t.Errorf("manifest not persisted: %v", err)
	}
	if manifest.RunID != "R001" {
		t.Errorf("run id = %q", manifest.RunID)
	}

	// Labels round-trip through the codec.
	log := quietLogger()
	records, err := codec.NewWithLogger(log).DecodeYOLOFile(filepath.Join(outDir, "DJI_0942.txt"))
	if err != nil {
		t.Fatalf("decoding exported labels: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("exported %d labels, want 1", len(records))
	}
}

func TestRunWithSuppliedRecords(t *testing.T) {
	opts := DefaultOptions()
	opts.OutputDir = t.TempDir()
	opts.Records = []types.BBoxRecord{
		{ClassID: intPtr(6), Cx: 0.53, Cy: 0.34, W: 0.02, H: 0.03, Description: "circular hole near apex"},
	}

	// No detector configured: the supplied records must be used.
	o := newTestOrchestrator(t, &stubFetcher{}, nil, opts)
	manifest, err := o.Run(context.Background(), "", []string{"https://example.com/a.jpg"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(manifest.Entries) != 1 || manifest.Entries[0].Status != StatusOK {
		t.Fatalf("unexpected manifest: %+v", manifest.Entries)
	}
	if manifest.RunID == "" {
		t.Error("run id was not generated")
	}
}

func TestRunParallelWorkers(t *testing.T) {
	opts := DefaultOptions()
	opts.OutputDir = t.TempDir()
	opts.Workers = 4
	opts.Records = []types.BBoxRecord{{Cx: 0.5, Cy: 0.5, W: 0.1, H: 0.1}}

	sources := make([]string, 12)
	for i := range sources {
		sources[i] = "https://example.com/img" + string(rune('a'+i)) + ".jpg"
	}

	o := newTestOrchestrator(t, &stubFetcher{}, nil, opts)
	manifest, err := o.Run(context.Background(), "PAR", sources)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(manifest.Entries) != len(sources) {
		t.Fatalf("got %d entries, want %d", len(manifest.Entries), len(sources))
	}
	for i, e := range manifest.Entries {
		if e.Index != i {
			t.Errorf("entry %d out of order (index %d)", i, e.Index)
		}
		if e.Status != StatusOK {
			t.Errorf("entry %d failed: %s", i, e.Error)
		}
	}
}

func TestAggregatorFinalize(t *testing.T) {
	agg := NewAggregator("RX")
	if err := agg.Append(Entry{SourceURL: "a", Status: StatusOK}); err != nil {
		t.Fatal(err)
	}
	if err := agg.Append(Entry{SourceURL: "b", Status: StatusFailed, Error: "boom"}); err != nil {
		t.Fatal(err)
	}

	if agg.Successes() != 1 || agg.Failures() != 1 {
		t.Errorf("counts = %d/%d", agg.Successes(), agg.Failures())
	}

	m := agg.Finalize()
	if m.Finished.IsZero() {
		t.Error("finish time not stamped")
	}
	if err := agg.Append(Entry{SourceURL: "c"}); err == nil {
		t.Error("append after finalize should fail")
	}
}

func TestAggregatorWriteFile(t *testing.T) {
	agg := NewAggregator("RW")
	_ = agg.Append(Entry{SourceURL: "https://example.com/x.jpg", Status: StatusOK})
	agg.Finalize()

	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := agg.WriteFile(path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if m.RunID != "RW" || len(m.Entries) != 1 {
		t.Errorf("manifest = %+v", m)
	}
}
