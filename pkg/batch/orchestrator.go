// Package batch drives the ingest, convert, render pipeline over a list
// of image sources under one run identifier, with independent
// success/failure per entry, and aggregates the outcomes into a manifest.
package batch

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/drone-annotator/internal/utils"
	"github.com/menta2k/drone-annotator/pkg/codec"
	"github.com/menta2k/drone-annotator/pkg/detection"
	"github.com/menta2k/drone-annotator/pkg/processing"
	"github.com/menta2k/drone-annotator/pkg/render"
	"github.com/menta2k/drone-annotator/pkg/types"
)

// Fetcher acquires an image for one source (file path or URL).
type Fetcher interface {
	Fetch(ctx context.Context, source string) (image.Image, error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, source string) (image.Image, error)

func (f FetchFunc) Fetch(ctx context.Context, source string) (image.Image, error) {
	return f(ctx, source)
}

// DefectFinder produces bounding-box records for a prepared image. The
// returned string is the raw model payload, persisted for reference.
type DefectFinder interface {
	DetectDefects(ctx context.Context, model, imgB64 string) ([]types.BBoxRecord, string, error)
}

// Options configures a batch run. Hand-authored records are an explicit
// value here; there is no process-wide default box set.
type Options struct {
	OutputDir     string
	Model         string
	Workers       int
	RetryAttempts int           // extra fetch attempts after the first
	RetryBackoff  time.Duration // pause between fetch attempts
	SendFormat    string        // image format sent to the model: jpg|png
	SendMaxDim    int           // max long side sent to the model, 0=original
	SendQuality   int           // JPEG quality for the model image
	ImageFormat   string        // annotated output format: jpg|png|webp
	Records       []types.BBoxRecord // fixed records; skips inference when set
}

// DefaultOptions returns the settings used by the CLI.
func DefaultOptions() Options {
	return Options{
		OutputDir:     "results",
		Model:         "qwen2.5vl:latest",
		Workers:       1,
		RetryAttempts: 2,
		RetryBackoff:  2 * time.Second,
		SendFormat:    "jpg",
		SendMaxDim:    1536,
		SendQuality:   85,
		ImageFormat:   "jpg",
	}
}

// Orchestrator runs the detection and annotation pipeline once per source.
type Orchestrator struct {
	opts     Options
	fetcher  Fetcher
	detector DefectFinder
	proc     *processing.Processor
	codec    *codec.Codec
	renderer *render.Renderer
	log      *logrus.Logger
}

// New creates an orchestrator with default collaborators. The detector
// may be nil when Options.Records supplies the boxes.
func New(detector DefectFinder, opts Options) *Orchestrator {
	proc := processing.NewProcessor()
	return &Orchestrator{
		opts:     opts,
		fetcher:  FetchFunc(proc.LoadImageSmart),
		detector: detector,
		proc:     proc,
		codec:    codec.New(),
		renderer: render.New(),
		log:      logrus.StandardLogger(),
	}
}

// NewWith creates an orchestrator with explicit collaborators, used by
// tests and by callers that tune logging or rendering.
func NewWith(fetcher Fetcher, detector DefectFinder, cdc *codec.Codec, renderer *render.Renderer, log *logrus.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		opts:     opts,
		fetcher:  fetcher,
		detector: detector,
		proc:     processing.NewProcessor(),
		codec:    cdc,
		renderer: renderer,
		log:      log,
	}
}

// DefaultRunID generates a timestamp-based run identifier.
func DefaultRunID() string {
	return "R" + time.Now().Format("20060102_150405")
}

// Run processes every source under the given run identifier. A failure at
// any stage for one source is recorded as that entry's error and the next
// source proceeds; the batch never aborts because of one bad item. The
// finalized manifest is persisted under the output directory.
func (o *Orchestrator) Run(ctx context.Context, runID string, sources []string) (*Manifest, error) {
	if runID == "" {
		runID = DefaultRunID()
	}
	if err := utils.EnsureDir(o.opts.OutputDir); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create output directory")
	}

	agg := NewAggregator(runID)
	workers := o.opts.Workers
	if workers < 1 {
		workers = 1
	}

	o.log.WithFields(logrus.Fields{
		"run_id":  runID,
		"sources": len(sources),
		"workers": workers,
	}).Info("starting batch run")

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				entry := o.processSource(ctx, runID, i, sources[i])
				if err := agg.Append(entry); err != nil {
					o.log.WithError(err).Error("failed to append manifest entry")
				}
			}
		}()
	}
	for i := range sources {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	manifest := agg.Finalize()
	manifestPath := filepath.Join(o.opts.OutputDir, runID+"_manifest.json")
	if err := agg.WriteFile(manifestPath); err != nil {
		return manifest, err
	}

	o.log.WithFields(logrus.Fields{
		"run_id":   runID,
		"ok":       agg.Successes(),
		"failed":   agg.Failures(),
		"manifest": manifestPath,
	}).Info("batch run complete")
	return manifest, nil
}

// processSource runs the full pipeline for one source and returns its
// manifest entry. All failures are captured in the entry.
func (o *Orchestrator) processSource(ctx context.Context, runID string, index int, source string) Entry {
	entry := Entry{Index: index, SourceURL: source}
	logger := o.log.WithFields(logrus.Fields{"run_id": runID, "source": source})

	if err := ctx.Err(); err != nil {
		return fail(entry, err)
	}

	name := utils.FilenameFromURL(source)
	dir := filepath.Join(o.opts.OutputDir, fmt.Sprintf("%s_%s", runID, name))
	if err := utils.EnsureDir(dir); err != nil {
		return fail(entry, pkgerrors.Wrap(err, "failed to create output folder"))
	}

	img, err := o.fetchWithRetry(ctx, source, logger)
	if err != nil {
		return fail(entry, err)
	}

	records, payload, err := o.obtainRecords(ctx, img, logger)
	if err != nil {
		return fail(entry, err)
	}

	labelsPath := filepath.Join(dir, name+".txt")
	if err := o.codec.EncodeYOLOFile(records, labelsPath); err != nil {
		return fail(entry, pkgerrors.Wrap(err, "failed to write YOLO labels"))
	}
	entry.OutputPaths = append(entry.OutputPaths, labelsPath)

	classesPath := filepath.Join(dir, "classes.txt")
	if err := detection.WriteClasses(classesPath); err != nil {
		return fail(entry, pkgerrors.Wrap(err, "failed to write classes file"))
	}
	entry.OutputPaths = append(entry.OutputPaths, classesPath)

	analysisPath := filepath.Join(dir, name+"_analysis.json")
	if payload == "" {
		data, err := o.codec.EncodeQwenJSON(records)
		if err != nil {
			return fail(entry, pkgerrors.Wrap(err, "failed to encode analysis"))
		}
		payload = string(data)
	}
	if err := os.WriteFile(analysisPath, []byte(payload), 0o644); err != nil {
		return fail(entry, pkgerrors.Wrap(err, "failed to write analysis"))
	}
	entry.OutputPaths = append(entry.OutputPaths, analysisPath)

	annotatedPath := filepath.Join(dir, name+"_annotated."+o.opts.ImageFormat)
	if err := o.renderer.RenderToFile(img, records, annotatedPath); err != nil {
		return fail(entry, err)
	}
	entry.OutputPaths = append(entry.OutputPaths, annotatedPath)

	logger.WithField("records", len(records)).Info("source processed")
	entry.Status = StatusOK
	return entry
}

// obtainRecords returns the caller-supplied records, or runs inference.
func (o *Orchestrator) obtainRecords(ctx context.Context, img image.Image, logger *logrus.Entry) ([]types.BBoxRecord, string, error) {
	if len(o.opts.Records) > 0 {
		return o.opts.Records, "", nil
	}
	if o.detector == nil {
		return nil, "", fmt.Errorf("no detector configured and no records supplied")
	}

	imgB64, err := o.proc.PrepareImageForModel(img, o.opts.SendFormat, o.opts.SendMaxDim, o.opts.SendQuality)
	if err != nil {
		return nil, "", pkgerrors.Wrap(err, "failed to prepare image for model")
	}
	records, payload, err := o.detector.DetectDefects(ctx, o.opts.Model, imgB64)
	if err != nil {
		return nil, "", err
	}
	logger.WithField("records", len(records)).Debug("inference complete")
	return records, payload, nil
}

// fetchWithRetry retries transient fetch failures a bounded number of
// times with a short backoff. Non-fetch errors are returned immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, source string, logger *logrus.Entry) (image.Image, error) {
	var lastErr error
	for attempt := 0; attempt <= o.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.opts.RetryBackoff):
			}
			logger.WithField("attempt", attempt+1).Warn("retrying image fetch")
		}

		img, err := o.fetcher.Fetch(ctx, source)
		if err == nil {
			return img, nil
		}
		lastErr = err

		var ferr *processing.FetchError
		if !pkgerrors.As(err, &ferr) {
			// Local file errors and decode failures don't get better
			// with retries.
			return nil, err
		}
	}
	return nil, lastErr
}

func fail(entry Entry, err error) Entry {
	entry.Status = StatusFailed
	entry.Error = err.Error()
	return entry
}
