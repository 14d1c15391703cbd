package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/drone-annotator/internal/config"
	"github.com/menta2k/drone-annotator/internal/logging"
	"github.com/menta2k/drone-annotator/internal/utils"
	"github.com/menta2k/drone-annotator/pkg/batch"
	"github.com/menta2k/drone-annotator/pkg/client"
	"github.com/menta2k/drone-annotator/pkg/codec"
	"github.com/menta2k/drone-annotator/pkg/detection"
	"github.com/menta2k/drone-annotator/pkg/llamacpp"
	"github.com/menta2k/drone-annotator/pkg/ollama"
	"github.com/menta2k/drone-annotator/pkg/processing"
	"github.com/menta2k/drone-annotator/pkg/render"
	"github.com/menta2k/drone-annotator/pkg/types"
)

func main() {
	var configPath string
	var in, data, pixelData string
	var labelsYOLO, labelsQwen string
	var out, exportYOLO, exportQwen string
	var detect bool
	var backend, url, model string
	var urlsFile, runID, outDir string
	var workers int

	flag.StringVar(&configPath, "config", "", "config file (JSON), defaults applied when absent")
	flag.StringVar(&in, "in", "", "input image path or URL (jpg/png/webp)")
	flag.StringVar(&data, "data", "", "inline JSON with normalized bbox_2d records")
	flag.StringVar(&pixelData, "pixel-data", "", "inline JSON with pixel-corner boxes")
	flag.StringVar(&labelsYOLO, "labels-yolo", "", "YOLO label file to import")
	flag.StringVar(&labelsQwen, "labels-qwen", "", "Qwen label file to import (JSON or flat lines)")
	flag.StringVar(&out, "out", "", "annotated image output path")
	flag.StringVar(&exportYOLO, "export-yolo", "", "write records as a YOLO label file")
	flag.StringVar(&exportQwen, "export-qwen", "", "write records as a Qwen JSON document")
	flag.BoolVar(&detect, "detect", false, "run defect detection on the input image")
	flag.StringVar(&backend, "backend", "", "inference backend: ollama or llamacpp")
	flag.StringVar(&url, "url", "", "inference server URL")
	flag.StringVar(&model, "model", "", "vision model name")
	flag.StringVar(&urlsFile, "urls", "", "file with one image URL or path per line (batch mode)")
	flag.StringVar(&runID, "run-id", "", "batch run identifier, generated when empty")
	flag.StringVar(&outDir, "out-dir", "", "batch output directory")
	flag.IntVar(&workers, "workers", 0, "parallel workers for batch mode")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if backend != "" {
		cfg.Inference.Backend = backend
	}
	if url != "" {
		cfg.Inference.ServerURL = url
	}
	if model != "" {
		cfg.Inference.Model = model
	}
	if outDir != "" {
		cfg.Batch.OutputDir = outDir
	}
	if workers > 0 {
		cfg.Batch.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Setup(cfg.Logging.Level, cfg.Logging.File)

	if urlsFile != "" {
		runBatch(cfg, log, urlsFile, runID, data, pixelData)
		return
	}

	if in == "" {
		log.Fatalf("usage: %s -in input.jpg|URL [-detect] [-data json] [-labels-yolo f] [-labels-qwen f] [-out annotated.jpg] [-export-yolo f] [-export-qwen f], or %s -urls list.txt",
			filepath.Base(os.Args[0]), filepath.Base(os.Args[0]))
	}
	runSingle(cfg, log, in, data, pixelData, labelsYOLO, labelsQwen, out, exportYOLO, exportQwen, detect)
}

// buildClient constructs the vision client for the configured backend.
func buildClient(cfg *config.Config) (client.VisionClient, error) {
	switch cfg.Inference.Backend {
	case "ollama":
		return ollama.NewClient(cfg.Inference.ServerURL)
	case "llamacpp":
		return llamacpp.NewClient(cfg.Inference.ServerURL)
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", cfg.Inference.Backend)
	}
}

func runSingle(cfg *config.Config, log *logrus.Logger, in, data, pixelData, labelsYOLO, labelsQwen, out, exportYOLO, exportQwen string, detect bool) {
	processor := processing.NewProcessor()
	cdc := codec.NewWithLogger(log)

	img, err := processor.LoadImageSmart(context.Background(), in)
	if err != nil {
		log.Fatalf("failed to load image: %v", err)
	}
	bounds := img.Bounds()
	imgCtx := types.ImageContext{Width: bounds.Dx(), Height: bounds.Dy()}

	var records []types.BBoxRecord
	switch {
	case labelsYOLO != "":
		records, err = cdc.DecodeYOLOFile(labelsYOLO)
	case labelsQwen != "":
		raw, rerr := os.ReadFile(labelsQwen)
		if rerr != nil {
			log.Fatalf("failed to read label file: %v", rerr)
		}
		records, err = decodeQwenLabels(cdc, raw, labelsQwen)
	case data != "":
		records, err = cdc.DecodeInlineJSON([]byte(data), "flag:data")
	case pixelData != "":
		records, err = cdc.DecodePixelJSON([]byte(pixelData), imgCtx, "flag:pixel-data")
	case detect:
		records, err = detectRecords(cfg, log, processor, img)
	default:
		log.Fatal("no bounding boxes: pass -detect, -data, -pixel-data, -labels-yolo or -labels-qwen")
	}
	if err != nil {
		log.Fatalf("failed to obtain records: %v", err)
	}
	log.Infof("loaded %d bounding box records", len(records))

	if exportYOLO != "" {
		if err := cdc.EncodeYOLOFile(records, exportYOLO); err != nil {
			log.Fatalf("YOLO export failed: %v", err)
		}
		log.Infof("wrote %s", exportYOLO)
	}
	if exportQwen != "" {
		doc, derr := cdc.EncodeQwenJSON(records)
		if derr != nil {
			log.Fatalf("Qwen export failed: %v", derr)
		}
		if err := os.WriteFile(exportQwen, doc, 0o644); err != nil {
			log.Fatalf("Qwen export failed: %v", err)
		}
		log.Infof("wrote %s", exportQwen)
	}
	if out != "" {
		style := render.DefaultStyle()
		style.Quality = cfg.Render.Quality
		style.Lossless = cfg.Render.Lossless
		style.Numbered = cfg.Render.Numbered
		renderer := render.NewWithStyle(style, log)
		if err := renderer.RenderToFile(img, records, out); err != nil {
			log.Fatalf("annotation failed: %v", err)
		}
		log.Infof("wrote %s", out)
	}
}

// decodeQwenLabels accepts both the JSON document form and the flat-line
// text form of a Qwen label file.
func decodeQwenLabels(cdc *codec.Codec, raw []byte, source string) ([]types.BBoxRecord, error) {
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		return cdc.DecodeQwenJSON(raw, source)
	}
	return cdc.DecodeQwenLines(strings.NewReader(string(raw)), source)
}

// detectRecords runs one inference round against the configured backend.
func detectRecords(cfg *config.Config, log *logrus.Logger, processor *processing.Processor, img image.Image) ([]types.BBoxRecord, error) {
	visionClient, err := buildClient(cfg)
	if err != nil {
		return nil, err
	}
	detector := detection.NewDetectorWith(visionClient, codec.NewWithLogger(log), log)

	imgB64, err := processor.PrepareImageForModel(img, cfg.Inference.SendFormat, cfg.Inference.SendMaxDim, cfg.Inference.SendQuality)
	if err != nil {
		return nil, err
	}
	records, _, err := detector.DetectDefects(context.Background(), cfg.Inference.Model, imgB64)
	return records, err
}

func runBatch(cfg *config.Config, log *logrus.Logger, urlsFile, runID, data, pixelData string) {
	sources, err := utils.ReadSourceList(urlsFile)
	if err != nil {
		log.Fatalf("failed to read source list: %v", err)
	}
	if len(sources) == 0 {
		log.Fatalf("source list %s is empty", urlsFile)
	}

	opts := batch.DefaultOptions()
	opts.OutputDir = cfg.Batch.OutputDir
	opts.Model = cfg.Inference.Model
	opts.Workers = cfg.Batch.Workers
	opts.RetryAttempts = cfg.Batch.RetryAttempts
	opts.RetryBackoff = time.Duration(cfg.Batch.RetryBackoffMS) * time.Millisecond
	opts.SendFormat = cfg.Inference.SendFormat
	opts.SendMaxDim = cfg.Inference.SendMaxDim
	opts.SendQuality = cfg.Inference.SendQuality
	opts.ImageFormat = cfg.Render.Format

	cdc := codec.NewWithLogger(log)
	var detector batch.DefectFinder
	switch {
	case data != "":
		opts.Records, err = cdc.DecodeInlineJSON([]byte(data), "flag:data")
		if err != nil {
			log.Fatalf("failed to parse -data: %v", err)
		}
	case pixelData != "":
		log.Fatal("-pixel-data needs per-image dimensions and is not supported in batch mode; use -data with normalized boxes")
	default:
		visionClient, cerr := buildClient(cfg)
		if cerr != nil {
			log.Fatalf("failed to create vision client: %v", cerr)
		}
		detector = detection.NewDetectorWith(visionClient, cdc, log)
	}

	orch := batch.New(detector, opts)
	manifest, err := orch.Run(context.Background(), runID, sources)
	if err != nil {
		log.Fatalf("batch run failed: %v", err)
	}
	log.Infof("run %s: %d succeeded, %d failed of %d sources",
		manifest.RunID, manifest.Successes(), manifest.Failures(), len(manifest.Entries))
	if manifest.Failures() == len(manifest.Entries) {
		os.Exit(1)
	}
}
