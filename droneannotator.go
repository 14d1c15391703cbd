// Package droneannotator annotates drone imagery with bounding boxes for
// detected structural defects and converts between the bounding-box
// encodings used by different downstream tools.
//
// Records come from a vision-language model's inference output, from
// label files, or from hand-authored data, and are held in a canonical
// normalized form that every codec converts to and from.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		droneannotator "github.com/menta2k/drone-annotator"
//	)
//
//	func main() {
//		annotator := droneannotator.New()
//
//		// Load YOLO labels and draw them onto the image
//		records, err := annotator.DecodeYOLOFile("DJI_0942.txt")
//		if err != nil {
//			log.Fatal(err)
//		}
//		err = annotator.Annotate(context.Background(),
//			"https://example.com/DJI_0942.JPG", records, "annotated.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		// Re-export the same records in the Qwen-1000 structured form
//		if err := annotator.ExportQwenFile(records, "DJI_0942.qwen.json"); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package consists of four main components:
//
// 1. Codec (pkg/codec): converts records between pixel-xyxy, YOLO and
// Qwen-1000 encodings
// 2. Renderer (pkg/render): draws records onto images deterministically
// 3. Detection (pkg/detection): drives defect detection through an
// Ollama or llama.cpp vision model
// 4. Batch (pkg/batch): runs the pipeline over URL lists under a run
// identifier and aggregates outcomes into a manifest
package droneannotator

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/drone-annotator/pkg/codec"
	"github.com/menta2k/drone-annotator/pkg/processing"
	"github.com/menta2k/drone-annotator/pkg/render"
	"github.com/menta2k/drone-annotator/pkg/types"
)

// Version of the drone annotator library
const Version = "1.0.0"

// Annotator provides a high-level interface for decoding, converting and
// rendering bounding-box records.
type Annotator struct {
	proc     *processing.Processor
	codec    *codec.Codec
	renderer *render.Renderer
}

// New creates an Annotator with default configuration.
func New() *Annotator {
	return &Annotator{
		proc:     processing.NewProcessor(),
		codec:    codec.New(),
		renderer: render.New(),
	}
}

// NewWithStyle creates an Annotator with a custom render style and logger.
func NewWithStyle(style render.Style, log *logrus.Logger) *Annotator {
	return &Annotator{
		proc:     processing.NewProcessor(),
		codec:    codec.NewWithLogger(log),
		renderer: render.NewWithStyle(style, log),
	}
}

// Codec returns the underlying format codec.
func (a *Annotator) Codec() *codec.Codec {
	return a.codec
}

// DecodeYOLOFile reads a YOLO label file into canonical records.
func (a *Annotator) DecodeYOLOFile(path string) ([]types.BBoxRecord, error) {
	return a.codec.DecodeYOLOFile(path)
}

// DecodeQwenFile reads a Qwen-1000 label file into canonical records.
// Both the JSON document form and the flat-line text form are accepted.
func (a *Annotator) DecodeQwenFile(path string) ([]types.BBoxRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label file: %w", err)
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		return a.codec.DecodeQwenJSON(data, path)
	}
	return a.codec.DecodeQwenLines(strings.NewReader(string(data)), path)
}

// DecodeInlineJSON parses an inline category-keyed JSON document.
func (a *Annotator) DecodeInlineJSON(data []byte) ([]types.BBoxRecord, error) {
	return a.codec.DecodeInlineJSON(data, "inline")
}

// DecodePixelJSON parses a hand-authored pixel-corner JSON document
// against the given image dimensions.
func (a *Annotator) DecodePixelJSON(data []byte, ctx types.ImageContext) ([]types.BBoxRecord, error) {
	return a.codec.DecodePixelJSON(data, ctx, "inline")
}

// ExportYOLOFile writes records as a YOLO label file.
func (a *Annotator) ExportYOLOFile(records []types.BBoxRecord, path string) error {
	return a.codec.EncodeYOLOFile(records, path)
}

// ExportQwenFile writes records as a structured Qwen-1000 JSON document.
func (a *Annotator) ExportQwenFile(records []types.BBoxRecord, path string) error {
	data, err := a.codec.EncodeQwenJSON(records)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Annotate loads an image from a file path or URL, draws the records onto
// it, and writes the annotated copy to outPath.
func (a *Annotator) Annotate(ctx context.Context, source string, records []types.BBoxRecord, outPath string) error {
	img, err := a.proc.LoadImageSmart(ctx, source)
	if err != nil {
		return err
	}
	return a.renderer.RenderToFile(img, records, outPath)
}

// GetVersion returns the library version.
func GetVersion() string {
	return Version
}
