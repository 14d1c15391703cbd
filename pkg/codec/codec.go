// Package codec converts between the canonical BBoxRecord and the three
// wire encodings used by downstream tools: pixel-xyxy corners, YOLO
// normalized lines, and Qwen-1000 normalized records.
//
// All decoders validate into the canonical form at the boundary; nothing
// downstream branches on raw JSON shape. Malformed lines or degenerate
// boxes are skipped with a warning and never abort the surrounding file.
package codec

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/drone-annotator/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FormatError reports a malformed line or field in a label file or payload.
// Recoverable: the offending line is skipped.
type FormatError struct {
	Source string
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("format: %s line %d: %s", e.Source, e.Line, e.Reason)
	}
	return "format: " + e.Reason
}

// Codec translates between BBoxRecord and the wire encodings.
type Codec struct {
	log *logrus.Logger
}

// New creates a Codec logging through the standard logrus logger.
func New() *Codec {
	return NewWithLogger(logrus.StandardLogger())
}

// NewWithLogger creates a Codec with a caller-supplied logger.
func NewWithLogger(log *logrus.Logger) *Codec {
	return &Codec{log: log}
}

// validate applies the record invariants and the clamp rule: boxes that
// extend past the image bounds are pulled back inside and the adjustment
// is logged, never discarded.
func (c *Codec) validate(rec types.BBoxRecord, source string, index int) (types.BBoxRecord, error) {
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	out, clamped := rec.Clamp()
	if clamped {
		c.log.WithFields(logrus.Fields{
			"source": source,
			"record": index,
			"cx":     rec.Cx,
			"cy":     rec.Cy,
			"w":      rec.W,
			"h":      rec.H,
		}).Warn("box exceeds image bounds, clamped")
	}
	return out, nil
}
