package types

import "fmt"

// Epsilon is the tolerance used when checking whether a box edge exceeds
// the image bounds. Boxes within this tolerance are accepted unchanged.
const Epsilon = 1e-6

// SourceFormat identifies the wire format a record was decoded from.
// It is retained for diagnostics only and never affects conversion output.
type SourceFormat string

const (
	FormatPixelXYXY  SourceFormat = "pixel-xyxy"
	FormatYOLO       SourceFormat = "yolo"
	FormatQwen1000   SourceFormat = "qwen-1000"
	FormatInlineJSON SourceFormat = "inline-json"
)

// BBoxRecord is the canonical in-memory representation of one bounding box.
// Geometry is center point plus size, all normalized to [0,1] relative to
// image width/height. Pixel-space inputs are converted to this form on
// ingestion; pixel space is never the canonical form.
type BBoxRecord struct {
	ClassID     *int         `json:"class_id,omitempty"`
	Cx          float64      `json:"cx"`
	Cy          float64      `json:"cy"`
	W           float64      `json:"w"`
	H           float64      `json:"h"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category,omitempty"`
	Source      SourceFormat `json:"source_format,omitempty"`
}

// ImageContext carries the pixel dimensions of the target image. It is
// owned by the caller for the duration of one conversion or render call
// and must never be cached across images.
type ImageContext struct {
	Width  int
	Height int
}

// Valid reports whether the context has positive dimensions.
func (c ImageContext) Valid() bool {
	return c.Width > 0 && c.Height > 0
}

// GeometryError reports an invalid or degenerate box. The box is skipped;
// the error never aborts decoding of the surrounding file or batch.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return "geometry: " + e.Reason
}

// Label returns the text to display for this record: the description, or
// "class N" when the description is absent, or "bbox" when both are.
func (r BBoxRecord) Label() string {
	if r.Description != "" {
		return r.Description
	}
	if r.ClassID != nil {
		return fmt.Sprintf("class %d", *r.ClassID)
	}
	return "bbox"
}

// Class returns the class id, or fallback when the record is unlabeled.
func (r BBoxRecord) Class(fallback int) int {
	if r.ClassID == nil {
		return fallback
	}
	return *r.ClassID
}

// Validate checks the record invariants: geometry within [0,1], positive
// width and height, and a non-negative class id. It returns a GeometryError
// describing the first violation.
func (r BBoxRecord) Validate() error {
	if r.W <= 0 || r.H <= 0 {
		return &GeometryError{Reason: fmt.Sprintf("zero-area box w=%g h=%g", r.W, r.H)}
	}
	if r.ClassID != nil && *r.ClassID < 0 {
		return &GeometryError{Reason: fmt.Sprintf("negative class id %d", *r.ClassID)}
	}
	vals := [...]struct {
		name string
		v    float64
	}{{"cx", r.Cx}, {"cy", r.Cy}, {"w", r.W}, {"h", r.H}}
	for _, f := range vals {
		if f.v < -Epsilon || f.v > 1+Epsilon {
			return &GeometryError{Reason: fmt.Sprintf("%s=%g outside [0,1]", f.name, f.v)}
		}
	}
	return nil
}

// Clamp pulls a box whose edges extend past the image bounds back inside,
// keeping the part of its area that overlaps the image. It returns the
// adjusted record and whether any adjustment was made, so callers can log
// it. Boxes rejected by Validate (zero area, values far outside [0,1]) are
// not rescued here.
func (r BBoxRecord) Clamp() (BBoxRecord, bool) {
	out := r
	clamped := false

	if half := out.W / 2; out.Cx-half < -Epsilon || out.Cx+half > 1+Epsilon {
		lo, hi := out.Cx-half, out.Cx+half
		if lo < 0 {
			lo = 0
		}
		if hi > 1 {
			hi = 1
		}
		out.Cx = (lo + hi) / 2
		out.W = hi - lo
		clamped = true
	}
	if half := out.H / 2; out.Cy-half < -Epsilon || out.Cy+half > 1+Epsilon {
		lo, hi := out.Cy-half, out.Cy+half
		if lo < 0 {
			lo = 0
		}
		if hi > 1 {
			hi = 1
		}
		out.Cy = (lo + hi) / 2
		out.H = hi - lo
		clamped = true
	}
	return out, clamped
}
