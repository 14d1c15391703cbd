package codec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/drone-annotator/pkg/types"
)

// QwenItem is the structured Qwen-1000 record form: a flat numeric bbox
// plus an optional free-text description carried alongside.
type QwenItem struct {
	BBox        []float64 `json:"bbox_2d"`
	Description string    `json:"description,omitempty"`
}

// DecodeQwenFlat parses a flat Qwen-1000 sequence. The full form is
// [class, cx, cy, w, h] with geometry normalized to [0,1]; the 4-element
// form carries no class and leaves the record unlabeled.
func (c *Codec) DecodeQwenFlat(vals []float64) (types.BBoxRecord, error) {
	var rec types.BBoxRecord
	switch len(vals) {
	case 5:
		classID := int(vals[0])
		rec = types.BBoxRecord{
			ClassID: &classID,
			Cx:      vals[1],
			Cy:      vals[2],
			W:       vals[3],
			H:       vals[4],
		}
	case 4:
		rec = types.BBoxRecord{Cx: vals[0], Cy: vals[1], W: vals[2], H: vals[3]}
	default:
		return types.BBoxRecord{}, &FormatError{
			Reason: fmt.Sprintf("expected 4 or 5 values, got %d", len(vals)),
		}
	}
	rec.Source = types.FormatQwen1000
	return c.validate(rec, "qwen-1000", 0)
}

// DecodeQwenItem parses a structured Qwen-1000 record.
func (c *Codec) DecodeQwenItem(item QwenItem) (types.BBoxRecord, error) {
	rec, err := c.DecodeQwenFlat(item.BBox)
	if err != nil {
		return rec, err
	}
	rec.Description = item.Description
	return rec, nil
}

// EncodeQwen renders a record as a structured Qwen-1000 item. Labeled
// records produce the 5-element form; unlabeled ones the 4-element form so
// that decoding gives back an unlabeled record.
func (c *Codec) EncodeQwen(rec types.BBoxRecord) QwenItem {
	item := QwenItem{Description: rec.Description}
	if rec.ClassID != nil {
		item.BBox = []float64{float64(*rec.ClassID), rec.Cx, rec.Cy, rec.W, rec.H}
	} else {
		item.BBox = []float64{rec.Cx, rec.Cy, rec.W, rec.H}
	}
	return item
}

// DecodeQwenLines reads a Qwen-1000 label stream of flat numeric lines,
// one box per line. Blank lines and "#" comments are skipped silently;
// malformed lines are skipped with a warning.
func (c *Codec) DecodeQwenLines(r io.Reader, source string) ([]types.BBoxRecord, error) {
	var records []types.BBoxRecord

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		vals := make([]float64, 0, len(fields))
		parseErr := false
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				parseErr = true
				break
			}
			vals = append(vals, v)
		}

		var rec types.BBoxRecord
		var err error
		if parseErr {
			err = &FormatError{Source: source, Line: lineNo, Reason: "non-numeric field"}
		} else {
			rec, err = c.DecodeQwenFlat(vals)
		}
		if err != nil {
			c.log.WithFields(logrus.Fields{
				"source": source,
				"line":   lineNo,
				"error":  err,
			}).Warn("skipping malformed Qwen line")
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, &FormatError{Source: source, Line: lineNo, Reason: err.Error()}
	}
	return records, nil
}

// DecodeQwenLinesFile reads a Qwen-1000 label file from disk.
func (c *Codec) DecodeQwenLinesFile(path string) ([]types.BBoxRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label file: %w", err)
	}
	defer f.Close()
	return c.DecodeQwenLines(f, path)
}

// DecodeInlineJSON parses a mapping of category name to Qwen-1000 records:
//
//	{"cracks": [{"bbox_2d": [...], "description": "..."}, ...], ...}
//
// Each bbox_2d is interpreted via the Qwen-1000 decode rule; the category
// name is retained as the record's human-readable class alias. Keys whose
// value is not a record list (e.g. an overall assessment string) are
// ignored.
func (c *Codec) DecodeInlineJSON(data []byte, source string) ([]types.BBoxRecord, error) {
	return c.decodeDocument(data, source, types.FormatInlineJSON)
}

// DecodeQwenJSON parses the same document shape as DecodeInlineJSON but
// tags records as decoded from the Qwen-1000 wire format. Vision-model
// responses go through this path.
func (c *Codec) DecodeQwenJSON(data []byte, source string) ([]types.BBoxRecord, error) {
	return c.decodeDocument(data, source, types.FormatQwen1000)
}

func (c *Codec) decodeDocument(data []byte, source string, tag types.SourceFormat) ([]types.BBoxRecord, error) {
	var doc map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &FormatError{Source: source, Reason: err.Error()}
	}

	categories := make([]string, 0, len(doc))
	for k := range doc {
		categories = append(categories, k)
	}
	sort.Strings(categories)

	var records []types.BBoxRecord
	for _, category := range categories {
		var items []QwenItem
		if err := json.Unmarshal(doc[category], &items); err != nil {
			// Not a record list, e.g. an assessment string. Skip it.
			continue
		}
		for i, item := range items {
			rec, err := c.DecodeQwenItem(item)
			if err != nil {
				c.log.WithFields(logrus.Fields{
					"source":   source,
					"category": category,
					"record":   i,
					"error":    err,
				}).Warn("skipping malformed box record")
				continue
			}
			rec.Category = category
			rec.Source = tag
			records = append(records, rec)
		}
	}
	return records, nil
}

// DecodePixelJSON parses the hand-authored document shape where each
// bbox_2d holds absolute pixel corners [x1,y1,x2,y2] instead of
// normalized Qwen-1000 values.
func (c *Codec) DecodePixelJSON(data []byte, ctx types.ImageContext, source string) ([]types.BBoxRecord, error) {
	var doc map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &FormatError{Source: source, Reason: err.Error()}
	}

	categories := make([]string, 0, len(doc))
	for k := range doc {
		categories = append(categories, k)
	}
	sort.Strings(categories)

	var records []types.BBoxRecord
	for _, category := range categories {
		var items []QwenItem
		if err := json.Unmarshal(doc[category], &items); err != nil {
			continue
		}
		for i, item := range items {
			if len(item.BBox) != 4 {
				c.log.WithFields(logrus.Fields{
					"source":   source,
					"category": category,
					"record":   i,
				}).Warn("skipping pixel box without 4 corners")
				continue
			}
			rec, err := c.DecodePixelXYXY([4]float64{item.BBox[0], item.BBox[1], item.BBox[2], item.BBox[3]}, ctx)
			if err != nil {
				c.log.WithFields(logrus.Fields{
					"source":   source,
					"category": category,
					"record":   i,
					"error":    err,
				}).Warn("skipping degenerate pixel box")
				continue
			}
			rec.Description = item.Description
			rec.Category = category
			records = append(records, rec)
		}
	}
	return records, nil
}

// EncodeQwenJSON renders records as the structured Qwen-1000 document,
// grouped by category ("boxes" for records without one).
func (c *Codec) EncodeQwenJSON(records []types.BBoxRecord) ([]byte, error) {
	doc := make(map[string][]QwenItem)
	for _, rec := range records {
		category := rec.Category
		if category == "" {
			category = "boxes"
		}
		doc[category] = append(doc[category], c.EncodeQwen(rec))
	}
	return json.MarshalIndent(doc, "", "  ")
}
