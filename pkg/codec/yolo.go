package codec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/drone-annotator/pkg/types"
)

// DecodeYOLOLine parses one YOLO label line: "class cx cy w h" with all
// geometry already normalized to [0,1]. A wrong field count or a
// non-numeric field fails with a FormatError.
func (c *Codec) DecodeYOLOLine(line string) (types.BBoxRecord, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return types.BBoxRecord{}, &FormatError{
			Reason: fmt.Sprintf("expected 5 fields, got %d", len(fields)),
		}
	}

	classID, err := strconv.Atoi(fields[0])
	if err != nil {
		return types.BBoxRecord{}, &FormatError{
			Reason: fmt.Sprintf("class %q is not an integer", fields[0]),
		}
	}

	var geom [4]float64
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return types.BBoxRecord{}, &FormatError{
				Reason: fmt.Sprintf("field %q is not numeric", f),
			}
		}
		geom[i] = v
	}

	rec := types.BBoxRecord{
		ClassID: &classID,
		Cx:      geom[0],
		Cy:      geom[1],
		W:       geom[2],
		H:       geom[3],
		Source:  types.FormatYOLO,
	}
	return c.validate(rec, "yolo", 0)
}

// DecodeYOLO reads a YOLO label stream, one box per line. Blank lines and
// "#" comments are skipped silently; malformed lines and degenerate boxes
// are skipped with a warning, never fatal to the whole file. The source
// name is used for diagnostics only.
func (c *Codec) DecodeYOLO(r io.Reader, source string) ([]types.BBoxRecord, error) {
	var records []types.BBoxRecord

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rec, err := c.DecodeYOLOLine(line)
		if err != nil {
			c.log.WithFields(logrus.Fields{
				"source": source,
				"line":   lineNo,
				"error":  err,
			}).Warn("skipping malformed YOLO line")
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, &FormatError{Source: source, Line: lineNo, Reason: err.Error()}
	}
	return records, nil
}

// DecodeYOLOFile reads a YOLO label file from disk.
func (c *Codec) DecodeYOLOFile(path string) ([]types.BBoxRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label file: %w", err)
	}
	defer f.Close()
	return c.DecodeYOLO(f, path)
}

// EncodeYOLOLine renders one record as a YOLO label line. Unlabeled
// records encode as class 0.
func (c *Codec) EncodeYOLOLine(rec types.BBoxRecord) string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f", rec.Class(0), rec.Cx, rec.Cy, rec.W, rec.H)
}

// EncodeYOLO writes records as newline-separated YOLO label lines.
func (c *Codec) EncodeYOLO(records []types.BBoxRecord, w io.Writer) error {
	for _, rec := range records {
		if _, err := fmt.Fprintln(w, c.EncodeYOLOLine(rec)); err != nil {
			return err
		}
	}
	return nil
}

// EncodeYOLOFile writes records to a YOLO label file.
func (c *Codec) EncodeYOLOFile(records []types.BBoxRecord, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create label file: %w", err)
	}
	defer f.Close()
	return c.EncodeYOLO(records, f)
}
