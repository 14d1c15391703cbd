// Package detection drives defect detection through a vision-language
// model and decodes its response into bounding-box records.
package detection

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/drone-annotator/pkg/client"
	"github.com/menta2k/drone-annotator/pkg/codec"
	"github.com/menta2k/drone-annotator/pkg/types"
)

// DefectClasses are the YOLO class ids used for structural defect labels,
// in id order.
var DefectClasses = []string{
	"crack",
	"spalling",
	"mortar_erosion",
	"water_damage",
	"displacement",
	"efflorescence",
	"hole",
	"deformation",
}

// WriteClasses saves the class definitions as a YOLO classes.txt file.
func WriteClasses(path string) error {
	return os.WriteFile(path, []byte(strings.Join(DefectClasses, "\n")+"\n"), 0o644)
}

const commonInstructions = `You are inspecting a BRICK WALL for structural defects. Focus ONLY on the brick/masonry surfaces.

IGNORE sky, clouds, trees, vehicles, ground, and any non-brick surfaces.

Scan the brick wall systematically for:
- Cracks (hairline, vertical, horizontal, diagonal)
- Mortar erosion or gaps in joints
- Spalled or damaged bricks
- Color variations indicating water damage

CRITICAL INSTRUCTIONS:
1. Each defect needs its OWN SMALL bounding box - draw tight boxes around individual cracks
2. If you see 5 different cracks, create 5 separate bounding boxes
3. DO NOT create one large box covering multiple defects
4. ONLY place boxes on the BRICK SURFACE, never on sky/clouds

COORDINATE SYSTEM:
Origin (0,0) is at TOP-LEFT corner. Y increases downwards.

OUTPUT FORMAT:
"bbox_2d": [class_id, x_center, y_center, width, height]

Where ALL geometry values are normalized to the 0.0-1.0 range:
- class_id: integer defect class (0 = crack)
- x_center: horizontal center (0.0=left, 1.0=right)
- y_center: vertical center measured FROM TOP (0.0=top, 1.0=bottom)
- width, height: box size as fractions (typically 0.02-0.10)

`

const qwenExample = `EXAMPLE - defects on a brick wall in the middle of the image:
{
  "cracks": [
    {"bbox_2d": [0, 0.37, 0.36, 0.08, 0.03], "description": "horizontal hairline crack in mortar joint"},
    {"bbox_2d": [0, 0.48, 0.41, 0.05, 0.02], "description": "vertical crack in brick"},
    {"bbox_2d": [2, 0.27, 0.33, 0.04, 0.02], "description": "mortar erosion along joint"}
  ]
}

Be precise with spatial measurements. Values are fractions of the full image, independent of resolution.

`

const genericExample = `EXAMPLE - defects on a brick wall in the middle of the image:
{
  "cracks": [
    {"bbox_2d": [0, 0.35, 0.38, 0.08, 0.03], "description": "horizontal crack - center at 35%,38% with 8%x3% size"},
    {"bbox_2d": [0, 0.50, 0.42, 0.05, 0.02], "description": "vertical crack - all values are 0-1 fractions"}
  ]
}

`

const closing = `Return ONLY valid JSON - no extra text. If no defects are found, return {"cracks": []}.
Be thorough and ACCURATE - typical images have 5-15 defects.`

// PromptForModel builds the inspection prompt. Qwen-family models get an
// example tuned for their grounding behavior; the model name has no effect
// on how the response is decoded.
func PromptForModel(model string) string {
	if strings.Contains(strings.ToLower(model), "qwen") {
		return commonInstructions + qwenExample + closing
	}
	return commonInstructions + genericExample + closing
}

// Detector runs defect detection through a vision client.
type Detector struct {
	client client.VisionClient
	codec  *codec.Codec
	log    *logrus.Logger
}

// NewDetector creates a detector with the default codec and logger.
func NewDetector(cl client.VisionClient) *Detector {
	return NewDetectorWith(cl, codec.New(), logrus.StandardLogger())
}

// NewDetectorWith creates a detector with explicit collaborators.
func NewDetectorWith(cl client.VisionClient, cdc *codec.Codec, log *logrus.Logger) *Detector {
	return &Detector{client: cl, codec: cdc, log: log}
}

// DetectDefects queries the model with the prepared image and decodes the
// response via the Qwen-1000 rule. It returns the records plus the raw
// JSON payload so callers can persist the analysis alongside the labels.
func (d *Detector) DetectDefects(ctx context.Context, model, imgB64 string) ([]types.BBoxRecord, string, error) {
	payload, err := d.client.DetectDefects(ctx, model, PromptForModel(model), imgB64)
	if err != nil {
		return nil, "", errors.Wrap(err, "vision model query failed")
	}

	records, err := d.codec.DecodeQwenJSON([]byte(payload), "model:"+model)
	if err != nil {
		return nil, payload, errors.Wrap(err, "failed to decode model response")
	}

	d.log.WithFields(logrus.Fields{
		"model":   model,
		"records": len(records),
	}).Info("defect detection complete")
	return records, payload, nil
}
