package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xivix/xiim/zones"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty classifier response")

// InsuranceInfo is what the model could read about the document itself.
type InsuranceInfo struct {
	Company      string `json:"company,omitempty"`
	ProductName  string `json:"product_name,omitempty"`
	CoverageType string `json:"coverage_type,omitempty"`
}

// Result is a parsed classifier response, before pixel normalization.
type Result struct {
	Detections    []zones.Detection
	InsuranceInfo *InsuranceInfo
}

// rawZone accepts both region conventions: percentages of the image edges,
// or a box_2d of [ymin, xmin, ymax, xmax] on a 0-1000 grid.
type rawZone struct {
	Type          string    `json:"type"`
	Label         string    `json:"label"`
	XPercent      *float64  `json:"x_percent"`
	YPercent      *float64  `json:"y_percent"`
	WidthPercent  *float64  `json:"width_percent"`
	HeightPercent *float64  `json:"height_percent"`
	Box2D         []float64 `json:"box_2d"`
	Confidence    float64   `json:"confidence"`
	Description   string    `json:"description"`
}

type rawResponse struct {
	Success       *bool          `json:"success"`
	Zones         []rawZone      `json:"zones"`
	InsuranceInfo *InsuranceInfo `json:"insurance_info"`
	Error         string         `json:"error"`
}

// Parse decodes model output. Markdown code fences are tolerated, and the
// body may be either an object with a zones array or a bare array of zones.
func Parse(text string) (*Result, error) {
	body := stripFences(text)
	if body == "" {
		return nil, ErrEmptyResponse
	}

	var resp rawResponse
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &resp.Zones); err != nil {
			return nil, fmt.Errorf("failed to decode zone list: %w", err)
		}
	} else {
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			return nil, fmt.Errorf("failed to decode classifier response: %w", err)
		}
		if resp.Success != nil && !*resp.Success {
			return nil, fmt.Errorf("classifier reported failure: %s", resp.Error)
		}
	}

	out := &Result{InsuranceInfo: resp.InsuranceInfo}
	for _, z := range resp.Zones {
		label := z.Type
		if label == "" {
			label = z.Label
		}
		out.Detections = append(out.Detections, zones.Detection{
			Label:       label,
			Box:         z.box(),
			Confidence:  z.Confidence,
			Description: z.Description,
		})
	}
	return out, nil
}

// box returns nil when neither convention is complete.
func (z rawZone) box() zones.Box {
	if len(z.Box2D) == 4 {
		return zones.NormalizedBox{YMin: z.Box2D[0], XMin: z.Box2D[1], YMax: z.Box2D[2], XMax: z.Box2D[3]}
	}
	if z.XPercent != nil && z.YPercent != nil && z.WidthPercent != nil && z.HeightPercent != nil {
		return zones.PercentBox{X: *z.XPercent, Y: *z.YPercent, Width: *z.WidthPercent, Height: *z.HeightPercent}
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
