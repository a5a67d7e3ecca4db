package report

import (
	"bytes"
	"fmt"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/jmcrae/piiscan/internal/models"
)

// RenderEntityChart renders a PNG bar chart of detection counts per
// entity type. High-risk types are drawn red, the rest blue. Returns raw
// PNG bytes.
func RenderEntityChart(counts []models.EntityTypeCount) ([]byte, error) {
	if len(counts) == 0 {
		return nil, fmt.Errorf("no detections to chart")
	}

	highRisk := drawing.ColorFromHex("dc2626") // red-600
	normal := drawing.ColorFromHex("2563eb")   // blue-600

	bars := make([]chart.Value, len(counts))
	for i, c := range counts {
		color := normal
		if models.IsHighRisk(c.EntityType) {
			color = highRisk
		}
		bars[i] = chart.Value{
			Label: models.EntityDisplayName(c.EntityType),
			Value: float64(c.Count),
			Style: chart.Style{FillColor: color, StrokeColor: color},
		}
	}

	graph := chart.BarChart{
		Title:    "PII Detections by Type",
		Width:    900,
		Height:   400,
		BarWidth: 60,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.Style{
			TextRotationDegrees: 30,
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f", f)
				}
				return ""
			},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	return buf.Bytes(), nil
}
