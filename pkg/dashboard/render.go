package dashboard

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/theapemachine/gridswarm/pkg/proof"
)

const (
	chartWidth  = 560.0
	chartHeight = 220.0
	chartMargin = 30.0
	passColor   = "#02BA84"
	failColor   = "#FE5F86"
	warnColor   = "#FFC107"
)

type bar struct {
	X, Y, Width, Height float64
	Label, Value, Color string
}

type chart struct {
	Title  string
	Width  float64
	Height float64
	Bars   []bar
}

type page struct {
	Bundle      Bundle
	Rows        []GateMetrics
	Chains      []chainRow
	Charts      []chart
	GeneratedAt string
}

type chainRow struct {
	ID int
	ProofChainMetrics
}

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"seconds": func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) },
	"stamp": func(ts *time.Time) string {
		if ts == nil {
			return "-"
		}
		return ts.UTC().Format(time.RFC3339)
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>gridswarm validation dashboard</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
.pass { color: #02BA84; } .fail { color: #FE5F86; }
.watermark { color: #FE5F86; font-size: 0.8em; }
</style>
</head>
<body>
<h1>Validation gates</h1>
<p>{{.Bundle.Summary.PassedGates}}/{{.Bundle.Summary.TotalGates}} gates passed,
{{.Bundle.Summary.HardwareVerified}} hardware verified, {{.Bundle.Summary.Questionable}} questionable.
Total execution {{seconds .Bundle.Summary.TotalExecutionTime}}s.</p>
<table>
<tr><th>Gate</th><th>Name</th><th>Result</th><th>Time (s)</th><th>CPU (s)</th><th>Memory (MB)</th><th>Authenticity</th><th>Completeness</th><th>Timestamp</th></tr>
{{range .Rows}}<tr>
<td>{{.GateID}}</td><td>{{.GateName}}</td>
<td class="{{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}PASS{{else}}FAIL{{end}}</td>
<td>{{seconds .ExecutionTime}}</td><td>{{seconds .CPUSeconds}}</td><td>{{printf "%.1f" .MemoryMB}}</td>
<td>{{.Authenticity}}</td><td>{{.ProofCompleteness}}</td><td>{{stamp .Timestamp}}</td>
</tr>
{{end}}</table>
{{range .Charts}}<h2>{{.Title}}</h2>
<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="{{.Height}}">
{{range .Bars}}<rect x="{{printf "%.1f" .X}}" y="{{printf "%.1f" .Y}}" width="{{printf "%.1f" .Width}}" height="{{printf "%.1f" .Height}}" fill="{{.Color}}"></rect>
<text x="{{printf "%.1f" .X}}" y="212" font-size="11">{{.Label}}</text>
<text x="{{printf "%.1f" .X}}" y="{{printf "%.1f" .Y}}" dy="-4" font-size="11">{{.Value}}</text>
{{end}}</svg>
{{end}}
<h2>Proof chains</h2>
<table>
<tr><th>Gate</th><th>Proofs</th><th>Start</th><th>Complete</th><th>Earliest</th><th>Latest</th><th>Spans</th></tr>
{{range .Chains}}<tr>
<td>{{.ID}}</td>{{if .Available}}<td>{{.TotalProofs}}</td><td>{{.StartProofs}}</td><td>{{.CompleteProofs}}</td>
<td>{{stamp .Earliest}}</td><td>{{stamp .Latest}}</td>
<td>{{range .Spans}}{{.ExecutionID}}: {{seconds .Seconds}}s<br>{{end}}</td>{{else}}<td colspan="6">no proof files available</td>{{end}}
</tr>
{{end}}</table>
<p class="watermark">HARDWARE-VERIFIED | generated {{.GeneratedAt}}</p>
</body>
</html>
`))

// RenderHTML writes a standalone HTML page with inline SVG charts.
func RenderHTML(w io.Writer, bundle Bundle) error {
	data := page{
		Bundle:      bundle,
		Rows:        bundle.Comparison,
		Charts:      []chart{executionChart(bundle.Comparison), authenticityChart(bundle.Summary, len(bundle.Comparison))},
		GeneratedAt: bundle.GeneratedAt.UTC().Format(time.RFC3339),
	}

	for _, id := range bundle.GateIDs {
		data.Chains = append(data.Chains, chainRow{ID: id, ProofChainMetrics: bundle.ProofChains[id]})
	}

	return dashboardTemplate.Execute(w, data)
}

func executionChart(rows []GateMetrics) chart {
	values := make([]float64, len(rows))
	labels := make([]string, len(rows))
	colors := make([]string, len(rows))

	for i, row := range rows {
		values[i] = row.ExecutionTime
		labels[i] = fmt.Sprintf("Gate %d", row.GateID)
		colors[i] = failColor
		if row.Passed {
			colors[i] = passColor
		}
	}

	return barChart("Execution time (s)", values, labels, colors, "%.2f")
}

func authenticityChart(summary Summary, total int) chart {
	values := []float64{
		float64(summary.HardwareVerified),
		float64(summary.Questionable),
		float64(total - summary.HardwareVerified - summary.Questionable),
	}

	return barChart(
		"Authentication status", values,
		[]string{"Verified", "Questionable", "Not verified"},
		[]string{passColor, warnColor, failColor}, "%.0f",
	)
}

// barChart lays out vertical bars scaled to the largest value.
func barChart(title string, values []float64, labels, colors []string, format string) chart {
	c := chart{Title: title, Width: chartWidth, Height: chartHeight}

	if len(values) == 0 {
		return c
	}

	peak := 0.0
	for _, v := range values {
		peak = max(peak, v)
	}

	plot := chartHeight - 2*chartMargin
	slot := (chartWidth - chartMargin) / float64(len(values))

	for i, v := range values {
		height := 0.0
		if peak > 0 {
			height = v / peak * plot
		}

		c.Bars = append(c.Bars, bar{
			X:      chartMargin + float64(i)*slot,
			Y:      chartMargin + plot - height,
			Width:  slot * 0.7,
			Height: height,
			Label:  labels[i],
			Value:  fmt.Sprintf(format, v),
			Color:  colors[i],
		})
	}

	return c
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("#5A56E0")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	passStyle   = cellStyle.Foreground(lipgloss.Color(passColor))
	failStyle   = cellStyle.Foreground(lipgloss.Color(failColor))
)

// RenderTerminal renders the comparison rows and summary as a table.
func RenderTerminal(bundle Bundle) string {
	rows := make([][]string, 0, len(bundle.Comparison))

	for _, row := range bundle.Comparison {
		verdict := "FAIL"
		if row.Passed {
			verdict = "PASS"
		}

		rows = append(rows, []string{
			strconv.Itoa(row.GateID),
			row.GateName,
			verdict,
			strconv.FormatFloat(row.ExecutionTime, 'f', 3, 64),
			row.Authenticity,
			row.ProofCompleteness,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#9E9E9E"))).
		Headers("GATE", "NAME", "RESULT", "TIME (S)", "AUTHENTICITY", "COMPLETENESS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}

			if col == 2 && row >= 0 && row < len(rows) {
				if rows[row][2] == "PASS" {
					return passStyle
				}
				return failStyle
			}

			return cellStyle
		})

	summary := fmt.Sprintf(
		"%d/%d passed, %d %s, %d %s",
		bundle.Summary.PassedGates, bundle.Summary.TotalGates,
		bundle.Summary.HardwareVerified, proof.AuthenticityVerified,
		bundle.Summary.Questionable, proof.AuthenticityQuestionable,
	)

	return lipgloss.JoinVertical(lipgloss.Left, t.String(), cellStyle.Render(summary))
}
