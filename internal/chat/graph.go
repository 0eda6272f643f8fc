package chat

import (
	"regexp"
	"strings"

	"sage/internal/core"
)

// GraphType names the visualizations the assistant can request inline.
type GraphType string

const (
	GraphBar  GraphType = "bar"
	GraphPie  GraphType = "pie"
	GraphLine GraphType = "line"
)

// GraphData is the ready-to-plot payload for one chart.
type GraphData struct {
	Type   GraphType `json:"type"`
	Title  string    `json:"title"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

var graphMarkerRe = regexp.MustCompile(`(?i)\[GENERATE_GRAPH:(bar|pie|line)\]`)

// ExtractGraphMarker finds the first graph marker in an assistant reply.
func ExtractGraphMarker(text string) (GraphType, bool) {
	m := graphMarkerRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return GraphType(strings.ToLower(m[1])), true
}

// BuildGraphData derives a chart payload from the transaction list.
// Bar and pie charts show the top five spending categories; line charts
// show the last ten days that had transactions. Returns nil when there
// is nothing to plot.
func BuildGraphData(graphType GraphType, transactions []core.Transaction) *GraphData {
	if len(transactions) == 0 {
		return nil
	}

	switch graphType {
	case GraphBar, GraphPie:
		snapshot := core.Aggregate(transactions)
		top := snapshot.TopCategories(topCategoryCount)
		if len(top) == 0 {
			return nil
		}
		data := &GraphData{Type: graphType, Title: "Spending by Category"}
		for _, ca := range top {
			data.Labels = append(data.Labels, ca.Label)
			data.Values = append(data.Values, ca.Amount.InexactFloat64())
		}
		return data

	case GraphLine:
		series := core.SpendingByDate(transactions)
		if len(series) > lineChartDays {
			series = series[len(series)-lineChartDays:]
		}
		data := &GraphData{Type: graphType, Title: "Spending Over Time"}
		for _, da := range series {
			data.Labels = append(data.Labels, da.Date)
			data.Values = append(data.Values, da.Amount.InexactFloat64())
		}
		return data
	}

	return nil
}
