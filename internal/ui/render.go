package ui

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/koscakluka/ema-datachat/core/chat"
	"github.com/koscakluka/ema-datachat/core/conversation"
	"github.com/koscakluka/ema-datachat/core/results"
)

const (
	maxTableRows  = 10
	maxCellWidth  = 18
	maxChartBars  = 12
	maxRecentRuns = 5
)

func renderTranscript(transcript conversation.Transcript, width int) string {
	if len(transcript) == 0 {
		return mutedStyle.Render("Ask a question about your data to get started.")
	}

	blocks := make([]string, 0, len(transcript))
	for _, message := range transcript {
		blocks = append(blocks, renderMessage(message, width))
	}
	return strings.Join(blocks, "\n\n")
}

func renderMessage(message conversation.Message, width int) string {
	var b strings.Builder

	switch message.Role {
	case conversation.RoleUser:
		b.WriteString(userLabelStyle.Render("You"))
	default:
		b.WriteString(assistantLabelStyle.Render("Assistant"))
		if !message.IsFinalised {
			b.WriteString(" " + partialStyle.Render("(incomplete)"))
		}
	}
	b.WriteString("\n")
	b.WriteString(wordwrap.String(message.Content, max(width, 10)))

	if message.Table != nil {
		b.WriteString("\n\n")
		b.WriteString(renderTable(message.Table, width))
	}
	if message.RunID != "" {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("run " + message.RunID))
	}

	return b.String()
}

// renderTable draws a preview of the table as aligned plain text columns.
func renderTable(table *results.Table, width int) string {
	if len(table.Columns) == 0 {
		return mutedStyle.Render("(empty table)")
	}

	rows := table.Rows
	if len(rows) > maxTableRows {
		rows = rows[:maxTableRows]
	}

	widths := make([]int, len(table.Columns))
	for i, column := range table.Columns {
		widths[i] = min(ansi.PrintableRuneWidth(column), maxCellWidth)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(table.Columns))
		for i, column := range table.Columns {
			cell := formatCell(row[column])
			cells[r][i] = cell
			widths[i] = min(max(widths[i], ansi.PrintableRuneWidth(cell)), maxCellWidth)
		}
	}

	lines := []string{formatRow(table.Columns, widths)}
	separator := make([]string, len(widths))
	for i, w := range widths {
		separator[i] = strings.Repeat("─", w)
	}
	lines = append(lines, strings.Join(separator, "─┼─"))
	for _, row := range cells {
		lines = append(lines, formatRow(row, widths))
	}

	total := len(table.Rows)
	if table.RowCount != nil {
		total = *table.RowCount
	}
	if total > len(rows) {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("showing %d of %d rows", len(rows), total)))
	}

	for i, line := range lines {
		lines[i] = fit(line, max(width, 10))
	}
	return strings.Join(lines, "\n")
}

func formatRow(values []string, widths []int) string {
	padded := make([]string, len(values))
	for i, value := range values {
		value = fit(value, widths[i])
		padded[i] = value + strings.Repeat(" ", max(widths[i]-ansi.PrintableRuneWidth(value), 0))
	}
	return strings.Join(padded, " │ ")
}

// fit cuts s to width cells with a trailing ellipsis. Strings that already
// fit are returned as is, since the tail's cell is reserved before measuring.
func fit(s string, width int) string {
	if ansi.PrintableRuneWidth(s) <= width {
		return s
	}
	return truncate.StringWithTail(s, uint(max(width, 0)), "…")
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		if typed == math.Trunc(typed) && math.Abs(typed) < 1e15 {
			return fmt.Sprintf("%.0f", typed)
		}
		return fmt.Sprintf("%.2f", typed)
	case map[string]any, []any:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	default:
		return fmt.Sprint(typed)
	}
}

// renderChart draws the chart as horizontal bars, one per data point.
func renderChart(chart *results.Chart, width int) string {
	title := panelTitleStyle.Render("Latest chart")
	if chart == nil {
		return title + "\n" + mutedStyle.Render("No chart yet.")
	}
	if !chart.Renderable() {
		return title + "\n" + mutedStyle.Render(fmt.Sprintf("Cannot draw %s chart of %q by %q.", chart.Type, chart.Y, chart.X))
	}

	points := chart.Data
	if len(points) > maxChartBars {
		points = points[:maxChartBars]
	}

	labelWidth := 0
	values := make([]float64, len(points))
	labels := make([]string, len(points))
	peak := 0.0
	for i, point := range points {
		labels[i] = fit(formatCell(point[chart.X]), maxCellWidth)
		labelWidth = max(labelWidth, ansi.PrintableRuneWidth(labels[i]))
		if value, ok := point[chart.Y].(float64); ok {
			values[i] = value
			peak = max(peak, math.Abs(value))
		}
	}

	barWidth := max(width-labelWidth-12, 1)
	lines := []string{title + " " + mutedStyle.Render(fmt.Sprintf("%s by %s", chart.Y, chart.X))}
	for i, label := range labels {
		length := 0
		if peak > 0 {
			length = int(math.Round(math.Abs(values[i]) / peak * float64(barWidth)))
		}
		padding := strings.Repeat(" ", labelWidth-ansi.PrintableRuneWidth(label))
		lines = append(lines, fmt.Sprintf("%s%s %s %s", label, padding, barStyle.Render(strings.Repeat("█", length)), formatCell(values[i])))
	}
	return strings.Join(lines, "\n")
}

func renderRuns(runs []chat.Run, width int) string {
	title := panelTitleStyle.Render("Recent runs")
	if len(runs) == 0 {
		return title + "\n" + mutedStyle.Render("No runs yet.")
	}

	lines := []string{title}
	for _, run := range runs[:min(len(runs), maxRecentRuns)] {
		line := fmt.Sprintf("%s  %s", shortID(run.ID), run.Answer())
		lines = append(lines, fit(line, max(width, 10)))
	}
	return strings.Join(lines, "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
