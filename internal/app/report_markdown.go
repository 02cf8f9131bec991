package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/markumedium/loading-server/internal/domain"
)

// NoData is rendered for cells without a recorded boundary.
const NoData = "no data"

// RenderReportMarkdown renders both report tables as markdown, with clock times in loc.
func RenderReportMarkdown(report Report, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	states := domain.States()
	var b strings.Builder
	fmt.Fprintf(&b, "# Yard report %s\n\n", report.Day)

	b.WriteString("## Active trips\n\n")
	if len(report.Active) == 0 {
		b.WriteString("_No registered vehicles._\n\n")
	} else {
		writeHeader(&b, []string{"Vehicle", "Plate", "Status"}, states, "Cycle")
		for _, row := range report.Active {
			cols := []string{escapeCell(row.Model), escapeCell(row.LicensePlate), row.Status.Label()}
			for _, state := range states {
				cols = append(cols, FormatCell(row.Cell(state), loc))
			}
			cols = append(cols, fmt.Sprint(row.Cycle))
			writeRow(&b, cols)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Completed trips\n\n")
	if len(report.Completed) == 0 {
		b.WriteString("_No completed trips._\n")
		return b.String()
	}
	writeHeader(&b, []string{"Vehicle", "Plate"}, states, "Cycle")
	for _, row := range report.Completed {
		cols := []string{escapeCell(row.Model), escapeCell(row.LicensePlate)}
		for _, state := range states {
			cols = append(cols, FormatCell(row.Cell(state), loc))
		}
		cols = append(cols, fmt.Sprint(row.Cycle))
		writeRow(&b, cols)
	}
	return b.String()
}

// FormatCell renders a cell as "(HH:MM) H:MM:SS".
func FormatCell(cell Cell, loc *time.Location) string {
	if !cell.HasStart {
		return NoData
	}
	if loc == nil {
		loc = time.UTC
	}
	start := cell.Start.In(loc).Format("15:04")
	if !cell.HasDuration {
		return fmt.Sprintf("(%s) %s", start, NoData)
	}
	out := fmt.Sprintf("(%s) %s", start, FormatDuration(cell.Duration))
	if cell.Open {
		out += " +"
	}
	return out
}

// FormatDuration renders d as H:MM:SS.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

func writeHeader(b *strings.Builder, lead []string, states []domain.State, tail string) {
	cols := append([]string(nil), lead...)
	for _, state := range states {
		cols = append(cols, state.Label())
	}
	cols = append(cols, tail)
	writeRow(b, cols)
	sep := make([]string, len(cols))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(b, sep)
}

func writeRow(b *strings.Builder, cols []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cols, " | "))
	b.WriteString(" |\n")
}

func escapeCell(v string) string {
	return strings.ReplaceAll(v, "|", "\\|")
}
