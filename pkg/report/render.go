package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginTop(1)
	subtitleStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	numberStyle   = cellStyle.Align(lipgloss.Right)
)

// newTable returns a bordered table. Columns listed in numeric are right
// aligned.
func newTable(headers []string, numeric ...int) *table.Table {
	right := make(map[int]bool, len(numeric))
	for _, c := range numeric {
		right[c] = true
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case right[col]:
				return numberStyle
			default:
				return cellStyle
			}
		})
}

// Render writes every section of the report to w.
func (r *Report) Render(w io.Writer) error {
	sections := []func(io.Writer) error{
		r.renderStats,
		r.renderSenders,
		r.renderDates,
	}
	if r.Options.InactiveDays > 0 {
		sections = append(sections, r.renderInactive)
	}
	for _, s := range sections {
		if err := s(w); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "\nAnalysis complete!")
	return err
}

func (r *Report) renderStats(w io.Writer) error {
	t := newTable([]string{"Metric", "Value"}).
		Row("Total emails", humanize.Comma(int64(r.Stats.Total))).
		Row("Senders", humanize.Comma(int64(r.Stats.Senders))).
		Row("First Email Date", r.Stats.FirstDate)
	if r.Stats.LastDate != "" {
		t.Row("Last Email Date", r.Stats.LastDate)
	}
	if r.Stats.AvgPerDay > 0 {
		t.Row("Avg. Emails/Day", strconv.FormatFloat(r.Stats.AvgPerDay, 'f', 2, 64))
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render("Stats"), t.String())
	return err
}

func (r *Report) renderSenders(w io.Writer) error {
	t := newTable([]string{"Sender", "Count"}, 1)
	for _, s := range r.TopSenders {
		t.Row(s.Sender, humanize.Comma(int64(s.Count)))
	}
	title := fmt.Sprintf("Senders (top %d)", r.Options.Top)
	_, err := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render(title), t.String())
	return err
}

func (r *Report) renderDates(w io.Writer) error {
	if _, err := fmt.Fprintln(w, titleStyle.Render("Date")); err != nil {
		return err
	}
	for _, y := range r.Years {
		t := newTable([]string{"Day", "Emails"}, 1)
		for _, d := range y.Busiest {
			t.Row(d.Day, humanize.Comma(int64(d.Count)))
		}
		sub := fmt.Sprintf("Year %d (%s emails)", y.Year, humanize.Comma(int64(y.Total)))
		if _, err := fmt.Fprintf(w, "%s\n%s\n", subtitleStyle.Render(sub), t.String()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) renderInactive(w io.Writer) error {
	if len(r.Inactive) == 0 {
		_, err := fmt.Fprintln(w, titleStyle.Render(
			fmt.Sprintf("No senders inactive for more than %d days found", r.Options.InactiveDays)))
		return err
	}

	t := newTable([]string{"Sender", "Last Email Date", "Days Since"}, 2)
	for _, s := range r.Inactive {
		t.Row(s.Sender, s.LastDate, fmt.Sprintf("%d days", s.DaysSince))
	}
	title := fmt.Sprintf("Senders inactive for more than %d days", r.Options.InactiveDays)
	_, err := fmt.Fprintf(w, "%s\n%s\n", titleStyle.Render(title), t.String())
	return err
}
