// Package render formats consensus batches for terminals and chat.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/linuzri/polymarket-bot/internal/domain"
)

var (
	headerStyle     = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle       = lipgloss.NewStyle().Padding(0, 1)
	actionableStyle = cellStyle.Foreground(lipgloss.Color("42")).Bold(true)
	noResultStyle   = cellStyle.Foreground(lipgloss.Color("241"))
	titleStyle      = lipgloss.NewStyle().Bold(true).Underline(true)
)

const agreeMarker = "<<<"

// Batch renders one row per evaluation.
func Batch(b domain.Batch) string {
	rows := make([][]string, 0, len(b.Evaluations))
	for _, e := range b.Evaluations {
		rows = append(rows, evaluationRow(e))
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("INSTRUMENT", "SIGNAL", "AGREE", "CONF", "PRICE", "EDGE", "KELLY", "OUTCOME").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row < 0 || row >= len(b.Evaluations) {
				return cellStyle
			}
			switch b.Evaluations[row].Outcome {
			case domain.OutcomeActionable:
				return actionableStyle
			case domain.OutcomeNoResult:
				return noResultStyle
			}
			return cellStyle
		})

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Consensus %s", b.InstantID)))
	sb.WriteString("\n")
	sb.WriteString(t.String())
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%d/%d actionable\n", b.ActionableCount(), len(b.Evaluations))
	return sb.String()
}

func evaluationRow(e domain.Evaluation) []string {
	if e.Result == nil {
		return []string{e.Instrument, "-", "-", "-", "-", "-", "-", string(e.Outcome) + ": " + e.Reason}
	}
	r := e.Result
	return []string{
		e.Instrument,
		r.Signal,
		fmt.Sprintf("%d/%d", r.AgreementCount, r.TotalSources),
		fmt.Sprintf("%.0f%%", r.Confidence*100),
		optional(r.ReferencePrice, "%.2f"),
		optional(r.Edge, "%+.2f"),
		optional(r.KellyFraction, "%.3f"),
		string(e.Outcome),
	}
}

// Breakdown lists every source of a result. Sources voting for the
// plurality category are marked.
func Breakdown(r domain.ConsensusResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s (plurality %s)\n", r.Instrument, r.InstantID, r.Plurality)
	for _, s := range r.PerSource {
		if !s.Included {
			fmt.Fprintf(&sb, "  %-16s excluded: %s\n", s.SourceID, s.Reason)
			continue
		}
		line := fmt.Sprintf("  %-16s %-10s", s.SourceID, s.Category)
		if s.RawValue != nil && s.Adjusted != nil {
			line += fmt.Sprintf(" raw=%.1f adj=%.1f", *s.RawValue, *s.Adjusted)
		}
		if s.Confidence != nil {
			line += fmt.Sprintf(" conf=%.2f", *s.Confidence)
		}
		if s.Agrees {
			line += " " + agreeMarker
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Report is the table followed by a drill-down of every produced result.
func Report(b domain.Batch) string {
	var sb strings.Builder
	sb.WriteString(Batch(b))
	for _, e := range b.Evaluations {
		if e.Result == nil {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(Breakdown(*e.Result))
	}
	return sb.String()
}

func optional(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
