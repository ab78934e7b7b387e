// Package report renders an evaluator result as a width-aware, styled
// terminal summary, in the manner of the teacher's internal/ui/cli console
// output.
package report

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/dkgv/cpm/internal/eval"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle   = lipgloss.NewStyle().Bold(true)
)

// Render returns a human-readable summary of r. The separator line is
// min(width, 40) columns, where width is the terminal width when stdout is a
// tty and 80 otherwise; the metric rows are not wrapped.
func Render(r *eval.Result) string {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, headingStyle.Render("CPM evaluation summary"))
	fmt.Fprintln(&buf, strings.Repeat("-", min(width, 40)))

	row := func(label string, value any) {
		fmt.Fprintf(&buf, "%s %v\n", labelStyle.Render(label+":"), valueStyle.Render(fmt.Sprint(value)))
	}

	row("positive hinge loss", fmt.Sprintf("%.6f", r.MeanPosHingeLoss))
	row("negative hinge loss", fmt.Sprintf("%.6f", r.MeanNegHingeLoss))
	row("exclusion loss", fmt.Sprintf("%.6f", r.MeanExclusionLoss))
	row("combined cost", fmt.Sprintf("%.6f", r.Cost))
	row("weight L2 norm", fmt.Sprintf("%.6f", r.L2))
	row("assignment entropy (bits)", fmt.Sprintf("%.6f", r.EntropyBits))
	row("confusion (TP/FP/TN/FN)", fmt.Sprintf("%d/%d/%d/%d",
		r.Confusion.TP, r.Confusion.FP, r.Confusion.TN, r.Confusion.FN))
	row("accuracy", fmt.Sprintf("%.6f", r.Accuracy))
	row("true positive rate", fmt.Sprintf("%.6f", r.TruePositiveRate))
	row("false positive rate", fmt.Sprintf("%.6f", r.FalsePositiveRate))
	row("precision", fmt.Sprintf("%.6f", r.Precision))
	row("AUC [0,1]", fmt.Sprintf("%.6f", r.AUCFull))
	row("AUC [0,0.1]", fmt.Sprintf("%.6f", r.AUC01))
	row("AUC [0,0.01]", fmt.Sprintf("%.6f", r.AUC001))
	row("absolute top", fmt.Sprintf("%.6f", r.AbsoluteTop))

	return buf.String()
}
