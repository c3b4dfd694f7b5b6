package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Output writes command results either as text or, with --json, as
// indented JSON documents.
type Output struct {
	w     io.Writer
	json  bool
	color bool
}

// NewOutput binds an Output to the command's stdout and --json flag.
// Color is only used when stdout is a terminal.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		w:     cmd.OutOrStdout(),
		json:  jsonMode,
		color: !jsonMode && cmd.OutOrStdout() == os.Stdout && isTerminal(),
	}
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func (o *Output) IsJSON() bool { return o.json }

func (o *Output) JSON(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *Output) Print(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}

func (o *Output) Printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}

func (o *Output) Println(args ...any) {
	fmt.Fprintln(o.w, args...)
}

// Line printers. Each adds a trailing newline.
func (o *Output) Success(format string, args ...any) { o.line(ansiGreen, format, args...) }
func (o *Output) Error(format string, args ...any)   { o.line(ansiRed, format, args...) }
func (o *Output) Warning(format string, args ...any) { o.line(ansiYellow, format, args...) }
func (o *Output) Info(format string, args ...any)    { o.line(ansiCyan, format, args...) }
func (o *Output) Bold(format string, args ...any)    { o.line(ansiBold, format, args...) }
func (o *Output) Dim(format string, args ...any)     { o.line(ansiDim, format, args...) }

func (o *Output) line(code, format string, args ...any) {
	fmt.Fprintln(o.w, o.paint(code, fmt.Sprintf(format, args...)))
}

func (o *Output) paint(code, text string) string {
	if !o.color {
		return text
	}
	return code + text + ansiReset
}

func (o *Output) Green(text string) string   { return o.paint(ansiGreen, text) }
func (o *Output) Red(text string) string     { return o.paint(ansiRed, text) }
func (o *Output) Yellow(text string) string  { return o.paint(ansiYellow, text) }
func (o *Output) DimText(text string) string { return o.paint(ansiDim, text) }

// signed picks green for gains and red for losses.
func (o *Output) signed(v float64, text string) string {
	switch {
	case v > 0:
		return o.Green(text)
	case v < 0:
		return o.Red(text)
	default:
		return text
	}
}

func (o *Output) FormatPnL(pnl float64) string {
	return o.signed(pnl, utils.FormatPnL(pnl))
}

func (o *Output) FormatPercent(pct float64) string {
	return o.signed(pct, fmt.Sprintf("%+.2f%%", pct))
}

// ReplayState renders the running state of the replay clock.
func (o *Output) ReplayState(st models.ReplayStatus) string {
	switch {
	case st.TimelineLength == 0:
		return o.DimText("○ EMPTY")
	case st.Running:
		return o.Green("● RUNNING")
	case st.Cursor >= st.TimelineLength-1 && !st.Loop:
		return o.Yellow("■ ENDED")
	default:
		return o.Yellow("‖ PAUSED")
	}
}

// Action renders a decision action with its color.
func (o *Output) Action(a models.Action) string {
	switch a {
	case models.ActionBuy:
		return o.Green("↑ BUY")
	case models.ActionSell:
		return o.Red("↓ SELL")
	case models.ActionHold:
		return o.Yellow("→ HOLD")
	default:
		return string(a)
	}
}

// visibleWidth is the rune width of s once color codes are removed.
func visibleWidth(s string) int {
	return len([]rune(ansiPattern.ReplaceAllString(s, "")))
}

// Table buffers rows and prints them with aligned columns.
type Table struct {
	out     *Output
	headers []string
	rows    [][]string
}

func NewTable(out *Output, headers ...string) *Table {
	return &Table{out: out, headers: headers}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visibleWidth(h)
	}
	for _, row := range t.rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], visibleWidth(row[i]))
		}
	}

	t.out.Println(t.out.paint(ansiBold, t.join(t.headers, widths)))
	seps := make([]string, len(widths))
	for i, w := range widths {
		seps[i] = strings.Repeat("─", w)
	}
	t.out.Println(t.out.paint(ansiDim, strings.Join(seps, "──")))
	for _, row := range t.rows {
		t.out.Println(t.join(row, widths))
	}
}

func (t *Table) join(cells []string, widths []int) string {
	parts := make([]string, 0, len(widths))
	for i := 0; i < len(cells) && i < len(widths); i++ {
		parts = append(parts, cells[i]+strings.Repeat(" ", widths[i]-visibleWidth(cells[i])))
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

// Box prints content inside a titled frame.
func (o *Output) Box(title string, content []string) {
	inner := visibleWidth(title)
	for _, line := range content {
		inner = max(inner, visibleWidth(line))
	}
	border := strings.Repeat("─", inner+2)
	row := func(s string) string {
		return o.paint(ansiDim, "│") + " " + s + strings.Repeat(" ", inner-visibleWidth(s)) + " " + o.paint(ansiDim, "│")
	}

	o.Println(o.paint(ansiDim, "┌"+border+"┐"))
	o.Println(row(o.paint(ansiBold, title)))
	o.Println(o.paint(ansiDim, "├"+border+"┤"))
	for _, line := range content {
		o.Println(row(line))
	}
	o.Println(o.paint(ansiDim, "└"+border+"┘"))
}
