// Package ui - Terminal user interface
// Styled CLI output with tables, summary boxes, progress and spinners.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Palette
var (
	ColorAccent  = lipgloss.Color("#20B9B4")
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorInfo    = lipgloss.Color("#5DADE2")
	ColorMuted   = lipgloss.Color("#7F8C8D")
)

// Styles are the rendered text styles of a Writer
type Styles struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Box     lipgloss.Style
	Header  lipgloss.Style
	Border  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, noColor bool) Styles {
	if noColor {
		plain := r.NewStyle()
		return Styles{
			Title: plain, Bold: plain, Muted: plain, Success: plain, Warning: plain,
			Error: plain, Info: plain, Header: plain, Border: plain,
			Box: r.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1),
		}
	}
	return Styles{
		Title:   r.NewStyle().Bold(true).Foreground(ColorAccent),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(ColorMuted),
		Success: r.NewStyle().Foreground(ColorSuccess),
		Warning: r.NewStyle().Foreground(ColorWarning),
		Error:   r.NewStyle().Foreground(ColorError),
		Info:    r.NewStyle().Foreground(ColorInfo),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAccent).
			Padding(0, 1),
		Header: r.NewStyle().Bold(true).Foreground(ColorAccent).Padding(0, 1),
		Border: r.NewStyle().Foreground(ColorMuted),
	}
}

// Writer is the UI output destination
type Writer struct {
	out       io.Writer
	mu        sync.Mutex
	renderer  *lipgloss.Renderer
	styles    Styles
	noColor   bool
	verbosity int
}

// NewWriter creates a UI writer. Color is dropped automatically when out is
// not a terminal.
func NewWriter(out io.Writer, noColor bool) *Writer {
	if out == nil {
		out = os.Stdout
	}
	r := lipgloss.NewRenderer(out)
	return &Writer{
		out:       out,
		renderer:  r,
		styles:    newStyles(r, noColor),
		noColor:   noColor,
		verbosity: 1,
	}
}

// Styles returns the writer's styles
func (w *Writer) Styles() Styles {
	return w.styles
}

// SetVerbosity sets output verbosity (0=quiet, 1=normal, 2=verbose)
func (w *Writer) SetVerbosity(level int) {
	w.verbosity = level
}

// Print writes formatted text
func (w *Writer) Print(format string, args ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format, args...)
}

// Println writes a line with newline
func (w *Writer) Println(format string, args ...interface{}) {
	w.Print(format+"\n", args...)
}

// Line writes s verbatim followed by a newline
func (w *Writer) Line(s string) {
	w.Print("%s\n", s)
}

// Header prints a section header
func (w *Writer) Header(title string) {
	w.Line("")
	w.Line(w.styles.Title.Render("━━━ " + title + " ━━━"))
	w.Line("")
}

// SubHeader prints a subsection header
func (w *Writer) SubHeader(title string) {
	w.Line(w.styles.Bold.Render("▸ " + title))
}

// Success prints a success message
func (w *Writer) Success(format string, args ...interface{}) {
	w.Line(w.styles.Success.Render("✓") + " " + fmt.Sprintf(format, args...))
}

// Warning prints a warning
func (w *Writer) Warning(format string, args ...interface{}) {
	w.Line(w.styles.Warning.Render("⚠") + " " + fmt.Sprintf(format, args...))
}

// Error prints an error
func (w *Writer) Error(format string, args ...interface{}) {
	w.Line(w.styles.Error.Render("✗") + " " + fmt.Sprintf(format, args...))
}

// Info prints an info message
func (w *Writer) Info(format string, args ...interface{}) {
	if w.verbosity < 1 {
		return
	}
	w.Line(w.styles.Info.Render("ℹ") + " " + fmt.Sprintf(format, args...))
}

// Debug prints a debug message
func (w *Writer) Debug(format string, args ...interface{}) {
	if w.verbosity < 2 {
		return
	}
	w.Line(w.styles.Muted.Render("  " + fmt.Sprintf(format, args...)))
}

// Box prints lines inside a bordered box
func (w *Writer) Box(lines ...string) {
	w.Line(w.styles.Box.Render(strings.Join(lines, "\n")))
}

// ProgressBar renders a progress bar
type ProgressBar struct {
	w         *Writer
	total     int
	current   int
	width     int
	label     string
	startTime time.Time
}

// NewProgressBar creates a progress bar
func (w *Writer) NewProgressBar(total int, label string) *ProgressBar {
	return &ProgressBar{
		w:         w,
		total:     total,
		width:     30,
		label:     label,
		startTime: time.Now(),
	}
}

// Increment advances the progress bar by one
func (p *ProgressBar) Increment() {
	p.current++
	p.render()
}

func (p *ProgressBar) render() {
	if p.total == 0 {
		return
	}
	if p.current > p.total {
		p.current = p.total
	}

	percent := float64(p.current) / float64(p.total)
	filled := int(percent * float64(p.width))
	bar := p.w.styles.Success.Render(strings.Repeat("█", filled)) +
		p.w.styles.Muted.Render(strings.Repeat("░", p.width-filled))

	eta := ""
	if p.current > 0 && p.current < p.total {
		elapsed := time.Since(p.startTime)
		remaining := time.Duration(float64(elapsed) / float64(p.current) * float64(p.total-p.current))
		eta = " ETA: " + formatDuration(remaining)
	}
	p.w.Print("\r%s [%s] %3.0f%% (%d/%d)%s", p.label, bar, percent*100, p.current, p.total, eta)
}

// Done completes the progress bar
func (p *ProgressBar) Done() {
	p.w.Line("")
}

// Table renders a bordered table
type Table struct {
	w       *Writer
	headers []string
	rows    [][]string
	right   map[int]bool
}

// NewTable creates a table
func (w *Writer) NewTable(headers ...string) *Table {
	return &Table{w: w, headers: headers, right: make(map[int]bool)}
}

// AlignRight right-aligns the given columns
func (t *Table) AlignRight(cols ...int) *Table {
	for _, c := range cols {
		t.right[c] = true
	}
	return t
}

// AddRow adds a row, padding or truncating it to the header count
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// String renders the table
func (t *Table) String() string {
	st := t.w.styles
	cell := t.w.renderer.NewStyle().Padding(0, 1)
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(st.Border).
		Headers(t.headers...).
		Rows(t.rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := cell
			if row == table.HeaderRow {
				s = st.Header
			}
			if t.right[col] {
				s = s.Align(lipgloss.Right)
			}
			return s
		})
	return tbl.Render()
}

// Render prints the table
func (t *Table) Render() {
	t.w.Line(t.String())
}

// Spinner shows a loading spinner
type Spinner struct {
	w       *Writer
	label   string
	frames  []string
	current int
	stop    chan struct{}
	done    chan struct{}
}

// NewSpinner creates a spinner
func (w *Writer) NewSpinner(label string) *Spinner {
	return &Spinner{
		w:      w,
		label:  label,
		frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start starts the spinner
func (s *Spinner) Start() {
	go func() {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				close(s.done)
				return
			case <-ticker.C:
				s.current = (s.current + 1) % len(s.frames)
				s.w.Print("\r%s %s", s.w.styles.Info.Render(s.frames[s.current]), s.label)
			}
		}
	}()
}

// Stop stops the spinner
func (s *Spinner) Stop(success bool) {
	close(s.stop)
	<-s.done

	icon := s.w.styles.Success.Render("✓")
	if !success {
		icon = s.w.styles.Error.Render("✗")
	}
	s.w.Print("\r%s %s\n", icon, s.label)
}

// RiskLevel renders a risk value in [0,1] with a traffic-light marker
func (w *Writer) RiskLevel(risk float64) string {
	text := fmt.Sprintf("%.2f", risk)
	switch {
	case risk >= 0.7:
		return w.styles.Error.Render("● " + text)
	case risk >= 0.4:
		return w.styles.Warning.Render("◐ " + text)
	default:
		return w.styles.Success.Render("○ " + text)
	}
}

// AllocationDiff shows per-project allocation changes between two versions
type AllocationDiff struct {
	w        *Writer
	Title    string
	Funded   []DiffItem
	Defunded []DiffItem
	Changed  []DiffItem
	Total    string
}

// DiffItem is a single diff item
type DiffItem struct {
	ProjectID  string
	OldUnits   string
	NewUnits   string
	Change     string
	IsIncrease bool
	Reasons    []string
}

// NewAllocationDiff creates a diff view
func (w *Writer) NewAllocationDiff(title string) *AllocationDiff {
	return &AllocationDiff{w: w, Title: title}
}

// Render prints the diff
func (d *AllocationDiff) Render() {
	st := d.w.styles
	d.w.Header(d.Title)

	if len(d.Funded) > 0 {
		d.w.SubHeader(fmt.Sprintf("Funded (%d)", len(d.Funded)))
		for _, item := range d.Funded {
			d.w.Line(st.Success.Render("+ ") + item.ProjectID + ": " + item.NewUnits)
			d.reasons(item)
		}
		d.w.Line("")
	}

	if len(d.Defunded) > 0 {
		d.w.SubHeader(fmt.Sprintf("Defunded (%d)", len(d.Defunded)))
		for _, item := range d.Defunded {
			d.w.Line(st.Error.Render("- ") + item.ProjectID + ": " + item.OldUnits)
			d.reasons(item)
		}
		d.w.Line("")
	}

	if len(d.Changed) > 0 {
		d.w.SubHeader(fmt.Sprintf("Changed (%d)", len(d.Changed)))
		for _, item := range d.Changed {
			change := st.Error.Render(item.Change)
			if item.IsIncrease {
				change = st.Success.Render("+" + item.Change)
			}
			d.w.Line(fmt.Sprintf("  %s: %s %s %s (%s)", item.ProjectID, item.OldUnits, st.Warning.Render("→"), item.NewUnits, change))
			d.reasons(item)
		}
		d.w.Line("")
	}

	if len(d.Funded)+len(d.Defunded)+len(d.Changed) == 0 {
		d.w.Line(st.Muted.Render("no allocation changes"))
	}
	if d.Total != "" {
		d.w.Line(strings.Repeat("─", 40))
		d.w.Line(st.Bold.Render(d.Total))
	}
}

func (d *AllocationDiff) reasons(item DiffItem) {
	for _, r := range item.Reasons {
		d.w.Line(d.w.styles.Muted.Render("    • " + r))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}
