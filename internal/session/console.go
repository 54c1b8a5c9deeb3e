package session

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/stratabuild/strata/internal/scheduler"
)

var (
	styleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleFail    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// NewConsoleReporter builds a Reporter appropriate for out: an interactive
// bubbletea progress view when out is a terminal, a plain line-oriented
// renderer otherwise (§9 domain stack: console streamer picks its renderer
// from TTY detection so CI logs stay line-oriented).
func NewConsoleReporter(out *os.File) scheduler.Reporter {
	if term.IsTerminal(int(out.Fd())) {
		return newTUIReporter(out)
	}
	return newPlainReporter(out)
}

// plainReporter renders one line per lifecycle event, the mode a
// non-interactive CI log needs (§5 "Stdout/stderr ... are serialised behind a
// console streamer").
type plainReporter struct {
	mu  sync.Mutex
	out io.Writer
}

func newPlainReporter(out io.Writer) *plainReporter {
	return &plainReporter{out: out}
}

func (p *plainReporter) Started(wu scheduler.WorkUnit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[ ] %s\n", wu.Name)
}

func (p *plainReporter) Completed(wu scheduler.WorkUnit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[x] %s (%s)\n", wu.Name, wu.EndedAt.Sub(wu.StartedAt).Round(time.Millisecond))
}

func (p *plainReporter) Failed(wu scheduler.WorkUnit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[!] %s: %s\n", wu.Name, renderDiagnostic(wu))
}

// renderDiagnostic formats a failure as the single, diagnostic-quality
// message §7 requires, glamour-rendering it as markdown when the error
// carries one (a rule can attach a markdown breadcrumb trail to its error
// text; plain errors render unchanged).
func renderDiagnostic(wu scheduler.WorkUnit) string {
	if wu.Err == nil {
		return ""
	}
	out, err := glamour.Render(wu.Err.Error(), "dark")
	if err != nil {
		return wu.Err.Error()
	}
	return out
}

// tuiReporter drives a bubbletea progress view over the workunit stream.
type tuiReporter struct {
	program *tea.Program
	events  chan tea.Msg
}

type wuEvent struct {
	kind string // "started", "completed", "failed"
	wu   scheduler.WorkUnit
}

type consoleModel struct {
	running   map[string]scheduler.WorkUnit
	completed int
	failed    []scheduler.WorkUnit
	events    <-chan tea.Msg
}

func newTUIReporter(out *os.File) *tuiReporter {
	events := make(chan tea.Msg, 256)
	m := consoleModel{running: make(map[string]scheduler.WorkUnit), events: events}
	p := tea.NewProgram(m, tea.WithOutput(out))
	r := &tuiReporter{program: p, events: events}
	go func() {
		_, _ = p.Run()
	}()
	return r
}

func (m consoleModel) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-events }
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	ev, ok := msg.(wuEvent)
	if !ok {
		return m, waitForEvent(m.events)
	}
	switch ev.kind {
	case "started":
		m.running[ev.wu.ID] = ev.wu
	case "completed":
		delete(m.running, ev.wu.ID)
		m.completed++
	case "failed":
		delete(m.running, ev.wu.ID)
		m.failed = append(m.failed, ev.wu)
	}
	return m, waitForEvent(m.events)
}

func (m consoleModel) View() string {
	s := fmt.Sprintf("%s  %s  %s\n",
		styleRunning.Render(fmt.Sprintf("running: %d", len(m.running))),
		styleOK.Render(fmt.Sprintf("done: %d", m.completed)),
		styleFail.Render(fmt.Sprintf("failed: %d", len(m.failed))))
	for _, wu := range m.running {
		s += fmt.Sprintf("  %s %s\n", styleRunning.Render("»"), wu.Name)
	}
	return s
}

func (r *tuiReporter) Started(wu scheduler.WorkUnit)   { r.events <- wuEvent{kind: "started", wu: wu} }
func (r *tuiReporter) Completed(wu scheduler.WorkUnit) { r.events <- wuEvent{kind: "completed", wu: wu} }

func (r *tuiReporter) Failed(wu scheduler.WorkUnit) {
	r.events <- wuEvent{kind: "failed", wu: wu}
	if r.program != nil {
		r.program.Println(renderDiagnostic(wu))
	}
}
