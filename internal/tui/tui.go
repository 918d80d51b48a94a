// Package tui is a live flash-progress dashboard: state, ACK trace, byte
// counters and a log tail, subscribed as a session.Observer and rendered
// with bubbletea/lipgloss.
package tui

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	psutilcpu "github.com/shirou/gopsutil/v3/cpu"
	psutilmem "github.com/shirou/gopsutil/v3/mem"

	"dnx/internal/session"
)

const maxLogLines = 200

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2563EB")).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Padding(0, 1)

	logStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#374151")).
			Padding(0, 1)

	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	stateStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A855F7")).Bold(true)
	copyNotice    = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E")).Italic(true)
)

// Model is the bubbletea state for one monitored session. Observers are
// side-effect-only: it never calls back into the session itself beyond
// Cancel, the one control surface a session exposes to its observers.
type Model struct {
	events <-chan session.Event
	cancel *session.CancelFlag

	vendorID, productID uint16
	state               string
	phase               string
	bytesCurrent        int64
	bytesTotal          int64
	lastError           *session.ErrorEvent
	done                bool
	connected           bool

	logLines []string
	logView  viewport.Model
	progress progress.Model

	resourceLine string
	copyShown    bool

	width, height int
}

// New builds a Model that reads session events from ch. The caller is
// responsible for feeding ch from a session.Observer (see Observer
// below); Model never owns the Session itself.
func New(ch <-chan session.Event, cancel *session.CancelFlag) Model {
	return Model{
		events:   ch,
		cancel:   cancel,
		state:    "Invalid",
		logView:  viewport.New(80, 12),
		progress: progress.New(progress.WithDefaultGradient()),
	}
}

// Observer adapts a buffered channel into a session.Observer. The buffer
// exists so a momentarily slow TUI frame never blocks the session's own
// call stack beyond the channel's capacity: a slow observer still
// throttles the session once the buffer fills, but a bounded buffer
// raises how slow "slow" has to be before that happens.
func Observer(bufferSize int) (session.Observer, <-chan session.Event) {
	ch := make(chan session.Event, bufferSize)
	return session.ObserverFunc(func(e session.Event) {
		ch <- e
	}), ch
}

type eventMsg struct{ event session.Event }
type resourceMsg struct{ line string }

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tickResources())
}

func waitForEvent(ch <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{event: e}
	}
}

// tickResources samples host CPU and memory once a second for the
// footer's resource line.
func tickResources() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		cpuPct, _ := psutilcpu.Percent(0, false)
		vm, _ := psutilmem.VirtualMemory()
		cpu := 0.0
		if len(cpuPct) > 0 {
			cpu = cpuPct[0]
		}
		mem := 0.0
		if vm != nil {
			mem = vm.UsedPercent
		}
		line := fmt.Sprintf("CPU: %.1f%% | RAM: %.1f%% | Go: %s", cpu, mem, runtime.Version())
		return resourceMsg{line: line}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.logView.Width = maxInt(40, m.width-4)
		m.logView.Height = maxInt(6, m.height-10)
		m.progress.Width = maxInt(20, m.width-20)
		m.refreshLogView()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.cancel != nil {
				m.cancel.Cancel()
			}
			return m, tea.Quit
		case "y":
			if m.lastError != nil {
				text := fmt.Sprintf("ack=%s state=%s bytes=%d msg=%s",
					m.lastError.Code, m.lastError.State, m.lastError.BytesTransferred, m.lastError.Message)
				if err := clipboard.WriteAll(text); err == nil {
					m.copyShown = true
				}
			}
			return m, nil
		}
		return m, nil

	case resourceMsg:
		m.resourceLine = msg.line
		return m, tickResources()

	case eventMsg:
		if msg.event == nil {
			return m, nil
		}
		m.apply(msg.event)
		return m, waitForEvent(m.events)
	}
	return m, nil
}

func (m *Model) apply(e session.Event) {
	switch ev := e.(type) {
	case session.DeviceConnectedEvent:
		m.vendorID, m.productID = ev.VendorID, ev.ProductID
		m.connected = true
		m.appendLog(fmt.Sprintf("connected VID:%04x PID:%04x", ev.VendorID, ev.ProductID))
	case session.DeviceDisconnectedEvent:
		m.connected = false
		m.appendLog("device disconnected, awaiting re-enumeration")
	case session.StateChangedEvent:
		m.state = ev.To
		m.appendLog(fmt.Sprintf("%s -> %s", ev.From, ev.To))
	case session.ProgressEvent:
		m.phase = ev.Phase
		m.bytesCurrent = ev.Current
		m.bytesTotal = ev.Total
	case session.LogEvent:
		m.appendLog(fmt.Sprintf("[%s] %s", ev.Level, ev.Message))
	case session.ErrorEvent:
		m.lastError = &ev
		m.appendLog(fmt.Sprintf("ERROR %s: %s", ev.Code, ev.Message))
	case session.CompleteEvent:
		m.done = true
		m.appendLog("flash complete")
	}
}

func (m *Model) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
	m.refreshLogView()
}

// refreshLogView rewraps the log tail to the viewport's current width and
// scrolls to the bottom.
func (m *Model) refreshLogView() {
	width := m.logView.Width
	if width <= 0 {
		width = 80
	}
	wrapped := make([]string, len(m.logLines))
	for i, l := range m.logLines {
		wrapped[i] = ansi.Wordwrap(l, width, " \t")
	}
	m.logView.SetContent(strings.Join(wrapped, "\n"))
	m.logView.GotoBottom()
}

func (m Model) View() string {
	header := headerStyle.Render(fmt.Sprintf(" dnxmonitor — VID:%04x PID:%04x ", m.vendorID, m.productID))

	status := stateStyle.Render(m.state)
	if m.done {
		status = progressStyle.Render("Complete")
	}
	if m.lastError != nil {
		status = errorStyle.Render("Aborted: " + m.lastError.Code)
	}

	pct := 0.0
	if m.bytesTotal > 0 {
		pct = float64(m.bytesCurrent) / float64(m.bytesTotal)
	}
	if m.done {
		pct = 1
	}

	body := fmt.Sprintf("state:  %s\nphase:  %s\nbytes:  %d / %d\nlink:   %s\n%s\n",
		status, m.phase, m.bytesCurrent, m.bytesTotal, connLabel(m.connected), m.progress.ViewAs(pct))

	logBox := logStyle.Width(maxInt(40, m.width-4)).Render(m.logView.View())

	footer := m.resourceLine
	if footer == "" {
		footer = "sampling host resources..."
	}
	footer += "  |  q: quit  y: copy last error"
	if m.copyShown {
		footer = copyNotice.Render("✓ copied last error to clipboard") + "  " + footer
	}

	return header + "\n\n" + body + "\n" + logBox + "\n" + footerStyle.Render(footer)
}

func connLabel(connected bool) string {
	if connected {
		return "up"
	}
	return "down"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
