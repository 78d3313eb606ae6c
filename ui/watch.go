package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ftahirops/xmem/engine"
	"github.com/ftahirops/xmem/model"
)

// DefaultRefresh is the watch view's refresh interval.
const DefaultRefresh = 5 * time.Second

type viewMode int

const (
	viewStatus viewMode = iota
	viewAnalysis
)

type tickMsg time.Time

type refreshedMsg struct{ err error }

type optimizedMsg struct {
	report *model.PipelineReport
	err    error
}

type analyzedMsg struct {
	analysis model.MemoryAnalysis
	err      error
}

// Model is the bubbletea model behind `xmem watch`.
type Model struct {
	eng      *engine.Engine
	interval time.Duration
	opts     RenderOptions

	status   model.EngineStatus
	analysis *model.MemoryAnalysis
	view     viewMode
	selected int
	busy     bool
	message  string
	err      error
	width    int
}

// NewModel creates the watch model. opts.Width is replaced by the terminal
// width once known.
func NewModel(eng *engine.Engine, interval time.Duration, opts RenderOptions) Model {
	if interval <= 0 {
		interval = DefaultRefresh
	}
	return Model{
		eng:      eng,
		interval: interval,
		opts:     opts,
		status:   eng.Status(),
		width:    opts.Width,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), refreshOnce(m.eng, m.interval))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func refreshOnce(eng *engine.Engine, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return refreshedMsg{err: eng.Refresh(ctx)}
	}
}

func optimizeOnce(eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		rep, err := eng.RunOptimizationNow(context.Background())
		return optimizedMsg{report: rep, err: err}
	}
}

func analyzeOnce(eng *engine.Engine, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		a, err := eng.Analyze(ctx)
		return analyzedMsg{analysis: a, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "o":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.message = "optimizing..."
			return m, optimizeOnce(m.eng)
		case "r":
			return m, refreshOnce(m.eng, m.interval)
		case "a", "tab":
			if m.view == viewStatus {
				m.view = viewAnalysis
				return m, analyzeOnce(m.eng, m.interval)
			}
			m.view = viewStatus
			return m, nil
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.status.Apps)-1 {
				m.selected++
			}
		}
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{tick(m.interval), refreshOnce(m.eng, m.interval)}
		if m.view == viewAnalysis {
			cmds = append(cmds, analyzeOnce(m.eng, m.interval))
		}
		return m, tea.Batch(cmds...)

	case refreshedMsg:
		m.err = msg.err
		m.status = m.eng.Status()
		if m.selected >= len(m.status.Apps) {
			m.selected = max(len(m.status.Apps)-1, 0)
		}
		return m, nil

	case optimizedMsg:
		m.busy = false
		m.status = m.eng.Status()
		if msg.err != nil {
			m.err = msg.err
			m.message = ""
			return m, nil
		}
		m.message = fmt.Sprintf("optimization %s finished: %d stages, %d errors",
			truncate(msg.report.ID, 8), len(msg.report.Stages), msg.report.ErrorCount())
		return m, nil

	case analyzedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		a := msg.analysis
		m.analysis = &a
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	}
	return m, nil
}

// selectedApp returns the highlighted app in usage order.
func (m Model) selectedApp() string {
	apps := sortApps(m.status.Apps)
	if m.selected < 0 || m.selected >= len(apps) {
		return ""
	}
	return apps[m.selected].AppID
}

func (m Model) View() string {
	opts := m.opts
	opts.Width = m.width
	opts.Selected = m.selectedApp()

	var sb strings.Builder
	switch m.view {
	case viewAnalysis:
		sb.WriteString(titleStyle.Render("XMEM ANALYSIS") + "\n")
		if m.analysis == nil {
			sb.WriteString(dimStyle.Render(" analyzing...") + "\n")
		} else {
			sb.WriteString(RenderAnalysis(*m.analysis, opts))
		}
	default:
		sb.WriteString(RenderStatus(m.status, opts))
		if app := opts.Selected; app != "" {
			sb.WriteString(m.renderSeries(app, opts))
		}
	}

	if m.err != nil {
		sb.WriteString(" " + critStyle.Render(truncate(m.err.Error(), pageInnerW(m.width))) + "\n")
	}
	if m.message != "" {
		sb.WriteString(" " + valueStyle.Render(m.message) + "\n")
	}
	sb.WriteString(helpStyle.Render(" o optimize · a analysis · ↑/↓ select · r refresh · q quit"))
	return sb.String()
}

func (m Model) renderSeries(app string, opts RenderOptions) string {
	series := m.eng.History().Series(app)
	if len(series) < 2 {
		return ""
	}
	data := make([]float64, len(series))
	for i, s := range series {
		data[i] = float64(s.MemoryUsageBytes)
	}
	iw := opts.innerW()
	line := sparkline(data, iw-20) + dimStyle.Render(fmt.Sprintf(" now %s", fmtBytes(series[len(series)-1].MemoryUsageBytes)))
	return boxSection(fmt.Sprintf("HISTORY  %s  (%d samples)", truncate(app, colApp), len(series)), []string{line}, iw)
}

// Run starts the watch UI on the terminal's alternate screen.
func Run(eng *engine.Engine, interval time.Duration, opts RenderOptions) error {
	p := tea.NewProgram(NewModel(eng, interval, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
