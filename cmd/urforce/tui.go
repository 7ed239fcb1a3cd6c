package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/urforce/pkg/monitor"
	"github.com/gwillem/urforce/pkg/robot"
	"github.com/gwillem/urforce/pkg/session"
)

const (
	headerHeight = 4 // title, status line, progress, blank
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

const (
	seriesPeriod = "period"
	seriesMax    = "max"
)

var seriesColors = map[string]string{
	seriesPeriod: "46",  // green
	seriesMax:    "208", // orange
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type sessionModel struct {
	sess     *session.Session
	mon      *monitor.Server
	sink     *logSink
	cancel   context.CancelFunc
	done     <-chan error
	interval time.Duration

	chart    *streamlinechart.Model
	status   session.Status
	width    int
	height   int
	logs     []string
	stopping bool
	finished bool
	err      error
}

type statusMsg session.Status
type statusClosedMsg struct{}
type logMsg string
type runDoneMsg struct{ err error }

func waitForStatus(statuses <-chan session.Status, mon *monitor.Server) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-statuses
		if !ok {
			return statusClosedMsg{}
		}
		if mon != nil {
			mon.Publish(st)
		}
		return statusMsg(st)
	}
}

func waitForLog(sink *logSink) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-sink.Lines())
	}
}

func waitForRun(done <-chan error) tea.Cmd {
	return func() tea.Msg {
		return runDoneMsg{err: <-done}
	}
}

func (m *sessionModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *sessionModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func newSessionModel(sess *session.Session, cfg *robot.Config, mon *monitor.Server, sink *logSink, cancel context.CancelFunc, done <-chan error) sessionModel {
	interval := cfg.KeepaliveInterval.Std()
	ceiling := 5 * float64(interval) / float64(time.Millisecond)
	chart := streamlinechart.New(80, 20, streamlinechart.WithYRange(0, ceiling))
	for name, color := range seriesColors {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}
	return sessionModel{
		sess:     sess,
		mon:      mon,
		sink:     sink,
		cancel:   cancel,
		done:     done,
		interval: interval,
		chart:    &chart,
		status:   session.Status{SessionID: sess.ID(), Duration: cfg.Duration.Std()},
	}
}

func (m sessionModel) Init() tea.Cmd {
	return tea.Batch(
		waitForStatus(m.sess.Statuses(), m.mon),
		waitForLog(m.sink),
		waitForRun(m.done),
	)
}

func (m sessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.finished {
				return m, tea.Quit
			}
			// Force mode is ended by the session once the loop sees the
			// cancellation; quit when Run returns.
			m.stopping = true
			m.cancel()
		}

	case statusMsg:
		st := session.Status(msg)
		if st.Keepalives > m.status.Keepalives && st.LastPeriod > 0 {
			m.chart.PushDataSet(seriesPeriod, ms(st.LastPeriod))
			m.chart.PushDataSet(seriesMax, ms(st.MaxPeriod))
			m.chart.DrawAll()
		}
		m.status = st
		return m, waitForStatus(m.sess.Statuses(), m.mon)

	case statusClosedMsg:
		return m, nil

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.sink)

	case runDoneMsg:
		m.finished = true
		m.err = msg.err
		if m.stopping {
			return m, tea.Quit
		}
		m.addLog("Session finished. Press 'q' to quit")
		return m, nil
	}

	return m, nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (m sessionModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("urforce"))
	sb.WriteString(fmt.Sprintf(" - session %s", m.status.SessionID))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n")
	sb.WriteString(m.renderStatus())
	sb.WriteString("\n")
	sb.WriteString(m.renderProgress())
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to stop")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m sessionModel) renderStatus() string {
	st := m.status
	state := okStyle.Render(st.State.String())
	switch {
	case m.err != nil || st.Err != nil:
		state = errStyle.Render(st.State.String())
	case m.stopping || st.State == session.ShuttingDown:
		state = warnStyle.Render(st.State.String())
	}

	calib := okStyle.Render("ok")
	if !st.CalibrationOK {
		calib = warnStyle.Render("unverified")
	}
	version := "-"
	if st.Version.Major > 0 {
		version = st.Version.String()
	}
	return fmt.Sprintf("%s  controller %s  calibration %s  keepalives %d  max %s  missed %d",
		state, version, calib, st.Keepalives, st.MaxPeriod, st.Missed)
}

func (m sessionModel) renderProgress() string {
	st := m.status
	if st.Duration <= 0 {
		return statusStyle.Render(fmt.Sprintf("elapsed %s, running until stopped", st.Elapsed.Truncate(time.Millisecond)))
	}
	const width = 40
	frac := min(float64(st.Elapsed)/float64(st.Duration), 1)
	filled := int(frac * width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("%s %s / %s", bar, st.Elapsed.Truncate(time.Millisecond), st.Duration)
}

func renderLegend() string {
	var items []string
	for _, name := range []string{seriesPeriod, seriesMax} {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+name+" (ms)")
	}
	return strings.Join(items, "  ")
}

// runTUI runs the session in the background and shows it until it ends.
func runTUI(ctx context.Context, sess *session.Session, cfg *robot.Config, mon *monitor.Server, sink *logSink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(ctx)
	}()

	p := tea.NewProgram(newSessionModel(sess, cfg, mon, sink, cancel, done), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		cancel()
		return fmt.Errorf("run TUI: %w", err)
	}

	m := final.(sessionModel)
	if !m.finished {
		// The view was closed some other way; let the session shut down.
		cancel()
		m.err = <-done
	}
	fmt.Println(renderSummary(m.status, m.err))
	return m.err
}
