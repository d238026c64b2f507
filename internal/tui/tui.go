// Package tui is the terminal operator panel.
package tui

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/trend"
	"github.com/rs/zerolog"
)

// Panel is the control surface the operator drives.
type Panel interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect() error
	ToggleCoil(ctx context.Context, index int) (bool, error)
	Display() domain.Display
	Trend(channel int) (trend.Window, error)
}

const (
	refreshInterval = 250 * time.Millisecond
	commandTimeout  = 10 * time.Second
	sparkWidth      = 60
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#575B7E")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Bold(true).Width(10)
	valueStyle = lipgloss.NewStyle().Width(10).Align(lipgloss.Right)
	onStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	offStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	sparkStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	stateStyles = map[domain.ConnectionState]lipgloss.Style{
		domain.StateDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		domain.StateConnecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		domain.StateConnected:    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
	}
)

type tickMsg time.Time

type connectResultMsg struct{ err error }

type disconnectResultMsg struct{ err error }

type toggleResultMsg struct {
	index int
	value bool
	err   error
}

// Model is the bubbletea model of the panel.
type Model struct {
	panel   Panel
	logger  zerolog.Logger
	keys    keyMap
	help    help.Model
	host    textinput.Model
	port    textinput.Model
	editing bool

	display domain.Display
	trends  [2]trend.Window
	busy    bool
	status  string
	failed  bool
}

// NewModel creates the panel model with the host and port fields prefilled.
func NewModel(panel Panel, endpoint domain.Endpoint, logger zerolog.Logger) Model {
	host := textinput.New()
	host.Prompt = "Host: "
	host.Placeholder = "192.168.68.111"
	host.CharLimit = 253
	host.Width = 24
	host.SetValue(endpoint.Host)

	port := textinput.New()
	port.Prompt = "Port: "
	port.Placeholder = strconv.Itoa(domain.DefaultPort)
	port.CharLimit = 5
	port.Width = 6
	if endpoint.Port != 0 {
		port.SetValue(strconv.Itoa(endpoint.Port))
	}

	return Model{
		panel:   panel,
		logger:  logger.With().Str("component", "tui").Logger(),
		keys:    defaultKeyMap(),
		help:    help.New(),
		host:    host,
		port:    port,
		display: panel.Display(),
	}
}

// Run starts the terminal UI and blocks until the operator quits.
func Run(panel Panel, endpoint domain.Endpoint, logger zerolog.Logger) error {
	_, err := tea.NewProgram(NewModel(panel, endpoint, logger), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing {
			return m.updateEditing(msg)
		}
		return m.updateKeys(msg)

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case tickMsg:
		m.refresh()
		return m, tick()

	case connectResultMsg:
		m.busy = false
		if msg.err != nil {
			m.setError(msg.err)
		} else {
			m.setStatus("Connected to " + m.panel.Display().Endpoint)
		}
		m.refresh()

	case disconnectResultMsg:
		m.busy = false
		if msg.err != nil {
			m.setError(msg.err)
		} else {
			m.setStatus("Disconnected")
		}
		m.refresh()

	case toggleResultMsg:
		if msg.err != nil {
			m.setError(msg.err)
		} else {
			m.setStatus(fmt.Sprintf("Relay %d %s", msg.index+1, onOff(msg.value)))
		}
		m.refresh()
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Edit):
		m.editing = true
		m.port.Blur()
		return m, m.host.Focus()

	case key.Matches(msg, m.keys.Connect):
		return m.connect()

	case key.Matches(msg, m.keys.Disconnect):
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.setStatus("Disconnecting...")
		panel := m.panel
		return m, func() tea.Msg {
			return disconnectResultMsg{err: panel.Disconnect()}
		}

	case key.Matches(msg, m.keys.Relay):
		index := int(msg.Runes[0] - '1')
		if m.display.State != domain.StateConnected {
			m.setError(domain.ErrNotConnected)
			return m, nil
		}
		panel := m.panel
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			value, err := panel.ToggleCoil(ctx, index)
			return toggleResultMsg{index: index, value: value, err: err}
		}
	}
	return m, nil
}

func (m Model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "enter", "esc":
		m.editing = false
		m.host.Blur()
		m.port.Blur()
		return m, nil
	case "tab", "shift+tab":
		if m.host.Focused() {
			m.host.Blur()
			return m, m.port.Focus()
		}
		m.port.Blur()
		return m, m.host.Focus()
	}

	var cmd tea.Cmd
	if m.host.Focused() {
		m.host, cmd = m.host.Update(msg)
	} else {
		m.port, cmd = m.port.Update(msg)
	}
	return m, cmd
}

// connect validates the fields and runs Connect off the UI loop.
func (m Model) connect() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}

	host := strings.TrimSpace(m.host.Value())
	portText := strings.TrimSpace(m.port.Value())
	port := domain.DefaultPort
	if portText != "" {
		p, err := strconv.Atoi(portText)
		if err != nil {
			m.setError(fmt.Errorf("%w: %w: %q", domain.ErrConfig, domain.ErrInvalidPort, portText))
			return m, nil
		}
		port = p
	}
	if _, err := domain.NewEndpoint(host, port); err != nil {
		m.setError(err)
		return m, nil
	}

	m.busy = true
	m.setStatus(fmt.Sprintf("Connecting to %s:%d...", host, port))
	m.logger.Info().Str("host", host).Int("port", port).Msg("Operator connect")

	panel := m.panel
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return connectResultMsg{err: panel.Connect(ctx, host, port)}
	}
}

func (m *Model) refresh() {
	m.display = m.panel.Display()
	for i := range m.trends {
		if w, err := m.panel.Trend(i + 1); err == nil {
			m.trends[i] = w
		}
	}
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.failed = false
}

func (m *Model) setError(err error) {
	m.status = err.Error()
	m.failed = true
	m.logger.Warn().Err(err).Msg("Operator command failed")
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Protolink Control Panel"))
	b.WriteString("\n\n")

	stateStyle := stateStyles[m.display.State]
	conn := lipgloss.JoinHorizontal(lipgloss.Top,
		m.host.View(), "  ", m.port.View(), "  ",
		stateStyle.Render(strings.ToUpper(m.display.State.String())),
	)
	b.WriteString(boxStyle.Render(conn))
	b.WriteString("\n")

	analog := lipgloss.JoinVertical(lipgloss.Left,
		m.analogRow("AI1 mA", m.display.Ch1, m.trends[0]),
		m.analogRow("AI2 mA", m.display.Ch2, m.trends[1]),
	)
	b.WriteString(boxStyle.Render(analog))
	b.WriteString("\n")

	banks := lipgloss.JoinVertical(lipgloss.Left,
		labelStyle.Render("DI")+renderBank(m.display.DigitalIn),
		labelStyle.Render("Relays")+renderBank(m.display.DigitalOut),
	)
	b.WriteString(boxStyle.Render(banks))
	b.WriteString("\n")

	if m.status != "" {
		if m.failed {
			b.WriteString(errorStyle.Render(m.status))
		} else {
			b.WriteString(m.status)
		}
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) analogRow(label string, r domain.Reading, w trend.Window) string {
	return labelStyle.Render(label) + valueStyle.Render(r.String()) + "  " + sparkStyle.Render(Sparkline(w.Points, sparkWidth))
}

func renderBank(bits [domain.BankSize]bool) string {
	parts := make([]string, len(bits))
	for i, on := range bits {
		if on {
			parts[i] = onStyle.Render(fmt.Sprintf("[%d:■]", i+1))
		} else {
			parts[i] = offStyle.Render(fmt.Sprintf("[%d:□]", i+1))
		}
	}
	return strings.Join(parts, " ")
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the newest width points scaled to their own range.
func Sparkline(points []trend.Point, width int) string {
	if len(points) > width {
		points = points[len(points)-width:]
	}
	if len(points) == 0 {
		return ""
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}

	out := make([]rune, len(points))
	for i, p := range points {
		level := 0
		if hi > lo {
			level = int((p.Value - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		out[i] = sparkRunes[level]
	}
	return string(out)
}
