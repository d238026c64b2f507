package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nexus-edge/protolink-panel/internal/domain"
	"github.com/nexus-edge/protolink-panel/internal/trend"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePanel struct {
	display    domain.Display
	connectErr error
	connects   []string
	toggles    []int
	trend      *trend.Buffer
}

func newFakePanel() *fakePanel {
	return &fakePanel{trend: trend.NewBuffer(120)}
}

func (p *fakePanel) Connect(_ context.Context, host string, port int) error {
	p.connects = append(p.connects, fmt.Sprintf("%s:%d", host, port))
	if p.connectErr != nil {
		return p.connectErr
	}
	p.display.State = domain.StateConnected
	p.display.Endpoint = fmt.Sprintf("%s:%d", host, port)
	return nil
}

func (p *fakePanel) Disconnect() error {
	p.display = domain.Display{}
	return nil
}

func (p *fakePanel) ToggleCoil(_ context.Context, index int) (bool, error) {
	p.toggles = append(p.toggles, index)
	p.display.DigitalOut[index] = !p.display.DigitalOut[index]
	return p.display.DigitalOut[index], nil
}

func (p *fakePanel) Display() domain.Display { return p.display }

func (p *fakePanel) Trend(channel int) (trend.Window, error) {
	return p.trend.Snapshot(fmt.Sprintf("ch%d", channel)), nil
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press delivers msg and drops the command, as for cursor blinks.
func press(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

// send delivers msg and runs the resulting command once, feeding its
// message back like the bubbletea runtime would.
func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil {
		return m
	}
	switch out := cmd().(type) {
	case connectResultMsg, disconnectResultMsg, toggleResultMsg:
		next, _ = m.Update(out)
		m = next.(Model)
	}
	return m
}

func newTestModel(p *fakePanel) Model {
	return NewModel(p, domain.Endpoint{Host: "192.168.68.111", Port: 502}, zerolog.Nop())
}

func TestConnectKey(t *testing.T) {
	p := newFakePanel()
	m := send(t, newTestModel(p), keyPress("c"))

	assert.Equal(t, []string{"192.168.68.111:502"}, p.connects)
	assert.False(t, m.busy)
	assert.False(t, m.failed)
	assert.Equal(t, domain.StateConnected, m.display.State)
	assert.Contains(t, m.status, "Connected to 192.168.68.111:502")
}

func TestConnectKey_Failure(t *testing.T) {
	p := newFakePanel()
	p.connectErr = fmt.Errorf("%w: connection refused", domain.ErrConnect)

	m := send(t, newTestModel(p), keyPress("c"))
	assert.True(t, m.failed)
	assert.Contains(t, m.status, "connection refused")
	assert.Equal(t, domain.StateDisconnected, m.display.State)
}

func TestConnectKey_ValidatesInput(t *testing.T) {
	p := newFakePanel()
	m := newTestModel(p)
	m.port.SetValue("abc")

	m = send(t, m, keyPress("c"))
	assert.Empty(t, p.connects)
	assert.True(t, m.failed)

	m.port.SetValue("502")
	m.host.SetValue("   ")
	m = send(t, m, keyPress("c"))
	assert.Empty(t, p.connects)
	assert.Contains(t, m.status, domain.ErrInvalidHost.Error())
}

func TestEditEndpoint(t *testing.T) {
	p := newFakePanel()
	m := newTestModel(p)
	m.host.SetValue("")

	m = press(m, keyPress("tab"))
	require.True(t, m.editing)
	require.True(t, m.host.Focused())

	// typing c while editing must not connect
	for _, r := range "plc" {
		m = press(m, keyPress(string(r)))
	}
	m = press(m, keyPress("tab"))
	require.True(t, m.port.Focused())
	m = press(m, keyPress("backspace"))
	m = press(m, keyPress("backspace"))
	m = press(m, keyPress("backspace"))
	for _, r := range "1502" {
		m = press(m, keyPress(string(r)))
	}
	m = press(m, keyPress("enter"))
	require.False(t, m.editing)
	assert.Empty(t, p.connects)

	send(t, m, keyPress("c"))
	assert.Equal(t, []string{"plc:1502"}, p.connects)
}

func TestRelayKeys(t *testing.T) {
	p := newFakePanel()
	m := newTestModel(p)

	m = send(t, m, keyPress("2"))
	assert.Empty(t, p.toggles)
	assert.Contains(t, m.status, domain.ErrNotConnected.Error())

	m = send(t, m, keyPress("c"))
	m = send(t, m, keyPress("2"))
	m = send(t, m, keyPress("4"))
	assert.Equal(t, []int{1, 3}, p.toggles)
	assert.Equal(t, "Relay 4 on", m.status)
	assert.Equal(t, [domain.BankSize]bool{false, true, false, true}, m.display.DigitalOut)
}

func TestDisconnectKey(t *testing.T) {
	p := newFakePanel()
	m := send(t, newTestModel(p), keyPress("c"))
	m = send(t, m, keyPress("d"))

	assert.Equal(t, domain.StateDisconnected, m.display.State)
	assert.Equal(t, "Disconnected", m.status)
}

func TestQuitKey(t *testing.T) {
	_, cmd := newTestModel(newFakePanel()).Update(keyPress("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestView(t *testing.T) {
	p := newFakePanel()
	p.display = domain.Display{
		State:      domain.StateConnected,
		Ch1:        domain.NewReading(3.14),
		DigitalOut: [domain.BankSize]bool{true},
	}
	now := time.Now()
	for i := 0; i < 5; i++ {
		p.trend.Append(now.Add(time.Duration(i)*500*time.Millisecond), float64(i))
	}

	next, _ := newTestModel(p).Update(tickMsg(now))
	view := next.(Model).View()

	assert.Contains(t, view, "CONNECTED")
	assert.Contains(t, view, "3.14")
	assert.Contains(t, view, domain.NoDataText)
	assert.Contains(t, view, "▁▂▄▆█")
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "", Sparkline(nil, 10))

	flat := []trend.Point{{Value: 4}, {Value: 4}, {Value: 4}}
	assert.Equal(t, "▁▁▁", Sparkline(flat, 10))

	var ramp []trend.Point
	for i := 0; i < 20; i++ {
		ramp = append(ramp, trend.Point{Value: float64(i)})
	}
	line := Sparkline(ramp, 8)
	assert.Equal(t, 8, len([]rune(line)))
	assert.True(t, strings.HasSuffix(line, "█"))
	assert.True(t, strings.HasPrefix(line, "▁"))
}

func TestConnectResultError(t *testing.T) {
	m := newTestModel(newFakePanel())
	m.busy = true
	next, _ := m.Update(connectResultMsg{err: errors.New("boom")})
	m = next.(Model)
	assert.False(t, m.busy)
	assert.True(t, m.failed)
}
