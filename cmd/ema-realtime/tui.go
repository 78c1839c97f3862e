package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-realtime/core"
	"github.com/muesli/reflow/wordwrap"
)

const (
	meterRefresh = 100 * time.Millisecond
	meterWidth   = 20
	defaultWidth = 80
)

// session is the part of the orchestrator the terminal drives.
type session interface {
	Tap(ctx context.Context) error
	InterruptSpeaking(ctx context.Context) error
	SendText(ctx context.Context, text string) error
	Disconnect() error
}

// volumeMeter holds the latest capture volume. The capture path stores into
// it and the view samples it on every tick.
type volumeMeter struct {
	bits atomic.Uint64
}

func (v *volumeMeter) Store(volume float64) { v.bits.Store(math.Float64bits(volume)) }
func (v *volumeMeter) Load() float64        { return math.Float64frombits(v.bits.Load()) }

type (
	stateMsg     orchestration.State
	messagesMsg  orchestration.Messages
	errMsg       struct{ err error }
	connectedMsg struct{ err error }
	meterTickMsg struct{}
)

type styles struct {
	title    lipgloss.Style
	state    map[orchestration.State]lipgloss.Style
	user     lipgloss.Style
	agent    lipgloss.Style
	pending  lipgloss.Style
	errorMsg lipgloss.Style
	meterOn  lipgloss.Style
	meterOff lipgloss.Style
	help     lipgloss.Style
}

func newStyles() styles {
	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	return styles{
		title: lipgloss.NewStyle().Bold(true),
		state: map[orchestration.State]lipgloss.Style{
			orchestration.StateIdle:      badge.Foreground(lipgloss.Color("252")).Background(lipgloss.Color("238")),
			orchestration.StateListening: badge.Foreground(lipgloss.Color("16")).Background(lipgloss.Color("114")),
			orchestration.StateSpeaking:  badge.Foreground(lipgloss.Color("16")).Background(lipgloss.Color("39")),
		},
		user:     lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		agent:    lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		pending:  lipgloss.NewStyle().Foreground(lipgloss.Color("159")).Faint(true),
		errorMsg: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		meterOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		meterOff: lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		help:     lipgloss.NewStyle().Faint(true),
	}
}

type sessionModel struct {
	ctx     context.Context
	session session
	connect func(context.Context) error
	volume  *volumeMeter

	spinner   spinner.Model
	input     textinput.Model
	styles    styles
	width     int
	connected bool

	state    orchestration.State
	messages orchestration.Messages
	lastErr  error
	level    float64
}

func newSessionModel(ctx context.Context, s session, connect func(context.Context) error, volume *volumeMeter) sessionModel {
	input := textinput.New()
	input.Placeholder = "Type a message, or press tab to talk"
	input.Prompt = "> "
	input.Focus()

	return sessionModel{
		ctx:     ctx,
		session: s,
		connect: connect,
		volume:  volume,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
		),
		input:  input,
		styles: newStyles(),
		width:  defaultWidth,
	}
}

func (m sessionModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
		func() tea.Msg { return connectedMsg{err: m.connect(m.ctx)} },
		meterTick(),
	)
}

func meterTick() tea.Cmd {
	return tea.Tick(meterRefresh, func(time.Time) tea.Msg { return meterTickMsg{} })
}

// act runs a session call off the update loop. Session callbacks send into
// the program, so a call made inline could wait on itself.
func (m sessionModel) act(fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(m.ctx); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m sessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-4, 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Sequence(m.act(func(context.Context) error { return m.session.Disconnect() }), tea.Quit)
		case tea.KeyTab:
			if m.connected {
				return m, m.act(m.session.Tap)
			}
			return m, nil
		case tea.KeyEsc:
			if m.connected && m.state == orchestration.StateSpeaking {
				return m, m.act(m.session.InterruptSpeaking)
			}
			return m, nil
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || !m.connected {
				return m, nil
			}
			m.input.Reset()
			return m, m.act(func(ctx context.Context) error { return m.session.SendText(ctx, text) })
		}

	case connectedMsg:
		if msg.err != nil {
			m.lastErr = fmt.Errorf("connect: %w", msg.err)
			return m, nil
		}
		m.connected = true
		return m, nil

	case stateMsg:
		m.state = orchestration.State(msg)
		return m, nil

	case messagesMsg:
		m.messages = orchestration.Messages(msg)
		return m, nil

	case errMsg:
		m.lastErr = msg.err
		if errors.Is(msg.err, orchestration.ErrNotConnected) {
			m.connected = false
		}
		return m, nil

	case meterTickMsg:
		if m.volume != nil {
			m.level = m.volume.Load()
		}
		return m, meterTick()

	case spinner.TickMsg:
		if m.connected {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m sessionModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.title.Render("ema-realtime"))
	b.WriteString("  ")
	if m.connected {
		b.WriteString(m.styles.state[m.state].Render(m.state.String()))
		if m.state == orchestration.StateListening {
			b.WriteString("  ")
			b.WriteString(m.renderMeter())
		}
	} else if m.lastErr == nil {
		b.WriteString(m.spinner.View())
		b.WriteString(" connecting...")
	} else {
		b.WriteString("disconnected")
	}
	b.WriteString("\n\n")

	wrap := max(m.width-2, 20)
	for _, message := range m.messages.Finished {
		style := m.styles.agent
		if message.Author == orchestration.AuthorUser {
			style = m.styles.user
		}
		b.WriteString(style.Render(wordwrap.String(message.Author.String()+": "+message.Text, wrap)))
		b.WriteString("\n")
	}
	if m.messages.InProgress != nil {
		b.WriteString(m.styles.pending.Render(wordwrap.String("agent: "+m.messages.InProgress.Text, wrap)))
		b.WriteString("\n")
	}

	if m.lastErr != nil {
		b.WriteString("\n")
		b.WriteString(m.styles.errorMsg.Render(wordwrap.String(m.lastErr.Error(), wrap)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.styles.help.Render("tab talk/stop  esc interrupt  enter send  ctrl+c quit"))
	return b.String()
}

func (m sessionModel) renderMeter() string {
	level := min(max(m.level, 0), 1)
	filled := int(math.Round(level * meterWidth))
	return m.styles.meterOn.Render(strings.Repeat("█", filled)) +
		m.styles.meterOff.Render(strings.Repeat("░", meterWidth-filled))
}
