// Package tui is the terminal front end: a bubbletea program whose frame
// message drives the beat renderer.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/hako/durafmt"

	"github.com/cbegin/clicktrack/internal/config"
	"github.com/cbegin/clicktrack/internal/notequeue"
	"github.com/cbegin/clicktrack/internal/render"
	"github.com/cbegin/clicktrack/internal/scheduler"
	"github.com/cbegin/clicktrack/internal/sequencer"
)

const (
	frameInterval = 16 * time.Millisecond
	tempoStep     = 5
)

var shortUnits, _ = durafmt.DefaultUnitsCoder.Decode("y:yrs,wk:wks,d:d,h:h,m:m,s:s,ms:ms,us:us")

// Engine is the metronome as the UI sees it.
type Engine interface {
	Toggle() string
	Playing() bool
	Tempo() float64
	SetTempo(bpm float64) error
	Resolution() sequencer.Resolution
	SetResolution(r sequencer.Resolution) error
	Elapsed() time.Duration
	Stats() scheduler.Stats
	Now() float64
	Queue() *notequeue.Queue
}

type frameMsg time.Time

func nextFrame() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

type Model struct {
	Engine Engine
	// Config, when set, receives the last tempo and resolution on quit and
	// is written to ConfigPath (or the default location).
	Config     *config.Config
	ConfigPath string

	renderer *render.Renderer
	surface  *cellSurface
	action   string
	width    int
	err      error
	quitting bool
}

func NewModel(engine Engine, cfg *config.Config) Model {
	surface := newCellSurface()
	return Model{
		Engine:   engine,
		Config:   cfg,
		renderer: render.New(engine.Queue(), engine, surface),
		surface:  surface,
		action:   "play",
	}
}

func (m Model) Init() tea.Cmd {
	return nextFrame()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.err = nil
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			if m.Engine.Playing() {
				m.action = m.Engine.Toggle()
			}
			m.err = m.save()
			return m, tea.Quit

		case " ", "p", "enter":
			m.action = m.Engine.Toggle()

		case "+", "=":
			m.err = m.Engine.SetTempo(m.Engine.Tempo() + tempoStep)

		case "-", "_":
			m.err = m.Engine.SetTempo(m.Engine.Tempo() - tempoStep)

		case "1", "2", "3", "4":
			idx := int(msg.String()[0] - '1')
			m.err = m.Engine.SetResolution(sequencer.Resolutions[idx])
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.renderer.Invalidate()

	case frameMsg:
		m.renderer.Frame()
		return m, nextFrame()
	}
	return m, nil
}

func (m Model) save() error {
	if m.Config == nil {
		return nil
	}
	m.Config.Tempo = m.Engine.Tempo()
	m.Config.Resolution = m.Engine.Resolution()
	if m.ConfigPath != "" {
		return m.Config.SaveFile(m.ConfigPath)
	}
	return m.Config.Save()
}

// Err is the last error caused by a key press, if any.
func (m Model) Err() error { return m.err }

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	state := "STOP"
	if m.Engine.Playing() {
		state = "PLAY"
	}
	header := headerStyle.Render(fmt.Sprintf("clicktrack  %s  %3.0fbpm  %s",
		state, m.Engine.Tempo(), m.Engine.Resolution()))

	stats := m.Engine.Stats()
	elapsed := "0s"
	if d := m.Engine.Elapsed().Truncate(time.Second); d > 0 {
		elapsed = durafmt.Parse(d).LimitFirstN(2).Format(shortUnits)
	}
	status := fmt.Sprintf("elapsed %s  clicks %d", elapsed, stats.Scheduled)
	if stats.Dropped > 0 {
		status += errStyle.Render(fmt.Sprintf("  dropped %d", stats.Dropped))
	}

	help := dimStyle.Render(fmt.Sprintf("space:%s  +/-:tempo  1-4:resolution  q:quit", m.action))

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(m.surface.View(m.width))
	b.WriteString("\n\n")
	b.WriteString(status)
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(help)
	b.WriteString("\n")
	return b.String()
}
