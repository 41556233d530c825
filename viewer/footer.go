package viewer

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// flash phases walk the status bar through red → normal → red → pause so a
// refresh that is still loading stays visible without strobing when the
// refresh key is held down.
type flashPhase int

const (
	flashDim flashPhase = iota
	flashBright
	flashHold
	flashDone
)

type FooterFlash flashPhase

type footerModel struct {
	spinner  spinner.Model
	loading  bool
	counts   string
	width    int
	flashRed bool
	flashing bool
	ErrMsg   string
}

func NewFooterModel() footerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(red)
	return footerModel{spinner: s}
}

func (m *footerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func flashAfter(delay time.Duration, next flashPhase) tea.Cmd {
	return tea.Tick(delay, func(_ time.Time) tea.Msg {
		return FooterFlash(next)
	})
}

func (m *footerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StillLoadingResults:
		// a flash already in progress keeps its cadence
		if m.flashing {
			return m, nil
		}
		m.flashing = true
		m.flashRed = true
		return m, flashAfter(100*time.Millisecond, flashDim)
	case FooterFlash:
		switch flashPhase(msg) {
		case flashDim:
			m.flashRed = false
			return m, flashAfter(100*time.Millisecond, flashBright)
		case flashBright:
			m.flashRed = true
			return m, flashAfter(100*time.Millisecond, flashHold)
		case flashHold:
			m.flashRed = false
			// hold before re-arming so the sequence cannot restart on
			// every repeated keypress
			return m, flashAfter(700*time.Millisecond, flashDone)
		case flashDone:
			m.flashing = false
		}
		return m, nil
	case tea.KeyMsg:
		return m, nil
	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m *footerModel) View() string {
	barColor := surface0
	if m.ErrMsg != "" || m.flashRed {
		barColor = pink
	}
	msg := "Loading results"
	if m.ErrMsg != "" {
		msg = m.ErrMsg
	}

	middle := mainStyle.Background(barColor).Foreground(defaultTextColor)
	spinnerWidth := m.width - 11 - 10 - 2 - lipgloss.Width(m.counts) - len(msg) - 1

	bar := mainStyle.Padding(0, 2).Background(lavender).Foreground(base).AlignVertical(lipgloss.Bottom).Bold(true).Render("rampart")
	bar += middle.PaddingLeft(1).Render(m.counts)
	if m.loading {
		bar += middle.Width(spinnerWidth).AlignHorizontal(lipgloss.Right).Render(m.spinner.View())
		bar += middle.PaddingRight(1).Render(msg)
	} else {
		bar += middle.Width(spinnerWidth + len(msg) + 2).Render()
	}
	bar += mainStyle.Background(overlay2).Padding(0, 2).Render("? help")
	return bar
}
