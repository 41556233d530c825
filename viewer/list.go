package viewer

import (
	"fmt"
	"io"
	"strconv"

	"github.com/ramparthq/rampart/config"
	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/scoring"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// colors
var (
	defaultTextColor = lipgloss.AdaptiveColor{Light: "#2c2b2f", Dark: "#d3cdd4"}
	subduedTextColor = lipgloss.AdaptiveColor{Light: "#454545", Dark: "#A49FA5"}

	// catpuccin theme colors
	red      = lipgloss.AdaptiveColor{Light: "#D2042D", Dark: "#f38ba8"}
	peach    = lipgloss.AdaptiveColor{Light: "#fe640b", Dark: "#fab387"}
	yellow   = lipgloss.AdaptiveColor{Light: "#df8e1d", Dark: "#f9e2af"}
	lavender = lipgloss.AdaptiveColor{Light: "#7287fd", Dark: "#b4befe"}
	mauve    = lipgloss.AdaptiveColor{Light: "#8839ef", Dark: "#cba6f7"}
	sapphire = lipgloss.AdaptiveColor{Light: "#209fb5", Dark: "#74c7ec"}
	green    = lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"}
	pink     = lipgloss.AdaptiveColor{Light: "#ea76cb", Dark: "#f5c2e7"}

	overlay0 = lipgloss.AdaptiveColor{Light: "#9ca0b0", Dark: "#6c7086"}
	surface0 = lipgloss.AdaptiveColor{Light: "#ccd0da", Dark: "#313244"}
	base     = lipgloss.AdaptiveColor{Light: "#eff1f5", Dark: "#1e1e2e"}
	overlay2 = lipgloss.AdaptiveColor{Light: "#7c7f93", Dark: "#9399b2"}

	subtext0 = lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#a6adc8"}
)

// styles
var (
	listStyle       = lipgloss.NewStyle().Margin(0, 0)
	listHeaderStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, true, false).BorderForeground(lavender).Foreground(subduedTextColor).MarginBottom(1)
)

const (
	bullet   = "•"
	ellipsis = "…"
)

// the two column sets share a total width so that switching panels does not
// resize the sidebar
var (
	fingerprintColumns = []column{
		{"Risk", 14},
		{"Address", 20},
		{"Score", 9},
		{"Requests", 12},
		{"Last Seen", 19},
		{"User Agent", 32},
	}

	banColumns = []column{
		{"Address", 20},
		{"Reason", 40},
		{"Banned At", 19},
		{"Expires", 19},
		{"Count", 8},
	}
)

// fingerprintItem is one row of the fingerprints panel.
type fingerprintItem struct {
	fp   database.Fingerprint
	risk scoring.RiskLevel
}

func (i fingerprintItem) FilterValue() string { return i.fp.IPAddress + " " + i.fp.UserAgent }

// banItem is one row of the active bans panel.
type banItem struct {
	ban database.BanRecord
}

func (i banItem) FilterValue() string { return i.ban.IPAddress + " " + i.ban.Reason }

type listModel struct {
	Rows        list.Model
	width       int
	totalHeight int
	columns     []column
}

func MakeList(items []list.Item, columns []column, width int, height int) listModel {
	d := listDelegate{delegate: list.NewDefaultDelegate(), columns: columns}

	l := list.New(items, d, width, height)

	l.SetShowStatusBar(false)
	l.SetShowTitle(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	return listModel{
		Rows:    l,
		columns: columns,
		width:   width,
	}
}

func (m *listModel) Init() tea.Cmd {
	return nil
}

func (m *listModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {

	// handle window resize
	if _, ok := msg.(tea.WindowSizeMsg); ok {
		_, v := listStyle.GetFrameSize()
		m.Rows.SetSize(m.width, m.Rows.Height()-v)
	}

	var cmd tea.Cmd

	m.Rows, cmd = m.Rows.Update(msg)
	return m, cmd
}

func (m *listModel) SetHeight(height int) {
	_, v := listStyle.GetFrameSize()
	header := lipgloss.Height(renderColumnHeader(m.columns, m.width))
	h := (height - header - v)
	m.totalHeight = header + v + h
	m.Rows.SetSize(m.width, h)
	m.Rows.SetHeight(h)
}

func (m *listModel) View() string {

	header := renderColumnHeader(m.columns, m.width)

	return listStyle.
		Border(lipgloss.RoundedBorder(), true, false, true, true).
		BorderForeground(lavender).
		Render(lipgloss.JoinVertical(lipgloss.Top, header, m.Rows.View()))
}

type listDelegate struct {
	delegate list.DefaultDelegate
	columns  []column
}

func (d listDelegate) Height() int                             { return 2 }   //nolint:gocritic // bubbletea requires these to not be pointer methods
func (d listDelegate) Spacing() int                            { return 1 }   //nolint:gocritic // bubbletea requires these to not be pointer methods
func (d listDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil } //nolint:gocritic // bubbletea requires these to not be pointer methods
func (d listDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) { //nolint:gocritic // bubbletea requires these to not be pointer methods

	if m.Width() <= 0 {
		// short-circuit
		return
	}

	// conditions
	var (
		isSelected = index == m.Index()
	)

	// set up the style for the row, giving each cell a right padding of 3 to keep them from running together
	style := lipgloss.NewStyle().PaddingRight(3)

	// set the background color of the row if it is selected
	if isSelected {
		style = style.Background(surface0).Bold(true)
	}

	var row string
	switch item := listItem.(type) {
	case fingerprintItem:
		row = d.renderFingerprintRow(item, style)
	case banItem:
		row = d.renderBanRow(item, style)
	default:
		return
	}

	fmt.Fprintf(w, "%s", row)
}

func (d listDelegate) renderFingerprintRow(item fingerprintItem, style lipgloss.Style) string { //nolint:gocritic // bubbletea requires these to not be pointer methods
	// set up language specific printer
	p := message.NewPrinter(language.English)

	// get risk level
	riskStyle := style.PaddingLeft(2).Width(d.columns[0].width)
	riskTitle := riskStyle.Render(renderRisk(item.risk, Truncate(string(item.risk), &riskStyle)))

	// get address
	addrStyle := style.Foreground(defaultTextColor).Width(d.columns[1].width)
	addrTitle := addrStyle.Render(Truncate(item.fp.IPAddress, &addrStyle))

	// get threat score, colored the same as the risk bucket it falls in
	scoreStyle := style.Width(d.columns[2].width)
	scoreTitle := scoreStyle.Render(renderRisk(item.risk, strconv.Itoa(int(item.fp.ThreatScore))))

	// get request count
	visitsStyle := style.Width(d.columns[3].width)
	visitsTitle := visitsStyle.Render(p.Sprint(item.fp.VisitCount))

	// get last seen timestamp
	lastSeenStyle := style.Foreground(subduedTextColor).Width(d.columns[4].width)
	lastSeenTitle := lastSeenStyle.Render(item.fp.LastSeen.UTC().Format("2006-01-02 15:04"))

	// get user agent
	agentStyle := style.Foreground(subduedTextColor).Width(d.columns[5].width)
	agentTitle := agentStyle.Render(Truncate(item.fp.UserAgent, &agentStyle))

	// render the full row
	return lipgloss.JoinHorizontal(lipgloss.Left, riskTitle, addrTitle, scoreTitle, visitsTitle, lastSeenTitle, agentTitle)
}

func (d listDelegate) renderBanRow(item banItem, style lipgloss.Style) string { //nolint:gocritic // bubbletea requires these to not be pointer methods
	// get address
	addrStyle := style.PaddingLeft(2).Foreground(defaultTextColor).Width(d.columns[0].width)
	addrTitle := addrStyle.Render(Truncate(item.ban.IPAddress, &addrStyle))

	// get ban reason
	reasonStyle := style.Foreground(subduedTextColor).Width(d.columns[1].width)
	reasonTitle := reasonStyle.Render(Truncate(item.ban.Reason, &reasonStyle))

	// get banned at timestamp
	bannedAtStyle := style.Width(d.columns[2].width)
	bannedAtTitle := bannedAtStyle.Render(item.ban.BannedAt.UTC().Format("2006-01-02 15:04"))

	// get expiry, permanent bans render in red
	expiresStyle := style.Width(d.columns[3].width)
	var expiresTitle string
	if item.ban.IsPermanent || item.ban.BanUntil == nil {
		expiresTitle = expiresStyle.Render(lipgloss.NewStyle().Foreground(red).Render("permanent"))
	} else {
		expiresTitle = expiresStyle.Render(item.ban.BanUntil.UTC().Format("2006-01-02 15:04"))
	}

	// get ban count
	countStyle := style.Width(d.columns[4].width)
	countTitle := countStyle.Render(strconv.Itoa(int(item.ban.BanCount)))

	// render the full row
	return lipgloss.JoinHorizontal(lipgloss.Left, addrTitle, reasonTitle, bannedAtTitle, expiresTitle, countTitle)
}

func Truncate(str string, style *lipgloss.Style) string {
	// Prevent text from exceeding list width
	textwidth := uint(style.GetWidth() - style.GetPaddingLeft() - style.GetPaddingRight())
	return truncate.StringWithTail(str, textwidth, ellipsis)
}

func renderRisk(risk scoring.RiskLevel, displayText string) string {
	style := lipgloss.NewStyle()

	switch risk {
	case scoring.RiskCritical:
		return style.Foreground(red).Render(displayText)
	case scoring.RiskHigh:
		return style.Foreground(peach).Render(displayText)
	case scoring.RiskMedium:
		return style.Foreground(yellow).Render(displayText)
	case scoring.RiskLow:
		return style.Foreground(sapphire).Render(displayText)
	}

	return style.Foreground(green).Render(displayText)
}

func renderSeverity(severity config.Severity, displayText string) string {
	style := lipgloss.NewStyle()

	switch severity {
	case config.CriticalSeverity:
		return style.Foreground(red).Render(displayText)
	case config.HighSeverity:
		return style.Foreground(peach).Render(displayText)
	case config.MediumSeverity:
		return style.Foreground(yellow).Render(displayText)
	case config.LowSeverity:
		return style.Foreground(sapphire).Render(displayText)
	}

	return style.Foreground(defaultTextColor).Render(displayText)
}

func renderColumnHeader(columns []column, headerWidth int) string {
	var header string
	columnStyle := lipgloss.NewStyle().Foreground(defaultTextColor)

	for i, c := range columns {
		// set the width of the column, subtracting off the column border
		width := c.width - 3

		// the fist column must start with a margin,
		if i == 0 {
			width -= 2 // subtract off the margin
			header += columnStyle.MarginLeft(2).Width(width).Render(c.name)
		} else {
			header += columnStyle.Width(width).Render(c.name)
		}

		// add a column border if not the last column
		if i < len(columns)-1 {
			header += columnStyle.Foreground(surface0).Render(" | ")
		}
	}

	return listHeaderStyle.Width(headerWidth).Render(header)
}
