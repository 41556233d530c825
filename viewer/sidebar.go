package viewer

import (
	"strconv"

	"github.com/ramparthq/rampart/database"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var sideBarStyle = lipgloss.NewStyle()

const sidebarTimeFormat = "2006-01-02 15:04:05 MST"

type sidebarModel struct {
	Viewport      viewport.Model
	ScrollEnabled bool

	fingerprint *fingerprintItem
	ban         *banItem

	// threat history for the fingerprint under the cursor
	threats       []database.ThreatEvent
	threatsFor    string
	threatsLoaded bool
}

func NewSidebarModel() sidebarModel {
	return sidebarModel{Viewport: viewport.Model{}}
}

func (m *sidebarModel) Init() tea.Cmd {
	m.Viewport.SetContent(m.getSidebarContents())
	return nil
}

func (m *sidebarModel) SetFingerprint(item fingerprintItem) {
	m.fingerprint = &item
	m.ban = nil
}

func (m *sidebarModel) SetBan(item banItem) {
	m.ban = &item
	m.fingerprint = nil
}

func (m *sidebarModel) SetEmpty() {
	m.fingerprint = nil
	m.ban = nil
	m.threats = nil
	m.threatsFor = ""
	m.threatsLoaded = false
}

// BeginThreatLoad marks the address whose history is being fetched so that
// replies for rows the cursor has already left are dropped.
func (m *sidebarModel) BeginThreatLoad(address string) {
	m.threatsFor = address
	m.threats = nil
	m.threatsLoaded = false
}

func (m *sidebarModel) SetThreats(address string, threats []database.ThreatEvent) {
	if address != m.threatsFor {
		return
	}
	m.threats = threats
	m.threatsLoaded = true
}

func (m *sidebarModel) View() string {
	m.Viewport.SetContent(m.getSidebarContents())
	borderColor := mauve
	if m.ScrollEnabled {
		borderColor = green
	}
	style := sideBarStyle.
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor)

	return style.Render(m.Viewport.View())
}

func (m *sidebarModel) getSidebarContents() string {
	switch {
	case m.fingerprint != nil:
		return m.fingerprintContents()
	case m.ban != nil:
		return m.banContents()
	}
	return lipgloss.NewStyle().Foreground(overlay2).Render("No rows to display.")
}

// header renders the banner with the address of the selected row.
func (m *sidebarModel) header(address string) string {
	headerPadding := 2

	headerLabelStyle := lipgloss.NewStyle().Padding(0, headerPadding).Background(overlay0).Foreground(defaultTextColor).Bold(true)
	headerValueStyle := lipgloss.NewStyle().Padding(0, headerPadding).Background(mauve).Foreground(base).Bold(true)

	label := "ADDRESS"
	valueStyle := lipgloss.NewStyle().Width(m.Viewport.Width - len(label) - (headerPadding * 4))

	header := lipgloss.JoinHorizontal(lipgloss.Left, headerLabelStyle.Render(label), headerValueStyle.Render(Truncate(address, &valueStyle)))
	return lipgloss.NewStyle().MarginBottom(1).Render(header)
}

func (m *sidebarModel) sectionLabel(name string) string {
	return lipgloss.NewStyle().
		Foreground(overlay2).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(surface0).
		Width(m.Viewport.Width).
		Render("「 " + name + " 」")
}

func renderStat(label string, value string) string {
	header := lipgloss.NewStyle().Background(overlay2).Foreground(base).Bold(true).Padding(0, 2).Render(label)
	data := lipgloss.NewStyle().Foreground(defaultTextColor).Render(value)
	return lipgloss.NewStyle().MarginBottom(1).Render(lipgloss.JoinVertical(lipgloss.Top, header, data))
}

func (m *sidebarModel) fingerprintContents() string {
	fp := m.fingerprint.fp
	p := message.NewPrinter(language.English)

	heading := m.header(fp.IPAddress)

	identityLabel := m.sectionLabel("Identity")

	// threat score, colored the same as the risk bucket it falls in
	score := renderStat("Threat Score", renderRisk(m.fingerprint.risk, strconv.Itoa(int(fp.ThreatScore))+" ("+string(m.fingerprint.risk)+")"))

	requests := renderStat("Requests", p.Sprint(fp.VisitCount))
	behaviors := renderStat("Behaviors", p.Sprint(fp.BehaviorCount))
	firstSeen := renderStat("First Seen", fp.FirstSeen.UTC().Format(sidebarTimeFormat))
	lastSeen := renderStat("Last Seen", fp.LastSeen.UTC().Format(sidebarTimeFormat))

	hash := renderStat("Fingerprint", shortHash(fp.BaseHash))

	chain := "none"
	if fp.ChainID != nil {
		chain = shortHash(*fp.ChainID)
		if fp.IsChainRoot {
			chain += " (root)"
		}
	}
	chainStat := renderStat("Identity Chain", chain)

	agentStyle := lipgloss.NewStyle().Foreground(subduedTextColor).Width(m.Viewport.Width)
	agent := lipgloss.NewStyle().MarginBottom(1).Render(lipgloss.JoinVertical(lipgloss.Top,
		lipgloss.NewStyle().Background(overlay2).Foreground(base).Bold(true).Padding(0, 2).Render("User Agent"),
		agentStyle.Render(Truncate(fp.UserAgent, &agentStyle)),
	))

	threatsLabel := m.sectionLabel("Recent Threats")
	threats := m.renderThreats()

	// join contents
	return lipgloss.JoinVertical(lipgloss.Top, heading, identityLabel, score, requests, behaviors, firstSeen, lastSeen, hash, chainStat, agent, threatsLabel, threats)
}

func (m *sidebarModel) banContents() string {
	ban := m.ban.ban

	heading := m.header(ban.IPAddress)

	banLabel := m.sectionLabel("Ban")

	reasonStyle := lipgloss.NewStyle().Foreground(defaultTextColor).Width(m.Viewport.Width)
	reason := lipgloss.NewStyle().MarginBottom(1).Render(lipgloss.JoinVertical(lipgloss.Top,
		lipgloss.NewStyle().Background(overlay2).Foreground(base).Bold(true).Padding(0, 2).Render("Reason"),
		reasonStyle.Render(Truncate(ban.Reason, &reasonStyle)),
	))

	bannedAt := renderStat("Banned At", ban.BannedAt.UTC().Format(sidebarTimeFormat))

	expires := lipgloss.NewStyle().Foreground(red).Render("permanent")
	if !ban.IsPermanent && ban.BanUntil != nil {
		expires = ban.BanUntil.UTC().Format(sidebarTimeFormat)
	}
	expiry := renderStat("Expires", expires)

	count := renderStat("Times Banned", strconv.Itoa(int(ban.BanCount)))

	// manual bans carry no originating threat event
	origin := "manual"
	if ban.ThreatEventID != nil {
		origin = shortHash(*ban.ThreatEventID)
	}
	originStat := renderStat("Threat Event", origin)

	// join contents
	return lipgloss.JoinVertical(lipgloss.Top, heading, banLabel, reason, bannedAt, expiry, count, originStat)
}

func (m *sidebarModel) renderThreats() string {
	if m.fingerprint == nil {
		return ""
	}
	if !m.threatsLoaded || m.threatsFor != m.fingerprint.fp.IPAddress {
		return lipgloss.NewStyle().Foreground(overlay2).Render("Loading threat history" + ellipsis)
	}
	if len(m.threats) == 0 {
		return lipgloss.NewStyle().Foreground(overlay2).Render("No threat events recorded.")
	}

	descStyle := lipgloss.NewStyle().Foreground(subduedTextColor).Width(m.Viewport.Width)

	rows := make([]string, 0, len(m.threats))
	for _, event := range m.threats {
		title := lipgloss.JoinHorizontal(lipgloss.Left,
			renderSeverity(event.Severity, event.ThreatType),
			lipgloss.NewStyle().Foreground(overlay2).Render(" "+bullet+" "+event.Timestamp.UTC().Format("2006-01-02 15:04:05")),
		)
		desc := descStyle.Render(Truncate(event.Description, &descStyle))
		rows = append(rows, lipgloss.NewStyle().MarginBottom(1).Render(lipgloss.JoinVertical(lipgloss.Top, title, desc)))
	}

	return lipgloss.JoinVertical(lipgloss.Top, rows...)
}

// shortHash trims content hashes and ids down to a displayable prefix.
func shortHash(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
