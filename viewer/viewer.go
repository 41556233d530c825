package viewer

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/ramparthq/rampart/database"
	"github.com/ramparthq/rampart/scoring"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var DebugMode bool
var mainStyle = lipgloss.NewStyle().Margin(0, 0)

const (
	defaultFetchLimit  = 500
	threatHistoryLimit = 5
	queryTimeout       = 15 * time.Second
)

// Store is the slice of the database the viewer reads from.
type Store interface {
	TopFingerprints(ctx context.Context, limit int) ([]database.Fingerprint, error)
	ActiveBans(ctx context.Context) ([]database.BanRecord, error)
	RecentThreats(ctx context.Context, address string, limit int) ([]database.ThreatEvent, error)
}

type tab int

const (
	tabFingerprints tab = iota
	tabBans
	tabCount
)

func (t tab) String() string {
	switch t {
	case tabFingerprints:
		return "Fingerprints"
	case tabBans:
		return "Active Bans"
	}
	return ""
}

type Model struct {
	store  Store
	risk   func(score int32) scoring.RiskLevel
	limit  int
	title  string
	active tab

	Lists   [tabCount]listModel
	SideBar sidebarModel
	Footer  footerModel

	keys     keyMap
	ViewHelp bool
}

type keyMap struct {
	base         list.KeyMap
	switchTab    key.Binding
	refresh      key.Binding
	toggleScroll key.Binding
	quit         key.Binding
}

type column struct {
	name  string
	width int
}

// refreshedMsg carries a fresh snapshot of both panels.
type refreshedMsg struct {
	fingerprints []list.Item
	bans         []list.Item
	err          error
}

// threatsMsg carries the threat history for the fingerprint under the cursor.
type threatsMsg struct {
	address string
	threats []database.ThreatEvent
	err     error
}

type StillLoadingResults string

// CreateUI creates the terminal UI
func CreateUI(store Store, risk func(score int32) scoring.RiskLevel, limit int) error {
	// create model
	m, err := NewModel(store, risk, limit)
	if err != nil {
		return err
	}

	// create program
	p := tea.NewProgram(m, tea.WithAltScreen())

	// run the program
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}

	return nil
}

func NewModel(store Store, risk func(score int32) scoring.RiskLevel, limit int) (*Model, error) {
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	m := &Model{store: store, risk: risk, limit: limit}

	// get initial results from the database
	snapshot, err := m.fetch()
	if err != nil {
		return nil, err
	}

	// set table size
	width := getTableWidth(fingerprintColumns)
	height := 20

	// create one list per panel
	m.Lists[tabFingerprints] = MakeList(snapshot.fingerprints, fingerprintColumns, width, height)
	m.Lists[tabBans] = MakeList(snapshot.bans, banColumns, getTableWidth(banColumns), height)

	// create side bar
	m.SideBar = NewSidebarModel()

	// create footer
	m.Footer = NewFooterModel()

	// initialize model components
	m.Init()
	m.applyRefresh(snapshot)

	// load the threat history for the initially selected fingerprint
	if item, ok := m.selectedFingerprint(); ok {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		threats, err := store.RecentThreats(ctx, item.fp.IPAddress, threatHistoryLimit)
		if err != nil {
			return nil, err
		}
		m.SideBar.SetThreats(item.fp.IPAddress, threats)
	}

	// initialize sidebar
	m.SideBar.Init()

	// create terminal ui model
	return m, nil
}

func (m *Model) Init() tea.Cmd {

	// set title
	m.title = getTitle()

	// set key bindings
	m.keys.base = list.DefaultKeyMap()
	m.keys.switchTab = key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "switch panel"),
	)

	m.keys.refresh = key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	)

	m.keys.toggleScroll = key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "toggle sidebar scrolling"),
	)

	m.keys.quit = key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q | ctrl+c", "quit"),
	)

	return m.Footer.spinner.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {

	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// make the footer the entire width of the terminal
		m.Footer.width = msg.Width

		// make the lists fill the extra vertical space
		height := msg.Height - int(math.Max(float64(lipgloss.Height(m.tabBar())), float64(lipgloss.Height(m.title)))) - 1
		for i := range m.Lists {
			m.Lists[i].SetHeight(height)
		}

		// make the sidebar the same height as the list
		m.SideBar.Viewport.Height = m.currentList().totalHeight

		// make sidebar fill the extra horizontal space
		m.SideBar.Viewport.Width = msg.Width - lipgloss.Width(m.currentList().View()) - 4

	case tea.KeyMsg:
		switch {
		// toggle help
		case key.Matches(msg, m.keys.base.ShowFullHelp):
			m.ViewHelp = !m.ViewHelp

		// switch between the fingerprints and bans panels
		case key.Matches(msg, m.keys.switchTab):
			m.active = (m.active + 1) % tabCount

		// reload both panels
		case key.Matches(msg, m.keys.refresh):
			if !m.Footer.loading {
				m.Footer.loading = true
				cmd = tea.Batch(m.Footer.spinner.Tick, m.refreshCmd())
			} else {
				// trigger the footer to flash if the user
				// keeps mashing refresh while the results are still loading
				cmd = func() tea.Msg {
					return StillLoadingResults("refresh")
				}
			}

		// toggle sidebar scrolling
		case key.Matches(msg, m.keys.toggleScroll):
			m.SideBar.ScrollEnabled = !m.SideBar.ScrollEnabled

		// handle quiting
		case key.Matches(msg, m.keys.quit):
			cmd = tea.Quit

		// otherwise, handle browsing
		default:
			cmd = m.handleBrowsing(msg)
		}

	case refreshedMsg:
		cmd = m.applyRefresh(msg)

	case threatsMsg:
		if msg.err != nil {
			m.Footer.ErrMsg = "Error fetching threat history: " + msg.err.Error()
		} else {
			m.SideBar.SetThreats(msg.address, msg.threats)
		}

	case StillLoadingResults, FooterFlash:
		_, cmd = m.Footer.Update(msg)

	case spinner.TickMsg:
		m.Footer.spinner, cmd = m.Footer.spinner.Update(msg)
	}

	// keep the sidebar on the selected row
	syncCmd := m.syncSidebar()

	return m, tea.Batch(cmd, syncCmd)
}

// View renders the model to the terminal
func (m *Model) View() string {

	var mainContent string
	if m.ViewHelp {
		mainContent = helpPanel(m.SideBar.Viewport.Height, m.currentList().width, mainHelpText())
	} else {
		mainContent = lipgloss.JoinHorizontal(
			lipgloss.Left,
			mainStyle.Render(m.currentList().View()),
			mainStyle.Render(m.SideBar.View()),
		)
	}

	// join and render header, tab bar, main view, and footer
	return lipgloss.JoinVertical(lipgloss.Top,
		lipgloss.JoinHorizontal(lipgloss.Left, mainStyle.Render(m.tabBar()), m.title),
		mainContent,
		m.Footer.View(),
	)
}

func (m *Model) currentList() *listModel {
	return &m.Lists[m.active]
}

func (m *Model) selectedFingerprint() (fingerprintItem, bool) {
	items := m.Lists[tabFingerprints].Rows.Items()
	index := m.Lists[tabFingerprints].Rows.Index()
	if len(items) == 0 || index >= len(items) {
		return fingerprintItem{}, false
	}
	item, ok := items[index].(fingerprintItem)
	return item, ok
}

// fetch queries the store for a fresh snapshot of both panels.
func (m *Model) fetch() (refreshedMsg, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	fingerprints, err := m.store.TopFingerprints(ctx, m.limit)
	if err != nil {
		return refreshedMsg{}, err
	}
	bans, err := m.store.ActiveBans(ctx)
	if err != nil {
		return refreshedMsg{}, err
	}

	fpItems := make([]list.Item, 0, len(fingerprints))
	for _, fp := range fingerprints {
		fpItems = append(fpItems, fingerprintItem{fp: fp, risk: m.risk(fp.ThreatScore)})
	}
	banItems := make([]list.Item, 0, len(bans))
	for _, ban := range bans {
		banItems = append(banItems, banItem{ban: ban})
	}

	return refreshedMsg{fingerprints: fpItems, bans: banItems}, nil
}

func (m *Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		snapshot, err := m.fetch()
		if err != nil {
			return refreshedMsg{err: err}
		}
		return snapshot
	}
}

func (m *Model) loadThreatsCmd(address string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()

		threats, err := m.store.RecentThreats(ctx, address, threatHistoryLimit)
		if err != nil {
			return threatsMsg{address: address, err: err}
		}
		return threatsMsg{address: address, threats: threats}
	}
}

// applyRefresh replaces the rows of both panels and updates the footer counts.
func (m *Model) applyRefresh(msg refreshedMsg) tea.Cmd {
	m.Footer.loading = false
	if msg.err != nil {
		m.Footer.ErrMsg = "Error fetching results: " + msg.err.Error()
		return nil
	}
	m.Footer.ErrMsg = ""

	m.Lists[tabFingerprints].Rows.SetItems(msg.fingerprints)
	m.Lists[tabBans].Rows.SetItems(msg.bans)

	p := message.NewPrinter(language.English)
	m.Footer.counts = p.Sprintf("%d fingerprints %s %d active bans", len(msg.fingerprints), bullet, len(msg.bans))

	return m.syncSidebar()
}

// syncSidebar points the sidebar at the selected row. It returns a command
// to load the threat history when the cursor lands on a new fingerprint.
func (m *Model) syncSidebar() tea.Cmd {
	active := m.currentList()
	items := active.Rows.Items()

	// verify that there are items to display
	if len(items) == 0 {
		m.SideBar.SetEmpty()
		return nil
	}

	// adjust index to the last item if out of range
	if active.Rows.Index() >= len(items) {
		active.Rows.Select(len(items) - 1)
	}

	// adjust cursor to the last item on the page if out of range
	if active.Rows.Cursor() >= active.Rows.Paginator.ItemsOnPage(len(items)) {
		index := (active.Rows.Paginator.Page * active.Rows.Paginator.PerPage) + active.Rows.Paginator.ItemsOnPage(len(items)) - 1
		active.Rows.Select(index)
	}

	switch item := items[active.Rows.Index()].(type) {
	case fingerprintItem:
		m.SideBar.SetFingerprint(item)
		if m.SideBar.threatsFor != item.fp.IPAddress {
			m.SideBar.BeginThreatLoad(item.fp.IPAddress)
			return m.loadThreatsCmd(item.fp.IPAddress)
		}
	case banItem:
		m.SideBar.SetBan(item)
	}

	return nil
}

// handleBrowsing handles key presses on the active list
func (m *Model) handleBrowsing(msg tea.KeyMsg) tea.Cmd {
	var cmd tea.Cmd
	// if sidebar scrolling is enabled, pass key events through to the sidebar and
	// ignore them for all other components
	if m.SideBar.ScrollEnabled {
		m.SideBar.Viewport, cmd = m.SideBar.Viewport.Update(msg)
		return cmd
	}

	rows := &m.currentList().Rows
	switch {
	// go to the previous row
	case key.Matches(msg, m.keys.base.CursorUp):
		rows.CursorUp()

	// go to the next row
	case key.Matches(msg, m.keys.base.CursorDown):
		rows.CursorDown()

	// go to the previous page
	case key.Matches(msg, m.keys.base.PrevPage):
		rows.Paginator.PrevPage()

	// go to the next page
	case key.Matches(msg, m.keys.base.NextPage):
		rows.Paginator.NextPage()

		// set selected row to the last item on the page if keeping the cursor on the same row
		// as the previous page would result in the cursor being out of bounds
		if rows.Cursor() >= rows.Paginator.ItemsOnPage(len(rows.Items())) {
			index := (rows.Paginator.Page * rows.Paginator.PerPage) + rows.Paginator.ItemsOnPage(len(rows.Items())) - 1
			rows.Select(index)
		}

	// go to the first page
	case key.Matches(msg, m.keys.base.GoToStart):
		rows.Paginator.Page = 0

	// go to the last page
	case key.Matches(msg, m.keys.base.GoToEnd):
		rows.Paginator.Page = rows.Paginator.TotalPages - 1

		// set selected row to the last item on the page if keeping the cursor on the same row
		// as the previous page would result in the cursor being out of bounds
		if rows.Cursor() >= rows.Paginator.ItemsOnPage(len(rows.Items())) {
			rows.Select(len(rows.Items()) - 1)
		}
	}
	return cmd
}

// tabBar renders the panel switcher above the list.
func (m *Model) tabBar() string {
	activeStyle := lipgloss.NewStyle().Padding(0, 2).Margin(1, 1, 0, 0).Background(lavender).Foreground(base).Bold(true)
	inactiveStyle := lipgloss.NewStyle().Padding(0, 2).Margin(1, 1, 0, 0).Background(surface0).Foreground(subtext0)

	tabs := make([]string, 0, tabCount)
	for t := tab(0); t < tabCount; t++ {
		style := inactiveStyle
		if t == m.active {
			style = activeStyle
		}
		tabs = append(tabs, style.Render(t.String()))
	}

	return lipgloss.NewStyle().MarginLeft(2).Render(lipgloss.JoinHorizontal(lipgloss.Left, tabs...))
}

// getTitle returns the title of the application
func getTitle() string {
	return mainStyle.
		MarginLeft(1).MarginTop(1).
		// DO NOT INDENT THE FOLLOWING CODE BLOCK!
		Render(`
░█▀▀█ ─█▀▀█ ░█▀▄▀█ ░█▀▀█ ─█▀▀█ ░█▀▀█ ▀▀█▀▀
░█▄▄▀ ░█▄▄█ ░█░█░█ ░█▄▄█ ░█▄▄█ ░█▄▄▀ ─░█──
░█─░█ ░█─░█ ░█──█ ░█─── ░█─░█ ░█─░█ ─░█── adaptive firewall
`)

}

// mainHelpText returns the help text for the main program
func mainHelpText() string {
	helpStyle := lipgloss.NewStyle().Foreground(overlay2)
	subduedHelpStyle := lipgloss.NewStyle().Foreground(surface0)
	sectionStyle := lipgloss.NewStyle().Foreground(lavender).Bold(true)
	subSectionStyle := lipgloss.NewStyle().Foreground(subtext0)
	helpText := lipgloss.JoinVertical(lipgloss.Top,
		sectionStyle.Render("Navigation"),
		"",
		subSectionStyle.Render("Table"),
	)

	helpText = lipgloss.JoinVertical(lipgloss.Top, helpText, helpStyle.Render(
		helpStyle.Render("↑/k"), subduedHelpStyle.Render("previous row"),
		subduedHelpStyle.Render(bullet),
		helpStyle.Render("↓/j"), subduedHelpStyle.Render("next row")))
	helpText = lipgloss.JoinVertical(lipgloss.Top, helpText, helpStyle.Render(
		helpStyle.Render("←/h"), subduedHelpStyle.Render("previous page"),
		subduedHelpStyle.Render(bullet),
		helpStyle.Render("→/l"), subduedHelpStyle.Render("next page")),
	)
	helpText = lipgloss.JoinVertical(lipgloss.Top, helpText, helpStyle.Render(
		helpStyle.Render("tab"), subduedHelpStyle.Render("switch panel")))

	helpText += subSectionStyle.Render("\n\nSidefeed")
	helpText = lipgloss.JoinVertical(lipgloss.Top, helpText, helpStyle.Render(
		helpStyle.Render("s"), subduedHelpStyle.Render("toggle scrolling")))
	helpText = lipgloss.JoinVertical(lipgloss.Top, helpText, helpStyle.Render(
		helpStyle.Render("↑/k"), subduedHelpStyle.Render("scroll up"),
		subduedHelpStyle.Render(bullet),
		helpStyle.Render("↓/j"), subduedHelpStyle.Render("scroll down")))
	pgDownSidebar := "pgdn/f"
	pgUpSidebar := "pgup/b"
	if runtime.GOOS == "darwin" {
		pgDownSidebar = "fn+↓"
		pgUpSidebar = "fn+↑"
	}
	helpText = lipgloss.JoinVertical(lipgloss.Top, helpText, helpStyle.Render(
		helpStyle.Render(pgDownSidebar), subduedHelpStyle.Render("page down"),
		subduedHelpStyle.Render(bullet),
		helpStyle.Render(pgUpSidebar), subduedHelpStyle.Render("page up")))

	helpText = lipgloss.JoinVertical(lipgloss.Top, helpText,
		sectionStyle.Render("\n\nShortcuts"))

	helpText = lipgloss.JoinVertical(lipgloss.Top, helpText, helpStyle.Render(
		helpStyle.Render("r"), subduedHelpStyle.Render("refresh"),
		subduedHelpStyle.Render(bullet),
		helpStyle.Render("?"), subduedHelpStyle.Render("toggle help")),
	)

	helpText = lipgloss.JoinVertical(lipgloss.Top, helpText, helpStyle.Render(
		helpStyle.Render("q/ctrl+c"), subduedHelpStyle.Render("quit"),
	))

	return lipgloss.NewStyle().Margin(1, 0, 0, 2).Render(helpText)

}

func helpPanel(height int, width int, contents string) string {
	return mainStyle.Height(height).Width(width).
		Border(lipgloss.RoundedBorder()).BorderForeground(surface0).
		Render(contents)
}

func getTableWidth(columns []column) int {
	width := 0
	for _, column := range columns {
		width += column.width
	}

	return width
}
