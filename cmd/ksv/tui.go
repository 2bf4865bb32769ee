package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/daviddao/kernelspy_viewer/internal/cellindex"
	"github.com/daviddao/kernelspy_viewer/internal/config"
	"github.com/daviddao/kernelspy_viewer/internal/snapshot"
)

// --- Messages ---

type fileChangedMsg struct{}

type recomposeMsg struct{}

type completionMsg struct {
	c cellindex.Completion
}

type snapshotReadyMsg struct {
	snap *snapshot.DataSnapshot
	err  error
}

type tickMsg struct{}

// --- Key bindings ---

type keyMap struct {
	Quit    key.Binding
	Tab     key.Binding
	Refresh key.Binding
	Up      key.Binding
	Down    key.Binding
	Top     key.Binding
	Bottom  key.Binding
	Toggle  key.Binding
	Help    key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Tab:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next view")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("k/up", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("j/down", "down")),
	Top:     key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g", "top")),
	Bottom:  key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G", "bottom")),
	Toggle:  key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "collapse/expand")),
	Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
}

// viewKeys maps single keys to views for fast navigation.
var viewKeys = map[string]viewID{
	"t": viewThreads,
	"c": viewCells,
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Toggle, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.Refresh, k.Up, k.Down},
		{k.Top, k.Bottom, k.Toggle, k.Help, k.Quit},
	}
}

// contextHelp returns help text appropriate for the current view.
func contextHelp(v viewID) string {
	switch v {
	case viewThreads:
		return "j/k: select | enter: collapse/expand | t/c: views | tab: next | ?: help | q: quit"
	default:
		return "j/k: select | t/c: views | tab: next | ?: help | q: quit"
	}
}

// --- Views ---

type viewID int

const (
	viewThreads viewID = iota
	viewCells
	viewCount // sentinel
)

func (v viewID) String() string {
	switch v {
	case viewThreads:
		return "Threads"
	case viewCells:
		return "Cells"
	}
	return "?"
}

// display holds the presentation options taken from the config file.
type display struct {
	highlight      bool
	highlightColor string
	rightAligned   bool
}

func displayFromConfig(cfg *config.Config) display {
	return display{
		highlight:      cfg.Highlight.Use,
		highlightColor: cfg.Highlight.Color,
		rightAligned:   cfg.DisplayRightAligned,
	}
}

// --- Model ---

type uiModel struct {
	feed    *feeder
	snap    *snapshot.DataSnapshot
	path    string
	display display

	activeView      viewID
	width           int
	height          int
	cursor          int // selected row of the active view
	refreshInterval time.Duration

	help     help.Model
	showHelp bool

	lastRefresh time.Time
	notice      string // last completion, shown in the status bar
	err         error
}

func newModel(feed *feeder, snap *snapshot.DataSnapshot, path string, d display) uiModel {
	return uiModel{
		feed:        feed,
		snap:        snap,
		path:        path,
		display:     d,
		help:        help.New(),
		lastRefresh: time.Now(),
	}
}

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(
		tickEvery(),
	)
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg{}
	})
}

// rows is the number of selectable rows in the active view.
func (m uiModel) rows() int {
	if m.activeView == viewCells {
		return len(m.snap.Cells)
	}
	return len(m.snap.Nodes)
}

func (m *uiModel) clampCursor() {
	if n := m.rows(); m.cursor >= n {
		m.cursor = max(0, n-1)
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if v, ok := viewKeys[msg.String()]; ok {
			if v != m.activeView {
				m.activeView = v
				m.cursor = 0
			}
			return m, nil
		}

		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Tab):
			m.activeView = (m.activeView + 1) % viewCount
			m.cursor = 0

		case key.Matches(msg, keys.Refresh):
			return m, m.refreshSnapshot()

		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}

		case key.Matches(msg, keys.Down):
			if m.cursor < m.rows()-1 {
				m.cursor++
			}

		case key.Matches(msg, keys.Top):
			m.cursor = 0

		case key.Matches(msg, keys.Bottom):
			m.cursor = max(0, m.rows()-1)

		case key.Matches(msg, keys.Toggle):
			if m.activeView == viewThreads && m.cursor < len(m.snap.Nodes) {
				n := m.snap.Nodes[m.cursor]
				if n.HasChildren && m.feed != nil {
					m.feed.sess.ToggleCollapse(n.Message.ID)
					return m, m.refreshSnapshot()
				}
			}

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case fileChangedMsg:
		return m, m.refreshSnapshot()

	case recomposeMsg:
		if m.feed != nil {
			m.feed.sess.Recompose()
		}
		return m, m.refreshSnapshot()

	case completionMsg:
		m.notice = fmt.Sprintf("cell %s finished %s", truncate(msg.c.CellID, 12), msg.c.Timestamp.Local().Format("15:04:05"))
		return m, m.refreshSnapshot()

	case snapshotReadyMsg:
		if msg.err != nil {
			m.err = msg.err
			break
		}
		if msg.snap != nil {
			m.snap = msg.snap
			m.err = nil
			m.lastRefresh = time.Now()
			// Rows can disappear between snapshots (collapse, restart).
			m.clampCursor()
		}

	case tickMsg:
		return m, tickEvery()
	}

	return m, nil
}

func (m uiModel) refreshSnapshot() tea.Cmd {
	feed := m.feed
	if feed == nil {
		return nil
	}
	return func() tea.Msg {
		if _, err := feed.Pull(); err != nil {
			return snapshotReadyMsg{err: err}
		}
		snap, err := snapshot.Build(feed.sess)
		return snapshotReadyMsg{snap: snap, err: err}
	}
}

// --- Styles ---

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1E1E2E")).
			Padding(0, 1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#6C7086")).
				Background(lipgloss.Color("#313244")).
				Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#313244"))

	shellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#89B4FA")).
			Bold(true)

	iopubStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1"))

	controlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAB387"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9E2AF")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#1E1E2E"))
)

// --- View rendering ---

func (m uiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(m.renderTitleBar())
	b.WriteRune('\n')

	b.WriteString(m.renderTabBar())
	b.WriteRune('\n')
	b.WriteRune('\n')

	contentHeight := m.height - 5 // title + tabs + status + padding
	if m.showHelp {
		contentHeight -= 3
	}

	var list, detail string
	var cursorLine int
	switch m.activeView {
	case viewThreads:
		list, cursorLine = m.renderThreads()
		if m.cursor < len(m.snap.Nodes) {
			detail = m.renderMessageDetail(m.snap.Nodes[m.cursor])
		}
	case viewCells:
		list, cursorLine = m.renderCells()
		if m.cursor < len(m.snap.Cells) {
			detail = m.renderCellDetail(m.snap.Cells[m.cursor])
		}
	}
	list = scrollTo(list, cursorLine, contentHeight)

	var content string
	// Split-pane: list left, selection detail right on wide terminals.
	if m.width >= 120 && detail != "" {
		leftWidth := m.width/2 - 1
		rightWidth := m.width - leftWidth - 3 // 3 for separator
		right := strings.Join(wrapLines(detail, rightWidth), "\n")
		content = renderSplitPane(list, right, leftWidth, rightWidth, contentHeight)
	} else {
		content = list
	}

	// Truncate each line to terminal width so content doesn't wrap
	// on resize. Uses ANSI-aware width measurement.
	content = truncateLines(content, m.width)

	b.WriteString(content)

	// Pad to fill screen.
	rendered := strings.Count(b.String(), "\n")
	for rendered < m.height-2 {
		b.WriteRune('\n')
		rendered++
	}

	if m.showHelp {
		b.WriteString(m.help.View(keys))
	} else {
		b.WriteString(m.renderStatusBar())
	}

	return b.String()
}

// scrollTo keeps the line at cursorLine inside a window of height lines.
// View is a value receiver, so the offset is derived rather than stored.
func scrollTo(content string, cursorLine, height int) string {
	lines := strings.Split(content, "\n")
	if height <= 0 {
		return content
	}
	offset := 0
	if cursorLine >= height {
		offset = cursorLine - height + 1
	}
	if offset > len(lines)-1 {
		offset = max(0, len(lines)-1)
	}
	lines = lines[offset:]
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func (m uiModel) renderTitleBar() string {
	title := titleStyle.Render("kernelspy viewer")
	stats := dimStyle.Render(fmt.Sprintf(
		"%d messages | %d threads | %d running | %d done",
		m.snap.TotalMessages,
		m.snap.Threads,
		m.snap.RunningCells,
		m.snap.DoneCells,
	))
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(title)-lipgloss.Width(stats)-2))
	return title + gap + stats
}

func (m uiModel) renderTabBar() string {
	var tabs []string
	for i := viewID(0); i < viewCount; i++ {
		if i == m.activeView {
			tabs = append(tabs, tabActiveStyle.Render(i.String()))
		} else {
			tabs = append(tabs, tabInactiveStyle.Render(i.String()))
		}
	}
	return strings.Join(tabs, " ")
}

func (m uiModel) renderStatusBar() string {
	left := fmt.Sprintf(" %s", contextHelp(m.activeView))
	var right string
	switch {
	case m.err != nil:
		right = fmt.Sprintf("error: %v ", m.err)
	case m.notice != "":
		right = m.notice + " "
	default:
		ago := time.Since(m.lastRefresh).Truncate(time.Second)
		right = fmt.Sprintf("refreshed %s ago ", ago)
	}
	// The right side wins on narrow terminals.
	if avail := m.width - len(right); len(left) > avail {
		left = left[:max(0, avail)]
	}
	gap := strings.Repeat(" ", max(0, m.width-len(left)-len(right)))
	return statusBarStyle.Render(left + gap + right)
}
