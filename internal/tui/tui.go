// Package tui provides the interactive dashboard: home stats, the revision
// queue and friends, each streamed from its loader.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"codestreak/backend"
	"codestreak/internal/friends"
	"codestreak/internal/home"
	"codestreak/internal/loader"
	"codestreak/internal/revisions"
)

// Feed is a loader the dashboard can start and observe.
type Feed[S any] interface {
	Load(ctx context.Context, opts loader.Options) loader.Snapshot[S]
	Subscribe() (<-chan loader.Snapshot[S], func())
}

// Grader completes a revision.
type Grader interface {
	Complete(ctx context.Context, id string, quality int, mode backend.RevisionMode) (revisions.Snapshot, error)
}

// Sources wires the dashboard to the feature loaders.
type Sources struct {
	Home      Feed[home.State]
	Revisions Feed[revisions.State]
	Friends   Feed[friends.State]
	Grader    Grader
	Mode      backend.RevisionMode
}

// Tab is a dashboard page.
type Tab int

const (
	TabHome Tab = iota
	TabRevisions
	TabFriends
)

var tabNames = []string{"Home", "Revisions", "Friends"}

func (t Tab) String() string {
	if int(t) < len(tabNames) {
		return tabNames[t]
	}
	return "?"
}

// Model is the dashboard state.
type Model struct {
	src    Sources
	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()

	homeCh      <-chan home.Snapshot
	revisionsCh <-chan revisions.Snapshot
	friendsCh   <-chan friends.Snapshot

	home      home.Snapshot
	revisions revisions.Snapshot
	friends   friends.Snapshot

	tab      Tab
	cursor   int
	showHelp bool
	status   string

	spinner spinner.Model
	width   int
	height  int

	tabStyle       lipgloss.Style
	activeTabStyle lipgloss.Style
	paneStyle      lipgloss.Style
	selectedStyle  lipgloss.Style
	dimStyle       lipgloss.Style
	errorStyle     lipgloss.Style
	statusBarStyle lipgloss.Style
}

type homeMsg struct{ snap home.Snapshot }

type revisionsMsg struct{ snap revisions.Snapshot }

type friendsMsg struct{ snap friends.Snapshot }

type gradedMsg struct {
	id      string
	quality int
	err     error
}

// New creates the dashboard. Subscriptions are taken immediately so no
// snapshot published after New is missed.
func New(ctx context.Context, src Sources) *Model {
	if src.Mode == "" {
		src.Mode = backend.ModeNormal
	}
	ctx, cancel := context.WithCancel(ctx)
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		src:     src,
		ctx:     ctx,
		cancel:  cancel,
		spinner: sp,
		tabStyle: lipgloss.NewStyle().
			Padding(0, 2).
			Foreground(lipgloss.Color("245")),
		activeTabStyle: lipgloss.NewStyle().
			Padding(0, 2).
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Underline(true),
		paneStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		selectedStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
		statusBarStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
	}

	var unsub func()
	m.homeCh, unsub = src.Home.Subscribe()
	m.unsubs = append(m.unsubs, unsub)
	m.revisionsCh, unsub = src.Revisions.Subscribe()
	m.unsubs = append(m.unsubs, unsub)
	m.friendsCh, unsub = src.Friends.Subscribe()
	m.unsubs = append(m.unsubs, unsub)
	return m
}

// Init starts a load cycle on every feed and begins listening.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		listen(m.homeCh, func(s home.Snapshot) tea.Msg { return homeMsg{s} }),
		listen(m.revisionsCh, func(s revisions.Snapshot) tea.Msg { return revisionsMsg{s} }),
		listen(m.friendsCh, func(s friends.Snapshot) tea.Msg { return friendsMsg{s} }),
		m.load(TabHome, false),
		m.load(TabRevisions, false),
		m.load(TabFriends, false),
	)
}

// Close releases the subscriptions and cancels outstanding loads.
func (m *Model) Close() {
	m.cancel()
	for _, u := range m.unsubs {
		u()
	}
}

// listen waits for the next snapshot on ch. A closed channel ends listening.
func listen[S any](ch <-chan loader.Snapshot[S], wrap func(loader.Snapshot[S]) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		return wrap(snap)
	}
}

// load runs a cycle; the result arrives through the subscription.
func (m *Model) load(tab Tab, force bool) tea.Cmd {
	opts := loader.Options{ForceRefresh: force}
	ctx := m.ctx
	return func() tea.Msg {
		switch tab {
		case TabHome:
			m.src.Home.Load(ctx, opts)
		case TabRevisions:
			m.src.Revisions.Load(ctx, opts)
		case TabFriends:
			m.src.Friends.Load(ctx, opts)
		}
		return nil
	}
}

func (m *Model) grade(id string, quality int) tea.Cmd {
	if m.src.Grader == nil {
		return nil
	}
	ctx, mode := m.ctx, m.src.Mode
	return func() tea.Msg {
		_, err := m.src.Grader.Complete(ctx, id, quality, mode)
		return gradedMsg{id: id, quality: quality, err: err}
	}
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case homeMsg:
		m.home = msg.snap
		return m, listen(m.homeCh, func(s home.Snapshot) tea.Msg { return homeMsg{s} })

	case revisionsMsg:
		m.revisions = msg.snap
		if n := len(m.queue()); m.cursor >= n {
			m.cursor = max(n-1, 0)
		}
		return m, listen(m.revisionsCh, func(s revisions.Snapshot) tea.Msg { return revisionsMsg{s} })

	case friendsMsg:
		m.friends = msg.snap
		return m, listen(m.friendsCh, func(s friends.Snapshot) tea.Msg { return friendsMsg{s} })

	case gradedMsg:
		if msg.err != nil {
			m.status = "Error: " + firstLine(msg.err.Error())
			return m, nil
		}
		m.status = fmt.Sprintf("Completed %s with quality %d", msg.id, msg.quality)
		return m, m.load(TabHome, false)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		switch msg.String() {
		case "?", "esc", "q":
			m.showHelp = false
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.Close()
		return m, tea.Quit
	case "tab", "right", "l":
		m.tab = (m.tab + 1) % Tab(len(tabNames))
		m.cursor = 0
	case "shift+tab", "left", "h":
		m.tab = (m.tab + Tab(len(tabNames)) - 1) % Tab(len(tabNames))
		m.cursor = 0
	case "r":
		m.status = "Refreshing " + strings.ToLower(m.tab.String())
		return m, m.load(m.tab, true)
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.tab == TabRevisions && m.cursor < len(m.queue())-1 {
			m.cursor++
		}
	case "0", "1", "2", "3", "4", "5":
		q := m.queue()
		if m.tab != TabRevisions || len(q) == 0 {
			return m, nil
		}
		quality := int(msg.String()[0] - '0')
		id := q[m.cursor].ID
		m.status = fmt.Sprintf("Grading %s...", id)
		return m, m.grade(id, quality)
	case "?":
		m.showHelp = true
	}
	return m, nil
}

// queue flattens the revision buckets in display order.
func (m *Model) queue() []backend.Revision {
	g := m.revisions.Data.Grouped
	out := make([]backend.Revision, 0, g.Count())
	out = append(out, g.Overdue...)
	out = append(out, g.Today...)
	return append(out, g.Upcoming...)
}

// View renders the TUI.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		m.width = 80
		m.height = 24
	}
	if m.showHelp {
		return m.renderHelp()
	}

	var body string
	switch m.tab {
	case TabHome:
		body = m.renderHome()
	case TabRevisions:
		body = m.renderRevisions()
	case TabFriends:
		body = m.renderFriends()
	}

	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(m.paneStyle.Width(m.width - 2).Render(body))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m *Model) renderTabs() string {
	parts := make([]string, len(tabNames))
	for i, name := range tabNames {
		if Tab(i) == m.tab {
			parts[i] = m.activeTabStyle.Render(name)
		} else {
			parts[i] = m.tabStyle.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

// phaseLine describes a snapshot's freshness.
func (m *Model) phaseLine(phase loader.Phase, fromCache bool, errText string) string {
	switch phase {
	case loader.PhaseIdle:
		return m.dimStyle.Render("not loaded")
	case loader.PhaseLoading:
		return m.spinner.View() + " loading"
	case loader.PhaseRefreshing:
		return m.spinner.View() + " refreshing (cached)"
	case loader.PhaseError:
		return m.errorStyle.Render(errText)
	}
	if fromCache {
		return m.dimStyle.Render("(cached)")
	}
	return m.dimStyle.Render("up to date")
}

func (m *Model) renderHome() string {
	s := m.home
	var b strings.Builder
	b.WriteString(m.phaseLine(s.Phase, s.FromCache, s.Err) + "\n\n")
	if !s.Has(home.SlotUserStats) {
		return b.String()
	}
	u := s.Data.UserStats
	fmt.Fprintf(&b, "%s  level %d  %d XP\n", m.selectedStyle.Render(u.Username), u.Level, u.XP)
	fmt.Fprintf(&b, "Streak: %d days (best %d)  Freezes: %d\n", u.CurrentStreak, u.LongestStreak, u.FreezesAvailable)
	if s.Has(home.SlotSolveStats) {
		st := s.Data.SolveStats
		fmt.Fprintf(&b, "Solved: %d (easy %d, medium %d, hard %d)  today %d\n", st.Total, st.Easy, st.Medium, st.Hard, st.SolvedToday)
	}
	if s.Has(home.SlotAchievements) {
		fmt.Fprintf(&b, "Achievements: %d/%d\n", s.Data.Achievements.Unlocked, s.Data.Achievements.Total)
	}
	if len(s.Data.RecentSolves) > 0 {
		b.WriteString("\nRecent solves\n")
		for _, solve := range s.Data.RecentSolves {
			fmt.Fprintf(&b, "  %s %s\n", solve.Title, m.dimStyle.Render("("+solve.Difficulty+")"))
		}
	}
	return b.String()
}

func (m *Model) renderRevisions() string {
	s := m.revisions
	var b strings.Builder
	b.WriteString(m.phaseLine(s.Phase, s.FromCache, s.Err) + "\n\n")
	if s.Has(revisions.SlotStats) {
		st := s.Data.Stats
		fmt.Fprintf(&b, "Due today %d  Overdue %d  Done today %d  Retention %.0f%%\n\n",
			st.DueToday, st.Overdue, st.CompletedToday, st.RetentionRate*100)
	}
	q := m.queue()
	if len(q) == 0 {
		b.WriteString("No revisions due\n")
		return b.String()
	}
	overdue := len(s.Data.Grouped.Overdue)
	for i, rev := range q {
		cursor := " "
		title := rev.Title
		if i == m.cursor {
			cursor = ">"
			title = m.selectedStyle.Render(title)
		}
		tag := ""
		if i < overdue {
			tag = m.errorStyle.Render(" overdue")
		}
		fmt.Fprintf(&b, "%s %s%s\n", cursor, title, tag)
	}
	return b.String()
}

func (m *Model) renderFriends() string {
	s := m.friends
	var b strings.Builder
	b.WriteString(m.phaseLine(s.Phase, s.FromCache, s.Err) + "\n\n")
	if len(s.Data.Friends) == 0 && s.Has(friends.SlotList) {
		b.WriteString("No friends yet\n")
	}
	solved := map[string]bool{}
	for _, st := range s.Data.Streaks {
		solved[strings.ToLower(st.Username)] = st.SolvedToday
	}
	for _, f := range s.Data.Friends {
		mark := " "
		if solved[strings.ToLower(f.Username)] {
			mark = "✓"
		}
		fmt.Fprintf(&b, "%s %s  streak %d  level %d\n", mark, f.Username, f.CurrentStreak, f.Level)
	}
	if len(s.Data.Received) > 0 {
		fmt.Fprintf(&b, "\nPending requests: %d\n", len(s.Data.Received))
		for _, r := range s.Data.Received {
			fmt.Fprintf(&b, "  from %s\n", r.FromUsername)
		}
	}
	return b.String()
}

func (m *Model) renderStatusBar() string {
	left := m.status
	right := "tab:switch  r:refresh  q:quit  ?:help"
	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}
	return m.statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", padding) + right)
}

func (m *Model) renderHelp() string {
	help := m.paneStyle.Render(
		"Keyboard Shortcuts\n\n" +
			"tab / shift+tab  Switch page\n" +
			"j/k or ↑/↓       Move in the revision queue\n" +
			"0-5              Grade the selected revision\n" +
			"r                Refresh the current page\n" +
			"?                Toggle help\n" +
			"q                Quit\n")
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, help)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
