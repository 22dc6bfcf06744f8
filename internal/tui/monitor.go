// Package tui renders the live monitor for a running reelcache proxy.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/messaging"
	"github.com/mmcdole/reelcache/internal/tui/styles"
)

const maxLogLines = 8

type logLine struct {
	at    time.Time
	text  string
	style lipgloss.Style
}

// Model is the monitor state.
type Model struct {
	src    Source
	events <-chan tea.Msg
	keys   KeyMap
	now    func() time.Time

	spinner spinner.Model
	table   table.Model

	status    domain.Status
	videos    []domain.VideoDescriptor
	connected bool
	syncing   bool
	progress  domain.SyncProgress
	log       []logLine
	lastErr   error

	width  int
	height int
}

// NewModel creates the monitor. events may be nil when no stream is attached.
func NewModel(src Source, events <-chan tea.Msg) Model {
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(6),
		table.WithStyles(styles.TableStyles()),
	)
	return Model{
		src:     src,
		events:  events,
		keys:    DefaultKeyMap(),
		now:     time.Now,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.SpinnerStyle)),
		table:   t,
	}
}

func columns(width int) []table.Column {
	title := width - 12 - 16 - 8 - 8 - 10
	if title < 16 {
		title = 16
	}
	return []table.Column{
		{Title: "ID", Width: 12},
		{Title: "Title", Width: title},
		{Title: "Category", Width: 16},
		{Title: "Length", Width: 8},
		{Title: "Views", Width: 8},
	}
}

func rows(videos []domain.VideoDescriptor, titleWidth int) []table.Row {
	out := make([]table.Row, 0, len(videos))
	for _, v := range videos {
		out = append(out, table.Row{
			styles.Truncate(v.ID, 12),
			styles.Truncate(v.Title, titleWidth),
			string(v.Category),
			v.FormattedDuration(),
			fmt.Sprintf("%d", v.Views),
		})
	}
	return out
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		LoadStatusCmd(m.src),
		WaitForEventCmd(m.events),
		refreshTickCmd(refreshInterval),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetColumns(columns(msg.Width - 4))
		m.setVideos(m.videos)
		if h := msg.Height - 14 - maxLogLines; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case refreshTickMsg:
		return m, tea.Batch(LoadStatusCmd(m.src), refreshTickCmd(refreshInterval))

	case StatusLoadedMsg:
		m.connected = true
		m.lastErr = nil
		m.status = msg.Status
		m.setVideos(msg.Status.Featured)
		return m, nil

	case EventMsg:
		m.applyEvent(msg.Message)
		cmds := []tea.Cmd{WaitForEventCmd(m.events)}
		if msg.Message.Kind == messaging.KindCachesCleared {
			cmds = append(cmds, LoadStatusCmd(m.src))
		}
		return m, tea.Batch(cmds...)

	case SyncProgressMsg:
		m.applyProgress(msg.Progress)
		return m, WaitForEventCmd(m.events)

	case StreamClosedMsg:
		m.connected = false
		m.syncing = false
		m.addLog("event stream closed", styles.WarnStyle)
		m.events = nil
		return m, nil

	case CommandSentMsg:
		m.addLog("sent "+string(msg.Kind), styles.DimStyle)
		return m, LoadStatusCmd(m.src)

	case ErrMsg:
		m.lastErr = msg
		if msg.Context == "loading status" {
			m.connected = false
		}
		m.addLog(msg.Error(), styles.ErrorStyle)
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Refresh):
		return m, LoadStatusCmd(m.src)
	case key.Matches(msg, m.keys.ClearCaches):
		return m, SendCmd(m.src, messaging.ClearCaches())
	case key.Matches(msg, m.keys.SkipWaiting):
		return m, SendCmd(m.src, messaging.SkipWaiting())
	case key.Matches(msg, m.keys.CacheVideo):
		if v, ok := m.Selected(); ok {
			return m, SendCmd(m.src, messaging.CacheVideo(v.PlaybackURL(), v.ID))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) applyEvent(msg messaging.Message) {
	prefix := ""
	if msg.Tag != "" {
		prefix = "[" + msg.Tag + "] "
	}
	switch msg.Kind {
	case messaging.KindSyncStarted:
		m.syncing = true
		m.addLog(prefix+"sync started", styles.AccentStyle)
	case messaging.KindSyncSucceeded:
		m.syncing = false
		if p, err := msg.SyncSucceededPayload(); err == nil {
			m.status.Featured = p.Data
			m.setVideos(p.Data)
			m.addLog(fmt.Sprintf("%ssync succeeded: %d videos", prefix, len(p.Data)), styles.SuccessStyle)
		}
	case messaging.KindSyncFailed:
		m.syncing = false
		text := prefix + "sync failed"
		if p, err := msg.SyncFailedPayload(); err == nil && p.Error != "" {
			text += ": " + p.Error
		}
		m.addLog(text, styles.ErrorStyle)
	case messaging.KindCachesCleared:
		m.addLog("caches cleared", styles.WarnStyle)
	default:
		m.addLog(string(msg.Kind), styles.DimStyle)
	}
}

func (m *Model) applyProgress(p domain.SyncProgress) {
	m.progress = p
	m.syncing = !p.Done
	switch {
	case p.Done && p.Error != nil:
		m.addLog("sync failed: "+p.Error.Error(), styles.ErrorStyle)
	case p.Done:
		m.setVideos(p.Videos)
		m.addLog(fmt.Sprintf("sync finished: %d cached, %d already stored, %d failed", p.Cached, p.Skipped, p.Failed), styles.SuccessStyle)
	}
}

func (m *Model) setVideos(videos []domain.VideoDescriptor) {
	m.videos = videos
	cols := m.table.Columns()
	titleWidth := 16
	if len(cols) > 1 {
		titleWidth = cols[1].Width
	}
	m.table.SetRows(rows(videos, titleWidth))
}

func (m *Model) addLog(text string, style lipgloss.Style) {
	m.log = append(m.log, logLine{at: m.now(), text: text, style: style})
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// Selected returns the video under the table cursor.
func (m Model) Selected() (domain.VideoDescriptor, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.videos) {
		return domain.VideoDescriptor{}, false
	}
	return m.videos[i], true
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderStats())
	b.WriteString("\n\n")
	b.WriteString(styles.PanelBorder.Render(m.table.View()))
	b.WriteString("\n")
	b.WriteString(m.renderLog())
	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	parts := []string{styles.TitleStyle.Render("reelcache monitor")}

	if m.connected {
		parts = append(parts, styles.BadgeStyle.Render("connected"))
	} else {
		parts = append(parts, styles.ErrorBadgeStyle.Render("disconnected"))
	}
	if m.status.Lifecycle != "" {
		parts = append(parts, styles.DimBadgeStyle.Render(m.status.Lifecycle))
	}
	if m.status.Online {
		parts = append(parts, styles.SuccessStyle.Render("online"))
	} else if m.connected {
		parts = append(parts, styles.WarnStyle.Render("offline"))
	}
	if m.syncing {
		parts = append(parts, m.spinner.View()+styles.AccentStyle.Render(" syncing"))
	}
	return strings.Join(parts, " ")
}

func (m Model) renderStats() string {
	st := m.status.Stats
	usage := styles.RenderProgressBar(st.Usage(), 20)
	store := fmt.Sprintf("store %d/%d videos  %s  %s", st.Count, st.MaxItems, st.FormattedSize(), usage)

	a := m.status.Availability
	tiers := fmt.Sprintf("tiers  manifest %s  cache %s  api %s  total %d",
		mark(a.Static), mark(a.Cache), mark(a.API), a.Total)

	caches := "caches " + styles.DimStyle.Render(strings.Join(m.status.Caches, ", "))
	return strings.Join([]string{
		styles.SubtitleStyle.Render(store),
		styles.SubtitleStyle.Render(tiers),
		caches,
	}, "\n")
}

func mark(ok bool) string {
	if ok {
		return styles.SuccessStyle.Render("✓")
	}
	return styles.ErrorStyle.Render("✗")
}

func (m Model) renderLog() string {
	if len(m.log) == 0 {
		return styles.DimStyle.Render("waiting for events...")
	}
	lines := make([]string, 0, len(m.log))
	for _, l := range m.log {
		lines = append(lines, styles.DimStyle.Render(l.at.Format("15:04:05"))+" "+l.style.Render(l.text))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderHelp() string {
	var parts []string
	for _, k := range m.keys.ShortHelp() {
		h := k.Help()
		parts = append(parts, styles.HelpKeyStyle.Render(h.Key)+" "+styles.HelpDescStyle.Render(h.Desc))
	}
	return strings.Join(parts, "  ")
}
