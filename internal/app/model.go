package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
	"github.com/j-veylop/antigravity-quota-monitor/internal/ui/components"
	"github.com/j-veylop/antigravity-quota-monitor/internal/ui/styles"
)

const (
	defaultWidth = 80
	minCardWidth = 40
)

// KeyMap defines the keybindings for the watch view.
type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Activate key.Binding
	Refresh  key.Binding
	Help     key.Binding
	Quit     key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Activate: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "make active")),
		Refresh:  key.NewBinding(key.WithKeys("r", "ctrl+r"), key.WithHelp("r", "refresh")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp returns key bindings for the short help view.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Refresh, k.Quit}
}

// FullHelp returns key bindings for the full help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Activate},
		{k.Refresh, k.Help, k.Quit},
	}
}

// Model is the watch view. It subscribes on construction so no update
// published before Init is lost.
type Model struct {
	backend     Backend
	updates     <-chan models.Update
	unsubscribe func()
	state       *State
	now         func() time.Time

	keymap  KeyMap
	help    help.Model
	spinner spinner.Model
	bar     components.FamilyBar

	width  int
	height int

	ready bool
}

// NewModel creates the watch model over b.
func NewModel(b Backend) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.Primary)

	updates, unsubscribe := b.Subscribe()

	return &Model{
		backend:     b,
		updates:     updates,
		unsubscribe: unsubscribe,
		state:       NewState(),
		now:         time.Now,
		keymap:      DefaultKeyMap(),
		help:        help.New(),
		spinner:     s,
		bar:         components.NewFamilyBar(),
		width:       defaultWidth,
	}
}

// State returns the view state.
func (m *Model) State() *State {
	return m.state
}

// Init starts the tick loop and the update stream.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tickCmd(DefaultTickInterval),
		initialUpdateCmd(m.backend),
		waitForUpdateCmd(m.updates),
	)
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKeyMsg(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		m.state.ClearExpiredNotifications(msg.Time)
		return m, tickCmd(DefaultTickInterval)

	case UpdateMsg:
		m.state.ApplyUpdate(msg.Update)
		if msg.Update.Type == models.UpdateInitial {
			return m, nil
		}
		return m, waitForUpdateCmd(m.updates)

	case SubscriptionClosedMsg:
		m.state.SetConnected(false)
		m.state.AddNotification(NotificationWarning, "Update stream closed", 0)
		return m, nil

	case RefreshDoneMsg:
		m.state.EndRefresh()
		m.state.SetAccounts(msg.Accounts, msg.At)
		return m, m.notify(NotificationSuccess, m.refreshSummary())

	case SwitchAccountResultMsg:
		if msg.Error != nil {
			return m, m.notify(NotificationError, fmt.Sprintf("Switch failed: %v", msg.Error))
		}
		return m, m.notify(NotificationSuccess, "Active account: "+msg.Email)

	case RemoveNotificationMsg:
		m.state.RemoveNotification(msg.ID)
	}

	return m, nil
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keymap.Quit):
		m.unsubscribe()
		return tea.Quit
	case key.Matches(msg, m.keymap.Up):
		m.state.MoveSelection(-1)
	case key.Matches(msg, m.keymap.Down):
		m.state.MoveSelection(1)
	case key.Matches(msg, m.keymap.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keymap.Refresh):
		if !m.state.BeginRefresh() {
			return nil
		}
		return refreshCmd(m.backend)
	case key.Matches(msg, m.keymap.Activate):
		acc := m.state.SelectedAccount()
		if acc == nil {
			return nil
		}
		return switchAccountCmd(m.backend, m.state.SelectedIndex(), acc.Email)
	}
	return nil
}

func (m *Model) notify(t NotificationType, message string) tea.Cmd {
	d := DefaultNotificationDuration
	if t == NotificationError {
		d = LongNotificationDuration
	}
	id := m.state.AddNotification(t, message, d)
	return removeNotificationCmd(id, d)
}

func (m *Model) refreshSummary() string {
	failing, _ := m.state.Summary()
	if failing > 0 {
		return fmt.Sprintf("Refreshed, %d account(s) failed", failing)
	}
	return "Quotas refreshed"
}

// View renders the header, one card per account, then notifications and help.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	accounts := m.state.GetAccounts()
	selected := m.state.SelectedIndex()
	if len(accounts) == 0 {
		b.WriteString(styles.HelpStyle.Render("No accounts found. Add one with the opencode antigravity plugin."))
		b.WriteString("\n")
	}

	now := m.now()
	for i, acc := range accounts {
		b.WriteString(m.renderCard(acc, i == selected, now))
		b.WriteString("\n")
	}

	if n := m.renderNotifications(); n != "" {
		b.WriteString(n)
		b.WriteString("\n")
	}

	b.WriteString(m.help.View(m.keymap))
	return b.String()
}

func (m *Model) renderHeader() string {
	title := styles.TitleStyle.Render("Antigravity Quota Monitor")

	st := m.state.Status()

	parts := []string{fmt.Sprintf("%d account(s)", st.Accounts)}
	if !st.LastUpdated.IsZero() {
		parts = append(parts, "updated "+st.LastUpdated.Format("15:04:05"))
	}
	if failing, exhausted := m.state.Summary(); failing > 0 || exhausted > 0 {
		parts = append(parts, fmt.Sprintf("%d failing, %d exhausted", failing, exhausted))
	}
	sub := styles.SubTitleStyle.Render(strings.Join(parts, " · "))

	status := ""
	switch {
	case st.Refreshing:
		status = m.spinner.View() + " refreshing"
	case !st.Connected:
		status = styles.WarningTextStyle.Render("disconnected")
	}

	if status != "" {
		title += "  " + status
	}
	return components.Fit(title, m.width) + "\n" + components.Fit(sub, m.width)
}

func (m *Model) renderCard(acc models.EnrichedAccount, selected bool, now time.Time) string {
	cardWidth := max(m.width-2, minCardWidth)
	inner := cardWidth - 4

	header := styles.CardTitleStyle.Render(acc.Email)
	if acc.IsActive {
		header += " " + styles.ActiveBadgeStyle.Render("ACTIVE")
	}
	if acc.Quota != nil && acc.Quota.SubscriptionTier != "" {
		header += " " + styles.GetTierStyle(acc.Quota.SubscriptionTier).Render(acc.Quota.SubscriptionTier)
	}
	if acc.ProjectID != "" {
		header += " " + styles.HelpStyle.Render(acc.ProjectID)
	}

	lines := []string{components.Fit(header, inner)}
	switch {
	case acc.Quota == nil:
		lines = append(lines, styles.HelpStyle.Render("waiting for first fetch"))
	default:
		if acc.Quota.FetchError != "" {
			lines = append(lines, components.Fit(styles.ErrorTextStyle.Render("⚠ "+acc.Quota.FetchError), inner))
		}
		for _, f := range models.Families {
			lines = append(lines, components.Fit(m.bar.View(f, acc.Quota.Family(f), now, inner), inner))
		}
	}

	style := styles.CardStyle
	if selected {
		style = styles.SelectedCardStyle
	}
	return style.Width(cardWidth - 2).Render(strings.Join(lines, "\n"))
}

func (m *Model) renderNotifications() string {
	notifications := m.state.GetNotifications()
	if len(notifications) == 0 {
		return ""
	}

	lines := make([]string, 0, len(notifications))
	for _, n := range notifications {
		var style lipgloss.Style
		switch n.Type {
		case NotificationError:
			style = styles.ErrorTextStyle
		case NotificationWarning:
			style = styles.WarningTextStyle
		case NotificationSuccess:
			style = styles.SuccessTextStyle
		default:
			style = styles.SubTitleStyle
		}
		lines = append(lines, components.Fit(style.Render(n.Message), m.width))
	}
	return strings.Join(lines, "\n")
}
