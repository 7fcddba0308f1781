package dashboard

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/signaltrader/internal/coordinator"
	"github.com/betbot/signaltrader/internal/events"
)

// maxEvents 事件面板保留的条数
const maxEvents = 12

type eventMsg struct{ ev events.LifecycleEvent }

type stateMsg struct{ snap coordinator.Snapshot }

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("39")).Padding(0, 1)
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

type model struct {
	title   string
	snap    *coordinator.Snapshot
	events  []events.LifecycleEvent
	updates <-chan tea.Msg
	onQuit  func()
	width   int
	now     func() time.Time
}

func newModel(title string, updates <-chan tea.Msg, onQuit func()) model {
	return model{title: title, updates: updates, onQuit: onQuit, now: time.Now}
}

func (m model) waitForUpdate() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	return func() tea.Msg { return <-m.updates }
}

func (m model) Init() tea.Cmd { return m.waitForUpdate() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case stateMsg:
		s := msg.snap
		m.snap = &s
		return m, m.waitForUpdate()
	case eventMsg:
		m.events = append(m.events, msg.ev)
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
		return m, m.waitForUpdate()
	}
	return m, nil
}

func (m model) View() string {
	header := headerStyle.Render(m.header())
	if m.snap == nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, "等待数据...")
	}
	width := m.width - 4
	if width < 80 {
		width = 80
	}
	half := width/2 - 2
	left := panelStyle.Width(half).Render(m.renderMarket(half))
	right := panelStyle.Width(half).Render(m.renderContext())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
	evs := panelStyle.Width(width - 2).Render(m.renderEvents())
	return lipgloss.JoinVertical(lipgloss.Left, header, body, evs, dimStyle.Render("q 退出"))
}

func (m model) header() string {
	title := m.title
	if strings.TrimSpace(title) == "" {
		title = "signaltrader"
	}
	if m.snap == nil {
		return fmt.Sprintf("%s | %s", title, m.now().Format("15:04:05"))
	}
	return fmt.Sprintf("%s | %s %s | %s", title, m.snap.Exchange, m.snap.Pair, m.now().Format("15:04:05"))
}

func (m model) renderMarket(width int) string {
	s := m.snap
	lines := []string{titleStyle.Render("Market"), strings.Repeat("─", max(width-4, 1))}
	lines = append(lines, fmt.Sprintf("Bid: %s  Ask: %s", s.Ticker.Bid, s.Ticker.Ask))
	lines = append(lines, fmt.Sprintf("Fee: %s", s.Fee))
	lines = append(lines, "")
	lines = append(lines, titleStyle.Render("Balance"))
	for _, sym := range []string{s.Pair.Currency, s.Pair.Asset} {
		lines = append(lines, fmt.Sprintf("%-6s %s", sym, s.Balance[sym]))
	}
	if !s.RefreshedAt.IsZero() {
		lines = append(lines, dimStyle.Render("刷新于 "+s.RefreshedAt.Format("15:04:05")))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderContext() string {
	s := m.snap
	tc := s.TradeContext
	lines := []string{titleStyle.Render("Trade Context")}
	last := "-"
	if tc.LastAction != "" {
		last = tc.LastAction.String()
	}
	lines = append(lines, fmt.Sprintf("Last action: %s", last))
	lines = append(lines, fmt.Sprintf("Last buy:    %s", priceOrDash(tc.HasLastBuy(), tc.LastBuy.String())))
	lines = append(lines, fmt.Sprintf("Last sell:   %s", priceOrDash(tc.HasLastSell(), tc.LastSell.String())))
	lines = append(lines, "")

	status := goodStyle.Render("idle")
	if s.Busy {
		status = warnStyle.Render("lifecycle in flight")
	}
	if s.Halted {
		status = badStyle.Render(fmt.Sprintf("HALTED (%d errors)", s.ConsecutiveErrors))
	}
	lines = append(lines, "Engine: "+status)
	if s.LastOutcome != nil {
		lines = append(lines, "Last: "+s.LastOutcome.String())
	}
	if s.LastError != "" {
		lines = append(lines, badStyle.Render("Error: "+s.LastError))
	}
	return strings.Join(lines, "\n")
}

func priceOrDash(ok bool, v string) string {
	if !ok {
		return "-"
	}
	return v
}

func (m model) renderEvents() string {
	lines := []string{titleStyle.Render("Lifecycle")}
	if len(m.events) == 0 {
		lines = append(lines, dimStyle.Render("暂无事件"))
	}
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		line := ev.Time.Format("15:04:05") + " " + ev.String()
		switch ev.To {
		case "filled":
			line = goodStyle.Render(line)
		case "abandoned":
			line = badStyle.Render(line)
		case "skipped", "cancelling":
			line = warnStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
