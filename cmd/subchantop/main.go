// Command subchantop runs several demo subchannels concurrently and
// renders their connectivity state as a live table: state, address,
// buffered-byte count, and the reason behind the last transition.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/relaywire/subchannel/internal/adapter/transport"
	"github.com/relaywire/subchannel/internal/config"
	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/internal/demo"
	"github.com/relaywire/subchannel/internal/logger"
	"github.com/relaywire/subchannel/pkg/eventbus"
	"github.com/relaywire/subchannel/pkg/format"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	readyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	connectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	borderStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type fleetMember struct {
	sub *demo.Subchannel
	tr  *transport.Transport
}

type connectivityMsg domain.ConnectivityEvent
type statsTickMsg struct{}

type model struct {
	table   table.Model
	members []fleetMember
	ch      <-chan domain.ConnectivityEvent
	reasons map[string]string
	changed map[string]time.Time
}

func newModel(members []fleetMember, ch <-chan domain.ConnectivityEvent) model {
	columns := []table.Column{
		{Title: "Subchannel", Width: 14},
		{Title: "Address", Width: 22},
		{Title: "State", Width: 18},
		{Title: "Buffered", Width: 10},
		{Title: "Streams", Width: 8},
		{Title: "Last Reason", Width: 24},
		{Title: "Since", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(len(members)+1),
	)
	return model{table: t, members: members, ch: ch, reasons: make(map[string]string), changed: make(map[string]time.Time)}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.ch), tickStats())
}

func waitForEvent(ch <-chan domain.ConnectivityEvent) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return nil
		}
		return connectivityMsg(evt)
	}
}

func tickStats() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg { return statsTickMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case connectivityMsg:
		m.reasons[msg.SubchannelID] = msg.Reason
		m.changed[msg.SubchannelID] = time.Now()
		return m, waitForEvent(m.ch)
	case statsTickMsg:
		m.table.SetRows(m.buildRows())
		return m, tickStats()
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) buildRows() []table.Row {
	rows := make([]table.Row, 0, len(m.members))
	for _, mem := range m.members {
		stats := mem.tr.Stats()
		rows = append(rows, table.Row{
			mem.sub.ID(),
			stats.CurrentAddress,
			styleState(stats.State),
			format.Bytes(uint64(stats.InitialSocketBytes)),
			fmt.Sprintf("%d", stats.ActiveStreams),
			m.reasons[mem.sub.ID()],
			format.TimeAgo(m.changed[mem.sub.ID()]),
		})
	}
	return rows
}

func styleState(state domain.ConnectivityState) string {
	switch state {
	case domain.ConnectivityReady:
		return readyStyle.Render(state.String())
	case domain.ConnectivityConnecting:
		return connectStyle.Render(state.String())
	case domain.ConnectivityTransientFailure:
		return failStyle.Render(state.String())
	default:
		return idleStyle.Render(state.String())
	}
}

func (m model) View() string {
	header := titleStyle.Render("subchantop — live subchannel fleet")
	footer := footerStyle.Render("q to quit")
	return borderStyle.Render(header + "\n\n" + m.table.View() + "\n\n" + footer)
}

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if len(cfg.Subchannels) == 0 {
		cfg.Subchannels = []config.SubchannelConfig{{ID: "local", Addresses: []string{"127.0.0.1:50051"}}}
	}

	_, styled, cleanup, err := logger.NewWithTheme(&logger.Config{
		Level:      cfg.Logging.Level,
		PrettyLogs: false,
		Theme:      "default",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := eventbus.New[domain.ConnectivityEvent]()
	defer events.Shutdown()
	ch, unsubscribe := events.Subscribe(ctx)
	defer unsubscribe()

	logInstance := styled.GetUnderlying()

	members := make([]fleetMember, 0, len(cfg.Subchannels))
	for _, sc := range cfg.Subchannels {
		sub := demo.NewSubchannel(sc.ID, sc.Addresses, styled)
		tr := transport.New(sub, transport.DefaultDialer, transport.Config{
			ProbeInterval:  cfg.Transport.ProbeInterval,
			ConnectTimeout: cfg.Transport.ConnectTimeout,
		}, logInstance, events)
		members = append(members, fleetMember{sub: sub, tr: tr})
		go driveFleetMember(ctx, tr)
	}

	p := tea.NewProgram(newModel(members, ch))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui error: %v\n", err)
	}

	cancel()
	for _, mem := range members {
		mem.tr.Dispose()
	}
}

// driveFleetMember keeps one subchannel connected, reconnecting on failure,
// for as long as ctx is alive. It never opens a stream itself — subchantop
// is an observability surface, not a client — so it cycles Disconnect after
// a dwell period to show transitions happening under the idle-probe path.
func driveFleetMember(ctx context.Context, tr *transport.Transport) {
	for ctx.Err() == nil {
		result, err := tr.TryConnect(ctx)
		if err != nil || result != transport.ConnectSuccess {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
		tr.Disconnect()
	}
}
