package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/corpusworks/docpipe/pkg/config"
)

const statusDefaultWidth = 80

var (
	statusTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusDatasetStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	statusDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusTodoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusHelpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusErrStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type statusKeyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

func newStatusKeyMap() statusKeyMap {
	return statusKeyMap{
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

type (
	statusTickMsg time.Time
	statusRowsMsg struct {
		rows []stageRow
		err  error
	}
)

func statusTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

// statusModel is the live completion view. It re-reads the config and
// recounts completion markers on every tick, so progress made by runs
// in other processes shows up as it happens.
type statusModel struct {
	cfgPath  string
	datasets []string
	rows     []stageRow
	err      error
	keys     statusKeyMap
	width    int
	quitting bool
}

func newStatusModel(cfgPath string, datasets []string, rows []stageRow) statusModel {
	return statusModel{
		cfgPath:  cfgPath,
		datasets: datasets,
		rows:     rows,
		keys:     newStatusKeyMap(),
		width:    statusDefaultWidth,
	}
}

func (m statusModel) Init() tea.Cmd {
	return statusTick()
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.refresh
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case statusTickMsg:
		return m, tea.Batch(m.refresh, statusTick())
	case statusRowsMsg:
		m.rows = msg.rows
		m.err = msg.err
	}
	return m, nil
}

func (m statusModel) refresh() tea.Msg {
	cfg, err := config.Load(m.cfgPath)
	if err != nil {
		return statusRowsMsg{err: err}
	}
	rows, err := collectRows(cfg, m.datasets)
	return statusRowsMsg{rows: rows, err: err}
}

func (m statusModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(statusTitleStyle.Render("Pipeline status"))
	b.WriteString(" " + statusHelpStyle.Render(m.cfgPath) + "\n\n")
	if m.err != nil {
		b.WriteString(statusErrStyle.Render("Error: "+m.err.Error()) + "\n")
		return b.String()
	}
	b.WriteString(renderStatusRows(m.rows, m.width))
	b.WriteString("\n" + statusHelpStyle.Render("r refresh • q quit") + "\n")
	return b.String()
}

// renderStatusRows renders the completion table, grouped by dataset.
// Shared by the live view and the one-shot snapshot.
func renderStatusRows(rows []stageRow, width int) string {
	nameWidth := 0
	for _, row := range rows {
		if len(row.Name) > nameWidth {
			nameWidth = len(row.Name)
		}
	}
	barWidth := width - nameWidth - 26
	if barWidth < 10 {
		barWidth = 10
	}

	var b strings.Builder
	lastDataset := ""
	for _, row := range rows {
		if row.Dataset != lastDataset {
			if lastDataset != "" {
				b.WriteString("\n")
			}
			b.WriteString(statusDatasetStyle.Render(row.Dataset) + "\n")
			lastDataset = row.Dataset
		}
		pct := 0
		if row.Total > 0 {
			pct = row.Done * 100 / row.Total
		}
		fmt.Fprintf(&b, "  %-*s %s %3d%% (%d/%d tasks)\n",
			nameWidth, row.Name, renderStatusBar(row.Done, row.Total, barWidth), pct, row.Done, row.Total)
	}
	return b.String()
}

func renderStatusBar(done, total, width int) string {
	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	if filled > width {
		filled = width
	}
	return statusDoneStyle.Render(strings.Repeat("█", filled)) +
		statusTodoStyle.Render(strings.Repeat("░", width-filled))
}
