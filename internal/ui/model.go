// ABOUTME: Bubbletea model for the zone dashboard
// ABOUTME: Renders groups, playback, and volumes from model snapshots
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/armintoepfer/solo/internal/zone"
)

// snapshotMsg replaces the rendered state wholesale. The pump converts
// every delta into a fresh snapshot, so the model never merges.
type snapshotMsg zone.Snapshot

type tickMsg time.Time

// Model is the dashboard state.
type Model struct {
	snap      zone.Snapshot
	startTime time.Time
	width     int
	height    int
	quitting  bool

	refresh func()          // triggers a discovery pass, may be nil
	quit    chan<- struct{} // signals the daemon when the user quits
}

func newModel(snap zone.Snapshot, refresh func(), quit chan<- struct{}) Model {
	return Model{snap: snap, startTime: time.Now(), refresh: refresh, quit: quit}
}

func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case snapshotMsg:
		m.snap = zone.Snapshot(msg)
	case tickMsg:
		return m, tickEvery()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		select {
		case m.quit <- struct{}{}:
		default:
		}
		return m, tea.Quit
	case "r":
		if m.refresh != nil {
			refresh := m.refresh
			return m, func() tea.Msg {
				refresh()
				return nil
			}
		}
	}
	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	groupStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	names := make(map[zone.DeviceID]string, len(m.snap.Devices))
	for _, d := range m.snap.Devices {
		names[d.ID] = d.Name
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("solo"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Devices: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", len(m.snap.Devices))))
	b.WriteString(headerStyle.Render("   Groups: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", len(m.snap.Groups))))
	b.WriteString(headerStyle.Render("   Generation: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.snap.Generation)))
	b.WriteString(headerStyle.Render("   Uptime: "))
	b.WriteString(valueStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n\n")

	if len(m.snap.Groups) == 0 {
		b.WriteString(valueStyle.Render("  No players found yet"))
		b.WriteString("\n")
	}

	for _, g := range m.snap.Groups {
		b.WriteString(groupStyle.Render(fmt.Sprintf("%s %s", stateIcon(g.State), groupTitle(g, names))))
		b.WriteString("\n")
		if line := trackLine(g.Track); line != "" {
			b.WriteString(valueStyle.Render("    " + line))
			b.WriteString("\n")
		}
		for _, member := range g.Members {
			name := names[member.ID]
			if name == "" {
				name = string(member.ID)
			}
			line := fmt.Sprintf("    %-14s [%s] %3d%%",
				truncate(name, 14), renderBar(member.Volume, 100, 10), member.Volume)
			if member.Muted {
				line += " muted"
			}
			b.WriteString(valueStyle.Render(line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' to quit, 'r' to rescan"))
	b.WriteString("\n")

	return b.String()
}

func groupTitle(g zone.GroupView, names map[zone.DeviceID]string) string {
	name := names[g.Coordinator]
	if name == "" {
		name = string(g.Coordinator)
	}
	if extra := len(g.Members) - 1; extra > 0 {
		return fmt.Sprintf("%s +%d", name, extra)
	}
	return name
}

func trackLine(t *zone.Track) string {
	if t == nil || t.Title == "" {
		return ""
	}
	if t.Artist == "" {
		return t.Title
	}
	return fmt.Sprintf("%s · %s", t.Title, t.Artist)
}

func stateIcon(s zone.TransportState) string {
	switch s {
	case zone.TransportPlaying:
		return "▶"
	case zone.TransportPaused:
		return "⏸"
	default:
		return "⏹"
	}
}

func renderBar(value, max, width int) string {
	if value < 0 {
		value = 0
	}
	if value > max {
		value = max
	}
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
