package audit

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/idlewatch/internal/config"
)

// Picker results other than a task index.
const (
	pickNone = -1
	pickQuit = -2
)

var (
	pickHeading = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Margin(1, 0, 1, 2)
	pickRow     = lipgloss.NewStyle().PaddingLeft(4)
	pickCurrent = lipgloss.NewStyle().PaddingLeft(2).Bold(true).Foreground(lipgloss.Color("39"))
	pickMeta    = lipgloss.NewStyle().PaddingLeft(6).Foreground(lipgloss.Color("244"))
	pickFooter  = lipgloss.NewStyle().MarginTop(1).PaddingLeft(2).Foreground(lipgloss.Color("240"))
	pickMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type pickerModel struct {
	tasks  []config.TaskConfig
	cursor int
	chosen int
}

func (m pickerModel) Init() tea.Cmd { return nil }

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	last := len(m.tasks) - 1
	switch key.String() {
	case "q", "esc", "ctrl+c":
		m.chosen = pickQuit
		return m, tea.Quit
	case "up", "k":
		m.cursor = max(m.cursor-1, 0)
	case "down", "j":
		m.cursor = min(m.cursor+1, last)
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = last
	case "enter", " ":
		m.chosen = m.cursor
		return m, tea.Quit
	}
	return m, nil
}

func (m pickerModel) View() string {
	var b strings.Builder
	b.WriteString(pickHeading.Render(fmt.Sprintf("Saved results · %d tasks", len(m.tasks))))
	b.WriteByte('\n')

	for i, t := range m.tasks {
		name := t.Name
		if !t.Enabled {
			name += pickMuted.Render("  disabled")
		}
		if i == m.cursor {
			b.WriteString(pickCurrent.Render("▸ " + name))
			b.WriteByte('\n')
			b.WriteString(pickMeta.Render(taskSummary(t)))
		} else {
			b.WriteString(pickRow.Render(name))
		}
		b.WriteByte('\n')
	}

	b.WriteString(pickFooter.Render("j/k move  g/G first/last  enter open  q quit"))
	return b.String()
}

func taskSummary(t config.TaskConfig) string {
	parts := []string{"“" + t.Keyword + "”", t.DecisionMode}
	if t.DecisionMode == "keyword" && len(t.KeywordRules) > 0 {
		parts = append(parts, fmt.Sprintf("%d rules", len(t.KeywordRules)))
	}
	if t.Interval > 0 {
		parts = append(parts, "every "+t.Interval.String())
	}
	return strings.Join(parts, " · ")
}

// RunTaskPicker lets the user choose a task. It returns the index into tasks,
// or a negative value when the user quit without choosing.
func RunTaskPicker(tasks []config.TaskConfig) (int, error) {
	if len(tasks) == 0 {
		return pickNone, nil
	}
	final, err := tea.NewProgram(pickerModel{tasks: tasks, chosen: pickNone}).Run()
	if err != nil {
		return pickNone, err
	}
	return final.(pickerModel).chosen, nil
}
