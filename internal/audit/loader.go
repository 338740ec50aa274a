package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/idlewatch/internal/model"
)

// LoadFunc reads the records to browse.
type LoadFunc func(ctx context.Context) ([]model.Record, error)

var errLoadCancelled = errors.New("loading cancelled")

type recordsLoadedMsg struct {
	records []model.Record
	err     error
}

type loaderModel struct {
	label   string
	load    LoadFunc
	spin    spinner.Model
	records []model.Record
	err     error
	done    bool
}

func newLoader(label string, load LoadFunc) loaderModel {
	return loaderModel{
		label: label,
		load:  load,
		spin: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("33"))),
		),
	}
}

func (m loaderModel) Init() tea.Cmd {
	load := m.load
	fetch := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		recs, err := load(ctx)
		return recordsLoadedMsg{records: recs, err: err}
	}
	return tea.Batch(m.spin.Tick, fetch)
}

func (m loaderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case recordsLoadedMsg:
		m.records, m.err, m.done = msg.records, msg.err, true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.err, m.done = errLoadCancelled, true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m loaderModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s reading saved items for %s\n", m.spin.View(), m.label)
}

// RunLoader shows an inline spinner while load runs and returns its result.
func RunLoader(label string, load LoadFunc) ([]model.Record, error) {
	final, err := tea.NewProgram(newLoader(label, load)).Run()
	if err != nil {
		return nil, err
	}
	lm := final.(loaderModel)
	return lm.records, lm.err
}
