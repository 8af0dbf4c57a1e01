// Package tui provides the interactive console shown when vkm runs
// without a subcommand. It lists managed kernels with their lifecycle
// states and supports switching, retiring and pinning from the keyboard.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vkm-dev/vkm/internal/kernel"
	"github.com/vkm-dev/vkm/internal/sysinfo"
	"github.com/vkm-dev/vkm/pkg/models"
)

// refreshInterval is how often the kernel list reloads on its own.
const refreshInterval = 5 * time.Second

type kernelsMsg struct {
	records []models.KernelRecord
	err     error
}

type actionMsg struct {
	status string
	err    error
}

type tickMsg time.Time

// App is the interactive console model.
type App struct {
	manager *kernel.Manager
	info    *sysinfo.Info

	table    table.Model
	records  []models.KernelRecord
	status   string
	width    int
	quitting bool
}

// New creates the console over a kernel manager and a host snapshot.
func New(manager *kernel.Manager, info *sysinfo.Info) *App {
	columns := []table.Column{
		{Title: "Kernel", Width: 20},
		{Title: "Status", Width: 12},
		{Title: "Pinned", Width: 7},
		{Title: "Created", Width: 17},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).Foreground(headerColor)
	s.Selected = s.Selected.Foreground(selectedFg).Background(selectedBg)
	t.SetStyles(s)

	return &App{manager: manager, info: info, table: t}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadKernels, a.tick())
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) loadKernels() tea.Msg {
	records, err := a.manager.List(nil)
	return kernelsMsg{records: records, err: err}
}

func (a *App) selectedID() string {
	i := a.table.Cursor()
	if i < 0 || i >= len(a.records) {
		return ""
	}
	return a.records[i].ID
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.table.SetWidth(msg.Width - 4)
		return a, nil

	case tickMsg:
		return a, tea.Batch(a.loadKernels, a.tick())

	case kernelsMsg:
		if msg.err != nil {
			a.status = "load failed: " + msg.err.Error()
			return a, nil
		}
		a.records = msg.records
		a.table.SetRows(kernelRows(msg.records))
		return a, nil

	case actionMsg:
		if msg.err != nil {
			a.status = msg.err.Error()
		} else {
			a.status = msg.status
		}
		return a, a.loadKernels

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit

		case "r":
			return a, a.loadKernels

		case "s":
			id := a.selectedID()
			if id == "" {
				return a, nil
			}
			return a, func() tea.Msg {
				sw, err := a.manager.Switch(context.Background(), id)
				if err != nil {
					return actionMsg{err: err}
				}
				return actionMsg{status: fmt.Sprintf("next boot set to %s, confirm before %s",
					sw.ToKernel, sw.Deadline.Local().Format("15:04:05"))}
			}

		case "t":
			id := a.selectedID()
			if id == "" {
				return a, nil
			}
			return a, func() tea.Msg {
				if err := a.manager.Retire(context.Background(), id); err != nil {
					return actionMsg{err: err}
				}
				return actionMsg{status: id + " retired"}
			}

		case "p":
			i := a.table.Cursor()
			if i < 0 || i >= len(a.records) {
				return a, nil
			}
			rec := a.records[i]
			return a, func() tea.Msg {
				if err := a.manager.Pin(rec.ID, !rec.Pinned); err != nil {
					return actionMsg{err: err}
				}
				if rec.Pinned {
					return actionMsg{status: rec.ID + " unpinned"}
				}
				return actionMsg{status: rec.ID + " pinned"}
			}
		}
	}

	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

func kernelRows(records []models.KernelRecord) []table.Row {
	rows := make([]table.Row, 0, len(records))
	for _, rec := range records {
		pinned := ""
		if rec.Pinned {
			pinned = "yes"
		}
		rows = append(rows, table.Row{
			rec.ID,
			string(rec.Status),
			pinned,
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	header := titleStyle.Render("vkm") + "  " +
		subtitleStyle.Render(fmt.Sprintf("%s · %s · %d cores · %d MB",
			a.info.Kernel, a.info.Distribution, a.info.CPUCores, a.info.MemTotalMB))

	body := tableStyle.Render(a.table.View())

	status := ""
	if a.status != "" {
		status = statusStyle.Render(a.status)
	}

	help := helpStyle.Render("s switch · t retire · p pin/unpin · r refresh · q quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, body, status, help)
}
