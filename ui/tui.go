// Package ui renders the job monitor: a live table of scheduler jobs with
// per-job progress, throughput and ETA.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/franksops/gofm/scheduler"
)

// RefreshInterval is how often the monitor re-reads the job table.
const RefreshInterval = 200 * time.Millisecond

// Jobs is the part of the scheduler the monitor drives.
type Jobs interface {
	AllJobs() []*scheduler.Job
	CancelJob(id string) bool
	MaxJobs() int
	SetMaxJobs(n int)
}

// refreshMsg triggers a re-read of the job table.
type refreshMsg time.Time

// Model implements tea.Model for the job monitor.
type Model struct {
	jobs         Jobs
	exitWhenIdle bool

	snapshots []scheduler.Snapshot
	cursor    int
	aborted   bool
	done      bool

	spinner  spinner.Model
	progress progress.Model
	jobBar   progress.Model
	viewport viewport.Model

	width  int
	height int

	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	streamStyle  lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
	cursorStyle  lipgloss.Style
}

// NewModel creates a monitor over jobs. With exitWhenIdle the monitor quits
// once every job it has seen is finished.
func NewModel(jobs Jobs, exitWhenIdle bool) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := Model{
		jobs:         jobs,
		exitWhenIdle: exitWhenIdle,
		spinner:      s,
		progress:     progress.New(progress.WithDefaultGradient()),
		jobBar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		streamStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		cursorStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
	}
	m.refresh()
	return m
}

// Aborted reports whether the user quit the monitor.
func (m Model) Aborted() bool {
	return m.aborted
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m *Model) refresh() {
	all := m.jobs.AllJobs()
	m.snapshots = make([]scheduler.Snapshot, 0, len(all))
	active := 0
	for _, j := range all {
		s := j.Snapshot()
		if s.Status.IsActive() {
			active++
		}
		m.snapshots = append(m.snapshots, s)
	}
	m.cursor = min(m.cursor, max(len(m.snapshots)-1, 0))
	m.done = len(m.snapshots) > 0 && active == 0
}

func (m Model) selected() (scheduler.Snapshot, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snapshots) {
		return scheduler.Snapshot{}, false
	}
	return m.snapshots[m.cursor], true
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.aborted = !m.done
			return m, tea.Quit
		case "up", "k":
			m.cursor = max(m.cursor-1, 0)
		case "down", "j":
			m.cursor = min(m.cursor+1, max(len(m.snapshots)-1, 0))
		case "c", "x":
			if s, ok := m.selected(); ok {
				m.jobs.CancelJob(s.ID)
				m.refresh()
			}
		case "+", "=":
			m.jobs.SetMaxJobs(m.jobs.MaxJobs() + 1)
		case "-":
			m.jobs.SetMaxJobs(max(m.jobs.MaxJobs()-1, 1))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(msg.Width-14, 10)

		headerHeight := 5
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, max(msg.Height-headerHeight-footerHeight, 1))

	case refreshMsg:
		m.refresh()
		if m.done && m.exitWhenIdle {
			return m, tea.Quit
		}
		cmds = append(cmds, tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sb strings.Builder

	header := fmt.Sprintf("%s gofm %s", m.spinner.View(), m.titleStyle.Render("Background Jobs"))
	sb.WriteString(header + "\n")

	var running int
	var done, total int64
	for _, s := range m.snapshots {
		if s.Status == scheduler.StatusRunning {
			running++
		}
		done += s.BytesProcessed
		total += s.BytesTotal
	}
	var percent float64
	if total > 0 {
		percent = float64(done) / float64(total)
	}

	info := fmt.Sprintf("Jobs: %d running / %d total | Slots: %d | %s / %s",
		running, len(m.snapshots), m.jobs.MaxJobs(),
		humanize.IBytes(uint64(done)), humanize.IBytes(uint64(total)))
	sb.WriteString(m.infoStyle.Render(info) + "\n")
	sb.WriteString(m.progress.ViewAs(percent) + "\n\n")

	var rows strings.Builder
	if len(m.snapshots) == 0 {
		rows.WriteString(m.infoStyle.Render("No jobs..."))
	}
	for i, s := range m.snapshots {
		marker := "  "
		if i == m.cursor {
			marker = m.cursorStyle.Render("> ")
		}
		speed := speedOf(s)
		// Format: > Running   copy photos
		//             [=====     ] 50% | 45 MiB/s | 3s | /path/to/file
		rows.WriteString(fmt.Sprintf("%s%s %s\n", marker, m.statusView(s.Status), s.Name))
		rows.WriteString(fmt.Sprintf("    %s | %s | %s | %s\n",
			m.jobBar.ViewAs(s.Percent/100),
			m.streamStyle.Render(formatSpeed(speed)),
			formatETA(s.BytesProcessed, s.BytesTotal, speed),
			m.detail(s)))
	}

	m.viewport.SetContent(rows.String())
	sb.WriteString(m.viewport.View())

	help := m.helpStyle.Render("q: quit • ↑/↓: select • c: cancel job • +/-: adjust concurrent jobs")
	if m.done {
		help = m.successStyle.Render("All jobs finished.") + " Press 'q' to exit."
	}
	sb.WriteString("\n" + help)

	return sb.String()
}

func (m Model) statusView(s scheduler.Status) string {
	label := fmt.Sprintf("%-9s", s)
	switch s {
	case scheduler.StatusFailed:
		return m.errorStyle.Render(label)
	case scheduler.StatusCompleted:
		return m.successStyle.Render(label)
	default:
		return m.infoStyle.Render(label)
	}
}

func (m Model) detail(s scheduler.Snapshot) string {
	switch {
	case s.Status == scheduler.StatusFailed && s.Error != "":
		return m.errorStyle.Render(truncate(s.Error, 40))
	case s.Status == scheduler.StatusRunning && s.CurrentItem != "":
		return m.infoStyle.Render(truncate(s.CurrentItem, 40))
	default:
		return m.infoStyle.Render(truncate(s.Message, 40))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-(n-3):]
}

// speedOf returns the average throughput of a job in bytes per second.
func speedOf(s scheduler.Snapshot) float64 {
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	elapsed := end.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.BytesProcessed) / elapsed
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec < 1 {
		return "-"
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

func formatETA(done, total int64, bytesPerSec float64) string {
	if total <= 0 {
		return "-"
	}
	remaining := total - done
	if remaining <= 0 {
		return "0s"
	}
	if bytesPerSec <= 0 {
		return "Calculating..."
	}

	d := time.Duration(float64(remaining) / bytesPerSec * float64(time.Second))
	if d.Hours() > 24 {
		return "> 1d"
	}
	return d.Round(time.Second).String()
}

// Run shows the monitor until the user quits or, with exitWhenIdle, until
// every job has finished. It reports whether the user quit early.
func Run(ctx context.Context, jobs Jobs, exitWhenIdle bool, opts ...tea.ProgramOption) (bool, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(NewModel(jobs, exitWhenIdle), opts...).Run()
	if err != nil {
		return false, err
	}
	return final.(Model).Aborted(), nil
}
