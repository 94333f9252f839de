package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/pwrsync/internal/progress"
	"github.com/tanq16/pwrsync/internal/utils"
)

// Task is one tracked run on screen.
type Task struct {
	ID          int
	Label       string
	State       progress.State
	StartTime   time.Time
	StepStart   time.Time
	LastUpdated time.Time
	Error       error
	Index       int
}

func (t *Task) done() bool {
	return t.State.Stage.Terminal()
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager renders progress for one or more runs. On a terminal it redraws
// in place; otherwise it prints one line per stage change.
type Manager struct {
	tasks       map[int]*Task
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	taskCount   int
	displayWg   sync.WaitGroup
	out         io.Writer
	live        bool
}

func NewManager() *Manager {
	return newManager(os.Stdout, IsTerminal())
}

// NewPlainManager writes one line per stage change to out and never redraws.
func NewPlainManager(out io.Writer) *Manager {
	return newManager(out, false)
}

func newManager(out io.Writer, live bool) *Manager {
	return &Manager{
		tasks:       make(map[int]*Task),
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
		out:         out,
		live:        live,
	}
}

func (m *Manager) Register(label string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.taskCount++
	m.tasks[m.taskCount] = &Task{
		ID:          m.taskCount,
		Label:       label,
		State:       progress.State{Stage: progress.StagePreparing, Message: "Waiting..."},
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Index:       m.taskCount,
	}
	return m.taskCount
}

// Track consumes updates until the channel closes and returns the last state.
func (m *Manager) Track(id int, updates <-chan progress.State) progress.State {
	var last progress.State
	for s := range updates {
		m.mutex.Lock()
		task, exists := m.tasks[id]
		if !exists {
			m.mutex.Unlock()
			continue
		}
		stageChanged := task.State.Stage != s.Stage || task.State.Step != s.Step
		if stageChanged {
			task.StepStart = time.Now()
		}
		task.State = s
		task.LastUpdated = time.Now()
		m.mutex.Unlock()
		if !m.live && stageChanged {
			m.printPlain(task.Label, s)
		}
		last = s
	}
	return last
}

func (m *Manager) printPlain(label string, s progress.State) {
	fmt.Fprintf(m.out, "%s %s [%5.1f%%] %s %s\n", StyleSymbols["bullet"], label, s.Percent, s.Stage, s.Message)
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if task, exists := m.tasks[id]; exists {
		task.Error = err
		task.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{Label: task.Label, Error: err, Time: time.Now()})
	}
}

func (m *Manager) Task(id int) (Task, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	task, exists := m.tasks[id]
	if !exists {
		return Task{}, false
	}
	return *task, true
}

func statusIndicator(stage progress.Stage) string {
	switch stage {
	case progress.StageComplete:
		return successStyle.Render(StyleSymbols["pass"])
	case progress.StageFailed:
		return errorStyle.Render(StyleSymbols["fail"])
	case progress.StageCancelled:
		return warningStyle.Render(StyleSymbols["warning"])
	case progress.StagePreparing:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(stage progress.Stage, msg string) string {
	switch stage {
	case progress.StageComplete:
		return successStyle.Render(msg)
	case progress.StageFailed:
		return errorStyle.Render(msg)
	case progress.StageCancelled:
		return warningStyle.Render(msg)
	default:
		return pendingStyle.Render(msg)
	}
}

func (m *Manager) sortedTasks() []*Task {
	var all []*Task
	for _, t := range m.tasks {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	return all
}

func (m *Manager) render() []string {
	var lines []string
	for _, t := range m.sortedTasks() {
		elapsed := time.Since(t.StartTime).Round(time.Second)
		if t.done() {
			elapsed = t.LastUpdated.Sub(t.StartTime).Round(time.Second)
		}
		lines = append(lines, fmt.Sprintf("%s%s %s %s %s", strings.Repeat(" ", 2), statusIndicator(t.State.Stage),
			debugStyle.Render(elapsed.String()), detailStyle.Render(t.Label), styleMessage(t.State.Stage, t.State.Message)))
		if t.done() {
			continue
		}
		stream := ProgressBar(t.State.Percent, 30) + debugStyle.Render(t.State.Stage.String())
		if t.State.Step > 0 {
			stream += debugStyle.Render(fmt.Sprintf(" %s step %d/%d", StyleSymbols["bullet"], t.State.Step, t.State.Steps))
		}
		if t.State.BytesTotal > 0 {
			stream += debugStyle.Render(fmt.Sprintf(" %s %s / %s", StyleSymbols["bullet"],
				utils.FormatBytes(uint64(max(0, t.State.BytesDownloaded))), utils.FormatBytes(uint64(t.State.BytesTotal))))
			if !t.StepStart.IsZero() {
				stream += debugStyle.Render(fmt.Sprintf(" %s %s", StyleSymbols["bullet"],
					utils.FormatSpeed(t.State.BytesDownloaded, time.Since(t.StepStart).Seconds())))
			}
		}
		lines = append(lines, strings.Repeat(" ", 2+4)+stream)
	}
	return lines
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	available := getTerminalHeight() - 3
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	lines := m.render()
	if len(lines) > available && available > 0 {
		lines = lines[len(lines)-available:]
	}
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	if !m.live {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
	m.ShowSummary()
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.out)
	var success, failures int
	for _, t := range m.tasks {
		switch {
		case t.Error != nil, t.State.Stage == progress.StageFailed, t.State.Stage == progress.StageCancelled:
			failures++
		case t.State.Stage == progress.StageComplete:
			success++
		}
	}
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.tasks))))
	if failures > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.tasks))))
	}
	if len(m.errors) > 0 {
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
		for i, e := range m.errors {
			fmt.Fprintf(m.out, "%s%s %s %s\n", strings.Repeat(" ", 2+2),
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", e.Time.Format("15:04:05"))),
				errorStyle.Render(e.Label))
			fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", e.Error)))
		}
	}
	fmt.Fprintln(m.out)
}
