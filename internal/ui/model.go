// Package ui is the terminal front end of the chat client. It renders the
// conversation transcript as it streams in, along with the latest chart and
// the project's recent runs.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/koscakluka/ema-datachat/core/chat"
	"github.com/koscakluka/ema-datachat/core/conversation"
)

// Session is the part of a chat session the UI drives.
type Session interface {
	Send(ctx context.Context, text string) (conversation.Message, error)
	Snapshot() conversation.Transcript
	SelectDataset(datasetID string)
	DatasetID() string
	ProjectID() string
}

// RunLister loads a project's run history.
type RunLister interface {
	ListRuns(ctx context.Context, projectID string) ([]chat.Run, error)
	ExportRun(ctx context.Context, runID string) (string, error)
}

// TurnRecorder is called with every completed turn.
type TurnRecorder func(ctx context.Context, prompt, answer conversation.Message) error

// TranscriptMsg carries a transcript snapshot taken after a change.
type TranscriptMsg struct {
	Transcript conversation.Transcript
	Change     conversation.Change
}

// TurnCompletedMsg reports that a final answer closed a turn. The project's
// run history is reloaded on every completion.
type TurnCompletedMsg struct {
	TurnID string
	RunID  string
}

type turnDoneMsg struct {
	answer conversation.Message
	err    error
}

type runsMsg struct {
	runs []chat.Run
	err  error
}

type exportMsg struct {
	runID    string
	markdown string
	err      error
}

// turn holds the cancel function of the turn in flight. It is shared between
// copies of the model.
type turn struct {
	cancel context.CancelFunc
}

const (
	headerHeight = 1
	statusHeight = 1
	inputHeight  = 3
	panelHeight  = 8
)

type Model struct {
	session  Session
	runs     RunLister
	recorder TurnRecorder

	transcript conversation.Transcript
	recentRuns []chat.Run
	notice     string
	err        error

	active *turn

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	width, height int
}

type Option func(*Model)

func WithRunLister(runs RunLister) Option {
	return func(m *Model) {
		m.runs = runs
	}
}

func WithTurnRecorder(recorder TurnRecorder) Option {
	return func(m *Model) {
		m.recorder = recorder
	}
}

func New(session Session, opts ...Option) Model {
	input := textarea.New()
	input.Placeholder = "Ask about your data… (/dataset <id>, /export <run id>)"
	input.ShowLineNumbers = false
	input.SetHeight(inputHeight)
	input.CharLimit = 4096
	input.KeyMap.InsertNewline.SetKeys("alt+enter")
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		session:    session,
		transcript: session.Snapshot(),
		active:     &turn{},
		viewport:   viewport.New(80, 20),
		input:      input,
		spinner:    sp,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.refreshViewport()

	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.loadRuns())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TranscriptMsg:
		m.transcript = msg.Transcript
		m.refreshViewport()
		return m, nil

	case turnDoneMsg:
		m.active.cancel = nil
		m.err = msg.err
		m.transcript = m.session.Snapshot()
		m.refreshViewport()
		if errors.Is(msg.err, context.Canceled) {
			m.err = nil
			m.notice = "Turn cancelled, the partial answer is kept."
		}
		return m, nil

	case TurnCompletedMsg:
		return m, m.loadRuns()

	case runsMsg:
		if msg.err != nil {
			m.notice = "Could not load runs: " + msg.err.Error()
			return m, nil
		}
		m.recentRuns = msg.runs
		return m, nil

	case exportMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("export of run %s failed: %w", msg.runID, msg.err)
			return m, nil
		}
		m.viewport.SetContent(msg.markdown)
		m.viewport.GotoTop()
		m.notice = "Showing export of run " + shortID(msg.runID) + ", press esc to return."
		return m, nil

	case spinner.TickMsg:
		if !m.streaming() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.active.cancel != nil {
			m.active.cancel()
		}
		return m, tea.Quit

	case "esc":
		if m.active.cancel != nil {
			m.active.cancel()
			return m, nil
		}
		m.notice = ""
		m.refreshViewport()
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.streaming() {
			return m, nil
		}
		m.input.Reset()
		m.err = nil
		m.notice = ""

		if strings.HasPrefix(text, "/") {
			cmd := m.runCommand(text)
			return m, cmd
		}
		send := m.send(text)
		return m, tea.Batch(send, m.spinner.Tick)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) runCommand(text string) tea.Cmd {
	name, argument, _ := strings.Cut(text, " ")
	argument = strings.TrimSpace(argument)

	switch name {
	case "/dataset":
		m.session.SelectDataset(argument)
		if argument == "" {
			m.notice = "Dataset cleared."
		} else {
			m.notice = "Dataset " + argument + " selected."
		}
		return nil
	case "/export":
		if argument == "" {
			if last, ok := m.latestRunID(); ok {
				argument = last
			}
		}
		if argument == "" || m.runs == nil {
			m.err = errors.New("no run to export")
			return nil
		}
		return m.exportRun(argument)
	case "/runs":
		return m.loadRuns()
	default:
		m.err = fmt.Errorf("unknown command %s", name)
		return nil
	}
}

func (m Model) latestRunID() (string, bool) {
	for i := len(m.transcript) - 1; i >= 0; i-- {
		if m.transcript[i].RunID != "" {
			return m.transcript[i].RunID, true
		}
	}
	return "", false
}

func (m Model) streaming() bool {
	return m.active.cancel != nil
}

// send runs the turn in the background. Transcript updates arrive as
// TranscriptMsg while it streams.
func (m Model) send(text string) tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.active.cancel = cancel

	session := m.session
	recorder := m.recorder
	return func() tea.Msg {
		defer cancel()

		answer, err := session.Send(ctx, text)
		if err != nil {
			return turnDoneMsg{err: err}
		}
		if recorder != nil {
			if prompt, ok := promptFor(session.Snapshot(), answer); ok {
				if err := recorder(context.Background(), prompt, answer); err != nil {
					return turnDoneMsg{answer: answer, err: fmt.Errorf("answer was not saved: %w", err)}
				}
			}
		}
		return turnDoneMsg{answer: answer}
	}
}

// promptFor finds the user message of the answer's turn.
func promptFor(transcript conversation.Transcript, answer conversation.Message) (conversation.Message, bool) {
	for i := len(transcript) - 1; i >= 0; i-- {
		message := transcript[i]
		if message.Role == conversation.RoleUser && message.TurnID == answer.TurnID {
			return message, true
		}
	}
	return conversation.Message{}, false
}

func (m Model) loadRuns() tea.Cmd {
	if m.runs == nil {
		return nil
	}
	runs := m.runs
	projectID := m.session.ProjectID()
	return func() tea.Msg {
		list, err := runs.ListRuns(context.Background(), projectID)
		return runsMsg{runs: list, err: err}
	}
}

func (m Model) exportRun(runID string) tea.Cmd {
	runs := m.runs
	return func() tea.Msg {
		markdown, err := runs.ExportRun(context.Background(), runID)
		return exportMsg{runID: runID, markdown: markdown, err: err}
	}
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	m.viewport.Width = width
	m.viewport.Height = max(height-headerHeight-statusHeight-inputHeight-panelHeight-2, 3)
	m.input.SetWidth(width)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderTranscript(m.transcript, m.viewport.Width))
	if atBottom || m.streaming() {
		m.viewport.GotoBottom()
	}
}

func (m Model) View() string {
	header := headerStyle.Render(fmt.Sprintf("ema-datachat · project %s · dataset %s",
		m.session.ProjectID(), valueOr(m.session.DatasetID(), "none")))

	panelWidth := max(m.width/2-4, 20)
	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Width(panelWidth).Height(panelHeight-2).Render(renderChart(m.transcript.LatestChart(), panelWidth-2)),
		panelStyle.Width(panelWidth).Height(panelHeight-2).Render(renderRuns(m.recentRuns, panelWidth-2)),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		panels,
		m.status(),
		m.input.View(),
	)
}

func (m Model) status() string {
	switch {
	case m.streaming():
		return m.spinner.View() + " " + mutedStyle.Render("Streaming answer, esc to cancel")
	case m.err != nil:
		return errorStyle.Render(m.err.Error())
	case m.notice != "":
		return mutedStyle.Render(m.notice)
	default:
		return mutedStyle.Render("enter to send · alt+enter for a new line · ctrl+c to quit")
	}
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
