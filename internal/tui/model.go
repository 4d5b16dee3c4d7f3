// Package tui is the terminal front end: a sectioned form over the
// controller with the live server console, a resource panel and the chat
// test client.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"petalsmon/internal/chat"
	"petalsmon/internal/command"
	"petalsmon/internal/config"
	"petalsmon/internal/resources"
	"petalsmon/internal/supervisor"
	"petalsmon/internal/validate"
	"petalsmon/pkg/types"
)

// Controller is what the UI drives; *monitor.Controller implements it.
type Controller interface {
	Config() config.Config
	SaveConfig(cfg config.Config) error
	Models() []types.Model
	Devices(ctx context.Context) ([]types.Device, error)
	StartServer(ctx context.Context) (supervisor.Handle, error)
	StopServer() error
	Status() types.StatusResponse
	Output() types.OutputResponse
	Resources(ctx context.Context) resources.Snapshot
	Generate(ctx context.Context, prompt string) (chat.Result, error)
}

const pollInterval = 250 * time.Millisecond

type focus int

const (
	focusNode focus = iota
	focusToken
	focusBlocks
	focusPrompt
	focusCount
)

type (
	tickMsg      time.Time
	resourcesMsg resources.Snapshot
	devicesMsg   struct {
		devices []types.Device
		err     error
	}
	actionMsg struct {
		status string
		err    error
	}
	replyMsg struct {
		res chat.Result
		err error
	}
	quitMsg struct{}
)

// Model is the bubbletea model.
type Model struct {
	ctl    Controller
	models []types.Model

	node    textinput.Model
	token   textinput.Model
	blocks  textinput.Model
	prompt  textinput.Model
	focus   focus
	output  viewport.Model
	reply   string
	usage   string
	version uint64

	modelIdx   int
	choices    []string
	deviceIdx  int
	status     types.StatusResponse
	generating bool
	busy       bool
	statusText string
	errorText  string
	width      int
	height     int
}

// New builds the model from the controller's current config.
func New(ctl Controller) Model {
	cfg := ctl.Config()
	newInput := func(placeholder, value string) textinput.Model {
		ti := textinput.New()
		ti.Prompt = ""
		ti.Placeholder = placeholder
		ti.CharLimit = 256
		ti.Width = 40
		ti.SetValue(value)
		return ti
	}
	m := Model{
		ctl:        ctl,
		models:     ctl.Models(),
		node:       newInput("Unnamed", cfg.NodeName),
		token:      newInput("hf_...", cfg.Token),
		blocks:     newInput("-1 for auto", strconv.Itoa(int(cfg.NumBlocks))),
		prompt:     newInput("Ask the running model something", ""),
		output:     viewport.New(80, 12),
		modelIdx:   cfg.ModelID,
		choices:    []string{string(cfg.Device)},
		usage:      "Sampling resources...",
		statusText: "Ready.",
	}
	m.token.EchoMode = textinput.EchoPassword
	m.output.SetContent("Server console is empty.")
	m.applyFocus()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), sampleCmd(m.ctl), devicesCmd(m.ctl), textinput.Blink)
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func sampleCmd(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return resourcesMsg(ctl.Resources(ctx))
	}
}

func devicesCmd(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		devices, err := ctl.Devices(ctx)
		return devicesMsg{devices: devices, err: err}
	}
}

func startCmd(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		h, err := ctl.StartServer(context.Background())
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: fmt.Sprintf("Server started (pid %d).", h.PID)}
	}
}

func stopCmd(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctl.StopServer(); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: "Server stopped."}
	}
}

func generateCmd(ctl Controller, prompt string) tea.Cmd {
	return func() tea.Msg {
		res, err := ctl.Generate(context.Background(), prompt)
		return replyMsg{res: res, err: err}
	}
}

func quitCmd(ctl Controller, running bool) tea.Cmd {
	return func() tea.Msg {
		if running {
			_ = ctl.StopServer()
		}
		return quitMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.output.Width = max(20, msg.Width-4)
		m.output.Height = max(5, msg.Height-22)
		return m, nil

	case tickMsg:
		m.status = m.ctl.Status()
		out := m.ctl.Output()
		if out.Version != m.version {
			follow := m.output.AtBottom()
			m.version = out.Version
			m.output.SetContent(strings.Join(out.Lines, "\n"))
			if follow {
				m.output.GotoBottom()
			}
		}
		return m, tickCmd()

	case resourcesMsg:
		m.usage = strings.TrimRight(resources.Snapshot(msg).Text(), "\n")
		return m, nil

	case devicesMsg:
		if msg.err != nil {
			m.errorText = "GPU detection failed: " + msg.err.Error()
		}
		m.setDevices(msg.devices)
		return m, nil

	case actionMsg:
		m.busy = false
		m.status = m.ctl.Status()
		if msg.err != nil {
			m.errorText = msg.err.Error()
			return m, nil
		}
		m.errorText = ""
		m.statusText = msg.status
		return m, sampleCmd(m.ctl)

	case replyMsg:
		m.generating = false
		if msg.err != nil {
			m.errorText = "Generation failed: " + msg.err.Error()
			return m, nil
		}
		m.errorText = ""
		m.reply = msg.res.Text
		m.statusText = fmt.Sprintf("Reply in %s.", msg.res.Elapsed.Round(time.Millisecond))
		return m, nil

	case quitMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.statusText = "Shutting down..."
			return m, quitCmd(m.ctl, m.status.State == string(supervisor.StateRunning))
		case "tab":
			m.focus = (m.focus + 1) % focusCount
			m.applyFocus()
			return m, nil
		case "shift+tab":
			m.focus = (m.focus + focusCount - 1) % focusCount
			m.applyFocus()
			return m, nil
		case "ctrl+n":
			if len(m.models) > 0 {
				m.modelIdx = (m.modelIdx + 1) % len(m.models)
			}
			return m, nil
		case "ctrl+d":
			if len(m.choices) > 0 {
				m.deviceIdx = (m.deviceIdx + 1) % len(m.choices)
			}
			return m, nil
		case "ctrl+r":
			m.statusText = "Refreshing resource usage..."
			return m, sampleCmd(m.ctl)
		case "ctrl+w":
			if err := m.save(); err != nil {
				m.errorText = err.Error()
				return m, nil
			}
			m.errorText = ""
			m.statusText = "Config saved."
			return m, nil
		case "ctrl+s":
			if m.busy {
				return m, nil
			}
			if m.status.State == string(supervisor.StateRunning) {
				m.busy = true
				m.statusText = "Stopping server..."
				return m, stopCmd(m.ctl)
			}
			if err := m.save(); err != nil {
				m.errorText = err.Error()
				return m, nil
			}
			m.busy = true
			m.statusText = "Starting server..."
			return m, startCmd(m.ctl)
		case "enter":
			if m.focus != focusPrompt {
				return m, nil
			}
			return m.submit()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.output, cmd = m.output.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	switch m.focus {
	case focusNode:
		m.node, cmd = m.node.Update(msg)
	case focusToken:
		m.token, cmd = m.token.Update(msg)
	case focusBlocks:
		m.blocks, cmd = m.blocks.Update(msg)
	case focusPrompt:
		m.prompt, cmd = m.prompt.Update(msg)
	}
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if !m.status.ChatEnabled {
		m.errorText = "Start the server to chat with the model."
		return m, nil
	}
	if m.generating {
		return m, nil
	}
	prompt := strings.TrimSpace(m.prompt.Value())
	if prompt == "" {
		return m, nil
	}
	m.generating = true
	m.reply = ""
	m.statusText = "Generating..."
	return m, generateCmd(m.ctl, prompt)
}

func (m *Model) applyFocus() {
	inputs := []*textinput.Model{&m.node, &m.token, &m.blocks, &m.prompt}
	for i, in := range inputs {
		if focus(i) == m.focus {
			in.Focus()
		} else {
			in.Blur()
		}
	}
}

// setDevices rebuilds the device choices, keeping the saved selection.
func (m *Model) setDevices(devices []types.Device) {
	current := m.choices[m.deviceIdx]
	choices := []string{string(config.DeviceCPU)}
	for _, d := range devices {
		choices = append(choices, string(command.StableRef(d)))
	}
	m.deviceIdx = 0
	found := false
	for i, c := range choices {
		if c == current {
			m.deviceIdx, found = i, true
		}
	}
	if !found && current != string(config.DeviceCPU) {
		// keep an unknown saved device selectable rather than silently
		// switching to cpu
		choices = append(choices, current)
		m.deviceIdx = len(choices) - 1
	}
	m.choices = choices
}

// formConfig applies the form to the controller's config.
func (m Model) formConfig() (config.Config, error) {
	cfg := m.ctl.Config()
	cfg.NodeName = strings.TrimSpace(m.node.Value())
	cfg.Token = strings.TrimSpace(m.token.Value())
	cfg.ModelID = m.modelIdx
	cfg.Device = config.DeviceRef(m.choices[m.deviceIdx])
	b := strings.TrimSpace(m.blocks.Value())
	if b == "" {
		cfg.NumBlocks = config.AutoBlocks
	} else {
		n, err := strconv.Atoi(b)
		if err != nil {
			return cfg, validate.Errorf("num_blocks", fmt.Sprintf("%q is not a number", b))
		}
		cfg.NumBlocks = config.Blocks(n)
	}
	return cfg, nil
}

func (m Model) save() error {
	cfg, err := m.formConfig()
	if err != nil {
		return err
	}
	return m.ctl.SaveConfig(cfg)
}

func (m Model) View() string {
	var b strings.Builder
	state := m.status.State
	if state == "" {
		state = string(supervisor.StateIdle)
	}
	b.WriteString(headerStyle.Render("petalsmon") + statusStyle.Render(" server: "+state))
	if m.status.PID > 0 {
		b.WriteString(helpStyle.Render(fmt.Sprintf("  pid %d", m.status.PID)))
	}
	b.WriteString("\n\n")

	modelName := "(catalog empty)"
	if mod, ok := m.selectedModel(); ok {
		modelName = mod.Name
		if mod.RequiresToken() {
			modelName += " (token required)"
		}
	}
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}
	row("Node Name", m.node.View())
	row("Model", modelName)
	row("Device", m.choices[m.deviceIdx])
	row("Token", m.token.View())
	row("Blocks", m.blocks.View())
	b.WriteString("\n")

	b.WriteString(panelStyle.Render(panelTitleStyle.Render("Server Output") + "\n" + m.output.View()))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(panelTitleStyle.Render("Resource Usage") + "\n" + m.usage))
	b.WriteString("\n")

	row("Prompt", m.prompt.View())
	if m.reply != "" {
		b.WriteString(lipgloss.NewStyle().PaddingLeft(2).Render(m.reply) + "\n")
	}
	if m.errorText != "" {
		b.WriteString(errorStyle.Render(m.errorText) + "\n")
	} else {
		b.WriteString(statusStyle.Render(m.statusText) + "\n")
	}
	b.WriteString(helpStyle.Render("ctrl+s start/stop • ctrl+w save • ctrl+r usage • ctrl+n model • ctrl+d device • tab focus • ctrl+c quit"))
	return b.String()
}

func (m Model) selectedModel() (types.Model, bool) {
	if m.modelIdx < 0 || m.modelIdx >= len(m.models) {
		return types.Model{}, false
	}
	return m.models[m.modelIdx], true
}

// Run starts the program in the alternate screen and blocks until quit.
func Run(ctl Controller) error {
	_, err := tea.NewProgram(New(ctl), tea.WithAltScreen()).Run()
	return err
}
