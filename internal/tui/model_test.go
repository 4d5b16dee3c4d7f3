package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"petalsmon/internal/chat"
	"petalsmon/internal/config"
	"petalsmon/internal/resources"
	"petalsmon/internal/supervisor"
	"petalsmon/pkg/types"
)

type fakeController struct {
	cfg      config.Config
	saved    []config.Config
	status   types.StatusResponse
	output   types.OutputResponse
	starts   int
	stops    int
	prompts  []string
	startErr error
}

func (f *fakeController) Config() config.Config { return f.cfg }
func (f *fakeController) SaveConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.saved = append(f.saved, cfg)
	f.cfg = cfg
	return nil
}
func (f *fakeController) Models() []types.Model {
	return []types.Model{{Name: "petals-team/StableBeluga2"}, {Name: "gated/model", TokenRequired: true}}
}
func (f *fakeController) Devices(context.Context) ([]types.Device, error) {
	return []types.Device{{Index: 0, UUID: "GPU-abc", Name: "T4"}}, nil
}
func (f *fakeController) StartServer(context.Context) (supervisor.Handle, error) {
	f.starts++
	if f.startErr != nil {
		return supervisor.Handle{}, f.startErr
	}
	f.status = types.StatusResponse{State: "running", PID: 4242, ChatEnabled: true}
	return supervisor.Handle{PID: 4242}, nil
}
func (f *fakeController) StopServer() error {
	f.stops++
	f.status = types.StatusResponse{State: "idle"}
	return nil
}
func (f *fakeController) Status() types.StatusResponse { return f.status }
func (f *fakeController) Output() types.OutputResponse { return f.output }
func (f *fakeController) Resources(context.Context) resources.Snapshot {
	return resources.Snapshot{CPUPercent: 1, MemoryPercent: 2, GPUErr: resources.ErrNoTool}
}
func (f *fakeController) Generate(_ context.Context, prompt string) (chat.Result, error) {
	f.prompts = append(f.prompts, prompt)
	return chat.Result{Prompt: prompt, Text: "Hi there", Elapsed: time.Second}, nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	case "ctrl+w":
		return tea.KeyMsg{Type: tea.KeyCtrlW}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "ctrl+n":
		return tea.KeyMsg{Type: tea.KeyCtrlN}
	case "ctrl+d":
		return tea.KeyMsg{Type: tea.KeyCtrlD}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends msg and runs the returned command once, feeding its message
// back. Commands of typing and ticks only wait on timers and are skipped.
func press(t *testing.T, m Model, msg tea.Msg) (Model, tea.Msg) {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil {
		return m, nil
	}
	if km, ok := msg.(tea.KeyMsg); ok && km.Type == tea.KeyRunes {
		return m, nil
	}
	if _, ok := msg.(tickMsg); ok {
		return m, nil
	}
	out := cmd()
	switch out.(type) {
	case actionMsg, replyMsg, quitMsg, resourcesMsg, devicesMsg:
		next, _ = m.Update(out)
		m = next.(Model)
	}
	return m, out
}

func TestSaveFromForm(t *testing.T) {
	f := &fakeController{cfg: config.Defaults()}
	m := New(f)
	// node name field is focused first
	m.node.SetValue("")
	m, _ = press(t, m, key("box-1"))
	m, _ = press(t, m, key("ctrl+n"))
	m, _ = press(t, m, key("ctrl+w"))
	if len(f.saved) != 1 {
		t.Fatalf("saved=%v err=%q", f.saved, m.errorText)
	}
	got := f.saved[0]
	if got.NodeName != "box-1" || got.ModelID != 1 || got.NumBlocks != 4 {
		t.Fatalf("saved config=%+v", got)
	}

	m.blocks.SetValue("many")
	m, _ = press(t, m, key("ctrl+w"))
	if !strings.Contains(m.errorText, "num_blocks") || len(f.saved) != 1 {
		t.Fatalf("expected num_blocks error, got %q", m.errorText)
	}
}

func TestDeviceChoicesUseStableRefs(t *testing.T) {
	f := &fakeController{cfg: config.Defaults()}
	m := New(f)
	m, _ = press(t, m, devicesMsg{devices: []types.Device{{Index: 0, UUID: "GPU-abc"}}})
	if strings.Join(m.choices, ",") != "cpu,GPU-abc" || m.deviceIdx != 0 {
		t.Fatalf("choices=%v idx=%d", m.choices, m.deviceIdx)
	}
	m, _ = press(t, m, key("ctrl+d"))
	m, _ = press(t, m, key("ctrl+w"))
	if f.cfg.Device != "GPU-abc" {
		t.Fatalf("device=%q", f.cfg.Device)
	}

	// an unknown saved device stays selected
	f.cfg.Device = "GPU-gone"
	m = New(f)
	m, _ = press(t, m, devicesMsg{devices: []types.Device{{Index: 0, UUID: "GPU-abc"}}})
	if m.choices[m.deviceIdx] != "GPU-gone" {
		t.Fatalf("choices=%v idx=%d", m.choices, m.deviceIdx)
	}
}

func TestStartStopToggle(t *testing.T) {
	f := &fakeController{cfg: config.Defaults(), status: types.StatusResponse{State: "idle"}}
	m := New(f)
	m, msg := press(t, m, key("ctrl+s"))
	if f.starts != 1 || len(f.saved) != 1 {
		t.Fatalf("start not issued after save: starts=%d saved=%d", f.starts, len(f.saved))
	}
	if am, ok := msg.(actionMsg); !ok || am.err != nil {
		t.Fatalf("msg=%#v", msg)
	}
	if m.status.State != "running" || !strings.Contains(m.statusText, "4242") {
		t.Fatalf("status=%+v text=%q", m.status, m.statusText)
	}
	m, _ = press(t, m, key("ctrl+s"))
	if f.stops != 1 || m.status.State != "idle" {
		t.Fatalf("stop not issued: stops=%d state=%s", f.stops, m.status.State)
	}
}

func TestStartErrorShown(t *testing.T) {
	f := &fakeController{cfg: config.Defaults(), startErr: errors.New("token: is required")}
	m := New(f)
	m, _ = press(t, m, key("ctrl+s"))
	if m.errorText != "token: is required" || m.busy {
		t.Fatalf("errorText=%q busy=%v", m.errorText, m.busy)
	}
}

func TestPromptNeedsRunningServer(t *testing.T) {
	f := &fakeController{cfg: config.Defaults()}
	m := New(f)
	for i := 0; i < int(focusPrompt); i++ {
		m, _ = press(t, m, key("tab"))
	}
	m, _ = press(t, m, key("hello"))
	m, _ = press(t, m, key("enter"))
	if len(f.prompts) != 0 || !strings.Contains(m.errorText, "Start the server") {
		t.Fatalf("prompt sent without server: %v %q", f.prompts, m.errorText)
	}

	f.status = types.StatusResponse{State: "running", ChatEnabled: true}
	m, _ = press(t, m, tickMsg(time.Now()))
	m, _ = press(t, m, key("enter"))
	if len(f.prompts) != 1 || f.prompts[0] != "hello" || m.reply != "Hi there" || m.generating {
		t.Fatalf("prompts=%v reply=%q generating=%v", f.prompts, m.reply, m.generating)
	}
}

func TestTickRendersOutputAndQuitStopsServer(t *testing.T) {
	f := &fakeController{cfg: config.Defaults(), output: types.OutputResponse{Lines: []string{"Loading blocks: 100%", "Started"}, Version: 3}}
	m := New(f)
	m, _ = press(t, m, tickMsg(time.Now()))
	if m.version != 3 || !strings.Contains(m.View(), "Started") {
		t.Fatalf("output not rendered:\n%s", m.View())
	}
	m, _ = press(t, m, resourcesMsg(f.Resources(context.Background())))
	if !strings.Contains(m.View(), "GPU Information: unavailable") {
		t.Fatalf("resources not rendered:\n%s", m.View())
	}

	f.status = types.StatusResponse{State: "running"}
	m, _ = press(t, m, tickMsg(time.Now()))
	_, msg := press(t, m, key("ctrl+c"))
	if _, ok := msg.(quitMsg); !ok || f.stops != 1 {
		t.Fatalf("quit did not stop server: msg=%#v stops=%d", msg, f.stops)
	}
}
