//go:build !windows

package e2e

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"petalsmon/internal/history"
	"petalsmon/pkg/types"
)

// freePort picks an available TCP port on localhost.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

type binEnv struct {
	bin string
	dir string
	env []string
}

func newBinEnv(t *testing.T) *binEnv {
	t.Helper()
	bin := goBuild(t, "petalsmon", "./cmd/petalsmon")
	python := goBuild(t, "fake_python", "./internal/e2e/testdata/fake_python.go")
	dir := t.TempDir()
	return &binEnv{
		bin: bin,
		dir: dir,
		env: append(os.Environ(),
			"PETALSMON_CONFIG="+filepath.Join(dir, "config.yaml"),
			"PETALSMON_CATALOG="+writeCatalog(t, dir),
			"PETALSMON_HISTORY="+filepath.Join(dir, "history.db"),
			"PETALSMON_PYTHON="+python,
			"PETALSMON_CHAT_URL=http://127.0.0.1:1",
			"PETALSMON_LOG_LEVEL=debug",
		),
	}
}

func (b *binEnv) command(args ...string) *exec.Cmd {
	cmd := exec.Command(b.bin, append([]string{"--env-file", filepath.Join(b.dir, "none.env")}, args...)...)
	cmd.Env = b.env
	cmd.Dir = b.dir
	return cmd
}

func (b *binEnv) output(t *testing.T, args ...string) string {
	t.Helper()
	out, err := b.command(args...).Output()
	if err != nil {
		t.Fatalf("petalsmon %s: %v", strings.Join(args, " "), err)
	}
	return string(out)
}

func TestBlackbox_Version(t *testing.T) {
	b := newBinEnv(t)
	if out := b.output(t, "version"); !strings.HasPrefix(out, "petalsmon ") {
		t.Fatalf("version output %q", out)
	}
}

// TestBlackbox_ServeStopsServerOnSignal runs the binary, starts a node over
// HTTP and checks that SIGTERM to petalsmon takes the node down with it.
func TestBlackbox_ServeStopsServerOnSignal(t *testing.T) {
	b := newBinEnv(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", freePort(t))
	cmd := b.command("serve", "--addr", strings.TrimPrefix(base, "http://"))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start petalsmon: %v", err)
	}
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	eventually(t, 5*time.Second, "healthz", func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	resp, body := do(t, http.MethodPost, base+"/server/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", resp.StatusCode, body)
	}
	var st types.StatusResponse
	decode(t, body, &st)
	eventually(t, 5*time.Second, "server ready", func() bool {
		_, body := do(t, http.MethodGet, base+"/server/output?tail=1", nil)
		var out types.OutputResponse
		decode(t, body, &out)
		return len(out.Lines) == 1 && out.Lines[0] == "Started"
	})

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	select {
	case err := <-waitErr:
		if err != nil {
			t.Fatalf("petalsmon exit: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("petalsmon did not exit after SIGTERM")
	}
	if err := syscall.Kill(st.PID, syscall.Signal(0)); err == nil {
		t.Fatalf("node pid %d still alive", st.PID)
	}

	var runs []history.Run
	if err := json.Unmarshal([]byte(b.output(t, "history", "--json")), &runs); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(runs) != 1 || runs[0].PID != st.PID || !runs[0].Requested || runs[0].ExitCode == nil {
		t.Fatalf("unexpected history: %+v", runs)
	}
}

func TestBlackbox_ConfigInit(t *testing.T) {
	b := newBinEnv(t)
	path := strings.TrimSpace(b.output(t, "config", "init"))
	if path != filepath.Join(b.dir, "config.yaml") {
		t.Fatalf("config init printed %q", path)
	}
	if err := b.command("config", "init").Run(); err == nil {
		t.Fatal("second init without --force should fail")
	}
	if out := b.output(t, "config", "show"); !strings.Contains(out, "device: cpu") {
		t.Fatalf("config show: %q", out)
	}
}
