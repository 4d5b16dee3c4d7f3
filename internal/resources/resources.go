// Package resources samples host CPU, memory and GPU usage for the status
// panel. Probe failures are recorded on the Snapshot and rendered as
// "unavailable"; they are never returned to the caller.
package resources

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"petalsmon/pkg/types"
)

const (
	defaultToolTimeout = 5 * time.Second
	nvidiaSMI          = "nvidia-smi"
	unavailable        = "unavailable"
)

// ErrNoTool reports that nvidia-smi is not installed.
var ErrNoTool = errors.New("nvidia-smi not found")

// Runner executes an external tool and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the tool with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrNoTool
	}
	return exec.CommandContext(ctx, name, args...).Output()
}

// Snapshot is one resource sample.
type Snapshot struct {
	Taken         time.Time        `json:"taken"`
	CPUPercent    float64          `json:"cpu_percent"`
	MemoryPercent float64          `json:"memory_percent"`
	GPU           []types.GPUUsage `json:"gpu"`
	// GPUText is the plain nvidia-smi report, shown as is when present.
	GPUText string `json:"gpu_text,omitempty"`
	CPUErr  error  `json:"-"`
	MemErr  error  `json:"-"`
	GPUErr  error  `json:"-"`
}

// Text renders the snapshot as the multi-line status panel.
func (s Snapshot) Text() string {
	var b strings.Builder
	if s.CPUErr != nil {
		b.WriteString("CPU Usage: " + unavailable + "\n")
	} else {
		fmt.Fprintf(&b, "CPU Usage: %.1f%%\n", s.CPUPercent)
	}
	if s.MemErr != nil {
		b.WriteString("Memory Usage: " + unavailable + "\n")
	} else {
		fmt.Fprintf(&b, "Memory Usage: %.1f%%\n", s.MemoryPercent)
	}
	b.WriteString("GPU Information:")
	switch {
	case strings.TrimSpace(s.GPUText) != "":
		b.WriteString("\n" + strings.TrimRight(s.GPUText, "\n") + "\n")
	case s.GPUErr != nil:
		b.WriteString(" " + unavailable + "\n")
	case len(s.GPU) == 0:
		b.WriteString(" none\n")
	default:
		b.WriteString("\n")
		for _, g := range s.GPU {
			fmt.Fprintf(&b, "  [%d] %s: %.0f%% util, %d/%d MiB\n", g.Index, g.Name, g.Utilization, g.MemUsedMiB, g.MemTotalMiB)
		}
	}
	return b.String()
}

// Options configures a Sampler.
type Options struct {
	// ToolTimeout bounds each nvidia-smi invocation.
	ToolTimeout time.Duration
	// CPUInterval is passed to cpu.Percent; zero compares against the
	// previous call.
	CPUInterval time.Duration
	Runner      Runner
	Logger      zerolog.Logger

	cpuPercent func(ctx context.Context, interval time.Duration) (float64, error)
	memPercent func(ctx context.Context) (float64, error)
}

// Sampler probes host resources.
type Sampler struct {
	opts Options
	log  zerolog.Logger
}

// New returns a sampler using gopsutil and nvidia-smi.
func New(opts Options) *Sampler {
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = defaultToolTimeout
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner
	}
	if opts.cpuPercent == nil {
		opts.cpuPercent = hostCPU
	}
	if opts.memPercent == nil {
		opts.memPercent = hostMem
	}
	return &Sampler{opts: opts, log: opts.Logger.With().Str("component", "resources").Logger()}
}

func hostCPU(ctx context.Context, interval time.Duration) (float64, error) {
	p, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, errors.New("no cpu sample")
	}
	return p[0], nil
}

func hostMem(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// Sample takes one snapshot. It never fails; see the Err fields.
func (s *Sampler) Sample(ctx context.Context) Snapshot {
	snap := Snapshot{Taken: time.Now()}
	snap.CPUPercent, snap.CPUErr = s.opts.cpuPercent(ctx, s.opts.CPUInterval)
	snap.MemoryPercent, snap.MemErr = s.opts.memPercent(ctx)
	snap.GPUText, snap.GPU, snap.GPUErr = s.gpu(ctx)
	if snap.CPUErr != nil || snap.MemErr != nil {
		s.log.Debug().AnErr("cpu", snap.CPUErr).AnErr("mem", snap.MemErr).Msg("host probe failed")
	}
	if snap.GPUErr != nil && !errors.Is(snap.GPUErr, ErrNoTool) {
		s.log.Debug().Err(snap.GPUErr).Msg("gpu probe failed")
	}
	return snap
}

func (s *Sampler) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ToolTimeout)
	defer cancel()
	return s.opts.Runner(ctx, nvidiaSMI, args...)
}

// gpu returns the plain report and the per-GPU usage. Either may fail
// alone; err is the usage query's failure.
func (s *Sampler) gpu(ctx context.Context) (string, []types.GPUUsage, error) {
	report, err := s.run(ctx)
	if errors.Is(err, ErrNoTool) {
		return "", nil, err
	}
	if err != nil {
		s.log.Debug().Err(err).Msg("nvidia-smi report failed")
		report = nil
	}
	out, err := s.run(ctx, "--query-gpu=index,name,utilization.gpu,memory.used,memory.total", "--format=csv,noheader,nounits")
	if err != nil {
		return string(report), nil, err
	}
	usage, err := parseUsage(string(out))
	return string(report), usage, err
}

// ListDevices enumerates GPUs in their current order. A missing tool yields
// an empty list; other failures are returned.
func (s *Sampler) ListDevices(ctx context.Context) ([]types.Device, error) {
	out, err := s.run(ctx, "--query-gpu=index,uuid,name", "--format=csv,noheader")
	if errors.Is(err, ErrNoTool) {
		return []types.Device{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list gpus: %w", err)
	}
	return parseDevices(string(out))
}

func csvRows(output string, want int) ([][]string, error) {
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < want {
			return nil, fmt.Errorf("unexpected nvidia-smi line %q", line)
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		rows = append(rows, fields)
	}
	return rows, nil
}

func parseDevices(output string) ([]types.Device, error) {
	rows, err := csvRows(output, 3)
	if err != nil {
		return nil, err
	}
	devices := make([]types.Device, 0, len(rows))
	for _, f := range rows {
		idx, err := strconv.Atoi(f[0])
		if err != nil {
			return nil, fmt.Errorf("gpu index %q: %w", f[0], err)
		}
		// names may contain commas
		devices = append(devices, types.Device{Index: idx, UUID: f[1], Name: strings.Join(f[2:], ",")})
	}
	return devices, nil
}

func parseUsage(output string) ([]types.GPUUsage, error) {
	rows, err := csvRows(output, 5)
	if err != nil {
		return nil, err
	}
	usage := make([]types.GPUUsage, 0, len(rows))
	for _, f := range rows {
		n := len(f)
		idx, err := strconv.Atoi(f[0])
		if err != nil {
			return nil, fmt.Errorf("gpu index %q: %w", f[0], err)
		}
		u := types.GPUUsage{Index: idx, Name: strings.Join(f[1:n-3], ",")}
		// "[N/A]" shows up on some boards; leave those at zero.
		u.Utilization, _ = strconv.ParseFloat(f[n-3], 64)
		u.MemUsedMiB, _ = strconv.Atoi(f[n-2])
		u.MemTotalMiB, _ = strconv.Atoi(f[n-1])
		usage = append(usage, u)
	}
	return usage, nil
}

// Response converts the snapshot to its API payload.
func (s Snapshot) Response() types.ResourcesResponse {
	r := types.ResourcesResponse{Taken: s.Taken, GPU: s.GPU, GPUText: s.GPUText, Text: s.Text()}
	if r.GPU == nil {
		r.GPU = []types.GPUUsage{}
	}
	errs := map[string]string{}
	if s.CPUErr != nil {
		errs["cpu"] = s.CPUErr.Error()
	} else {
		v := s.CPUPercent
		r.CPUPercent = &v
	}
	if s.MemErr != nil {
		errs["memory"] = s.MemErr.Error()
	} else {
		v := s.MemoryPercent
		r.MemoryPercent = &v
	}
	if s.GPUErr != nil {
		errs["gpu"] = s.GPUErr.Error()
	}
	if len(errs) > 0 {
		r.Errors = errs
	}
	return r
}
