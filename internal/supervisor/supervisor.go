package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"petalsmon/internal/validate"
)

// Defaults applied when corresponding Options fields are unset.
const (
	defaultGracePeriod  = 5 * time.Second
	defaultDrainTimeout = 1 * time.Second
	defaultKillWait     = 2 * time.Second
	defaultBufferSize   = 256
	readChunkSize       = 4096
)

// Options encapsulates all tunables for Supervisor construction.
type Options struct {
	// GracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	// DrainTimeout bounds how long output is drained after the child exits;
	// grandchildren still holding the pipe do not delay the exit message
	// past it.
	DrainTimeout time.Duration
	// KillWait bounds the wait after SIGKILL.
	KillWait time.Duration
	// BufferSize is the capacity of the Output channel.
	BufferSize int
	Env        []string
	Dir        string
	Publisher  EventPublisher
	Logger     zerolog.Logger
}

// Supervisor owns the single child-process handle.
type Supervisor struct {
	opts Options
	log  zerolog.Logger
	pub  EventPublisher
	out  chan Output

	mu     sync.Mutex
	state  State
	cur    *proc
	nextID uint64
}

type proc struct {
	handle    Handle
	cmd       *exec.Cmd
	exited    chan struct{} // closed once Wait returned and state is idle
	status    ExitStatus    // valid after exited is closed
	requested atomic.Bool
	killed    atomic.Bool
}

// New constructs an idle Supervisor, applying defaults to unset options.
func New(opts Options) *Supervisor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.KillWait <= 0 {
		opts.KillWait = defaultKillWait
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	pub := opts.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Supervisor{
		opts:  opts,
		log:   opts.Logger.With().Str("component", "supervisor").Logger(),
		pub:   pub,
		out:   make(chan Output, opts.BufferSize),
		state: StateIdle,
	}
}

// Output returns the stream of console chunks and exit messages. It is never
// closed; one consumer is expected for the lifetime of the Supervisor.
func (s *Supervisor) Output() <-chan Output { return s.out }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the handle of the live child, if any.
func (s *Supervisor) Current() (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return Handle{}, false
	}
	return s.cur.handle, true
}

func (s *Supervisor) setStateLocked(st State) {
	s.state = st
	setStateMetric(st)
}

// Start spawns argv with stdout and stderr merged on one pipe. It is valid
// only while idle; otherwise a *UsageError is returned and the running child
// is left alone. A launch failure returns a *SpawnError and leaves the
// supervisor idle.
func (s *Supervisor) Start(argv []string) (Handle, error) {
	if len(argv) == 0 || argv[0] == "" {
		return Handle{}, validate.Errorf("argv", "is empty")
	}
	shown := RedactArgv(argv)
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return Handle{}, &UsageError{Op: "start", State: st}
	}
	s.setStateLocked(StateStarting)
	s.nextID++
	runID := s.nextID
	s.mu.Unlock()

	p, pr, err := s.spawn(runID, argv, shown)
	if err != nil {
		s.mu.Lock()
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		startsTotal.WithLabelValues("spawn_error").Inc()
		s.log.Error().Err(err).Strs("argv", shown).Msg("spawn failed")
		s.pub.Publish(Event{Name: "spawn_error", RunID: runID, Fields: map[string]any{"argv": shown, "error": err.Error()}})
		return Handle{}, &SpawnError{Argv: shown, Err: err}
	}

	s.mu.Lock()
	s.cur = p
	s.setStateLocked(StateRunning)
	s.mu.Unlock()
	startsTotal.WithLabelValues("ok").Inc()
	s.log.Info().Uint64("run", runID).Int("pid", p.handle.PID).Strs("argv", shown).Msg("server started")
	s.pub.Publish(Event{Name: "spawn_start", RunID: runID, Fields: map[string]any{"pid": p.handle.PID, "argv": p.handle.Argv}})

	readDone := make(chan struct{})
	go s.read(p, pr, readDone)
	go s.wait(p, pr, readDone)
	return p.handle, nil
}

// spawn runs argv; shown is its redacted form kept on the handle.
func (s *Supervisor) spawn(runID uint64, argv, shown []string) (*proc, *os.File, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("pipe: %w", err)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = nil
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.Dir = s.opts.Dir
	if len(s.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), s.opts.Env...)
	}
	configureProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, nil, err
	}
	// The child holds its own copy; ours must go so EOF arrives on exit.
	_ = pw.Close()
	return &proc{
		handle: Handle{
			RunID:   runID,
			PID:     cmd.Process.Pid,
			Argv:    shown,
			Started: time.Now(),
		},
		cmd:    cmd,
		exited: make(chan struct{}),
	}, pr, nil
}

// read forwards console chunks, then the exit message once the waiter has
// recorded the status. It is the only sender for its run, which keeps the
// exit message last.
func (s *Supervisor) read(p *proc, pr *os.File, done chan<- struct{}) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := pr.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			outputBytesTotal.Add(float64(n))
			s.out <- Output{RunID: p.handle.RunID, Data: data}
		}
		if err != nil {
			break
		}
	}
	close(done)
	<-p.exited
	_ = pr.Close()
	st := p.status
	s.out <- Output{RunID: p.handle.RunID, Exit: &st}
}

// wait reaps the child and returns the supervisor to idle.
func (s *Supervisor) wait(p *proc, pr *os.File, readDone <-chan struct{}) {
	werr := p.cmd.Wait()
	select {
	case <-readDone:
	case <-time.After(s.opts.DrainTimeout):
		s.log.Warn().Uint64("run", p.handle.RunID).Msg("output still open after exit, closing pipe")
		_ = pr.Close()
	}
	st := s.exitStatus(p, werr)

	s.mu.Lock()
	p.status = st
	if s.cur == p {
		s.cur = nil
	}
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	exitsTotal.WithLabelValues(exitReason(st)).Inc()
	ev := s.log.Info()
	if st.Err != nil {
		ev = s.log.Warn().Err(st.Err)
	}
	ev.Uint64("run", p.handle.RunID).Int("pid", p.handle.PID).Int("code", st.Code).
		Bool("requested", st.Requested).Bool("killed", st.Killed).Dur("uptime", st.Duration).Msg("server exited")
	fields := map[string]any{"pid": p.handle.PID, "code": st.Code, "requested": st.Requested, "killed": st.Killed}
	if st.Err != nil {
		fields["error"] = st.Err.Error()
	}
	s.pub.Publish(Event{Name: "spawn_exit", RunID: p.handle.RunID, Fields: fields})
	close(p.exited)
}

func (s *Supervisor) exitStatus(p *proc, werr error) ExitStatus {
	st := ExitStatus{
		Requested: p.requested.Load(),
		Killed:    p.killed.Load(),
		Duration:  time.Since(p.handle.Started),
	}
	var ee *exec.ExitError
	switch {
	case werr == nil:
		st.Code = 0
	case errors.As(werr, &ee):
		st.Code = ee.ExitCode()
		if !st.Requested {
			st.Err = &ExitError{Code: st.Code, Desc: ee.ProcessState.String()}
		}
	default:
		st.Code = -1
		st.Err = werr
	}
	return st
}

// Stop asks the running child to terminate and returns once it has exited.
// After GracePeriod the child is killed; Stop never blocks longer than
// GracePeriod plus KillWait. It is valid only while running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning || s.cur == nil {
		st := s.state
		s.mu.Unlock()
		return &UsageError{Op: "stop", State: st}
	}
	p := s.cur
	p.requested.Store(true)
	s.setStateLocked(StateStopping)
	s.mu.Unlock()

	start := time.Now()
	s.log.Info().Uint64("run", p.handle.RunID).Int("pid", p.handle.PID).Msg("stopping server")
	s.pub.Publish(Event{Name: "spawn_stop", RunID: p.handle.RunID, Fields: map[string]any{"pid": p.handle.PID}})
	if err := terminate(p.cmd.Process); err != nil {
		s.log.Debug().Err(err).Msg("terminate signal failed")
	}

	select {
	case <-p.exited:
		stopDuration.Observe(time.Since(start).Seconds())
		return nil
	case <-time.After(s.opts.GracePeriod):
	}

	p.killed.Store(true)
	s.log.Warn().Uint64("run", p.handle.RunID).Dur("grace", s.opts.GracePeriod).Msg("grace period elapsed, killing server")
	s.pub.Publish(Event{Name: "spawn_kill", RunID: p.handle.RunID, Fields: map[string]any{"pid": p.handle.PID}})
	if err := kill(p.cmd.Process); err != nil {
		s.log.Debug().Err(err).Msg("kill failed")
	}
	select {
	case <-p.exited:
		stopDuration.Observe(time.Since(start).Seconds())
		return nil
	case <-time.After(s.opts.KillWait):
		return fmt.Errorf("server pid %d did not exit after kill", p.handle.PID)
	}
}

// Close stops a running child, if any. Best effort.
func (s *Supervisor) Close() error {
	switch s.State() {
	case StateRunning:
		return s.Stop()
	case StateStopping:
		s.mu.Lock()
		p := s.cur
		s.mu.Unlock()
		if p != nil {
			select {
			case <-p.exited:
			case <-time.After(s.opts.GracePeriod + s.opts.KillWait):
			}
		}
	}
	return nil
}
