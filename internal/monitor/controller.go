package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"petalsmon/internal/catalog"
	"petalsmon/internal/chat"
	"petalsmon/internal/command"
	"petalsmon/internal/config"
	"petalsmon/internal/history"
	"petalsmon/internal/render"
	"petalsmon/internal/resources"
	"petalsmon/internal/supervisor"
	"petalsmon/internal/validate"
	"petalsmon/pkg/types"
)

// Sampler is the resource probe used by the controller.
type Sampler interface {
	Sample(ctx context.Context) resources.Snapshot
	ListDevices(ctx context.Context) ([]types.Device, error)
}

// Options configures a Controller. Zero values take package defaults.
type Options struct {
	// Python is argv[0] of the server command.
	Python   string
	MaxLines int

	GracePeriod  time.Duration
	DrainTimeout time.Duration
	// Env is appended to the server's environment.
	Env []string
	// Console, when set, receives the raw server output as read.
	Console io.Writer

	// ChatBackend serves the test client; nil disables chat.
	ChatBackend chat.Backend
	ChatTimeout time.Duration
	// ChatEchoesPrompt marks a backend whose replies start with the prompt.
	ChatEchoesPrompt bool

	Sampler Sampler
	// History, when set, records every run.
	History *history.Store
	// Publisher receives supervisor lifecycle events in addition to history.
	Publisher supervisor.EventPublisher
	Logger    zerolog.Logger
}

// Controller wires the components together.
type Controller struct {
	store   *config.Store
	models  []types.Model
	sup     *supervisor.Supervisor
	sampler Sampler
	hist    *history.Store
	opts    Options
	log     zerolog.Logger

	mu  sync.RWMutex
	cfg config.Config
	buf *render.Buffer
	// runID is the run the buffer shows.
	runID uint64
	// liveRun is the run the chat session belongs to.
	liveRun uint64
	model   string
	chat    *chat.Client
	// exitRun is the run lastExit describes.
	exitRun  uint64
	lastExit *supervisor.ExitStatus
	// pending counts started runs whose exit message is still unread.
	pending int
	closed  bool

	startMu   sync.Mutex
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

// New loads the node config and starts the output loop. A corrupt config
// file is returned as an error and left untouched.
func New(store *config.Store, models []types.Model, opts Options) (*Controller, error) {
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}
	if opts.Python == "" {
		opts.Python = command.DefaultPython
	}
	if opts.Sampler == nil {
		opts.Sampler = resources.New(resources.Options{Logger: opts.Logger})
	}
	log := opts.Logger.With().Str("component", "monitor").Logger()

	pubs := supervisor.MultiPublisher{}
	if opts.History != nil {
		pubs = append(pubs, history.NewRecorder(opts.History, opts.Logger))
	}
	if opts.Publisher != nil {
		pubs = append(pubs, opts.Publisher)
	}
	sup := supervisor.New(supervisor.Options{
		GracePeriod:  opts.GracePeriod,
		DrainTimeout: opts.DrainTimeout,
		Env:          opts.Env,
		Publisher:    pubs,
		Logger:       opts.Logger,
	})

	c := &Controller{
		store:    store,
		models:   append([]types.Model(nil), models...),
		sup:      sup,
		sampler:  opts.Sampler,
		hist:     opts.History,
		opts:     opts,
		log:      log,
		cfg:      cfg,
		buf:      render.New(opts.MaxLines),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go c.loop()
	return c, nil
}

// Config returns the current node config.
func (c *Controller) Config() config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SaveConfig validates and persists cfg. It takes effect on the next start.
func (c *Controller) SaveConfig(cfg config.Config) error {
	if cfg.ModelID >= len(c.models) && len(c.models) > 0 {
		return validate.Errorf("model_id", fmt.Sprintf("must be below %d", len(c.models)))
	}
	if err := c.store.Save(cfg); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.log.Info().Str("path", c.store.Path()).Msg("config saved")
	return nil
}

// Models returns the catalog.
func (c *Controller) Models() []types.Model {
	return append([]types.Model(nil), c.models...)
}

// Devices enumerates GPUs.
func (c *Controller) Devices(ctx context.Context) ([]types.Device, error) {
	return c.sampler.ListDevices(ctx)
}

// StartServer saves the current config, builds the server command from it
// and starts the server.
func (c *Controller) StartServer(ctx context.Context) (supervisor.Handle, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	c.mu.RLock()
	closed := c.closed
	cfg := c.cfg
	c.mu.RUnlock()
	if closed {
		return supervisor.Handle{}, ErrClosed
	}
	if st := c.sup.State(); st != supervisor.StateIdle {
		return supervisor.Handle{}, &supervisor.UsageError{Op: "start", State: st}
	}

	if err := c.store.Save(cfg); err != nil {
		return supervisor.Handle{}, err
	}
	model, ok := catalog.At(c.models, cfg.ModelID)
	if !ok {
		return supervisor.Handle{}, validate.Errorf("model_id", fmt.Sprintf("no catalog entry %d", cfg.ModelID))
	}
	device, err := c.resolveDevice(ctx, cfg.Device)
	if err != nil {
		return supervisor.Handle{}, err
	}
	argv, err := command.Build(command.FromConfig(c.opts.Python, cfg, model, device))
	if err != nil {
		return supervisor.Handle{}, err
	}
	// Held across Start so the loop cannot apply this run's exit before the
	// run's chat session exists.
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.sup.Start(argv)
	if err != nil {
		return supervisor.Handle{}, err
	}
	c.model = model.Name
	c.liveRun = h.RunID
	c.pending++
	if c.opts.ChatBackend != nil {
		c.chat = chat.NewClient(c.opts.ChatBackend, chat.Session{
			Model:        model.Name,
			Template:     cfg.GenerationTemplate,
			SystemPrompt: cfg.SystemPrompt,
			MaxNewTokens: cfg.MaxNewTokens,
			EchoesPrompt: c.opts.ChatEchoesPrompt,
		}, chat.Options{Timeout: c.opts.ChatTimeout, Logger: c.opts.Logger})
	}
	return h, nil
}

func (c *Controller) resolveDevice(ctx context.Context, ref config.DeviceRef) (string, error) {
	s := strings.TrimSpace(string(ref))
	if s == "" || strings.EqualFold(s, string(config.DeviceCPU)) {
		return string(config.DeviceCPU), nil
	}
	devices, err := c.sampler.ListDevices(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("gpu enumeration failed")
		devices = nil
	}
	return command.ResolveDevice(ref, devices)
}

// StopServer disables chat and stops the server, returning once it exited.
func (c *Controller) StopServer() error {
	if st := c.sup.State(); st != supervisor.StateRunning {
		return &supervisor.UsageError{Op: "stop", State: st}
	}
	c.dropChat()
	return c.sup.Stop()
}

func (c *Controller) dropChat() {
	c.mu.Lock()
	cl := c.chat
	c.chat = nil
	c.mu.Unlock()
	if cl != nil {
		cl.Close()
	}
}

// Status describes the server process.
func (c *Controller) Status() types.StatusResponse {
	st := types.StatusResponse{State: c.sup.State().String()}
	if h, ok := c.sup.Current(); ok {
		started := h.Started
		st.RunID, st.PID, st.Argv, st.Started = h.RunID, h.PID, h.Argv, &started
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st.RunID != 0 {
		st.Model = c.model
	}
	if c.chat != nil {
		st.ChatEnabled = true
		st.ChatBusy = c.chat.Busy()
	}
	if c.lastExit != nil {
		st.LastExit = exitInfo(*c.lastExit)
	}
	return st
}

func exitInfo(s supervisor.ExitStatus) *types.ExitInfo {
	e := &types.ExitInfo{
		Code:       s.Code,
		Requested:  s.Requested,
		Killed:     s.Killed,
		DurationMS: s.Duration.Milliseconds(),
	}
	if s.Err != nil {
		e.Error = s.Err.Error()
	}
	return e
}

// Output returns the rendered console.
func (c *Controller) Output() types.OutputResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.OutputResponse{Lines: c.buf.Lines(), Dropped: c.buf.Dropped(), Version: c.buf.Version()}
}

// Resources samples host usage. Probe failures are part of the snapshot.
func (c *Controller) Resources(ctx context.Context) resources.Snapshot {
	return c.sampler.Sample(ctx)
}

// Generate sends prompt to the chat test client and waits for the reply.
func (c *Controller) Generate(ctx context.Context, prompt string) (chat.Result, error) {
	c.mu.RLock()
	cl := c.chat
	c.mu.RUnlock()
	if cl == nil {
		return chat.Result{}, ErrChatDisabled
	}
	return cl.Generate(ctx, prompt)
}

// History lists recorded runs, newest first.
func (c *Controller) History(limit int) ([]history.Run, error) {
	if c.hist == nil {
		return []history.Run{}, nil
	}
	return c.hist.List(limit)
}

// Close stops a running server and ends the output loop.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.dropChat()
		c.startMu.Lock()
		err = c.sup.Close()
		c.startMu.Unlock()
		close(c.done)
		<-c.loopDone
	})
	return err
}
