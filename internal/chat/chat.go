// Package chat is the built-in test client: it formats a prompt from the
// node's generation template, sends it to a generation backend and cleans
// the reply.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

var (
	// ErrEmptyPrompt is returned for a blank prompt; no work is dispatched.
	ErrEmptyPrompt = errors.New("empty prompt")
	// ErrBusy is returned while a generation is still in flight.
	ErrBusy = errors.New("generation in progress")
	// ErrClosed is returned after the session has been closed.
	ErrClosed = errors.New("chat session closed")
)

// Placeholders understood by Format.
const (
	SystemPromptVar = "{system_prompt}"
	MessageVar      = "{message}"
)

// Format fills template with systemPrompt and message.
func Format(template, systemPrompt, message string) string {
	r := strings.NewReplacer(SystemPromptVar, systemPrompt, MessageVar, message)
	return r.Replace(template)
}

// Clean strips sequence markers and an exact echo of the prompt from
// generated text.
func Clean(generated, formatted string) string {
	return strings.TrimPrefix(stripMarkers(generated), formatted)
}

// CleanEchoed is Clean for backends that always return the prompt ahead of
// the reply, possibly re-spaced by the tokenizer: after the markers it drops
// as many characters as formatted holds. Shorter output cleans to "".
func CleanEchoed(generated, formatted string) string {
	r := []rune(stripMarkers(generated))
	n := utf8.RuneCountInString(formatted)
	if n >= len(r) {
		return ""
	}
	return string(r[n:])
}

func stripMarkers(s string) string {
	s = strings.ReplaceAll(s, "<s> ", "")
	return strings.ReplaceAll(s, "</s>", "")
}

// Request is one generation call.
type Request struct {
	Model        string
	Inputs       string
	MaxNewTokens int
}

// Backend produces a completion for a formatted prompt.
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Session holds the generation settings captured when the server started.
type Session struct {
	Model        string
	Template     string
	SystemPrompt string
	MaxNewTokens int
	// EchoesPrompt selects CleanEchoed over Clean for replies.
	EchoesPrompt bool
}

// Result is delivered once per submitted prompt.
type Result struct {
	Prompt    string        `json:"prompt"`
	Formatted string        `json:"-"`
	Text      string        `json:"text"`
	Elapsed   time.Duration `json:"elapsed"`
	Err       error         `json:"-"`
}

// Options configures a Client.
type Options struct {
	// Timeout bounds one generation; zero means no bound beyond the caller's context.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Client runs at most one generation at a time.
type Client struct {
	backend Backend
	session Session
	opts    Options
	log     zerolog.Logger

	busy    atomic.Bool
	results chan Result

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewClient binds a backend to the generation settings of one server run.
func NewClient(backend Backend, session Session, opts Options) *Client {
	return &Client{
		backend: backend,
		session: session,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "chat").Logger(),
		results: make(chan Result, 1),
	}
}

// Session returns the settings the client was created with.
func (c *Client) Session() Session { return c.session }

// Busy reports whether a generation is in flight.
func (c *Client) Busy() bool { return c.busy.Load() }

// Results delivers the outcome of each Submit.
func (c *Client) Results() <-chan Result { return c.results }

// Submit starts a generation on a worker goroutine. The outcome arrives on
// Results.
func (c *Client) Submit(prompt string) error {
	ctx, formatted, err := c.begin(context.Background(), prompt)
	if err != nil {
		return err
	}
	go func() {
		res := c.run(ctx, prompt, formatted)
		c.results <- res
		c.finish()
	}()
	return nil
}

// Generate runs one generation and waits for it.
func (c *Client) Generate(ctx context.Context, prompt string) (Result, error) {
	ctx, formatted, err := c.begin(ctx, prompt)
	if err != nil {
		return Result{}, err
	}
	defer c.finish()
	res := c.run(ctx, prompt, formatted)
	return res, res.Err
}

// Close cancels any in-flight generation and rejects further prompts.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Client) begin(parent context.Context, prompt string) (context.Context, string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, "", ErrEmptyPrompt
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, "", ErrBusy
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.busy.Store(false)
		return nil, "", ErrClosed
	}
	ctx, cancel := context.WithCancel(parent)
	if c.opts.Timeout > 0 {
		ctx, cancel = withTimeout(ctx, cancel, c.opts.Timeout)
	}
	c.cancel = cancel
	return ctx, Format(c.session.Template, c.session.SystemPrompt, prompt), nil
}

func withTimeout(ctx context.Context, parent context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	tctx, tcancel := context.WithTimeout(ctx, d)
	return tctx, func() { tcancel(); parent() }
}

func (c *Client) finish() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.busy.Store(false)
}

func (c *Client) run(ctx context.Context, prompt, formatted string) Result {
	start := time.Now()
	out, err := c.backend.Generate(ctx, Request{
		Model:        c.session.Model,
		Inputs:       formatted,
		MaxNewTokens: c.session.MaxNewTokens,
	})
	res := Result{Prompt: prompt, Formatted: formatted, Elapsed: time.Since(start), Err: err}
	if err != nil {
		c.log.Warn().Err(err).Dur("elapsed", res.Elapsed).Msg("generation failed")
		return res
	}
	if c.session.EchoesPrompt {
		res.Text = CleanEchoed(out, formatted)
	} else {
		res.Text = Clean(out, formatted)
	}
	c.log.Debug().Int("chars", len(res.Text)).Dur("elapsed", res.Elapsed).Msg("generation done")
	return res
}
