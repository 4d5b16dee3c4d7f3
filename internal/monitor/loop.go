package monitor

import (
	"time"

	"petalsmon/internal/chat"
	"petalsmon/internal/supervisor"
)

// closeDrainWait bounds how long Close waits for the last exit message.
const closeDrainWait = 3 * time.Second

func (c *Controller) loop() {
	defer close(c.loopDone)
	out := c.sup.Output()
	for {
		select {
		case o := <-out:
			c.apply(o)
		case <-c.done:
			c.drain(out)
			return
		}
	}
}

// drain consumes output until every pending exit message arrived so no
// reader goroutine is left blocked on a full channel.
func (c *Controller) drain(out <-chan supervisor.Output) {
	deadline := time.After(closeDrainWait)
	for c.awaitingExit() {
		select {
		case o := <-out:
			c.apply(o)
		case <-deadline:
			c.log.Warn().Msg("gave up waiting for server exit")
			return
		}
	}
}

func (c *Controller) awaitingExit() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pending > 0
}

// apply folds one message into the controller. The previous run's last
// chunks and exit can arrive after the next run started; they still count
// as read but touch neither the next run's buffer nor its chat session.
func (c *Controller) apply(o supervisor.Output) {
	c.mu.Lock()
	if o.RunID > c.runID {
		c.buf.Reset()
		c.runID = o.RunID
	}
	shown := o.RunID == c.runID
	if o.Exit == nil {
		if shown {
			c.buf.Append(o.Data)
		}
		c.mu.Unlock()
		if c.opts.Console != nil {
			_, _ = c.opts.Console.Write(o.Data)
		}
		return
	}
	if c.pending > 0 {
		c.pending--
	}
	if shown {
		c.buf.Flush()
	}
	if o.RunID >= c.exitRun {
		st := *o.Exit
		c.lastExit = &st
		c.exitRun = o.RunID
	}
	var cl *chat.Client
	if o.RunID == c.liveRun {
		cl = c.chat
		c.chat = nil
	}
	c.mu.Unlock()
	if cl != nil {
		cl.Close()
	}
}
