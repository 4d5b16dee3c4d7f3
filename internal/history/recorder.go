package history

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"petalsmon/internal/supervisor"
)

// Recorder fills the store from supervisor lifecycle events.
type Recorder struct {
	store *Store
	log   zerolog.Logger
	now   func() time.Time

	mu   sync.Mutex
	rows map[uint64]int64
}

// NewRecorder returns a publisher writing to store.
func NewRecorder(store *Store, log zerolog.Logger) *Recorder {
	return &Recorder{
		store: store,
		log:   log.With().Str("component", "history").Logger(),
		now:   time.Now,
		rows:  map[uint64]int64{},
	}
}

// Publish implements supervisor.EventPublisher. Storage failures are logged.
func (r *Recorder) Publish(e supervisor.Event) {
	switch e.Name {
	case "spawn_start":
		argv, _ := e.Fields["argv"].([]string)
		pid, _ := e.Fields["pid"].(int)
		id, err := r.store.RecordStart(argv, pid, r.now())
		if err != nil {
			r.log.Error().Err(err).Uint64("run", e.RunID).Msg("history write failed")
			return
		}
		r.mu.Lock()
		r.rows[e.RunID] = id
		r.mu.Unlock()
	case "spawn_exit":
		r.mu.Lock()
		id, ok := r.rows[e.RunID]
		delete(r.rows, e.RunID)
		r.mu.Unlock()
		if !ok {
			r.log.Warn().Err(ErrNotRecorded).Uint64("run", e.RunID).Msg("exit without start")
			return
		}
		ex := Exit{Ended: r.now()}
		ex.Code, _ = e.Fields["code"].(int)
		ex.Requested, _ = e.Fields["requested"].(bool)
		ex.Killed, _ = e.Fields["killed"].(bool)
		ex.Error, _ = e.Fields["error"].(string)
		if err := r.store.RecordExit(id, ex); err != nil {
			r.log.Error().Err(err).Uint64("run", e.RunID).Msg("history write failed")
		}
	}
}
