// Package progress fans reconciliation phase notifications out to observers.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"revenue-reconciler/internal/domain"
)

const (
	defaultBuffer  = 16
	defaultMaxRuns = 256
)

// Event is one progress notification of a run.
type Event struct {
	RunID      string                `json:"run_id"`
	Step       domain.Step           `json:"step"`
	Percentage int                   `json:"percentage"`
	Stats      *domain.ProgressStats `json:"stats,omitempty"`
	Done       bool                  `json:"done"`
	Error      string                `json:"error,omitempty"`
	Time       time.Time             `json:"time"`
}

type runState struct {
	latest   Event
	seen     bool
	finished bool
	claimed  bool
	subs     map[int]chan Event
}

// Tracker keeps the latest event per run and forwards every event to the
// run's subscribers. Sends never block: a subscriber whose buffer is full
// misses events.
type Tracker struct {
	mu       sync.Mutex
	runs     map[string]*runState
	finished []string
	nextSub  int
	buffer   int
	maxRuns  int
	log      zerolog.Logger
	now      func() time.Time
}

// NewTracker creates a tracker that remembers the last events of up to 256
// finished runs.
func NewTracker(log zerolog.Logger) *Tracker {
	return &Tracker{
		runs:    make(map[string]*runState),
		buffer:  defaultBuffer,
		maxRuns: defaultMaxRuns,
		log:     log,
		now:     time.Now,
	}
}

// Publisher is the per-run notification sink handed to the reconciliation.
type Publisher struct {
	tracker *Tracker
	runID   string
}

// Publisher returns the sink for runID.
func (t *Tracker) Publisher(runID string) *Publisher {
	return &Publisher{tracker: t, runID: runID}
}

// Notify records a finished phase.
func (p *Publisher) Notify(step domain.Step, percentage int, stats *domain.ProgressStats) {
	p.tracker.publish(Event{
		RunID:      p.runID,
		Step:       step,
		Percentage: percentage,
		Stats:      stats,
	}, false)
}

// Complete marks runID as finished successfully and closes its subscriptions.
func (t *Tracker) Complete(runID string) {
	latest, _ := t.Latest(runID)
	t.publish(Event{
		RunID:      runID,
		Step:       domain.StepReport,
		Percentage: 100,
		Stats:      latest.Stats,
		Done:       true,
	}, true)
}

// Fail marks runID as failed and closes its subscriptions.
func (t *Tracker) Fail(runID string, err error) {
	latest, _ := t.Latest(runID)
	ev := Event{
		RunID:      runID,
		Step:       latest.Step,
		Percentage: latest.Percentage,
		Stats:      latest.Stats,
		Done:       true,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	t.publish(ev, true)
}

// Latest returns the most recent event of runID.
func (t *Tracker) Latest(runID string) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.runs[runID]
	if !ok || !st.seen {
		return Event{}, false
	}
	return st.latest, true
}

// Begin claims runID for a new run. It reports false when the id already
// belongs to a run that was started or has published events. Subscribing
// ahead of the run does not claim it.
func (t *Tracker) Begin(runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(runID)
	if st.claimed || st.seen || st.finished {
		return false
	}
	st.claimed = true
	return true
}

// Subscribe returns a channel of the events of runID, starting with the
// latest one if any. The channel is closed when the run finishes or cancel
// is called.
func (t *Tracker) Subscribe(runID string) (<-chan Event, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Event, t.buffer)
	st := t.state(runID)
	if st.seen {
		ch <- st.latest
	}
	if st.finished {
		close(ch)
		return ch, func() {}
	}

	id := t.nextSub
	t.nextSub++
	st.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := st.subs[id]; ok {
				delete(st.subs, id)
				close(sub)
			}
			if len(st.subs) == 0 && !st.seen && !st.claimed && t.runs[runID] == st {
				delete(t.runs, runID)
			}
		})
	}
	return ch, cancel
}

func (t *Tracker) publish(ev Event, terminal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(ev.RunID)
	if st.finished {
		return
	}
	ev.Time = t.now()
	st.latest = ev
	st.seen = true

	for id, ch := range st.subs {
		select {
		case ch <- ev:
		default:
			t.log.Debug().Str("run_id", ev.RunID).Int("subscriber", id).Msg("progress event dropped")
		}
		if terminal {
			delete(st.subs, id)
			close(ch)
		}
	}
	if terminal {
		st.finished = true
		t.finished = append(t.finished, ev.RunID)
		t.evict()
	}
}

// state must be called with mu held.
func (t *Tracker) state(runID string) *runState {
	st, ok := t.runs[runID]
	if !ok {
		st = &runState{subs: make(map[int]chan Event)}
		t.runs[runID] = st
	}
	return st
}

// evict drops the oldest finished runs beyond maxRuns. Called with mu held.
func (t *Tracker) evict() {
	for len(t.finished) > t.maxRuns {
		delete(t.runs, t.finished[0])
		t.finished = t.finished[1:]
	}
}
