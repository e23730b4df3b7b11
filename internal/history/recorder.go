package history

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"github.com/example/buckle/internal/apply"
)

// Recorder journals apply events for one run. Write failures are logged
// and kept; they never interrupt the run.
type Recorder struct {
	store *Store
	runID string
	ctx   context.Context
	log   logr.Logger

	mu  sync.Mutex
	err error
}

var _ apply.Observer = (*Recorder)(nil)

// NewRecorder starts a run in store and returns an observer for it.
func NewRecorder(ctx context.Context, store *Store, root, command string, log logr.Logger) (*Recorder, error) {
	id, err := store.Begin(ctx, root, command)
	if err != nil {
		return nil, err
	}
	return &Recorder{store: store, runID: id, ctx: context.WithoutCancel(ctx), log: log}, nil
}

func (r *Recorder) RunID() string { return r.runID }

func (r *Recorder) ObserveEvent(ev apply.Event) {
	entry := Entry{
		TS:      ev.TS,
		Type:    string(ev.Type),
		Package: ev.Package,
		Attempt: ev.Attempt,
		Path:    ev.Path,
		Task:    ev.Task,
		Message: ev.Message,
	}
	if ev.Delay > 0 && entry.Message == "" {
		entry.Message = "retry in " + ev.Delay.String()
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}
	if err := r.store.Record(r.ctx, r.runID, entry); err != nil {
		r.log.Error(err, "history write failed", "run", r.runID)
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
	}
}

// Finish closes the run with its outcome.
func (r *Recorder) Finish(runErr error) error {
	if err := r.store.Finish(r.ctx, r.runID, runErr); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
