// Package uploads tracks in-flight document transfers. The service never
// stores file bytes; a transfer here is the acknowledgment window between an
// applicant starting an upload and the checklist entry flipping to received.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"rota/internal/domain"
)

// ErrAlreadyInFlight is returned when a transfer for the same document is
// still running.
var ErrAlreadyInFlight = errors.New("transfer already in flight")

// Result is the terminal state of one transfer. Err is nil on success,
// context.Canceled when the transfer was cancelled, or the transfer/store
// failure otherwise.
type Result struct {
	ProcessID string
	DocID     string
	Err       error
}

// Receiver is the slice of the store the tracker needs.
type Receiver interface {
	MarkDocumentReceived(ctx context.Context, id, docID, actorID string) (domain.Process, error)
}

// Tracker runs one goroutine per transfer and marks the document received on
// completion. Transfer does the actual byte movement; nil completes
// immediately, which is what the acknowledgment-only deployment uses.
type Tracker struct {
	Store    Receiver
	Transfer func(ctx context.Context, processID, docID string) error

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewTracker(store Receiver) *Tracker {
	return &Tracker{
		Store:    store,
		inflight: make(map[string]context.CancelFunc),
	}
}

func key(processID, docID string) string { return processID + "/" + docID }

// Enqueue starts a transfer and returns a channel that delivers its single
// Result. A second enqueue for the same document while one is running fails
// with ErrAlreadyInFlight.
func (t *Tracker) Enqueue(ctx context.Context, processID, docID, actorID string) (<-chan Result, error) {
	t.mu.Lock()
	if _, busy := t.inflight[key(processID, docID)]; busy {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %s", ErrAlreadyInFlight, processID, docID)
	}
	ctx, cancel := context.WithCancel(ctx)
	t.inflight[key(processID, docID)] = cancel
	t.mu.Unlock()

	done := make(chan Result, 1)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.finish(processID, docID)
		res := Result{ProcessID: processID, DocID: docID}
		res.Err = t.run(ctx, processID, docID, actorID)
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
			log.Printf("uploads: transfer %s/%s failed: %v", processID, docID, res.Err)
		}
		done <- res
	}()
	return done, nil
}

func (t *Tracker) run(ctx context.Context, processID, docID, actorID string) error {
	if t.Transfer != nil {
		if err := t.Transfer(ctx, processID, docID); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.Store.MarkDocumentReceived(ctx, processID, docID, actorID)
	return err
}

// Cancel aborts an in-flight transfer. Returns false when nothing was
// running for that document.
func (t *Tracker) Cancel(processID, docID string) bool {
	t.mu.Lock()
	cancel, ok := t.inflight[key(processID, docID)]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// InFlight reports whether a transfer for the document is still running.
func (t *Tracker) InFlight(processID, docID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inflight[key(processID, docID)]
	return ok
}

// Wait blocks until every running transfer has finished. Used on shutdown.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) finish(processID, docID string) {
	t.mu.Lock()
	if cancel, ok := t.inflight[key(processID, docID)]; ok {
		cancel()
		delete(t.inflight, key(processID, docID))
	}
	t.mu.Unlock()
}
