// Package linksremover runs the background cascade deletion of links by
// owner. Jobs are queued by the service layer and flushed in batches on a
// ticker. Expiry is deliberately not handled here: an expired link is a
// derived state, not something to sweep.
package linksremover

import (
	"context"
	"errors"
	"time"

	"github.com/quicklnk/quicklnk/internal/models"
)

// ErrQueueFull is reported through the error channel when a job is dropped
// because the queue has no room left.
var ErrQueueFull = errors.New("links remover queue is full, the job was dropped")

type linkDeleter interface {
	DeleteLinksByOwner(ctx context.Context, ownerUserID string) error
}

// LinksRemover consumes cascade deletion jobs in the background.
type LinksRemover struct {
	queue                    chan *models.CascadeDeleteJob
	db                       linkDeleter
	delayBetweenQueueFetches time.Duration
	errorChannel             chan error
}

// New creates a LinksRemover with the given queue capacity and flush delay.
func New(
	db linkDeleter,
	channelCapacity int,
	delayBetweenQueueFetches time.Duration,
) *LinksRemover {
	return &LinksRemover{
		queue:                    make(chan *models.CascadeDeleteJob, channelCapacity),
		db:                       db,
		delayBetweenQueueFetches: delayBetweenQueueFetches,
		errorChannel:             make(chan error, channelCapacity),
	}
}

// EnqueueJob schedules a cascade deletion. It never blocks the caller; a
// full queue drops the job into the error channel instead.
func (r *LinksRemover) EnqueueJob(job *models.CascadeDeleteJob) {
	select {
	case r.queue <- job:
	default:
		select {
		case r.errorChannel <- ErrQueueFull:
		default:
		}
	}
}

// ListenErrors forwards background errors to the callback.
func (r *LinksRemover) ListenErrors(callback func(error)) {
	go func() {
		for err := range r.errorChannel {
			callback(err)
		}
	}()
}

// Run starts the background loop. It stops when the context is canceled.
func (r *LinksRemover) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.delayBetweenQueueFetches)
		defer ticker.Stop()

		pending := map[string]struct{}{}

		for {
			select {
			case job := <-r.queue:
				pending[job.OwnerUserID] = struct{}{}

			case <-ticker.C:
				if len(pending) == 0 {
					continue
				}
				for ownerUserID := range pending {
					if err := r.db.DeleteLinksByOwner(ctx, ownerUserID); err != nil {
						// Nobody may be listening; a blocked send here
						// would stall the whole worker.
						select {
						case r.errorChannel <- err:
						default:
						}

						continue
					}
					delete(pending, ownerUserID)
				}

			case <-ctx.Done():
				return
			}
		}
	}()
}
