package bot

import (
	"context"
	"strconv"
	"sync"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/iamwavecut/ngwarden/internal/infra"
	"github.com/iamwavecut/ngwarden/internal/observability"
)

// UpdateSource opens the stream of inbound updates.
type UpdateSource func(ctx context.Context) (<-chan api.Update, <-chan error)

type Processor interface {
	Process(ctx context.Context, u *api.Update) error
}

// Dispatcher runs every update as its own task, at most workers at a time.
// A failing or panicking task never stops the stream.
type Dispatcher struct {
	source    UpdateSource
	processor Processor
	sem       *semaphore.Weighted

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	loopWg    sync.WaitGroup
	tasksWg   sync.WaitGroup
	fatal     chan error
}

func NewDispatcher(source UpdateSource, processor Processor, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		source:    source,
		processor: processor,
		sem:       semaphore.NewWeighted(int64(workers)),
		fatal:     make(chan error, 1),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.runMutex.Lock()
	defer d.runMutex.Unlock()
	if d.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.runCancel = cancel
	updates, errs := d.source(runCtx)

	d.loopWg.Add(1)
	go func() {
		defer d.loopWg.Done()
		d.loop(runCtx, updates, errs)
	}()

	d.started = true
	return nil
}

// Done yields the error that ended the update stream.
func (d *Dispatcher) Done() <-chan error {
	return d.fatal
}

func (d *Dispatcher) loop(ctx context.Context, updates <-chan api.Update, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				d.getLogEntry().WithError(err).Error("update stream failed")
				select {
				case d.fatal <- err:
				default:
				}
				return
			}
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := d.sem.Acquire(ctx, 1); err != nil {
				return
			}
			d.tasksWg.Add(1)
			go func(update api.Update) {
				defer d.tasksWg.Done()
				defer d.sem.Release(1)
				d.handle(ctx, &update)
			}(update)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, u *api.Update) {
	done := observability.StartUpdateProcessing()
	err := infra.RunOnce("update_"+strconv.Itoa(u.UpdateID), func() error {
		return d.processor.Process(ctx, u)
	})
	if err != nil {
		done("error")
		d.getLogEntry().WithFields(log.Fields{
			"update_id": u.UpdateID,
			"error":     err.Error(),
		}).Error("cant process update")
		return
	}
	done("ok")
}

// Stop cancels the stream and waits for in-flight updates.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.runMutex.Lock()
	if !d.started {
		d.runMutex.Unlock()
		return nil
	}
	d.started = false
	cancel := d.runCancel
	d.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.loopWg.Wait()
		d.tasksWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (d *Dispatcher) getLogEntry() *log.Entry {
	return log.WithField("object", "Dispatcher")
}
