package hardware

import (
	"context"
	"log/slog"
	"time"
)

// interActionSpacing is the mechanical-safety pause the external
// interfaces describe between dispatched actions (~100ms).
const interActionSpacing = 100 * time.Millisecond

// Dispatcher is the single-writer queue draining action tuples enqueued by
// the Dialogue Loop, the Scheduled-Action Engine, and the Proactive
// Poller. Enqueues are non-blocking and ordered by arrival; the dispatcher
// itself runs the sequence on its own worker so no producer blocks on
// hardware I/O.
type Dispatcher struct {
	controller *Controller
	logger     *slog.Logger
	queue      chan dispatchJob
}

type dispatchJob struct {
	actions []ActionTuple
}

// NewDispatcher starts the dispatcher's worker goroutine. capacity bounds
// how many pending dispatch jobs may be queued; once it is reached,
// Dispatch drops further sequences instead of blocking the caller (a small
// bound is enough: producers enqueue bursts, not streams).
func NewDispatcher(ctx context.Context, controller *Controller, capacity int, logger *slog.Logger) *Dispatcher {
	if capacity <= 0 {
		capacity = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		controller: controller,
		logger:     logger.With("component", "dispatcher"),
		queue:      make(chan dispatchJob, capacity),
	}
	go d.run(ctx)
	return d
}

// Dispatch enqueues an ordered action sequence for execution. It never
// blocks: when the queue is full the sequence is dropped and a warning is
// logged, matching the "single-writer bounded queue" concurrency model.
func (d *Dispatcher) Dispatch(actions []ActionTuple) {
	if len(actions) == 0 {
		return
	}
	select {
	case d.queue <- dispatchJob{actions: actions}:
	default:
		d.logger.Warn("dispatch queue full, dropping action sequence")
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			d.execute(ctx, job.actions)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, actions []ActionTuple) {
	for i, a := range actions {
		if ctx.Err() != nil {
			return
		}
		if err := d.executeOne(a); err != nil {
			d.logger.Error("action execution failed", "command", a.Command, "error", err)
		}
		if i < len(actions)-1 {
			time.Sleep(interActionSpacing)
		}
	}
}

func (d *Dispatcher) executeOne(a ActionTuple) error {
	switch a.Command {
	case CmdSetTranslation:
		if len(a.Args) < 1 {
			return nil
		}
		return d.controller.SetTranslation(int(a.Args[0]))
	case CmdSetElevation:
		if len(a.Args) < 1 {
			return nil
		}
		return d.controller.SetElevation(int(a.Args[0]))
	case CmdMoveLeft:
		if len(a.Args) < 1 {
			return nil
		}
		return d.controller.MoveLeft(a.Args[0])
	case CmdMoveRight:
		if len(a.Args) < 1 {
			return nil
		}
		return d.controller.MoveRight(a.Args[0])
	case CmdMoveServo:
		if len(a.Args) < 2 {
			return nil
		}
		return d.controller.MoveServo(int(a.Args[0]), int(a.Args[1]))
	case CmdWait:
		if len(a.Args) < 1 {
			return nil
		}
		time.Sleep(time.Duration(a.Args[0] * float64(time.Second)))
		return nil
	default:
		d.logger.Warn("unknown action command id", "command", a.Command)
		return nil
	}
}
