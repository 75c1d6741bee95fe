package alarm

import (
	"container/heap"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmhodges/clock"

	"shiftwatch/internal/model"
)

var (
	ErrInvalidFireTime = errors.New("alarm: invalid fire time")
	ErrEngineStopped   = errors.New("alarm: engine stopped")
)

type queueItem struct {
	alarm model.Alarm
}

type alarmQueue []queueItem

func (q alarmQueue) Len() int { return len(q) }

func (q alarmQueue) Less(i, j int) bool {
	return q[i].alarm.FireAt.Before(q[j].alarm.FireAt)
}

func (q alarmQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *alarmQueue) Push(x any) {
	*q = append(*q, x.(queueItem))
}

func (q *alarmQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[0 : n-1]
	return item
}

// Engine is the one-shot timer queue backing all reminder alarms. Alarms
// are held in a min-heap by fire time; a single timer goroutine emits each
// due alarm exactly once on C. Pending alarms can be enumerated, cancelled
// individually, cleared wholesale, or garbage-collected once past due.
type Engine struct {
	mu      sync.Mutex
	queue   alarmQueue
	out     chan model.Alarm
	wakeup  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	stopped bool
	dropped uint64
	clk     clock.Clock
}

func NewEngine(clk clock.Clock, bufferSize int) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Engine{
		queue:  make(alarmQueue, 0),
		out:    make(chan model.Alarm, bufferSize),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		clk:    clk,
	}
}

// C delivers fired alarms. The channel is closed when the engine stops.
func (e *Engine) C() <-chan model.Alarm {
	return e.out
}

func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	heap.Init(&e.queue)
	go e.loop()
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.stopCh)
	e.mu.Unlock()
	<-e.doneCh
}

// Schedule installs a one-shot alarm. An alarm whose fire time is already
// past fires on the next loop iteration.
func (e *Engine) Schedule(a model.Alarm) error {
	if a.FireAt.IsZero() {
		return ErrInvalidFireTime
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}

	heap.Push(&e.queue, queueItem{alarm: a})
	e.signalWakeup()
	return nil
}

// Cancel removes the pending alarm with the given identity. It reports
// whether an alarm was actually removed.
func (e *Engine) Cancel(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.queue {
		if e.queue[i].alarm.Name == name {
			heap.Remove(&e.queue, i)
			e.signalWakeup()
			return true
		}
	}
	return false
}

// ClearAll removes every pending alarm and returns how many were removed.
func (e *Engine) ClearAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.queue)
	e.queue = e.queue[:0]
	e.signalWakeup()
	return n
}

// Pending returns a copy of all pending alarms sorted by fire time.
func (e *Engine) Pending() []model.Alarm {
	e.mu.Lock()
	out := make([]model.Alarm, 0, len(e.queue))
	for _, item := range e.queue {
		out = append(out, item.alarm)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// CancelPast drops pending alarms whose fire time is at or before now
// without emitting them. This is the stale-alarm sweep: after a host
// suspend the timer may never have fired, and a reminder for an event
// already underway is noise.
func (e *Engine) CancelPast(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.queue[:0]
	removed := 0
	for _, item := range e.queue {
		if item.alarm.FireAt.After(now) {
			kept = append(kept, item)
		} else {
			removed++
		}
	}
	e.queue = kept
	if removed > 0 {
		heap.Init(&e.queue)
		e.signalWakeup()
	}
	return removed
}

// Dropped counts alarms that fired while the consumer was not keeping up.
func (e *Engine) Dropped() uint64 {
	return atomic.LoadUint64(&e.dropped)
}

func (e *Engine) loop() {
	defer close(e.doneCh)
	defer close(e.out)

	var timer *time.Timer
	for {
		next, hasNext := e.peek()
		if !hasNext {
			select {
			case <-e.wakeup:
				continue
			case <-e.stopCh:
				return
			}
		}

		wait := next.FireAt.Sub(e.clk.Now())
		if wait < 0 {
			wait = 0
		}
		timer = resetTimer(timer, wait)

		select {
		case <-timer.C:
			due := e.popDue(e.clk.Now())
			for _, a := range due {
				select {
				case e.out <- a:
				default:
					atomic.AddUint64(&e.dropped, 1)
				}
			}
		case <-e.wakeup:
			continue
		case <-e.stopCh:
			if timer != nil {
				stopTimer(timer)
			}
			return
		}
	}
}

func (e *Engine) signalWakeup() {
	select {
	case e.wakeup <- struct{}{}:
	default:
	}
}

func (e *Engine) peek() (model.Alarm, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return model.Alarm{}, false
	}
	return e.queue[0].alarm, true
}

func (e *Engine) popDue(now time.Time) []model.Alarm {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.Alarm, 0)
	for len(e.queue) > 0 {
		next := e.queue[0].alarm
		if next.FireAt.After(now) {
			break
		}
		item := heap.Pop(&e.queue).(queueItem)
		out = append(out, item.alarm)
	}
	return out
}

func resetTimer(timer *time.Timer, d time.Duration) *time.Timer {
	if timer == nil {
		return time.NewTimer(d)
	}
	stopTimer(timer)
	timer.Reset(d)
	return timer
}

func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
