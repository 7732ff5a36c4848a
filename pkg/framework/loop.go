package framework

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// DefaultInterval is the idle interval between iterations.
const DefaultInterval = 10 * time.Millisecond

// Loop is the cooperative scheduler. Controllers are executed one after
// another in registration order in every iteration, on a single goroutine.
// Runnables are started in background when the loop runs.
type Loop struct {
	// Interval between iterations when nothing triggers the next.
	Interval time.Duration

	controllers []Controller
	runners     []Runnable
	iteration   uint64
	wakeUpCh    chan struct{}
}

type loopIteration struct {
	loop *Loop
	ctx  context.Context
	time time.Time
	seq  uint64
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{Interval: DefaultInterval, wakeUpCh: make(chan struct{}, 1)}
}

// Add adds LoopAdders.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddController registers controllers to the loop.
// A controller also implementing Runnable is started in background.
func (l *Loop) AddController(ctls ...Controller) *Loop {
	l.controllers = append(l.controllers, ctls...)
	for _, ctl := range ctls {
		if runner, ok := ctl.(Runnable); ok {
			l.runners = append(l.runners, runner)
		}
	}
	return l
}

// AddRunnable adds Runnable implementions.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.runners = append(l.runners, runnables...)
	return l
}

// Run implements Runnable.
func (l *Loop) Run(ctx context.Context) error {
	runner := NewRunnerWith(ctx)
	runner.Go(l.runners...)
	defer func() {
		if err := runner.Wait(); err != nil {
			glog.Errorf("loop runners: %v", err)
		}
	}()

	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.RunOnce(ctx)
		case <-l.wakeUp():
			l.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single iteration.
func (l *Loop) RunOnce(ctx context.Context) {
	l.iteration++
	iter := &loopIteration{loop: l, ctx: ctx, time: time.Now(), seq: l.iteration}
	for _, ctl := range l.controllers {
		if err := ctl.Control(iter); err != nil {
			glog.Errorf("controller error: %v", err)
		}
	}
}

// TriggerNext requests the next iteration to run immediately.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUp() <- struct{}{}:
	default:
	}
}

// Triggered indicates TriggerNext was called and not consumed yet.
func (l *Loop) Triggered() bool {
	return len(l.wakeUp()) > 0
}

func (l *Loop) wakeUp() chan struct{} {
	if l.wakeUpCh == nil {
		l.wakeUpCh = make(chan struct{}, 1)
	}
	return l.wakeUpCh
}

func (t *loopIteration) Context() context.Context { return t.ctx }
func (t *loopIteration) Time() time.Time          { return t.time }
func (t *loopIteration) Iteration() uint64        { return t.seq }
func (t *loopIteration) TriggerNext()             { t.loop.TriggerNext() }
