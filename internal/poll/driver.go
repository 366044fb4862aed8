// Package poll runs the pipeline on a cadence that follows market hours.
package poll

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Mode selects the polling interval.
type Mode string

const (
	ModeActive  Mode = "active"
	ModeOffPeak Mode = "off_peak"
)

// Window is the daily active-hours range [StartHour, EndHour) in Location.
// A window with StartHour > EndHour wraps past midnight; an empty window is
// never active.
type Window struct {
	Location  *time.Location
	StartHour int
	EndHour   int
}

// Mode maps t onto the window.
func (w Window) Mode(t time.Time) Mode {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	var active bool
	switch {
	case w.StartHour < w.EndHour:
		active = h >= w.StartHour && h < w.EndHour
	case w.StartHour > w.EndHour:
		active = h >= w.StartHour || h < w.EndHour
	}
	if active {
		return ModeActive
	}
	return ModeOffPeak
}

// Config is the driver cadence.
type Config struct {
	Window          Window
	ActiveInterval  time.Duration
	OffPeakInterval time.Duration
	// Cooldown replaces the interval after a failed iteration.
	Cooldown time.Duration
	// IterationTimeout bounds one iteration. Zero means no bound.
	IterationTimeout time.Duration
}

// Interval returns the sleep for a mode.
func (c Config) Interval(m Mode) time.Duration {
	if m == ModeActive {
		return c.ActiveInterval
	}
	return c.OffPeakInterval
}

// Iteration is one full pipeline pass.
type Iteration func(ctx context.Context, mode Mode) error

// Sleeper waits between iterations. It returns early when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration)
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Option customizes a Driver.
type Option func(*Driver)

// WithSleeper replaces the timer-based sleeper.
func WithSleeper(s Sleeper) Option { return func(d *Driver) { d.sleeper = s } }

// WithClock replaces time.Now for window evaluation.
func WithClock(now func() time.Time) Option { return func(d *Driver) { d.now = now } }

// Stats are cumulative driver counters.
type Stats struct {
	Iterations int64
	Failures   int64
	Mode       Mode
}

// Driver repeatedly runs an Iteration until its context is cancelled.
type Driver struct {
	cfg     Config
	run     Iteration
	sleeper Sleeper
	now     func() time.Time
	log     *zap.Logger

	iterations atomic.Int64
	failures   atomic.Int64
	mode       atomic.Value
}

// New returns a Driver.
func New(cfg Config, run Iteration, opts ...Option) *Driver {
	d := &Driver{
		cfg:     cfg,
		run:     run,
		sleeper: timerSleeper{},
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "poll")),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Stats returns a snapshot of the counters.
func (d *Driver) Stats() Stats {
	m, _ := d.mode.Load().(Mode)
	return Stats{Iterations: d.iterations.Load(), Failures: d.failures.Load(), Mode: m}
}

// Run loops until ctx is cancelled. Cancellation is checked before each
// iteration; a failed or panicking iteration is logged and followed by the
// cooldown. Run returns nil on shutdown.
func (d *Driver) Run(ctx context.Context) error {
	d.log.Info("poll: started",
		zap.Int("active_start_hour", d.cfg.Window.StartHour),
		zap.Int("active_end_hour", d.cfg.Window.EndHour),
		zap.Duration("active_interval", d.cfg.ActiveInterval),
		zap.Duration("off_peak_interval", d.cfg.OffPeakInterval),
	)
	for {
		if ctx.Err() != nil {
			d.log.Info("poll: stopped", zap.Int64("iterations", d.iterations.Load()))
			return nil
		}

		mode := d.cfg.Window.Mode(d.now())
		if prev, _ := d.mode.Swap(mode).(Mode); prev != mode {
			d.log.Info("poll: mode", zap.String("mode", string(mode)))
		}

		start := time.Now()
		err := d.iterate(ctx, mode)
		n := d.iterations.Add(1)

		wait := d.cfg.Interval(mode)
		if err != nil && ctx.Err() == nil {
			d.failures.Add(1)
			wait = d.cfg.Cooldown
			d.log.Error("poll: iteration failed",
				zap.Int64("iteration", n),
				zap.String("mode", string(mode)),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
		} else {
			d.log.Debug("poll: iteration complete",
				zap.Int64("iteration", n),
				zap.String("mode", string(mode)),
				zap.Duration("elapsed", time.Since(start)),
				zap.Duration("next_in", wait),
			)
		}
		d.sleeper.Sleep(ctx, wait)
	}
}

func (d *Driver) iterate(ctx context.Context, mode Mode) (err error) {
	if d.cfg.IterationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.IterationTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("poll: iteration panic: %v", r)
		}
	}()
	return d.run(ctx, mode)
}
