// Package gwatchdog provides a Watchdog that periodically pings
// subsystems which have opted in to monitoring.
// A subsystem opts in with an interval and jitter controlling ping frequency
// and a timeout bounding the tolerable response duration.
// If the subsystem fails to respond in time,
// the watchdog terminates the whole system by canceling the watchdog context.
package gwatchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/yeeco/finality-grandpa/internal/gchan"
)

type Watchdog struct {
	log *slog.Logger

	cancel          context.CancelCauseFunc
	monitorRequests chan monitorRequest

	// The number of monitors is not known up front,
	// so a WaitGroup tracks them all.
	wg sync.WaitGroup
}

// NewWatchdog returns a new Watchdog and a context derived from ctx.
//
// The returned context is canceled if any subsystem subscribed through
// [*Watchdog.Monitor] fails to respond to a signal within its configured
// response timeout, or upon a call to [*Watchdog.Terminate].
func NewWatchdog(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	wCtx, cancel := context.WithCancelCause(ctx)
	w := &Watchdog{
		log:             log,
		cancel:          cancel,
		monitorRequests: make(chan monitorRequest), // Unbuffered since requests are synchronous.
	}
	w.wg.Add(1)
	go w.mainLoop(ctx, wCtx, cancel)
	return w, wCtx
}

// NewNopWatchdog returns a Watchdog that disregards calls to
// [*Watchdog.Monitor] but still respects calls to Terminate.
//
// NewNopWatchdog should only be called in tests.
func NewNopWatchdog(ctx context.Context, log *slog.Logger) (*Watchdog, context.Context) {
	wCtx, cancel := context.WithCancelCause(ctx)
	w := &Watchdog{
		log:    log,
		cancel: cancel,
		// Leaving monitorRequests nil means Monitor returns a nil signal channel.
	}
	w.wg.Add(1)
	go w.mainLoop(ctx, wCtx, cancel)
	return w, wCtx
}

// Wait blocks until w's background goroutines complete.
// The goroutines are tied to the context passed to [NewWatchdog];
// a Terminate call or an unresponsive subsystem alone
// will not unblock Wait.
func (w *Watchdog) Wait() {
	w.wg.Wait()
}

// Terminate cancels the watchdog context
// with a [ForcedTerminationError] cause.
func (w *Watchdog) Terminate(reason string) {
	w.cancel(ForcedTerminationError{Reason: reason})
}

func (w *Watchdog) mainLoop(rootCtx, wCtx context.Context, cancel context.CancelCauseFunc) {
	defer w.wg.Done()

	for {
		select {
		case <-rootCtx.Done():
			w.log.Info("Stopping due to root context cancellation", "cause", context.Cause(rootCtx))
			return
		case req := <-w.monitorRequests:
			sigCh := make(chan Signal) // Unbuffered because the exchange must be synchronous.
			w.wg.Add(1)

			// The monitor runs off the watchdog context
			// so that it also stops on a termination.
			go monitor(
				wCtx,
				w.log.With("target", req.Cfg.Name),
				req.Cfg,
				&w.wg, sigCh, cancel,
			)

			req.Resp <- sigCh
		}
	}
}

// monitorRequest is sent from a goroutine calling [*Watchdog.Monitor]
// to the watchdog's main loop.
type monitorRequest struct {
	Cfg MonitorConfig

	Resp chan (<-chan Signal)
}

// MonitorConfig configures the monitor for one subsystem.
type MonitorConfig struct {
	// The name of the monitored subsystem, for reporting.
	Name string

	// The watchdog pings the subsystem every Interval + [-Jitter, +Jitter)
	// duration; the jitter range is uniformly distributed.
	Interval, Jitter time.Duration

	// If the subsystem does not accept the signal and close its Alive channel
	// within ResponseTimeout, the watchdog terminates the system.
	ResponseTimeout time.Duration
}

func (c MonitorConfig) validate() error {
	var err error
	if c.Name == "" {
		err = errors.Join(err, errors.New("MonitorConfig.Name must not be empty"))
	}

	if c.Interval <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.Interval must be positive"))
	}

	if c.Jitter <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.Jitter must be positive"))
	}

	if c.Jitter > c.Interval {
		err = errors.Join(err, errors.New("MonitorConfig.Jitter must not exceed MonitorConfig.Interval"))
	}

	if c.ResponseTimeout <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.ResponseTimeout must be positive"))
	}

	return err
}

// Monitor registers a monitor for an individual subsystem.
// The subsystem must receive from the returned channel in its main loop
// and close [Signal.Alive] to indicate timely receipt.
//
// If the watchdog was built with [NewNopWatchdog],
// or if ctx is canceled before the monitor starts,
// the returned channel is nil.
func (w *Watchdog) Monitor(ctx context.Context, cfg MonitorConfig) <-chan Signal {
	// Validate regardless of whether monitoring is actually performed.
	if err := cfg.validate(); err != nil {
		panic(fmt.Errorf("(*Watchdog).Monitor: MonitorConfig is invalid: %w", err))
	}

	if w.monitorRequests == nil {
		// Nop watchdog.
		return nil
	}

	req := monitorRequest{
		Cfg:  cfg,
		Resp: make(chan (<-chan Signal), 1),
	}

	ch, _ := gchan.ReqResp(
		ctx, w.log,
		w.monitorRequests, req,
		req.Resp,
		"requesting new monitor",
	)
	return ch
}

// Signal is the value delivered on the channel returned by [*Watchdog.Monitor].
// The monitored subsystem must close Alive as soon as possible
// to prevent a system-wide termination.
type Signal struct {
	// Every signal has a non-nil, non-closed Alive channel.
	Alive chan<- struct{}
}

// monitor runs in its own goroutine, pinging one subsystem on the
// configured interval.
func monitor(
	ctx context.Context,
	log *slog.Logger,
	cfg MonitorConfig,
	wg *sync.WaitGroup,
	sigCh chan<- Signal,
	cancel context.CancelCauseFunc,
) {
	defer wg.Done()

	// Each monitor gets its own RNG seeded from the global one,
	// avoiding a mutex on the shared source for a trivial amount of memory.
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	for {
		j := rng.Int64N(int64(2*cfg.Jitter)) - int64(cfg.Jitter)

		timer := time.NewTimer(cfg.Interval + time.Duration(j))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if !pingSubsystem(ctx, cfg.Name, cfg.ResponseTimeout, sigCh, cancel) {
				return
			}
		}
	}
}

func pingSubsystem(
	ctx context.Context,
	name string,
	responseTimeout time.Duration,
	sigCh chan<- Signal,
	cancel context.CancelCauseFunc,
) (ok bool) {
	alive := make(chan struct{})
	sig := Signal{
		Alive: alive,
	}
	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()

	// The signal itself must be accepted within the timeout.
	select {
	case <-ctx.Done():
		return false
	case sigCh <- sig:
		// Keep going.
	case <-timer.C:
		cancel(FailureToRespondError{SubsystemName: name})
		return true
	}

	// Then the response must arrive before the timeout.
	select {
	case <-ctx.Done():
		return false
	case <-alive:
		return true
	case <-timer.C:
		// One final fast check: the subsystem may have responded just before
		// the timer elapsed, with the runtime picking the timer case at random.
		select {
		case <-alive:
			return true
		default:
			cancel(FailureToRespondError{SubsystemName: name})
			return true
		}
	}
}
