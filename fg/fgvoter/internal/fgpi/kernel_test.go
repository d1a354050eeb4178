package fgpi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yeeco/finality-grandpa/fg/fgconsensus"
	"github.com/yeeco/finality-grandpa/fg/fgconsensus/fgconsensustest"
	"github.com/yeeco/finality-grandpa/gwatchdog"
	"github.com/yeeco/finality-grandpa/internal/gtest"
)

type kernelFixture struct {
	Fx  *fgconsensustest.Fixture
	Env *fgconsensustest.ManualEnvironment

	PushRequests   chan PushRequest
	UpdateRequests chan UpdateFinalizedRequest
	RouteRequests  chan RouteCommitRequest
	Commits        chan RoundCommit

	Watchdog *gwatchdog.Watchdog
	WCtx     context.Context

	K *Kernel
}

// newMonitoredKernelFixture returns a kernel watched by a real watchdog
// whose monitor runs on short scaled intervals,
// so tests observe several ping cycles without long sleeps.
func newMonitoredKernelFixture(ctx context.Context, t *testing.T) *kernelFixture {
	t.Helper()

	log := gtest.NewLogger(t)
	wd, wCtx := gwatchdog.NewWatchdog(ctx, log)

	f := &kernelFixture{
		Fx:  fgconsensustest.NewFixture(4),
		Env: fgconsensustest.NewManualEnvironment(),

		PushRequests:   make(chan PushRequest),
		UpdateRequests: make(chan UpdateFinalizedRequest),
		RouteRequests:  make(chan RouteCommitRequest),
		Commits:        make(chan RoundCommit),

		Watchdog: wd,
		WCtx:     wCtx,
	}

	f.K = NewKernel(wCtx, log.With("p_sys", "kernel"), KernelConfig{
		Environment: f.Env,

		PushRequests:   f.PushRequests,
		UpdateRequests: f.UpdateRequests,
		RouteRequests:  f.RouteRequests,

		CommitsOut: f.Commits,

		Watchdog: wd,
		Monitor: gwatchdog.MonitorConfig{
			Name: "PastRounds kernel",

			Interval: time.Duration(gtest.ScaleMs(20)),
			Jitter:   time.Duration(gtest.ScaleMs(5)),

			ResponseTimeout: time.Duration(gtest.ScaleMs(50)),
		},
	})

	t.Cleanup(f.K.Wait)
	t.Cleanup(wd.Wait)

	return f
}

func (f *kernelFixture) pushFinalizedRound(
	t *testing.T,
	n, estNum, finNum uint64,
) (*fgconsensustest.VotingRoundFake, fgconsensus.Commit) {
	t.Helper()

	vr := fgconsensustest.NewVotingRoundFake(n)

	est := f.Fx.BlockTarget("estimate", estNum)
	vr.SetEstimate(&est)

	fin := f.Fx.BlockTarget("finalized", finNum)
	vr.SetFinalized(&fin)

	c := f.Fx.SignedCommit(fin, 0, 1, 2)
	vr.SetFinalizingCommit(c)

	req := PushRequest{Round: vr, Resp: make(chan struct{}, 1)}
	gtest.SendSoon(t, f.PushRequests, req)
	gtest.ReceiveSoon(t, req.Resp)

	return vr, c
}

func TestKernel_answersMonitorWhileIdle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newMonitoredKernelFixture(ctx, t)

	// Long enough for several ping cycles with no work arriving.
	idle := time.NewTimer(time.Duration(gtest.ScaleMs(200)))
	defer idle.Stop()

	select {
	case <-idle.C:
		// Okay.
	case <-f.WCtx.Done():
		t.Fatalf("watchdog terminated an idle kernel: %v", context.Cause(f.WCtx))
	}

	require.False(t, gwatchdog.IsTermination(f.WCtx))
}

func TestKernel_answersMonitorWhileConsumerLags(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newMonitoredKernelFixture(ctx, t)

	_, want := f.pushFinalizedRound(t, 5, 8, 8)
	gtest.ReceiveSoon(t, f.Env.Timers).Fire()

	// Nobody reads the commit output for several ping cycles;
	// the kernel must hold the commit rather than block on the consumer.
	lag := time.NewTimer(time.Duration(gtest.ScaleMs(200)))
	defer lag.Stop()

	select {
	case <-lag.C:
		// Okay.
	case <-f.WCtx.Done():
		t.Fatalf(
			"watchdog terminated the kernel while the consumer lagged: %v",
			context.Cause(f.WCtx),
		)
	}

	// Requests are still serviced while the commit waits for the consumer.
	req := UpdateFinalizedRequest{Height: 1, Resp: make(chan struct{}, 1)}
	gtest.SendSoon(t, f.UpdateRequests, req)
	gtest.ReceiveSoon(t, req.Resp)

	// And the commit is still delivered once the consumer catches up.
	rc := gtest.ReceiveSoon(t, f.Commits)
	require.Equal(t, uint64(5), rc.RoundNumber)
	require.Equal(t, want, rc.Commit)

	require.False(t, gwatchdog.IsTermination(f.WCtx))
}
