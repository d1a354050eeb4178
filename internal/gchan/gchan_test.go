package gchan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yeeco/finality-grandpa/internal/gchan"
	"github.com/yeeco/finality-grandpa/internal/gtest"
)

func TestSendC(t *testing.T) {
	t.Parallel()

	t.Run("send completes", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch := make(chan int, 1)
		require.True(t, gchan.SendC(ctx, gtest.NewLogger(t), ch, 3, "sending test value"))
		require.Equal(t, 3, gtest.ReceiveSoon(t, ch))
	})

	t.Run("context canceled", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ch := make(chan int) // Unbuffered and never read, so the send blocks.
		require.False(t, gchan.SendC(ctx, gtest.NewLogger(t), ch, 3, "sending test value"))
	})
}

func TestRecvC(t *testing.T) {
	t.Parallel()

	t.Run("receive completes", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch := make(chan int, 1)
		ch <- 5

		got, ok := gchan.RecvC(ctx, gtest.NewLogger(t), ch, "receiving test value")
		require.True(t, ok)
		require.Equal(t, 5, got)
	})

	t.Run("context canceled", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ch := make(chan int)
		got, ok := gchan.RecvC(ctx, gtest.NewLogger(t), ch, "receiving test value")
		require.False(t, ok)
		require.Zero(t, got)
	})
}

func TestReqResp(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		reqCh := make(chan int)
		respCh := make(chan string, 1)

		go func() {
			n := <-reqCh
			if n == 7 {
				respCh <- "seven"
			}
		}()

		got, ok := gchan.ReqResp(ctx, gtest.NewLogger(t), reqCh, 7, respCh, "number naming")
		require.True(t, ok)
		require.Equal(t, "seven", got)
	})

	t.Run("canceled while awaiting response", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		reqCh := make(chan int, 1)
		respCh := make(chan string) // Nothing ever responds.

		cancel()

		got, ok := gchan.ReqResp(ctx, gtest.NewLogger(t), reqCh, 7, respCh, "number naming")
		require.False(t, ok)
		require.Zero(t, got)
	})
}
