// Command avcpkt-demo pulls a raw Annex-B H.264 stream over SRT and logs
// every Access Unit the packetizer emits, including any closed captions
// carried in its SEI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/streamworks/avcpkt"
	"github.com/streamworks/avcpkt/internal/srtsource"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	srtAddr := envOr("SRT_ADDR", "srt://127.0.0.1:6000")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	pkt, err := avcpkt.Open(avcpkt.CodecH264, false, nil)
	if err != nil {
		slog.Error("failed to open packetizer", "error", err)
		os.Exit(1)
	}

	auCount := 0
	onAU := func(au avcpkt.AccessUnit) {
		auCount++
		slog.Info("access unit",
			"n", auCount,
			"frame_type", au.FrameType,
			"pts", au.PTS,
			"dts", au.DTS,
			"pre_roll", au.PreRoll,
			"bytes", len(au.Data),
		)
		if cc, ok := pkt.GetCC(); ok {
			slog.Debug("captions", "bytes", len(cc.Payload), "channels", cc.ChannelPresent)
		}
	}

	src := srtsource.New(srtAddr, pkt, onAU, nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return src.Run(ctx)
	})

	slog.Info("avcpkt-demo starting", "srt_addr", srtAddr)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("source error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
