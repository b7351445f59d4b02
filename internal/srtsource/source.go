// Package srtsource pulls a raw Annex-B H.264 elementary stream over SRT and
// feeds it into an avcpkt.Packetizer, one read-sized chunk per Block. It is
// demo-CLI plumbing, not a general ingest layer: no MPEG-TS demuxing, no
// multi-stream registry, no publish side.
package srtsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/streamworks/avcpkt"
)

// readBufferSize is the SRT socket read buffer. 1316 bytes = 7 MPEG-TS
// packets (188 * 7), the standard SRT payload size; sized up to amortize
// syscalls for a raw elementary stream.
const readBufferSize = 1316 * 10

// latencyNs is the SRT latency setting in nanoseconds (120ms).
const latencyNs = 120_000_000

const dialTimeout = 10 * time.Second

// Source dials one remote SRT listener and pushes every chunk it reads
// through a Packetizer, invoking onAU for each Access Unit the packetizer
// emits.
type Source struct {
	log  *slog.Logger
	addr string
	pkt  *avcpkt.Packetizer
	onAU func(avcpkt.AccessUnit)
}

// New creates a Source that dials addr and feeds pkt. If log is nil,
// slog.Default() is used.
func New(addr string, pkt *avcpkt.Packetizer, onAU func(avcpkt.AccessUnit), log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		log:  log.With("component", "srt-source"),
		addr: addr,
		pkt:  pkt,
		onAU: onAU,
	}
}

// Run dials the remote SRT source and streams until ctx is cancelled or the
// connection drops. It blocks for the duration of the pull.
func (s *Source) Run(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(s.addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	var conn *srtgo.Conn
	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("SRT dial failed: %w", res.err)
		}
		conn = res.conn
	case <-timer.C:
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return fmt.Errorf("SRT dial timed out after %s", dialTimeout)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return ctx.Err()
	}
	defer conn.Close()

	s.log.Info("connected", "addr", s.addr)

	buf := make([]byte, readBufferSize)
	var bytesRead int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			s.log.Warn("read error", "error", err)
			break
		}
		bytesRead += int64(n)

		aus, pushErr := s.pkt.Push(avcpkt.Block{Data: buf[:n]})
		if pushErr != nil {
			s.log.Warn("push error", "error", pushErr)
			continue
		}
		for _, au := range aus {
			s.onAU(au)
		}
	}

	if closed := s.pkt.Close(); len(closed) > 0 {
		for _, au := range closed {
			s.onAU(au)
		}
	}

	s.log.Info("pull ended", "bytes", bytesRead)
	return nil
}
