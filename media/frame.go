// Package media converts emitted Access Units into the wire frame shape a
// distribution layer (RTMP/HLS/WebRTC fanout) actually needs: length-prefixed
// NALs plus the parameter sets a late-joining decoder requires.
package media

import (
	"encoding/binary"

	"github.com/streamworks/avcpkt"
	"github.com/streamworks/avcpkt/h264"
)

// VideoFrame is one Access Unit repackaged for relay to viewers: Annex-B NALs
// exploded into a slice, with any carried SPS/PPS called out separately, plus
// a pre-serialized AVCC (4-byte length-prefixed) rendering for consumers that
// want wire-ready bytes instead of walking NALUs themselves.
type VideoFrame struct {
	PTS, DTS   int64
	IsKeyframe bool
	NALUs      [][]byte
	SPS        []byte
	PPS        []byte
	WireData   []byte

	Duration int64
	PreRoll  bool
}

// ToWireFrame splits an Access Unit's Annex-B byte stream into individual
// NALUs, pulls out its parameter sets if it carries any, and rebuilds the
// payload as AVCC (4-byte length-prefixed) for distribution.
func ToWireFrame(au avcpkt.AccessUnit) VideoFrame {
	nals := h264.ScanAnnexB(au.Data)

	f := VideoFrame{
		PTS:        au.PTS,
		DTS:        au.DTS,
		IsKeyframe: au.FrameType == avcpkt.FrameTypeI,
		Duration:   au.Duration,
		PreRoll:    au.PreRoll,
	}

	var wire []byte
	for _, n := range nals {
		f.NALUs = append(f.NALUs, n.Data)

		switch n.Type {
		case h264.NALTypeSPS:
			f.SPS = n.Data
		case h264.NALTypePPS:
			f.PPS = n.Data
		}

		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(n.Data)))
		wire = append(wire, lenPrefix[:]...)
		wire = append(wire, n.Data...)
	}
	f.WireData = wire

	return f
}
