package au

import (
	"log/slog"

	"github.com/zsiec/ccx"
)

// ccChannels is the number of CEA-608 channels (CC1..CC4) the side-channel
// tracks presence for. DTVCC (CEA-708) service blocks are reassembled and
// appended to the same payload but do not occupy a presence slot of their
// own; a consumer that needs per-service 708 data parses the 708 packet
// markers out of payload itself.
const ccChannels = 4

// ccStage is the staging or emit-side half of the CC double buffer.
// ccx.ExtractCaptions output writes into staging while parsing SEI, and on
// AU emission staging moves wholesale to the emit side.
type ccStage struct {
	payload  []byte
	presence [ccChannels]bool
}

func (s *ccStage) reset() {
	s.payload = s.payload[:0]
	s.presence = [ccChannels]bool{}
}

// CCSink is the CC side-channel. It wraps ccx.ExtractCaptions, buffers
// extracted payload bytes parallel to picture output, and hands them back
// to the caller on demand via GetCC.
type CCSink struct {
	log *slog.Logger

	staging ccStage
	dtvccBuf []byte

	emit      ccStage
	emitPTS   int64
	emitDTS   int64
	emitFlags CCFlags
	emitValid bool

	// Reordered marks the caption stream as extracted with reordering
	// enabled. This packetizer always enables it; the field exists so the
	// timestamp selection in GetCC follows an explicit branch rather than
	// assuming it.
	Reordered bool
}

// CCFlags mirrors the subset of an AU's flags a CC block inherits when the
// caption stream is not marked reordered.
type CCFlags struct {
	FrameType FrameTypeHint
}

// FrameTypeHint avoids importing h264 into this small struct's public
// surface; Assembler fills it in from h264.FrameType on emission.
type FrameTypeHint int

const (
	FrameTypeHintP FrameTypeHint = iota
	FrameTypeHintI
	FrameTypeHintB
)

// NewCCSink returns a CC side-channel with reordering enabled, the fixed
// mode this packetizer always uses when extracting captions.
func NewCCSink(log *slog.Logger) *CCSink {
	return &CCSink{log: log, Reordered: true}
}

// IngestSEIPayload is called once per SEI NAL found to carry a
// user_data_registered_itu_t_t35 payload matching the ATSC A/53 header
// (h264.SEIInfo.HasCaptionPayload). seiNAL is the whole SEI NAL (header byte
// plus RBSP, no start code); ccx.ExtractCaptions locates the GA94 block
// within it itself. It extracts CEA-608 pairs and CEA-708 DTVCC blocks and
// appends their raw bytes to the staging buffer.
func (c *CCSink) IngestSEIPayload(seiNAL []byte) {
	cd := ccx.ExtractCaptions(seiNAL)
	if cd == nil {
		return
	}

	for _, pair := range cd.CC608Pairs {
		if pair.Channel >= 1 && pair.Channel <= ccChannels {
			c.staging.presence[pair.Channel-1] = true
		}
		c.staging.payload = append(c.staging.payload, pair.Data[0], pair.Data[1])
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			c.drainDTVCC()
			c.dtvccBuf = c.dtvccBuf[:0]
		}
		c.dtvccBuf = append(c.dtvccBuf, t.Data[0], t.Data[1])
	}
}

// drainDTVCC reassembles whatever complete CEA-708 packet is currently
// buffered and appends its service-block payloads to the staging buffer.
// It does not decode to display text; this side-channel hands raw
// extracted bytes back to the caller.
func (c *CCSink) drainDTVCC() {
	if len(c.dtvccBuf) < 1 {
		return
	}
	packetSize := ccx.DTVCCPacketSize(c.dtvccBuf[0])
	if len(c.dtvccBuf) < packetSize {
		if c.log != nil {
			c.log.Debug("incomplete DTVCC packet at AU boundary", "have", len(c.dtvccBuf), "want", packetSize)
		}
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(c.dtvccBuf[:packetSize]) {
		c.staging.payload = append(c.staging.payload, block.Data...)
	}
}

// SnapshotOnEmit moves the staging CC state to the emit side and clears
// staging. Called once per emitted Access Unit.
func (c *CCSink) SnapshotOnEmit(pts, dts int64, flags CCFlags) {
	c.emit.payload = append(c.emit.payload[:0], c.staging.payload...)
	c.emit.presence = c.staging.presence
	c.emitPTS = pts
	c.emitDTS = dts
	c.emitFlags = flags
	c.emitValid = len(c.emit.payload) > 0 || c.emit.presence != [ccChannels]bool{}
	c.staging.reset()
}

// GetCC returns the buffered CC payload and channel-presence mask along
// with the timestamps and flags of the AU it was captured alongside, then
// flushes the emit side. Timestamps are the AU's PTS when the caption
// stream is marked reordered, else its DTS; flags are the AU's flags when
// reordered, else a forced P-picture hint.
func (c *CCSink) GetCC() (payload []byte, presence [ccChannels]bool, pts, dts int64, flags CCFlags, ok bool) {
	if !c.emitValid {
		return nil, [ccChannels]bool{}, 0, 0, CCFlags{}, false
	}

	payload = c.emit.payload
	presence = c.emit.presence
	flags = c.emitFlags
	if !c.Reordered {
		flags = CCFlags{FrameType: FrameTypeHintP}
	}
	if c.Reordered {
		pts, dts = c.emitPTS, c.emitPTS
	} else {
		pts, dts = c.emitDTS, c.emitDTS
	}

	c.emit.reset()
	c.emitValid = false
	return payload, presence, pts, dts, flags, true
}

// Flush discards pending staging and emit-side CC state without returning
// it, used by the hard reset path.
func (c *CCSink) Flush() {
	c.staging.reset()
	c.dtvccBuf = c.dtvccBuf[:0]
	c.emit.reset()
	c.emitValid = false
}
