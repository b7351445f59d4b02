// Package avcpkt turns an H.264/AVC coded byte stream — Annex B or AVCC
// framed — into decoder-ready Access Units with timestamps, picture-type
// flags, duration, and field hints attached, plus a side-channel for
// CEA-608/708 closed captions extracted from SEI.
package avcpkt

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/streamworks/avcpkt/h264"
	"github.com/streamworks/avcpkt/internal/au"
)

// Codec identifies the coded video format a Packetizer was opened for.
// Only CodecH264 is implemented; Open rejects anything else.
type Codec int

const (
	CodecH264 Codec = iota
)

// Flags annotate an input Block with container-level hints.
type Flags uint8

const (
	// FlagDiscontinuity marks a block as following a gap in the source
	// stream. In AVCC mode the block is dropped entirely.
	FlagDiscontinuity Flags = 1 << iota
	// FlagCorrupted marks a block as known-damaged. In AVCC mode the block
	// is dropped entirely.
	FlagCorrupted
)

// Block is one input unit: a contiguous byte range plus optional
// presentation/decoding timestamps.
type Block struct {
	Data   []byte
	PTS    int64
	HasPTS bool
	DTS    int64
	HasDTS bool
	Flags  Flags
}

// FrameType classifies an Access Unit's coded picture type.
type FrameType = h264.FrameType

// Frame-type constants re-exported from h264 for callers that only need the
// packetizer's public surface.
const (
	FrameTypeNone = h264.FrameTypeNone
	FrameTypeI    = h264.FrameTypeI
	FrameTypeP    = h264.FrameTypeP
	FrameTypeB    = h264.FrameTypeB
)

// FieldFirst identifies which field of an interlaced pair an AU carries.
type FieldFirst int

const (
	FieldFirstNone FieldFirst = iota
	FieldFirstTop
	FieldFirstBottom
)

// AccessUnit is one emitted, Annex-B framed coded picture ready for a
// decoder.
type AccessUnit struct {
	Data []byte

	PTS, DTS       int64
	HasPTS, HasDTS bool

	FrameType FrameType

	Duration    int64
	HasDuration bool

	FieldFirst FieldFirst

	// PreRoll marks an AU not intended for display while the decoder is
	// still warming up.
	PreRoll bool
}

// CCBlock is one buffered caption payload handed back via GetCC.
type CCBlock struct {
	Payload        []byte
	ChannelPresent [4]bool
	PTS, DTS       int64
	FrameType      FrameType
}

// ErrUnsupportedCodec is returned by Open for any codec other than
// CodecH264.
var ErrUnsupportedCodec = errors.New("avcpkt: unsupported codec")

// Packetizer is the core H.264 Access Unit packetizer. It carries no
// goroutines, channels, or locks: Push, GetCC, Reset, and Close all run to
// completion synchronously within the caller's call.
type Packetizer struct {
	log *slog.Logger

	avcc       bool
	lengthSize int

	params *au.ParamStore
	cc     *au.CCSink
	asm    *au.Assembler
}

// Option configures a Packetizer at Open time.
type Option func(*Packetizer)

// WithLogger attaches a structured logger for warnings the packetizer emits
// on recoverable parse failures. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Packetizer) { p.log = log }
}

// Open constructs a Packetizer for codec. If avcc is true, extradata must be
// an AVCDecoderConfigurationRecord (ISO/IEC 14496-15 §5.2.4.1) of at least 7
// bytes; its SPS/PPS entries bootstrap the parameter-set store before the
// first Push.
func Open(codec Codec, avcc bool, extradata []byte, opts ...Option) (*Packetizer, error) {
	if codec != CodecH264 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCodec, codec)
	}

	p := &Packetizer{log: slog.Default(), avcc: avcc}
	for _, opt := range opts {
		opt(p)
	}

	p.params = au.NewParamStore()
	p.cc = au.NewCCSink(p.log.With("component", "cc"))
	p.asm = au.NewAssembler(p.params, p.cc, p.log.With("component", "assembler"))

	if avcc {
		cfg, err := h264.ParseAVCDecoderConfig(extradata)
		if err != nil {
			return nil, fmt.Errorf("avcpkt: AVCC extradata: %w", err)
		}
		p.lengthSize = cfg.LengthSize
		for _, sps := range cfg.SPS {
			p.asm.PushNAL(h264.WithStartCode(sps), false, 0, false, 0)
		}
		for _, pps := range cfg.PPS {
			p.asm.PushNAL(h264.WithStartCode(pps), false, 0, false, 0)
		}
	}

	return p, nil
}

// Push feeds one input block and returns zero or more completed Access
// Units in decode order. No per-call condition is fatal to the pipeline;
// Push's error return is reserved for future use and is always nil today.
func (p *Packetizer) Push(block Block) ([]AccessUnit, error) {
	if p.avcc {
		if block.Flags&(FlagDiscontinuity|FlagCorrupted) != 0 {
			return nil, nil
		}
		return p.pushAVCC(block), nil
	}
	return p.pushAnnexB(block), nil
}

func (p *Packetizer) pushAnnexB(block Block) []AccessUnit {
	nals := h264.ScanAnnexB(block.Data)
	return p.feedNALs(nals, block)
}

func (p *Packetizer) pushAVCC(block Block) []AccessUnit {
	nals, err := h264.SplitAVCCSample(block.Data, p.lengthSize)
	if err != nil {
		p.log.Warn("broken frame, abandoning block", "error", err)
	}
	return p.feedNALs(nals, block)
}

// feedNALs runs each NAL through the assembler, applying the block's
// timestamp only to the first NAL it produced.
func (p *Packetizer) feedNALs(nals []h264.NALUnit, block Block) []AccessUnit {
	var out []AccessUnit
	tsApplied := false
	for _, n := range nals {
		hasPTS, hasDTS := false, false
		var pts, dts int64
		if !tsApplied {
			hasPTS, pts = block.HasPTS, block.PTS
			hasDTS, dts = block.HasDTS, block.DTS
			tsApplied = true
		}
		if emitted := p.asm.PushNAL(h264.WithStartCode(n.Data), hasPTS, pts, hasDTS, dts); emitted != nil {
			out = append(out, toPublicAU(emitted))
		}
	}
	return out
}

// GetCC returns the buffered caption payload assembled alongside the most
// recently emitted Access Unit, if any, then flushes it. Captions live one
// AU cycle.
func (p *Packetizer) GetCC() (CCBlock, bool) {
	payload, presence, pts, dts, flags, ok := p.cc.GetCC()
	if !ok {
		return CCBlock{}, false
	}
	return CCBlock{
		Payload:        payload,
		ChannelPresent: presence,
		PTS:            pts,
		DTS:            dts,
		FrameType:      publicFrameTypeHint(flags.FrameType),
	}, true
}

// Reset applies the soft reset (timestamp state only) or, if hard is true,
// the hard reset (additionally discards the partial Access Unit and
// boundary-detection state). The parameter-set store always survives.
func (p *Packetizer) Reset(hard bool) {
	if hard {
		p.asm.HardReset()
		return
	}
	p.asm.SoftReset()
}

// Close flushes whatever Access Unit is currently under construction and
// releases the packetizer. The returned slice has zero or one elements.
func (p *Packetizer) Close() []AccessUnit {
	if emitted := p.asm.Flush(); emitted != nil {
		return []AccessUnit{toPublicAU(emitted)}
	}
	return nil
}

func toPublicAU(a *au.AccessUnit) AccessUnit {
	return AccessUnit{
		Data:        a.Data,
		PTS:         a.PTS,
		DTS:         a.DTS,
		HasPTS:      a.HasPTS,
		HasDTS:      a.HasDTS,
		FrameType:   a.FrameType,
		Duration:    a.Duration,
		HasDuration: a.HasDuration,
		FieldFirst:  FieldFirst(a.FieldFirst),
		PreRoll:     a.PreRoll,
	}
}

func publicFrameTypeHint(h au.FrameTypeHint) FrameType {
	switch h {
	case au.FrameTypeHintI:
		return FrameTypeI
	case au.FrameTypeHintB:
		return FrameTypeB
	default:
		return FrameTypeP
	}
}
