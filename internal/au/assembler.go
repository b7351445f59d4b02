package au

import (
	"log/slog"

	"github.com/streamworks/avcpkt/h264"
)

// Assembler is the Access Unit assembler (component C5) together with the
// reset/discontinuity handler (C7). It consumes one NAL fragment at a time
// and returns a completed AccessUnit whenever a boundary is crossed.
//
// Assembler carries no goroutines, channels, or locks: every method runs to
// completion synchronously within the caller's call, per the single-threaded
// cooperative model this packetizer follows.
type Assembler struct {
	log    *slog.Logger
	params *ParamStore
	cc     *CCSink

	// chain holds the NAL fragments (each Annex-B framed, including start
	// code) accumulated for the AU currently under construction.
	chain [][]byte

	sliceAdopted bool
	hasAUD       bool

	prevSlice    h264.Slice
	hasPrevSlice bool

	curSPS h264.SPS

	frameType    h264.FrameType
	hasFrameSPS  bool
	hasFramePPS  bool

	hasPicStruct bool
	picStruct    int

	framePTS, frameDTS       int64
	hasFramePTS, hasFrameDTS bool

	bHeader        bool
	recoveryFrames int // -1 == unset

	evenFrame bool

	prevPTS, prevDTS       int64
	hasPrevPTS, hasPrevDTS bool

	pendingParamsWarned bool
}

// NewAssembler returns an Assembler sharing the given parameter-set store
// and CC side-channel. The store is expected to outlive resets; see
// SoftReset/HardReset.
func NewAssembler(params *ParamStore, cc *CCSink, log *slog.Logger) *Assembler {
	return &Assembler{
		log:            log,
		params:         params,
		cc:             cc,
		recoveryFrames: -1,
	}
}

// PushNAL feeds one Annex-B framed NAL (4-byte start code + header +
// payload) into the assembler, returning a completed AccessUnit if this NAL
// closed one out.
func (a *Assembler) PushNAL(data []byte, hasPTS bool, pts int64, hasDTS bool, dts int64) *AccessUnit {
	f := nalFragment{data: data, hasPTS: hasPTS, pts: pts, hasDTS: hasDTS, dts: dts}
	refIDC, nalType, ok := f.header()
	if !ok {
		return nil
	}

	switch {
	case h264.IsSlice(nalType):
		return a.handleSlice(f, refIDC, nalType)
	case nalType == h264.NALTypeSPS:
		return a.handleParamSet(f, true)
	case nalType == h264.NALTypePPS:
		return a.handleParamSet(f, false)
	case nalType == h264.NALTypeAUD:
		return a.handleAUD(f)
	case nalType == h264.NALTypeSEI:
		return a.handleSEI(f)
	case nalType >= 13 && nalType <= 18:
		return a.handleEmitFirstThenAppend(f)
	default:
		a.appendRaw(f)
		return nil
	}
}

func (a *Assembler) appendRaw(f nalFragment) {
	a.chain = append(a.chain, f.data)
	a.adoptTimestamp(f)
}

func (a *Assembler) adoptTimestamp(f nalFragment) {
	if f.hasPTS && !a.hasFramePTS {
		a.framePTS, a.hasFramePTS = f.pts, true
	}
	if f.hasDTS && !a.hasFrameDTS {
		a.frameDTS, a.hasFrameDTS = f.dts, true
	}
}

// handleSlice processes a coded slice NAL (types 1..5): resolves its
// PPS/SPS, parses the slice header, and checks for an Access Unit boundary.
func (a *Assembler) handleSlice(f nalFragment, refIDC, nalType byte) *AccessUnit {
	haveSPS, havePPS := a.params.HaveAny()
	if !haveSPS || !havePPS {
		if !a.pendingParamsWarned {
			if a.log != nil {
				a.log.Warn("waiting for SPS/PPS")
			}
			a.pendingParamsWarned = true
		}
		return a.discardPartialAU()
	}

	raw := f.rawNAL()
	ppsID, err := h264.PeekSlicePPSID(raw)
	if err != nil {
		if a.log != nil {
			a.log.Warn("dropping slice with unparsable header", "error", err)
		}
		return nil
	}
	ppsRec, ok := a.params.PPS(ppsID)
	if !ok {
		if a.log != nil {
			a.log.Warn("dropping slice referencing unknown PPS", "pps_id", ppsID)
		}
		return nil
	}
	spsRec, ok := a.params.SPS(ppsRec.Info.SPSID)
	if !ok {
		if a.log != nil {
			a.log.Warn("dropping slice referencing unknown SPS", "sps_id", ppsRec.Info.SPSID)
		}
		return nil
	}

	slice, err := h264.ParseSliceHeader(raw, spsRec.Info, ppsRec.Info)
	if err != nil {
		if a.log != nil {
			a.log.Warn("dropping slice with unparsable header", "error", err)
		}
		return nil
	}

	boundary := h264.IsNewAccessUnit(a.prevSlice, slice, a.hasPrevSlice)

	var emitted *AccessUnit
	if boundary && a.sliceAdopted {
		emitted = a.emit()
	}

	a.chain = append(a.chain, f.data)
	a.adoptTimestamp(f)
	a.sliceAdopted = true
	a.prevSlice = slice
	a.hasPrevSlice = true
	a.curSPS = spsRec.Info
	if boundary || a.frameType == h264.FrameTypeNone {
		a.frameType = slice.FrameType
	}

	return emitted
}

// handleParamSet processes an SPS (type 7) or PPS (type 8) NAL: any
// pending Access Unit is emitted first, then the parameter set is stored.
func (a *Assembler) handleParamSet(f nalFragment, isSPS bool) *AccessUnit {
	var emitted *AccessUnit
	if a.sliceAdopted {
		emitted = a.emit()
	}

	raw := f.rawNAL()
	if isSPS {
		if _, ok := a.params.PutSPS(raw, a.log); ok {
			a.hasFrameSPS = true
		}
	} else {
		if _, ok := a.params.PutPPS(raw, a.log); ok {
			a.hasFramePPS = true
		}
	}
	a.adoptTimestamp(f)
	return emitted
}

// handleAUD processes an access unit delimiter NAL (type 9): any pending
// Access Unit is emitted first, then the AUD is appended only if the
// current AU does not already carry one.
func (a *Assembler) handleAUD(f nalFragment) *AccessUnit {
	var emitted *AccessUnit
	if a.sliceAdopted {
		emitted = a.emit()
	}

	if a.hasAUD {
		return emitted
	}
	a.chain = append(a.chain, f.data)
	a.hasAUD = true
	a.adoptTimestamp(f)
	return emitted
}

// handleSEI processes an SEI NAL (type 6): any pending Access Unit is
// emitted first, then its payloads are walked for pic_timing, recovery
// point, and caption data before the NAL is appended.
func (a *Assembler) handleSEI(f nalFragment) *AccessUnit {
	var emitted *AccessUnit
	if a.sliceAdopted {
		emitted = a.emit()
	}

	info := h264.ParseSEI(f.rawNAL(), a.curSPS)
	if info.HasPicStruct {
		a.picStruct = info.PicStruct
		a.hasPicStruct = true
	}
	if info.HasRecoveryPoint && !a.bHeader {
		n := int(info.RecoveryFrameCnt)
		if a.recoveryFrames == -1 || n < a.recoveryFrames {
			a.recoveryFrames = n
		}
	}
	if info.HasCaptionPayload {
		a.cc.IngestSEIPayload(f.rawNAL())
	}

	a.chain = append(a.chain, f.data)
	a.adoptTimestamp(f)
	return emitted
}

// handleEmitFirstThenAppend processes NAL types 13..18: any pending Access
// Unit is emitted first, then the NAL is appended as-is. Other unhandled
// types are appended by PushNAL without emitting.
func (a *Assembler) handleEmitFirstThenAppend(f nalFragment) *AccessUnit {
	var emitted *AccessUnit
	if a.sliceAdopted {
		emitted = a.emit()
	}
	a.chain = append(a.chain, f.data)
	a.adoptTimestamp(f)
	return emitted
}

// discardPartialAU drops any accumulated AU when a slice arrives before
// parameter sets are known.
func (a *Assembler) discardPartialAU() *AccessUnit {
	a.resetAUState()
	return nil
}

// emit finalizes the Access Unit currently under construction and returns
// it, or nil if this emission was suppressed as a pre-roll discard.
func (a *Assembler) emit() *AccessUnit {
	headerWasReady := a.bHeader
	suppressed := false

	if !headerWasReady {
		if a.recoveryFrames != -1 {
			if a.recoveryFrames == 0 {
				a.bHeader = true
			}
			a.recoveryFrames--
		} else if a.frameType != h264.FrameTypeI {
			suppressed = true
		}
	}

	if suppressed {
		a.resetAUState()
		return nil
	}

	finalChain := a.injectParamSets()
	preRoll := !a.bHeader

	numClockTs := 1
	if !a.curSPS.FrameMbsOnlyFlag && a.curSPS.PicStructPresent && a.hasPicStruct && a.picStruct < 9 {
		numClockTs = numClockTsTable[a.picStruct]
	}
	var duration int64
	hasDuration := false
	if a.curSPS.TimeScale != 0 {
		duration = clockFreq * int64(numClockTs) * int64(a.curSPS.NumUnitsInTick) / int64(a.curSPS.TimeScale)
		hasDuration = true
	}

	fieldFirst := FieldFirstNone
	interlaced := !a.curSPS.FrameMbsOnlyFlag
	if interlaced && a.curSPS.PicStructPresent && a.hasPicStruct {
		switch a.picStruct {
		case 1, 2:
			if !a.evenFrame {
				if a.picStruct == 1 {
					fieldFirst = FieldFirstTop
				} else {
					fieldFirst = FieldFirstBottom
				}
			} else if !a.hasFramePTS && hasDuration && a.hasPrevPTS {
				a.framePTS = a.prevPTS + duration
				a.hasFramePTS = true
			}
			a.evenFrame = !a.evenFrame
		case 3:
			fieldFirst = FieldFirstTop
			a.evenFrame = false
		case 4:
			fieldFirst = FieldFirstBottom
			a.evenFrame = false
		case 5:
			fieldFirst = FieldFirstTop
		case 6:
			fieldFirst = FieldFirstBottom
		default:
			a.evenFrame = false
		}
	}

	if !a.hasFrameDTS && a.hasPrevDTS {
		a.frameDTS = a.prevDTS
		a.hasFrameDTS = true
	}

	au := &AccessUnit{
		Data:        flatten(finalChain),
		PTS:         a.framePTS,
		DTS:         a.frameDTS,
		HasPTS:      a.hasFramePTS,
		HasDTS:      a.hasFrameDTS,
		FrameType:   a.frameType,
		Duration:    duration,
		HasDuration: hasDuration,
		FieldFirst:  fieldFirst,
		PreRoll:     preRoll,
	}

	if a.hasFramePTS {
		a.prevPTS, a.hasPrevPTS = a.framePTS, true
	}
	if a.hasFrameDTS {
		a.prevDTS, a.hasPrevDTS = a.frameDTS, true
	}

	a.cc.SnapshotOnEmit(au.PTS, au.DTS, CCFlags{FrameType: frameTypeHint(a.frameType)})

	a.resetAUState()
	return au
}

// injectParamSets prepends the current SPS/PPS NALs to the chain when the
// Access Unit is a keyframe or carried its own in-band parameter sets.
func (a *Assembler) injectParamSets() [][]byte {
	haveSPS, havePPS := a.params.HaveAny()
	inject := (a.frameType == h264.FrameTypeI && haveSPS && havePPS) || a.hasFrameSPS || a.hasFramePPS
	if !inject {
		return a.chain
	}

	var out [][]byte
	rest := a.chain
	if a.hasAUD && len(a.chain) > 0 {
		out = append(out, a.chain[0])
		rest = a.chain[1:]
	}
	for _, nal := range a.params.AllSPSNALs() {
		out = append(out, h264.WithStartCode(nal))
	}
	for _, nal := range a.params.AllPPSNALs() {
		out = append(out, h264.WithStartCode(nal))
	}
	out = append(out, rest...)

	if haveSPS && havePPS {
		a.bHeader = true
	}
	return out
}

func flatten(chain [][]byte) []byte {
	n := 0
	for _, c := range chain {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chain {
		out = append(out, c...)
	}
	return out
}

func frameTypeHint(t h264.FrameType) FrameTypeHint {
	switch t {
	case h264.FrameTypeI:
		return FrameTypeHintI
	case h264.FrameTypeB:
		return FrameTypeHintB
	default:
		return FrameTypeHintP
	}
}

// resetAUState clears the AU-under-construction without touching the parameter-set store,
// b_header, the recovery countdown, or cross-AU timestamp state.
func (a *Assembler) resetAUState() {
	a.chain = nil
	a.sliceAdopted = false
	a.hasAUD = false
	a.frameType = h264.FrameTypeNone
	a.hasFrameSPS = false
	a.hasFramePPS = false
	a.hasPicStruct = false
	a.picStruct = 0
	a.framePTS, a.hasFramePTS = 0, false
	a.frameDTS, a.hasFrameDTS = 0, false
}

// SoftReset clears only timestamp-tracking state, leaving the partial
// Access Unit and parameter-set store untouched.
func (a *Assembler) SoftReset() {
	a.hasFramePTS, a.hasFrameDTS = false, false
	a.framePTS, a.frameDTS = 0, 0
	a.hasPrevPTS, a.hasPrevDTS = false, false
	a.prevPTS, a.prevDTS = 0, 0
	a.evenFrame = false
}

// HardReset additionally releases the partial AU and the boundary-detection
// state it depends on. The parameter-set store, b_header, and the recovery
// countdown are preserved.
func (a *Assembler) HardReset() {
	a.SoftReset()
	a.resetAUState()
	a.hasPrevSlice = false
	a.prevSlice = h264.Slice{}
	a.pendingParamsWarned = false
	a.cc.Flush()
}

// Flush forces emission of whatever AU is currently under construction, for
// use at stream end. It does not apply pre-roll suppression bookkeeping
// beyond what emit() already does.
func (a *Assembler) Flush() *AccessUnit {
	if !a.sliceAdopted {
		return nil
	}
	return a.emit()
}
