package au

import (
	"testing"

	"github.com/streamworks/avcpkt/h264"
)

func pushNAL(a *Assembler, raw []byte, hasPTS bool, pts int64, hasDTS bool, dts int64) *AccessUnit {
	return a.PushNAL(h264.WithStartCode(raw), hasPTS, pts, hasDTS, dts)
}

func buildAUD() []byte {
	return []byte{byte(h264.NALTypeAUD), 0xF0}
}

// buildSliceNAL builds a coded-slice NAL matching the fixed minimalSPSNAL/
// minimalPPSNAL fixtures used throughout this package's tests: progressive
// (frame_mbs_only_flag=1), pic_order_cnt_type=0, pic_order_present=false.
func buildSliceNAL(nalType byte, frameNum uint, sliceType uint, ppsID uint, log2MaxFrameNum int) []byte {
	var bw bitWriter
	bw.writeUE(0) // first_mb_in_slice
	bw.writeUE(sliceType)
	bw.writeUE(ppsID)
	bw.writeBits(frameNum, log2MaxFrameNum)
	if nalType == h264.NALTypeIDR {
		bw.writeUE(0) // idr_pic_id
	}
	bw.writeBits(0, 4) // pic_order_cnt_lsb (log2_max_pic_order_cnt_lsb = 4)
	refIDC := byte(2)
	header := refIDC<<5 | nalType
	return append([]byte{header}, bw.bytes()...)
}

func encodeSEISizeField(n int) []byte {
	var out []byte
	for n >= 255 {
		out = append(out, 0xFF)
		n -= 255
	}
	out = append(out, byte(n))
	return out
}

func buildRecoveryPointSEI(recoveryFrameCnt uint) []byte {
	var bw bitWriter
	bw.writeUE(recoveryFrameCnt)
	payload := bw.bytes()

	var body []byte
	body = append(body, encodeSEISizeField(6)...) // seiTypeRecoveryPoint
	body = append(body, encodeSEISizeField(len(payload))...)
	body = append(body, payload...)
	body = append(body, 0x80) // rbsp_trailing_bits
	return append([]byte{byte(h264.NALTypeSEI)}, body...)
}

func newTestAssembler(t *testing.T) (*Assembler, *ParamStore) {
	t.Helper()
	params := NewParamStore()
	cc := NewCCSink(nil)
	return NewAssembler(params, cc, nil), params
}

func pushBaseline(t *testing.T, a *Assembler, params *ParamStore) {
	t.Helper()
	pushNAL(a, minimalSPSNAL(0), false, 0, false, 0)
	pushNAL(a, minimalPPSNAL(0, 0), false, 0, false, 0)
	if haveSPS, havePPS := params.HaveAny(); !haveSPS || !havePPS {
		t.Fatal("expected SPS/PPS to be stored after pushing them through the assembler")
	}
}

func TestAssemblerEmitsOnFrameNumBoundary(t *testing.T) {
	t.Parallel()
	a, params := newTestAssembler(t)
	pushBaseline(t, a, params)

	pushNAL(a, buildAUD(), false, 0, false, 0)
	if emitted := pushNAL(a, buildSliceNAL(h264.NALTypeIDR, 0, 7, 0, 4), true, 1000, true, 1000); emitted != nil {
		t.Fatal("first slice of an AU must not emit yet")
	}

	emitted := pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 1, 0, 0, 4), false, 0, false, 0)
	if emitted == nil {
		t.Fatal("expected a frame_num change to emit the prior AU")
	}
	if emitted.FrameType != h264.FrameTypeI {
		t.Errorf("FrameType: got %v, want I", emitted.FrameType)
	}
	if !emitted.HasPTS || emitted.PTS != 1000 {
		t.Errorf("PTS: got %d (has=%v), want 1000", emitted.PTS, emitted.HasPTS)
	}
	if emitted.PreRoll {
		t.Error("a keyframe AU that injects its own SPS/PPS sets the header ready before finalizing, so it must not be marked PreRoll")
	}
}

func TestAssemblerInjectsParamSetsAfterAUD(t *testing.T) {
	t.Parallel()
	a, params := newTestAssembler(t)
	pushBaseline(t, a, params)

	pushNAL(a, buildAUD(), false, 0, false, 0)
	pushNAL(a, buildSliceNAL(h264.NALTypeIDR, 0, 7, 0, 4), false, 0, false, 0)
	emitted := pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 1, 0, 0, 4), false, 0, false, 0)
	if emitted == nil {
		t.Fatal("expected an emitted AU")
	}

	nals := h264.ScanAnnexB(emitted.Data)
	if len(nals) != 4 {
		t.Fatalf("expected 4 NALs (AUD, SPS, PPS, IDR slice), got %d", len(nals))
	}
	wantTypes := []byte{h264.NALTypeAUD, h264.NALTypeSPS, h264.NALTypePPS, h264.NALTypeIDR}
	for i, want := range wantTypes {
		_, nalType := h264.ParseNALHeader(nals[i].Data[0])
		if nalType != want {
			t.Errorf("NAL %d: got type %d, want %d", i, nalType, want)
		}
	}
}

func TestAssemblerSecondAUHasNoInjection(t *testing.T) {
	t.Parallel()
	a, params := newTestAssembler(t)
	pushBaseline(t, a, params)

	pushNAL(a, buildAUD(), false, 0, false, 0)
	pushNAL(a, buildSliceNAL(h264.NALTypeIDR, 0, 7, 0, 4), false, 0, false, 0)
	pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 1, 0, 0, 4), false, 0, false, 0) // emits the IDR AU

	emitted := pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 2, 0, 0, 4), false, 0, false, 0)
	if emitted == nil {
		t.Fatal("expected the second AU to emit on the next frame_num change")
	}
	if emitted.PreRoll {
		t.Error("b_header should already be set after the first AU; the second AU must not be PreRoll")
	}
	nals := h264.ScanAnnexB(emitted.Data)
	if len(nals) != 1 {
		t.Fatalf("expected exactly the P slice NAL with no injected params, got %d NALs", len(nals))
	}
}

func TestAssemblerDiscardsSliceBeforeParamSets(t *testing.T) {
	t.Parallel()
	a, params := newTestAssembler(t)

	if emitted := pushNAL(a, buildSliceNAL(h264.NALTypeIDR, 0, 7, 0, 4), false, 0, false, 0); emitted != nil {
		t.Fatal("a slice arriving before SPS/PPS must never emit")
	}

	// Once SPS/PPS arrive, a fresh slice starts a normal AU.
	pushBaseline(t, a, params)
	emitted := pushNAL(a, buildSliceNAL(h264.NALTypeIDR, 0, 7, 0, 4), false, 0, false, 0)
	if emitted != nil {
		t.Fatal("the first slice of a new AU must not emit yet")
	}
}

func TestAssemblerAUDDedup(t *testing.T) {
	t.Parallel()
	a, params := newTestAssembler(t)
	pushBaseline(t, a, params)

	pushNAL(a, buildAUD(), false, 0, false, 0)
	pushNAL(a, buildAUD(), false, 0, false, 0) // duplicate, same AU
	pushNAL(a, buildSliceNAL(h264.NALTypeIDR, 0, 7, 0, 4), false, 0, false, 0)
	emitted := pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 1, 0, 0, 4), false, 0, false, 0)
	if emitted == nil {
		t.Fatal("expected an emitted AU")
	}

	nals := h264.ScanAnnexB(emitted.Data)
	audCount := 0
	for _, n := range nals {
		_, nalType := h264.ParseNALHeader(n.Data[0])
		if nalType == h264.NALTypeAUD {
			audCount++
		}
	}
	if audCount != 1 {
		t.Errorf("AUD count: got %d, want 1 (duplicate AUDs within an AU must be dropped)", audCount)
	}
}

func TestAssemblerHardResetClearsBoundaryState(t *testing.T) {
	t.Parallel()
	a, params := newTestAssembler(t)
	pushBaseline(t, a, params)

	pushNAL(a, buildSliceNAL(h264.NALTypeIDR, 0, 7, 0, 4), false, 0, false, 0)
	a.HardReset()

	// After a hard reset, hasPrevSlice is false, so any next slice is
	// unconditionally a new AU boundary; since sliceAdopted was also
	// cleared, there is nothing pending to emit.
	emitted := pushNAL(a, buildSliceNAL(h264.NALTypeIDR, 0, 7, 0, 4), false, 0, false, 0)
	if emitted != nil {
		t.Fatal("immediately after HardReset, a single slice must not itself emit")
	}
}

func TestAssemblerSoftResetPreservesPartialAU(t *testing.T) {
	t.Parallel()
	a, params := newTestAssembler(t)
	pushBaseline(t, a, params)

	pushNAL(a, buildSliceNAL(h264.NALTypeIDR, 0, 7, 0, 4), true, 500, true, 500)
	a.SoftReset()

	emitted := pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 1, 0, 0, 4), false, 0, false, 0)
	if emitted == nil {
		t.Fatal("SoftReset must not discard the slice already accumulated into the AU")
	}
	if emitted.HasPTS {
		t.Error("SoftReset clears adopted timestamp state; the AU should now have no PTS")
	}
}

func TestAssemblerRecoveryPointPreRollCountdown(t *testing.T) {
	t.Parallel()
	a, params := newTestAssembler(t)
	pushBaseline(t, a, params)

	// A throwaway slice drains the hasFrameSPS/hasFramePPS flags left over
	// from pushBaseline: it gets suppressed (no b_header, no recovery point
	// yet, non-I), which still resets per-AU state via the normal path.
	pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 90, 0, 0, 4), false, 0, false, 0)

	// A non-IDR first frame: without a recovery point it would be
	// suppressed entirely (frameType != I and b_header unset). The
	// recovery-point SEI establishes a 2-frame countdown instead.
	pushNAL(a, buildRecoveryPointSEI(2), false, 0, false, 0)
	pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 0, 0, 0, 4), false, 0, false, 0)
	au1 := pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 1, 0, 0, 4), false, 0, false, 0)
	if au1 == nil {
		t.Fatal("expected the first AU to emit under an active recovery countdown")
	}
	if !au1.PreRoll {
		t.Error("AU 1 of 2 under the recovery countdown must be PreRoll")
	}

	au2 := pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 2, 0, 0, 4), false, 0, false, 0)
	if au2 == nil {
		t.Fatal("expected the second AU to emit")
	}
	if !au2.PreRoll {
		t.Error("AU 2 of 2 (the one that ticks the countdown to zero) must still be PreRoll")
	}

	au3 := pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 3, 0, 0, 4), false, 0, false, 0)
	if au3 == nil {
		t.Fatal("expected the third AU to emit")
	}
	if au3.PreRoll {
		t.Error("the AU following a countdown that reached zero must not be PreRoll")
	}
}

func TestAssemblerNonIDRSuppressedWithoutHeaderOrRecoveryPoint(t *testing.T) {
	t.Parallel()
	a, params := newTestAssembler(t)
	pushBaseline(t, a, params)

	pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 0, 0, 0, 4), false, 0, false, 0)
	emitted := pushNAL(a, buildSliceNAL(h264.NALTypeSlice, 1, 0, 0, 4), false, 0, false, 0)
	if emitted != nil {
		t.Fatal("a non-I AU before b_header is set and with no recovery point must be suppressed, not emitted")
	}
}

func TestAssemblerFlushEmitsPendingAU(t *testing.T) {
	t.Parallel()
	a, params := newTestAssembler(t)
	pushBaseline(t, a, params)

	pushNAL(a, buildSliceNAL(h264.NALTypeIDR, 0, 7, 0, 4), false, 0, false, 0)
	emitted := a.Flush()
	if emitted == nil {
		t.Fatal("Flush must emit the in-progress AU")
	}
	if emitted.FrameType != h264.FrameTypeI {
		t.Errorf("FrameType: got %v, want I", emitted.FrameType)
	}

	if again := a.Flush(); again != nil {
		t.Error("a second Flush with nothing pending must return nil")
	}
}
