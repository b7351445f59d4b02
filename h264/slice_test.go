package h264

import "testing"

type sliceParams struct {
	nalType, refIDC byte
	sliceType       uint
	ppsID           uint
	frameNum        uint
	log2MaxFrameNum int

	frameMbsOnly    bool
	fieldPicFlag    bool
	bottomFieldFlag bool

	idrPicID uint

	picOrderCntType        uint
	log2MaxPicOrderCntLsb  int
	picOrderCntLsb         uint
	picOrderPresent        bool
	deltaPicOrderCntBottom int

	deltaAlwaysZero  bool
	deltaPicOrderCnt0 int
	deltaPicOrderCnt1 int
}

func buildSlice(p sliceParams) (sps SPS, pps PPS, nal []byte) {
	sps = SPS{
		Log2MaxFrameNum:             p.log2MaxFrameNum,
		FrameMbsOnlyFlag:            p.frameMbsOnly,
		PicOrderCntType:             p.picOrderCntType,
		Log2MaxPicOrderCntLsb:       p.log2MaxPicOrderCntLsb,
		DeltaPicOrderAlwaysZeroFlag: p.deltaAlwaysZero,
	}
	pps = PPS{ID: p.ppsID, PicOrderPresent: p.picOrderPresent}

	var bw bitWriter
	bw.writeUE(0) // first_mb_in_slice
	bw.writeUE(p.sliceType)
	bw.writeUE(p.ppsID)
	bw.writeBits(p.frameNum, p.log2MaxFrameNum)

	if !p.frameMbsOnly {
		if p.fieldPicFlag {
			bw.writeBits(1, 1)
			if p.bottomFieldFlag {
				bw.writeBits(1, 1)
			} else {
				bw.writeBits(0, 1)
			}
		} else {
			bw.writeBits(0, 1)
		}
	}

	isIDR := p.nalType == NALTypeIDR
	if isIDR {
		bw.writeUE(p.idrPicID)
	}

	switch p.picOrderCntType {
	case 0:
		bw.writeBits(p.picOrderCntLsb, p.log2MaxPicOrderCntLsb)
		if p.picOrderPresent && !p.fieldPicFlag {
			bw.writeSE(p.deltaPicOrderCntBottom)
		}
	case 1:
		if !p.deltaAlwaysZero {
			bw.writeSE(p.deltaPicOrderCnt0)
			if p.picOrderPresent && !p.fieldPicFlag {
				bw.writeSE(p.deltaPicOrderCnt1)
			}
		}
	}

	header := p.refIDC<<5 | p.nalType
	nal = append([]byte{header}, bw.bytes()...)
	return sps, pps, nal
}

func TestParseSliceHeaderIDR(t *testing.T) {
	t.Parallel()
	sps, pps, nal := buildSlice(sliceParams{
		nalType: NALTypeIDR, refIDC: 3,
		sliceType: 7, // I, the "all slices" variant
		ppsID:     0, frameNum: 0, log2MaxFrameNum: 4,
		frameMbsOnly: true,
		idrPicID:     1,
	})

	s, err := ParseSliceHeader(nal, sps, pps)
	if err != nil {
		t.Fatalf("ParseSliceHeader: %v", err)
	}
	if s.FrameType != FrameTypeI {
		t.Errorf("FrameType: got %v, want I", s.FrameType)
	}
	if !s.IsIDR {
		t.Error("expected IsIDR")
	}
	if s.IDRPicID != 1 {
		t.Errorf("IDRPicID: got %d, want 1", s.IDRPicID)
	}
}

func TestSliceTypeToFrameType(t *testing.T) {
	t.Parallel()
	cases := map[uint]FrameType{
		0: FrameTypeP, 5: FrameTypeP,
		1: FrameTypeB, 6: FrameTypeB,
		2: FrameTypeI, 7: FrameTypeI,
		3: FrameTypeP, 8: FrameTypeP,
		4: FrameTypeI, 9: FrameTypeI,
	}
	for in, want := range cases {
		if got := sliceTypeToFrameType(in); got != want {
			t.Errorf("sliceTypeToFrameType(%d): got %v, want %v", in, got, want)
		}
	}
}

func TestIsNewAccessUnitFrameNumChange(t *testing.T) {
	t.Parallel()
	_, _, nal1 := buildSlice(sliceParams{nalType: NALTypeSlice, refIDC: 2, sliceType: 0, frameNum: 1, log2MaxFrameNum: 4, frameMbsOnly: true})
	_, _, nal2 := buildSlice(sliceParams{nalType: NALTypeSlice, refIDC: 2, sliceType: 0, frameNum: 2, log2MaxFrameNum: 4, frameMbsOnly: true})

	sps := SPS{Log2MaxFrameNum: 4, FrameMbsOnlyFlag: true}
	pps := PPS{}

	s1, err := ParseSliceHeader(nal1, sps, pps)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := ParseSliceHeader(nal2, sps, pps)
	if err != nil {
		t.Fatal(err)
	}

	if IsNewAccessUnit(s1, s1, true) {
		t.Error("identical slice summary should not be a new AU")
	}
	if !IsNewAccessUnit(s1, s2, true) {
		t.Error("frame_num change should be a new AU")
	}
	if !IsNewAccessUnit(Slice{}, s1, false) {
		t.Error("no prior AU should always be a new AU")
	}
}

func TestIsNewAccessUnitRefIDCToggle(t *testing.T) {
	t.Parallel()
	sps := SPS{Log2MaxFrameNum: 4, FrameMbsOnlyFlag: true}
	pps := PPS{}
	_, _, nalRef := buildSlice(sliceParams{nalType: NALTypeSlice, refIDC: 1, sliceType: 0, frameNum: 5, log2MaxFrameNum: 4, frameMbsOnly: true})
	_, _, nalNonRef := buildSlice(sliceParams{nalType: NALTypeSlice, refIDC: 0, sliceType: 0, frameNum: 5, log2MaxFrameNum: 4, frameMbsOnly: true})

	sRef, _ := ParseSliceHeader(nalRef, sps, pps)
	sNonRef, _ := ParseSliceHeader(nalNonRef, sps, pps)

	if !IsNewAccessUnit(sRef, sNonRef, true) {
		t.Error("nal_ref_idc zero-vs-nonzero flip should be a new AU")
	}
}

func TestIsNewAccessUnitPicOrderCntType0(t *testing.T) {
	t.Parallel()
	sps := SPS{Log2MaxFrameNum: 4, FrameMbsOnlyFlag: true, PicOrderCntType: 0, Log2MaxPicOrderCntLsb: 4}
	pps := PPS{}

	_, _, nal1 := buildSlice(sliceParams{
		nalType: NALTypeSlice, refIDC: 2, sliceType: 0, frameNum: 1, log2MaxFrameNum: 4,
		frameMbsOnly: true, picOrderCntType: 0, log2MaxPicOrderCntLsb: 4, picOrderCntLsb: 2,
	})
	_, _, nal2 := buildSlice(sliceParams{
		nalType: NALTypeSlice, refIDC: 2, sliceType: 0, frameNum: 1, log2MaxFrameNum: 4,
		frameMbsOnly: true, picOrderCntType: 0, log2MaxPicOrderCntLsb: 4, picOrderCntLsb: 4,
	})

	s1, err := ParseSliceHeader(nal1, sps, pps)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := ParseSliceHeader(nal2, sps, pps)
	if err != nil {
		t.Fatal(err)
	}

	if !IsNewAccessUnit(s1, s2, true) {
		t.Error("pic_order_cnt_lsb change should be a new AU under pic_order_cnt_type 0")
	}
}

func TestPeekSlicePPSID(t *testing.T) {
	t.Parallel()
	_, _, nal := buildSlice(sliceParams{
		nalType: NALTypeSlice, refIDC: 2, sliceType: 0, ppsID: 5,
		frameNum: 0, log2MaxFrameNum: 4, frameMbsOnly: true,
	})

	id, err := PeekSlicePPSID(nal)
	if err != nil {
		t.Fatalf("PeekSlicePPSID: %v", err)
	}
	if id != 5 {
		t.Errorf("PPSID: got %d, want 5", id)
	}
}

func TestIsNewAccessUnitIDRPicIDChange(t *testing.T) {
	t.Parallel()
	sps := SPS{Log2MaxFrameNum: 4, FrameMbsOnlyFlag: true}
	pps := PPS{}
	_, _, nal1 := buildSlice(sliceParams{nalType: NALTypeIDR, refIDC: 3, sliceType: 7, frameNum: 0, log2MaxFrameNum: 4, frameMbsOnly: true, idrPicID: 0})
	_, _, nal2 := buildSlice(sliceParams{nalType: NALTypeIDR, refIDC: 3, sliceType: 7, frameNum: 0, log2MaxFrameNum: 4, frameMbsOnly: true, idrPicID: 1})

	s1, _ := ParseSliceHeader(nal1, sps, pps)
	s2, _ := ParseSliceHeader(nal2, sps, pps)

	if !IsNewAccessUnit(s1, s2, true) {
		t.Error("idr_pic_id change between two IDR slices should be a new AU")
	}
}
