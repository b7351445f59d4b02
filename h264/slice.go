package h264

// FrameType classifies a slice/Access Unit by its coded picture type.
type FrameType int

const (
	FrameTypeNone FrameType = iota
	FrameTypeI
	FrameTypeP
	FrameTypeB
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeI:
		return "I"
	case FrameTypeP:
		return "P"
	case FrameTypeB:
		return "B"
	default:
		return "none"
	}
}

// sliceTypeToFrameType maps slice_type (H.264 Table 7-6, including the
// +5 "all slices in this picture have the same type" variants) to the
// coarse picture classification used for AU emission flags.
func sliceTypeToFrameType(sliceType uint) FrameType {
	switch sliceType % 5 {
	case 0, 3:
		return FrameTypeP
	case 1:
		return FrameTypeB
	case 2, 4:
		return FrameTypeI
	default:
		return FrameTypeNone
	}
}

// Slice holds the slice-header fields needed for Access Unit boundary
// detection (H.264 §7.4.1.2.4) and frame classification. Only the prefix
// of the slice header is decoded — macroblock-layer syntax and reference
// picture list modification are never reached.
type Slice struct {
	NALType   byte
	RefIDC    byte
	FrameType FrameType

	PPSID    uint
	FrameNum uint

	FieldPicFlag    bool
	BottomFieldFlag int // -1 if field_pic_flag is false (undefined)

	IsIDR    bool
	IDRPicID uint

	PicOrderCntType        uint
	PicOrderCntLsb         uint
	HasDeltaPicOrderBottom bool
	DeltaPicOrderCntBottom int
	HasDeltaPicOrderCnt1   bool
	DeltaPicOrderCnt0      int
	DeltaPicOrderCnt1      int
}

// maxSliceHeaderPrefixBytes bounds how much of the slice NAL payload
// ParseSliceHeader examines; every field needed lives well within the
// first 60 bytes of the header.
const maxSliceHeaderPrefixBytes = 60

// PeekSlicePPSID reads just enough of a coded-slice NAL to recover
// pic_parameter_set_id, so the caller can resolve the active PPS (and, via
// pps.SPSID, the active SPS) before calling ParseSliceHeader, which needs
// both to know several field widths.
func PeekSlicePPSID(nalu []byte) (uint, error) {
	if len(nalu) < 2 {
		return 0, errTooShort
	}
	payload := nalu[1:]
	if len(payload) > maxSliceHeaderPrefixBytes {
		payload = payload[:maxSliceHeaderPrefixBytes]
	}
	rbsp := removeEmulationPrevention(payload)
	br := newBitReader(rbsp)

	if _, err := br.readUE(); err != nil { // first_mb_in_slice
		return 0, err
	}
	if _, err := br.readUE(); err != nil { // slice_type
		return 0, err
	}
	return br.readUE() // pic_parameter_set_id
}

// ParseSliceHeader decodes the slice-header prefix of a coded-slice NAL
// (nal_type 1..5). nalu is the raw NAL data including the header byte.
// sps/pps must be the parameter sets referenced by this slice (the caller
// resolves pic_parameter_set_id to a PPS, then pps.SPSID to an SPS, before
// calling — until that resolution succeeds the slice cannot be parsed).
func ParseSliceHeader(nalu []byte, sps SPS, pps PPS) (Slice, error) {
	if len(nalu) < 2 {
		return Slice{}, errTooShort
	}

	refIDC, nalType := ParseNALHeader(nalu[0])

	payload := nalu[1:]
	if len(payload) > maxSliceHeaderPrefixBytes {
		payload = payload[:maxSliceHeaderPrefixBytes]
	}
	rbsp := removeEmulationPrevention(payload)
	br := newBitReader(rbsp)

	s := Slice{
		NALType:         nalType,
		RefIDC:          refIDC,
		IsIDR:           nalType == NALTypeIDR,
		BottomFieldFlag: -1,
	}

	if _, err := br.readUE(); err != nil { // first_mb_in_slice
		return Slice{}, err
	}

	sliceType, err := br.readUE()
	if err != nil {
		return Slice{}, err
	}
	s.FrameType = sliceTypeToFrameType(sliceType)

	ppsID, err := br.readUE()
	if err != nil {
		return Slice{}, err
	}
	s.PPSID = ppsID

	frameNum, err := br.readBits(sps.Log2MaxFrameNum)
	if err != nil {
		return Slice{}, err
	}
	s.FrameNum = frameNum

	if !sps.FrameMbsOnlyFlag {
		fieldPicFlag, err := br.readBits(1)
		if err != nil {
			return Slice{}, err
		}
		s.FieldPicFlag = fieldPicFlag == 1
		if s.FieldPicFlag {
			bottomFieldFlag, err := br.readBits(1)
			if err != nil {
				return Slice{}, err
			}
			s.BottomFieldFlag = int(bottomFieldFlag)
		}
	}

	if s.IsIDR {
		idrPicID, err := br.readUE()
		if err != nil {
			return Slice{}, err
		}
		s.IDRPicID = idrPicID
	}

	s.PicOrderCntType = sps.PicOrderCntType
	switch sps.PicOrderCntType {
	case 0:
		picOrderCntLsb, err := br.readBits(sps.Log2MaxPicOrderCntLsb)
		if err != nil {
			return Slice{}, err
		}
		s.PicOrderCntLsb = picOrderCntLsb
		if pps.PicOrderPresent && !s.FieldPicFlag {
			delta, err := br.readSE()
			if err != nil {
				return Slice{}, err
			}
			s.HasDeltaPicOrderBottom = true
			s.DeltaPicOrderCntBottom = delta
		}
	case 1:
		if !sps.DeltaPicOrderAlwaysZeroFlag {
			d0, err := br.readSE()
			if err != nil {
				return Slice{}, err
			}
			s.DeltaPicOrderCnt0 = d0
			if pps.PicOrderPresent && !s.FieldPicFlag {
				d1, err := br.readSE()
				if err != nil {
					return Slice{}, err
				}
				s.HasDeltaPicOrderCnt1 = true
				s.DeltaPicOrderCnt1 = d1
			}
		}
	}

	return s, nil
}

// IsNewAccessUnit implements the multi-field comparison of H.264 §7.4.1.2.4:
// a new Access Unit begins at cur iff any of the listed fields differs from
// prev. prev is the zero Slice{} (FrameType None, no prior NAL type) when
// there is no current Access Unit, in which case this always returns true.
func IsNewAccessUnit(prev, cur Slice, hasPrev bool) bool {
	if !hasPrev {
		return true
	}

	if cur.FrameNum != prev.FrameNum {
		return true
	}
	if cur.PPSID != prev.PPSID {
		return true
	}
	if cur.FieldPicFlag != prev.FieldPicFlag {
		return true
	}
	if (cur.RefIDC == 0) != (prev.RefIDC == 0) {
		return true
	}
	if cur.BottomFieldFlag != -1 && prev.BottomFieldFlag != -1 && cur.BottomFieldFlag != prev.BottomFieldFlag {
		return true
	}

	switch cur.PicOrderCntType {
	case 0:
		if cur.PicOrderCntLsb != prev.PicOrderCntLsb {
			return true
		}
		if cur.DeltaPicOrderCntBottom != prev.DeltaPicOrderCntBottom {
			return true
		}
	case 1:
		if cur.DeltaPicOrderCnt0 != prev.DeltaPicOrderCnt0 {
			return true
		}
		if cur.DeltaPicOrderCnt1 != prev.DeltaPicOrderCnt1 {
			return true
		}
	}

	if (cur.IsIDR || prev.IsIDR) && (cur.NALType != prev.NALType || cur.IDRPicID != prev.IDRPicID) {
		return true
	}

	return false
}
