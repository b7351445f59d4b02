package h264

import "fmt"

// SPS holds the fields of a parsed Sequence Parameter Set needed for AU
// boundary detection, frame timing, and decoder bootstrap information.
// The original NAL bytes are kept by the caller (paramstore) for verbatim
// re-injection; SPS itself carries only derived fields.
type SPS struct {
	ID         uint
	ProfileIDC byte
	ConstraintFlags byte
	LevelIDC   byte
	Width      int
	Height     int

	Log2MaxFrameNum              int
	PicOrderCntType              uint
	Log2MaxPicOrderCntLsb        int
	DeltaPicOrderAlwaysZeroFlag  bool
	FrameMbsOnlyFlag             bool

	// VUI timing, present only when timing_info_present_flag is set.
	TimingInfoPresent bool
	NumUnitsInTick    uint32
	TimeScale         uint32
	FixedFrameRate    bool

	PicStructPresent        bool
	CpbDpbDelaysPresent     bool
	CpbRemovalDelayLenMinus1 int
	DpbOutputDelayLenMinus1  int
}

// CodecString returns the RFC 6381 codec parameter string (e.g.
// "avc1.42E01E") for this SPS, for use in container/MIME codec negotiation.
func (s SPS) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

var highProfilesWithChromaFormat = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS parses an H.264 SPS NAL unit. nalu is the raw NAL data including
// the NAL header byte but without the start code.
func ParseSPS(nalu []byte) (SPS, error) {
	if len(nalu) < 4 {
		return SPS{}, errTooShort
	}

	rbsp := removeEmulationPrevention(nalu[1:])
	br := newBitReader(rbsp)

	profileIdc, err := br.readBits(8)
	if err != nil {
		return SPS{}, err
	}
	constraintFlags, err := br.readBits(8)
	if err != nil {
		return SPS{}, err
	}
	levelIdc, err := br.readBits(8)
	if err != nil {
		return SPS{}, err
	}
	spsID, err := br.readUE()
	if err != nil {
		return SPS{}, err
	}

	s := SPS{
		ID:              spsID,
		ProfileIDC:      byte(profileIdc),
		ConstraintFlags: byte(constraintFlags),
		LevelIDC:        byte(levelIdc),
	}

	chromaFormatIdc := uint(1)
	separateColourPlane := false

	if highProfilesWithChromaFormat[profileIdc] {
		chromaFormatIdc, err = br.readUE()
		if err != nil {
			return SPS{}, err
		}
		if chromaFormatIdc == 3 {
			val, err := br.readBits(1)
			if err != nil {
				return SPS{}, err
			}
			separateColourPlane = val == 1
		}
		if _, err := br.readUE(); err != nil { // bit_depth_luma_minus8
			return SPS{}, err
		}
		if _, err := br.readUE(); err != nil { // bit_depth_chroma_minus8
			return SPS{}, err
		}
		if _, err := br.readBits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return SPS{}, err
		}

		seqScalingMatrixPresent, err := br.readBits(1)
		if err != nil {
			return SPS{}, err
		}
		if seqScalingMatrixPresent == 1 {
			limit := 8
			if chromaFormatIdc == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				flag, err := br.readBits(1)
				if err != nil {
					return SPS{}, err
				}
				if flag == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := br.skipScalingList(size); err != nil {
						return SPS{}, err
					}
				}
			}
		}
	}

	log2MaxFrameNumMinus4, err := br.readUE()
	if err != nil {
		return SPS{}, err
	}
	s.Log2MaxFrameNum = int(log2MaxFrameNumMinus4) + 4

	picOrderCntType, err := br.readUE()
	if err != nil {
		return SPS{}, err
	}
	s.PicOrderCntType = picOrderCntType

	switch picOrderCntType {
	case 0:
		log2MaxPocLsbMinus4, err := br.readUE()
		if err != nil {
			return SPS{}, err
		}
		s.Log2MaxPicOrderCntLsb = int(log2MaxPocLsbMinus4) + 4
	case 1:
		deltaAlwaysZero, err := br.readBits(1)
		if err != nil {
			return SPS{}, err
		}
		s.DeltaPicOrderAlwaysZeroFlag = deltaAlwaysZero == 1
		if _, err := br.readSE(); err != nil { // offset_for_non_ref_pic
			return SPS{}, err
		}
		if _, err := br.readSE(); err != nil { // offset_for_top_to_bottom_field
			return SPS{}, err
		}
		numRefFrames, err := br.readUE()
		if err != nil {
			return SPS{}, err
		}
		for i := uint(0); i < numRefFrames; i++ {
			if _, err := br.readSE(); err != nil {
				return SPS{}, err
			}
		}
	}

	if _, err := br.readUE(); err != nil { // max_num_ref_frames
		return SPS{}, err
	}
	if _, err := br.readBits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return SPS{}, err
	}

	picWidthMbs, err := br.readUE()
	if err != nil {
		return SPS{}, err
	}
	picHeightMapUnits, err := br.readUE()
	if err != nil {
		return SPS{}, err
	}

	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPS{}, err
	}
	s.FrameMbsOnlyFlag = frameMbsOnly == 1
	if frameMbsOnly == 0 {
		if _, err := br.readBits(1); err != nil { // mb_adaptive_frame_field_flag
			return SPS{}, err
		}
	}

	if _, err := br.readBits(1); err != nil { // direct_8x8_inference_flag
		return SPS{}, err
	}

	cropLeft, cropRight, cropTop, cropBottom := uint(0), uint(0), uint(0), uint(0)
	frameCroppingFlag, err := br.readBits(1)
	if err != nil {
		return SPS{}, err
	}
	if frameCroppingFlag == 1 {
		if cropLeft, err = br.readUE(); err != nil {
			return SPS{}, err
		}
		if cropRight, err = br.readUE(); err != nil {
			return SPS{}, err
		}
		if cropTop, err = br.readUE(); err != nil {
			return SPS{}, err
		}
		if cropBottom, err = br.readUE(); err != nil {
			return SPS{}, err
		}
	}

	chromaArrayType := chromaFormatIdc
	if separateColourPlane {
		chromaArrayType = 0
	}
	var subWidthC, subHeightC uint
	switch chromaArrayType {
	case 0:
		subWidthC, subHeightC = 1, 1
	case 1:
		subWidthC, subHeightC = 2, 2
	case 2:
		subWidthC, subHeightC = 2, 1
	case 3:
		subWidthC, subHeightC = 1, 1
	default:
		subWidthC, subHeightC = 2, 2
	}

	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	s.Width = int((picWidthMbs+1)*16 - cropUnitX*(cropLeft+cropRight))
	heightMul := 2 - frameMbsOnly
	s.Height = int((picHeightMapUnits+1)*16*heightMul - cropUnitY*(cropTop+cropBottom))

	vuiPresent, err := br.readBits(1)
	if err != nil || vuiPresent == 0 {
		return s, nil
	}

	arPresent, _ := br.readBits(1)
	if arPresent == 1 {
		arIdc, _ := br.readBits(8)
		if arIdc == 255 {
			br.readBits(32)
		}
	}

	if overscan, _ := br.readBits(1); overscan == 1 {
		br.readBits(1)
	}

	videoSignal, _ := br.readBits(1)
	if videoSignal == 1 {
		br.readBits(4) // video_format + video_full_range
		colourDesc, _ := br.readBits(1)
		if colourDesc == 1 {
			br.readBits(24)
		}
	}

	if chromaLoc, _ := br.readBits(1); chromaLoc == 1 {
		br.readUE()
		br.readUE()
	}

	timingPresent, _ := br.readBits(1)
	if timingPresent == 1 {
		numUnits, _ := br.readBits(32)
		timeScale, _ := br.readBits(32)
		fixedRate, _ := br.readBits(1)
		s.TimingInfoPresent = true
		s.NumUnitsInTick = uint32(numUnits)
		s.TimeScale = uint32(timeScale)
		s.FixedFrameRate = fixedRate == 1
	}

	parseHRD := func() {
		cpbCnt, _ := br.readUE()
		br.readBits(8) // bit_rate_scale + cpb_size_scale
		for i := uint(0); i <= cpbCnt; i++ {
			br.readUE()
			br.readUE()
			br.readBits(1)
		}
		br.readBits(5) // initial_cpb_removal_delay_length_minus1
		cpbLen, _ := br.readBits(5)
		dpbLen, _ := br.readBits(5)
		br.readBits(5) // time_offset_length
		s.CpbRemovalDelayLenMinus1 = int(cpbLen)
		s.DpbOutputDelayLenMinus1 = int(dpbLen)
		s.CpbDpbDelaysPresent = true
	}

	nalHRD, _ := br.readBits(1)
	if nalHRD == 1 {
		parseHRD()
	}
	vclHRD, _ := br.readBits(1)
	if vclHRD == 1 && !s.CpbDpbDelaysPresent {
		parseHRD()
	}
	if nalHRD == 1 || vclHRD == 1 {
		br.readBits(1) // low_delay_hrd_flag
	}

	picStructPresent, _ := br.readBits(1)
	s.PicStructPresent = picStructPresent == 1

	return s, nil
}
