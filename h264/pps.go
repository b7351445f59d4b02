package h264

// PPS holds the fields of a parsed Picture Parameter Set needed for slice
// header decoding: its id and the pic_order_present_flag that gates the
// delta_pic_order_cnt_bottom / delta_pic_order_cnt[1] fields in the slice
// header (H.264 §7.3.2.2, §7.3.3).
type PPS struct {
	ID                uint
	SPSID             uint
	PicOrderPresent   bool
}

// ParsePPS parses an H.264 PPS NAL unit. Only the prefix needed for slice
// header parsing is decoded; the remainder of the PPS RBSP (slice groups,
// quantization deltas, deblocking defaults) is not needed by this
// packetizer and is left unparsed.
func ParsePPS(nalu []byte) (PPS, error) {
	if len(nalu) < 2 {
		return PPS{}, errTooShort
	}

	rbsp := removeEmulationPrevention(nalu[1:])
	br := newBitReader(rbsp)

	ppsID, err := br.readUE()
	if err != nil {
		return PPS{}, err
	}
	spsID, err := br.readUE()
	if err != nil {
		return PPS{}, err
	}
	if _, err := br.readBits(1); err != nil { // entropy_coding_mode_flag
		return PPS{}, err
	}
	picOrderPresent, err := br.readBits(1)
	if err != nil {
		return PPS{}, err
	}

	return PPS{
		ID:              ppsID,
		SPSID:           spsID,
		PicOrderPresent: picOrderPresent == 1,
	}, nil
}
