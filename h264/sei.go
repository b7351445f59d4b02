package h264

// SEI payload types this parser understands (others are skipped).
const (
	seiTypePicTiming                  = 1
	seiTypeUserDataRegisteredITUTT35  = 4
	seiTypeRecoveryPoint              = 6
)

// atscA53Header is the 7-byte itu_t_t35 prefix (country code B5, ATSC
// provider code 00 31, "GA94" user identifier) that flags ATSC A/53
// CEA-608/708 caption data inside a user_data_registered_itu_t_t35 SEI.
var atscA53Header = [7]byte{0xB5, 0x00, 0x31, 0x47, 0x41, 0x39, 0x34}

// SEIInfo accumulates the fields this packetizer extracts from one SEI
// NAL's payload walk.
type SEIInfo struct {
	PicStruct        int
	HasPicStruct     bool
	RecoveryFrameCnt uint
	HasRecoveryPoint bool
	// HasCaptionPayload reports whether this SEI carried a
	// user_data_registered_itu_t_t35 payload with the ATSC A/53 header. The
	// caller hands the whole SEI NAL to the cc_Extract collaborator
	// (github.com/zsiec/ccx), which locates the GA94 block itself.
	HasCaptionPayload bool
}

// ParseSEI walks the payloads of an SEI NAL, extracting pic_timing (for
// pic_struct), user_data_registered_itu_t_t35 (for ATSC A/53 captions), and
// recovery_point. seiNALU is the raw NAL data including the header byte.
//
// The loop stops as soon as a payload's declared size plus one byte would
// run past the end of the RBSP — matching common decoder behavior, a
// payload that ends exactly at the last RBSP byte is therefore dropped.
func ParseSEI(seiNALU []byte, sps SPS) SEIInfo {
	var info SEIInfo
	if len(seiNALU) < 2 {
		return info
	}

	rbsp := removeEmulationPrevention(seiNALU[1:])
	length := len(rbsp)
	used := 0

	for used < length {
		if rbsp[used] == 0x80 { // rbsp_trailing_bits
			break
		}

		payloadType := 0
		for used < length && rbsp[used] == 0xFF {
			payloadType += 255
			used++
		}
		if used >= length {
			break
		}
		payloadType += int(rbsp[used])
		used++

		payloadSize := 0
		for used < length && rbsp[used] == 0xFF {
			payloadSize += 255
			used++
		}
		if used >= length {
			break
		}
		payloadSize += int(rbsp[used])
		used++

		if used+payloadSize+1 > length {
			break
		}

		payload := rbsp[used : used+payloadSize]

		switch payloadType {
		case seiTypePicTiming:
			if ps, ok := parsePicTimingPicStruct(payload, sps); ok {
				info.PicStruct = ps
				info.HasPicStruct = true
			}
		case seiTypeUserDataRegisteredITUTT35:
			if len(payload) >= 7 && [7]byte(payload[:7]) == atscA53Header {
				info.HasCaptionPayload = true
			}
		case seiTypeRecoveryPoint:
			if cnt, ok := parseRecoveryPointCnt(payload); ok {
				info.RecoveryFrameCnt = cnt
				info.HasRecoveryPoint = true
			}
		}

		used += payloadSize
	}

	return info
}

func parsePicTimingPicStruct(payload []byte, sps SPS) (int, bool) {
	br := newBitReader(payload)

	if sps.CpbDpbDelaysPresent {
		if _, err := br.readBits(sps.CpbRemovalDelayLenMinus1 + 1); err != nil {
			return 0, false
		}
		if _, err := br.readBits(sps.DpbOutputDelayLenMinus1 + 1); err != nil {
			return 0, false
		}
	}

	if !sps.PicStructPresent {
		return 0, false
	}

	picStruct, err := br.readBits(4)
	if err != nil {
		return 0, false
	}
	return int(picStruct), true
}

func parseRecoveryPointCnt(payload []byte) (uint, bool) {
	br := newBitReader(payload)
	cnt, err := br.readUE()
	if err != nil {
		return 0, false
	}
	return cnt, true
}
