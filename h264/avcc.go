package h264

import "fmt"

// AVCDecoderConfig is the parsed AVCDecoderConfigurationRecord that prefixes
// an AVCC-framed stream (ISO/IEC 14496-15 §5.2.4.1), used to bootstrap the
// parameter-set store and determine the length-prefix width of subsequent
// samples.
type AVCDecoderConfig struct {
	LengthSize int // bytes in each NAL length prefix, 1..4
	SPS        [][]byte
	PPS        [][]byte
}

// ParseAVCDecoderConfig parses an AVCC configuration record. The returned
// SPS/PPS entries are raw NAL bytes (header byte + payload, no start code).
func ParseAVCDecoderConfig(data []byte) (AVCDecoderConfig, error) {
	var cfg AVCDecoderConfig
	if len(data) < 7 {
		return cfg, fmt.Errorf("h264: AVCC extradata too short: %d bytes", len(data))
	}

	b := data[4:]
	cfg.LengthSize = int(b[0]&0x03) + 1
	b = b[1:]

	numSPS := int(b[0] & 0x1F)
	b = b[1:]
	for i := 0; i < numSPS; i++ {
		if len(b) < 2 {
			return cfg, fmt.Errorf("h264: AVCC SPS length overruns extradata")
		}
		l := int(b[0])<<8 | int(b[1])
		b = b[2:]
		if l <= 0 || l > len(b) {
			return cfg, fmt.Errorf("h264: AVCC SPS length %d overruns remaining %d bytes", l, len(b))
		}
		sps := make([]byte, l)
		copy(sps, b[:l])
		cfg.SPS = append(cfg.SPS, sps)
		b = b[l:]
	}

	if len(b) < 1 {
		return cfg, fmt.Errorf("h264: AVCC extradata missing PPS count")
	}
	numPPS := int(b[0])
	b = b[1:]
	for i := 0; i < numPPS; i++ {
		if len(b) < 2 {
			return cfg, fmt.Errorf("h264: AVCC PPS length overruns extradata")
		}
		l := int(b[0])<<8 | int(b[1])
		b = b[2:]
		if l <= 0 || l > len(b) {
			return cfg, fmt.Errorf("h264: AVCC PPS length %d overruns remaining %d bytes", l, len(b))
		}
		pps := make([]byte, l)
		copy(pps, b[:l])
		cfg.PPS = append(cfg.PPS, pps)
		b = b[l:]
	}

	return cfg, nil
}

// SplitAVCCSample splits one AVCC sample (a sequence of lengthSize-byte
// big-endian length prefixes, each followed by that many NAL bytes) into
// individual NAL units. lengthSize must be 1, 2, 3, or 4 (as produced by
// ParseAVCDecoderConfig). A malformed length prefix (zero, or exceeding the
// remaining bytes) aborts the sample and returns the NALs recovered so far
// along with an error describing the truncation; the caller should warn
// and move on to the next block.
func SplitAVCCSample(data []byte, lengthSize int) ([]NALUnit, error) {
	var units []NALUnit
	b := data
	for len(b) > 0 {
		if len(b) < lengthSize {
			return units, fmt.Errorf("h264: AVCC length prefix overruns block (need %d, have %d)", lengthSize, len(b))
		}

		var length int
		for i := 0; i < lengthSize; i++ {
			length = (length << 8) | int(b[i])
		}
		b = b[lengthSize:]

		if length <= 0 {
			return units, fmt.Errorf("h264: AVCC length prefix is non-positive: %d", length)
		}
		if length > len(b) {
			return units, fmt.Errorf("h264: AVCC NAL length %d overruns remaining %d bytes", length, len(b))
		}

		nalData := b[:length]
		refIDC, nalType := ParseNALHeader(nalData[0])
		units = append(units, NALUnit{RefIDC: refIDC, Type: nalType, Data: nalData})
		b = b[length:]
	}
	return units, nil
}
