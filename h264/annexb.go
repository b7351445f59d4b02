package h264

// StartCode is the 4-byte Annex B start code this package normalizes all
// emitted NAL units to, regardless of whether the input used 3-byte or
// 4-byte prefixes.
var StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// WithStartCode prepends the 4-byte Annex B start code to a raw NAL
// (header byte + payload, no start code).
func WithStartCode(nal []byte) []byte {
	out := make([]byte, 4+len(nal))
	copy(out, StartCode)
	copy(out[4:], nal)
	return out
}

type scPos struct {
	scStart   int
	dataStart int
}

// ScanAnnexB scans an Annex B byte stream for start codes and splits it into
// individual NAL units. It accepts both 3-byte (0x000001) and 4-byte
// (0x00000001) start codes in the input; the returned NALUnit.Data excludes
// the start code. Trailing zero bytes that belong to the following start
// code (rather than to the current NAL's payload) are correctly excluded
// from the current NAL by virtue of how start-code boundaries are located —
// see TestScanAnnexBTrailingZeroAbsorbedByStartCode.
func ScanAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		if pos.dataStart >= n {
			continue
		}
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}

		nalData := data[pos.dataStart:end]
		if len(nalData) < 1 {
			continue
		}

		refIDC, nalType := ParseNALHeader(nalData[0])
		units = append(units, NALUnit{RefIDC: refIDC, Type: nalType, Data: nalData})
	}

	return units
}
