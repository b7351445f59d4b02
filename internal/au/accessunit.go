package au

import "github.com/streamworks/avcpkt/h264"

// FieldFirst identifies which field of an interlaced pair an emitted AU
// carries, derived from pic_timing SEI's pic_struct.
type FieldFirst int

const (
	FieldFirstNone FieldFirst = iota
	FieldFirstTop
	FieldFirstBottom
)

// clockFreq is the host microsecond clock used to scale VUI timing into a
// wall-clock AU duration.
const clockFreq = 1_000_000

// numClockTsTable maps pic_struct (0..8) to num_clock_ts per H.264 Table D-1.
var numClockTsTable = [9]int{1, 1, 1, 2, 2, 3, 3, 2, 3}

// AccessUnit is one emitted, decoder-ready coded picture.
type AccessUnit struct {
	// Data is the Annex-B byte stream: one or more NALs, each prefixed with
	// a 4-byte start code, SPS/PPS injected ahead of the first slice when
	// applicable.
	Data []byte

	PTS, DTS       int64
	HasPTS, HasDTS bool

	FrameType h264.FrameType

	Duration    int64
	HasDuration bool

	FieldFirst FieldFirst

	// PreRoll marks an AU not intended for display — the decoder is still
	// warming up.
	PreRoll bool
}

// nalFragment is one Annex-B framed NAL (with its 4-byte start code) as
// produced by the NAL fragment source, carrying the timestamp of the block
// that introduced it — populated only on the first fragment of a block.
type nalFragment struct {
	data           []byte
	hasPTS, hasDTS bool
	pts, dts       int64
}

func (f nalFragment) header() (refIDC, nalType byte, ok bool) {
	if len(f.data) < 5 {
		return 0, 0, false
	}
	refIDC, nalType = h264.ParseNALHeader(f.data[4])
	return refIDC, nalType, true
}

// rawNAL strips the 4-byte start code, returning the header byte + payload
// as h264's parsers expect.
func (f nalFragment) rawNAL() []byte {
	if len(f.data) < 4 {
		return nil
	}
	return f.data[4:]
}
