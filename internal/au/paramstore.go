// Package au implements the Access Unit assembler: parameter-set storage,
// AU boundary detection and emission, the CC side-channel, and
// reset/discontinuity handling. It is the core state machine behind the
// public avcpkt.Packetizer and is not exported on its own.
package au

import (
	"log/slog"

	"github.com/streamworks/avcpkt/h264"
)

const (
	maxSPS = 32
	maxPPS = 256
)

// SPSRecord pairs a stored SPS NAL (kept verbatim for re-injection) with
// its derived fields.
type SPSRecord struct {
	NAL  []byte
	Info h264.SPS
}

// PPSRecord pairs a stored PPS NAL with its derived fields.
type PPSRecord struct {
	NAL  []byte
	Info h264.PPS
}

// ParamStore holds the latest SPS (0..31) and PPS (0..255) seen on the
// stream, indexed by id. Records survive resets; they are replaced only by
// a newer record at the same id.
type ParamStore struct {
	sps [maxSPS]*SPSRecord
	pps [maxPPS]*PPSRecord

	haveAnySPS bool
	haveAnyPPS bool
}

// NewParamStore returns an empty parameter-set store.
func NewParamStore() *ParamStore {
	return &ParamStore{}
}

// PutSPS parses nal as an SPS and, on success, replaces the record at its
// sps_id. On parse failure, or an sps_id outside 0..31, the prior record (if
// any) at that id is left intact, ok is false, and a warning is logged to
// log when it is non-nil.
func (s *ParamStore) PutSPS(nal []byte, log *slog.Logger) (id uint, ok bool) {
	info, err := h264.ParseSPS(nal)
	if err != nil {
		if log != nil {
			log.Warn("dropping unparsable SPS", "error", err)
		}
		return 0, false
	}
	if info.ID >= maxSPS {
		if log != nil {
			log.Warn("dropping SPS with out-of-range id", "sps_id", info.ID)
		}
		return 0, false
	}

	stored := make([]byte, len(nal))
	copy(stored, nal)
	s.sps[info.ID] = &SPSRecord{NAL: stored, Info: info}
	s.haveAnySPS = true
	return info.ID, true
}

// PutPPS is the PPS analogue of PutSPS.
func (s *ParamStore) PutPPS(nal []byte, log *slog.Logger) (id uint, ok bool) {
	info, err := h264.ParsePPS(nal)
	if err != nil {
		if log != nil {
			log.Warn("dropping unparsable PPS", "error", err)
		}
		return 0, false
	}
	if info.ID >= maxPPS {
		if log != nil {
			log.Warn("dropping PPS with out-of-range id", "pps_id", info.ID)
		}
		return 0, false
	}

	stored := make([]byte, len(nal))
	copy(stored, nal)
	s.pps[info.ID] = &PPSRecord{NAL: stored, Info: info}
	s.haveAnyPPS = true
	return info.ID, true
}

// SPS returns the stored record for sps_id id, if any.
func (s *ParamStore) SPS(id uint) (SPSRecord, bool) {
	if id >= maxSPS || s.sps[id] == nil {
		return SPSRecord{}, false
	}
	return *s.sps[id], true
}

// PPS returns the stored record for pps_id id, if any.
func (s *ParamStore) PPS(id uint) (PPSRecord, bool) {
	if id >= maxPPS || s.pps[id] == nil {
		return PPSRecord{}, false
	}
	return *s.pps[id], true
}

// HaveAny reports whether at least one SPS and one PPS have been observed.
func (s *ParamStore) HaveAny() (sps, pps bool) {
	return s.haveAnySPS, s.haveAnyPPS
}

// AllSPSNALs returns every stored SPS NAL in ascending id order.
func (s *ParamStore) AllSPSNALs() [][]byte {
	var out [][]byte
	for _, rec := range s.sps {
		if rec != nil {
			out = append(out, rec.NAL)
		}
	}
	return out
}

// AllPPSNALs returns every stored PPS NAL in ascending id order.
func (s *ParamStore) AllPPSNALs() [][]byte {
	var out [][]byte
	for _, rec := range s.pps {
		if rec != nil {
			out = append(out, rec.NAL)
		}
	}
	return out
}
