// Package webm writes a single Opus audio track into a WebM (Matroska)
// container using the ebml-go block writer.
package webm

import (
	"github.com/tphakala/opusrec/internal/opus"
)

// Matroska identifiers for an Opus audio track
const (
	CodecIDOpus    = "A_OPUS"
	trackTypeAudio = 2
	trackNumber    = 1
	audioBitDepth  = 16
)

// AudioTrack describes the one track a Muxer carries
type AudioTrack struct {
	Name              string
	CodecID           string
	CodecPrivate      []byte // OpusHead
	CodecDelay        uint64 // ns
	SeekPreRoll       uint64 // ns
	SamplingFrequency float64
	Channels          int
	FrameDurationNs   int64 // used to choose the segment timecode scale
}

// OpusTrack returns the track description for an encoder's stream
func OpusTrack(enc *opus.StreamEncoder) AudioTrack {
	return AudioTrack{
		Name:              "Audio",
		CodecID:           CodecIDOpus,
		CodecPrivate:      enc.Head(),
		CodecDelay:        opus.CodecDelay,
		SeekPreRoll:       opus.SeekPreRoll,
		SamplingFrequency: float64(enc.SampleRate()),
		Channels:          enc.Channels(),
		FrameDurationNs:   enc.FrameDurationNs(),
	}
}

// trackEntry mirrors the Matroska TrackEntry element. webm.TrackEntry from
// ebml-go lacks Audio/BitDepth, so the element is declared here.
type trackEntry struct {
	Name         string     `ebml:"Name,omitempty"`
	TrackNumber  uint64     `ebml:"TrackNumber"`
	TrackUID     uint64     `ebml:"TrackUID"`
	CodecID      string     `ebml:"CodecID"`
	CodecPrivate []byte     `ebml:"CodecPrivate,omitempty"`
	CodecDelay   uint64     `ebml:"CodecDelay,omitempty"`
	SeekPreRoll  uint64     `ebml:"SeekPreRoll,omitempty"`
	TrackType    uint64     `ebml:"TrackType"`
	Audio        audioEntry `ebml:"Audio"`
}

type audioEntry struct {
	SamplingFrequency float64 `ebml:"SamplingFrequency"`
	Channels          uint64  `ebml:"Channels"`
	BitDepth          uint64  `ebml:"BitDepth,omitempty"`
}
