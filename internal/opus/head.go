package opus

import "encoding/binary"

// Container constants for an Opus track, in nanoseconds
const (
	// CodecDelay is the decoder delay signalled in the track header
	CodecDelay = 6_500_000
	// SeekPreRoll is how much audio a decoder must discard after a seek
	SeekPreRoll = 80_000_000
)

// OpusHeadSize is the length of a channel mapping family 0 header
const OpusHeadSize = 19

const opusHeadVersion = 1

// OpusHead builds the identification header:
//
//	"OpusHead" | version | channels | pre-skip LE16 | input rate LE32 | gain LE16 | mapping family
//
// outputGain is a Q7.8 dB value. Mapping family 0 is used, so channels must be 1 or 2.
func OpusHead(channels uint8, preSkip uint16, inputSampleRate uint32, outputGain int16) []byte {
	head := make([]byte, OpusHeadSize)
	copy(head, "OpusHead")
	head[8] = opusHeadVersion
	head[9] = channels
	binary.LittleEndian.PutUint16(head[10:12], preSkip)
	binary.LittleEndian.PutUint32(head[12:16], inputSampleRate)
	binary.LittleEndian.PutUint16(head[16:18], uint16(outputGain))
	head[18] = 0
	return head
}
