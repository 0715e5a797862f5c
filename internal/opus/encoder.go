package opus

import (
	"fmt"
	"time"

	libopus "gopkg.in/hraban/opus.v2"

	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/logger"
)

// MaxPacketSize bounds one encoded packet; libopus recommends 4000 bytes
const MaxPacketSize = 4000

// silenceThreshold is the largest packet size libopus emits for a frame
// that carries no audible signal (DTX or digital silence)
const silenceThreshold = 2

// ErrFrameSize is returned when Encode receives anything but exactly one frame
var ErrFrameSize = errors.NewStd("pcm length does not match one frame")

// Packet is one compressed Opus frame
type Packet []byte

// IsSilence reports whether the packet is a near-empty silence marker
func (p Packet) IsSilence() bool {
	return len(p) <= silenceThreshold
}

// Codec is the raw codec handle: it encodes one frame of interleaved PCM into
// data and returns the number of bytes written.
type Codec interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// CodecFactory creates the codec for a validated configuration
type CodecFactory func(cfg EncoderConfig) (Codec, error)

// Option configures a StreamEncoder
type Option func(*StreamEncoder)

// WithCodecFactory replaces the libopus codec, mainly for tests
func WithCodecFactory(factory CodecFactory) Option {
	return func(e *StreamEncoder) {
		e.factory = factory
	}
}

// WithLogger sets the encoder logger
func WithLogger(log logger.Logger) Option {
	return func(e *StreamEncoder) {
		e.log = log
	}
}

// StreamEncoder encodes fixed-size frames of interleaved 16-bit PCM.
// It is not safe for concurrent use.
type StreamEncoder struct {
	cfg             EncoderConfig
	samplesPerFrame int
	codec           Codec
	factory         CodecFactory
	buf             []byte
	log             logger.Logger
}

// NewStreamEncoder validates cfg and creates the codec. Configuration errors
// are returned before any codec resource is allocated.
func NewStreamEncoder(cfg EncoderConfig, opts ...Option) (*StreamEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &StreamEncoder{
		cfg:             cfg,
		samplesPerFrame: cfg.SamplesPerFrame(),
		factory:         newLibopusCodec,
		buf:             make([]byte, MaxPacketSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Global().Module("recorder").Module("opus")
	}

	codec, err := e.factory(cfg)
	if err != nil {
		return nil, errors.New(fmt.Errorf("create opus encoder: %w", err)).
			Component("opus").
			Category(errors.CategoryResource).
			Context("operation", "create_encoder").
			AudioContext(cfg.SampleRate, cfg.Channels).
			Build()
	}
	e.codec = codec

	e.log.Debug("opus encoder created",
		logger.Int("sample_rate", cfg.SampleRate),
		logger.Int("channels", cfg.Channels),
		logger.Duration("frame_duration", cfg.Duration()),
		logger.Int("samples_per_frame", e.samplesPerFrame),
		logger.Int("bitrate", cfg.Bitrate),
		logger.Int("complexity", cfg.Complexity))

	return e, nil
}

// Encode compresses exactly one frame of SamplesPerFrame()*Channels()
// interleaved samples. The returned packet aliases an internal buffer and is
// only valid until the next call.
func (e *StreamEncoder) Encode(frame []int16) (Packet, error) {
	if want := e.samplesPerFrame * e.cfg.Channels; len(frame) != want {
		return nil, errors.New(fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(frame), want)).
			Component("opus").
			Category(errors.CategoryValidation).
			Context("operation", "encode").
			Build()
	}

	start := time.Now()
	n, err := e.codec.Encode(frame, e.buf)
	if err != nil {
		return nil, errors.New(fmt.Errorf("opus encode: %w", err)).
			Component("opus").
			Category(errors.CategoryEncode).
			Timing("encode", time.Since(start)).
			Build()
	}

	return Packet(e.buf[:n]), nil
}

// Config returns the validated configuration
func (e *StreamEncoder) Config() EncoderConfig { return e.cfg }

// SamplesPerFrame is the per-channel sample count of one frame
func (e *StreamEncoder) SamplesPerFrame() int { return e.samplesPerFrame }

// Channels is the encoded channel count
func (e *StreamEncoder) Channels() int { return e.cfg.Channels }

// SampleRate is the input sample rate in Hz
func (e *StreamEncoder) SampleRate() int { return e.cfg.SampleRate }

// FrameDurationNs is the duration of one frame in nanoseconds
func (e *StreamEncoder) FrameDurationNs() int64 { return e.cfg.FrameDurationNs() }

// Head returns the OpusHead for this encoder's stream
func (e *StreamEncoder) Head() []byte {
	return OpusHead(uint8(e.cfg.Channels), 0, uint32(e.cfg.SampleRate), 0)
}

// newLibopusCodec creates a libopus encoder for general audio with the
// configured bitrate and complexity. Signal type stays at its automatic default.
func newLibopusCodec(cfg EncoderConfig) (Codec, error) {
	enc, err := libopus.NewEncoder(cfg.SampleRate, cfg.Channels, libopus.AppAudio)
	if err != nil {
		return nil, err
	}
	if err := enc.SetBitrate(cfg.Bitrate); err != nil {
		return nil, fmt.Errorf("set bitrate %d: %w", cfg.Bitrate, err)
	}
	if err := enc.SetComplexity(cfg.Complexity); err != nil {
		return nil, fmt.Errorf("set complexity %d: %w", cfg.Complexity, err)
	}
	return enc, nil
}
