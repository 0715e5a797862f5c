package webm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/google/uuid"

	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/logger"
)

// State is the muxer lifecycle position
type State int

const (
	StateUninitialized State = iota
	StateOpen
	StateStreaming
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Muxer errors
var (
	ErrInvalidState   = errors.NewStd("muxer operation not valid in current state")
	ErrMuxerFinalized = errors.NewStd("muxer already finalized")
	ErrTimestampOrder = errors.NewStd("packet timestamp decreases")
	ErrInvalidTrack   = errors.NewStd("invalid audio track")
	ErrFirstTimestamp = errors.NewStd("first packet must start at zero")
)

const (
	// DefaultWritingApp is stored in the segment info
	DefaultWritingApp = "OpusRec"
	muxingApp         = "opusrec/ebml-go"

	// closeTimeout bounds the wait for the block writer to release the sink
	closeTimeout = 5 * time.Second

	// durationPlaceholder reserves the segment Duration until Finalize
	durationPlaceholder = float64(1 << 52)
	durationElementID   = 0x4489
	float64SizeVint     = 0x88
)

// Option configures a Muxer
type Option func(*Muxer)

// WithWritingApp overrides the WritingApp segment info value
func WithWritingApp(name string) Option {
	return func(m *Muxer) { m.writingApp = name }
}

// WithTrackUID fixes the track UID instead of drawing a random one
func WithTrackUID(uid uint64) Option {
	return func(m *Muxer) { m.trackUID = uid }
}

// WithLogger sets the muxer logger
func WithLogger(log logger.Logger) Option {
	return func(m *Muxer) { m.log = log }
}

// Stats summarizes what has been written
type Stats struct {
	Packets       uint64
	Bytes         uint64
	LastTimestamp int64 // ns
}

// Muxer writes one audio track of timestamped packets into a WebM stream.
// Its methods must be called from a single goroutine.
type Muxer struct {
	state         State
	sink          *sink
	block         mkvcore.BlockWriteCloser
	timecodeScale int64
	frameNs       int64
	durationAt    int64 // offset of the Duration value, -1 when not patched
	writingApp    string
	trackUID      uint64
	stats         Stats
	log           logger.Logger
}

// NewMuxer returns an uninitialized muxer
func NewMuxer(opts ...Option) *Muxer {
	m := &Muxer{writingApp: DefaultWritingApp, durationAt: -1}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Global().Module("recorder").Module("webm")
	}
	return m
}

// Create opens path and returns a muxer streaming into it with track declared
func Create(path string, track AudioTrack, opts ...Option) (*Muxer, error) {
	f, err := os.Create(path) //nolint:gosec // output path is chosen by the user
	if err != nil {
		return nil, errors.New(fmt.Errorf("create output file: %w", err)).
			Component("webm").
			Category(errors.CategoryResource).
			Context("operation", "create_output").
			FileContext(path, 0).
			Build()
	}

	m := NewMuxer(opts...)
	if err := m.Open(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := m.AddAudioTrack(track); err != nil {
		_ = m.sink.Close()
		_ = os.Remove(path)
		return nil, err
	}

	m.log.Info("output opened", logger.String("path", path))
	return m, nil
}

// Open attaches the output sink. When w implements io.WriterAt the segment
// duration is written at Finalize; offsets are relative to the first byte
// written to w.
func (m *Muxer) Open(w io.WriteCloser) error {
	if m.state != StateUninitialized {
		return m.stateError("open", ErrInvalidState)
	}
	if w == nil {
		return errors.New(fmt.Errorf("%w: nil sink", ErrInvalidState)).
			Component("webm").
			Category(errors.CategoryResource).
			Context("operation", "open").
			Build()
	}
	m.sink = newSink(w)
	m.state = StateOpen
	return nil
}

// AddAudioTrack declares the single audio track and writes the EBML header,
// segment info and track list.
func (m *Muxer) AddAudioTrack(track AudioTrack) error {
	if m.state != StateOpen {
		return m.stateError("add_track", ErrInvalidState)
	}
	if err := validateTrack(track); err != nil {
		return errors.New(err).
			Component("webm").
			Category(errors.CategoryResource).
			Context("operation", "add_track").
			Build()
	}

	m.timecodeScale = timecodeScale(track.FrameDurationNs)
	m.frameNs = track.FrameDurationNs
	if m.trackUID == 0 {
		m.trackUID = randomTrackUID()
	}

	entry := trackEntry{
		Name:         track.Name,
		TrackNumber:  trackNumber,
		TrackUID:     m.trackUID,
		CodecID:      track.CodecID,
		CodecPrivate: track.CodecPrivate,
		CodecDelay:   track.CodecDelay,
		SeekPreRoll:  track.SeekPreRoll,
		TrackType:    trackTypeAudio,
		Audio: audioEntry{
			SamplingFrequency: track.SamplingFrequency,
			Channels:          uint64(track.Channels),
			BitDepth:          audioBitDepth,
		},
	}

	info := &webm.Info{
		TimecodeScale: uint64(m.timecodeScale),
		MuxingApp:     muxingApp,
		WritingApp:    m.writingApp,
	}
	seekable := m.sink.seekable()
	if seekable {
		info.Duration = durationPlaceholder
	}

	writers, err := mkvcore.NewSimpleBlockWriter(m.sink,
		[]mkvcore.TrackDescription{{TrackNumber: trackNumber, TrackEntry: entry}},
		mkvcore.WithEBMLHeader(webm.DefaultEBMLHeader),
		mkvcore.WithSegmentInfo(info),
		mkvcore.WithOnFatalHandler(m.sink.fail),
		mkvcore.WithOnErrorHandler(func(err error) {
			m.log.Warn("block writer skipped frame", logger.Error(err))
		}),
	)
	if err != nil {
		return errors.New(fmt.Errorf("create block writer: %w", err)).
			Component("webm").
			Category(errors.CategoryResource).
			Context("operation", "add_track").
			Build()
	}
	if len(writers) != 1 {
		return errors.Newf("block writer returned %d tracks, want 1", len(writers)).
			Component("webm").
			Category(errors.CategoryResource).
			Context("operation", "add_track").
			Build()
	}

	m.block = writers[0]
	m.state = StateStreaming

	element := durationElement(durationPlaceholder)
	if off := m.sink.locate(element); seekable && off >= 0 {
		m.durationAt = off + int64(len(element)) - 8
	}

	m.log.Debug("audio track added",
		logger.String("codec", track.CodecID),
		logger.Int("channels", track.Channels),
		logger.Float64("sampling_frequency", track.SamplingFrequency),
		logger.Int64("timecode_scale_ns", m.timecodeScale))

	return nil
}

// AppendPacket writes one packet at timestampNs. The first packet must be at
// zero and timestamps must not decrease. The data is copied.
//
// Blocks are written by a background goroutine, so a failed output write is
// returned by a later AppendPacket or by Finalize, not by the call whose
// packet hit it.
func (m *Muxer) AppendPacket(data []byte, timestampNs int64) error {
	switch m.state {
	case StateStreaming:
	case StateFinalized:
		return m.stateError("append_packet", ErrMuxerFinalized)
	default:
		return m.stateError("append_packet", ErrInvalidState)
	}

	if m.stats.Packets == 0 && timestampNs != 0 {
		return errors.New(fmt.Errorf("%w: got %d ns", ErrFirstTimestamp, timestampNs)).
			Component("webm").
			Category(errors.CategoryMux).
			Context("operation", "append_packet").
			Build()
	}
	if timestampNs < m.stats.LastTimestamp {
		return errors.New(fmt.Errorf("%w: %d ns after %d ns", ErrTimestampOrder, timestampNs, m.stats.LastTimestamp)).
			Component("webm").
			Category(errors.CategoryMux).
			Context("operation", "append_packet").
			Build()
	}

	if err := m.sink.Err(); err != nil {
		return m.writeError(err)
	}

	if _, err := m.block.Write(true, timestampNs/m.timecodeScale, bytes.Clone(data)); err != nil {
		return m.writeError(err)
	}

	m.stats.Packets++
	m.stats.Bytes += uint64(len(data))
	m.stats.LastTimestamp = timestampNs
	return nil
}

// Finalize flushes pending blocks, writes the segment duration when the
// output is seekable and closes the sink. No operation is accepted
// afterwards.
func (m *Muxer) Finalize() error {
	switch m.state {
	case StateFinalized:
		return m.stateError("finalize", ErrMuxerFinalized)
	case StateUninitialized:
		return m.stateError("finalize", ErrInvalidState)
	}

	var errs []error
	if m.durationAt >= 0 {
		m.sink.setPatch(m.durationAt, float64Bytes(m.Duration()))
	}
	if m.block != nil {
		if err := m.block.Close(); err != nil {
			errs = append(errs, err)
		}
		// The block writer closes the sink from its own goroutine
		select {
		case <-m.sink.closed:
		case <-time.After(closeTimeout):
			m.log.Warn("block writer did not release output, closing directly")
		}
	}
	if err := m.sink.Close(); err != nil {
		errs = append(errs, err)
	}
	m.state = StateFinalized

	if err := errors.Join(errs...); err != nil {
		return errors.New(fmt.Errorf("finalize container: %w", err)).
			Component("webm").
			Category(errors.CategoryShutdown).
			Context("operation", "finalize").
			Build()
	}

	m.log.Debug("container finalized",
		logger.Uint64("packets", m.stats.Packets),
		logger.Uint64("bytes", m.stats.Bytes),
		logger.Int64("last_timestamp_ns", m.stats.LastTimestamp))
	return nil
}

// Duration returns the written duration in timecode scale units: the last
// packet timestamp plus one frame, or zero before any packet
func (m *Muxer) Duration() float64 {
	if m.stats.Packets == 0 || m.timecodeScale == 0 {
		return 0
	}
	return float64(m.stats.LastTimestamp+m.frameNs) / float64(m.timecodeScale)
}

// State returns the lifecycle position
func (m *Muxer) State() State { return m.state }

// Stats returns packet and byte counts written so far
func (m *Muxer) Stats() Stats { return m.stats }

// TimecodeScale returns the segment timecode scale in ns, zero before AddAudioTrack
func (m *Muxer) TimecodeScale() int64 { return m.timecodeScale }

func (m *Muxer) stateError(operation string, sentinel error) error {
	return errors.New(fmt.Errorf("%w: %s in state %s", sentinel, operation, m.state)).
		Component("webm").
		Category(errors.CategoryState).
		Context("operation", operation).
		Build()
}

func (m *Muxer) writeError(err error) error {
	return errors.New(fmt.Errorf("write packet: %w", err)).
		Component("webm").
		Category(errors.CategoryMux).
		Context("operation", "append_packet").
		Build()
}

func validateTrack(track AudioTrack) error {
	switch {
	case track.CodecID == "":
		return fmt.Errorf("%w: empty codec id", ErrInvalidTrack)
	case track.Channels < 1 || track.Channels > 255:
		return fmt.Errorf("%w: %d channels", ErrInvalidTrack, track.Channels)
	case track.SamplingFrequency <= 0:
		return fmt.Errorf("%w: sampling frequency %v", ErrInvalidTrack, track.SamplingFrequency)
	case track.FrameDurationNs <= 0:
		return fmt.Errorf("%w: frame duration %d ns", ErrInvalidTrack, track.FrameDurationNs)
	}
	return nil
}

// timecodeScale picks the largest scale, at most 1 ms, that divides the frame
// duration so every block timestamp is exact.
func timecodeScale(frameNs int64) int64 {
	a, b := frameNs, int64(time.Millisecond)
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// durationElement encodes a Duration element holding v as an 8 byte float
func durationElement(v float64) []byte {
	out := []byte{durationElementID >> 8, durationElementID & 0xff, float64SizeVint}
	return append(out, float64Bytes(v)...)
}

func float64Bytes(v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func randomTrackUID() uint64 {
	id := uuid.New()
	uid := binary.BigEndian.Uint64(id[:8])
	if uid == 0 {
		uid = 1
	}
	return uid
}
