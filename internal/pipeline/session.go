// Package pipeline runs a recording session: it drains the capture ring
// buffer on a polling interval, assembles frames, encodes them and appends
// the packets to the container with monotonically increasing timestamps.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/opusrec/internal/capture"
	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/logger"
	"github.com/tphakala/opusrec/internal/observability/metrics"
	"github.com/tphakala/opusrec/internal/opus"
	"github.com/tphakala/opusrec/internal/ringbuffer"
)

// DefaultPollInterval is used when Config.PollInterval is not positive
const DefaultPollInterval = time.Second

// Encoder encodes one frame of interleaved PCM into one packet
type Encoder interface {
	Encode(frame []int16) (opus.Packet, error)
	SamplesPerFrame() int
	Channels() int
	FrameDurationNs() int64
}

// Muxer appends timed packets to a container
type Muxer interface {
	AppendPacket(data []byte, timestampNs int64) error
	Finalize() error
}

// Clock supplies wall-clock time for the maximum duration check
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// finiteDevice is a device that ends on its own, such as file replay
type finiteDevice interface {
	Done() <-chan struct{}
}

// Config controls the consumer loop
type Config struct {
	PollInterval      time.Duration // time between drains
	MaxDuration       time.Duration // zero records until stopped
	DropSilentPackets bool          // skip packets of two bytes or less
	Output            string        // informational, reported in Status
}

// Input is the capture side of a session
type Input struct {
	Ring     *ringbuffer.RingBuffer[byte]
	Producer *capture.Producer
	Device   capture.Device // optional, started and stopped by the session
}

// Option configures a Session
type Option func(*Session)

// WithStopToken sets the token polled once per iteration
func WithStopToken(token *StopToken) Option {
	return func(s *Session) { s.stop = token }
}

// WithClock replaces the wall clock
func WithClock(clock Clock) Option {
	return func(s *Session) { s.clock = clock }
}

// WithLogger sets the session logger
func WithLogger(log logger.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithMetrics reports session metrics to recorder
func WithMetrics(recorder metrics.SessionRecorder) Option {
	return func(s *Session) { s.metrics = recorder }
}

// WithSessionID overrides the generated session id
func WithSessionID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session owns one recording from device start to container finalize.
// Run may be called once.
type Session struct {
	id      string
	cfg     Config
	in      Input
	enc     Encoder
	mux     Muxer
	acc     *Accumulator
	stop    *StopToken
	clock   Clock
	log     logger.Logger
	metrics metrics.SessionRecorder

	state     atomic.Int32
	status    atomic.Pointer[Status]
	startedAt time.Time

	// owned by the Run goroutine
	frameNs        int64
	timecode       int64
	packets        uint64
	packetBytes    uint64
	silentPackets  uint64
	droppedPackets uint64
	muxFailed      bool
	lastCapture    capture.Stats
	stopReason     string
}

// NewSession wires the capture input to enc and mux. The accumulator is
// sized from the encoder frame and the producer channel count.
func NewSession(cfg Config, in Input, enc Encoder, mux Muxer, opts ...Option) (*Session, error) {
	if in.Ring == nil || in.Producer == nil || enc == nil || mux == nil {
		return nil, errors.Newf("session requires a ring buffer, producer, encoder and muxer").
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Context("operation", "new_session").
			Build()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	s := &Session{
		cfg:     cfg,
		in:      in,
		enc:     enc,
		mux:     mux,
		frameNs: enc.FrameDurationNs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.stop == nil {
		s.stop = NewStopToken()
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoOpRecorder()
	}
	if s.log == nil {
		s.log = logger.Global().Module("recorder").Module("session")
	}
	s.log = s.log.With(logger.String("session_id", s.id))

	acc, err := NewAccumulator(enc.SamplesPerFrame(), in.Producer.Channels(), enc.Channels(), FrameSinkFunc(s.writeFrame))
	if err != nil {
		return nil, err
	}
	s.acc = acc
	s.publish()
	return s, nil
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// StopToken returns the token that stops this session
func (s *Session) StopToken() *StopToken { return s.stop }

// Status returns the most recently published snapshot
func (s *Session) Status() Status {
	return *s.status.Load()
}

// Run records until the stop token is stopped, ctx is canceled, the maximum
// duration elapses, a finite device ends or a fatal error occurs. The
// container is finalized on every path.
func (s *Session) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return errors.Newf("session %s already ran", s.id).
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	s.startedAt = s.clock.Now()
	s.log.Info("recording started",
		logger.String("output", s.cfg.Output),
		logger.Int("samples_per_frame", s.enc.SamplesPerFrame()),
		logger.Int("capture_channels", s.in.Producer.Channels()),
		logger.Int("encoder_channels", s.enc.Channels()),
		logger.Duration("poll_interval", s.cfg.PollInterval),
		logger.Duration("max_duration", s.cfg.MaxDuration))

	var deviceDone <-chan struct{}
	if s.in.Device != nil {
		if err := s.in.Device.Start(); err != nil {
			s.metrics.RecordOperation(metrics.OpDeviceStart, metrics.StatusError)
			s.stopReason = StopReasonError
			return s.finish(err, s.finalize(err))
		}
		s.metrics.RecordOperation(metrics.OpDeviceStart, metrics.StatusSuccess)
		if fd, ok := s.in.Device.(finiteDevice); ok {
			deviceDone = fd.Done()
		}
	}
	s.publish()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var runErr error
	for {
		if err := s.drain(); err != nil {
			runErr = err
			break
		}
		if err := s.captureError(); err != nil {
			runErr = err
			break
		}
		if reason := s.checkStop(ctx, deviceDone); reason != "" {
			s.stopReason = reason
			break
		}

		select {
		case <-ctx.Done():
		case <-s.stop.Done():
		case <-deviceDone:
		case <-ticker.C:
		}
	}
	if runErr != nil {
		s.stopReason = StopReasonError
	}

	return s.shutdown(runErr)
}

// checkStop returns the reason to stop, or an empty string to continue
func (s *Session) checkStop(ctx context.Context, deviceDone <-chan struct{}) string {
	if s.stop.Stopped() {
		return StopReasonRequested
	}
	if ctx.Err() != nil {
		return StopReasonCanceled
	}
	if s.cfg.MaxDuration > 0 && s.clock.Now().Sub(s.startedAt) >= s.cfg.MaxDuration {
		return StopReasonMaxDuration
	}
	if deviceDone != nil {
		select {
		case <-deviceDone:
			return StopReasonSourceEnded
		default:
		}
	}
	return ""
}

// shutdown stops the device, drains what is left, discards the partial
// frame and finalizes the container
func (s *Session) shutdown(runErr error) error {
	s.state.Store(int32(StateStopping))
	s.publish()
	s.log.Info("stopping recording", logger.String("reason", s.stopReason))

	var stopErr error
	if s.in.Device != nil {
		if err := s.in.Device.Stop(); err != nil {
			s.metrics.RecordOperation(metrics.OpDeviceStop, metrics.StatusError)
			stopErr = errors.New(err).
				Component("pipeline").
				Category(errors.CategoryShutdown).
				Context("operation", "stop_device").
				Build()
		} else {
			s.metrics.RecordOperation(metrics.OpDeviceStop, metrics.StatusSuccess)
		}
	}

	// A failed producer leaves the byte stream misaligned, so nothing
	// after the failure is encoded.
	if runErr == nil {
		if err := s.captureError(); err != nil {
			runErr = err
		} else if err := s.drain(); err != nil {
			runErr = err
		}
	}

	if discarded := s.acc.Discard(); discarded > 0 {
		s.log.Debug("discarded partial frame", logger.Int("bytes", discarded))
	}

	return s.finish(errors.Join(runErr, stopErr), s.finalize(runErr))
}

// captureError returns the latched producer error rebuilt on the consumer
// side, where building it reaches telemetry. The producer only stores a
// prebuilt value from the realtime callback.
func (s *Session) captureError() error {
	err := s.in.Producer.Err()
	if err == nil {
		return nil
	}
	return errors.New(err).
		Component("pipeline").
		Category(errors.CategoryOf(err)).
		Context("operation", "capture").
		AudioContext(0, s.in.Producer.Channels()).
		Build()
}

// finalize closes the container. A failure is only reported when the
// muxer itself had not already failed.
func (s *Session) finalize(cause error) error {
	start := time.Now()
	err := s.mux.Finalize()
	s.metrics.RecordDuration(metrics.OpFinalize, time.Since(start).Seconds())
	if err == nil {
		s.metrics.RecordOperation(metrics.OpFinalize, metrics.StatusSuccess)
		return nil
	}
	s.metrics.RecordOperation(metrics.OpFinalize, metrics.StatusError)
	if s.muxFailed {
		s.log.Debug("finalize after mux failure", logger.Error(err))
		return nil
	}
	if cause != nil {
		s.log.Warn("finalize failed after session error", logger.Error(err))
	}
	return err
}

// finish publishes the final status and returns the combined error
func (s *Session) finish(runErr, finalizeErr error) error {
	err := errors.Join(runErr, finalizeErr)
	if err != nil {
		s.state.Store(int32(StateFailed))
		s.metrics.RecordError(metrics.OpSession, string(errors.CategoryOf(err)))
		s.metrics.RecordOperation(metrics.OpSession, metrics.StatusError)
		s.log.Error("recording failed",
			logger.Error(err),
			logger.String("category", string(errors.CategoryOf(err))),
			logger.Uint64("packets", s.packets))
	} else {
		s.state.Store(int32(StateFinished))
		s.metrics.RecordOperation(metrics.OpSession, metrics.StatusSuccess)
		s.log.Info("recording finished",
			logger.String("reason", s.stopReason),
			logger.Uint64("frames", s.acc.Frames()),
			logger.Uint64("packets", s.packets),
			logger.Uint64("dropped_packets", s.droppedPackets),
			logger.Duration("duration", time.Duration(s.timecode)))
	}
	s.publishErr(err)
	return err
}

// drain moves everything buffered in the ring through the accumulator
func (s *Session) drain() error {
	start := time.Now()
	s.metrics.UpdateRingFill(s.in.Ring.Size(), s.in.Ring.Capacity())

	n, err := s.acc.Drain(s.in.Ring)

	stats := s.in.Producer.Stats()
	s.metrics.RecordCapture(
		stats.CapturedBytes-s.lastCapture.CapturedBytes,
		stats.GapFrames-s.lastCapture.GapFrames,
		stats.DeviceOverflows-s.lastCapture.DeviceOverflows)
	if stats.DeviceOverflows > s.lastCapture.DeviceOverflows {
		s.log.Warn("capture device overflow",
			logger.Uint64("overflows", stats.DeviceOverflows-s.lastCapture.DeviceOverflows),
			logger.Uint64("gap_frames", stats.GapFrames))
	}
	s.lastCapture = stats

	if n > 0 {
		s.metrics.RecordDuration(metrics.OpDrain, time.Since(start).Seconds())
	}
	s.publish()
	return err
}

// writeFrame encodes one frame and appends it at the current timecode. The
// timecode advances by one frame whether or not the packet is written. The
// first packet is always written so the container timeline starts at zero.
func (s *Session) writeFrame(frame []int16) error {
	start := time.Now()
	packet, err := s.enc.Encode(frame)
	s.metrics.RecordDuration(metrics.OpEncode, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordError(metrics.OpEncode, string(errors.CategoryOf(err)))
		return err
	}

	ts := s.timecode
	s.timecode += s.frameNs

	silent := packet.IsSilence()
	if silent {
		s.silentPackets++
		if s.cfg.DropSilentPackets && s.packets > 0 {
			s.droppedPackets++
			s.metrics.RecordPacket(len(packet), true, true)
			return nil
		}
	}

	if err := s.mux.AppendPacket(packet, ts); err != nil {
		s.muxFailed = true
		s.metrics.RecordError(metrics.OpMux, string(errors.CategoryOf(err)))
		return err
	}
	s.packets++
	s.packetBytes += uint64(len(packet))
	s.metrics.RecordPacket(len(packet), silent, false)
	return nil
}

func (s *Session) publish() {
	s.publishErr(nil)
}

func (s *Session) publishErr(err error) {
	st := &Status{
		ID:              s.id,
		State:           State(s.state.Load()),
		Output:          s.cfg.Output,
		StartedAt:       s.startedAt,
		Frames:          s.acc.Frames(),
		Packets:         s.packets,
		PacketBytes:     s.packetBytes,
		SilentPackets:   s.silentPackets,
		DroppedPackets:  s.droppedPackets,
		TimecodeNs:      s.timecode,
		RingSize:        s.in.Ring.Size(),
		RingCapacity:    s.in.Ring.Capacity(),
		CapturedBytes:   s.lastCapture.CapturedBytes,
		GapFrames:       s.lastCapture.GapFrames,
		DeviceOverflows: s.lastCapture.DeviceOverflows,
		StopReason:      s.stopReason,
	}
	if !s.startedAt.IsZero() {
		st.ElapsedSeconds = s.clock.Now().Sub(s.startedAt).Seconds()
	}
	if err != nil {
		st.Error = err.Error()
	}
	s.status.Store(st)
}
