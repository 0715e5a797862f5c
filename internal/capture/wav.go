package capture

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/logger"
)

// wavHeaderSize is the canonical RIFF/fmt/data header length
const wavHeaderSize = 44

// DefaultReplayPeriod is the number of frames handed to the producer per
// replay callback
const DefaultReplayPeriod = 1024

// backoff between replay callbacks while the ring buffer is full
const replayBackoff = time.Millisecond

// WAVOption configures a WAVSource
type WAVOption func(*WAVSource)

// WithPeriod sets the frames delivered per replay callback
func WithPeriod(frames int) WAVOption {
	return func(w *WAVSource) {
		if frames > 0 {
			w.period = frames
		}
	}
}

// WithRealtime paces the replay at the file's sample rate instead of as fast
// as the consumer drains the ring buffer
func WithRealtime(realtime bool) WAVOption {
	return func(w *WAVSource) { w.realtime = realtime }
}

// WithWAVLogger sets the replay logger
func WithWAVLogger(log logger.Logger) WAVOption {
	return func(w *WAVSource) { w.log = log }
}

// WAVSource replays a 16-bit PCM WAV file through a Producer as if it was a
// capture device. It implements both Device and SpanSource.
type WAVSource struct {
	path     string
	file     *os.File
	decoder  *wav.Decoder
	producer *Producer
	log      logger.Logger

	sampleRate int
	channels   int
	period     int
	realtime   bool
	size       int64

	// replay goroutine state
	buf     *audio.IntBuffer
	pending []byte
	scratch []byte
	eof     bool
	frames  atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// OpenWAV opens path and reads its header. Only 16-bit PCM with one or two
// channels is accepted.
func OpenWAV(path string, opts ...WAVOption) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryFileIO).
			Context("operation", "open_wav").
			Context("file_path", path).
			Build()
	}

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		_ = f.Close()
		return nil, errors.Newf("input is not a valid WAV audio file").
			Component("capture").
			Category(errors.CategoryConfiguration).
			Context("file_path", path).
			Build()
	}
	if decoder.WavAudioFormat != 1 || decoder.BitDepth != 16 {
		_ = f.Close()
		return nil, errors.Newf("unsupported WAV encoding: format %d, %d bits", decoder.WavAudioFormat, decoder.BitDepth).
			Component("capture").
			Category(errors.CategoryConfiguration).
			Context("file_path", path).
			Build()
	}
	if decoder.NumChans != 1 && decoder.NumChans != 2 {
		_ = f.Close()
		return nil, errors.Newf("unsupported number of channels: %d", decoder.NumChans).
			Component("capture").
			Category(errors.CategoryConfiguration).
			Context("file_path", path).
			Build()
	}

	var size int64
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}

	w := &WAVSource{
		size:       size,
		path:       path,
		file:       f,
		decoder:    decoder,
		sampleRate: int(decoder.SampleRate),
		channels:   int(decoder.NumChans),
		period:     DefaultReplayPeriod,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logger.Global().Module("recorder").Module("capture")
	}

	w.buf = &audio.IntBuffer{
		Data:   make([]int, w.period*w.channels),
		Format: &audio.Format{SampleRate: w.sampleRate, NumChannels: w.channels},
	}
	w.scratch = make([]byte, w.period*w.channels*BytesPerSample)
	return w, nil
}

// SampleRate returns the sample rate of the file
func (w *WAVSource) SampleRate() int { return w.sampleRate }

// Channels returns the channel count of the file
func (w *WAVSource) Channels() int { return w.channels }

// Duration estimates the audio length from the file size
func (w *WAVSource) Duration() time.Duration {
	data := max(w.size-wavHeaderSize, 0)
	bytesPerSecond := int64(w.sampleRate * w.channels * BytesPerSample)
	return time.Duration(data * int64(time.Second) / bytesPerSecond)
}

// Attach sets the producer fed by Start. It must be called before Start.
func (w *WAVSource) Attach(p *Producer) {
	w.producer = p
}

// Done is closed when the replay goroutine has exited, either at the end of
// the file, after a fatal producer error or after Stop
func (w *WAVSource) Done() <-chan struct{} {
	return w.done
}

// FramesRead returns the number of frames read from the file so far
func (w *WAVSource) FramesRead() uint64 {
	return w.frames.Load()
}

// Start launches the replay goroutine
func (w *WAVSource) Start() error {
	if w.producer == nil {
		return errors.Newf("wav source has no producer attached").
			Component("capture").
			Category(errors.CategoryState).
			Build()
	}
	if w.producer.Channels() != w.channels {
		return errors.Newf("producer expects %d channels, file has %d", w.producer.Channels(), w.channels).
			Component("capture").
			Category(errors.CategoryConfiguration).
			Build()
	}
	started := false
	w.startOnce.Do(func() {
		started = true
		w.log.Info("replay started",
			logger.String("file", w.path),
			logger.Int("sample_rate", w.sampleRate),
			logger.Int("channels", w.channels))
		go w.run()
	})
	if !started {
		return errors.Newf("wav source already started").
			Component("capture").
			Category(errors.CategoryState).
			Build()
	}
	return nil
}

// Stop ends the replay and closes the file
func (w *WAVSource) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		started := true
		w.startOnce.Do(func() { started = false })
		if started {
			<-w.done
		} else {
			close(w.done)
		}
		if cerr := w.file.Close(); cerr != nil {
			err = errors.New(cerr).
				Component("capture").
				Category(errors.CategoryShutdown).
				Context("operation", "close_wav").
				Build()
		}
	})
	return err
}

func (w *WAVSource) run() {
	defer close(w.done)

	var ticker *time.Ticker
	if w.realtime {
		ticker = time.NewTicker(time.Duration(w.period) * time.Second / time.Duration(w.sampleRate))
		defer ticker.Stop()
	}

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		if err := w.producer.OnRead(w, 0, w.period); err != nil {
			w.log.Error("replay aborted", logger.Error(err))
			return
		}
		if w.eof && len(w.pending) == 0 {
			w.log.Info("replay finished",
				logger.String("file", w.path),
				logger.Uint64("frames", w.frames.Load()))
			return
		}

		var wait <-chan time.Time
		switch {
		case ticker != nil:
			wait = ticker.C
		case w.producer.FreeFrames() < w.period:
			wait = time.After(replayBackoff)
		}
		if wait != nil {
			select {
			case <-w.stop:
				return
			case <-wait:
			}
		}
	}
}

// NextSpan implements SpanSource over the decoded file
func (w *WAVSource) NextSpan(maxFrames int) (data []byte, frames int, err error) {
	if len(w.pending) == 0 && !w.eof {
		if err := w.fill(); err != nil {
			return nil, 0, err
		}
	}
	bytesPerFrame := w.channels * BytesPerSample
	frames = min(len(w.pending)/bytesPerFrame, maxFrames)
	n := frames * bytesPerFrame
	data = w.pending[:n]
	w.pending = w.pending[n:]
	return data, frames, nil
}

// fill decodes the next block of samples into pending
func (w *WAVSource) fill() error {
	n, err := w.decoder.PCMBuffer(w.buf)
	if err != nil && err != io.EOF {
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryFileIO).
			Context("operation", "decode_wav").
			Context("file_path", w.path).
			Build()
	}
	// drop a trailing partial frame
	n -= n % w.channels
	if n == 0 {
		w.eof = true
		return nil
	}
	for i, s := range w.buf.Data[:n] {
		binary.LittleEndian.PutUint16(w.scratch[i*BytesPerSample:], uint16(int16(s)))
	}
	w.pending = w.scratch[:n*BytesPerSample]
	w.frames.Add(uint64(n / w.channels))
	return nil
}
