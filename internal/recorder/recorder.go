// Package recorder assembles capture, encoding and muxing into a session from
// settings and runs it alongside the optional status server.
package recorder

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/opusrec/internal/buildinfo"
	"github.com/tphakala/opusrec/internal/capture"
	"github.com/tphakala/opusrec/internal/conf"
	"github.com/tphakala/opusrec/internal/diskmanager"
	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/httpserver"
	"github.com/tphakala/opusrec/internal/logger"
	"github.com/tphakala/opusrec/internal/notification"
	"github.com/tphakala/opusrec/internal/observability"
	"github.com/tphakala/opusrec/internal/opus"
	"github.com/tphakala/opusrec/internal/pipeline"
	"github.com/tphakala/opusrec/internal/ringbuffer"
	"github.com/tphakala/opusrec/internal/webm"
)

// FileReplayPollInterval is the drain interval used when encoding a file
const FileReplayPollInterval = 10 * time.Millisecond

// Recorder builds and runs one session
type Recorder struct {
	settings *conf.Settings
	build    *buildinfo.Context
	log      logger.Logger

	metrics  *observability.Metrics
	server   *httpserver.EchoServer
	notifier *notification.Notifier

	handleSignals bool
}

// Option configures a Recorder
type Option func(*Recorder)

// WithLogger sets the recorder logger
func WithLogger(log logger.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

// WithBuildInfo sets the build metadata written to the output
func WithBuildInfo(build *buildinfo.Context) Option {
	return func(r *Recorder) { r.build = build }
}

// WithSignalHandling converts SIGINT and SIGTERM into a graceful stop
func WithSignalHandling(enabled bool) Option {
	return func(r *Recorder) { r.handleSignals = enabled }
}

// New creates a recorder. When telemetry.metrics is enabled the metrics
// registry and status server are created here and served during Run.
func New(settings *conf.Settings, opts ...Option) (*Recorder, error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Component("recorder").
			Category(errors.CategoryConfiguration).
			Build()
	}

	r := &Recorder{settings: settings}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Global().Module("recorder")
	}

	if settings.Telemetry.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return nil, errors.New(err).
				Component("recorder").
				Category(errors.CategoryResource).
				Context("operation", "init_metrics").
				Build()
		}
		r.metrics = m
		r.server = httpserver.New(settings.Telemetry.Metrics.Listen, m.Handler(),
			httpserver.WithLogger(r.log.Module("http")))
	}

	notifier, err := notification.New(&settings.Telemetry.Notify, notification.WithLogger(r.log.Module("notification")))
	if err != nil {
		return nil, err
	}
	r.notifier = notifier

	return r, nil
}

// Metrics returns the metrics registry, nil when metrics are disabled
func (r *Recorder) Metrics() *observability.Metrics { return r.metrics }

// Server returns the status server, nil when metrics are disabled
func (r *Recorder) Server() *httpserver.EchoServer { return r.server }

// Record captures from the configured device into output until stopped
func (r *Recorder) Record(ctx context.Context, output string) (pipeline.Status, error) {
	rec := r.settings.Recording
	if output != "" {
		rec.Output = output
	}

	r.logSystemDetails()

	enc, err := opus.NewStreamEncoder(EncoderConfig(&rec), opus.WithLogger(r.log.Module("opus")))
	if err != nil {
		return pipeline.Status{}, err
	}

	if err := r.checkDiskSpace(&rec, rec.MaxDuration); err != nil {
		return pipeline.Status{}, err
	}

	rb := ringbuffer.New[byte](rec.RingCapacity())
	producer := capture.NewProducer(rb, rec.CaptureChannels)
	device := capture.NewMalgoDevice(capture.MalgoConfig{
		Device:     rec.Device,
		Backend:    rec.Backend,
		SampleRate: rec.SampleRate,
		Channels:   rec.CaptureChannels,
	}, producer, r.log.Module("capture"))

	mux, err := webm.Create(rec.Output, webm.OpusTrack(enc), r.muxerOptions()...)
	if err != nil {
		return pipeline.Status{}, err
	}

	return r.runSession(ctx, &rec, pipeline.Input{Ring: rb, Producer: producer, Device: device}, enc, mux, rec.PollInterval)
}

// EncodeFile replays a 16-bit PCM WAV file through the same pipeline. The
// sample rate and capture channel count come from the file header.
func (r *Recorder) EncodeFile(ctx context.Context, input, output string) (pipeline.Status, error) {
	src, err := capture.OpenWAV(input, capture.WithWAVLogger(r.log.Module("capture")))
	if err != nil {
		return pipeline.Status{}, err
	}

	rec := r.settings.Recording
	if output != "" {
		rec.Output = output
	}
	rec.SampleRate = src.SampleRate()
	rec.CaptureChannels = src.Channels()
	if rec.Channels > rec.CaptureChannels {
		rec.Channels = rec.CaptureChannels
	}

	enc, err := opus.NewStreamEncoder(EncoderConfig(&rec), opus.WithLogger(r.log.Module("opus")))
	if err != nil {
		_ = src.Stop()
		return pipeline.Status{}, err
	}

	if err := r.checkDiskSpace(&rec, src.Duration()); err != nil {
		_ = src.Stop()
		return pipeline.Status{}, err
	}

	rb := ringbuffer.New[byte](rec.RingCapacity())
	producer := capture.NewProducer(rb, rec.CaptureChannels)
	src.Attach(producer)

	mux, err := webm.Create(rec.Output, webm.OpusTrack(enc), r.muxerOptions()...)
	if err != nil {
		_ = src.Stop()
		return pipeline.Status{}, err
	}

	r.log.Info("encoding file",
		logger.String("input", input),
		logger.String("output", rec.Output),
		logger.Int("sample_rate", rec.SampleRate),
		logger.Int("channels", rec.CaptureChannels))

	return r.runSession(ctx, &rec, pipeline.Input{Ring: rb, Producer: producer, Device: src}, enc, mux, FileReplayPollInterval)
}

// EncoderConfig maps recording settings to an encoder configuration
func EncoderConfig(rec *conf.RecordingSettings) opus.EncoderConfig {
	return opus.EncoderConfig{
		SampleRate:    rec.SampleRate,
		Channels:      rec.Channels,
		FrameDuration: int(rec.FrameDuration / time.Microsecond),
		Bitrate:       rec.Bitrate,
		Complexity:    rec.Complexity,
	}
}

// checkDiskSpace refuses to start when the output filesystem has less than
// min_free_mb free, or less than the estimated size of d of audio
func (r *Recorder) checkDiskSpace(rec *conf.RecordingSettings, d time.Duration) error {
	if rec.MinFreeMB == 0 {
		return nil
	}

	need := max(uint64(rec.MinFreeMB)*diskmanager.MiB, diskmanager.EstimateBytes(rec.Bitrate, d))
	info, err := diskmanager.CheckOutputSpace(rec.Output, need)
	if err != nil {
		return err
	}

	r.log.Debug("output disk space checked",
		logger.Uint64("free_bytes", info.FreeBytes),
		logger.Uint64("required_bytes", need))
	return nil
}

// logSystemDetails logs the platform the recorder runs on
func (r *Recorder) logSystemDetails() {
	info, err := host.Info()
	if err != nil {
		r.log.Warn("failed to read host info", logger.Error(err))
		return
	}
	r.log.Info("system details",
		logger.String("os", info.OS),
		logger.String("platform", info.Platform),
		logger.String("platform_version", info.PlatformVersion),
		logger.String("kernel_arch", info.KernelArch))
}

func (r *Recorder) muxerOptions() []webm.Option {
	opts := []webm.Option{webm.WithLogger(r.log.Module("webm"))}
	if r.build != nil && r.build.Version != "" {
		opts = append(opts, webm.WithWritingApp(webm.DefaultWritingApp+" "+r.build.Version))
	}
	return opts
}

// runSession runs the session and, when enabled, the status server. The
// server is shut down once the session returns.
func (r *Recorder) runSession(ctx context.Context, rec *conf.RecordingSettings, in pipeline.Input, enc pipeline.Encoder, mux pipeline.Muxer, poll time.Duration) (pipeline.Status, error) {
	opts := []pipeline.Option{pipeline.WithLogger(r.log)}
	if r.metrics != nil {
		opts = append(opts, pipeline.WithMetrics(r.metrics.Recording))
	}

	sess, err := pipeline.NewSession(pipeline.Config{
		PollInterval:      poll,
		MaxDuration:       rec.MaxDuration,
		DropSilentPackets: rec.DropSilentPackets,
		Output:            rec.Output,
	}, in, enc, mux, opts...)
	if err != nil {
		if in.Device != nil {
			_ = in.Device.Stop()
		}
		_ = mux.Finalize()
		return pipeline.Status{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	sessionDone := make(chan struct{})

	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		defer close(sessionDone)
		defer stopServer()
		return sess.Run(gctx)
	})

	if r.server != nil {
		r.server.SetStatusProvider(sess)
		g.Go(func() error { return r.server.Run(serverCtx) })
	}

	if r.handleSignals {
		sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stopSignals()
		g.Go(func() error {
			select {
			case <-sigCtx.Done():
				if ctx.Err() == nil {
					r.log.Info("received shutdown signal, stopping")
					sess.StopToken().Stop()
				}
			case <-sessionDone:
			}
			return nil
		})
	}

	err = g.Wait()
	status := sess.Status()

	if nerr := r.notifier.SessionEnded(&status, err); nerr != nil {
		r.log.Warn("failed to send notification", logger.Error(nerr))
	}

	return status, err
}
