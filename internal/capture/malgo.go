package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/logger"
)

// lateCallbackFactor is how many callback periods may pass between two data
// callbacks before the device is assumed to have overrun
const lateCallbackFactor = 3

// ErrDeviceStopped is wrapped by the error latched when the device stops
// while the recorder still expects audio
var ErrDeviceStopped = errors.NewStd("audio device stopped unexpectedly")

// MalgoConfig configures a live capture device
type MalgoConfig struct {
	Device     string // device name or id, empty for the system default
	Backend    string // backend name, empty for the platform default
	SampleRate int
	Channels   int
}

// MalgoDevice captures signed 16-bit interleaved PCM with malgo and feeds
// every data callback into a Producer
type MalgoDevice struct {
	cfg      MalgoConfig
	producer *Producer
	log      logger.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	info   DeviceInfo

	running  atomic.Bool
	stopping atomic.Bool

	// callback state, touched only from the data callback
	span         *ByteSpan
	lastCallback time.Time
}

// NewMalgoDevice returns a device that is opened on Start
func NewMalgoDevice(cfg MalgoConfig, producer *Producer, log logger.Logger) *MalgoDevice {
	if log == nil {
		log = logger.Global().Module("recorder").Module("capture")
	}
	return &MalgoDevice{
		cfg:      cfg,
		producer: producer,
		log:      log,
		span:     NewByteSpan(producer.BytesPerFrame()),
	}
}

// Info returns the selected device, valid after Start
func (d *MalgoDevice) Info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Start opens the backend, selects the device and starts capturing
func (d *MalgoDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.Newf("capture device already running").
			Component("capture").
			Category(errors.CategoryState).
			Build()
	}

	backend, err := ParseBackend(d.cfg.Backend)
	if err != nil {
		return err
	}

	malgoCtx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(message string) {
		d.log.Debug("malgo", logger.String("message", message))
	})
	if err != nil {
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryResource).
			Context("operation", "init_context").
			Context("backend", d.cfg.Backend).
			Build()
	}

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		_ = malgoCtx.Uninit()
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryResource).
			Context("operation", "enumerate_devices").
			Build()
	}
	selected, err := SelectDevice(describeDevices(infos), d.cfg.Device)
	if err != nil {
		_ = malgoCtx.Uninit()
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryResource).
			Context("operation", "select_device").
			Build()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(d.cfg.Channels)
	deviceConfig.Capture.DeviceID = infos[selected.Index].ID.Pointer()
	deviceConfig.SampleRate = uint32(d.cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	d.stopping.Store(false)
	d.lastCallback = time.Time{}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onStop,
	})
	if err != nil {
		_ = malgoCtx.Uninit()
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryResource).
			Context("operation", "init_device").
			Context("device_name", selected.Name).
			AudioContext(d.cfg.SampleRate, d.cfg.Channels).
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryResource).
			Context("operation", "start_device").
			Context("device_name", selected.Name).
			Build()
	}

	d.ctx = malgoCtx
	d.device = device
	d.info = selected
	d.running.Store(true)

	d.log.Info("capture started",
		logger.String("device", selected.Name),
		logger.String("device_id", selected.ID),
		logger.Int("sample_rate", d.cfg.SampleRate),
		logger.Int("channels", d.cfg.Channels))
	return nil
}

// Stop stops the device and releases the backend. Stopping a device that is
// not running is a no-op.
func (d *MalgoDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return nil
	}
	d.stopping.Store(true)

	var stopErr error
	if d.device != nil {
		stopErr = d.device.Stop()
		d.device.Uninit()
		d.device = nil
	}
	if d.ctx != nil {
		if err := d.ctx.Uninit(); err != nil && stopErr == nil {
			stopErr = err
		}
		d.ctx = nil
	}
	d.running.Store(false)

	if stopErr != nil {
		return errors.New(stopErr).
			Component("capture").
			Category(errors.CategoryShutdown).
			Context("operation", "stop_device").
			Build()
	}
	d.log.Info("capture stopped", logger.String("device", d.info.Name))
	return nil
}

// onData runs on the audio thread
func (d *MalgoDevice) onData(_, pInput []byte, frameCount uint32) {
	frames := int(frameCount)
	if frames == 0 {
		return
	}

	now := time.Now()
	if !d.lastCallback.IsZero() && d.cfg.SampleRate > 0 {
		period := time.Duration(frames) * time.Second / time.Duration(d.cfg.SampleRate)
		if now.Sub(d.lastCallback) > lateCallbackFactor*period {
			d.producer.OnOverflow()
		}
	}
	d.lastCallback = now

	d.span.Reset(pInput)
	// the device delivers a fixed buffer, so all of it must fit
	_ = d.producer.OnRead(d.span, frames, frames)
}

// onStop is called by malgo when the device stops, including on Stop
func (d *MalgoDevice) onStop() {
	if d.stopping.Load() {
		return
	}
	_ = d.producer.Fail(errors.New(ErrDeviceStopped).
		Component("capture").
		Category(errors.CategoryAudioSource).
		Context("device_name", d.cfg.Device).
		Build())
}
