package advertiser

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/user/attendease-beacon/logger"
	"github.com/user/attendease-beacon/wire/advertising"
)

// State of the controller's single advertising slot.
type State int

const (
	Idle State = iota
	Advertising
)

func (s State) String() string {
	if s == Advertising {
		return "Advertising"
	}
	return "Idle"
}

// StopResult is what Stop reports; Stop itself never fails.
type StopResult int

const (
	NoActiveSession StopResult = iota
	Stopped
)

func (r StopResult) String() string {
	if r == Stopped {
		return "stopped"
	}
	return "no active session"
}

// StartAck acknowledges that a broadcast was issued. It does not mean the
// radio is on air yet; watch Confirmations for that.
type StartAck struct {
	Token      string
	Name       string
	Message    string
	Generation uint64
}

// SessionInfo is a copy of the active session.
type SessionInfo struct {
	Token        string
	Name         string
	ServiceUUID  uuid.UUID
	Generation   uint64
	StartedAt    time.Time
	Confirmation *Confirmation // nil until the radio reports
}

type session struct {
	token        string
	name         string
	generation   uint64
	startedAt    time.Time
	confirmation *Confirmation
	broadcast    Broadcast
}

// Option configures a Controller.
type Option func(*Controller)

// WithServiceUUID overrides the advertised service UUID.
func WithServiceUUID(u uuid.UUID) Option {
	return func(c *Controller) { c.serviceUUID = u }
}

// WithDeviceID sets the id shown in log prefixes.
func WithDeviceID(id string) Option {
	return func(c *Controller) { c.deviceID = id }
}

// WithConfirmationBuffer sizes the Confirmations channel.
func WithConfirmationBuffer(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.bufferSize = n
		}
	}
}

// Controller owns the one advertising session a process may have.
type Controller struct {
	radio       Radio
	serviceUUID uuid.UUID
	deviceID    string
	bufferSize  int
	prefix      string

	mu            sync.Mutex
	current       *session
	generation    uint64
	closed        bool
	confirmations chan Confirmation
}

// NewController creates a controller driving radio.
func NewController(radio Radio, opts ...Option) *Controller {
	c := &Controller{
		radio:       radio,
		serviceUUID: ServiceUUID,
		bufferSize:  16,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.prefix = logger.Prefix(c.deviceID, "Advertiser")
	c.confirmations = make(chan Confirmation, c.bufferSize)
	return c
}

// Confirmations delivers the radio's start results for every issued
// broadcast. It is closed by Close. Events are dropped if nobody reads and
// the buffer is full; the session record still reflects them.
func (c *Controller) Confirmations() <-chan Confirmation {
	return c.confirmations
}

// IsSupported reports whether an adapter exists, is powered, and can
// advertise. It never fails: any fault reads as false.
func (c *Controller) IsSupported() (supported bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn(c.prefix, "⚠️  Capability check panicked: %v", r)
			supported = false
		}
	}()

	capability, err := c.radio.Capability()
	if err != nil {
		logger.Debug(c.prefix, "Capability check failed: %v", err)
		return false
	}
	return capability.CanAdvertise()
}

// Start broadcasts token, superseding any active session. It returns once
// the radio has been told to begin; confirmation arrives on Confirmations.
func (c *Controller) Start(token string) (*StartAck, error) {
	if token == "" {
		return nil, newError(InvalidToken, nil, "token must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, newError(PlatformError, nil, "advertiser is closed")
	}

	capability, err := c.capability()
	if err != nil {
		return nil, newError(RadioUnavailable, err, "Bluetooth adapter unavailable")
	}
	if !capability.AdapterPresent || !capability.Powered {
		return nil, newError(RadioUnavailable, nil, "Bluetooth is not enabled")
	}
	if !capability.PeripheralSupported {
		return nil, newError(AdvertisingUnsupported, nil, "BLE advertising not supported on this device")
	}

	payload := BuildPayload(c.serviceUUID, token)
	if err := payload.Encode(capability.MaxAdvertisingDataLen, ""); err != nil {
		if errors.Cause(err) == advertising.ErrDataTooLarge {
			return nil, newError(PayloadTooLarge, err, "token of %d bytes does not fit the advertisement: %v", len(token), err)
		}
		return nil, newError(PlatformError, err, "Failed to build advertisement: %v", err)
	}

	if c.current != nil {
		logger.Info(c.prefix, "🔁 Superseding broadcast for token %s", c.current.token)
		c.endLocked()
	}

	c.generation++
	gen := c.generation
	logger.DebugJSON(c.prefix, "📡 Advertisement", payload.Describe())

	broadcast, err := c.begin(payload, func(status Status, detail string) {
		conf := Confirmation{
			Generation: gen,
			Token:      token,
			Status:     status,
			Detail:     detail,
			At:         time.Now(),
		}
		// Radios may notify from inside Begin; never take the lock on their goroutine.
		go c.confirm(conf)
	})
	if err != nil {
		logger.Error(c.prefix, "❌ Error starting BLE advertising: %v", err)
		return nil, newError(PlatformError, err, "Failed to start advertising: %v", err)
	}

	c.current = &session{
		token:      token,
		name:       payload.Name,
		generation: gen,
		startedAt:  time.Now(),
		broadcast:  broadcast,
	}

	logger.Info(c.prefix, "📡 Started BLE advertising with token: %s", token)
	return &StartAck{
		Token:      token,
		Name:       payload.Name,
		Message:    "Advertising started: " + payload.Name,
		Generation: gen,
	}, nil
}

// Stop ends the active broadcast, if any. Radio failures are logged and
// swallowed.
func (c *Controller) Stop() StopResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return NoActiveSession
	}
	c.endLocked()
	logger.Info(c.prefix, "📡 BLE advertising stopped")
	return Stopped
}

// State reports Idle or Advertising.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Idle
	}
	return Advertising
}

// Session returns a copy of the active session.
func (c *Controller) Session() (SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return SessionInfo{}, false
	}
	info := SessionInfo{
		Token:       c.current.token,
		Name:        c.current.name,
		ServiceUUID: c.serviceUUID,
		Generation:  c.current.generation,
		StartedAt:   c.current.startedAt,
	}
	if c.current.confirmation != nil {
		conf := *c.current.confirmation
		info.Confirmation = &conf
	}
	return info, true
}

// Close stops any broadcast and closes the Confirmations channel.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.current != nil {
		c.endLocked()
	}
	c.closed = true
	close(c.confirmations)
}

func (c *Controller) capability() (capability Capability, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("capability query panicked: %v", r)
		}
	}()
	return c.radio.Capability()
}

func (c *Controller) begin(p *Payload, notify StartNotifier) (b Broadcast, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, errors.Errorf("radio panicked: %v", r)
		}
	}()
	b, err = c.radio.Begin(p, notify)
	if err == nil && b == nil {
		err = errors.New("radio returned no broadcast handle")
	}
	return b, err
}

// endLocked ends the current broadcast and clears the session. c.mu must be held.
func (c *Controller) endLocked() {
	s := c.current
	c.current = nil
	if s.broadcast == nil {
		return
	}
	if err := safeEnd(s.broadcast); err != nil {
		logger.Warn(c.prefix, "⚠️  Error stopping BLE advertising for token %s: %v", s.token, err)
	}
}

func safeEnd(b Broadcast) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("radio panicked: %v", r)
		}
	}()
	return b.End()
}

// confirm applies a radio start result under the controller lock.
func (c *Controller) confirm(conf Confirmation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if c.current == nil || c.current.generation != conf.Generation {
		logger.Debug(c.prefix, "Ignoring start result for superseded broadcast %d (%s)", conf.Generation, conf.Status)
	} else if conf.Status == StatusReleased {
		logger.Warn(c.prefix, "⚠️  Radio dropped broadcast for token %s: %s", conf.Token, conf.Detail)
		c.endLocked()
	} else if conf.OK() {
		logger.Info(c.prefix, "✅ BLE Advertising started successfully for token: %s", conf.Token)
		c.current.confirmation = &conf
	} else {
		logger.Error(c.prefix, "❌ BLE Advertising failed with error code: %d (%s) %s", int(conf.Status), conf.Status, conf.Detail)
		c.endLocked()
	}

	select {
	case c.confirmations <- conf:
	default:
		logger.Warn(c.prefix, "⚠️  Confirmation for broadcast %d dropped, nobody is listening", conf.Generation)
	}
}
