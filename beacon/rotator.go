package beacon

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/user/attendease-beacon/advertiser"
	"github.com/user/attendease-beacon/logger"
)

// DefaultInterval is how long each token stays on air.
const DefaultInterval = 10 * time.Second

// Broadcaster is the part of advertiser.Controller the rotator drives.
type Broadcaster interface {
	Start(token string) (*advertiser.StartAck, error)
	Stop() advertiser.StopResult
}

// Rotator keeps a session's beacon on air, replacing the token every interval.
type Rotator struct {
	broadcaster Broadcaster
	sessionID   string
	interval    time.Duration
	onToken     func(TokenInfo)
	generate    func(sessionID string) (TokenInfo, error)
	prefix      string
}

// RotatorOption configures a Rotator.
type RotatorOption func(*Rotator)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) RotatorOption {
	return func(r *Rotator) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithOnToken registers a callback run after each token goes on air, e.g.
// to sync the token with the attendance server.
func WithOnToken(fn func(TokenInfo)) RotatorOption {
	return func(r *Rotator) { r.onToken = fn }
}

// WithGenerator replaces GenerateToken.
func WithGenerator(fn func(sessionID string) (TokenInfo, error)) RotatorOption {
	return func(r *Rotator) { r.generate = fn }
}

// NewRotator creates a rotator for sessionID.
func NewRotator(b Broadcaster, sessionID string, opts ...RotatorOption) *Rotator {
	r := &Rotator{
		broadcaster: b,
		sessionID:   sessionID,
		interval:    DefaultInterval,
		generate:    GenerateToken,
		prefix:      logger.Prefix(sessionID, "Beacon"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run broadcasts until ctx is done, then stops the broadcaster. A failure
// of the first token is returned; later failures are logged and retried on
// the next tick.
func (r *Rotator) Run(ctx context.Context) error {
	if r.sessionID == "" {
		return errors.New("beacon: session id must not be empty")
	}

	logger.Info(r.prefix, "🔵 Starting BLE beacon for session %s (rotating every %s)", r.sessionID, r.interval)
	if err := r.rotate(); err != nil {
		return errors.Wrap(err, "beacon: first token")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			result := r.broadcaster.Stop()
			logger.Info(r.prefix, "🛑 BLE beacon stopped (%s)", result)
			return nil
		case <-ticker.C:
			if err := r.rotate(); err != nil {
				logger.Warn(r.prefix, "⚠️  Token rotation failed: %v", err)
			}
		}
	}
}

func (r *Rotator) rotate() error {
	info, err := r.generate(r.sessionID)
	if err != nil {
		return err
	}
	if _, err := r.broadcaster.Start(info.Token); err != nil {
		return err
	}
	logger.Debug(r.prefix, "🔄 New token on air: %s", info.Token)
	if r.onToken != nil {
		r.onToken(info)
	}
	return nil
}
