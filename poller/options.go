package poller

import (
	"time"

	"github.com/joeycumines/logiface"
)

// driverOptions holds configuration options for Driver creation.
type driverOptions struct {
	logger     *logiface.Logger[logiface.Event]
	now        func() time.Time
	backend    backend
	maxTimeout time.Duration
}

// Option configures a Driver instance.
type Option interface {
	applyDriver(*driverOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyDriverFunc func(*driverOptions) error
}

func (o *optionImpl) applyDriver(opts *driverOptions) error {
	return o.applyDriverFunc(opts)
}

// WithLogger configures structured logging, e.g. of recovered handler
// panics. A nil logger (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *driverOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithClock configures the time source used for timers.
// **Defaults to time.Now.**
func WithClock(now func() time.Time) Option {
	return &optionImpl{func(opts *driverOptions) error {
		if now == nil {
			return ErrInvalidArgument
		}
		opts.now = now
		return nil
	}}
}

// WithMaxPollTimeout bounds how long a single poll may block, when no timer
// is due sooner. **Defaults to 10 seconds.**
func WithMaxPollTimeout(d time.Duration) Option {
	return &optionImpl{func(opts *driverOptions) error {
		if d <= 0 {
			return ErrInvalidArgument
		}
		opts.maxTimeout = d
		return nil
	}}
}

// withBackend replaces the platform backend, for testing.
func withBackend(b backend) Option {
	return &optionImpl{func(opts *driverOptions) error {
		opts.backend = b
		return nil
	}}
}

// resolveDriverOptions applies Option instances to driverOptions.
func resolveDriverOptions(opts []Option) (*driverOptions, error) {
	cfg := &driverOptions{
		now:        time.Now,
		maxTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyDriver(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
