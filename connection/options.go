package connection

import (
	"net"
	"time"

	"github.com/joeycumines/logiface"
)

// registryOptions holds configuration options for Registry creation.
type registryOptions struct {
	logger    *logiface.Logger[logiface.Event]
	poller    Poller
	now       func() time.Time
	resolver  *net.Resolver
	io        fdIO
	chunkSize int
	backlog   int
}

// Option configures a Registry instance.
type Option interface {
	applyRegistry(*registryOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyRegistryFunc func(*registryOptions) error
}

func (o *optionImpl) applyRegistry(opts *registryOptions) error {
	return o.applyRegistryFunc(opts)
}

// WithLogger configures structured logging. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *registryOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPoller configures the readiness driver, which is notified when
// connections are registered, change interest, or are closed.
func WithPoller(poller Poller) Option {
	return &optionImpl{func(opts *registryOptions) error {
		opts.poller = poller
		return nil
	}}
}

// WithClock configures the time source used for activity timestamps.
// **Defaults to time.Now.**
func WithClock(now func() time.Time) Option {
	return &optionImpl{func(opts *registryOptions) error {
		if now == nil {
			return ErrInvalidArgument
		}
		opts.now = now
		return nil
	}}
}

// WithResolver configures the resolver used by OpenTCP and OpenListenerTCP.
// **Defaults to net.DefaultResolver.**
func WithResolver(resolver *net.Resolver) Option {
	return &optionImpl{func(opts *registryOptions) error {
		if resolver == nil {
			return ErrInvalidArgument
		}
		opts.resolver = resolver
		return nil
	}}
}

// WithChunkSize sets the capacity of each queue chunk, which must be
// positive. **Defaults to DefaultChunkSize.**
func WithChunkSize(size int) Option {
	return &optionImpl{func(opts *registryOptions) error {
		if size <= 0 {
			return ErrInvalidArgument
		}
		opts.chunkSize = size
		return nil
	}}
}

// WithListenBacklog sets the backlog passed to listen(2), which must be
// positive. **Defaults to 5.**
func WithListenBacklog(backlog int) Option {
	return &optionImpl{func(opts *registryOptions) error {
		if backlog <= 0 {
			return ErrInvalidArgument
		}
		opts.backlog = backlog
		return nil
	}}
}

// withFDIO replaces descriptor I/O, for testing.
func withFDIO(io fdIO) Option {
	return &optionImpl{func(opts *registryOptions) error {
		opts.io = io
		return nil
	}}
}

// resolveRegistryOptions applies Option instances to registryOptions.
func resolveRegistryOptions(opts []Option) (*registryOptions, error) {
	cfg := &registryOptions{
		now:       time.Now,
		resolver:  net.DefaultResolver,
		chunkSize: DefaultChunkSize,
		backlog:   5,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRegistry(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.io == nil {
		cfg.io = defaultFDIO()
	}
	return cfg, nil
}
