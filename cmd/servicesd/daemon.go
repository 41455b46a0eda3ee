package main

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-servicesd/config"
	"github.com/joeycumines/go-servicesd/connection"
	"github.com/joeycumines/go-servicesd/poller"
	"github.com/joeycumines/logiface"
)

type (
	daemon struct {
		logger    *logiface.Logger[logiface.Event]
		cfg       *config.Config
		reg       *connection.Registry
		driver    *poller.Driver
		uplinkSvc *lineService
		listeners []*connection.Connection
		uplink    *connection.Connection
		// statsRequested is set from the signal goroutine
		statsRequested atomic.Bool
	}

	// listenerClass is the Userdata of listeners and of their children.
	listenerClass struct {
		cfg     config.Listener
		service *lineService
	}
)

func newDaemon(cfg *config.Config, logger *logiface.Logger[logiface.Event]) (*daemon, error) {
	driver, err := poller.New(poller.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	opts := []connection.Option{
		connection.WithLogger(logger),
		connection.WithPoller(driver),
	}
	if cfg.ChunkSize > 0 {
		opts = append(opts, connection.WithChunkSize(cfg.ChunkSize))
	}
	if cfg.ListenBacklog > 0 {
		opts = append(opts, connection.WithListenBacklog(cfg.ListenBacklog))
	}
	reg, err := connection.NewRegistry(opts...)
	if err != nil {
		_ = driver.Close()
		return nil, err
	}

	return &daemon{
		logger: logger,
		cfg:    cfg,
		reg:    reg,
		driver: driver,
		uplinkSvc: &lineService{
			logger:  logger,
			maxLine: config.DefaultMaxLine,
		},
	}, nil
}

// start opens every listener, and begins connecting to the uplink. Failing
// to open a listener is fatal, the uplink is retried.
func (d *daemon) start(ctx context.Context) error {
	for i := range d.cfg.Listeners {
		if err := d.listen(ctx, &d.cfg.Listeners[i]); err != nil {
			d.reg.CloseAll()
			return err
		}
	}
	if d.cfg.Uplink != nil {
		d.connectUplink(ctx)
	}
	return nil
}

func (d *daemon) listen(ctx context.Context, cfg *config.Listener) error {
	l, err := d.reg.OpenListenerTCP(ctx, cfg.Host, cfg.Port, d.accept)
	if err != nil {
		return err
	}

	l.Userdata = &listenerClass{
		cfg: *cfg,
		service: &lineService{
			logger:  d.logger,
			maxLine: cfg.MaxLine,
			strict:  true,
		},
	}
	l.SetAcceptLimiter(cfg.AcceptLimiter())
	d.listeners = append(d.listeners, l)

	if idle := cfg.Idle(); idle > 0 {
		d.driver.Every(cfg.SweepInterval, func() {
			if l.Closed() {
				return
			}
			if n := d.reg.SweepIdle(l, idle); n != 0 {
				d.logger.Info().
					Str("listener", cfg.Name).
					Int("closed", n).
					Log("servicesd: closed idle connections")
			}
		})
	}

	d.logger.Notice().
		Str("listener", cfg.Name).
		Str("addr", l.Name()).
		Log("servicesd: listening")

	return nil
}

// accept is the read handler of every listener.
func (d *daemon) accept(l *connection.Connection) {
	class := l.Userdata.(*listenerClass)

	// failures are logged by the registry, where relevant
	c, err := d.reg.AcceptTCP(l, (*connection.Connection).Pump, nil)
	if err != nil {
		return
	}

	c.Userdata = class
	c.SetSendQLimit(class.cfg.SendQLimit)
	c.SetRecvQHandler(class.service.handle)

	d.logger.Debug().
		Int("fd", c.FD()).
		Str("name", c.Name()).
		Str("listener", class.cfg.Name).
		Log("servicesd: accepted connection")
}

func (d *daemon) connectUplink(ctx context.Context) {
	u := d.cfg.Uplink

	c, err := d.reg.OpenTCP(ctx, u.Host, u.VHost, u.Port, nil, d.uplinkConnected)
	if err != nil {
		d.retryUplink(ctx)
		return
	}

	c.SetUplink(true)
	c.SetSendQLimit(u.SendQLimit)
	c.SetCloseHandler(func(c *connection.Connection) {
		if d.uplink == c {
			d.uplink = nil
		}
		d.logger.Warning().
			Str("name", c.Name()).
			Log("servicesd: uplink closed")
		d.retryUplink(ctx)
	})
	d.uplink = c
}

func (d *daemon) retryUplink(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	d.driver.After(d.cfg.Uplink.Reconnect, func() {
		if ctx.Err() == nil && d.uplink == nil {
			d.connectUplink(ctx)
		}
	})
}

// uplinkConnected is the write handler of the uplink, while connecting.
func (d *daemon) uplinkConnected(c *connection.Connection) {
	if err := c.FinishConnect(); err != nil {
		// SO_ERROR is consumed, so Close has nothing left to log
		d.logger.Err().
			Str("name", c.Name()).
			Str("host", d.cfg.Uplink.Host).
			Err(err).
			Log("servicesd: uplink connect failed")
		return
	}

	d.logger.Notice().
		Str("name", c.Name()).
		Log("servicesd: uplink connected")

	c.SetRecvQHandler(d.uplinkSvc.handle)
	c.SetReadHandler((*connection.Connection).Pump)
	if !c.IsPending() {
		c.SetWriteHandler(nil)
	} else {
		c.SetWriteHandler((*connection.Connection).Flush)
	}
}

// Reap implements poller.Reaper, and also services stats requests, since
// it is called on the driver's goroutine after every pass.
func (d *daemon) Reap() int {
	if d.statsRequested.Swap(false) {
		d.reg.Stats(func(line string) {
			d.logger.Info().
				Str("line", line).
				Log("servicesd: stats")
		})
	}
	return d.reg.Reap()
}

// requestStats may be called from any goroutine.
func (d *daemon) requestStats() {
	d.statsRequested.Store(true)
	_ = d.driver.Wake()
}

// handleStatsSignals requests stats for each value received from sig, on a
// new goroutine. The returned stop function ends that goroutine, and waits
// for it to exit, so the driver may be closed afterward.
func (d *daemon) handleStatsSignals(sig <-chan os.Signal) (stop func()) {
	var (
		done = make(chan struct{})
		exit = make(chan struct{})
		once sync.Once
	)
	go func() {
		defer close(exit)
		for {
			select {
			case <-done:
				return
			case <-sig:
				d.requestStats()
			}
		}
	}()
	return func() {
		once.Do(func() { close(done) })
		<-exit
	}
}

// run drives the daemon until ctx is canceled, then shuts down.
func (d *daemon) run(ctx context.Context) error {
	err := d.driver.Run(ctx, d)
	d.shutdown()
	return err
}

func (d *daemon) shutdown() {
	for _, l := range d.listeners {
		d.reg.CloseSoonChildren(l)
	}
	d.reg.Reap()
	d.reg.CloseAll()
	d.listeners = nil
}

func (d *daemon) close() error {
	return d.driver.Close()
}
