// Package config loads the daemon configuration, from YAML.
//
// Example:
//
//	log_level: info
//	uplink:
//	  host: irc.example.net
//	  vhost: 192.0.2.10
//	  port: 6667
//	  sendq_limit: 1048576
//	  reconnect: 10s
//	listeners:
//	  - name: control
//	    host: 127.0.0.1
//	    port: 8145
//	    sendq_limit: 65536
//	    idle_timeout: 5m
//	    max_line: 512
//	    accept_rates:
//	      - {window: 1s, max: 3}
//	      - {window: 1m, max: 20}
package config

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel      = "info"
	DefaultMaxLine       = 512
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultReconnect     = 10 * time.Second
)

type (
	// Config is the root of the configuration file.
	Config struct {
		// LogLevel is one of the logiface level names, e.g. "debug".
		// **Defaults to DefaultLogLevel.**
		LogLevel string `yaml:"log_level"`
		// ChunkSize is the capacity of each queue chunk, 0 for the default.
		ChunkSize int `yaml:"chunk_size"`
		// ListenBacklog is passed to listen(2), 0 for the default.
		ListenBacklog int `yaml:"listen_backlog"`
		// Uplink is optional.
		Uplink    *Uplink    `yaml:"uplink"`
		Listeners []Listener `yaml:"listeners"`
	}

	// Uplink configures the outbound connection to the IRC network.
	Uplink struct {
		Host string `yaml:"host"`
		// VHost is the optional local address to bind.
		VHost      string `yaml:"vhost"`
		Port       int    `yaml:"port"`
		SendQLimit int    `yaml:"sendq_limit"`
		// Reconnect is the delay before retrying, after the uplink closes or
		// fails to connect. **Defaults to DefaultReconnect.**
		Reconnect time.Duration `yaml:"reconnect"`
	}

	// Listener configures a listening socket, and the class of the
	// connections it accepts.
	Listener struct {
		Name       string `yaml:"name"`
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		SendQLimit int    `yaml:"sendq_limit"`
		// IdleTimeout is the inactivity period after which accepted
		// connections are closed, an explicit 0 disables the sweep.
		// **Defaults to DefaultIdleTimeout.** See also Listener.Idle.
		IdleTimeout *time.Duration `yaml:"idle_timeout"`
		// SweepInterval is how often idle connections are checked for.
		// **Defaults to DefaultSweepInterval.**
		SweepInterval time.Duration `yaml:"sweep_interval"`
		// MaxLine is the longest accepted line, including the newline.
		// **Defaults to DefaultMaxLine.**
		MaxLine int `yaml:"max_line"`
		// AcceptRates limit the rate of connections accepted per peer
		// address, see catrate.NewLimiter for the constraints.
		AcceptRates []Rate `yaml:"accept_rates"`
	}

	// Rate allows Max events per Window.
	Rate struct {
		Window time.Duration `yaml:"window"`
		Max    int           `yaml:"max"`
	}
)

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, rejecting unknown fields, then applies defaults and
// validates the result.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (x *Config) setDefaults() {
	if x.LogLevel == "" {
		x.LogLevel = DefaultLogLevel
	}
	if x.Uplink != nil && x.Uplink.Reconnect == 0 {
		x.Uplink.Reconnect = DefaultReconnect
	}
	for i := range x.Listeners {
		l := &x.Listeners[i]
		if l.Name == "" {
			l.Name = fmt.Sprintf("listener%d", i)
		}
		if l.IdleTimeout == nil {
			v := DefaultIdleTimeout
			l.IdleTimeout = &v
		}
		if l.SweepInterval == 0 {
			l.SweepInterval = DefaultSweepInterval
		}
		if l.MaxLine == 0 {
			l.MaxLine = DefaultMaxLine
		}
	}
}

// Validate returns an error describing the first invalid field.
func (x *Config) Validate() error {
	if _, err := ParseLevel(x.LogLevel); err != nil {
		return err
	}
	if x.ChunkSize < 0 {
		return fmt.Errorf("config: invalid chunk_size: %d", x.ChunkSize)
	}
	if x.ListenBacklog < 0 {
		return fmt.Errorf("config: invalid listen_backlog: %d", x.ListenBacklog)
	}
	if u := x.Uplink; u != nil {
		if u.Host == "" {
			return errors.New("config: uplink: missing host")
		}
		if u.Port < 1 || u.Port > 65535 {
			return fmt.Errorf("config: uplink: invalid port: %d", u.Port)
		}
		if u.SendQLimit < 0 {
			return fmt.Errorf("config: uplink: invalid sendq_limit: %d", u.SendQLimit)
		}
		if u.Reconnect < 0 {
			return fmt.Errorf("config: uplink: invalid reconnect: %s", u.Reconnect)
		}
	}
	names := make(map[string]struct{}, len(x.Listeners))
	for i := range x.Listeners {
		l := &x.Listeners[i]
		if err := l.validate(); err != nil {
			return fmt.Errorf("config: listener %q: %w", l.Name, err)
		}
		if _, ok := names[l.Name]; ok {
			return fmt.Errorf("config: duplicate listener name: %q", l.Name)
		}
		names[l.Name] = struct{}{}
	}
	return nil
}

// Idle returns the effective IdleTimeout, where 0 means idle connections
// are never closed.
func (x *Listener) Idle() time.Duration {
	if x.IdleTimeout == nil {
		return DefaultIdleTimeout
	}
	return *x.IdleTimeout
}

func (x *Listener) validate() error {
	switch {
	case x.Host == "":
		return errors.New("missing host")
	case x.Port < 0 || x.Port > 65535:
		return fmt.Errorf("invalid port: %d", x.Port)
	case x.SendQLimit < 0:
		return fmt.Errorf("invalid sendq_limit: %d", x.SendQLimit)
	case x.IdleTimeout != nil && *x.IdleTimeout < 0:
		return fmt.Errorf("invalid idle_timeout: %s", *x.IdleTimeout)
	case x.SweepInterval <= 0:
		return fmt.Errorf("invalid sweep_interval: %s", x.SweepInterval)
	case x.MaxLine < 2:
		return fmt.Errorf("invalid max_line: %d", x.MaxLine)
	}
	return validateRates(x.AcceptRates)
}

// validateRates applies the same constraints as catrate.NewLimiter, which
// panics on invalid input: every rate must be positive, counts must
// increase with the window, and the effective rate must decrease.
func validateRates(rates []Rate) error {
	if len(rates) == 0 {
		return nil
	}
	sorted := slices.Clone(rates)
	slices.SortFunc(sorted, func(a, b Rate) int { return cmp.Compare(a.Window, b.Window) })
	for i, r := range sorted {
		if r.Window <= 0 || r.Max <= 0 {
			return fmt.Errorf("invalid accept rate: %d per %s", r.Max, r.Window)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.Window == r.Window {
			return fmt.Errorf("duplicate accept rate window: %s", r.Window)
		}
		if prev.Max >= r.Max ||
			float64(r.Max)/float64(r.Window) >= float64(prev.Max)/float64(prev.Window) {
			return fmt.Errorf("irrelevant accept rate: %d per %s", r.Max, r.Window)
		}
	}
	return nil
}

// RateMap returns the accept rates in the form used by catrate, or nil.
func (x *Listener) RateMap() map[time.Duration]int {
	if len(x.AcceptRates) == 0 {
		return nil
	}
	m := make(map[time.Duration]int, len(x.AcceptRates))
	for _, r := range x.AcceptRates {
		m[r.Window] = r.Max
	}
	return m
}

// AcceptLimiter returns a limiter for the accept rates, or nil if there
// are none. The listener must be valid.
func (x *Listener) AcceptLimiter() *catrate.Limiter {
	if m := x.RateMap(); m != nil {
		return catrate.NewLimiter(m)
	}
	return nil
}

// ParseLevel converts a level name, e.g. "debug" or "err", to a
// logiface.Level. Common aliases such as "error" and "warn" are accepted.
func ParseLevel(s string) (logiface.Level, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "error":
		return logiface.LevelError, nil
	case "warn":
		return logiface.LevelWarning, nil
	case "information", "informational":
		return logiface.LevelInformational, nil
	default:
		for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
			if level.String() == v {
				return level, nil
			}
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("config: invalid log level: %q", s)
}
