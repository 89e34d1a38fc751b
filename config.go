package greeting

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Environment variable names
const (
	paramPort = "PORT"
)

// Defaults
const (
	defaultPort         = 5000
	defaultHealthAddr   = ":9080"
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 120 * time.Second
	maxPort             = 65535
)

// ErrInvalidPort is returned when PORT is set but does not hold a usable port number.
var ErrInvalidPort = errors.New("invalid port")

// Config is a representation of the Server settings. It is resolved once at
// startup and passed by value, so a running Server never observes changes.
type Config struct {
	Host         string        `json:"host,omitempty"`
	Port         int           `json:"port"`
	HealthAddr   string        `json:"health-addr,omitempty"`
	ReadTimeout  time.Duration `json:"read-timeout,omitempty"`
	WriteTimeout time.Duration `json:"write-timeout,omitempty"`
	IdleTimeout  time.Duration `json:"idle-timeout,omitempty"`
}

// DefaultConfig returns the settings used when nothing is overridden.
// An empty Host binds all interfaces.
func DefaultConfig() Config {
	return Config{
		Port:         defaultPort,
		HealthAddr:   defaultHealthAddr,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LookupFunc reports the value of an environment variable and whether it is set.
type LookupFunc func(key string) (string, bool)

// LoadConfig resolves the configuration from the process environment.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(os.LookupEnv)
}

// LoadConfigFrom resolves the configuration with a custom lookup. PORT, when
// set, must be a base-10 integer in the range 0-65535; otherwise the default
// port 5000 applies.
func LoadConfigFrom(lookup LookupFunc) (Config, error) {
	config := DefaultConfig()

	raw, ok := lookup(paramPort)
	if !ok {
		return config, nil
	}
	port, err := parsePort(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s=%q: %w", paramPort, raw, err)
	}
	config.Port = port
	logger.Info("Server port set from environment variable", "variable", paramPort, "port", port)
	return config, nil
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrInvalidPort
	}
	if port < 0 || port > maxPort {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidPort)
	}
	return port, nil
}
