// Package config holds the tunables of lanlink endpoints, their validation and
// the injectable network dependencies.
package config

import (
	"fmt"
	"net"
	"time"

	"dominicbreuker/lanlink/pkg/log"
)

// Protocol selects the transport that carries the reliable channel.
type Protocol int

const (
	ProtoTCP Protocol = iota + 1
	ProtoWS
	ProtoKCP
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoWS:
		return "ws"
	case ProtoKCP:
		return "kcp"
	default:
		return ""
	}
}

// Defaults of the original protocol.
const (
	DefaultServerWriteBufferSize = 16384
	DefaultClientWriteBufferSize = 8192
	DefaultObjectBufferSize      = 2048
	DefaultTimeout               = 12 * time.Second
	DefaultKeepAliveTCP          = 8 * time.Second
	DefaultKeepAliveUDP          = 19 * time.Second
	DefaultIdleThreshold         = 0.1
	DefaultConnectDialTimeout    = 5 * time.Second
	DefaultMulticastPort         = 21010
	DefaultDiscoveryBufferSize   = 512
)

// Config configures one endpoint.
type Config struct {
	Protocol Protocol

	// WriteBufferSize bounds the bytes a reliable channel may have queued.
	WriteBufferSize int
	// ObjectBufferSize bounds one encoded object, and with it the frame
	// size a peer may send. It is also the datagram buffer size.
	ObjectBufferSize int

	Timeout      time.Duration
	KeepAliveTCP time.Duration
	KeepAliveUDP time.Duration

	// IdleThreshold is the fraction of WriteBufferSize below which a
	// connection reports itself idle.
	IdleThreshold float64

	ConnectDialTimeout time.Duration

	// MaxConnections bounds live and pending server connections. Zero means
	// unlimited.
	MaxConnections int

	// TrafficLog, if set, is a file that receives a hex dump of all reliable
	// channel traffic.
	TrafficLog string

	Discovery Discovery

	Verbose bool
	Logger  *log.Logger
	Deps    *Dependencies
}

// Discovery configures LAN discovery.
type Discovery struct {
	// MulticastGroup is the IPv4 group the server listens on and clients
	// probe. Empty disables multicast.
	MulticastGroup string
	MulticastPort  int
	BufferSize     int
}

// Default returns a server configuration with the protocol defaults.
func Default() *Config {
	return &Config{
		Protocol:           ProtoTCP,
		WriteBufferSize:    DefaultServerWriteBufferSize,
		ObjectBufferSize:   DefaultObjectBufferSize,
		Timeout:            DefaultTimeout,
		KeepAliveTCP:       DefaultKeepAliveTCP,
		KeepAliveUDP:       DefaultKeepAliveUDP,
		IdleThreshold:      DefaultIdleThreshold,
		ConnectDialTimeout: DefaultConnectDialTimeout,
		Discovery: Discovery{
			MulticastPort: DefaultMulticastPort,
			BufferSize:    DefaultDiscoveryBufferSize,
		},
	}
}

// DefaultClient returns a client configuration with the protocol defaults.
func DefaultClient() *Config {
	cfg := Default()
	cfg.WriteBufferSize = DefaultClientWriteBufferSize
	return cfg
}

// Validate checks the endpoint configuration.
func (c *Config) Validate() []error {
	var errors []error

	if c.Protocol.String() == "" {
		errors = append(errors, fmt.Errorf("unknown protocol %d", c.Protocol))
	}

	if c.ObjectBufferSize < 1 {
		errors = append(errors, fmt.Errorf("object buffer size must be positive, got %d", c.ObjectBufferSize))
	}

	if c.WriteBufferSize < c.ObjectBufferSize {
		errors = append(errors, fmt.Errorf("write buffer size %d is smaller than object buffer size %d", c.WriteBufferSize, c.ObjectBufferSize))
	}

	if c.Timeout < 0 || c.KeepAliveTCP < 0 || c.KeepAliveUDP < 0 {
		errors = append(errors, fmt.Errorf("timeouts and keep-alive intervals must not be negative"))
	}

	if c.IdleThreshold < 0 || c.IdleThreshold > 1 {
		errors = append(errors, fmt.Errorf("idle threshold %v not in [0, 1]", c.IdleThreshold))
	}

	if c.MaxConnections < 0 {
		errors = append(errors, fmt.Errorf("max connections must not be negative, got %d", c.MaxConnections))
	}

	return errors
}

// Validate checks the discovery configuration.
func (d *Discovery) Validate() []error {
	var errors []error

	if d.MulticastGroup != "" {
		ip := net.ParseIP(d.MulticastGroup)
		if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
			errors = append(errors, fmt.Errorf("'%s' is not an IPv4 multicast group", d.MulticastGroup))
		}
		if err := validatePort(d.MulticastPort); err != nil {
			errors = append(errors, fmt.Errorf("multicast port: %s", err))
		}
	}

	if d.BufferSize < 1 {
		errors = append(errors, fmt.Errorf("discovery buffer size must be positive, got %d", d.BufferSize))
	}

	return errors
}
