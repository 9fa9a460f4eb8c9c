package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/txbeam/internal/assembly"
	"github.com/1ureka/txbeam/internal/link"
)

// Defaults shared by both roles.
const (
	DefaultMTU              = 182 // safe notify payload on common BLE stacks
	DefaultStallTimeout     = 15 * time.Second
	DefaultDiscoveryTimeout = 60 * time.Second
)

// DefaultService is the service/channel pair advertised by Senders.
var DefaultService = link.Service{
	ID:      uuid.MustParse("A9279075-846D-44D6-9F7C-D3F2D4090123"),
	Channel: uuid.MustParse("2A36384C-1521-4603-9092-23E4D6435052"),
}

// DefaultProximity accepts peers between -90 dBm and -15 dBm; anything
// stronger is treated as implausibly close.
var DefaultProximity = Proximity{Min: -90, Max: -15}

// Options configures a session. Zero fields other than Proximity,
// StallTimeout and DiscoveryTimeout take their defaults.
type Options struct {
	Service   link.Service
	MTU       int
	Framing   assembly.Framing
	Proximity Proximity

	StallTimeout     time.Duration // 0 disables the stall watchdog
	DiscoveryTimeout time.Duration // 0 scans until stopped

	// OnUpdate receives every state and progress change, in order, from the
	// session's own goroutine. It must not block for long.
	OnUpdate func(Update)
}

// DefaultOptions returns the options used by the CLI when nothing is overridden.
func DefaultOptions() Options {
	return Options{
		Service:          DefaultService,
		MTU:              DefaultMTU,
		Framing:          assembly.Sequenced,
		Proximity:        DefaultProximity,
		StallTimeout:     DefaultStallTimeout,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.Service == (link.Service{}) {
		o.Service = DefaultService
	}
	if o.MTU == 0 {
		o.MTU = DefaultMTU
	}
	if o.Framing == nil {
		o.Framing = assembly.Sequenced
	}
	return o
}

// Proximity admits peers whose signal strength lies in [Min, Max] dBm.
// A zero bound is not checked.
type Proximity struct {
	Min int // weakest accepted reading, e.g. -90
	Max int // strongest accepted reading, e.g. -15
}

// Admit reports whether a reading of rssi dBm passes the gate.
func (p Proximity) Admit(rssi int) bool {
	if p.Min != 0 && rssi < p.Min {
		return false
	}
	if p.Max != 0 && rssi > p.Max {
		return false
	}
	return true
}

func (p Proximity) String() string {
	return fmt.Sprintf("[%d, %d] dBm", p.Min, p.Max)
}
