package config

import (
	"slices"
	"testing"
	"time"

	"github.com/1ureka/txbeam/internal/assembly"
)

func TestNormalizePeerURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"10.0.0.5", "ws://10.0.0.5:7345/ws", true},
		{"10.0.0.5:9000", "ws://10.0.0.5:9000/ws", true},
		{" ws://phone.local:9000/ws ", "ws://phone.local:9000/ws", true},
		{"wss://example.devtunnels.ms", "wss://example.devtunnels.ms:7345/ws", true},
		{"https://example.com:443/anything", "wss://example.com:443/ws", true},
		{"", "", false},
		{"ws://", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizePeerURL(tt.raw)
		if (err == nil) != tt.ok {
			t.Errorf("NormalizePeerURL(%q) error = %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizePeerURL(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestParsePeers(t *testing.T) {
	got, err := ParsePeers("10.0.0.5, ,10.0.0.6:8000")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"ws://10.0.0.5:7345/ws", "ws://10.0.0.6:8000/ws"}
	if !slices.Equal(got, want) {
		t.Errorf("ParsePeers = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Role = RoleSend
	valid.File = "tx.bin"

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid send", func(*Config) {}, true},
		{"no role", func(c *Config) { c.Role = "" }, false},
		{"loopback without role", func(c *Config) { c.Role = ""; c.Loopback = true }, true},
		{"send without file", func(c *Config) { c.File = "" }, false},
		{"receive without peers", func(c *Config) { c.Role = RoleReceive }, false},
		{"receive with peers", func(c *Config) { c.Role = RoleReceive; c.Peers = []string{"ws://a:1/ws"} }, true},
		{"zero mtu", func(c *Config) { c.MTU = 0 }, false},
		{"unknown framing", func(c *Config) { c.Framing = "morse" }, false},
		{"inverted rssi", func(c *Config) { c.RSSIMin = -10; c.RSSIMax = -80 }, false},
		{"negative stall", func(c *Config) { c.Stall = -time.Second }, false},
		{"pending listing without role", func(c *Config) { c.Role = ""; c.File = ""; c.ListPending = true }, true},
		{"mark broadcast without role", func(c *Config) { c.Role = ""; c.MarkBroadcast = "6f1c2a3e-8d4b-4c5a-9e7f-0a1b2c3d4e5f" }, true},
		{"mark broadcast bad id", func(c *Config) { c.Role = ""; c.MarkBroadcast = "42" }, false},
	}
	for _, tt := range tests {
		c := valid
		tt.mutate(&c)
		if err := c.Validate(); (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v", tt.name, err)
		}
	}
}

func TestSessionOptions(t *testing.T) {
	c := Default()
	c.Framing = "sentinel"
	c.MTU = 150
	c.RSSIMin, c.RSSIMax = -70, -20
	c.Stall = 3 * time.Second

	opts, err := c.SessionOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Framing != assembly.Sentinel || opts.MTU != 150 || opts.StallTimeout != 3*time.Second {
		t.Errorf("options = %+v", opts)
	}
	if opts.Proximity.Min != -70 || opts.Proximity.Max != -20 {
		t.Errorf("proximity = %+v", opts.Proximity)
	}
	if !c.Ordered() {
		t.Error("sentinel framing must use an ordered link")
	}
}
