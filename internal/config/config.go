// Package config holds the CLI configuration and turns it into session
// options.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/txbeam/internal/assembly"
	"github.com/1ureka/txbeam/internal/link/rtclink"
	"github.com/1ureka/txbeam/internal/session"
)

// Role represents the user's chosen role (send or receive).
type Role string

const (
	RoleSend    Role = "send"
	RoleReceive Role = "receive"
)

// Config stores every parameter gathered from flags or interactive prompts.
type Config struct {
	Role Role

	File      string // Send: payload file, "-" for stdin
	Signature string // Send: optional signature wrapped around the payload
	Listen    string // Send: signaling address to advertise on
	Name      string // Send: name shown to scanners

	Peers []string // Receive: signaling URLs to scan
	Inbox string   // Receive: JSON-lines file for received transactions
	Redis string   // Receive: Redis address; replaces Inbox when set

	ListPending   bool   // Inbox: print transactions waiting for broadcast
	MarkBroadcast string // Inbox: record ID to mark as broadcast

	MTU      int
	Framing  string
	RSSIMin  int
	RSSIMax  int
	Stall    time.Duration
	Discover time.Duration

	Loopback bool // run both roles in-process
	Debug    bool
}

// Default returns the configuration used when no flag overrides a field.
func Default() Config {
	opts := session.DefaultOptions()
	return Config{
		Listen:   rtclink.DefaultListen,
		Name:     "txbeam",
		Inbox:    "txbeam-inbox.jsonl",
		MTU:      opts.MTU,
		Framing:  opts.Framing.Name(),
		RSSIMin:  opts.Proximity.Min,
		RSSIMax:  opts.Proximity.Max,
		Stall:    opts.StallTimeout,
		Discover: opts.DiscoveryTimeout,
	}
}

// InboxOnly reports whether c manages the inbox instead of running a
// transfer.
func (c Config) InboxOnly() bool {
	return c.ListPending || c.MarkBroadcast != ""
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.InboxOnly() {
		if c.MarkBroadcast != "" {
			if _, err := uuid.Parse(strings.TrimSpace(c.MarkBroadcast)); err != nil {
				return fmt.Errorf("invalid record id %q", c.MarkBroadcast)
			}
		}
		return nil
	}
	if c.Role != RoleSend && c.Role != RoleReceive && !c.Loopback {
		return fmt.Errorf("invalid role %q: must be 'send' or 'receive'", c.Role)
	}
	if (c.Role == RoleSend || c.Loopback) && c.File == "" {
		return errors.New("missing payload file")
	}
	if c.Role == RoleReceive && !c.Loopback && len(c.Peers) == 0 {
		return errors.New("missing peers to scan")
	}
	if c.MTU <= 0 {
		return fmt.Errorf("invalid mtu %d", c.MTU)
	}
	if _, err := assembly.FramingByName(c.Framing); err != nil {
		return err
	}
	if c.RSSIMin != 0 && c.RSSIMax != 0 && c.RSSIMin > c.RSSIMax {
		return fmt.Errorf("rssi-min %d is above rssi-max %d", c.RSSIMin, c.RSSIMax)
	}
	if c.Stall < 0 || c.Discover < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// Ordered reports whether the link must deliver frames in order, which only
// the sentinel framing needs.
func (c Config) Ordered() bool {
	return c.Framing == assembly.Sentinel.Name()
}

// SessionOptions converts c into options for either role.
func (c Config) SessionOptions() (session.Options, error) {
	framing, err := assembly.FramingByName(c.Framing)
	if err != nil {
		return session.Options{}, err
	}
	opts := session.DefaultOptions()
	opts.MTU = c.MTU
	opts.Framing = framing
	opts.Proximity = session.Proximity{Min: c.RSSIMin, Max: c.RSSIMax}
	opts.StallTimeout = c.Stall
	opts.DiscoveryTimeout = c.Discover
	return opts, nil
}

// NormalizePeerURL turns a host, host:port or URL into a signaling URL.
// A missing port defaults to the advertising port.
func NormalizePeerURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("invalid peer address: %s", raw)
	}

	scheme := "ws"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "wss"
	}
	host := u.Host
	if u.Port() == "" {
		host += rtclink.DefaultListen
	}
	return fmt.Sprintf("%s://%s/ws", scheme, host), nil
}

// ParsePeers splits a comma-separated list and normalizes every entry.
func ParsePeers(list string) ([]string, error) {
	var peers []string
	for _, raw := range strings.Split(list, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		peer, err := NormalizePeerURL(raw)
		if err != nil {
			return nil, err
		}
		peers = append(peers, peer)
	}
	return peers, nil
}
