// Package memlink is an in-process radio. Peripherals and centrals created
// from the same Air discover each other, and frames travel through a bounded
// queue that reports BufferFull and later fires the ready callback, the way a
// notify characteristic behaves on real hardware.
package memlink

import (
	"sync"

	"github.com/google/uuid"

	"github.com/1ureka/txbeam/internal/link"
)

// DefaultCapacity is the number of frames a peripheral keeps in flight before
// Notify reports BufferFull.
const DefaultCapacity = 8

// Air connects every peripheral and central created from it.
type Air struct {
	mu          sync.Mutex
	peripherals map[string]*Peripheral
	scanners    map[*Central]scanner
}

type scanner struct {
	serviceID uuid.UUID
	fn        func(link.Advertisement)
}

// NewAir creates an empty radio environment.
func NewAir() *Air {
	return &Air{
		peripherals: make(map[string]*Peripheral),
		scanners:    make(map[*Central]scanner),
	}
}

// announce tells every scanner interested in svc about p. Callbacks run on
// their own goroutines.
func (a *Air) announce(p *Peripheral, svc link.Service) {
	a.mu.Lock()
	defer a.mu.Unlock()

	adv := p.advertisement()
	for _, s := range a.scanners {
		if s.serviceID == svc.ID {
			go s.fn(adv)
		}
	}
}

// addScanner registers c and replays every current advertiser of serviceID.
func (a *Air) addScanner(c *Central, s scanner) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.scanners[c] = s
	for _, p := range a.peripherals {
		if svc, ok := p.advertised(); ok && svc.ID == s.serviceID {
			go s.fn(p.advertisement())
		}
	}
}

func (a *Air) removeScanner(c *Central) {
	a.mu.Lock()
	delete(a.scanners, c)
	a.mu.Unlock()
}

func (a *Air) lookup(name string) (*Peripheral, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.peripherals[name]
	return p, ok
}
