// Package seat generates the tiered audience seating layout for a room
// and tracks which seats are held by which connections.
package seat

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var ErrNoSeatsAvailable = errors.New("no seats available")

// Seat is one point in a room's fixed layout. The key is derived from
// the tier and rounded coordinates so that regenerating the layout for
// the same parameters yields identical keys.
type Seat struct {
	Key   string  `json:"key"`
	Tier  int     `json:"tier"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Angle float64 `json:"angle"`
}

type Point struct {
	X float64
	Z float64
}

// Layout describes the concentric seating tiers of a courtroom.
type Layout struct {
	Tiers      int
	PerTier    int
	BaseRadius float64
	TierGap    float64
}

func DefaultLayout() Layout {
	return Layout{Tiers: 5, PerTier: 24, BaseRadius: 12, TierGap: 2}
}

func (l Layout) generate() []Seat {
	seats := make([]Seat, 0, l.Tiers*l.PerTier)
	for t := 0; t < l.Tiers; t++ {
		r := l.BaseRadius + float64(t)*l.TierGap
		for i := 0; i < l.PerTier; i++ {
			a := float64(i) / float64(l.PerTier) * 2 * math.Pi
			x := math.Cos(a) * r
			z := math.Sin(a) * r
			seats = append(seats, Seat{
				Key:   fmt.Sprintf("%d:%.3f:%.3f", t+1, x, z),
				Tier:  t + 1,
				X:     x,
				Z:     z,
				Angle: a,
			})
		}
	}
	return seats
}

type roomSeats struct {
	seats  []Seat
	taken  map[string]string // seat key -> connection id
	byConn map[string]string // connection id -> seat key
}

// Allocator holds the seat state for every room, keyed by room id.
// Methods are safe for use from multiple room goroutines.
type Allocator struct {
	mu     sync.Mutex
	layout Layout
	rooms  map[string]*roomSeats
}

func NewAllocator(layout Layout) *Allocator {
	return &Allocator{layout: layout, rooms: make(map[string]*roomSeats)}
}

func (a *Allocator) roomLocked(roomID string) *roomSeats {
	rs := a.rooms[roomID]
	if rs == nil {
		rs = &roomSeats{
			seats:  a.layout.generate(),
			taken:  make(map[string]string),
			byConn: make(map[string]string),
		}
		a.rooms[roomID] = rs
	}
	return rs
}

// LayoutFor returns the room's seat list, generating and caching it on
// first use. Repeated calls return the same slice.
func (a *Allocator) LayoutFor(roomID string) []Seat {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roomLocked(roomID).seats
}

// Request assigns the nearest free seat to the hint, on the horizontal
// plane. Equidistant seats resolve to the earlier-generated one. A
// connection already holding a seat releases it first; the freed key is
// returned so the caller can announce it. With no free seats the call
// returns ErrNoSeatsAvailable and mutates nothing.
func (a *Allocator) Request(roomID, connID string, hint Point) (Seat, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs := a.roomLocked(roomID)

	best := -1
	bestDist := math.Inf(1)
	for i, s := range rs.seats {
		if holder, held := rs.taken[s.Key]; held && holder != connID {
			continue
		}
		if s.Key == rs.byConn[connID] {
			// The requester's own seat is not a candidate; it is
			// released below only once a new seat is found.
			continue
		}
		d := (s.X-hint.X)*(s.X-hint.X) + (s.Z-hint.Z)*(s.Z-hint.Z)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 {
		return Seat{}, "", ErrNoSeatsAvailable
	}

	freed := ""
	if prev, ok := rs.byConn[connID]; ok {
		delete(rs.taken, prev)
		freed = prev
	}
	s := rs.seats[best]
	rs.taken[s.Key] = connID
	rs.byConn[connID] = s.Key
	return s, freed, nil
}

// Release frees any seat held by the connection. Returns the freed key,
// or false if the connection held none.
func (a *Allocator) Release(roomID, connID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs := a.rooms[roomID]
	if rs == nil {
		return "", false
	}
	key, ok := rs.byConn[connID]
	if !ok {
		return "", false
	}
	delete(rs.byConn, connID)
	delete(rs.taken, key)
	return key, true
}

// Held reports the seat key currently held by the connection, if any.
func (a *Allocator) Held(roomID, connID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs := a.rooms[roomID]
	if rs == nil {
		return "", false
	}
	key, ok := rs.byConn[connID]
	return key, ok
}

// Drop discards all seat state for a room.
func (a *Allocator) Drop(roomID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.rooms, roomID)
}
