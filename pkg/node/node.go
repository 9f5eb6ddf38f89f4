// Package node ties one herd identity together: it accepts stream
// connections, runs the per-connection session loop over the line
// protocol, and drives the store, the flood broadcaster and the places
// gateway.
package node

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"herdtrack/internal/telemetry"
	"herdtrack/pkg/flood"
	"herdtrack/pkg/store"
)

// Broadcaster re-sends an accepted update to this node's peers.
// Implemented by flood.Broadcaster.
type Broadcaster interface {
	Broadcast(line string) []flood.Outcome
}

// Places is the external points-of-interest capability.
type Places interface {
	Nearby(coordinates string, radiusKM, bound int) (string, error)
}

// Node is one running herd identity.
type Node struct {
	name   string
	store  *store.Store
	flood  Broadcaster
	places Places
	log    *zap.Logger

	// now is the receiver clock, replaceable in tests.
	now func() time.Time
}

func New(name string, st *store.Store, b Broadcaster, p Places, log *zap.Logger) *Node {
	return &Node{
		name:   name,
		store:  st,
		flood:  b,
		places: p,
		log:    log,
		now:    time.Now,
	}
}

func (n *Node) Name() string { return n.name }

// WithClock overrides the receiver clock, for tests.
func (n *Node) WithClock(now func() time.Time) *Node {
	n.now = now
	return n
}

// Serve accepts connections until ctx is cancelled or the listener
// fails, running each session in its own goroutine.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			telemetry.OpenSessions.Inc()
			defer telemetry.OpenSessions.Dec()
			n.HandleConn(conn)
		}()
	}
}
