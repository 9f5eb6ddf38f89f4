// Package flood re-broadcasts accepted updates to a node's configured
// peers. The broadcast is best-effort: every peer is attempted, an
// unreachable peer is logged and skipped, and the caller never sees an
// error. Peers receiving an update they already hold drop it as stale,
// which is what keeps the flood from circulating forever.
package flood

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"herdtrack/internal/telemetry"
)

// Peer is one forwarding target, already resolved to an address.
type Peer struct {
	Name string
	Addr string
}

// Outcome records one propagation attempt. Err is nil on success.
type Outcome struct {
	Peer Peer
	Err  error
}

// DialFunc matches net.DialTimeout.
type DialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)

const defaultTimeout = 3 * time.Second

// Broadcaster fans one line out to a fixed peer set over short-lived
// connections.
type Broadcaster struct {
	peers   []Peer
	dial    DialFunc
	timeout time.Duration
	log     *zap.Logger
}

func New(peers []Peer, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		peers:   peers,
		dial:    net.DialTimeout,
		timeout: defaultTimeout,
		log:     log,
	}
}

// WithDialer overrides the dial function, for tests.
func (b *Broadcaster) WithDialer(dial DialFunc) *Broadcaster {
	b.dial = dial
	return b
}

func (b *Broadcaster) WithTimeout(d time.Duration) *Broadcaster {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// Broadcast writes line to every configured peer, each over its own
// short-lived connection and each in its own goroutine so one slow or
// dead peer cannot stall the others. It blocks until all attempts
// finish and returns one Outcome per peer, in peer order. No exclusion
// is made for the peer the update arrived from; the receiver's stale
// check makes the bounce-back harmless.
func (b *Broadcaster) Broadcast(line string) []Outcome {
	outcomes := make([]Outcome, len(b.peers))

	var wg sync.WaitGroup
	for i, p := range b.peers {
		wg.Add(1)
		go func(i int, p Peer) {
			defer wg.Done()
			err := b.send(p, line)
			outcomes[i] = Outcome{Peer: p, Err: err}
			if err != nil {
				telemetry.PropagationsTotal.WithLabelValues(p.Name, "error").Inc()
				b.log.Warn("propagation failed",
					zap.String("peer", p.Name),
					zap.String("addr", p.Addr),
					zap.Error(err))
				return
			}
			telemetry.PropagationsTotal.WithLabelValues(p.Name, "ok").Inc()
			b.log.Info("propagated update",
				zap.String("peer", p.Name),
				zap.String("line", line))
		}(i, p)
	}
	wg.Wait()

	return outcomes
}

func (b *Broadcaster) send(p Peer, line string) error {
	conn, err := b.dial("tcp", p.Addr, b.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(b.timeout))
	_, err = conn.Write([]byte(line + "\n"))
	return err
}
