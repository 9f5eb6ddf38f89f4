package node

import (
	"bufio"
	"net"
	"strings"

	"go.uber.org/zap"

	"herdtrack/internal/telemetry"
	"herdtrack/pkg/store"
	"herdtrack/pkg/wire"
)

// HandleConn runs one session: read a line, process it to completion,
// write any response, repeat until the peer closes. Lines are handled
// strictly in order; all responses for a message are written before
// the next read.
func (n *Node) HandleConn(conn net.Conn) {
	defer conn.Close()

	n.log.Info("session opened", zap.String("remote", conn.RemoteAddr().String()))

	scanner := bufio.NewScanner(conn)
	w := bufio.NewWriter(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		replies, propagate := n.dispatch(line)
		for _, reply := range replies {
			w.WriteString(reply)
			w.WriteByte('\n')
		}
		if err := w.Flush(); err != nil {
			n.log.Warn("session write failed", zap.Error(err))
			return
		}
		// The requester gets its response before the flood starts.
		if propagate != nil {
			propagate()
		}
	}
	if err := scanner.Err(); err != nil {
		n.log.Warn("session read failed", zap.Error(err))
	}
	n.log.Info("session closed", zap.String("remote", conn.RemoteAddr().String()))
}

// handleLine processes one message to completion, propagation
// included, and returns the reply lines.
func (n *Node) handleLine(line string) []string {
	replies, propagate := n.dispatch(line)
	if propagate != nil {
		propagate()
	}
	return replies
}

// dispatch classifies one message and returns the reply lines to write
// (each without its terminator) plus the propagation step to run after
// the replies are flushed, if any. A propagated AT produces no reply:
// the sender is a peer node, not an interactive client.
func (n *Node) dispatch(line string) (replies []string, propagate func()) {
	msg, err := wire.Parse(line)
	if err != nil {
		telemetry.MessagesTotal.WithLabelValues("unknown", "malformed").Inc()
		n.log.Info("malformed message", zap.String("line", line))
		return []string{"? " + line}, nil
	}

	switch m := msg.(type) {
	case wire.IAmAt:
		return n.handleIAmAt(m)
	case wire.At:
		return nil, n.handleAt(m)
	case wire.WhatsAt:
		return n.handleWhatsAt(line, m), nil
	}
	// Parse only produces the three variants above.
	return []string{"? " + line}, nil
}

// handleIAmAt records a client's own report, answers with the
// canonical AT line and floods it. Locally originated reports
// overwrite the stored record unconditionally.
func (n *Node) handleIAmAt(m wire.IAmAt) ([]string, func()) {
	diff := n.clockSeconds() - m.Time
	atLine := wire.FormatAt(n.name, diff, m)

	n.store.Apply(m.Client, store.Record{
		Time:        m.Time,
		Coordinates: m.Coordinates,
		Line:        atLine,
	})
	telemetry.MessagesTotal.WithLabelValues("iamat", "ok").Inc()
	telemetry.UpdatesTotal.WithLabelValues("applied").Inc()
	n.log.Info("accepted client report",
		zap.String("client", m.Client),
		zap.Float64("time", m.Time))

	return []string{atLine}, func() { n.flood.Broadcast(atLine) }
}

// handleAt merges a propagated report. Fresh updates are re-flooded to
// every peer, including the one the message came from; a stale copy
// bouncing back is dropped here, which is what terminates the flood.
func (n *Node) handleAt(m wire.At) func() {
	applied := n.store.TryApply(m.Client, store.Record{
		Time:        m.Time,
		Coordinates: m.Coordinates,
		Line:        m.Line,
	})
	if !applied {
		telemetry.MessagesTotal.WithLabelValues("at", "stale").Inc()
		telemetry.UpdatesTotal.WithLabelValues("stale").Inc()
		n.log.Info("dropped stale update",
			zap.String("client", m.Client),
			zap.String("origin", m.Origin))
		return nil
	}
	telemetry.MessagesTotal.WithLabelValues("at", "ok").Inc()
	telemetry.UpdatesTotal.WithLabelValues("applied").Inc()
	n.log.Info("accepted propagated report",
		zap.String("client", m.Client),
		zap.String("origin", m.Origin),
		zap.Float64("time", m.Time))

	return func() { n.flood.Broadcast(m.Line) }
}

// handleWhatsAt answers a query with the stored AT line, the places
// document and a blank line. No record, or a failed lookup, gets the
// same "? " echo a malformed query would.
func (n *Node) handleWhatsAt(line string, m wire.WhatsAt) []string {
	rec, ok := n.store.Latest(m.Client)
	if !ok {
		telemetry.MessagesTotal.WithLabelValues("whatsat", "unknown_client").Inc()
		n.log.Info("query for unknown client", zap.String("client", m.Client))
		return []string{"? " + line}
	}

	doc, err := n.places.Nearby(rec.Coordinates, m.RadiusKM, m.Bound)
	if err != nil {
		telemetry.MessagesTotal.WithLabelValues("whatsat", "lookup_failed").Inc()
		n.log.Warn("places lookup failed",
			zap.String("client", m.Client),
			zap.Error(err))
		return []string{"? " + line}
	}
	telemetry.MessagesTotal.WithLabelValues("whatsat", "ok").Inc()

	// Stored AT line, the document, then a blank line.
	return []string{rec.Line, doc, ""}
}

// clockSeconds is the receiver clock as a POSIX real, matching the
// unit clients report in.
func (n *Node) clockSeconds() float64 {
	return float64(n.now().UnixNano()) / 1e9
}
