package node

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"herdtrack/pkg/flood"
	"herdtrack/pkg/store"
)

type fakeFlood struct {
	lines []string
}

func (f *fakeFlood) Broadcast(line string) []flood.Outcome {
	f.lines = append(f.lines, line)
	return nil
}

type fakePlaces struct {
	doc string
	err error

	gotCoords string
	gotRadius int
	gotBound  int
}

func (f *fakePlaces) Nearby(coordinates string, radiusKM, bound int) (string, error) {
	f.gotCoords, f.gotRadius, f.gotBound = coordinates, radiusKM, bound
	return f.doc, f.err
}

func newTestNode(name string) (*Node, *store.Store, *fakeFlood, *fakePlaces) {
	st := store.New()
	ff := &fakeFlood{}
	fp := &fakePlaces{doc: `{"results": []}`}
	n := New(name, st, ff, fp, zap.NewNop())
	return n, st, ff, fp
}

const (
	clientTime = "1621464827.959398254"
	coords     = "+34.068930-118.445127"
)

func TestIAmAtRoundTrip(t *testing.T) {
	n, st, ff, _ := newTestNode("Bailey")
	// Receiver clock 1.25s after the client timestamp.
	n.WithClock(func() time.Time { return time.Unix(1621464829, 209398254) })

	replies := n.handleLine("IAMAT kiwi.cs.ucla.edu " + coords + " " + clientTime)
	if len(replies) != 1 {
		t.Fatalf("%d replies, want 1", len(replies))
	}

	fields := strings.Fields(replies[0])
	if len(fields) != 6 {
		t.Fatalf("reply %q has %d fields, want 6", replies[0], len(fields))
	}
	if fields[0] != "AT" || fields[1] != "Bailey" ||
		fields[3] != "kiwi.cs.ucla.edu" || fields[4] != coords || fields[5] != clientTime {
		t.Fatalf("reply = %q", replies[0])
	}

	// Diff carries an explicit sign and the receiver-minus-client value.
	if fields[2][0] != '+' && fields[2][0] != '-' {
		t.Fatalf("diff %q has no explicit sign", fields[2])
	}
	diff, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		t.Fatalf("diff %q: %v", fields[2], err)
	}
	if math.Abs(diff-1.25) > 1e-3 {
		t.Fatalf("diff = %v, want ~1.25", diff)
	}

	// The canonical line is stored and flooded verbatim.
	rec, ok := st.Latest("kiwi.cs.ucla.edu")
	if !ok || rec.Line != replies[0] {
		t.Fatalf("stored %+v, want line %q", rec, replies[0])
	}
	if len(ff.lines) != 1 || ff.lines[0] != replies[0] {
		t.Fatalf("flooded %v, want [%q]", ff.lines, replies[0])
	}
}

func TestIAmAtNegativeDiff(t *testing.T) {
	n, _, _, _ := newTestNode("Bailey")
	// Receiver clock behind the client's.
	n.WithClock(func() time.Time { return time.Unix(1621464820, 0) })

	replies := n.handleLine("IAMAT c " + coords + " " + clientTime)
	diffField := strings.Fields(replies[0])[2]
	if !strings.HasPrefix(diffField, "-") {
		t.Fatalf("diff = %q, want leading -", diffField)
	}
}

func TestMalformedEcho(t *testing.T) {
	n, st, ff, _ := newTestNode("Bailey")

	for _, line := range []string{
		"IAMAT clientA badcoord 123",
		"WHATSAT clientA 51 5",
		"WHATSAT clientA 5 21",
		"HELLO world",
		"IAMAT too few",
	} {
		replies := n.handleLine(line)
		if len(replies) != 1 || replies[0] != "? "+line {
			t.Fatalf("handleLine(%q) = %v, want [%q]", line, replies, "? "+line)
		}
	}
	if st.Len() != 0 {
		t.Fatal("malformed input reached the store")
	}
	if len(ff.lines) != 0 {
		t.Fatal("malformed input was propagated")
	}
}

func TestAtFreshAppliesAndRefloods(t *testing.T) {
	n, st, ff, _ := newTestNode("Bona")

	line := "AT Bailey +0.263873 kiwi.cs.ucla.edu " + coords + " " + clientTime
	replies := n.handleLine(line)
	if replies != nil {
		t.Fatalf("AT produced replies %v; peers get no response", replies)
	}

	rec, ok := st.Latest("kiwi.cs.ucla.edu")
	if !ok || rec.Line != line {
		t.Fatalf("stored %+v, want verbatim line", rec)
	}
	if rec.Coordinates != coords {
		t.Fatalf("Coordinates = %q", rec.Coordinates)
	}
	if len(ff.lines) != 1 || ff.lines[0] != line {
		t.Fatalf("flooded %v, want the original line", ff.lines)
	}
}

func TestAtStaleDropped(t *testing.T) {
	n, st, ff, _ := newTestNode("Bona")

	newer := "AT Bailey +0.2 kiwi " + coords + " 200.5"
	older := "AT Clark +0.1 kiwi " + coords + " 100.5"
	n.handleLine(newer)
	ff.lines = nil

	if replies := n.handleLine(older); replies != nil {
		t.Fatalf("stale AT produced replies %v", replies)
	}
	if len(ff.lines) != 0 {
		t.Fatal("stale AT was re-propagated")
	}
	// Same timestamp is also stale: strict > required.
	if n.handleLine(newer); len(ff.lines) != 0 {
		t.Fatal("equal-timestamp AT was re-propagated")
	}
	rec, _ := st.Latest("kiwi")
	if rec.Line != newer {
		t.Fatalf("stored %q, want %q", rec.Line, newer)
	}
}

func TestWhatsAt(t *testing.T) {
	n, _, _, fp := newTestNode("Bailey")
	fp.doc = `{"results": [{"name": "spot"}]}`

	n.handleLine("IAMAT kiwi.cs.ucla.edu " + coords + " " + clientTime)
	replies := n.handleLine("WHATSAT kiwi.cs.ucla.edu 10 5")

	if len(replies) != 3 {
		t.Fatalf("%d reply lines, want 3 (AT line, document, blank)", len(replies))
	}
	if !strings.HasPrefix(replies[0], "AT Bailey ") {
		t.Fatalf("first line %q, want stored AT line", replies[0])
	}
	if replies[1] != fp.doc {
		t.Fatalf("document = %q", replies[1])
	}
	if replies[2] != "" {
		t.Fatalf("trailing line = %q, want blank", replies[2])
	}

	if fp.gotCoords != coords || fp.gotRadius != 10 || fp.gotBound != 5 {
		t.Fatalf("gateway called with (%q, %d, %d)", fp.gotCoords, fp.gotRadius, fp.gotBound)
	}
}

func TestWhatsAtUnknownClient(t *testing.T) {
	n, _, _, _ := newTestNode("Bailey")
	replies := n.handleLine("WHATSAT ghost 5 5")
	if len(replies) != 1 || replies[0] != "? WHATSAT ghost 5 5" {
		t.Fatalf("replies = %v", replies)
	}
}

func TestWhatsAtLookupFailure(t *testing.T) {
	n, _, _, fp := newTestNode("Bailey")
	fp.err = errors.New("collaborator down")

	n.handleLine("IAMAT kiwi " + coords + " " + clientTime)
	replies := n.handleLine("WHATSAT kiwi 10 5")
	if len(replies) != 1 || replies[0] != "? WHATSAT kiwi 10 5" {
		t.Fatalf("replies = %v", replies)
	}
}

func TestHandleConnOrdering(t *testing.T) {
	n, _, _, _ := newTestNode("Bailey")
	n.WithClock(func() time.Time { return time.Unix(1621464829, 0) })

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		n.HandleConn(server)
		close(done)
	}()

	in := []string{
		"garbage one",
		"IAMAT kiwi " + coords + " " + clientTime,
		"garbage two",
	}
	go func() {
		for _, l := range in {
			client.Write([]byte(l + "\n"))
		}
		// Half-close is not available on a pipe; responses below are
		// read before closing.
	}()

	r := bufio.NewReader(client)
	read := func() string {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Errorf("read: %v", err)
		}
		return strings.TrimSuffix(line, "\n")
	}

	if got := read(); got != "? garbage one" {
		t.Fatalf("reply 1 = %q", got)
	}
	if got := read(); !strings.HasPrefix(got, "AT Bailey ") {
		t.Fatalf("reply 2 = %q", got)
	}
	if got := read(); got != "? garbage two" {
		t.Fatalf("reply 3 = %q", got)
	}

	client.Close()
	<-done
}

// meshFlood wires test nodes into an in-process herd: Broadcast
// delivers the line synchronously to each peer's message handler, so a
// non-terminating flood would recurse forever and fail the test by
// deadline.
type meshFlood struct {
	peers      []string
	nodes      map[string]*Node
	deliveries *atomic.Int64
}

func (m *meshFlood) Broadcast(line string) []flood.Outcome {
	for _, p := range m.peers {
		m.deliveries.Add(1)
		m.nodes[p].handleLine(line)
	}
	return nil
}

func TestFloodConvergesOnCyclicTopology(t *testing.T) {
	// The stock herd graph, cycles included.
	topo := map[string][]string{
		"Bailey":   {"Bona", "Clark", "Campbell"},
		"Bona":     {"Bailey", "Clark", "Campbell"},
		"Campbell": {"Bona", "Bailey", "Jaquez"},
		"Clark":    {"Jaquez", "Bona"},
		"Jaquez":   {"Clark", "Campbell"},
	}

	var deliveries atomic.Int64
	nodes := make(map[string]*Node)
	stores := make(map[string]*store.Store)
	for name := range topo {
		st := store.New()
		stores[name] = st
		nodes[name] = New(name, st, &meshFlood{
			peers:      topo[name],
			nodes:      nodes,
			deliveries: &deliveries,
		}, &fakePlaces{doc: "{}"}, zap.NewNop()).
			WithClock(func() time.Time { return time.Unix(1621464829, 0) })
	}

	nodes["Bailey"].handleLine("IAMAT kiwi " + coords + " " + clientTime)

	// Every node reachable from Bailey (all of them) holds the record.
	var want string
	for name, st := range stores {
		rec, ok := st.Latest("kiwi")
		if !ok {
			t.Fatalf("node %s never received the update", name)
		}
		if want == "" {
			want = rec.Line
		} else if rec.Line != want {
			t.Fatalf("node %s holds %q, others hold %q", name, rec.Line, want)
		}
	}

	// Each node re-floods at most once, so deliveries are bounded by
	// total edge count plus the redundant bounce-backs.
	var edges int64
	for _, peers := range topo {
		edges += int64(len(peers))
	}
	if got := deliveries.Load(); got > edges {
		t.Fatalf("%d deliveries for %d edges; flood did not terminate promptly", got, edges)
	}

	// A second, newer report converges too.
	nodes["Jaquez"].handleLine(fmt.Sprintf("IAMAT kiwi %s %s", coords, "1621464999.5"))
	for name, st := range stores {
		rec, _ := st.Latest("kiwi")
		if rec.Time != 1621464999.5 {
			t.Fatalf("node %s stuck at %v after newer report", name, rec.Time)
		}
	}
}
