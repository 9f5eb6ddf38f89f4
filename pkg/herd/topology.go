// Package herd describes the fixed set of cooperating nodes: which
// identities exist, where each one listens, and which peers it is
// allowed to forward updates to. The relation is directed and not
// necessarily symmetric. A Topology is built once at startup and never
// mutated afterwards.
package herd

import (
	"fmt"
	"net"
	"strconv"
)

// Node is one identity in the herd.
type Node struct {
	Name  string
	Port  int
	Peers []string
}

type Topology struct {
	host  string
	nodes map[string]Node
}

// DefaultHerd is the stock five-node deployment on loopback.
func DefaultHerd() *Topology {
	return DefaultHerdAt("127.0.0.1")
}

// DefaultHerdAt is the stock table with every node on the given host.
func DefaultHerdAt(host string) *Topology {
	t, err := New(host, []Node{
		{Name: "Bailey", Port: 20832, Peers: []string{"Bona", "Clark", "Campbell"}},
		{Name: "Bona", Port: 20833, Peers: []string{"Bailey", "Clark", "Campbell"}},
		{Name: "Campbell", Port: 20834, Peers: []string{"Bona", "Bailey", "Jaquez"}},
		{Name: "Clark", Port: 20835, Peers: []string{"Jaquez", "Bona"}},
		{Name: "Jaquez", Port: 20836, Peers: []string{"Clark", "Campbell"}},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// New validates the node table: every peer must itself be a listed node.
func New(host string, nodes []Node) (*Topology, error) {
	m := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := m[n.Name]; dup {
			return nil, fmt.Errorf("herd: duplicate node %q", n.Name)
		}
		m[n.Name] = n
	}
	for _, n := range nodes {
		for _, p := range n.Peers {
			if _, ok := m[p]; !ok {
				return nil, fmt.Errorf("herd: node %q lists unknown peer %q", n.Name, p)
			}
		}
	}
	return &Topology{host: host, nodes: m}, nil
}

func (t *Topology) Lookup(name string) (Node, bool) {
	n, ok := t.nodes[name]
	return n, ok
}

// Peers returns the ordered forwarding set for a node, or nil if the
// node is unknown.
func (t *Topology) Peers(name string) []Node {
	n, ok := t.nodes[name]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(n.Peers))
	for _, p := range n.Peers {
		out = append(out, t.nodes[p])
	}
	return out
}

// Addr returns the host:port a node listens on.
func (t *Topology) Addr(name string) string {
	n, ok := t.nodes[name]
	if !ok {
		return ""
	}
	return net.JoinHostPort(t.host, strconv.Itoa(n.Port))
}

func (t *Topology) Names() []string {
	out := make([]string, 0, len(t.nodes))
	for name := range t.nodes {
		out = append(out, name)
	}
	return out
}
