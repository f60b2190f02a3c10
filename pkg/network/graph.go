package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortiblox/intcode/pkg/intcode"
)

var (
	// ErrDuplicateNode is returned when a node name is already taken.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrUnknownNode is returned for a name that is not in the graph.
	ErrUnknownNode = errors.New("unknown node")
)

// Outcome is how a graph run ended.
type Outcome int

const (
	// AllHalted means every machine halted.
	AllHalted Outcome = iota
	// Stalled means no machine can make progress: every live machine is
	// waiting for input nobody will send.
	Stalled
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case AllHalted:
		return "all-halted"
	case Stalled:
		return "stalled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// edge is a FIFO of values in flight from one node to another.
type edge struct {
	from, to *node
	buf      []int64
}

type node struct {
	name    string
	machine *intcode.Machine
	in      []*edge
	out     []*edge
	sink    []int64
}

// Graph is a set of named machines joined by directed edges. Each edge is a
// queue owned by the graph, not by either machine. A node with no outgoing
// edges is a sink: its outputs are kept for Collect.
type Graph struct {
	nodes []*node
	index map[string]*node
	slice uint64
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		index: make(map[string]*node),
		slice: DefaultSlice,
	}
}

// SetSlice sets how many instructions a node runs per turn.
func (g *Graph) SetSlice(n uint64) {
	if n == 0 {
		n = DefaultSlice
	}
	g.slice = n
}

// Add adds a machine under name.
func (g *Graph) Add(name string, m *intcode.Machine) error {
	if _, ok := g.index[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, name)
	}
	n := &node{name: name, machine: m}
	g.nodes = append(g.nodes, n)
	g.index[name] = n
	return nil
}

func (g *Graph) lookup(name string) (*node, error) {
	n, ok := g.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	return n, nil
}

// Connect adds an edge carrying every output of from to the input of to.
// A node with several outgoing edges sends each output down all of them.
func (g *Graph) Connect(from, to string) error {
	src, err := g.lookup(from)
	if err != nil {
		return err
	}
	dst, err := g.lookup(to)
	if err != nil {
		return err
	}
	e := &edge{from: src, to: dst}
	src.out = append(src.out, e)
	dst.in = append(dst.in, e)
	return nil
}

// Feed pushes values directly into a node's input queue.
func (g *Graph) Feed(name string, values ...int64) error {
	n, err := g.lookup(name)
	if err != nil {
		return err
	}
	n.machine.PushInput(values...)
	return nil
}

// Machine returns the machine added under name, or nil.
func (g *Graph) Machine(name string) *intcode.Machine {
	if n, ok := g.index[name]; ok {
		return n.machine
	}
	return nil
}

// Collect removes and returns the values a sink node has emitted.
func (g *Graph) Collect(name string) ([]int64, error) {
	n, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	out := n.sink
	n.sink = nil
	return out, nil
}

// Pending returns the values waiting on the edge from -> to. Values stay
// there when the receiving machine halted before reading them.
func (g *Graph) Pending(from, to string) ([]int64, error) {
	src, err := g.lookup(from)
	if err != nil {
		return nil, err
	}
	for _, e := range src.out {
		if e.to.name == to {
			return append([]int64(nil), e.buf...), nil
		}
	}
	return nil, fmt.Errorf("%w: no edge %s -> %s", ErrUnknownNode, from, to)
}

// Run schedules the nodes round-robin in the order they were added until
// every machine halts or no machine can progress. A fault stops the run and
// is returned wrapped with the node name.
func (g *Graph) Run(ctx context.Context) (Outcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Stalled, err
		}

		progress := false
		live := 0
		for _, n := range g.nodes {
			m := n.machine
			if m.Status().Terminal() {
				if err := m.Err(); err != nil {
					return Stalled, fmt.Errorf("node %s: %w", n.name, err)
				}
				continue
			}
			live++

			for _, e := range n.in {
				if len(e.buf) > 0 {
					m.PushInput(e.buf...)
					e.buf = e.buf[:0]
				}
			}

			before := m.Steps()
			_, err := m.RunFor(g.slice)
			if err != nil {
				return Stalled, fmt.Errorf("node %s: %w", n.name, err)
			}
			if m.Steps() != before {
				progress = true
			}

			out := m.DrainOutputs()
			if len(out) == 0 {
				continue
			}
			if len(n.out) == 0 {
				n.sink = append(n.sink, out...)
				continue
			}
			for _, e := range n.out {
				e.buf = append(e.buf, out...)
			}
		}

		if live == 0 {
			return AllHalted, nil
		}
		if !progress && !g.deliverable() {
			return Stalled, nil
		}
	}
}

// deliverable reports whether some live node has values waiting on an
// incoming edge.
func (g *Graph) deliverable() bool {
	for _, n := range g.nodes {
		if n.machine.Status().Terminal() {
			continue
		}
		for _, e := range n.in {
			if len(e.buf) > 0 {
				return true
			}
		}
	}
	return false
}
