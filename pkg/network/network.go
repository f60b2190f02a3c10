// Package network connects Intcode machines into pipelines, feedback loops
// and arbitrary graphs, and runs independent machines in parallel.
//
// Drivers own the machines they are given for the duration of a call. A
// machine never blocks, so every driver here is a plain loop: run a machine
// until it halts or suspends, move its outputs to whoever consumes them,
// move on to the next machine.
package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortiblox/intcode/pkg/intcode"
)

var (
	// ErrNoSignal is returned when a machine in a feedback loop finishes a
	// turn without producing output.
	ErrNoSignal = errors.New("machine produced no signal")

	// ErrNoMachines is returned when a driver is given no machines.
	ErrNoMachines = errors.New("no machines")
)

// DefaultSlice is the number of instructions a driver lets a machine
// execute before checking for cancellation.
const DefaultSlice = 1 << 16

// run executes m until it halts, suspends or faults, checking ctx between
// slices so a machine stuck in a loop can be abandoned.
func run(ctx context.Context, m *intcode.Machine, slice uint64) (intcode.Status, error) {
	for {
		if err := ctx.Err(); err != nil {
			return m.Status(), err
		}
		status, err := m.RunFor(slice)
		if status != intcode.StatusRunnable {
			return status, err
		}
	}
}

// Pipeline runs machines in series. inputs go to the first machine; every
// output of a machine becomes input of the next. It returns the outputs of
// the last machine.
func Pipeline(ctx context.Context, machines []*intcode.Machine, inputs ...int64) ([]int64, error) {
	if len(machines) == 0 {
		return nil, ErrNoMachines
	}

	signal := inputs
	for i, m := range machines {
		m.PushInput(signal...)
		if _, err := run(ctx, m, DefaultSlice); err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		signal = m.DrainOutputs()
	}
	return signal, nil
}

// Feedback runs machines as a ring. Starting with seed, it hands the current
// signal to the machine at the front of a round-robin queue, runs it, and
// takes its newest output as the next signal. Machines that have not halted
// go to the back of the queue. It returns the last signal once every machine
// has halted.
func Feedback(ctx context.Context, machines []*intcode.Machine, seed int64) (int64, error) {
	if len(machines) == 0 {
		return 0, ErrNoMachines
	}

	queue := make([]int, len(machines))
	for i := range queue {
		queue[i] = i
	}

	signal := seed
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		m := machines[i]

		m.PushInput(signal)
		status, err := run(ctx, m, DefaultSlice)
		if err != nil {
			return signal, fmt.Errorf("machine %d: %w", i, err)
		}

		out := m.DrainOutputs()
		if len(out) == 0 {
			return signal, fmt.Errorf("machine %d: %w", i, ErrNoSignal)
		}
		signal = out[len(out)-1]

		if status != intcode.StatusHalted {
			queue = append(queue, i)
		}
	}
	return signal, nil
}
