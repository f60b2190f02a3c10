package intcode

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

// runToHalt runs a machine and fails the test unless it halts.
func runToHalt(t *testing.T, m *Machine) {
	t.Helper()
	status, err := m.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if status != StatusHalted {
		t.Fatalf("Run() = %v, want halted", status)
	}
}

// TestSelfModifyingArithmetic tests that add and multiply write back into
// program memory.
func TestSelfModifyingArithmetic(t *testing.T) {
	tests := []struct {
		prog string
		want string
	}{
		{"1,0,0,0,99", "2,0,0,0,99"},
		{"2,3,0,3,99", "2,3,0,6,99"},
		{"2,4,4,5,99,0", "2,4,4,5,99,9801"},
		{"1,1,1,4,99,5,6,0,99", "30,1,1,4,2,5,6,0,99"},
		{"1,9,10,3,2,3,11,0,99,30,40,50", "3500,9,10,70,2,3,11,0,99,30,40,50"},
	}

	for _, tt := range tests {
		t.Run(tt.prog, func(t *testing.T) {
			m := New(MustParse(tt.prog))
			runToHalt(t, m)
			if got := Program(m.Memory()).String(); got != tt.want {
				t.Errorf("memory = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestEcho tests that an input is echoed to the output.
func TestEcho(t *testing.T) {
	m := New(MustParse("3,0,4,0,99"), 7)
	runToHalt(t, m)

	v, ok := m.PopOutput()
	if !ok || v != 7 {
		t.Errorf("PopOutput() = %d, %v, want 7, true", v, ok)
	}
	if _, ok := m.PopOutput(); ok {
		t.Error("PopOutput() on empty queue returned ok")
	}
}

// TestParameterModes tests immediate mode in multiply and add.
func TestParameterModes(t *testing.T) {
	for _, src := range []string{"1002,4,3,4,33", "1101,100,-1,4,0"} {
		m := New(MustParse(src))
		runToHalt(t, m)
		if got := m.Peek(4); got != 99 {
			t.Errorf("%s: Peek(4) = %d, want 99", src, got)
		}
	}
}

// TestAddressingEquivalence tests that the same sum computed through
// position, immediate and relative operands gives the same result.
func TestAddressingEquivalence(t *testing.T) {
	tests := []struct {
		name string
		prog string
	}{
		{"position", "1,9,10,11,4,11,99,0,0,19,23,0"},
		{"immediate", "1101,19,23,7,4,7,99,0"},
		{"relative", "109,9,22201,1,2,3,204,3,99,0,19,23,0"},
		{"mixed", "109,10,2101,19,1,9,4,9,99,0,0,23"},
	}

	var want []int64
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(MustParse(tt.prog))
			runToHalt(t, m)
			out := m.DrainOutputs()
			if len(out) != 1 || out[0] != 42 {
				t.Fatalf("outputs = %v, want [42]", out)
			}
			if want != nil && !reflect.DeepEqual(out, want) {
				t.Errorf("outputs = %v, want %v", out, want)
			}
			want = out
		})
	}
}

// TestComparisonsAndJumps tests compare and jump instructions in both
// position and immediate mode.
func TestComparisonsAndJumps(t *testing.T) {
	const cmp8 = "3,21,1008,21,8,20,1005,20,22,107,8,21,20,1006,20,31," +
		"1106,0,36,98,0,0,1002,21,125,20,4,20,1105,1,46,104," +
		"999,1105,1,46,1101,1000,1,20,4,20,1105,1,46,98,99"

	tests := []struct {
		name  string
		prog  string
		input int64
		want  int64
	}{
		{"eq position true", "3,9,8,9,10,9,4,9,99,-1,8", 8, 1},
		{"eq position false", "3,9,8,9,10,9,4,9,99,-1,8", 7, 0},
		{"lt position true", "3,9,7,9,10,9,4,9,99,-1,8", 5, 1},
		{"lt position false", "3,9,7,9,10,9,4,9,99,-1,8", 8, 0},
		{"eq immediate true", "3,3,1108,-1,8,3,4,3,99", 8, 1},
		{"eq immediate false", "3,3,1108,-1,8,3,4,3,99", 9, 0},
		{"lt immediate true", "3,3,1107,-1,8,3,4,3,99", -3, 1},
		{"lt immediate false", "3,3,1107,-1,8,3,4,3,99", 8, 0},
		{"jump position zero", "3,12,6,12,15,1,13,14,13,4,13,99,-1,0,1,9", 0, 0},
		{"jump position nonzero", "3,12,6,12,15,1,13,14,13,4,13,99,-1,0,1,9", 5, 1},
		{"jump immediate zero", "3,3,1105,-1,9,1101,0,0,12,4,12,99,1", 0, 0},
		{"jump immediate nonzero", "3,3,1105,-1,9,1101,0,0,12,4,12,99,1", -2, 1},
		{"below 8", cmp8, 7, 999},
		{"equal 8", cmp8, 8, 1000},
		{"above 8", cmp8, 9, 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(MustParse(tt.prog), tt.input)
			runToHalt(t, m)
			out := m.DrainOutputs()
			if len(out) != 1 || out[0] != tt.want {
				t.Errorf("outputs = %v, want [%d]", out, tt.want)
			}
		})
	}
}

// TestMemoryGrowth tests that writes past the end grow memory and reads
// past the end yield zero.
func TestMemoryGrowth(t *testing.T) {
	m := New(MustParse("1101,5,6,1000,99"))
	runToHalt(t, m)

	if got := m.MemorySize(); got != 1001 {
		t.Errorf("MemorySize() = %d, want 1001", got)
	}
	if got := m.Peek(1000); got != 11 {
		t.Errorf("Peek(1000) = %d, want 11", got)
	}
	if got := m.Peek(999); got != 0 {
		t.Errorf("Peek(999) = %d, want 0", got)
	}
	if got := m.Peek(5000); got != 0 {
		t.Errorf("Peek(5000) = %d, want 0", got)
	}
	if got := m.Peek(-1); got != 0 {
		t.Errorf("Peek(-1) = %d, want 0", got)
	}
}

// TestReadBeforeWritePastEnd tests that an instruction reading past the end
// sees zero until the cell is written.
func TestReadBeforeWritePastEnd(t *testing.T) {
	m := New(MustParse("4,1000,1101,7,8,1000,4,1000,99"))
	runToHalt(t, m)

	out := m.DrainOutputs()
	if !reflect.DeepEqual(out, []int64{0, 15}) {
		t.Errorf("outputs = %v, want [0 15]", out)
	}
	if got := m.MemorySize(); got != 1001 {
		t.Errorf("MemorySize() = %d, want 1001", got)
	}
}

// TestRelativeMode tests relative addressing for reads and writes.
func TestRelativeMode(t *testing.T) {
	m := New(MustParse("109,10,203,0,204,0,99"), 42)
	runToHalt(t, m)

	if got := m.RelativeBase(); got != 10 {
		t.Errorf("RelativeBase() = %d, want 10", got)
	}
	if got := m.Peek(10); got != 42 {
		t.Errorf("Peek(10) = %d, want 42", got)
	}
	if out := m.DrainOutputs(); !reflect.DeepEqual(out, []int64{42}) {
		t.Errorf("outputs = %v, want [42]", out)
	}
}

// TestSuspendResume tests that input starvation suspends without consuming
// or advancing, and that resuming is idempotent until input arrives.
func TestSuspendResume(t *testing.T) {
	m := New(MustParse("3,0,4,0,99"))

	for i := 0; i < 3; i++ {
		status, err := m.Run()
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if status != StatusSuspended {
			t.Fatalf("Run() = %v, want suspended", status)
		}
		if m.Pointer() != 0 {
			t.Errorf("Pointer() = %d, want 0", m.Pointer())
		}
		if m.Steps() != 0 {
			t.Errorf("Steps() = %d, want 0", m.Steps())
		}
	}

	m.PushInput(5)
	if m.Status() != StatusRunnable {
		t.Errorf("Status() after PushInput = %v, want runnable", m.Status())
	}
	runToHalt(t, m)

	if out := m.DrainOutputs(); !reflect.DeepEqual(out, []int64{5}) {
		t.Errorf("outputs = %v, want [5]", out)
	}
}

// TestQuine tests a program that outputs a copy of itself.
func TestQuine(t *testing.T) {
	prog := MustParse("109,1,204,-1,1001,100,1,100,1008,100,16,101,1006,101,0,99")
	m := New(prog)
	runToHalt(t, m)

	if out := m.DrainOutputs(); !reflect.DeepEqual(Program(out), prog) {
		t.Errorf("outputs = %v, want %v", out, prog)
	}
}

// TestLargeNumbers tests full 64-bit arithmetic.
func TestLargeNumbers(t *testing.T) {
	tests := []struct {
		prog string
		want int64
	}{
		{"104,1125899906842624,99", 1125899906842624},
		{"1102,34915192,34915192,7,4,7,99,0", 1219070632396864},
	}

	for _, tt := range tests {
		m := New(MustParse(tt.prog))
		runToHalt(t, m)
		v, ok := m.PopOutput()
		if !ok || v != tt.want {
			t.Errorf("%s: PopOutput() = %d, %v, want %d", tt.prog, v, ok, tt.want)
		}
	}
}

// TestInstanceIndependence tests that machines built from one image share
// no state with each other or the image.
func TestInstanceIndependence(t *testing.T) {
	prog := MustParse("1,0,0,0,99")
	a := New(prog)
	b := New(prog)

	if err := a.Poke(4, 1); err != nil {
		t.Fatalf("Poke() error = %v", err)
	}
	runToHalt(t, b)

	if got := a.Peek(0); got != 1 {
		t.Errorf("a.Peek(0) = %d, want 1", got)
	}
	if got := a.Peek(4); got != 1 {
		t.Errorf("a.Peek(4) = %d, want 1", got)
	}
	if got := b.Peek(0); got != 2 {
		t.Errorf("b.Peek(0) = %d, want 2", got)
	}
	if got := prog.String(); got != "1,0,0,0,99" {
		t.Errorf("image = %s, want unchanged", got)
	}
}

// TestHaltedIsNoop tests that running a halted machine changes nothing.
func TestHaltedIsNoop(t *testing.T) {
	m := New(MustParse("104,1,99"))
	runToHalt(t, m)
	steps := m.Steps()

	status, err := m.Run()
	if status != StatusHalted || err != nil {
		t.Errorf("Run() = %v, %v, want halted, nil", status, err)
	}
	if m.Steps() != steps {
		t.Errorf("Steps() = %d, want %d", m.Steps(), steps)
	}
	if !m.Halted() {
		t.Error("Halted() = false")
	}
}

// TestFaults tests the conditions that fault a machine.
func TestFaults(t *testing.T) {
	tests := []struct {
		name string
		prog string
		opts Options
		want error
	}{
		{"unknown opcode", "42", Options{}, ErrInvalidOpcode},
		{"unknown opcode after work", "1101,1,1,0,77", Options{}, ErrInvalidOpcode},
		{"zero opcode", "0", Options{}, ErrInvalidOpcode},
		{"bad mode", "301,0,0,0,99", Options{}, ErrInvalidMode},
		{"negative write", "1101,1,1,-1,99", Options{}, ErrInvalidAddress},
		{"negative relative write", "109,-5,21101,1,1,0,99", Options{}, ErrInvalidAddress},
		{"negative jump", "1105,1,-4", Options{}, ErrInvalidAddress},
		{"step limit", "1105,1,0", Options{MaxSteps: 10}, ErrStepLimit},
		{"memory limit", "1101,1,1,100,99", Options{MaxMemory: 50}, ErrMemoryLimit},
		{"write at max address", "1101,1,1,9223372036854775807,99", Options{}, ErrInvalidAddress},
		{"write at max address with limit", "1101,1,1,9223372036854775807,99", Options{MaxMemory: 1 << 20}, ErrInvalidAddress},
		{"relative write at max address", "109,9223372036854775806,21101,1,1,1,99", Options{}, ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewWithOptions(MustParse(tt.prog), tt.opts)
			status, err := m.Run()
			if status != StatusFaulted {
				t.Fatalf("Run() = %v, want faulted", status)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Run() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(m.Err(), tt.want) {
				t.Errorf("Err() = %v, want %v", m.Err(), tt.want)
			}

			// A faulted machine keeps reporting the same fault.
			status, again := m.Run()
			if status != StatusFaulted || again != err {
				t.Errorf("second Run() = %v, %v, want faulted, %v", status, again, err)
			}
		})
	}
}

// TestStepLimitCountsInstructions tests that the step budget is exact.
func TestStepLimitCountsInstructions(t *testing.T) {
	m := NewWithOptions(MustParse("1105,1,0"), Options{MaxSteps: 10})
	if _, err := m.Run(); !errors.Is(err, ErrStepLimit) {
		t.Fatalf("Run() error = %v, want ErrStepLimit", err)
	}
	if m.Steps() != 10 {
		t.Errorf("Steps() = %d, want 10", m.Steps())
	}
}

// TestRunFor tests preemption of a program that never reads input.
func TestRunFor(t *testing.T) {
	m := New(MustParse("1105,1,0"))

	status, err := m.RunFor(5)
	if status != StatusRunnable || err != nil {
		t.Errorf("RunFor(5) = %v, %v, want runnable, nil", status, err)
	}
	if m.Steps() != 5 {
		t.Errorf("Steps() = %d, want 5", m.Steps())
	}

	m = New(MustParse("104,3,99"))
	status, err = m.RunFor(100)
	if status != StatusHalted || err != nil {
		t.Errorf("RunFor(100) = %v, %v, want halted, nil", status, err)
	}
}

// TestStep tests single stepping.
func TestStep(t *testing.T) {
	m := New(MustParse("1101,2,3,5,99"))

	status, err := m.Step()
	if status != StatusRunnable || err != nil {
		t.Fatalf("Step() = %v, %v, want runnable, nil", status, err)
	}
	if m.Pointer() != 4 {
		t.Errorf("Pointer() = %d, want 4", m.Pointer())
	}
	if m.Peek(5) != 5 {
		t.Errorf("Peek(5) = %d, want 5", m.Peek(5))
	}

	status, _ = m.Step()
	if status != StatusHalted {
		t.Errorf("Step() = %v, want halted", status)
	}
}

// TestOutputOrder tests that outputs and inputs keep FIFO order.
func TestOutputOrder(t *testing.T) {
	// Reads three inputs and echoes them back.
	m := New(MustParse("3,100,3,101,3,102,4,100,4,101,4,102,99"), 1, 2)
	if status, _ := m.Run(); status != StatusSuspended {
		t.Fatalf("Run() = %v, want suspended", status)
	}
	if m.PendingInputs() != 0 {
		t.Errorf("PendingInputs() = %d, want 0", m.PendingInputs())
	}

	m.PushInput(3)
	runToHalt(t, m)

	if m.PendingOutputs() != 3 {
		t.Errorf("PendingOutputs() = %d, want 3", m.PendingOutputs())
	}
	if out := m.DrainOutputs(); !reflect.DeepEqual(out, []int64{1, 2, 3}) {
		t.Errorf("outputs = %v, want [1 2 3]", out)
	}
	if m.PendingOutputs() != 0 {
		t.Errorf("PendingOutputs() after drain = %d, want 0", m.PendingOutputs())
	}
}

// TestPokeBeforeRun tests patching configuration cells before running.
func TestPokeBeforeRun(t *testing.T) {
	prog := MustParse("1,9,10,3,2,3,11,0,99,30,40,50")
	m := New(prog)
	if err := m.Poke(1, 10); err != nil {
		t.Fatalf("Poke() error = %v", err)
	}
	if err := m.Poke(2, 9); err != nil {
		t.Fatalf("Poke() error = %v", err)
	}
	runToHalt(t, m)

	// mem[3] = 40 + 30 = 70, then mem[0] = 70 * 50.
	if got := m.Peek(0); got != 3500 {
		t.Errorf("Peek(0) = %d, want 3500", got)
	}
	if err := m.Poke(-1, 0); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Poke(-1) error = %v, want ErrInvalidAddress", err)
	}

	size := m.MemorySize()
	for _, addr := range []int64{math.MaxInt64, math.MaxInt64 - 1, math.MaxInt / 8} {
		if err := m.Poke(addr, 1); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("Poke(%d) error = %v, want ErrInvalidAddress", addr, err)
		}
	}
	if m.MemorySize() != size {
		t.Errorf("MemorySize() = %d after rejected pokes, want %d", m.MemorySize(), size)
	}
}

// TestClone tests that a clone evolves independently.
func TestClone(t *testing.T) {
	m := New(MustParse("3,0,4,0,99"))
	if status, _ := m.Run(); status != StatusSuspended {
		t.Fatalf("Run() = %v, want suspended", status)
	}

	c := m.Clone()
	m.PushInput(1)
	c.PushInput(2)
	runToHalt(t, m)
	runToHalt(t, c)

	if out := m.DrainOutputs(); !reflect.DeepEqual(out, []int64{1}) {
		t.Errorf("original outputs = %v, want [1]", out)
	}
	if out := c.DrainOutputs(); !reflect.DeepEqual(out, []int64{2}) {
		t.Errorf("clone outputs = %v, want [2]", out)
	}
}

// TestSnapshotRestore tests resuming a machine from a snapshot.
func TestSnapshotRestore(t *testing.T) {
	m := New(MustParse("104,8,3,0,4,0,99"))
	if status, _ := m.Run(); status != StatusSuspended {
		t.Fatalf("Run() = %v, want suspended", status)
	}

	s := m.Snapshot()
	if s.Pointer != 2 || s.Status != StatusSuspended {
		t.Errorf("snapshot pointer, status = %d, %v, want 2, suspended", s.Pointer, s.Status)
	}
	if !reflect.DeepEqual(s.Outputs, []int64{8}) {
		t.Errorf("snapshot outputs = %v, want [8]", s.Outputs)
	}

	r, err := Restore(s, Options{})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	r.PushInput(6)
	runToHalt(t, r)

	if out := r.DrainOutputs(); !reflect.DeepEqual(out, []int64{8, 6}) {
		t.Errorf("outputs = %v, want [8 6]", out)
	}
	if m.Status() != StatusSuspended {
		t.Errorf("original Status() = %v, want suspended", m.Status())
	}
}

// TestRestoreFaulted tests that a restored faulted machine stays faulted.
func TestRestoreFaulted(t *testing.T) {
	m := New(MustParse("42"))
	m.Run()

	r, err := Restore(m.Snapshot(), Options{})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	status, err := r.Run()
	if status != StatusFaulted || !errors.Is(err, ErrFaulted) {
		t.Errorf("Run() = %v, %v, want faulted, ErrFaulted", status, err)
	}
}

// TestRestoreInvalid tests rejection of impossible snapshots.
func TestRestoreInvalid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		opts  Options
		want  error
	}{
		{"negative pointer", State{Pointer: -1}, Options{}, ErrInvalidState},
		{"unknown status", State{Status: Status(9)}, Options{}, ErrInvalidState},
		{"over memory limit", State{Memory: make([]int64, 10)}, Options{MaxMemory: 5}, ErrMemoryLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Restore(tt.state, tt.opts); !errors.Is(err, tt.want) {
				t.Errorf("Restore() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestStatusText tests the text form of statuses.
func TestStatusText(t *testing.T) {
	for _, s := range []Status{StatusRunnable, StatusSuspended, StatusHalted, StatusFaulted} {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() error = %v", err)
		}
		var got Status
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s) error = %v", text, err)
		}
		if got != s {
			t.Errorf("UnmarshalText(%s) = %v, want %v", text, got, s)
		}
	}

	var s Status
	if err := s.UnmarshalText([]byte("sleeping")); err == nil {
		t.Error("UnmarshalText(sleeping) should fail")
	}
	if !StatusHalted.Terminal() || StatusSuspended.Terminal() {
		t.Error("Terminal() misclassifies statuses")
	}
}
