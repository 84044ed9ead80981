// Package sched decides, once per frame, which particle kernels run and keeps
// at most one batch of them outstanding on the device.
package sched

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gekko3d/pulsefield/fieldrt/rt/core"
)

var (
	ErrStaleToken  = errors.New("sched: token does not match the batch in flight")
	ErrNotInFlight = errors.New("sched: no batch in flight")
)

// Kernel identifies one compute program. The string form is its WGSL entry point.
type Kernel uint8

const (
	KernelResetGrid Kernel = iota
	KernelResetPressure
	KernelApplyPressure
	KernelIntegratePressure
	KernelUpdateFull
	KernelUpdateHalf
)

var kernelNames = [...]string{
	KernelResetGrid:         "reset_grid",
	KernelResetPressure:     "reset_pressure",
	KernelApplyPressure:     "apply_pressure",
	KernelIntegratePressure: "integrate_pressure",
	KernelUpdateFull:        "update_full",
	KernelUpdateHalf:        "update_half",
}

// Kernels lists every kernel in submission order.
var Kernels = []Kernel{
	KernelResetGrid,
	KernelResetPressure,
	KernelApplyPressure,
	KernelIntegratePressure,
	KernelUpdateFull,
	KernelUpdateHalf,
}

func (k Kernel) String() string {
	if int(k) < len(kernelNames) {
		return kernelNames[k]
	}
	return fmt.Sprintf("kernel(%d)", uint8(k))
}

// UsesPressure reports whether the kernel binds the pressure buffer.
func (k Kernel) UsesPressure() bool {
	return k == KernelResetPressure || k == KernelApplyPressure || k == KernelIntegratePressure
}

// Threads is the number of invocations the kernel needs for count particles.
func (k Kernel) Threads(count int) int {
	if k == KernelUpdateHalf {
		return (count + 1) / 2
	}
	return count
}

// Stride selects between updating every particle each frame and updating
// alternating halves.
type Stride uint8

const (
	StrideFull Stride = 1
	StrideHalf Stride = 2
)

func (s Stride) String() string {
	if s == StrideHalf {
		return "half"
	}
	return "full"
}

// Frame carries the per-frame time inputs.
type Frame struct {
	DeltaTime float32
	Elapsed   float32
}

// Token is the in-flight guard. It must be handed back through Complete
// before the scheduler accepts another dispatch.
type Token struct {
	id uint64
}

func (t Token) ID() uint64 { return t.id }

// Batch is one ordered submission.
type Batch struct {
	Token   Token
	Kernels []Kernel

	// DeltaTime is the step the advance kernel integrates over; doubled for
	// half stride.
	DeltaTime float32
	Elapsed   float32
	Stride    Stride
	Parity    uint32

	// Event is set when KernelApplyPressure is in the batch.
	Event *core.PressureEvent
}

func (b Batch) Has(k Kernel) bool {
	for _, bk := range b.Kernels {
		if bk == k {
			return true
		}
	}
	return false
}

type Stats struct {
	Scheduled       uint64
	Completed       uint64
	Failed          uint64
	Skipped         uint64
	ImpulsesApplied uint64
	ImpulsesDropped uint64
	InFlight        int
}

// Scheduler owns the intent flags set by external calls. Kernels never touch
// them. Safe for use from the frame thread plus one completion callback
// goroutine.
type Scheduler struct {
	mu sync.Mutex

	needsReset        bool
	needsPressureInit bool
	pending           *core.PressureEvent

	pressureEnabled   bool
	pressureAllocated bool
	stride            Stride
	parity            uint32

	inFlight uint64 // token id, 0 when idle
	nextID   uint64
	failure  error

	stats Stats
}

func New(stride Stride) *Scheduler {
	if stride != StrideHalf {
		stride = StrideFull
	}
	return &Scheduler{stride: stride}
}

// RequestReset schedules a full reinitialization and clears a recorded batch
// failure.
func (s *Scheduler) RequestReset() {
	s.mu.Lock()
	s.needsReset = true
	s.failure = nil
	s.mu.Unlock()
}

// MarkPressureAllocated records that the pressure buffer now exists and
// schedules its first zeroing.
func (s *Scheduler) MarkPressureAllocated() {
	s.mu.Lock()
	if !s.pressureAllocated {
		s.pressureAllocated = true
		s.needsPressureInit = true
	}
	s.mu.Unlock()
}

func (s *Scheduler) SetPressureEnabled(enabled bool) {
	s.mu.Lock()
	s.pressureEnabled = enabled
	s.mu.Unlock()
}

// QueuePressure stores ev as the single pending impulse, replacing any
// earlier one.
func (s *Scheduler) QueuePressure(ev core.PressureEvent) {
	s.mu.Lock()
	s.pending = &ev
	s.mu.Unlock()
}

func (s *Scheduler) SetStride(stride Stride) {
	s.mu.Lock()
	if stride != StrideHalf {
		stride = StrideFull
	}
	s.stride = stride
	s.mu.Unlock()
}

func (s *Scheduler) Stride() Stride {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stride
}

func (s *Scheduler) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight != 0
}

// Failure returns the error of the last failed batch until RequestReset.
func (s *Scheduler) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	if s.inFlight != 0 {
		st.InFlight = 1
	}
	return st
}

// Next builds the batch for this frame. ok is false when a batch is still
// outstanding; the frame is skipped and every flag stays set. A recorded
// failure is returned until RequestReset.
func (s *Scheduler) Next(f Frame) (Batch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return Batch{}, false, s.failure
	}
	if s.inFlight != 0 {
		s.stats.Skipped++
		return Batch{}, false, nil
	}

	b := Batch{
		Kernels:   make([]Kernel, 0, 4),
		DeltaTime: f.DeltaTime,
		Elapsed:   f.Elapsed,
		Stride:    StrideFull,
	}

	resetPressure := false
	if s.needsReset {
		b.Kernels = append(b.Kernels, KernelResetGrid)
		resetPressure = s.pressureAllocated
		s.needsReset = false
	}
	if s.needsPressureInit {
		resetPressure = true
		s.needsPressureInit = false
	}
	if resetPressure {
		b.Kernels = append(b.Kernels, KernelResetPressure)
	}

	pressureActive := s.pressureEnabled && s.pressureAllocated
	if s.pending != nil {
		if pressureActive {
			b.Kernels = append(b.Kernels, KernelApplyPressure)
			b.Event = s.pending
			s.stats.ImpulsesApplied++
		} else {
			s.stats.ImpulsesDropped++
		}
		s.pending = nil
	}

	switch {
	case pressureActive:
		b.Kernels = append(b.Kernels, KernelIntegratePressure)
	case s.stride == StrideHalf:
		b.Kernels = append(b.Kernels, KernelUpdateHalf)
		b.Stride = StrideHalf
		b.Parity = s.parity
		b.DeltaTime = f.DeltaTime * 2
		s.parity ^= 1
	default:
		b.Kernels = append(b.Kernels, KernelUpdateFull)
	}

	s.nextID++
	s.inFlight = s.nextID
	b.Token = Token{id: s.nextID}
	s.stats.Scheduled++
	return b, true, nil
}

// Complete returns the token of the outstanding batch. A non-nil err records
// a failure that suspends scheduling until RequestReset.
func (s *Scheduler) Complete(t Token, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight == 0 {
		return ErrNotInFlight
	}
	if t.id != s.inFlight {
		return fmt.Errorf("%w: got %d, in flight %d", ErrStaleToken, t.id, s.inFlight)
	}
	s.inFlight = 0
	if err != nil {
		s.failure = err
		s.stats.Failed++
		return nil
	}
	s.stats.Completed++
	return nil
}
