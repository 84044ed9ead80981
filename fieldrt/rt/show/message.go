// Package show accepts live show-control messages over websocket and hands
// them to the frame thread as engine commands.
package show

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/pulsefield/fieldrt/rt/core"
	"github.com/gekko3d/pulsefield/fieldrt/rt/sched"
)

var (
	ErrUnknownType = errors.New("show: unknown message type")
	ErrBadMessage  = errors.New("show: malformed message")
)

const (
	TypePressure     = "pressure"
	TypeReset        = "reset"
	TypePressureMode = "pressure_mode"
	TypeTuning       = "tuning"
	TypeStride       = "stride"
	TypeFlow         = "flow"
	TypePhase        = "phase"

	typeAck   = "ack"
	typeError = "error"
)

// Message is the JSON envelope. Which fields matter depends on Type.
type Message struct {
	Type string `json:"type"`

	Dir      []float32 `json:"dir,omitempty"`
	Strength *float32  `json:"strength,omitempty"`
	Radius   *float32  `json:"radius,omitempty"`

	Enabled *bool `json:"enabled,omitempty"`
	Half    *bool `json:"half,omitempty"`

	VelMax           *float32 `json:"vel_max,omitempty"`
	VelDamping       *float32 `json:"vel_damping,omitempty"`
	OffsetMax        *float32 `json:"offset_max,omitempty"`
	HeatGain         *float32 `json:"heat_gain,omitempty"`
	FalloffPower     *float32 `json:"falloff_power,omitempty"`
	TextureFrequency *float32 `json:"texture_frequency,omitempty"`
	TextureMix       *float32 `json:"texture_mix,omitempty"`
	OffsetDecay      *float32 `json:"offset_decay,omitempty"`

	Bar   *int     `json:"bar,omitempty"`
	Tick  *int     `json:"tick,omitempty"`
	Phase *float32 `json:"phase,omitempty"`
}

// Reply is sent back for every message received.
type Reply struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Ref     string `json:"ref,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Target is what commands act on. *engine.Engine satisfies it.
type Target interface {
	ApplyPressure(direction mgl32.Vec3, strength, angularRadius float32)
	Reset()
	SetPressureModeEnabled(enabled bool) error
	SetPressureTuning(t core.PressureTuning)
	PressureTuning() core.PressureTuning
	SetUpdateStride(s sched.Stride)
	SetFlowEnabled(enabled bool)
}

// PhaseSink receives musical timing. Targets that do not implement it ignore
// phase messages.
type PhaseSink interface {
	OnPhase(bar, tick int, phase float32)
}

// Command is a decoded message ready to run on the frame thread.
type Command struct {
	Type  string
	apply func(Target) error
}

func (c Command) Apply(t Target) error {
	if c.apply == nil {
		return nil
	}
	return c.apply(t)
}

// Decode validates m and turns it into a Command. Nothing is applied.
func Decode(m Message) (Command, error) {
	switch m.Type {
	case TypePressure:
		return decodePressure(m)

	case TypeReset:
		return Command{Type: m.Type, apply: func(t Target) error {
			t.Reset()
			return nil
		}}, nil

	case TypePressureMode:
		if m.Enabled == nil {
			return Command{}, fmt.Errorf("%w: pressure_mode needs enabled", ErrBadMessage)
		}
		on := *m.Enabled
		return Command{Type: m.Type, apply: func(t Target) error {
			return t.SetPressureModeEnabled(on)
		}}, nil

	case TypeTuning:
		return decodeTuning(m)

	case TypeStride:
		if m.Half == nil {
			return Command{}, fmt.Errorf("%w: stride needs half", ErrBadMessage)
		}
		s := sched.StrideFull
		if *m.Half {
			s = sched.StrideHalf
		}
		return Command{Type: m.Type, apply: func(t Target) error {
			t.SetUpdateStride(s)
			return nil
		}}, nil

	case TypeFlow:
		if m.Enabled == nil {
			return Command{}, fmt.Errorf("%w: flow needs enabled", ErrBadMessage)
		}
		on := *m.Enabled
		return Command{Type: m.Type, apply: func(t Target) error {
			t.SetFlowEnabled(on)
			return nil
		}}, nil

	case TypePhase:
		return decodePhase(m)
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
}

func decodePressure(m Message) (Command, error) {
	if len(m.Dir) != 3 || m.Strength == nil || m.Radius == nil {
		return Command{}, fmt.Errorf("%w: pressure needs dir[3], strength and radius", ErrBadMessage)
	}
	dir := mgl32.Vec3{m.Dir[0], m.Dir[1], m.Dir[2]}
	strength, radius := *m.Strength, *m.Radius
	for _, v := range [...]float32{dir[0], dir[1], dir[2], strength, radius} {
		if !finite(v) {
			return Command{}, fmt.Errorf("%w: pressure values must be finite", ErrBadMessage)
		}
	}
	if dir.Len() < 1e-6 {
		return Command{}, fmt.Errorf("%w: pressure dir is zero", ErrBadMessage)
	}
	return Command{Type: m.Type, apply: func(t Target) error {
		t.ApplyPressure(dir, strength, radius)
		return nil
	}}, nil
}

func decodeTuning(m Message) (Command, error) {
	fields := []struct {
		v   *float32
		set func(*core.PressureTuning, float32)
	}{
		{m.VelMax, func(p *core.PressureTuning, v float32) { p.VelMax = v }},
		{m.VelDamping, func(p *core.PressureTuning, v float32) { p.VelDamping = v }},
		{m.OffsetMax, func(p *core.PressureTuning, v float32) { p.OffsetMax = v }},
		{m.HeatGain, func(p *core.PressureTuning, v float32) { p.HeatGain = v }},
		{m.FalloffPower, func(p *core.PressureTuning, v float32) { p.FalloffPower = v }},
		{m.TextureFrequency, func(p *core.PressureTuning, v float32) { p.TextureFrequency = v }},
		{m.TextureMix, func(p *core.PressureTuning, v float32) { p.TextureMix = v }},
		{m.OffsetDecay, func(p *core.PressureTuning, v float32) { p.OffsetDecay = v }},
	}

	n := 0
	for _, f := range fields {
		if f.v == nil {
			continue
		}
		if !finite(*f.v) {
			return Command{}, fmt.Errorf("%w: tuning values must be finite", ErrBadMessage)
		}
		n++
	}
	if n == 0 {
		return Command{}, fmt.Errorf("%w: tuning sets no field", ErrBadMessage)
	}

	return Command{Type: m.Type, apply: func(t Target) error {
		tuning := t.PressureTuning()
		for _, f := range fields {
			if f.v != nil {
				f.set(&tuning, *f.v)
			}
		}
		t.SetPressureTuning(tuning)
		return nil
	}}, nil
}

func decodePhase(m Message) (Command, error) {
	if m.Bar == nil || m.Tick == nil || m.Phase == nil {
		return Command{}, fmt.Errorf("%w: phase needs bar, tick and phase", ErrBadMessage)
	}
	bar, tick, phase := *m.Bar, *m.Tick, *m.Phase
	if bar < 0 || tick < 0 || !finite(phase) || phase < 0 || phase >= 1 {
		return Command{}, fmt.Errorf("%w: phase out of range", ErrBadMessage)
	}
	return Command{Type: m.Type, apply: func(t Target) error {
		if sink, ok := t.(PhaseSink); ok {
			sink.OnPhase(bar, tick, phase)
		}
		return nil
	}}, nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
