package app

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profiler keeps the last duration of each named frame phase plus a set of
// integer gauges. Frame-thread only.
type Profiler struct {
	Scopes     map[string]time.Duration
	StartTimes map[string]time.Time
	Counts     map[string]int
	Order      []string

	now func() time.Time
}

func NewProfiler() *Profiler {
	return &Profiler{
		Scopes:     make(map[string]time.Duration),
		StartTimes: make(map[string]time.Time),
		Counts:     make(map[string]int),
		Order:      make([]string, 0, 4),
		now:        time.Now,
	}
}

func (p *Profiler) BeginScope(name string) {
	p.StartTimes[name] = p.now()
	for _, n := range p.Order {
		if n == name {
			return
		}
	}
	p.Order = append(p.Order, name)
}

// EndScope records the time since the matching BeginScope. Unopened scopes
// are ignored.
func (p *Profiler) EndScope(name string) {
	start, ok := p.StartTimes[name]
	if !ok {
		return
	}
	p.Scopes[name] = p.now().Sub(start)
	delete(p.StartTimes, name)
}

// Millis returns the last recorded duration of a scope in milliseconds.
func (p *Profiler) Millis(name string) float64 {
	return float64(p.Scopes[name].Microseconds()) / 1000.0
}

func (p *Profiler) SetCount(name string, count int) {
	p.Counts[name] = count
}

// Reset zeroes the timings but keeps the scope order.
func (p *Profiler) Reset() {
	for k := range p.Scopes {
		p.Scopes[k] = 0
	}
}

func (p *Profiler) GetStatsString() string {
	var sb strings.Builder

	sb.WriteString("Frame (CPU):\n")
	for _, name := range p.Order {
		fmt.Fprintf(&sb, "  %-12s %7.2f ms\n", name, p.Millis(name))
	}

	if len(p.Counts) > 0 {
		sb.WriteString("Counters:\n")
		keys := make([]string, 0, len(p.Counts))
		for k := range p.Counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %-12s %7d\n", k, p.Counts[k])
		}
	}
	return sb.String()
}
