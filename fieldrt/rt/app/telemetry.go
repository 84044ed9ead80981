package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/stat"
)

// FrameSample is one row of the per-frame telemetry CSV.
type FrameSample struct {
	Frame     uint64  `csv:"frame"`
	ElapsedS  float64 `csv:"elapsed_s"`
	DtMs      float64 `csv:"dt_ms"`
	UpdateMs  float64 `csv:"update_ms"`
	RenderMs  float64 `csv:"render_ms"`
	Scheduled uint64  `csv:"scheduled"`
	Skipped   uint64  `csv:"skipped"`
	InFlight  int     `csv:"in_flight"`
	Stride    string  `csv:"stride"`
	Pressure  bool    `csv:"pressure"`
	Skip      bool    `csv:"-"`
}

// Summary describes frame times over the recorder's rolling window.
type Summary struct {
	Frames    int
	MeanMs    float64
	StdDevMs  float64
	P95Ms     float64
	SkipRatio float64
}

func (s Summary) String() string {
	return fmt.Sprintf("frames=%d mean=%.2fms sd=%.2fms p95=%.2fms skipped=%.1f%%",
		s.Frames, s.MeanMs, s.StdDevMs, s.P95Ms, s.SkipRatio*100)
}

// Recorder appends FrameSamples to a CSV stream and keeps the last window of
// frame times for Summary. A nil *Recorder is valid and records nothing.
type Recorder struct {
	w             io.Writer
	closer        io.Closer
	headerWritten bool

	window   int
	dts      []float64
	skips    []bool
	next     int
	filled   int
	sortBuf  []float64
	lastSkip uint64
}

// NewRecorder creates the CSV at path. An empty path disables telemetry and
// returns nil.
func NewRecorder(path string, window int) (*Recorder, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating telemetry directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	r := NewRecorderTo(f, window)
	r.closer = f
	return r, nil
}

// NewRecorderTo writes to w; the caller owns w.
func NewRecorderTo(w io.Writer, window int) *Recorder {
	if window < 1 {
		window = 600
	}
	return &Recorder{
		w:      w,
		window: window,
		dts:    make([]float64, window),
		skips:  make([]bool, window),
	}
}

// Record writes one sample. Skip is derived from the change in the skipped
// counter since the previous sample.
func (r *Recorder) Record(s FrameSample) error {
	if r == nil {
		return nil
	}
	s.Skip = s.Skipped > r.lastSkip
	r.lastSkip = s.Skipped

	r.dts[r.next] = s.DtMs
	r.skips[r.next] = s.Skip
	r.next = (r.next + 1) % r.window
	if r.filled < r.window {
		r.filled++
	}

	records := []FrameSample{s}
	if !r.headerWritten {
		if err := gocsv.Marshal(records, r.w); err != nil {
			return fmt.Errorf("writing telemetry: %w", err)
		}
		r.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, r.w); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

func (r *Recorder) Summary() Summary {
	if r == nil || r.filled == 0 {
		return Summary{}
	}
	r.sortBuf = append(r.sortBuf[:0], r.dts[:r.filled]...)
	sort.Float64s(r.sortBuf)

	skipped := 0
	for _, sk := range r.skips[:r.filled] {
		if sk {
			skipped++
		}
	}

	sum := Summary{
		Frames:    r.filled,
		MeanMs:    stat.Mean(r.sortBuf, nil),
		P95Ms:     stat.Quantile(0.95, stat.Empirical, r.sortBuf, nil),
		SkipRatio: float64(skipped) / float64(r.filled),
	}
	if r.filled > 1 {
		sum.StdDevMs = stat.StdDev(r.sortBuf, nil)
	}
	return sum
}

func (r *Recorder) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
