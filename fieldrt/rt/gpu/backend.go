package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/pulsefield"
	"github.com/gekko3d/pulsefield/fieldrt/rt/core"
	"github.com/gekko3d/pulsefield/fieldrt/rt/sched"
	"github.com/gekko3d/pulsefield/fieldrt/rt/shaders"
)

const (
	WorkgroupSize = 64
	// maxWorkgroups is the WebGPU default limit per dispatch dimension.
	maxWorkgroups = 65535
)

var (
	ErrNoDevice          = errors.New("gpu: no device")
	ErrNoFormat          = errors.New("gpu: no surface format")
	ErrNoBackend         = errors.New("gpu: no particle backend")
	ErrTooLarge          = errors.New("gpu: population exceeds one dispatch")
	ErrReleased          = errors.New("gpu: backend released")
	ErrPressureUnmapped  = errors.New("gpu: pressure kernel without pressure buffer")
	ErrPressureAllocated = errors.New("gpu: pressure buffer already allocated")
	ErrWorkDone          = errors.New("gpu: submitted work did not complete")
)

// Workgroups is the dispatch size for n invocations.
func Workgroups(n int) uint32 {
	return uint32((n + WorkgroupSize - 1) / WorkgroupSize)
}

// Backend keeps the particle population in device storage buffers and runs
// each batch as one compute pass.
type Backend struct {
	Device *wgpu.Device
	queue  *wgpu.Queue
	log    pulsefield.Logger

	grid  core.Grid
	count int

	ParamsBuf   *wgpu.Buffer
	ParticleBuf *wgpu.Buffer
	PressureBuf *wgpu.Buffer

	particleStaging *wgpu.Buffer
	pressureStaging *wgpu.Buffer

	layout0    *wgpu.BindGroupLayout
	layout1    *wgpu.BindGroupLayout
	BindGroup0 *wgpu.BindGroup
	BindGroup1 *wgpu.BindGroup
	pipelines  map[sched.Kernel]*wgpu.ComputePipeline

	readMu   sync.Mutex
	released bool
}

// NewBackend allocates the uniform and particle buffers and builds one
// pipeline per kernel. The particle buffer is left for the reset kernel to fill.
func NewBackend(device *wgpu.Device, grid core.Grid, log pulsefield.Logger) (*Backend, error) {
	if device == nil {
		return nil, ErrNoDevice
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if Workgroups(grid.Count()) > maxWorkgroups {
		return nil, fmt.Errorf("%w: %d particles", ErrTooLarge, grid.Count())
	}

	b := &Backend{
		Device:    device,
		queue:     device.GetQueue(),
		log:       pulsefield.OrNop(log).Named("gpu"),
		grid:      grid,
		count:     grid.Count(),
		pipelines: make(map[sched.Kernel]*wgpu.ComputePipeline, len(sched.Kernels)),
	}
	if err := b.init(); err != nil {
		b.Release()
		return nil, err
	}
	b.log.Infof("%d particles, %d KiB particle buffer", b.count, b.count*core.ParticleStride/1024)
	return b, nil
}

func (b *Backend) init() error {
	particleBytes := uint64(b.count * core.ParticleStride)
	if err := b.ensureBuffer("SimParamsBuf", &b.ParamsBuf, core.SimParamsSize, wgpu.BufferUsageUniform); err != nil {
		return err
	}
	if err := b.ensureBuffer("ParticleBuf", &b.ParticleBuf, particleBytes, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc); err != nil {
		return err
	}

	var err error
	b.layout0, err = b.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ParticleBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: core.SimParamsSize,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type: wgpu.BufferBindingTypeStorage,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: particle bind group layout: %w", err)
	}
	b.layout1, err = b.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "PressureBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type: wgpu.BufferBindingTypeStorage,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: pressure bind group layout: %w", err)
	}

	b.BindGroup0, err = b.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "ParticleBG",
		Layout: b.layout0,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.ParamsBuf, Size: core.SimParamsSize},
			{Binding: 1, Buffer: b.ParticleBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: particle bind group: %w", err)
	}

	return b.createPipelines()
}

func (b *Backend) createPipelines() error {
	module, err := b.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "ParticlesCompute",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.ParticlesComputeWGSL},
	})
	if err != nil {
		return fmt.Errorf("gpu: compute shader module: %w", err)
	}
	defer module.Release()

	particleOnly, err := b.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "ParticleKernelLayout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{b.layout0},
	})
	if err != nil {
		return err
	}
	defer particleOnly.Release()
	withPressure, err := b.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "PressureKernelLayout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{b.layout0, b.layout1},
	})
	if err != nil {
		return err
	}
	defer withPressure.Release()

	for _, k := range sched.Kernels {
		layout := particleOnly
		if k.UsesPressure() {
			layout = withPressure
		}
		p, err := b.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:  "Kernel_" + k.String(),
			Layout: layout,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     module,
				EntryPoint: k.String(),
			},
		})
		if err != nil {
			return fmt.Errorf("gpu: pipeline %s: %w", k, err)
		}
		b.pipelines[k] = p
	}
	return nil
}

func (b *Backend) ensureBuffer(name string, buf **wgpu.Buffer, size uint64, usage wgpu.BufferUsage) error {
	if size%4 != 0 {
		size += 4 - size%4
	}
	current := *buf
	if current != nil && current.GetSize() >= size {
		return nil
	}
	if current != nil {
		current.Release()
	}
	nb, err := b.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: name,
		Size:  size,
		Usage: usage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create %s: %w", name, err)
	}
	*buf = nb
	return nil
}

func (b *Backend) Name() string { return "webgpu" }

func (b *Backend) Count() int { return b.count }

// AllocatePressure creates the pressure buffer and its bind group. Zeroing is
// left to the reset_pressure kernel.
func (b *Backend) AllocatePressure() error {
	if b.released {
		return ErrReleased
	}
	if b.PressureBuf != nil {
		return ErrPressureAllocated
	}
	size := uint64(b.count * core.PressureCellStride)
	if err := b.ensureBuffer("PressureBuf", &b.PressureBuf, size, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc); err != nil {
		return err
	}
	bg, err := b.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "PressureBG",
		Layout:  b.layout1,
		Entries: []wgpu.BindGroupEntry{{Binding: 0, Buffer: b.PressureBuf, Size: wgpu.WholeSize}},
	})
	if err != nil {
		b.PressureBuf.Release()
		b.PressureBuf = nil
		return fmt.Errorf("gpu: pressure bind group: %w", err)
	}
	b.BindGroup1 = bg
	return nil
}

// WriteParams queues the uniform upload. Queue order puts it after every
// batch already submitted.
func (b *Backend) WriteParams(p core.SimParams) {
	if b.released {
		return
	}
	b.queue.WriteBuffer(b.ParamsBuf, 0, p.Bytes())
}

// Submit records the batch into one compute pass and submits it. done runs
// from Poll once the queue reports the work finished.
func (b *Backend) Submit(batch sched.Batch, done func(error)) error {
	if b.released {
		return ErrReleased
	}
	for _, k := range batch.Kernels {
		if k.UsesPressure() && b.BindGroup1 == nil {
			return fmt.Errorf("%w: %s", ErrPressureUnmapped, k)
		}
	}

	encoder, err := b.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "ParticleBatch"})
	if err != nil {
		return err
	}
	defer encoder.Release()

	pass := encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "ParticleKernels"})
	for _, k := range batch.Kernels {
		pass.SetPipeline(b.pipelines[k])
		pass.SetBindGroup(0, b.BindGroup0, nil)
		if k.UsesPressure() {
			pass.SetBindGroup(1, b.BindGroup1, nil)
		}
		pass.DispatchWorkgroups(Workgroups(k.Threads(b.count)), 1, 1)
	}
	pass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	defer cmd.Release()

	b.queue.Submit(cmd)
	b.queue.OnSubmittedWorkDone(func(status wgpu.QueueWorkDoneStatus) {
		if status != wgpu.QueueWorkDoneStatusSuccess {
			done(fmt.Errorf("%w: status %v", ErrWorkDone, status))
			return
		}
		done(nil)
	})
	return nil
}

// Poll lets the device deliver completion callbacks without waiting.
func (b *Backend) Poll() {
	if b.released {
		return
	}
	b.Device.Poll(false, nil)
}

// ParticleBuffer is bound read-only by the billboard pass.
func (b *Backend) ParticleBuffer() *wgpu.Buffer { return b.ParticleBuf }

func (b *Backend) Drawable() core.Drawable { return drawable{count: uint32(b.count)} }

// Snapshot copies both buffers to staging memory and maps them.
func (b *Backend) Snapshot(ctx context.Context) (core.Snapshot, error) {
	if b.released {
		return core.Snapshot{}, ErrReleased
	}
	b.readMu.Lock()
	defer b.readMu.Unlock()

	particleBytes := uint64(b.count * core.ParticleStride)
	if err := b.ensureStaging("ParticleStaging", &b.particleStaging, particleBytes); err != nil {
		return core.Snapshot{}, err
	}
	pressureBytes := uint64(b.count * core.PressureCellStride)
	if b.PressureBuf != nil {
		if err := b.ensureStaging("PressureStaging", &b.pressureStaging, pressureBytes); err != nil {
			return core.Snapshot{}, err
		}
	}

	encoder, err := b.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "ParticleReadback"})
	if err != nil {
		return core.Snapshot{}, err
	}
	encoder.CopyBufferToBuffer(b.ParticleBuf, 0, b.particleStaging, 0, particleBytes)
	if b.PressureBuf != nil {
		encoder.CopyBufferToBuffer(b.PressureBuf, 0, b.pressureStaging, 0, pressureBytes)
	}
	cmd, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return core.Snapshot{}, err
	}
	b.queue.Submit(cmd)
	cmd.Release()

	var snap core.Snapshot
	data, err := b.mapRead(ctx, b.particleStaging, particleBytes)
	if err != nil {
		return core.Snapshot{}, err
	}
	if snap.Particles, err = core.DecodeParticles(data, b.count); err != nil {
		return core.Snapshot{}, err
	}
	if b.PressureBuf != nil {
		data, err = b.mapRead(ctx, b.pressureStaging, pressureBytes)
		if err != nil {
			return core.Snapshot{}, err
		}
		if snap.Pressure, err = core.DecodePressure(data, b.count); err != nil {
			return core.Snapshot{}, err
		}
	}
	return snap, nil
}

func (b *Backend) ensureStaging(name string, buf **wgpu.Buffer, size uint64) error {
	if *buf != nil && (*buf).GetSize() >= size {
		return nil
	}
	if *buf != nil {
		(*buf).Release()
	}
	nb, err := b.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: name,
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return fmt.Errorf("gpu: create %s: %w", name, err)
	}
	*buf = nb
	return nil
}

// Release frees every device object. The device itself belongs to the caller.
func (b *Backend) Release() {
	if b.released {
		return
	}
	b.released = true
	for _, p := range b.pipelines {
		p.Release()
	}
	for _, bg := range []*wgpu.BindGroup{b.BindGroup0, b.BindGroup1} {
		if bg != nil {
			bg.Release()
		}
	}
	for _, l := range []*wgpu.BindGroupLayout{b.layout0, b.layout1} {
		if l != nil {
			l.Release()
		}
	}
	for _, buf := range []*wgpu.Buffer{b.ParamsBuf, b.ParticleBuf, b.PressureBuf, b.particleStaging, b.pressureStaging} {
		if buf != nil {
			buf.Release()
		}
	}
}

type drawable struct{ count uint32 }

func (d drawable) InstanceCount() uint32       { return d.count }
func (d drawable) VerticesPerInstance() uint32 { return core.VerticesPerBillboard }
