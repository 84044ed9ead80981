package gpu

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/pulsefield/fieldrt/rt/core"
	"github.com/gekko3d/pulsefield/fieldrt/rt/shaders"
)

// DepthFormat is the depth attachment format the billboard pipeline expects.
const DepthFormat = wgpu.TextureFormatDepth32Float

// ParticlePass draws one billboard per particle straight from the storage
// buffer. No vertex buffers are bound; the vertex shader indexes both the
// quad corner and the particle.
type ParticlePass struct {
	Pipeline  *wgpu.RenderPipeline
	BindGroup *wgpu.BindGroup
	CameraBuf *wgpu.Buffer
	Device    *wgpu.Device

	drawable core.Drawable
}

func NewParticlePass(device *wgpu.Device, format wgpu.TextureFormat, backend *Backend) (*ParticlePass, error) {
	if device == nil {
		return nil, ErrNoDevice
	}
	if format == wgpu.TextureFormatUndefined {
		return nil, ErrNoFormat
	}
	if backend == nil {
		return nil, ErrNoBackend
	}

	shaderModule, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "ParticleBillboardShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.ParticlesBillboardWGSL},
	})
	if err != nil {
		return nil, err
	}
	defer shaderModule.Release()

	bgl, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "ParticleRenderBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: core.RenderUniformsSize,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageVertex,
				Buffer: wgpu.BufferBindingLayout{
					Type: wgpu.BufferBindingTypeReadOnlyStorage,
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	defer bgl.Release()

	pipelineLayout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, err
	}
	defer pipelineLayout.Release()

	pipeline, err := device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "ParticleBillboardPipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     shaderModule,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     shaderModule,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    format,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		DepthStencil: depthStencilState(),
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, err
	}

	p := &ParticlePass{
		Pipeline: pipeline,
		Device:   device,
		drawable: backend.Drawable(),
	}
	p.CameraBuf, err = device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ParticleCameraBuf",
		Size:  core.RenderUniformsSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		p.Release()
		return nil, err
	}
	p.BindGroup, err = device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "ParticleRenderBG",
		Layout: pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: p.CameraBuf, Size: core.RenderUniformsSize},
			{Binding: 1, Buffer: backend.ParticleBuffer(), Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

// Quads overlap in screen space in grid order, so nearer particles must win
// the depth test.
func depthStencilState() *wgpu.DepthStencilState {
	return &wgpu.DepthStencilState{
		Format:            DepthFormat,
		DepthWriteEnabled: true,
		DepthCompare:      wgpu.CompareFunctionLess,
		StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
	}
}

// DepthTarget is the depth texture matching the surface size.
type DepthTarget struct {
	Texture *wgpu.Texture
	View    *wgpu.TextureView
}

func NewDepthTarget(device *wgpu.Device, width, height uint32) (*DepthTarget, error) {
	if device == nil {
		return nil, ErrNoDevice
	}
	d := &DepthTarget{}
	if err := d.Resize(device, width, height); err != nil {
		return nil, err
	}
	return d, nil
}

// Resize recreates the texture. Zero sizes keep the current one.
func (d *DepthTarget) Resize(device *wgpu.Device, width, height uint32) error {
	if width == 0 || height == 0 {
		return nil
	}
	tex, err := device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "ParticleDepth",
		Size:          wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        DepthFormat,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return err
	}
	d.Release()
	d.Texture, d.View = tex, view
	return nil
}

// Attachment clears depth to the far plane each frame.
func (d *DepthTarget) Attachment() *wgpu.RenderPassDepthStencilAttachment {
	if d == nil || d.View == nil {
		return nil
	}
	return depthAttachment(d.View)
}

func depthAttachment(view *wgpu.TextureView) *wgpu.RenderPassDepthStencilAttachment {
	return &wgpu.RenderPassDepthStencilAttachment{
		View:            view,
		DepthLoadOp:     wgpu.LoadOpClear,
		DepthStoreOp:    wgpu.StoreOpStore,
		DepthClearValue: 1,
	}
}

func (d *DepthTarget) Release() {
	if d.View != nil {
		d.View.Release()
		d.View = nil
	}
	if d.Texture != nil {
		d.Texture.Release()
		d.Texture = nil
	}
}

// Update uploads the camera and colormap uniforms.
func (p *ParticlePass) Update(queue *wgpu.Queue, u core.RenderUniforms) {
	queue.WriteBuffer(p.CameraBuf, 0, u.Bytes())
}

func (p *ParticlePass) Draw(pass *wgpu.RenderPassEncoder) {
	pass.SetPipeline(p.Pipeline)
	pass.SetBindGroup(0, p.BindGroup, nil)
	pass.Draw(p.drawable.VerticesPerInstance(), p.drawable.InstanceCount(), 0, 0)
}

func (p *ParticlePass) Release() {
	if p.BindGroup != nil {
		p.BindGroup.Release()
	}
	if p.CameraBuf != nil {
		p.CameraBuf.Release()
	}
	if p.Pipeline != nil {
		p.Pipeline.Release()
	}
}
