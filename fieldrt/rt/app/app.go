package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/gekko3d/pulsefield"
	"github.com/gekko3d/pulsefield/fieldrt/rt/core"
	"github.com/gekko3d/pulsefield/fieldrt/rt/engine"
	"github.com/gekko3d/pulsefield/fieldrt/rt/gpu"
	"github.com/gekko3d/pulsefield/fieldrt/rt/sched"
	"github.com/gekko3d/pulsefield/fieldrt/rt/show"
)

// App owns the window surface, the device and one particle engine drawn with
// the billboard pass.
type App struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	Cfg    pulsefield.Config
	Log    pulsefield.Logger
	Camera *core.CameraState
	Render core.RenderParams
	Clock  *pulsefield.Clock

	Backend  *gpu.Backend
	Engine   *engine.Engine
	Pass     *gpu.ParticlePass
	Depth    *gpu.DepthTarget
	Controls *Controls

	Profiler  *Profiler
	Telemetry *Recorder
	Bridge    *show.Bridge

	ClearColor wgpu.Color

	FrameCount int
	FPS        float64
	FPSTime    float64
	lastRender float64
	lastStats  time.Time
}

func NewApp(window *glfw.Window, cfg pulsefield.Config, log pulsefield.Logger) *App {
	cam := core.NewCameraState()
	cfg.Camera.Apply(cam)
	return &App{
		Window:     window,
		Cfg:        cfg,
		Log:        pulsefield.OrNop(log),
		Camera:     cam,
		Render:     cfg.Render,
		Profiler:   NewProfiler(),
		ClearColor: wgpu.Color{R: 0.01, G: 0.01, B: 0.02, A: 1},
	}
}

func (a *App) Init() error {
	a.Instance = wgpu.CreateInstance(nil)
	a.Surface = a.Instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(a.Window))

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return fmt.Errorf("requesting adapter: %w", err)
	}
	a.Adapter = adapter

	a.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("requesting device: %w", err)
	}
	a.Queue = a.Device.GetQueue()

	width, height := a.Window.GetFramebufferSize()
	caps := a.Surface.GetCapabilities(adapter)
	if len(caps.Formats) == 0 || len(caps.AlphaModes) == 0 {
		return gpu.ErrNoFormat
	}
	a.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	a.Surface.Configure(adapter, a.Device, a.Config)
	a.Depth, err = gpu.NewDepthTarget(a.Device, a.Config.Width, a.Config.Height)
	if err != nil {
		return fmt.Errorf("creating depth target: %w", err)
	}

	a.Backend, err = gpu.NewBackend(a.Device, a.Cfg.Grid, a.Log)
	if err != nil {
		return err
	}

	stride := sched.StrideFull
	if a.Cfg.Schedule.HalfStride {
		stride = sched.StrideHalf
	}
	a.Engine, err = engine.New(engine.Options{
		Grid:     a.Cfg.Grid,
		Field:    a.Cfg.Field,
		Pressure: a.Cfg.Pressure,
		Stride:   stride,
		Flow:     a.Cfg.Schedule.Flow,
		Logger:   a.Log,
		OnFailure: func(err error) {
			a.Log.Errorf("particle batch failed, press R to reset: %v", err)
		},
	}, a.Backend)
	if err != nil {
		a.Backend.Release()
		return err
	}
	if a.Cfg.Schedule.PressureMode {
		if err := a.Engine.SetPressureModeEnabled(true); err != nil {
			return err
		}
	}
	a.Controls = NewControls(a.Engine, time.Now().UnixNano(), a.Log)

	a.Pass, err = gpu.NewParticlePass(a.Device, a.Config.Format, a.Backend)
	if err != nil {
		return err
	}

	a.Clock = pulsefield.NewClock(time.Now())
	a.Clock.MaxDt = a.Cfg.Schedule.MaxFrameStep
	a.Telemetry, err = NewRecorder(a.Cfg.Telemetry.Path, a.Cfg.Telemetry.Window)
	if err != nil {
		return err
	}
	a.lastRender = glfw.GetTime()
	a.lastStats = time.Now()
	return nil
}

// Serve starts the show-control bridge when a listen address is configured.
// It returns immediately; the bridge stops with ctx.
func (a *App) Serve(ctx context.Context) {
	if a.Cfg.Show.Listen == "" {
		return
	}
	a.Bridge = show.NewBridge(a.Cfg.Show.QueueDepth, a.Log)
	go func() {
		if err := a.Bridge.ListenAndServe(ctx, a.Cfg.Show.Listen, a.Cfg.Show.Path); err != nil {
			a.Log.Errorf("%v", err)
		}
	}()
}

func (a *App) Resize(w, h int) {
	if w > 0 && h > 0 {
		a.Config.Width = uint32(w)
		a.Config.Height = uint32(h)
		a.Surface.Configure(a.Adapter, a.Device, a.Config)
		if err := a.Depth.Resize(a.Device, a.Config.Width, a.Config.Height); err != nil {
			a.Log.Errorf("resizing depth target: %v", err)
		}
	}
}

func (a *App) HandleKey(key glfw.Key) {
	a.Controls.HandleKey(key)
	if a.Controls.Quit {
		a.Window.SetShouldClose(true)
	}
}

// Update drains show commands and advances the engine one frame.
func (a *App) Update() {
	a.Clock.Tick(time.Now())
	dt, elapsed := a.Clock.Seconds()

	a.Profiler.BeginScope("poll")
	a.Backend.Poll()
	a.Profiler.EndScope("poll")

	a.Profiler.BeginScope("update")
	a.Bridge.Drain(a.Controls)
	if err := a.Engine.Update(dt, elapsed); err != nil {
		a.Log.Warnf("update: %v", err)
	}
	a.Camera.Advance(dt)
	a.Profiler.EndScope("update")
}

func (a *App) Render() {
	a.Profiler.BeginScope("render")
	ok := a.draw()
	a.Profiler.EndScope("render")
	if ok {
		a.frameDone()
	}
}

func (a *App) draw() bool {
	nextTexture, err := a.Surface.GetCurrentTexture()
	if err != nil {
		a.Log.Errorf("GetCurrentTexture failed: %v", err)
		return false
	}
	defer nextTexture.Release()

	view, err := nextTexture.CreateView(nil)
	if err != nil {
		a.Log.Errorf("CreateView failed: %v", err)
		return false
	}
	defer view.Release()

	aspect := float32(a.Config.Width) / float32(max(a.Config.Height, 1))
	a.Pass.Update(a.Queue, core.NewRenderUniforms(a.Render, a.Camera, aspect))

	encoder, err := a.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "Particle Render"})
	if err != nil {
		a.Log.Errorf("CreateCommandEncoder failed: %v", err)
		return false
	}

	rPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: a.ClearColor,
		}},
		DepthStencilAttachment: a.Depth.Attachment(),
	})
	a.Pass.Draw(rPass)
	if err := rPass.End(); err != nil {
		a.Log.Errorf("render pass End failed: %v", err)
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		a.Log.Errorf("encoder Finish failed: %v", err)
		return false
	}
	a.Queue.Submit(cmd)
	a.Surface.Present()
	return true
}

func (a *App) frameDone() {
	now := glfw.GetTime()
	a.FrameCount++
	a.FPSTime += now - a.lastRender
	a.lastRender = now
	if a.FPSTime >= 1.0 {
		a.FPS = float64(a.FrameCount) / a.FPSTime
		a.FrameCount = 0
		a.FPSTime = 0
	}

	st := a.Engine.Stats()
	a.Profiler.SetCount("particles", st.Particles)
	a.Profiler.SetCount("skipped", int(st.Skipped))
	a.Profiler.SetCount("impulses", int(st.ImpulsesApplied))

	if err := a.Telemetry.Record(FrameSample{
		Frame:     a.Clock.Frame,
		ElapsedS:  a.Clock.Elapsed.Seconds(),
		DtMs:      float64(a.Clock.Dt.Microseconds()) / 1000,
		UpdateMs:  a.Profiler.Millis("update"),
		RenderMs:  a.Profiler.Millis("render"),
		Scheduled: st.Scheduled,
		Skipped:   st.Skipped,
		InFlight:  st.InFlight,
		Stride:    a.Engine.UpdateStride().String(),
		Pressure:  st.PressureEnabled,
	}); err != nil {
		a.Log.Warnf("telemetry disabled: %v", err)
		a.Telemetry.Close()
		a.Telemetry = nil
	}

	if a.Log.DebugEnabled() && time.Since(a.lastStats) >= 5*time.Second {
		a.lastStats = time.Now()
		a.Log.Debugf("%.1f fps\n%s", a.FPS, a.Profiler.GetStatsString())
		if a.Telemetry != nil {
			a.Log.Debugf("%s", a.Telemetry.Summary())
		}
	}
}

func (a *App) Close() {
	if a.Telemetry != nil {
		if s := a.Telemetry.Summary(); s.Frames > 0 {
			a.Log.Infof("frames: %s", s)
		}
		if err := a.Telemetry.Close(); err != nil {
			a.Log.Warnf("closing telemetry: %v", err)
		}
	}
	if a.Bridge != nil {
		a.Bridge.Close()
	}
	if a.Pass != nil {
		a.Pass.Release()
	}
	if a.Depth != nil {
		a.Depth.Release()
	}
	if a.Engine != nil {
		a.Engine.Close()
	}
	if a.Device != nil {
		a.Device.Release()
	}
	if a.Surface != nil {
		a.Surface.Release()
	}
	if a.Adapter != nil {
		a.Adapter.Release()
	}
	if a.Instance != nil {
		a.Instance.Release()
	}
}
