package main

import (
	"context"
	"flag"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/gekko3d/pulsefield"
	"github.com/gekko3d/pulsefield/fieldrt/rt/app"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "YAML config overlaid on the built-in defaults")
	debug := flag.Bool("debug", false, "Enable debug logging and periodic frame stats")
	listen := flag.String("listen", "", "Serve show control on this address, e.g. :9420")
	perfCSV := flag.String("perf-csv", "", "Write per-frame telemetry to this CSV file")
	flag.Parse()

	cfg := pulsefield.MustLoad(*configPath)
	if *debug {
		cfg.Debug = true
	}
	if *listen != "" {
		cfg.Show.Listen = *listen
	}
	if *perfCSV != "" {
		cfg.Telemetry.Path = *perfCSV
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	log := pulsefield.NewDefaultLogger("pulsefield", cfg.Debug)

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	application := app.NewApp(window, *cfg, log)
	if err := application.Init(); err != nil {
		panic(err)
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	application.Serve(ctx)

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		application.Resize(width, height)
	})

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action == glfw.Press {
			application.HandleKey(key)
		}
	})

	for !window.ShouldClose() {
		glfw.PollEvents()
		application.Update()
		application.Render()
	}
}
