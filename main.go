/*
Testbed application: spins up the Vulkan backend, stages a demo scene and
runs the frame loop until the window closes.
*/
package main

import (
	"time"

	"github.com/spaghettifunk/vetro/core"
	"github.com/spaghettifunk/vetro/platform"
	"github.com/spaghettifunk/vetro/renderer"
	"github.com/spaghettifunk/vetro/renderer/vulkan"
	"github.com/spaghettifunk/vetro/testbed"
)

func main() {
	cfg, err := renderer.LoadConfig("vetro.toml")
	if err != nil {
		core.LogFatal("failed to load configuration: %s", err)
	}

	p, err := platform.New()
	if err != nil {
		core.LogFatal("failed to create platform: %s", err)
	}

	const width, height = 1280, 720
	if err := p.Startup(cfg.ApplicationName, 100, 100, width, height); err != nil {
		core.LogFatal("failed to start platform: %s", err)
	}
	defer p.Shutdown()

	backend := vulkan.New(p, vulkan.Options{
		FramesInFlight: cfg.FramesInFlight,
		VertexGrowth:   cfg.VertexGrowth,
		InstanceGrowth: cfg.InstanceGrowth,
		Validation:     cfg.Validation,
		VSync:          cfg.VSync,
		ClearColor:     cfg.ClearColor,
		ShaderDir:      cfg.ShaderDir,
	})

	fbWidth, fbHeight := p.FramebufferSize()
	r, err := renderer.New(cfg, backend, fbWidth, fbHeight)
	if err != nil {
		core.LogFatal("failed to initialize renderer: %s", err)
	}
	defer r.Shutdown()

	scene, err := testbed.NewScene(r, fbWidth, fbHeight)
	if err != nil {
		core.LogFatal("failed to build scene: %s", err)
	}

	p.OnResize = func(w, h uint32) {
		scene.Resize(w, h)
		r.Resize(w, h)
	}

	start := time.Now()
	lastReport := start

	for p.PumpMessages() {
		elapsed := time.Since(start).Seconds()
		scene.Update(r, elapsed)

		if err := r.Render(scene.Camera2D(), scene.Camera3D(elapsed)); err != nil {
			core.LogFatal("frame failed: %s", err)
		}

		if now := time.Now(); now.Sub(lastReport) >= 2*time.Second {
			core.LogInfo("fps %.1f, frame time %.2fms", r.FPS(), r.FrameTime())
			lastReport = now
		}
	}
}
