package lumen

import (
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

type WindowState struct {
	windowGlfw   *glfw.Window
	WindowWidth  int
	WindowHeight int
	windowTitle  string
}

// Window returns the underlying glfw window.
func (s *WindowState) Window() *glfw.Window { return s.windowGlfw }

type GpuState struct {
	surface       *wgpu.Surface
	adapter       *wgpu.Adapter
	device        *wgpu.Device
	queue         *wgpu.Queue
	surfaceConfig *wgpu.SurfaceConfiguration
}

func (s *GpuState) Device() *wgpu.Device               { return s.device }
func (s *GpuState) Queue() *wgpu.Queue                 { return s.queue }
func (s *GpuState) Surface() *wgpu.Surface             { return s.surface }
func (s *GpuState) Format() wgpu.TextureFormat         { return s.surfaceConfig.Format }
func (s *GpuState) Config() *wgpu.SurfaceConfiguration { return s.surfaceConfig }

// NewWindowState opens the application window. GPU init failures at startup
// are programming/environment errors, so this panics rather than returning.
func NewWindowState(windowWidth int, windowHeight int, windowTitle string) *WindowState {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		panic(err)
	}

	// No GL context; the window only hosts a wgpu surface.
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	win, err := glfw.CreateWindow(windowWidth, windowHeight, windowTitle, nil, nil)
	if err != nil {
		panic(err)
	}

	return &WindowState{
		windowGlfw:   win,
		WindowWidth:  windowWidth,
		WindowHeight: windowHeight,
		windowTitle:  windowTitle,
	}
}

// NewGpuState brings up the wgpu instance, surface, adapter, device, and
// queue for a window, and configures the swapchain.
func NewGpuState(s *WindowState) *GpuState {
	instance := wgpu.CreateInstance(nil)
	defer instance.Release()
	surface := instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(s.windowGlfw))
	// Prefer the discrete adapter when the machine has more than one.
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		panic(err)
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Main Device",
	})
	if err != nil {
		panic(err)
	}
	queue := device.GetQueue()

	caps := surface.GetCapabilities(adapter)
	surfaceConfig := wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(s.WindowWidth),
		Height:      uint32(s.WindowHeight),
		PresentMode: wgpu.PresentModeFifo, // keeps presentation vsynced
		AlphaMode:   caps.AlphaModes[0],
	}

	surface.Configure(adapter, device, &surfaceConfig)

	return &GpuState{
		surface:       surface,
		adapter:       adapter,
		device:        device,
		queue:         queue,
		surfaceConfig: &surfaceConfig,
	}
}

// Resize reconfigures the swapchain for a new framebuffer size.
func (s *GpuState) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	s.surfaceConfig.Width = uint32(width)
	s.surfaceConfig.Height = uint32(height)
	s.surface.Configure(s.adapter, s.device, s.surfaceConfig)
}
