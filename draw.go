package lumen

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/lumen3d/lumen/render/oit"
	"github.com/lumen3d/lumen/render/pick"
	"github.com/lumen3d/lumen/render/pipeline"
)

// DrawFunc records the scene's draw calls into a pass for one variant. The
// pass encoder is owned by the orchestrator; the callback must not End it.
type DrawFunc func(pass *wgpu.RenderPassEncoder, variant pipeline.Variant)

// PickResult is a resolved pick hit.
type PickResult struct {
	Object     *RenderObject
	InstanceID uint32
	GroupID    uint32
	Depth      float32
}

// DrawOrchestrator decides per frame which transparency path runs and
// drives the picking readback cycle. It owns no geometry; draws are
// delegated through DrawFunc callbacks.
type DrawOrchestrator struct {
	device *wgpu.Device
	log    Logger

	Cache      *pipeline.Cache
	Compositor *oit.Compositor
	Pick       *pick.Targets
	Readback   *pick.Readback
	Scene      *Scene

	pickRequested bool
	pickPending   bool
	pickX, pickY  uint32
	pickSceneHash uint64
}

// OrchestratorOptions configures the draw orchestrator.
type OrchestratorOptions struct {
	ColorFormat  wgpu.TextureFormat
	Transparency oit.Options
	PickScale    float32
	PixelRatio   float32
}

func NewDrawOrchestrator(device *wgpu.Device, log Logger, opts OrchestratorOptions) *DrawOrchestrator {
	if log == nil {
		log = NewNopLogger()
	}
	cache := pipeline.NewCache(device)
	targets := pick.NewTargets(device, opts.PickScale, opts.PixelRatio)
	return &DrawOrchestrator{
		device:     device,
		log:        log,
		Cache:      cache,
		Compositor: oit.New(device, cache, opts.ColorFormat, opts.Transparency),
		Pick:       targets,
		Readback:   pick.NewReadback(device, targets, 0, 0),
		Scene:      NewScene(),
	}
}

// SetSize resizes every owned target family for a new drawing buffer size
// and rebuilds the readback viewport to cover the pick buffer.
func (d *DrawOrchestrator) SetSize(width, height uint32) error {
	if err := d.Compositor.SetSize(width, height); err != nil {
		return err
	}
	if err := d.Pick.SetSize(width, height); err != nil {
		return err
	}
	pw, ph := d.Pick.Size()
	if err := d.Readback.SetViewport(0, 0, pw, ph); err != nil {
		return err
	}
	d.pickPending = false
	d.log.Debugf("resized targets to %dx%d (pick %dx%d, %d bytes)",
		width, height, pw, ph, d.ByteCount())
	return nil
}

// ByteCount returns the GPU bytes of all orchestrator-owned targets.
func (d *DrawOrchestrator) ByteCount() uint64 {
	return d.Compositor.ByteCount() + d.Pick.ByteCount()
}

// RequestPick schedules a pick readback at pick-buffer coordinates (x, y)
// for the next frame.
func (d *DrawOrchestrator) RequestPick(x, y uint32) {
	d.pickRequested = true
	d.pickX, d.pickY = x, y
}

// loadPass begins a render pass on the main color target that preserves its
// contents, for compositing over already-rendered opaque geometry.
func loadPass(encoder *wgpu.CommandEncoder, view *wgpu.TextureView, label string) *wgpu.RenderPassEncoder {
	return encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: label,
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:    view,
				LoadOp:  wgpu.LoadOpLoad,
				StoreOp: wgpu.StoreOpStore,
			},
		},
	})
}

// RenderFrame records this frame's transparency and picking work. Opaque
// content must already be in colorView; transparent geometry is drawn
// through draw with the variant appropriate for the active path.
func (d *DrawOrchestrator) RenderFrame(encoder *wgpu.CommandEncoder, colorView *wgpu.TextureView, draw DrawFunc) error {
	if d.Scene.HasTransparent() {
		if err := d.renderTransparency(encoder, colorView, draw); err != nil {
			return err
		}
	}
	d.renderPick(encoder, draw)
	return nil
}

func (d *DrawOrchestrator) renderTransparency(encoder *wgpu.CommandEncoder, colorView *wgpu.TextureView, draw DrawFunc) error {
	switch d.Compositor.Mode() {
	case pipeline.TransparencyBlended:
		pass := loadPass(encoder, colorView, "Blended Transparency")
		draw(pass, pipeline.VariantColor)
		pass.End()

	case pipeline.TransparencyWboit:
		acc := d.Compositor.BeginAccumulationPass(encoder)
		if acc == nil {
			return nil
		}
		draw(acc, pipeline.VariantColor)
		acc.End()
		comp := loadPass(encoder, colorView, "WBOIT Composite")
		err := d.Compositor.CompositeWboit(comp)
		comp.End()
		return err

	case pipeline.TransparencyDpoit:
		for i := 0; i < d.Compositor.PeelPasses(); i++ {
			peel := d.Compositor.BeginPeelPass(encoder, i)
			if peel == nil {
				return nil
			}
			draw(peel, pipeline.VariantColor)
			peel.End()
		}
		comp := loadPass(encoder, colorView, "DPOIT Composite")
		err := d.Compositor.CompositeDpoit(comp)
		comp.End()
		return err
	}
	return nil
}

func (d *DrawOrchestrator) renderPick(encoder *wgpu.CommandEncoder, draw DrawFunc) {
	if !d.pickRequested {
		return
	}
	pass := d.Pick.BeginPass(encoder)
	if pass == nil {
		return
	}
	draw(pass, pipeline.VariantPick)
	pass.End()
	if err := d.Readback.AsyncRead(encoder); err != nil {
		d.log.Warnf("pick readback request failed: %v", err)
		d.pickRequested = false
		return
	}
	d.pickRequested = false
	d.pickPending = true
	d.pickSceneHash = d.Scene.VisibilityHash()
}

// PollPick is called once per frame. It returns a result when the pending
// readback resolved and a hit was decoded; failed or timed-out requests are
// dropped silently, surfacing as "no hit".
func (d *DrawOrchestrator) PollPick() (*PickResult, pick.Status) {
	if !d.pickPending {
		return nil, pick.StatusFailed
	}
	status := d.Readback.Check()
	switch status {
	case pick.StatusPending:
		return nil, status
	case pick.StatusFailed:
		d.pickPending = false
		d.log.Debugf("pick readback failed, dropping request")
		return nil, status
	}
	d.pickPending = false
	if d.Scene.VisibilityHash() != d.pickSceneHash {
		// The visible set changed while the readback was in flight; the
		// decoded ids may belong to objects that no longer exist.
		d.log.Debugf("dropping stale pick result")
		return nil, status
	}
	objectID, instanceID, groupID, ok := d.Readback.PickingID(d.pickX, d.pickY)
	if !ok {
		return nil, status
	}
	obj, ok := d.Scene.Lookup(objectID)
	if !ok {
		return nil, status
	}
	depth, _ := d.Readback.Depth(d.pickX, d.pickY)
	return &PickResult{
		Object:     obj,
		InstanceID: instanceID,
		GroupID:    groupID,
		Depth:      depth,
	}, status
}

// Release destroys every owned GPU resource.
func (d *DrawOrchestrator) Release() {
	d.Readback.Release()
	d.Pick.Release()
	d.Compositor.Release()
	d.Cache.Clear()
}
