// Package oit owns the GPU targets and composite passes for the two
// order-independent transparency paths: weighted-blended accumulation
// (wboit) and depth peeling (dpoit).
package oit

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/lumen3d/lumen/render/pipeline"
)

// Texture formats of the transparency targets.
const (
	AccumulationFormat = wgpu.TextureFormatRGBA16Float
	RevealageFormat    = wgpu.TextureFormatR16Float
	PeelDepthFormat    = wgpu.TextureFormatRG32Float
	PeelColorFormat    = wgpu.TextureFormatRGBA16Float
)

const (
	// RevealageClear is the clear value of the revealage target; a pixel no
	// fragment touched keeps it and is discarded during composite.
	RevealageClear = 1.0

	// PeelDepthClear initializes both channels of the peel depth pair so the
	// first peel accepts every fragment.
	PeelDepthClear = -99999.0

	// CompositeAlphaMin is the dpoit composite discard threshold.
	CompositeAlphaMin = 0.001

	// DefaultPeelPasses bounds how many transparent layers dpoit resolves
	// exactly.
	DefaultPeelPasses = 4

	// MinTargetSize clamps degenerate framebuffer sizes.
	MinTargetSize = 2
)

// AccumulationBlend accumulates (rgb*a*w, a*w) additively across fragments.
var AccumulationBlend = wgpu.BlendState{
	Color: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOne,
	},
	Alpha: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOne,
	},
}

// RevealageBlend multiplies the destination by (1 - srcAlpha) per fragment:
// dst' = 0*src + (1-src)*dst, so after all fragments the target holds
// prod(1 - a). This is the exact McGuire/Bavoil revealage update, not an
// approximation.
var RevealageBlend = wgpu.BlendState{
	Color: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorZero,
		DstFactor: wgpu.BlendFactorOneMinusSrc,
	},
	Alpha: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorZero,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
	},
}

// CompositeBlend blends the premultiplied composite output over the main
// color target, preserving opaque content underneath.
var CompositeBlend = wgpu.BlendState{
	Color: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
	},
	Alpha: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
	},
}

// PeelDepthBlend keeps the per-pixel maximum of (-nearDepth, farDepth)
// written by peel fragments.
var PeelDepthBlend = wgpu.BlendState{
	Color: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationMax,
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOne,
	},
	Alpha: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationMax,
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOne,
	},
}

// UnderBlend accumulates premultiplied layers front-to-back:
// dst' = dst + (1 - dst.a) * src.
var UnderBlend = wgpu.BlendState{
	Color: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorOneMinusDstAlpha,
		DstFactor: wgpu.BlendFactorOne,
	},
	Alpha: wgpu.BlendComponent{
		Operation: wgpu.BlendOperationAdd,
		SrcFactor: wgpu.BlendFactorOneMinusDstAlpha,
		DstFactor: wgpu.BlendFactorOne,
	},
}

// renderTarget bundles a texture with its view and the descriptor it was
// created from. Targets are recreated whole on any size change, never
// resized in place.
type renderTarget struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
	desc    wgpu.TextureDescriptor
}

func (t *renderTarget) release() {
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.texture != nil {
		t.texture.Release()
		t.texture = nil
	}
}

func (t *renderTarget) byteCount() uint64 {
	s := t.desc.Size
	return uint64(s.Width) * uint64(s.Height) * uint64(FormatByteSize(t.desc.Format))
}

// FormatByteSize returns the per-pixel byte size of the formats the
// compositor and pick targets use.
func FormatByteSize(format wgpu.TextureFormat) uint32 {
	switch format {
	case wgpu.TextureFormatR8Unorm:
		return 1
	case wgpu.TextureFormatR16Float:
		return 2
	case wgpu.TextureFormatRGBA8Unorm, wgpu.TextureFormatBGRA8Unorm,
		wgpu.TextureFormatR32Float, wgpu.TextureFormatDepth24Plus,
		wgpu.TextureFormatDepth24PlusStencil8, wgpu.TextureFormatDepth32Float:
		return 4
	case wgpu.TextureFormatRG32Float, wgpu.TextureFormatRGBA16Float:
		return 8
	case wgpu.TextureFormatRGBA32Float:
		return 16
	}
	return 4
}

// targetSet is the tagged variant over the per-mode GPU targets, so wboit
// and dpoit targets can never be live at the same time.
type targetSet interface {
	release()
	byteCount() uint64
	transparency() pipeline.Transparency
}

type wboitTargets struct {
	accumulation renderTarget
	revealage    renderTarget
}

func (t *wboitTargets) release() {
	t.accumulation.release()
	t.revealage.release()
}

func (t *wboitTargets) byteCount() uint64 {
	return t.accumulation.byteCount() + t.revealage.byteCount()
}

func (t *wboitTargets) transparency() pipeline.Transparency {
	return pipeline.TransparencyWboit
}

// dpoitTargets ping/pongs only the depth pair: peel pass i reads the other
// depth texture while writing its own, so a pass never aliases a texture for
// read and write. The front and back colors are written but never sampled
// during a peel, so a single shared pair accumulates every peel. Peels run
// nearest-first, which keeps the under-blended accumulation in depth order.
type dpoitTargets struct {
	depth      [2]renderTarget
	frontColor renderTarget
	backColor  renderTarget
}

func (t *dpoitTargets) release() {
	t.depth[0].release()
	t.depth[1].release()
	t.frontColor.release()
	t.backColor.release()
}

func (t *dpoitTargets) byteCount() uint64 {
	return t.depth[0].byteCount() + t.depth[1].byteCount() +
		t.frontColor.byteCount() + t.backColor.byteCount()
}

func (t *dpoitTargets) transparency() pipeline.Transparency {
	return pipeline.TransparencyDpoit
}

// Options configures a Compositor.
type Options struct {
	Mode             pipeline.Transparency
	PeelPasses       int
	IncludeBackfaces bool
}

// Compositor owns the transparency GPU targets and records the accumulation,
// peel, and composite passes. It is driven from the single render-loop
// goroutine.
type Compositor struct {
	device      *wgpu.Device
	cache       *pipeline.Cache
	colorFormat wgpu.TextureFormat

	mode             pipeline.Transparency
	peelPasses       int
	includeBackfaces bool

	width, height uint32
	targets       targetSet

	wboitBindGroup *wgpu.BindGroup
	dpoitBindGroup *wgpu.BindGroup

	// pendingModule is the shader module built by the most recent creator
	// call; it is only needed until the cache compiles the pipeline.
	pendingModule *wgpu.ShaderModule

	// newTarget is swapped out in tests to avoid a live device.
	newTarget func(*wgpu.TextureDescriptor) (renderTarget, error)
}

// New creates a compositor rendering composites in colorFormat, compiling
// its composite pipelines through cache. No targets are allocated until
// Initialize or SetSize.
func New(device *wgpu.Device, cache *pipeline.Cache, colorFormat wgpu.TextureFormat, opts Options) *Compositor {
	peels := opts.PeelPasses
	if peels <= 0 {
		peels = DefaultPeelPasses
	}
	c := &Compositor{
		device:           device,
		cache:            cache,
		colorFormat:      colorFormat,
		mode:             opts.Mode,
		peelPasses:       peels,
		includeBackfaces: opts.IncludeBackfaces,
	}
	c.newTarget = c.createTarget
	c.registerCreators()
	return c
}

// Initialize sizes the compositor and allocates targets for the configured
// mode.
func (c *Compositor) Initialize(width, height uint32) error {
	return c.SetSize(width, height)
}

// Mode returns the active transparency mode.
func (c *Compositor) Mode() pipeline.Transparency { return c.mode }

// PeelPasses returns the configured dpoit peel count.
func (c *Compositor) PeelPasses() int { return c.peelPasses }

// Size returns the current target dimensions.
func (c *Compositor) Size() (uint32, uint32) { return c.width, c.height }

// SetMode switches the transparency mode, destroying the previous mode's
// targets and allocating the new mode's at the current size.
func (c *Compositor) SetMode(mode pipeline.Transparency) error {
	if mode == c.mode {
		return nil
	}
	c.mode = mode
	return c.recreateTargets()
}

// SetSize resizes the transparency targets. Degenerate sizes are clamped to
// MinTargetSize. Targets are destroyed and recreated, never resized in
// place.
func (c *Compositor) SetSize(width, height uint32) error {
	if width < MinTargetSize {
		width = MinTargetSize
	}
	if height < MinTargetSize {
		height = MinTargetSize
	}
	if width == c.width && height == c.height && c.targets != nil {
		return nil
	}
	c.width = width
	c.height = height
	return c.recreateTargets()
}

// ByteCount returns the total GPU bytes of the currently allocated targets.
func (c *Compositor) ByteCount() uint64 {
	if c.targets == nil {
		return 0
	}
	return c.targets.byteCount()
}

// Release destroys all targets. Safe to call repeatedly.
func (c *Compositor) Release() {
	c.dropTargets()
	c.width, c.height = 0, 0
}

func (c *Compositor) dropTargets() {
	if c.targets != nil {
		c.targets.release()
		c.targets = nil
	}
	if c.wboitBindGroup != nil {
		c.wboitBindGroup.Release()
		c.wboitBindGroup = nil
	}
	if c.dpoitBindGroup != nil {
		c.dpoitBindGroup.Release()
		c.dpoitBindGroup = nil
	}
}

func (c *Compositor) recreateTargets() error {
	c.dropTargets()
	if c.width == 0 || c.height == 0 {
		return nil
	}
	switch c.mode {
	case pipeline.TransparencyWboit:
		return c.createWboitTargets()
	case pipeline.TransparencyDpoit:
		return c.createDpoitTargets()
	}
	// opaque/blended need no dedicated targets
	return nil
}

func (c *Compositor) createTarget(desc *wgpu.TextureDescriptor) (renderTarget, error) {
	tex, err := c.device.CreateTexture(desc)
	if err != nil {
		return renderTarget{}, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return renderTarget{}, err
	}
	return renderTarget{texture: tex, view: view, desc: *desc}, nil
}

func (c *Compositor) targetDescriptor(label string, format wgpu.TextureFormat) *wgpu.TextureDescriptor {
	return &wgpu.TextureDescriptor{
		Label: label,
		Size: wgpu.Extent3D{
			Width:              c.width,
			Height:             c.height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
	}
}

func (c *Compositor) createWboitTargets() error {
	accum, err := c.newTarget(c.targetDescriptor("WBOIT Accumulation", AccumulationFormat))
	if err != nil {
		return fmt.Errorf("oit: creating accumulation target: %w", err)
	}
	reveal, err := c.newTarget(c.targetDescriptor("WBOIT Revealage", RevealageFormat))
	if err != nil {
		accum.release()
		return fmt.Errorf("oit: creating revealage target: %w", err)
	}
	c.targets = &wboitTargets{accumulation: accum, revealage: reveal}
	return nil
}

func (c *Compositor) createDpoitTargets() error {
	t := &dpoitTargets{}
	for i := range t.depth {
		depth, err := c.newTarget(c.targetDescriptor(fmt.Sprintf("DPOIT Depth %d", i), PeelDepthFormat))
		if err != nil {
			t.release()
			return fmt.Errorf("oit: creating peel depth target: %w", err)
		}
		t.depth[i] = depth
	}
	front, err := c.newTarget(c.targetDescriptor("DPOIT Front", PeelColorFormat))
	if err != nil {
		t.release()
		return fmt.Errorf("oit: creating peel front target: %w", err)
	}
	t.frontColor = front
	back, err := c.newTarget(c.targetDescriptor("DPOIT Back", PeelColorFormat))
	if err != nil {
		t.release()
		return fmt.Errorf("oit: creating peel back target: %w", err)
	}
	t.backColor = back
	c.targets = t
	return nil
}
