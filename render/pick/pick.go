// Package pick owns the object-picking render targets and the asynchronous
// GPU-to-host readback of their contents.
//
// Picking renders object, instance, and group ids plus packed depth into
// four small RGBA8 targets, copies a viewport of them into mappable staging
// buffers, and resolves the mapping with a polled state machine so one slow
// or lost readback can never stall the render loop.
package pick

import (
	"fmt"
	"sync"
	"time"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/lumen3d/lumen/render/oit"
)

// IDFormat is the format of the four pick targets; ids are base-256 encoded
// across the color channels.
const IDFormat = wgpu.TextureFormatRGBA8Unorm

// DepthStencilFormat backs depth testing during the pick pass.
const DepthStencilFormat = wgpu.TextureFormatDepth24Plus

// copyAlignment is the row alignment wgpu requires for texture-to-buffer
// copies.
const copyAlignment = 256

const (
	DefaultPickScale       = 0.25
	DefaultMaxAsyncReadLag = 5
	DefaultTimeout         = time.Second
)

// Status is the caller-visible readback state, polled once per frame.
type Status uint8

const (
	StatusPending Status = iota
	StatusResolved
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

type phase uint8

const (
	phaseIdle phase = iota
	phaseCopyQueued
	phaseMapping
	phaseResolved
)

type target struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
	desc    wgpu.TextureDescriptor
}

func (t *target) release() {
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.texture != nil {
		t.texture.Release()
		t.texture = nil
	}
}

func (t *target) byteCount() uint64 {
	s := t.desc.Size
	return uint64(s.Width) * uint64(s.Height) * uint64(oit.FormatByteSize(t.desc.Format))
}

// Targets holds the MRT pick attachments. They render at a reduced
// resolution (pickScale of the drawing buffer) to bound readback cost, and
// are recreated whenever the drawing buffer size or scale changes.
type Targets struct {
	device     *wgpu.Device
	pickScale  float32
	pixelRatio float32

	bufferWidth  uint32
	bufferHeight uint32
	width        uint32
	height       uint32

	objectID     target
	instanceID   target
	groupID      target
	packedDepth  target
	depthStencil target

	newTarget func(*wgpu.TextureDescriptor) (target, error)
}

// NewTargets creates unsized pick targets; call SetSize before rendering.
// A pickScale or pixelRatio of zero falls back to the defaults.
func NewTargets(device *wgpu.Device, pickScale, pixelRatio float32) *Targets {
	if pickScale <= 0 {
		pickScale = DefaultPickScale
	}
	if pixelRatio <= 0 {
		pixelRatio = 1
	}
	t := &Targets{device: device, pickScale: pickScale, pixelRatio: pixelRatio}
	t.newTarget = t.createTarget
	return t
}

// Size returns the pick buffer dimensions.
func (t *Targets) Size() (uint32, uint32) { return t.width, t.height }

// PickScale returns the resolution scale relative to the drawing buffer.
func (t *Targets) PickScale() float32 { return t.pickScale }

// SetPickScale changes the resolution scale and recreates the targets at
// the current drawing buffer size.
func (t *Targets) SetPickScale(scale float32) error {
	if scale <= 0 || scale == t.pickScale {
		return nil
	}
	t.pickScale = scale
	if t.bufferWidth == 0 || t.bufferHeight == 0 {
		return nil
	}
	return t.recreate()
}

// SetSize sizes the pick targets for a drawing buffer of the given pixel
// dimensions. Targets are destroyed and recreated on any resulting size
// change.
func (t *Targets) SetSize(bufferWidth, bufferHeight uint32) error {
	t.bufferWidth = bufferWidth
	t.bufferHeight = bufferHeight
	w := uint32(float32(bufferWidth) / t.pixelRatio * t.pickScale)
	h := uint32(float32(bufferHeight) / t.pixelRatio * t.pickScale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if w == t.width && h == t.height && t.objectID.texture != nil {
		return nil
	}
	t.width = w
	t.height = h
	return t.recreate()
}

func (t *Targets) recreate() error {
	t.Release()
	mk := func(label string, format wgpu.TextureFormat, dst *target) error {
		tgt, err := t.newTarget(&wgpu.TextureDescriptor{
			Label: label,
			Size: wgpu.Extent3D{
				Width:              t.width,
				Height:             t.height,
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     wgpu.TextureDimension2D,
			Format:        format,
			Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopySrc,
		})
		if err != nil {
			return fmt.Errorf("pick: creating %s target: %w", label, err)
		}
		*dst = tgt
		return nil
	}
	if err := mk("Pick ObjectID", IDFormat, &t.objectID); err != nil {
		return err
	}
	if err := mk("Pick InstanceID", IDFormat, &t.instanceID); err != nil {
		return err
	}
	if err := mk("Pick GroupID", IDFormat, &t.groupID); err != nil {
		return err
	}
	if err := mk("Pick Depth", IDFormat, &t.packedDepth); err != nil {
		return err
	}
	return mk("Pick DepthStencil", DepthStencilFormat, &t.depthStencil)
}

func (t *Targets) createTarget(desc *wgpu.TextureDescriptor) (target, error) {
	tex, err := t.device.CreateTexture(desc)
	if err != nil {
		return target{}, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return target{}, err
	}
	return target{texture: tex, view: view, desc: *desc}, nil
}

// ByteCount returns the total GPU bytes of the pick textures.
func (t *Targets) ByteCount() uint64 {
	return t.objectID.byteCount() + t.instanceID.byteCount() +
		t.groupID.byteCount() + t.packedDepth.byteCount() +
		t.depthStencil.byteCount()
}

// Release destroys all pick textures. Safe to call repeatedly.
func (t *Targets) Release() {
	t.objectID.release()
	t.instanceID.release()
	t.groupID.release()
	t.packedDepth.release()
	t.depthStencil.release()
}

// TargetStates returns the MRT color target states pick-variant geometry
// pipelines render with. No blending: ids must land exactly.
func TargetStates() []wgpu.ColorTargetState {
	states := make([]wgpu.ColorTargetState, 4)
	for i := range states {
		states[i] = wgpu.ColorTargetState{
			Format:    IDFormat,
			WriteMask: wgpu.ColorWriteMaskAll,
		}
	}
	return states
}

// BeginPass begins the pick render pass, clearing every id channel to the
// null sentinel (zero) and depth to the far plane. Returns nil when targets
// are not allocated.
func (t *Targets) BeginPass(encoder *wgpu.CommandEncoder) *wgpu.RenderPassEncoder {
	if t.objectID.view == nil || encoder == nil {
		return nil
	}
	clear := func(view *wgpu.TextureView) wgpu.RenderPassColorAttachment {
		return wgpu.RenderPassColorAttachment{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{},
		}
	}
	return encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "Pick Pass",
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			clear(t.objectID.view),
			clear(t.instanceID.view),
			clear(t.groupID.view),
			clear(t.packedDepth.view),
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            t.depthStencil.view,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1.0,
		},
	})
}

// Readback copies a viewport of the pick targets to host memory across
// frame boundaries. The caller polls Check once per frame; requests that
// outlive the timeout or lag bound fail and self-cancel so a fresh request
// can restart the cycle.
type Readback struct {
	device  *wgpu.Device
	targets *Targets

	x, y          uint32
	width, height uint32
	bytesPerRow   uint32
	cpu           [4][]byte
	staging       [4]*wgpu.Buffer

	mu          sync.Mutex
	phase       phase
	gen         uint64
	pendingMaps int
	mapped      [4]bool
	mapFailed   bool
	requestedAt time.Time
	lag         int

	maxLag  int
	timeout time.Duration

	now      func() time.Time
	mapAsync func(*wgpu.Buffer, func(wgpu.BufferMapAsyncStatus))
	readBuf  func(int) []byte
	unmap    func(*wgpu.Buffer)
}

// NewReadback creates a readback for the given targets. maxLag or timeout
// of zero fall back to the defaults.
func NewReadback(device *wgpu.Device, targets *Targets, maxLag int, timeout time.Duration) *Readback {
	if maxLag <= 0 {
		maxLag = DefaultMaxAsyncReadLag
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Readback{
		device:  device,
		targets: targets,
		maxLag:  maxLag,
		timeout: timeout,
		now:     time.Now,
	}
	r.mapAsync = func(buf *wgpu.Buffer, cb func(wgpu.BufferMapAsyncStatus)) {
		buf.MapAsync(wgpu.MapModeRead, 0, buf.GetSize(), cb)
	}
	r.readBuf = func(i int) []byte {
		buf := r.staging[i]
		if buf == nil {
			return nil
		}
		data := buf.GetMappedRange(0, uint(buf.GetSize()))
		out := make([]byte, len(data))
		copy(out, data)
		buf.Unmap()
		return out
	}
	r.unmap = func(buf *wgpu.Buffer) { buf.Unmap() }
	return r
}

// alignRow rounds a row byte count up to the copy alignment.
func alignRow(rowBytes uint32) uint32 {
	return (rowBytes + copyAlignment - 1) &^ uint32(copyAlignment-1)
}

// SetViewport (re)allocates the CPU and staging buffers for the given
// region of the pick buffer. Any in-flight request is dropped.
func (r *Readback) SetViewport(x, y, width, height uint32) error {
	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
	r.releaseStaging()
	r.x, r.y = x, y
	r.width, r.height = width, height
	r.bytesPerRow = alignRow(width * 4)
	size := uint64(r.bytesPerRow) * uint64(height)
	labels := [4]string{"Pick Staging Object", "Pick Staging Instance", "Pick Staging Group", "Pick Staging Depth"}
	for i := range r.staging {
		r.cpu[i] = make([]byte, int(width)*int(height)*4)
		if r.device == nil {
			continue
		}
		buf, err := r.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: labels[i],
			Size:  size,
			Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
		})
		if err != nil {
			return fmt.Errorf("pick: creating staging buffer: %w", err)
		}
		r.staging[i] = buf
	}
	return nil
}

// Viewport returns the configured readback region.
func (r *Readback) Viewport() (x, y, width, height uint32) {
	return r.x, r.y, r.width, r.height
}

// AsyncRead records copies of the viewport from the four pick textures into
// the staging buffers and arms the readback state machine. Any previous
// unresolved request is discarded.
func (r *Readback) AsyncRead(encoder *wgpu.CommandEncoder) error {
	if r.width == 0 || r.height == 0 {
		return fmt.Errorf("pick: viewport not set")
	}
	if encoder != nil && r.targets != nil {
		textures := [4]*wgpu.Texture{
			r.targets.objectID.texture,
			r.targets.instanceID.texture,
			r.targets.groupID.texture,
			r.targets.packedDepth.texture,
		}
		for i, tex := range textures {
			if tex == nil || r.staging[i] == nil {
				continue
			}
			encoder.CopyTextureToBuffer(
				&wgpu.ImageCopyTexture{
					Texture: tex,
					Origin:  wgpu.Origin3D{X: r.x, Y: r.y},
					Aspect:  wgpu.TextureAspectAll,
				},
				&wgpu.ImageCopyBuffer{
					Buffer: r.staging[i],
					Layout: wgpu.TextureDataLayout{
						BytesPerRow:  r.bytesPerRow,
						RowsPerImage: r.height,
					},
				},
				&wgpu.Extent3D{Width: r.width, Height: r.height, DepthOrArrayLayers: 1},
			)
		}
	}
	r.mu.Lock()
	r.resetLocked()
	r.phase = phaseCopyQueued
	r.requestedAt = r.now()
	r.mu.Unlock()
	return nil
}

// Check polls the readback once per frame. It returns StatusFailed when no
// read was ever issued, when the request exceeded the timeout, or when it
// was polled unresolved more than the lag bound; failure resets the state
// machine so AsyncRead can restart the cycle.
func (r *Readback) Check() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.phase {
	case phaseIdle:
		return StatusFailed
	case phaseResolved:
		return StatusResolved
	}

	if r.now().Sub(r.requestedAt) > r.timeout {
		r.resetLocked()
		return StatusFailed
	}
	r.lag++
	if r.lag > r.maxLag {
		r.resetLocked()
		return StatusFailed
	}

	if r.phase == phaseCopyQueued {
		// The copy was submitted with the previous frame; start mapping.
		r.phase = phaseMapping
		r.pendingMaps = len(r.staging)
		gen := r.gen
		for i := range r.staging {
			buf := r.staging[i]
			if buf == nil {
				r.mapDone(i, wgpu.BufferMapAsyncStatusSuccess)
				continue
			}
			idx := i
			r.mapAsync(buf, func(status wgpu.BufferMapAsyncStatus) {
				r.mu.Lock()
				defer r.mu.Unlock()
				if r.gen != gen {
					// Completion of a request that already timed out or was
					// replaced. Unmap so the buffer can be mapped again; a
					// released or reallocated buffer is left alone.
					if status == wgpu.BufferMapAsyncStatusSuccess && r.staging[idx] == buf {
						r.unmap(buf)
					}
					return
				}
				r.mapDone(idx, status)
			})
		}
	}

	if r.phase == phaseMapping && r.pendingMaps == 0 {
		if r.mapFailed {
			r.resetLocked()
			return StatusFailed
		}
		r.resolveLocked()
		return StatusResolved
	}
	return StatusPending
}

// mapDone runs with r.mu held; MapAsync callbacks fire during device polls
// on the frame goroutine, but Check locks around them regardless.
func (r *Readback) mapDone(i int, status wgpu.BufferMapAsyncStatus) {
	if status == wgpu.BufferMapAsyncStatusSuccess {
		if r.staging[i] != nil {
			r.mapped[i] = true
		}
	} else {
		r.mapFailed = true
	}
	if r.pendingMaps > 0 {
		r.pendingMaps--
	}
}

// resolveLocked compacts the row-aligned staging contents into the CPU
// buffers and unmaps.
func (r *Readback) resolveLocked() {
	rowBytes := int(r.width) * 4
	for i := range r.staging {
		data := r.readBuf(i)
		r.mapped[i] = false // readBuf unmaps
		if data == nil {
			continue
		}
		for y := 0; y < int(r.height); y++ {
			src := y * int(r.bytesPerRow)
			if src+rowBytes > len(data) {
				break
			}
			copy(r.cpu[i][y*rowBytes:(y+1)*rowBytes], data[src:src+rowBytes])
		}
	}
	r.phase = phaseResolved
}

// resetLocked drops the in-flight request. Buffers whose map completed
// before the drop must be unmapped here or they can never be mapped again;
// bumping the generation makes completions still in flight stale.
func (r *Readback) resetLocked() {
	for i := range r.staging {
		if r.mapped[i] && r.staging[i] != nil {
			r.unmap(r.staging[i])
		}
		r.mapped[i] = false
	}
	r.gen++
	r.phase = phaseIdle
	r.pendingMaps = 0
	r.mapFailed = false
	r.lag = 0
}

// Reset discards any in-flight or resolved request.
func (r *Readback) Reset() {
	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
}

// Release frees the staging buffers and drops the CPU buffers.
func (r *Readback) Release() {
	r.Reset()
	r.releaseStaging()
	for i := range r.cpu {
		r.cpu[i] = nil
	}
}

func (r *Readback) releaseStaging() {
	for i := range r.staging {
		if r.staging[i] != nil {
			r.staging[i].Release()
			r.staging[i] = nil
		}
	}
}
