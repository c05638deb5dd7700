package oit

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/lumen3d/lumen/render/pipeline"
	"github.com/lumen3d/lumen/render/shaders"
)

// writeSet returns which ping/pong depth texture peel pass index writes.
func writeSet(index int) int { return index % 2 }

// readSet returns which depth texture holds the previous peel's pair for
// pass index. Pass 0 reads the freshly cleared opposite texture, which
// accepts every fragment.
func readSet(index int) int { return (index + 1) % 2 }

// peelColorLoadOp: the shared front/back colors under-accumulate every peel
// in depth order, so only the first pass clears them.
func peelColorLoadOp(index int) wgpu.LoadOp {
	if index == 0 {
		return wgpu.LoadOpClear
	}
	return wgpu.LoadOpLoad
}

func (c *Compositor) dpoitKey() pipeline.Key {
	return pipeline.Key{
		ShaderID:     shaders.DpoitComposite,
		Variant:      pipeline.VariantColor,
		Transparency: pipeline.TransparencyDpoit,
		CullMode:     wgpu.CullModeNone,
		Blend:        pipeline.BlendNormal,
		ColorFormat:  c.colorFormat,
		SampleCount:  1,
	}
}

// PeelTargetStates returns the MRT color target states geometry pipelines
// must use during a peel pass: max-blended depth pair, then under-blended
// front and back colors.
func PeelTargetStates() []wgpu.ColorTargetState {
	return []wgpu.ColorTargetState{
		{
			Format:    PeelDepthFormat,
			Blend:     &PeelDepthBlend,
			WriteMask: wgpu.ColorWriteMaskAll,
		},
		{
			Format:    PeelColorFormat,
			Blend:     &UnderBlend,
			WriteMask: wgpu.ColorWriteMaskAll,
		},
		{
			Format:    PeelColorFormat,
			Blend:     &UnderBlend,
			WriteMask: wgpu.ColorWriteMaskAll,
		},
	}
}

// PeelCullMode returns the cull mode peel geometry pipelines render with.
// Peeling backfaces lets a single surface contribute both a front and a back
// layer per pass.
func (c *Compositor) PeelCullMode() wgpu.CullMode {
	if c.includeBackfaces {
		return wgpu.CullModeNone
	}
	return wgpu.CullModeBack
}

// PeelDepthView returns the depth pair texture a peel pass must bind as its
// exclusion test input, or nil when dpoit targets are not allocated.
func (c *Compositor) PeelDepthView(index int) *wgpu.TextureView {
	t, ok := c.targets.(*dpoitTargets)
	if !ok {
		return nil
	}
	return t.depth[readSet(index)].view
}

// BeginPeelPass begins peel pass index. The pass writes the index%2 depth
// texture while the geometry shader reads the opposite one, so no texture
// is read and written in the same pass; the shared front/back colors are
// write-only attachments of every peel. Returns nil when targets are not
// allocated or index is out of range.
func (c *Compositor) BeginPeelPass(encoder *wgpu.CommandEncoder, index int) *wgpu.RenderPassEncoder {
	t, ok := c.targets.(*dpoitTargets)
	if !ok || encoder == nil || index < 0 || index >= c.peelPasses {
		return nil
	}
	if index == 0 {
		// The first pass reads the opposite depth texture before anything
		// rendered into it; clear it so the exclusion test accepts every
		// fragment.
		init := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
			Label: "DPOIT Init",
			ColorAttachments: []wgpu.RenderPassColorAttachment{
				{
					View:       t.depth[readSet(index)].view,
					LoadOp:     wgpu.LoadOpClear,
					StoreOp:    wgpu.StoreOpStore,
					ClearValue: wgpu.Color{R: PeelDepthClear, G: PeelDepthClear},
				},
			},
		})
		init.End()
	}
	colorLoad := peelColorLoadOp(index)
	return encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: fmt.Sprintf("DPOIT Peel %d", index),
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       t.depth[writeSet(index)].view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{R: PeelDepthClear, G: PeelDepthClear},
			},
			{
				View:    t.frontColor.view,
				LoadOp:  colorLoad,
				StoreOp: wgpu.StoreOpStore,
			},
			{
				View:    t.backColor.view,
				LoadOp:  colorLoad,
				StoreOp: wgpu.StoreOpStore,
			},
		},
	})
}

// CompositeDpoit draws the dpoit composite into pass, folding the
// accumulated front colors over the backs. A no-op when targets are missing.
func (c *Compositor) CompositeDpoit(pass *wgpu.RenderPassEncoder) error {
	t, ok := c.targets.(*dpoitTargets)
	if !ok || pass == nil {
		return nil
	}
	p, err := c.getPipeline(c.dpoitKey())
	if err != nil {
		return err
	}
	if c.dpoitBindGroup == nil {
		layout := p.GetBindGroupLayout(0)
		defer layout.Release()
		bg, err := c.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "DPOIT Composite BG",
			Layout: layout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: t.frontColor.view, Size: wgpu.WholeSize},
				{Binding: 1, TextureView: t.backColor.view, Size: wgpu.WholeSize},
			},
		})
		if err != nil {
			return err
		}
		c.dpoitBindGroup = bg
	}
	pass.SetPipeline(p)
	pass.SetBindGroup(0, c.dpoitBindGroup, nil)
	pass.Draw(3, 1, 0, 0)
	return nil
}
