package oit

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/lumen3d/lumen/render/pipeline"
	"github.com/lumen3d/lumen/render/shaders"
)

// registerCreators installs the composite pipeline creators in the
// permutation cache. Registration is idempotent.
func (c *Compositor) registerCreators() {
	if c.cache == nil {
		return
	}
	c.cache.RegisterCreator(shaders.WboitComposite, c.compositeCreator(shaders.WboitComposite))
	c.cache.RegisterCreator(shaders.DpoitComposite, c.compositeCreator(shaders.DpoitComposite))
}

// compositeCreator builds the fullscreen-triangle composite descriptor for a
// given shader id. Composites always blend premultiplied output over the
// main color target. An unknown shader id is a registration bug, so lookup
// failures panic like the other init-time GPU errors.
func (c *Compositor) compositeCreator(shaderID string) pipeline.CreatorFunc {
	return func(key pipeline.Key) *wgpu.RenderPipelineDescriptor {
		src, err := shaders.Source(shaderID)
		if err != nil {
			panic(err)
		}
		module, err := c.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label:          shaderID,
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: src},
		})
		if err != nil {
			panic(err)
		}
		c.pendingModule = module
		samples := key.SampleCount
		if samples == 0 {
			samples = 1
		}
		return &wgpu.RenderPipelineDescriptor{
			Label: shaderID,
			Vertex: wgpu.VertexState{
				Module:     module,
				EntryPoint: "vs_main",
			},
			Fragment: &wgpu.FragmentState{
				Module:     module,
				EntryPoint: "fs_main",
				Targets: []wgpu.ColorTargetState{
					{
						Format:    key.ColorFormat,
						Blend:     &CompositeBlend,
						WriteMask: wgpu.ColorWriteMaskAll,
					},
				},
			},
			Primitive: wgpu.PrimitiveState{
				Topology:  wgpu.PrimitiveTopologyTriangleList,
				FrontFace: wgpu.FrontFaceCCW,
				CullMode:  wgpu.CullModeNone,
			},
			Multisample: wgpu.MultisampleState{
				Count: samples,
				Mask:  0xFFFFFFFF,
			},
		}
	}
}

// getPipeline compiles key through the cache and releases the shader module
// the creator left behind; the module is not needed once the pipeline
// exists.
func (c *Compositor) getPipeline(key pipeline.Key) (*wgpu.RenderPipeline, error) {
	p, err := c.cache.Get(key)
	if c.pendingModule != nil {
		c.pendingModule.Release()
		c.pendingModule = nil
	}
	return p, err
}

func (c *Compositor) wboitKey() pipeline.Key {
	return pipeline.Key{
		ShaderID:     shaders.WboitComposite,
		Variant:      pipeline.VariantColor,
		Transparency: pipeline.TransparencyWboit,
		CullMode:     wgpu.CullModeNone,
		Blend:        pipeline.BlendNormal,
		ColorFormat:  c.colorFormat,
		SampleCount:  1,
	}
}

// AccumulationTargetStates returns the MRT color target states geometry
// pipelines must use during the wboit accumulation pass.
func AccumulationTargetStates() []wgpu.ColorTargetState {
	return []wgpu.ColorTargetState{
		{
			Format:    AccumulationFormat,
			Blend:     &AccumulationBlend,
			WriteMask: wgpu.ColorWriteMaskAll,
		},
		{
			Format:    RevealageFormat,
			Blend:     &RevealageBlend,
			WriteMask: wgpu.ColorWriteMaskAll,
		},
	}
}

// BeginAccumulationPass begins the wboit accumulation pass, clearing the
// accumulation target to zero and revealage to one. Returns nil when wboit
// targets are not allocated; a skipped pass is preferable to a frame abort.
func (c *Compositor) BeginAccumulationPass(encoder *wgpu.CommandEncoder) *wgpu.RenderPassEncoder {
	t, ok := c.targets.(*wboitTargets)
	if !ok || encoder == nil {
		return nil
	}
	return encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "WBOIT Accumulation",
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       t.accumulation.view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{},
			},
			{
				View:       t.revealage.view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{R: RevealageClear},
			},
		},
	})
}

// CompositeWboit draws the wboit composite into pass, which must target the
// main color attachment with LoadOpLoad. A no-op when targets are missing.
func (c *Compositor) CompositeWboit(pass *wgpu.RenderPassEncoder) error {
	t, ok := c.targets.(*wboitTargets)
	if !ok || pass == nil {
		return nil
	}
	p, err := c.getPipeline(c.wboitKey())
	if err != nil {
		return err
	}
	if c.wboitBindGroup == nil {
		layout := p.GetBindGroupLayout(0)
		defer layout.Release()
		bg, err := c.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "WBOIT Composite BG",
			Layout: layout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: t.accumulation.view, Size: wgpu.WholeSize},
				{Binding: 1, TextureView: t.revealage.view, Size: wgpu.WholeSize},
			},
		})
		if err != nil {
			return err
		}
		c.wboitBindGroup = bg
	}
	pass.SetPipeline(p)
	pass.SetBindGroup(0, c.wboitBindGroup, nil)
	pass.Draw(3, 1, 0, 0)
	return nil
}
