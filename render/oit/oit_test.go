package oit

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/lumen3d/lumen/render/pipeline"
)

// fakeTargets swaps the compositor's target factory for one that records
// descriptors without touching a device.
func fakeTargets(c *Compositor, created *[]wgpu.TextureDescriptor) {
	c.newTarget = func(desc *wgpu.TextureDescriptor) (renderTarget, error) {
		*created = append(*created, *desc)
		return renderTarget{desc: *desc}, nil
	}
}

func newTestCompositor(mode pipeline.Transparency) (*Compositor, *[]wgpu.TextureDescriptor) {
	c := New(nil, nil, wgpu.TextureFormatBGRA8Unorm, Options{Mode: mode})
	created := &[]wgpu.TextureDescriptor{}
	fakeTargets(c, created)
	return c, created
}

func TestCompositor_WboitTargetAllocation(t *testing.T) {
	c, created := newTestCompositor(pipeline.TransparencyWboit)

	if err := c.Initialize(640, 480); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if len(*created) != 2 {
		t.Fatalf("expected 2 wboit targets, got %d", len(*created))
	}
	if (*created)[0].Format != AccumulationFormat {
		t.Errorf("accumulation format %v, want %v", (*created)[0].Format, AccumulationFormat)
	}
	if (*created)[1].Format != RevealageFormat {
		t.Errorf("revealage format %v, want %v", (*created)[1].Format, RevealageFormat)
	}

	want := uint64(640*480)*uint64(FormatByteSize(AccumulationFormat)) +
		uint64(640*480)*uint64(FormatByteSize(RevealageFormat))
	if c.ByteCount() != want {
		t.Errorf("ByteCount = %d, want %d", c.ByteCount(), want)
	}
}

func TestCompositor_DpoitTargetAllocation(t *testing.T) {
	c, created := newTestCompositor(pipeline.TransparencyDpoit)

	if err := c.Initialize(64, 64); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	// Ping/pong depth pair plus the shared front and back colors.
	if len(*created) != 4 {
		t.Fatalf("expected 4 dpoit targets, got %d", len(*created))
	}
	depthCount := 0
	for _, d := range *created {
		if d.Format == PeelDepthFormat {
			depthCount++
		}
	}
	if depthCount != 2 {
		t.Errorf("expected 2 peel depth targets, got %d", depthCount)
	}

	want := uint64(64*64) * uint64(2*FormatByteSize(PeelDepthFormat)+2*FormatByteSize(PeelColorFormat))
	if c.ByteCount() != want {
		t.Errorf("ByteCount = %d, want %d", c.ByteCount(), want)
	}
}

func TestCompositor_ResizeRecreates(t *testing.T) {
	c, created := newTestCompositor(pipeline.TransparencyWboit)

	if err := c.Initialize(100, 100); err != nil {
		t.Fatal(err)
	}
	// Same size is a no-op.
	if err := c.SetSize(100, 100); err != nil {
		t.Fatal(err)
	}
	if len(*created) != 2 {
		t.Fatalf("same-size SetSize reallocated targets: %d creations", len(*created))
	}

	if err := c.SetSize(200, 150); err != nil {
		t.Fatal(err)
	}
	if len(*created) != 4 {
		t.Fatalf("resize should recreate both targets, got %d creations", len(*created))
	}
	last := (*created)[len(*created)-1]
	if last.Size.Width != 200 || last.Size.Height != 150 {
		t.Errorf("new target size %dx%d, want 200x150", last.Size.Width, last.Size.Height)
	}
}

func TestCompositor_DegenerateSizeClamped(t *testing.T) {
	c, created := newTestCompositor(pipeline.TransparencyWboit)

	if err := c.SetSize(0, 0); err != nil {
		t.Fatal(err)
	}
	w, h := c.Size()
	if w != MinTargetSize || h != MinTargetSize {
		t.Errorf("size %dx%d, want clamp to %dx%d", w, h, MinTargetSize, MinTargetSize)
	}
	for _, d := range *created {
		if d.Size.Width < MinTargetSize || d.Size.Height < MinTargetSize {
			t.Errorf("degenerate target allocated: %dx%d", d.Size.Width, d.Size.Height)
		}
	}
}

func TestCompositor_ModeSwitch(t *testing.T) {
	c, created := newTestCompositor(pipeline.TransparencyWboit)
	if err := c.Initialize(32, 32); err != nil {
		t.Fatal(err)
	}

	if err := c.SetMode(pipeline.TransparencyDpoit); err != nil {
		t.Fatal(err)
	}
	if c.Mode() != pipeline.TransparencyDpoit {
		t.Errorf("mode not switched")
	}
	// 2 wboit + 4 dpoit.
	if len(*created) != 6 {
		t.Errorf("expected 6 total creations after switch, got %d", len(*created))
	}
	if _, ok := c.targets.(*dpoitTargets); !ok {
		t.Errorf("wboit targets still live after switch to dpoit")
	}

	// Blended mode holds no dedicated targets.
	if err := c.SetMode(pipeline.TransparencyBlended); err != nil {
		t.Fatal(err)
	}
	if c.ByteCount() != 0 {
		t.Errorf("blended mode should hold no targets, ByteCount = %d", c.ByteCount())
	}
}

func TestCompositor_Release(t *testing.T) {
	c, _ := newTestCompositor(pipeline.TransparencyDpoit)
	if err := c.Initialize(16, 16); err != nil {
		t.Fatal(err)
	}
	c.Release()
	if c.ByteCount() != 0 {
		t.Errorf("targets survive Release")
	}
	c.Release() // must be safe to repeat
}

func TestCompositor_PassesNoopWithoutTargets(t *testing.T) {
	c := New(nil, pipeline.NewCache(nil), wgpu.TextureFormatBGRA8Unorm, Options{Mode: pipeline.TransparencyWboit})

	if pass := c.BeginAccumulationPass(nil); pass != nil {
		t.Errorf("accumulation pass without targets should be nil")
	}
	if err := c.CompositeWboit(nil); err != nil {
		t.Errorf("composite without targets should be a no-op, got %v", err)
	}
	if pass := c.BeginPeelPass(nil, 0); pass != nil {
		t.Errorf("peel pass without targets should be nil")
	}
	if err := c.CompositeDpoit(nil); err != nil {
		t.Errorf("dpoit composite without targets should be a no-op, got %v", err)
	}
}

func TestCompositeCreator_UnknownShaderPanics(t *testing.T) {
	c := New(nil, pipeline.NewCache(nil), wgpu.TextureFormatBGRA8Unorm, Options{})
	defer func() {
		if recover() == nil {
			t.Fatalf("creator with an unknown shader id must panic")
		}
	}()
	c.compositeCreator("unknown")(pipeline.Key{ShaderID: "unknown"})
}

func TestCompositor_PeelCullMode(t *testing.T) {
	c := New(nil, nil, wgpu.TextureFormatBGRA8Unorm, Options{Mode: pipeline.TransparencyDpoit})
	if c.PeelCullMode() != wgpu.CullModeBack {
		t.Errorf("default peel cull mode should drop backfaces")
	}
	c = New(nil, nil, wgpu.TextureFormatBGRA8Unorm, Options{
		Mode:             pipeline.TransparencyDpoit,
		IncludeBackfaces: true,
	})
	if c.PeelCullMode() != wgpu.CullModeNone {
		t.Errorf("IncludeBackfaces must disable culling")
	}
}

func TestPeelSetSelection(t *testing.T) {
	for i := 0; i < 6; i++ {
		if writeSet(i) == readSet(i) {
			t.Fatalf("pass %d writes and reads the same depth texture", i)
		}
		if writeSet(i) != i%2 {
			t.Errorf("writeSet(%d) = %d, want %d", i, writeSet(i), i%2)
		}
	}
	if peelColorLoadOp(0) != wgpu.LoadOpClear {
		t.Errorf("the first peel must clear the shared colors")
	}
	for i := 1; i < 4; i++ {
		if peelColorLoadOp(i) != wgpu.LoadOpLoad {
			t.Errorf("peel %d must accumulate into the shared colors", i)
		}
	}
}

func TestAccumulationTargetStates(t *testing.T) {
	states := AccumulationTargetStates()
	if len(states) != 2 {
		t.Fatalf("expected 2 MRT states, got %d", len(states))
	}
	if states[0].Blend.Color.SrcFactor != wgpu.BlendFactorOne ||
		states[0].Blend.Color.DstFactor != wgpu.BlendFactorOne {
		t.Errorf("accumulation must blend additively: %+v", states[0].Blend.Color)
	}
	if states[1].Blend.Color.SrcFactor != wgpu.BlendFactorZero ||
		states[1].Blend.Color.DstFactor != wgpu.BlendFactorOneMinusSrc {
		t.Errorf("revealage must multiply dst by (1-src): %+v", states[1].Blend.Color)
	}
}

func TestPeelTargetStates(t *testing.T) {
	states := PeelTargetStates()
	if len(states) != 3 {
		t.Fatalf("expected depth+front+back states, got %d", len(states))
	}
	if states[0].Format != PeelDepthFormat {
		t.Errorf("first peel target must be the depth pair")
	}
	if states[0].Blend.Color.Operation != wgpu.BlendOperationMax {
		t.Errorf("peel depth must use max blending, got %v", states[0].Blend.Color.Operation)
	}
	for i := 1; i <= 2; i++ {
		b := states[i].Blend
		if b.Color.SrcFactor != wgpu.BlendFactorOneMinusDstAlpha || b.Color.DstFactor != wgpu.BlendFactorOne {
			t.Errorf("peel color target %d must under-blend: %+v", i, b.Color)
		}
	}
}

func TestFormatByteSize(t *testing.T) {
	cases := map[wgpu.TextureFormat]uint32{
		wgpu.TextureFormatR16Float:    2,
		wgpu.TextureFormatRGBA8Unorm:  4,
		wgpu.TextureFormatRGBA16Float: 8,
		wgpu.TextureFormatRG32Float:   8,
		wgpu.TextureFormatRGBA32Float: 16,
	}
	for format, want := range cases {
		if got := FormatByteSize(format); got != want {
			t.Errorf("FormatByteSize(%v) = %d, want %d", format, got, want)
		}
	}
}
