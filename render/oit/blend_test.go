package oit

import (
	"math"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
)

// rgba is a CPU stand-in for one pixel of a float render target.
type rgba [4]float32

// blendFactor evaluates one blend factor for channel i.
func blendFactor(f wgpu.BlendFactor, src, dst rgba, i int) float32 {
	switch f {
	case wgpu.BlendFactorZero:
		return 0
	case wgpu.BlendFactorOne:
		return 1
	case wgpu.BlendFactorSrc:
		return src[i]
	case wgpu.BlendFactorOneMinusSrc:
		return 1 - src[i]
	case wgpu.BlendFactorSrcAlpha:
		return src[3]
	case wgpu.BlendFactorOneMinusSrcAlpha:
		return 1 - src[3]
	case wgpu.BlendFactorDst:
		return dst[i]
	case wgpu.BlendFactorDstAlpha:
		return dst[3]
	case wgpu.BlendFactorOneMinusDstAlpha:
		return 1 - dst[3]
	}
	return 0
}

// blend applies a wgpu blend state to one pixel the way the raster output
// merger would.
func blend(state wgpu.BlendState, src, dst rgba) rgba {
	var out rgba
	for i := 0; i < 4; i++ {
		comp := state.Color
		if i == 3 {
			comp = state.Alpha
		}
		s := src[i] * blendFactor(comp.SrcFactor, src, dst, i)
		d := dst[i] * blendFactor(comp.DstFactor, src, dst, i)
		switch comp.Operation {
		case wgpu.BlendOperationMax:
			out[i] = float32(math.Max(float64(src[i]), float64(dst[i])))
		default:
			out[i] = s + d
		}
	}
	return out
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func approxPixel(t *testing.T, got, want rgba, msg string) {
	t.Helper()
	for i := range got {
		if !approx(got[i], want[i]) {
			t.Errorf("%s: got %v, want %v", msg, got, want)
			return
		}
	}
}

// premult returns the premultiplied wboit accumulation fragment for a color,
// alpha and depth weight.
func premult(r, g, b, a, w float32) rgba {
	return rgba{r * a * w, g * a * w, b * a * w, a * w}
}

// wboitComposite replays the composite shader on CPU: weighted average from
// the accumulation target, coverage from revealage, premultiplied over the
// background.
func wboitComposite(accum rgba, reveal float32, background rgba) (rgba, bool) {
	if reveal >= 1.0-1e-5 {
		// shader discards, background preserved
		return background, false
	}
	alpha := 1 - reveal
	denom := accum[3]
	if denom < 1e-5 {
		denom = 1e-5
	}
	out := rgba{
		accum[0] / denom * alpha,
		accum[1] / denom * alpha,
		accum[2] / denom * alpha,
		alpha,
	}
	return blend(CompositeBlend, out, background), true
}

func TestWboit_OpaqueFragmentReplacesBackground(t *testing.T) {
	background := rgba{0.1, 0.2, 0.3, 1}
	accum := rgba{}
	reveal := rgba{RevealageClear, 0, 0, 0}

	frag := premult(0.9, 0.5, 0.25, 1.0, 1.0)
	accum = blend(AccumulationBlend, frag, accum)
	reveal = blend(RevealageBlend, rgba{1, 1, 1, 1}, reveal)

	if !approx(reveal[0], 0) {
		t.Fatalf("alpha=1 fragment should zero revealage, got %v", reveal[0])
	}
	final, drawn := wboitComposite(accum, reveal[0], background)
	if !drawn {
		t.Fatalf("covered pixel was discarded")
	}
	approxPixel(t, final, rgba{0.9, 0.5, 0.25, 1}, "opaque fragment")
}

func TestWboit_RevealageIsOrderIndependent(t *testing.T) {
	alphas := []float32{0.5, 0.25, 0.8}

	apply := func(order []int) float32 {
		reveal := rgba{RevealageClear, 0, 0, 0}
		for _, i := range order {
			a := alphas[i]
			reveal = blend(RevealageBlend, rgba{a, a, a, a}, reveal)
		}
		return reveal[0]
	}

	forward := apply([]int{0, 1, 2})
	backward := apply([]int{2, 1, 0})
	if !approx(forward, backward) {
		t.Errorf("revealage depends on order: %v vs %v", forward, backward)
	}

	want := float32((1 - 0.5) * (1 - 0.25) * (1 - 0.8))
	if !approx(forward, want) {
		t.Errorf("revealage = %v, want product of (1-a) = %v", forward, want)
	}
}

func TestWboit_AccumulationIsOrderIndependent(t *testing.T) {
	frags := []rgba{
		premult(1, 0, 0, 0.5, 1.0),
		premult(0, 1, 0, 0.25, 0.7),
		premult(0, 0, 1, 0.8, 0.3),
	}

	var fwd, bwd rgba
	for _, f := range frags {
		fwd = blend(AccumulationBlend, f, fwd)
	}
	for i := len(frags) - 1; i >= 0; i-- {
		bwd = blend(AccumulationBlend, frags[i], bwd)
	}
	approxPixel(t, fwd, bwd, "accumulation order dependence")
}

func TestWboit_UntouchedPixelDiscarded(t *testing.T) {
	background := rgba{0.1, 0.2, 0.3, 1}
	final, drawn := wboitComposite(rgba{}, RevealageClear, background)
	if drawn {
		t.Fatalf("pixel with clear revealage must be discarded")
	}
	approxPixel(t, final, background, "untouched pixel")
}

// over composites a straight-alpha layer over a premultiplied accumulator,
// back-to-front, yielding a premultiplied result. Used as the ordering
// reference for the under operator.
func over(front rgba, behind rgba) rgba {
	a := front[3]
	return rgba{
		front[0]*a + behind[0]*(1-a),
		front[1]*a + behind[1]*(1-a),
		front[2]*a + behind[2]*(1-a),
		a + behind[3]*(1-a),
	}
}

func TestDpoit_UnderEqualsOverInReverse(t *testing.T) {
	// Layers listed front to back, straight alpha.
	layers := []rgba{
		{1, 0, 0, 0.5},
		{0, 1, 0, 0.5},
		{0, 0, 1, 0.5},
	}

	// Under-accumulate front to back with the GPU blend state, premultiplied.
	var under rgba
	for _, l := range layers {
		src := rgba{l[0] * l[3], l[1] * l[3], l[2] * l[3], l[3]}
		under = blend(UnderBlend, src, under)
	}

	// Reference: over-composite back to front on transparent black,
	// straight alpha.
	var ref rgba
	for i := len(layers) - 1; i >= 0; i-- {
		ref = over(layers[i], ref)
	}

	// Both sides are premultiplied; they must agree exactly.
	approxPixel(t, under, ref, "under vs over")
}

// underFold mirrors the composite shader's fold of the shared color pair:
// dst + (1 - dst.a) * src, both premultiplied.
func underFold(dst, src rgba) rgba {
	return rgba{
		dst[0] + (1-dst[3])*src[0],
		dst[1] + (1-dst[3])*src[1],
		dst[2] + (1-dst[3])*src[2],
		dst[3] + (1-dst[3])*src[3],
	}
}

func TestDpoit_CompositeMatchesDepthOrder(t *testing.T) {
	// Layers as successive peels extract them, nearest first, straight
	// alpha. Three or more layers only composite correctly when every peel
	// under-blends into the one shared color pair; splitting peels across
	// alternating targets would swap the second and third layers.
	layers := []rgba{
		{1, 0, 0, 0.5},
		{0, 1, 0, 0.5},
		{0, 0, 1, 0.5},
	}

	var front, back rgba
	for pass, l := range layers {
		if peelColorLoadOp(pass) == wgpu.LoadOpClear {
			front, back = rgba{}, rgba{}
		}
		src := rgba{l[0] * l[3], l[1] * l[3], l[2] * l[3], l[3]}
		front = blend(UnderBlend, src, front)
	}
	composite := underFold(front, back)

	// Reference: over-composite back to front, straight alpha.
	var ref rgba
	for i := len(layers) - 1; i >= 0; i-- {
		ref = over(layers[i], ref)
	}
	approxPixel(t, composite, ref, "composite vs depth-ordered reference")
	approxPixel(t, composite, rgba{0.5, 0.25, 0.125, 0.875}, "three-layer composite")
}

func TestDpoit_OpaqueFrontLayerBlocksRest(t *testing.T) {
	var dst rgba
	dst = blend(UnderBlend, rgba{0.2, 0.4, 0.6, 1}, dst)
	blocked := blend(UnderBlend, rgba{1, 1, 1, 1}, dst)
	approxPixel(t, blocked, dst, "fragment behind opaque layer leaked through")
}

func TestDpoit_PeelOrderingExtractsNearestFirst(t *testing.T) {
	// Three overlapping layers, submitted in arbitrary order every pass.
	depths := []float32{0.5, 0.1, 0.9}

	prevX := float32(PeelDepthClear)
	var peeled []float32
	for pass := 0; pass < 4; pass++ {
		// Exclusion test: a fragment passes when it lies strictly behind the
		// previous peel's near layer. The clear value accepts everything.
		threshold := float32(math.Inf(-1))
		if prevX != PeelDepthClear {
			threshold = -prevX
		}
		dst := rgba{PeelDepthClear, PeelDepthClear, 0, 0}
		accepted := false
		for _, z := range depths {
			if z > threshold {
				dst = blend(PeelDepthBlend, rgba{-z, z, 0, 0}, dst)
				accepted = true
			}
		}
		if !accepted {
			break
		}
		peeled = append(peeled, -dst[0])
		prevX = dst[0]
	}

	want := []float32{0.1, 0.5, 0.9}
	if len(peeled) != len(want) {
		t.Fatalf("peeled %d layers, want %d", len(peeled), len(want))
	}
	for i := range want {
		if !approx(peeled[i], want[i]) {
			t.Errorf("peel %d extracted depth %v, want %v", i, peeled[i], want[i])
		}
	}
}

func TestDpoit_PeelDepthMaxTracksInterval(t *testing.T) {
	// Depth pairs are written as (-depth, depth); max-blending leaves
	// (-nearest, farthest).
	dst := rgba{PeelDepthClear, PeelDepthClear, 0, 0}
	for _, d := range []float32{0.5, 0.1, 0.9} {
		dst = blend(PeelDepthBlend, rgba{-d, d, 0, 0}, dst)
	}
	if !approx(dst[0], -0.1) {
		t.Errorf("nearest depth channel = %v, want -0.1", dst[0])
	}
	if !approx(dst[1], 0.9) {
		t.Errorf("farthest depth channel = %v, want 0.9", dst[1])
	}
}

func TestCompositeBlend_PreservesBackgroundByAlpha(t *testing.T) {
	background := rgba{0.5, 0.5, 0.5, 1}

	// Fully transparent composite output leaves the background alone.
	out := blend(CompositeBlend, rgba{}, background)
	approxPixel(t, out, background, "transparent composite")

	// Opaque premultiplied output replaces it.
	out = blend(CompositeBlend, rgba{0.9, 0.1, 0.2, 1}, background)
	approxPixel(t, out, rgba{0.9, 0.1, 0.2, 1}, "opaque composite")
}
