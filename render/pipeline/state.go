package pipeline

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// Variant selects the render output a pipeline produces.
type Variant uint8

const (
	VariantColor Variant = iota
	VariantPick
	VariantDepth
	VariantMarking
	VariantEmissive
	VariantTracing
)

func (v Variant) String() string {
	switch v {
	case VariantColor:
		return "color"
	case VariantPick:
		return "pick"
	case VariantDepth:
		return "depth"
	case VariantMarking:
		return "marking"
	case VariantEmissive:
		return "emissive"
	case VariantTracing:
		return "tracing"
	}
	return "unknown"
}

// Transparency selects how transparent geometry is composited.
type Transparency uint8

const (
	TransparencyOpaque Transparency = iota
	TransparencyBlended
	TransparencyWboit
	TransparencyDpoit
)

func (t Transparency) String() string {
	switch t {
	case TransparencyOpaque:
		return "opaque"
	case TransparencyBlended:
		return "blended"
	case TransparencyWboit:
		return "wboit"
	case TransparencyDpoit:
		return "dpoit"
	}
	return "unknown"
}

// BlendMode selects the blend equation for the color attachment.
type BlendMode uint8

const (
	BlendNone BlendMode = iota
	BlendNormal
	BlendAdditive
	BlendMultiply
)

func (b BlendMode) String() string {
	switch b {
	case BlendNone:
		return "none"
	case BlendNormal:
		return "normal"
	case BlendAdditive:
		return "additive"
	case BlendMultiply:
		return "multiply"
	}
	return "unknown"
}

// BlendState returns the wgpu blend state for a mode, or nil for BlendNone
// (blending disabled).
func BlendState(mode BlendMode) *wgpu.BlendState {
	switch mode {
	case BlendNormal:
		return &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				Operation: wgpu.BlendOperationAdd,
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
			},
			Alpha: wgpu.BlendComponent{
				Operation: wgpu.BlendOperationAdd,
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
			},
		}
	case BlendAdditive:
		return &wgpu.BlendState{
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
	case BlendMultiply:
		return &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				Operation: wgpu.BlendOperationAdd,
				SrcFactor: wgpu.BlendFactorDst,
				DstFactor: wgpu.BlendFactorZero,
			},
			Alpha: wgpu.BlendComponent{
				Operation: wgpu.BlendOperationAdd,
				SrcFactor: wgpu.BlendFactorDstAlpha,
				DstFactor: wgpu.BlendFactorZero,
			},
		}
	}
	return nil
}

// DepthStencilState returns the depth-stencil state for a key, or nil when
// the key carries no depth format.
func DepthStencilState(key Key) *wgpu.DepthStencilState {
	if key.DepthFormat == wgpu.TextureFormatUndefined {
		return nil
	}
	compare := wgpu.CompareFunctionAlways
	if key.DepthTest {
		compare = wgpu.CompareFunctionLess
	}
	return &wgpu.DepthStencilState{
		Format:            key.DepthFormat,
		DepthWriteEnabled: key.DepthWrite,
		DepthCompare:      compare,
		StencilFront: wgpu.StencilFaceState{
			Compare: wgpu.CompareFunctionAlways,
		},
		StencilBack: wgpu.StencilFaceState{
			Compare: wgpu.CompareFunctionAlways,
		},
		StencilReadMask:  0xFFFFFFFF,
		StencilWriteMask: 0xFFFFFFFF,
	}
}

// ColorTarget returns the color target state for a key's format and blend
// mode.
func ColorTarget(key Key) wgpu.ColorTargetState {
	return wgpu.ColorTargetState{
		Format:    key.ColorFormat,
		Blend:     BlendState(key.Blend),
		WriteMask: wgpu.ColorWriteMaskAll,
	}
}
