// Package pipeline caches compiled render pipelines keyed by the full render
// state permutation, so that one shader compiled once covers every
// shader/variant/blend/format combination actually used by a scene.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// ErrMissingCreator is returned by Get when no creator is registered for the
// key's shader id. This indicates a renderable-registration bug, not a
// runtime condition.
var ErrMissingCreator = errors.New("pipeline: no creator registered")

// Key identifies one render pipeline permutation. Keys are compared
// structurally; two keys differing in any field map to distinct pipelines.
type Key struct {
	ShaderID     string
	Variant      Variant
	Transparency Transparency
	CullMode     wgpu.CullMode
	DepthTest    bool
	DepthWrite   bool
	Blend        BlendMode
	ColorFormat  wgpu.TextureFormat
	DepthFormat  wgpu.TextureFormat
	SampleCount  uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s blend=%s fmt=%d/%d samples=%d",
		k.ShaderID, k.Variant, k.Transparency, k.Blend,
		k.ColorFormat, k.DepthFormat, k.SampleCount)
}

// CreatorFunc builds a full pipeline descriptor for one permutation of the
// shader it is registered for.
type CreatorFunc func(Key) *wgpu.RenderPipelineDescriptor

// Cache lazily compiles and retains render pipelines. Entries are never
// evicted implicitly; the permutation space is bounded by the shader set.
// All methods assume the single-threaded render loop.
type Cache struct {
	compile  func(*wgpu.RenderPipelineDescriptor) (*wgpu.RenderPipeline, error)
	creators map[string]CreatorFunc
	entries  map[Key]*wgpu.RenderPipeline
}

// NewCache returns a cache compiling pipelines on the given device.
func NewCache(device *wgpu.Device) *Cache {
	c := &Cache{
		creators: make(map[string]CreatorFunc),
		entries:  make(map[Key]*wgpu.RenderPipeline),
	}
	if device != nil {
		c.compile = device.CreateRenderPipeline
	}
	return c
}

// RegisterCreator stores the descriptor factory for a shader id, replacing
// any previous registration.
func (c *Cache) RegisterCreator(shaderID string, fn CreatorFunc) {
	c.creators[shaderID] = fn
}

// Get returns the pipeline for key, compiling it on first use.
// A cache hit makes no GPU calls.
func (c *Cache) Get(key Key) (*wgpu.RenderPipeline, error) {
	if p, ok := c.entries[key]; ok {
		return p, nil
	}
	fn, ok := c.creators[key.ShaderID]
	if !ok {
		return nil, fmt.Errorf("%w for shader %q", ErrMissingCreator, key.ShaderID)
	}
	p, err := c.compile(fn(key))
	if err != nil {
		return nil, fmt.Errorf("pipeline: compiling %v: %w", key, err)
	}
	c.entries[key] = p
	return p, nil
}

// Has reports whether key is already compiled.
func (c *Cache) Has(key Key) bool {
	_, ok := c.entries[key]
	return ok
}

// Remove releases and evicts the pipeline for key, if present.
func (c *Cache) Remove(key Key) {
	if p, ok := c.entries[key]; ok {
		if p != nil {
			p.Release()
		}
		delete(c.entries, key)
	}
}

// Clear releases and evicts all pipelines. Creators stay registered.
func (c *Cache) Clear() {
	for key, p := range c.entries {
		if p != nil {
			p.Release()
		}
		delete(c.entries, key)
	}
}

// Len returns the number of compiled pipelines held.
func (c *Cache) Len() int {
	return len(c.entries)
}
