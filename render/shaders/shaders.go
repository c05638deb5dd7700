// Package shaders holds the WGSL sources used by the renderer, embedded at
// build time and exposed through an immutable table keyed by shader id.
package shaders

import (
	_ "embed"
	"fmt"
)

//go:embed fullscreen.wgsl
var FullscreenWGSL string

//go:embed wboit_composite.wgsl
var WboitCompositeWGSL string

//go:embed dpoit_composite.wgsl
var DpoitCompositeWGSL string

// Shader ids, as used by pipeline creators and the transparency compositor.
const (
	Fullscreen     = "fullscreen"
	WboitComposite = "wboit-composite"
	DpoitComposite = "dpoit-composite"
)

var table = map[string]string{
	Fullscreen:     FullscreenWGSL,
	WboitComposite: WboitCompositeWGSL,
	DpoitComposite: DpoitCompositeWGSL,
}

// Source returns the WGSL source for the given shader id.
// An unknown id is a registration error on the caller's side.
func Source(id string) (string, error) {
	src, ok := table[id]
	if !ok {
		return "", fmt.Errorf("shaders: unknown shader id %q", id)
	}
	return src, nil
}

// IDs returns all registered shader ids.
func IDs() []string {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	return ids
}
