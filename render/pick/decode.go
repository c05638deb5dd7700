package pick

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// Ids are packed base-256 across the RGB channels, offset by +1 so an
// all-zero pixel is the "no object" sentinel.

// EncodeID writes id into the four bytes at dst.
func EncodeID(id uint32, dst []byte) {
	v := id + 1
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = 0xFF
}

// DecodeID reads an id from the four bytes at b[offset:]. ok is false when
// the pixel holds the null sentinel.
func DecodeID(b []byte, offset int) (uint32, bool) {
	v := uint32(b[offset]) | uint32(b[offset+1])<<8 | uint32(b[offset+2])<<16
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

// EncodeDepth packs a [0,1] depth into four bytes, each channel carrying a
// progressively smaller fractional weight. Inverse of DecodeDepth up to
// quantization.
func EncodeDepth(d float32, dst []byte) {
	v := clamp01(float64(d))
	weights := [4]float64{1, 1.0 / 256, 1.0 / (256 * 256), 1.0 / (256 * 256 * 256)}
	for i, w := range weights {
		c := int(v / w * 255)
		if c > 255 {
			c = 255
		}
		dst[i] = byte(c)
		v -= float64(c) / 255 * w
	}
}

// DecodeDepth unpacks a depth from the four bytes at b[offset:] with
// weights 1, 1/256, 1/256^2, 1/256^3.
func DecodeDepth(b []byte, offset int) float32 {
	r := float64(b[offset]) / 255
	g := float64(b[offset+1]) / 255
	bl := float64(b[offset+2]) / 255
	a := float64(b[offset+3]) / 255
	return float32(r + g/256 + bl/(256*256) + a/(256*256*256))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PickingID returns the object, instance, and group ids at viewport-relative
// pixel (x, y). Valid only while Check reports StatusResolved; ok is false
// outside the viewport, before resolution, or when any channel decodes to
// the null sentinel.
func (r *Readback) PickingID(x, y uint32) (objectID, instanceID, groupID uint32, ok bool) {
	r.mu.Lock()
	resolved := r.phase == phaseResolved
	r.mu.Unlock()
	if !resolved || x >= r.width || y >= r.height {
		return 0, 0, 0, false
	}
	offset := (int(y)*int(r.width) + int(x)) * 4
	objectID, ok = DecodeID(r.cpu[0], offset)
	if !ok {
		return 0, 0, 0, false
	}
	instanceID, ok = DecodeID(r.cpu[1], offset)
	if !ok {
		return 0, 0, 0, false
	}
	groupID, ok = DecodeID(r.cpu[2], offset)
	if !ok {
		return 0, 0, 0, false
	}
	return objectID, instanceID, groupID, true
}

// Depth returns the unpacked depth at viewport-relative pixel (x, y). Valid
// only while Check reports StatusResolved.
func (r *Readback) Depth(x, y uint32) (float32, bool) {
	r.mu.Lock()
	resolved := r.phase == phaseResolved
	r.mu.Unlock()
	if !resolved || x >= r.width || y >= r.height {
		return 0, false
	}
	offset := (int(y)*int(r.width) + int(x)) * 4
	return DecodeDepth(r.cpu[3], offset), true
}

// SnapshotIDs renders the resolved object-id buffer into an RGBA image of
// the given size, nearest-neighbor upscaled from the low-resolution pick
// buffer. Useful for debugging pick coverage; returns nil before
// resolution.
func (r *Readback) SnapshotIDs(width, height int) *image.RGBA {
	r.mu.Lock()
	resolved := r.phase == phaseResolved
	r.mu.Unlock()
	if !resolved || r.width == 0 || r.height == 0 {
		return nil
	}
	src := image.NewRGBA(image.Rect(0, 0, int(r.width), int(r.height)))
	copy(src.Pix, r.cpu[0])
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
