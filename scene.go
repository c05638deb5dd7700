package lumen

import (
	"hash/fnv"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// RenderObject is one pickable, drawable entry in the scene. ObjectID is the
// dense integer rendered into the pick targets; Handle is the stable
// identity callers hold across frames.
type RenderObject struct {
	Handle   uuid.UUID
	ObjectID uint32
	GroupID  uint32

	Center mgl32.Vec3
	Radius float32

	Transparent bool
	Visible     bool
}

// Scene stores render objects and aggregates the queries the draw
// orchestrator needs each frame: visibility hashing, bounding-sphere
// aggregation, and pick-id resolution.
type Scene struct {
	objects map[uint32]*RenderObject
	nextID  uint32
}

func NewScene() *Scene {
	return &Scene{objects: make(map[uint32]*RenderObject)}
}

// Add registers a render object and assigns it a dense object id and a
// fresh handle.
func (s *Scene) Add(center mgl32.Vec3, radius float32, groupID uint32, transparent bool) *RenderObject {
	obj := &RenderObject{
		Handle:      uuid.New(),
		ObjectID:    s.nextID,
		GroupID:     groupID,
		Center:      center,
		Radius:      radius,
		Transparent: transparent,
		Visible:     true,
	}
	s.nextID++
	s.objects[obj.ObjectID] = obj
	return obj
}

// Remove drops the object with the given id.
func (s *Scene) Remove(objectID uint32) {
	delete(s.objects, objectID)
}

// Lookup resolves a pick-decoded object id back to its render object.
func (s *Scene) Lookup(objectID uint32) (*RenderObject, bool) {
	obj, ok := s.objects[objectID]
	return obj, ok
}

func (s *Scene) Len() int { return len(s.objects) }

// HasTransparent reports whether any visible object needs a transparency
// pass this frame.
func (s *Scene) HasTransparent() bool {
	for _, obj := range s.objects {
		if obj.Visible && obj.Transparent {
			return true
		}
	}
	return false
}

// VisibilityHash digests the visible object set. The orchestrator compares
// the hash at pick request and resolution time to drop stale results.
func (s *Scene) VisibilityHash() uint64 {
	ids := make([]uint32, 0, len(s.objects))
	for id, obj := range s.objects {
		if obj.Visible {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	h := fnv.New64a()
	var b [5]byte
	for _, id := range ids {
		obj := s.objects[id]
		b[0] = byte(id)
		b[1] = byte(id >> 8)
		b[2] = byte(id >> 16)
		b[3] = byte(id >> 24)
		b[4] = 0
		if obj.Transparent {
			b[4] = 1
		}
		h.Write(b[:])
	}
	return h.Sum64()
}

// BoundingSphere merges the bounding spheres of all visible objects.
func (s *Scene) BoundingSphere() (mgl32.Vec3, float32) {
	var center mgl32.Vec3
	var radius float32
	first := true
	for _, obj := range s.objects {
		if !obj.Visible {
			continue
		}
		if first {
			center, radius = obj.Center, obj.Radius
			first = false
			continue
		}
		center, radius = mergeSpheres(center, radius, obj.Center, obj.Radius)
	}
	return center, radius
}

func mergeSpheres(c1 mgl32.Vec3, r1 float32, c2 mgl32.Vec3, r2 float32) (mgl32.Vec3, float32) {
	d := c2.Sub(c1)
	dist := d.Len()
	if dist+r2 <= r1 {
		return c1, r1
	}
	if dist+r1 <= r2 {
		return c2, r2
	}
	r := (r1 + r2 + dist) / 2
	if dist > 0 {
		c1 = c1.Add(d.Mul((r - r1) / dist))
	}
	return c1, r
}
