// Package render rasterises a perspective view of an equirectangular
// panorama without a GPU. It backs off-screen look-at exports and headless
// playback.
package render

import (
	"image"
	"math"

	"hyperlapse-desktop/internal/geo"
	"hyperlapse-desktop/internal/playback"
)

// Projector renders perspective views of a viewing sphere.
type Projector struct {
	Width  int
	Height int
}

type vec3 struct{ x, y, z float64 }

func (a vec3) add(b vec3) vec3 { return vec3{a.x + b.x, a.y + b.y, a.z + b.z} }
func (a vec3) scale(s float64) vec3 { return vec3{a.x * s, a.y * s, a.z * s} }
func (a vec3) cross(b vec3) vec3 { return vec3{a.y*b.z - a.z*b.y, a.z*b.x - a.x*b.z, a.x*b.y - a.y*b.x} }
func (a vec3) length() float64 { return math.Sqrt(a.x*a.x + a.y*a.y + a.z*a.z) }
func (a vec3) normalize() vec3 {
	l := a.length()
	if l == 0 {
		return a
	}
	return a.scale(1 / l)
}

// Project renders the view seen by cam from inside a sphere textured with src.
// The vertical field of view is cam.FOV degrees.
func (p Projector) Project(src *image.RGBA, cam playback.Camera) *image.RGBA {
	w, h := p.Width, p.Height
	if w <= 0 {
		w = playback.DefaultWidth
	}
	if h <= 0 {
		h = playback.DefaultHeight
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if src == nil || src.Bounds().Empty() {
		return out
	}

	fov := cam.FOV
	if fov <= 0 {
		fov = playback.DefaultFOV
	}
	tanHalf := math.Tan(geo.ToRad(fov) / 2)
	aspect := float64(w) / float64(h)

	forward := vec3{cam.Target[0], cam.Target[1], cam.Target[2]}.normalize()
	if forward.length() == 0 {
		forward = vec3{1, 0, 0}
	}
	up := vec3{0, 1, 0}
	right := forward.cross(up).normalize()
	if right.length() == 0 {
		right = vec3{0, 0, 1}
	}
	camUp := right.cross(forward)

	roll := geo.ToRad(cam.Roll)
	cr, sr := math.Cos(roll), math.Sin(roll)
	right, camUp = right.scale(cr).add(camUp.scale(sr)), right.scale(-sr).add(camUp.scale(cr))

	tilt := -geo.ToRad(cam.MeshTilt)
	ct, st := math.Cos(tilt), math.Sin(tilt)

	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()

	for j := 0; j < h; j++ {
		ny := (1 - 2*(float64(j)+0.5)/float64(h)) * tanHalf
		for i := 0; i < w; i++ {
			nx := (2*(float64(i)+0.5)/float64(w) - 1) * tanHalf * aspect
			d := forward.add(right.scale(nx)).add(camUp.scale(ny)).normalize()

			// undo the sphere's rotation about z
			dx := d.x*ct - d.y*st
			dy := d.x*st + d.y*ct
			dz := d.z

			theta := math.Acos(math.Max(-1, math.Min(1, dy)))
			phi := math.Atan2(dz, -dx)
			if phi < 0 {
				phi += 2 * math.Pi
			}

			sx := int(phi / (2 * math.Pi) * float64(sw))
			sy := int(theta / math.Pi * float64(sh))
			if sx >= sw {
				sx = sw - 1
			}
			if sy >= sh {
				sy = sh - 1
			}

			so := src.PixOffset(sb.Min.X+sx, sb.Min.Y+sy)
			do := out.PixOffset(i, j)
			copy(out.Pix[do:do+4], src.Pix[so:so+4])
		}
	}
	return out
}
