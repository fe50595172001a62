package playback

import (
	"math"

	"hyperlapse-desktop/internal/geo"
)

// SphereRadius is the radius of the viewing sphere the camera target sits on.
const SphereRadius = 500.0

// MaxLatitude clamps the camera away from the poles of the viewing sphere.
const MaxLatitude = 85.0

// Vec2 is a 2D offset in degrees.
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Vec3 is a 3D offset in degrees.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Camera is the orientation sent to the render surface.
type Camera struct {
	Heading  float64    `json:"heading"`  // degrees, camera longitude
	Pitch    float64    `json:"pitch"`    // degrees, camera latitude
	Roll     float64    `json:"roll"`     // degrees
	MeshTilt float64    `json:"meshTilt"` // degrees, panorama origin pitch
	Target   [3]float64 `json:"target"`
	FOV      float64    `json:"fov"`
}

// view holds the per-frame inputs of the camera computation.
type view struct {
	index, length int
	originHeading float64 // radians
	originPitch   float64 // degrees
	lookAtHeading float64 // degrees
	basePitch     float64 // degrees
}

// computeCamera derives the camera for a frame. Offsets ramp linearly with
// t = index/length while Position is constant. lat/lon are the camera's
// previous coordinates and the updated ones are returned.
func computeCamera(p Params, v view, lat, lon float64) (Camera, float64, float64) {
	t := 0.0
	if v.length > 0 {
		t = float64(v.index) / float64(v.length)
	}

	ox := p.Position.X + p.Offset.X*t
	oy := p.Position.Y + p.Offset.Y*t
	oz := p.Tilt + geo.ToRad(p.Offset.Z)*t

	heading := ox
	if p.UseLookAt {
		heading = v.lookAtHeading - geo.ToDeg(v.originHeading) + ox
	}
	pitch := v.basePitch + oy

	lon = lon + (heading - lon)
	lat = lat + (pitch - lat)
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))

	roll := oz
	if p.UseRotationComp {
		roll += geo.ToRad(p.RotationComp)
	}

	return Camera{
		Heading:  lon,
		Pitch:    lat,
		Roll:     -geo.ToDeg(roll),
		MeshTilt: v.originPitch,
		Target:   TargetFor(lat, lon),
		FOV:      p.FOV,
	}, lat, lon
}

// TargetFor returns the point on the viewing sphere at lat/lon degrees.
func TargetFor(lat, lon float64) [3]float64 {
	phi := geo.ToRad(90 - lat)
	theta := geo.ToRad(lon)
	return [3]float64{
		SphereRadius * math.Sin(phi) * math.Cos(theta),
		SphereRadius * math.Cos(phi),
		SphereRadius * math.Sin(phi) * math.Sin(theta),
	}
}

// lookAtPitch returns the pitch that levels the camera toward a target
// elevation: the arctangent of the height difference over the distance,
// negative when the target is below the frame.
func lookAtPitch(frameElevation, elevationOffset, targetElevation, distance float64) float64 {
	e := frameElevation - elevationOffset
	dif := targetElevation - e
	angle := geo.ToDeg(math.Atan(math.Abs(dif) / distance))
	if dif < 0 {
		return -angle
	}
	return angle
}
