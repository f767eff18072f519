package fusion

import "math"

// Vector3 is a three-axis sample, e.g. acceleration in m/s².
type Vector3 struct {
	X, Y, Z float64
}

func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vector3) Dot(o Vector3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vector3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// PitchRoll returns tilt angles in degrees for a gravity vector.
//
// pitch = atan2(-x, sqrt(y²+z²)), roll = atan2(y, z).
func (v Vector3) PitchRoll() (pitchDeg, rollDeg float64) {
	pitch := math.Atan2(-v.X, math.Sqrt(v.Y*v.Y+v.Z*v.Z))
	roll := math.Atan2(v.Y, v.Z)
	return pitch * 180 / math.Pi, roll * 180 / math.Pi
}
