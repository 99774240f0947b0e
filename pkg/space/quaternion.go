package space

import "math"

// Quat is a rotation quaternion.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

var QuatIdentity = Quat{W: 1}

func (q Quat) Dot(o Quat) float64 { return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W }

func (q Quat) Neg() Quat { return Quat{-q.X, -q.Y, -q.Z, -q.W} }

func (q Quat) Norm() Quat {
	l := math.Sqrt(q.Dot(q))
	if l == 0 {
		return QuatIdentity
	}
	return Quat{q.X / l, q.Y / l, q.Z / l, q.W / l}
}

// nearly parallel quaternions make the slerp denominator unstable
const slerpEpsilon = 0.9995

// Slerp blends spherically from q to o along the shortest arc, t in [0,1].
// A negative dot product means the long way around, so one operand is
// negated first (q and -q encode the same rotation). Nearly identical
// inputs fall back to a normalized linear blend.
func (q Quat) Slerp(o Quat, t float64) Quat {
	d := q.Dot(o)
	if d < 0 {
		o = o.Neg()
		d = -d
	}
	if d > slerpEpsilon {
		return Quat{
			q.X + (o.X-q.X)*t,
			q.Y + (o.Y-q.Y)*t,
			q.Z + (o.Z-q.Z)*t,
			q.W + (o.W-q.W)*t,
		}.Norm()
	}
	theta0 := math.Acos(d)
	theta := theta0 * t
	sin0 := math.Sin(theta0)
	s0 := math.Cos(theta) - d*math.Sin(theta)/sin0
	s1 := math.Sin(theta) / sin0
	return Quat{
		q.X*s0 + o.X*s1,
		q.Y*s0 + o.Y*s1,
		q.Z*s0 + o.Z*s1,
		q.W*s0 + o.W*s1,
	}
}
