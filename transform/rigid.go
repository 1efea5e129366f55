// Package transform provides rigid 3D transforms used for node, submap and
// landmark poses throughout the map builder.
package transform

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Rigid is a rigid transform in 3D space, a rotation followed by a
// translation. The rotation quaternion is kept normalized.
type Rigid struct {
	Translation r3.Vector
	Rotation    quat.Number
}

// Identity returns the identity transform.
func Identity() Rigid {
	return Rigid{Rotation: quat.Number{Real: 1}}
}

// NewRigid returns a transform with the given translation and rotation. The
// rotation is normalized.
func NewRigid(translation r3.Vector, rotation quat.Number) Rigid {
	return Rigid{Translation: translation, Rotation: normalize(rotation)}
}

// NewTranslation returns a pure translation.
func NewTranslation(translation r3.Vector) Rigid {
	return Rigid{Translation: translation, Rotation: quat.Number{Real: 1}}
}

// NewRotationAboutZ returns a pure rotation of theta radians about the Z axis.
func NewRotationAboutZ(theta float64) Rigid {
	return Rigid{Rotation: quat.Number{Real: math.Cos(theta / 2), Kmag: math.Sin(theta / 2)}}
}

// Mul composes two transforms, applying rhs first.
func (r Rigid) Mul(rhs Rigid) Rigid {
	return Rigid{
		Translation: r.ApplyTo(rhs.Translation),
		Rotation:    normalize(quat.Mul(r.Rotation, rhs.Rotation)),
	}
}

// Inverse returns the transform mapping back to the source frame.
func (r Rigid) Inverse() Rigid {
	rotInv := quat.Conj(r.Rotation)
	t := rotate(rotInv, r.Translation)
	return Rigid{Translation: r3.Vector{X: -t.X, Y: -t.Y, Z: -t.Z}, Rotation: rotInv}
}

// ApplyTo transforms a point from the source frame to the target frame.
func (r Rigid) ApplyTo(p r3.Vector) r3.Vector {
	return rotate(r.Rotation, p).Add(r.Translation)
}

// ProjectToXY flattens the transform onto the XY plane, keeping only the
// yaw component of the rotation. Used by the 2D pose graph variant.
func (r Rigid) ProjectToXY() Rigid {
	yaw := math.Atan2(
		2*(r.Rotation.Real*r.Rotation.Kmag+r.Rotation.Imag*r.Rotation.Jmag),
		1-2*(r.Rotation.Jmag*r.Rotation.Jmag+r.Rotation.Kmag*r.Rotation.Kmag),
	)
	out := NewRotationAboutZ(yaw)
	out.Translation = r3.Vector{X: r.Translation.X, Y: r.Translation.Y}
	return out
}

// ApproxEqual reports whether two transforms are equal within epsilon on
// translation and rotation components. Antipodal quaternions compare equal.
func (r Rigid) ApproxEqual(other Rigid, epsilon float64) bool {
	if r.Translation.Sub(other.Translation).Norm() > epsilon {
		return false
	}
	d := quat.Mul(quat.Conj(r.Rotation), other.Rotation)
	return math.Abs(math.Abs(d.Real)-1) <= epsilon
}

func (r Rigid) String() string {
	return fmt.Sprintf("{t: [%.3f, %.3f, %.3f], q: [%.3f, %.3f, %.3f, %.3f]}",
		r.Translation.X, r.Translation.Y, r.Translation.Z,
		r.Rotation.Real, r.Rotation.Imag, r.Rotation.Jmag, r.Rotation.Kmag)
}

func rotate(q quat.Number, p r3.Vector) r3.Vector {
	pq := quat.Number{Imag: p.X, Jmag: p.Y, Kmag: p.Z}
	res := quat.Mul(quat.Mul(q, pq), quat.Conj(q))
	return r3.Vector{X: res.Imag, Y: res.Jmag, Z: res.Kmag}
}

func normalize(q quat.Number) quat.Number {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
