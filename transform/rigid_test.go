package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestIdentity(t *testing.T) {
	id := Identity()
	p := r3.Vector{X: 1, Y: 2, Z: 3}
	test.That(t, id.ApplyTo(p), test.ShouldResemble, p)
	test.That(t, id.Mul(id).ApproxEqual(id, 1e-9), test.ShouldBeTrue)
}

func TestMulInverse(t *testing.T) {
	a := NewRotationAboutZ(math.Pi / 3)
	a.Translation = r3.Vector{X: 2, Y: -1, Z: 0.5}
	b := NewRotationAboutZ(-math.Pi / 5)
	b.Translation = r3.Vector{X: -4, Y: 0, Z: 1}

	roundTrip := a.Mul(a.Inverse())
	test.That(t, roundTrip.ApproxEqual(Identity(), 1e-9), test.ShouldBeTrue)

	ab := a.Mul(b)
	p := r3.Vector{X: 1, Y: 1, Z: 1}
	test.That(t, ab.ApplyTo(p).Sub(a.ApplyTo(b.ApplyTo(p))).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestRotationAboutZ(t *testing.T) {
	quarter := NewRotationAboutZ(math.Pi / 2)
	got := quarter.ApplyTo(r3.Vector{X: 1})
	test.That(t, got.Sub(r3.Vector{Y: 1}).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestProjectToXY(t *testing.T) {
	pose := NewRotationAboutZ(math.Pi / 4)
	pose.Translation = r3.Vector{X: 1, Y: 2, Z: 3}
	flat := pose.ProjectToXY()
	test.That(t, flat.Translation.Z, test.ShouldEqual, 0)
	// Yaw survives flattening.
	got := flat.ApplyTo(r3.Vector{X: 1}).Sub(flat.Translation)
	test.That(t, got.X, test.ShouldAlmostEqual, math.Cos(math.Pi/4), 1e-9)
	test.That(t, got.Y, test.ShouldAlmostEqual, math.Sin(math.Pi/4), 1e-9)
}
