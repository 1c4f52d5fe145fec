// Package sph provides the smoothing kernels used by the particle solvers.
//
// A Kernel bundles a kernel family with the coefficients derived from its
// support radius. Weight and gradient always come from the same Kernel, so
// they cannot be mixed across families.
package sph

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Kind selects a kernel family.
type Kind uint8

const (
	Poly6 Kind = iota
	Spiky
	Cubic
)

func (k Kind) String() string {
	switch k {
	case Poly6:
		return "poly6"
	case Spiky:
		return "spiky"
	case Cubic:
		return "cubic"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind accepts the names printed by String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "poly6", "":
		return Poly6, nil
	case "spiky":
		return Spiky, nil
	case "cubic", "cubic_spline", "bspline":
		return Cubic, nil
	}
	return 0, fmt.Errorf("sph: unknown kernel %q", s)
}

// Kinds lists every kernel family.
func Kinds() []Kind { return []Kind{Poly6, Spiky, Cubic} }

// gradEpsilon is the distance below which gradients are taken as zero.
const gradEpsilon = 1e-9

// Kernel is an immutable parameter object for one kernel family and support
// radius H. It is safe to share between goroutines.
type Kernel struct {
	Kind Kind
	H    float64

	h2   float64
	w    float64 // weight normalisation
	grad float64 // gradient normalisation
}

// NewKernel precomputes the coefficients of kind for support radius h.
// It panics on an unknown kind.
func NewKernel(kind Kind, h float64) Kernel {
	k := Kernel{Kind: kind, H: h, h2: h * h}
	switch kind {
	case Poly6:
		k.w = 315 / (64 * math.Pi * math.Pow(h, 9))
		k.grad = -945 / (32 * math.Pi * math.Pow(h, 9))
	case Spiky:
		k.w = 15 / (math.Pi * math.Pow(h, 6))
		k.grad = -45 / (math.Pi * math.Pow(h, 6))
	case Cubic:
		k.w = 8 / (math.Pi * h * h * h)
		k.grad = 48 / (math.Pi * h * h * h)
	default:
		panic(fmt.Sprintf("sph: unknown kernel kind %d", uint8(kind)))
	}
	return k
}

// W evaluates the kernel at offset r.
func (k Kernel) W(r r3.Vec) float64 { return k.WScalar(r3.Norm(r)) }

// WScalar evaluates the kernel at distance d.
func (k Kernel) WScalar(d float64) float64 {
	if d < 0 {
		d = -d
	}
	if d >= k.H {
		return 0
	}
	switch k.Kind {
	case Poly6:
		t := k.h2 - d*d
		return k.w * t * t * t
	case Spiky:
		t := k.H - d
		return k.w * t * t * t
	case Cubic:
		q := d / k.H
		if q <= 0.5 {
			return k.w * (6*q*q*q - 6*q*q + 1)
		}
		t := 1 - q
		return 2 * k.w * t * t * t
	}
	panic(fmt.Sprintf("sph: unknown kernel kind %d", uint8(k.Kind)))
}

// Grad evaluates the kernel gradient with respect to r. It is zero at the
// origin and outside the support.
func (k Kernel) Grad(r r3.Vec) r3.Vec {
	d2 := r3.Norm2(r)
	if d2 >= k.h2 {
		return r3.Vec{}
	}
	switch k.Kind {
	case Poly6:
		t := k.h2 - d2
		return r3.Scale(k.grad*t*t, r)
	case Spiky:
		d := math.Sqrt(d2)
		if d <= gradEpsilon {
			return r3.Vec{}
		}
		t := k.H - d
		return r3.Scale(k.grad*t*t/d, r)
	case Cubic:
		d := math.Sqrt(d2)
		if d <= gradEpsilon {
			return r3.Vec{}
		}
		q := d / k.H
		gradq := r3.Scale(1/(d*k.H), r)
		if q <= 0.5 {
			return r3.Scale(k.grad*q*(3*q-2), gradq)
		}
		t := 1 - q
		return r3.Scale(-k.grad*t*t, gradq)
	}
	panic(fmt.Sprintf("sph: unknown kernel kind %d", uint8(k.Kind)))
}
