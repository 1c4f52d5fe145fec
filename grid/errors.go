package grid

import (
	"errors"
	"fmt"
)

// Configuration errors reported before a solver touches any field.
var (
	ErrMissingField      = errors.New("grid: required field is missing")
	ErrDimensionMismatch = errors.New("grid: fields have different dimensions")
	ErrSampling          = errors.New("grid: field has the wrong sampling")
	ErrResolution        = errors.New("grid: invalid resolution")
)

// Gridded is implemented by every field type.
type Gridded interface {
	Layout() Grid
}

// CheckSameGrid verifies that every field is present and shares one grid.
// Nil interface values and typed nil pointers are both reported as missing.
func CheckSameGrid(names []string, fields ...Gridded) error {
	var ref Grid
	for i, f := range fields {
		if isNil(f) {
			return fmt.Errorf("%w: %s", ErrMissingField, fieldName(names, i))
		}
		if i == 0 {
			ref = f.Layout()
			continue
		}
		if f.Layout() != ref {
			return fmt.Errorf("%w: %s is %v, expected %v", ErrDimensionMismatch, fieldName(names, i), f.Layout().Res, ref.Res)
		}
	}
	return nil
}

// CheckSampling verifies a vector field's sampling mode.
func CheckSampling(name string, v *VectorField, want Sampling) error {
	if v == nil {
		return fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	if v.Sampling != want {
		return fmt.Errorf("%w: %s is %s sampled, expected %s", ErrSampling, name, v.Sampling, want)
	}
	return nil
}

func fieldName(names []string, i int) string {
	if i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("field %d", i)
}

func isNil(f Gridded) bool {
	switch v := f.(type) {
	case nil:
		return true
	case *ScalarField:
		return v == nil
	case *VectorField:
		return v == nil
	case *MarkerField:
		return v == nil
	case *IndexField:
		return v == nil
	}
	return false
}
