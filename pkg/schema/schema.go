package schema

import (
	"fmt"
	"reflect"
)

// Type is the contract for a single field validator.
type Type interface {
	// Name returns the human-readable type name (e.g. "string", "[int]").
	Name() string
	// Validate checks whether a value conforms to this type.
	Validate(value any) error
}

// Schema maps field names to their expected types.
type Schema map[string]Type

// Validate checks data against the schema. All failures are collected into
// a single *AggregateError; fields present in data but absent from the
// schema are ignored (params stay forward compatible).
func Validate(s Schema, data map[string]any) error {
	if len(s) == 0 {
		return nil
	}

	var errs []error
	for field, typ := range s {
		value, ok := data[field]
		if !ok {
			errs = append(errs, &FieldError{Key: field, Reason: "required"})
			continue
		}
		if err := typ.Validate(value); err != nil {
			errs = append(errs, &FieldError{Key: field, Reason: err.Error(), Value: value})
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

type stringType struct{}

func (stringType) Name() string { return "string" }
func (stringType) Validate(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

type intType struct{}

func (intType) Name() string { return "int" }
func (intType) Validate(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return nil
	case float64:
		// JSON unmarshaling yields float64; accept whole numbers.
		if v == float64(int64(v)) {
			return nil
		}
		return fmt.Errorf("expected int, got non-integral float")
	default:
		return fmt.Errorf("expected int, got %T", value)
	}
}

type floatType struct{}

func (floatType) Name() string { return "float" }
func (floatType) Validate(value any) error {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64:
		return nil
	default:
		return fmt.Errorf("expected float, got %T", value)
	}
}

type boolType struct{}

func (boolType) Name() string { return "bool" }
func (boolType) Validate(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

type sliceType struct{ elem Type }

func (t sliceType) Name() string { return fmt.Sprintf("[%s]", t.elem.Name()) }
func (t sliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("expected slice, got %T", value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := t.elem.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

type customType struct {
	name     string
	validate func(any) error
}

func (t customType) Name() string             { return t.name }
func (t customType) Validate(value any) error { return t.validate(value) }

// String creates a string field validator.
func String() Type { return stringType{} }

// Int creates an integer field validator.
func Int() Type { return intType{} }

// Float creates a float field validator.
func Float() Type { return floatType{} }

// Bool creates a boolean field validator.
func Bool() Type { return boolType{} }

// Slice creates a validator for slices with the given element type.
func Slice(elem Type) Type { return sliceType{elem: elem} }

// Custom wraps a user-defined validation function.
func Custom(name string, validate func(any) error) Type {
	return customType{name: name, validate: validate}
}
