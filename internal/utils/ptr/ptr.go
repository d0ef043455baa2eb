// Package ptr provides pointer construction and dereference helpers for
// optional struct fields.
package ptr

// To returns a pointer to v.
func To[T any](v T) *T {
	return &v
}

// ToBool returns a pointer to the given bool.
func ToBool(v bool) *bool {
	return &v
}

// ToString returns a pointer to the given string.
func ToString(v string) *string {
	return &v
}

// ToInt returns a pointer to the given int.
func ToInt(v int) *int {
	return &v
}

// Deref returns the pointed-to value or the zero value for nil.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// DerefOr returns the pointed-to value or fallback for nil.
func DerefOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
