// Package pointer has helpers for optional values expressed as pointers.
package pointer

// To returns a pointer to a copy of v.
func To[T any](v T) *T { return &v }

// Deref returns the pointed value, or fallback when p is nil.
func Deref[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
