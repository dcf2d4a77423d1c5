// Package textutil provides helpers for turning record identifiers and names
// into safe filesystem path segments.
package textutil
