// Package readabletime defines the single human-readable timestamp
// format used across LLS's on-disk and wire representations: the
// reconcile marker file (spec.md §6) and checkpoint manifests both format
// times the same way, per spec.md §6's "timestamp formatted as the same
// readable form the rest of the system uses".
package readabletime

import "time"

const layout = time.RFC3339Nano

// Format renders t in the shared readable form.
func Format(t time.Time) string {
	return t.UTC().Format(layout)
}

// Parse parses a string previously produced by Format.
func Parse(s string) (time.Time, error) {
	return time.Parse(layout, s)
}
