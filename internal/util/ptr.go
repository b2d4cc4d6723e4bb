// Package util holds small generic helpers.
package util

// Ptr returns &v, for optional fields such as a job's last processed date.
func Ptr[T any](v T) *T { return &v }
