// Package storage owns the on-disk layout of the service: the staging
// directory for uploads and normalized references, the output directory for
// delivered clips, and the per-request name group tying them together.
package storage
