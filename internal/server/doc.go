// Package server exposes the voice cloning pipeline over HTTP.
// It accepts multipart clone requests, serves the generated clips and
// provides health, statistics, configuration and Prometheus endpoints.
package server
