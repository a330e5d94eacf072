// Package ttsserver implements engine.Engine on top of an HTTP inference server.
// The server is either reached at a configured endpoint or spawned as a child
// process on a free port, with its output forwarded to the service log.
package ttsserver
