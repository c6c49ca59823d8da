// Package server hosts the upstream HTTP client used on cache misses and the
// Fiber module mirror. The mirror maps /<scheme>/<host>/<path> onto the
// resolver so tools that cannot load the k6 extension still read through the
// vendored cache file. Diagnostics live under /-/ and are registered by the
// routes subpackage; keep exports narrow and accept explicit dependencies.
package server
