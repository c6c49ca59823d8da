// Package cache implements the module vendoring cache: an in-memory key to
// content store guarded by a single RWMutex, its deterministic length-framed
// file encoding, atomic persistence (temp file + rename), hit/miss metrics and
// the read-through Resolver that the module loader calls. Strict (offline) and
// hybrid modes are selected by the Fetcher injected into the Resolver, so the
// resolver itself never branches on configuration.
package cache
