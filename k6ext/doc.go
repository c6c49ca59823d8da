// Package k6ext plugs the vendoring cache into the k6 engine.
//
// On init it registers the JS module k6/x/cache and the output extension
// "cache". When XK6_CACHE names a cache file, http.DefaultTransport is
// replaced by a Transport that resolves remote module loads through the
// cache; the output's Stop hook writes the file back atomically at teardown.
//
// Build a k6 binary with:
//
//	xk6 build --with github.com/any-hub/xk6-cache/k6ext
package k6ext
