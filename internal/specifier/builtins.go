package specifier

import "strings"

const runtimePrefix = "node:"

// nodeBuiltinModules lists the Node.js core modules that are always provided
// by the runtime and never bundled or installed.
//
// Generated from:
//
//	node -p "[...require('module').builtinModules].filter(m => !m.startsWith('_') && !m.includes('/')).sort().join('\n')"
var nodeBuiltinModules = map[string]bool{
	"assert":              true,
	"async_hooks":         true,
	"buffer":              true,
	"child_process":       true,
	"cluster":             true,
	"console":             true,
	"constants":           true,
	"crypto":              true,
	"dgram":               true,
	"diagnostics_channel": true,
	"dns":                 true,
	"domain":              true,
	"events":              true,
	"fs":                  true,
	"http":                true,
	"http2":               true,
	"https":               true,
	"inspector":           true,
	"module":              true,
	"net":                 true,
	"os":                  true,
	"path":                true,
	"perf_hooks":          true,
	"process":             true,
	"punycode":            true,
	"querystring":         true,
	"readline":            true,
	"repl":                true,
	"stream":              true,
	"string_decoder":      true,
	"sys":                 true,
	"timers":              true,
	"tls":                 true,
	"trace_events":        true,
	"tty":                 true,
	"url":                 true,
	"util":                true,
	"v8":                  true,
	"vm":                  true,
	"wasi":                true,
	"worker_threads":      true,
	"zlib":                true,
}

// prefixOnlyBuiltins are only reachable through the node: scheme.
var prefixOnlyBuiltins = map[string]bool{
	"sea":    true,
	"sqlite": true,
	"test":   true,
}

// IsBuiltin reports whether spec names a runtime built-in, with or without
// the node: prefix. Subpaths such as fs/promises resolve to their base module.
func IsBuiltin(spec string) bool {
	name, prefixed := strings.CutPrefix(spec, runtimePrefix)
	if base, _, ok := strings.Cut(name, "/"); ok {
		name = base
	}
	if nodeBuiltinModules[name] {
		return true
	}
	return prefixed && prefixOnlyBuiltins[name]
}
