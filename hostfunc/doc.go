// Package hostfunc provides the Go functions interpreter code can call.
//
// Interpreter code has no implicit access to the host. Each capability is
// registered by name in a [Registry] and reached from Python through
// _goru_call(name, args):
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("time_now", hostfunc.TimeNow)
//	registry.Register("input", hostfunc.NewInput(bridge.Input()))
//
// # Built-in Capabilities
//
// Input: [NewInput] satisfies Python's input() from an interp.InputFunc,
// blocking until the host replies.
//
// HTTP: allowlisted network access via [HTTP] and [HTTPConfig]. Requests
// follow the proxy set with [HTTP.SetProxy].
//
//	http := hostfunc.NewHTTP(hostfunc.HTTPConfig{
//	    AllowedHosts: []string{"api.example.com"},
//	})
//	registry.Register("http_request", http.Request)
//
// Packages: [Packages] fetches pure-Python wheels into the directory the
// interpreter imports from.
//
// # Security Model
//
//   - HTTP requests are limited to explicitly allowed hosts
//   - Package installs can be limited to an allowlist
//   - All operations have size limits or a context deadline
package hostfunc
