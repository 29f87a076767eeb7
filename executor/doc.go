// Package executor runs a persistent Python interpreter compiled to
// WebAssembly under wazero.
//
// # Overview
//
// An [Executor] owns the wazero runtime and the compilation cache. Each
// [Session] instantiates the interpreter once and keeps it alive, so
// globals defined by one command are visible to the next.
//
//	exec, err := executor.New(hostfunc.NewRegistry(), executor.WithDiskCache())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	session, err := exec.NewSession(python.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	session.Eval(ctx, `x = 42`)
//	raw, _ := session.Eval(ctx, `x + 1`) // raw == []byte("43")
//
// # Protocol
//
// Commands are JSON lines on the guest's stdin. The guest reports back
// through NUL-delimited frames on stderr: a ready marker once the command
// loop is listening, a result or error frame per command sequence number,
// and host function calls that are answered with a JSON line on stdin.
// Everything else on stderr passes through to the configured writer.
//
// A command whose context ends keeps running inside the guest. Its
// completion is discarded and later commands queue behind it.
//
// # Interpreters
//
// [Factory] adapts an Executor to [interp.Factory], which is what the
// worker uses to obtain interpreters:
//
//	factory := executor.Factory(exec, python.New(),
//	    executor.WithPackages("/var/lib/pyworker/packages", nil),
//	    executor.WithAllowedHosts([]string{"api.example.com"}),
//	)
//
// # Capabilities
//
// Guest code has no filesystem or network access unless granted. Mounts
// are real directories exposed through WASI; HTTP goes through the
// http_request host function and is limited to the allowed hosts.
package executor
