// Package pyworker runs untrusted Python in a WebAssembly interpreter behind
// a small message protocol.
//
// # Overview
//
// A host sends execute requests carrying code, packages to install and
// context variables. The worker preprocesses the code, installs what is
// missing, injects the context, evaluates with a timeout and answers with
// one response holding the result, captured output and a classified error.
// Code that calls input() suspends until the host sends an input reply.
//
// # Basic Usage
//
//	exec, _ := executor.New(hostfunc.NewRegistry())
//	defer exec.Close()
//
//	w, _ := worker.New(executor.Factory(exec, python.New()),
//	    worker.PostFunc(func(v any) error {
//	        fmt.Printf("%+v\n", v)
//	        return nil
//	    }))
//	defer w.Close()
//
//	w.Handle(ctx, []byte(`{"type":"execute","id":1,"code":"1 + 1"}`))
//
// # Transports
//
// The same worker is served over newline-delimited JSON ([transport/stdio]),
// WebSocket ([transport/ws]) and a Redis list ([transport/redisq]). The
// pyworker command in cmd/pyworker wires them to configuration.
//
// See the [worker], [executor], [message] and [translate] packages for
// detailed API documentation.
package pyworker
