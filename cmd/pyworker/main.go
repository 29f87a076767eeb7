// Command pyworker runs Python code in a persistent WebAssembly interpreter
// and serves it to hosts over stdio, WebSocket or a Redis queue.
package main

import "os"

func main() {
	if err := newRootCmd(wasmFactory).Execute(); err != nil {
		os.Exit(1)
	}
}
