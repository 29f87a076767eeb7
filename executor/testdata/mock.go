//go:build wasip1

// Mock interpreter for testing the session protocol without RustPython.
// Build with: GOOS=wasip1 GOARCH=wasm go build -o mock.wasm mock.go
//
// Commands are interpreted by prefix:
//
//	input:<prompt>   call the input host function and return its answer
//	error:<message>  raise ValueError
//	sleep:<ms>       sleep, then return the duration
//	exit             terminate the module
//	anything else    print the code and return it as a string
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func frame(body string) {
	fmt.Fprint(os.Stderr, "\x00"+body+"\x00")
}

func main() {
	frame("GORU_READY")

	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		var cmd struct {
			Type string `json:"type"`
			Seq  uint64 `json:"seq"`
			Code string `json:"code"`
		}
		if err := json.Unmarshal([]byte(line), &cmd); err != nil || cmd.Type != "exec" {
			continue
		}

		var result any
		switch {
		case strings.HasPrefix(cmd.Code, "input:"):
			args, _ := json.Marshal(map[string]any{"fn": "input", "args": map[string]string{"prompt": cmd.Code[len("input:"):]}})
			frame("GORU:" + string(args))
			reply, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			var resp struct {
				Data  any    `json:"data"`
				Error string `json:"error"`
			}
			json.Unmarshal([]byte(reply), &resp)
			if resp.Error != "" {
				fail(cmd.Seq, "RuntimeError", resp.Error)
				continue
			}
			result = resp.Data
		case strings.HasPrefix(cmd.Code, "error:"):
			fmt.Fprintln(os.Stderr, "Traceback (most recent call last):")
			fail(cmd.Seq, "ValueError", cmd.Code[len("error:"):])
			continue
		case strings.HasPrefix(cmd.Code, "sleep:"):
			ms, _ := strconv.Atoi(cmd.Code[len("sleep:"):])
			time.Sleep(time.Duration(ms) * time.Millisecond)
			result = ms
		case cmd.Code == "exit":
			os.Exit(3)
		default:
			fmt.Print(cmd.Code)
			result = cmd.Code
		}

		payload, _ := json.Marshal(result)
		frame(fmt.Sprintf("GORU_RESULT:%d:%s", cmd.Seq, payload))
	}
}

func fail(seq uint64, typ, msg string) {
	payload, _ := json.Marshal(map[string]string{
		"type":      typ,
		"message":   typ + ": " + msg,
		"traceback": "",
	})
	frame(fmt.Sprintf("GORU_ERROR:%d:%s", seq, payload))
}
