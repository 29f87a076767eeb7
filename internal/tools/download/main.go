// Command download fetches the Python WASM interpreter.
//
//	go run ./internal/tools/download <url> [output]
//
// The output defaults to the interpreter path pyworker loads from. An
// existing file is left alone.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/caffeineduck/pyworker/internal/logging"
	"github.com/caffeineduck/pyworker/language/python"
)

func main() {
	log, err := logging.New("info")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Fprintln(os.Stderr, "usage: download <url> [output]")
		os.Exit(2)
	}
	url, output := os.Args[1], python.DefaultModulePath()
	if len(os.Args) == 3 {
		output = os.Args[2]
	}

	if _, err := os.Stat(output); err == nil {
		log.Infow("already present", "path", output)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	n, err := download(ctx, url, output)
	if err != nil {
		log.Errorw("download failed", "url", url, "error", err)
		os.Exit(1)
	}
	log.Infow("downloaded", "url", url, "path", output, "bytes", n)
}

// download writes url to output via a temp file in the same directory so
// a partial download never looks like a usable interpreter.
func download(ctx context.Context, url, output string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return 0, err
	}
	return n, nil
}
