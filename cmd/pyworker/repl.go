package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyworker/message"
)

const (
	replPrompt = ">>> "
	contPrompt = "... "
)

func newReplCmd(a *app, build factoryFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive REPL with persistent state",
		Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)
  - :install <package>... installs packages into the session

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(cmd, a, build)
		},
	}
	cmd.Flags().String("history", "", "History file path (default: ~/.pyworker_history)")
	return cmd
}

func runRepl(cmd *cobra.Command, a *app, build factoryFunc) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".pyworker_history")
	}

	factory, cleanup, err := build(a)
	if err != nil {
		return err
	}
	defer cleanup()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            replPrompt,
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             io.NopCloser(cmd.InOrStdin()),
		Stdout:            cmd.OutOrStdout(),
		Stderr:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	// input() prompts reuse the line editor while an execution waits.
	input := func(prompt string) (string, bool) {
		rl.SetPrompt(prompt)
		defer rl.SetPrompt(replPrompt)
		line, err := rl.Readline()
		if err != nil {
			return "", false
		}
		return line, true
	}

	s, err := newLocalSession(a, factory, rl.Stderr(), input)
	if err != nil {
		return err
	}
	defer s.close()

	fmt.Fprintln(rl.Stderr(), "pyworker python REPL (type 'exit' to quit, Ctrl+D to exit)")

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(replPrompt)
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(rl.Stdout())
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt(contPrompt)
			continue
		}
		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(replPrompt)
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == "exit" || trimmed == "quit" {
			return nil
		}

		req := replRequest(line)
		ctx, stop := signalContext(context.Background())
		resp, err := s.execute(ctx, req)
		stop()
		if err != nil {
			fmt.Fprintf(rl.Stderr(), "Error: %v\n", err)
			continue
		}
		printResponse(rl.Stdout(), rl.Stderr(), resp)
		if req.Packages != nil && resp.Success {
			fmt.Fprintf(rl.Stderr(), "installed: %s\n", strings.Join(resp.Installed, ", "))
		}
	}
}

// replRequest turns a REPL line into an execute request. ":install a b"
// installs packages without running code.
func replRequest(line string) message.ExecuteRequest {
	trimmed := strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(trimmed, ":install"); ok {
		return message.ExecuteRequest{Code: "pass", Packages: strings.Fields(rest)}
	}
	return message.ExecuteRequest{Code: line}
}
