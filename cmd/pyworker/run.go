package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyworker/message"
)

func newRunCmd(a *app, build factoryFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run code once and print the result",
		Long: `Execute Python code in a fresh worker and print its output.

Code can be provided via:
  - File argument: pyworker run script.py
  - Inline flag: pyworker run -c 'print(1+1)'
  - Stdin: echo 'print(1+1)' | pyworker run

When code is not read from stdin, input() prompts are answered from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, a, build)
		},
	}
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().StringSliceP("package", "p", nil, "Package to install before running (repeatable)")
	cmd.Flags().String("context", "", "JSON object of variables to define before running")
	cmd.Flags().Bool("json", false, "Print the raw response message")
	return cmd
}

func runRun(cmd *cobra.Command, args []string, a *app, build factoryFunc) error {
	code, _ := cmd.Flags().GetString("code")
	packages, _ := cmd.Flags().GetStringSlice("package")
	rawContext, _ := cmd.Flags().GetString("context")
	asJSON, _ := cmd.Flags().GetBool("json")

	stdin := cmd.InOrStdin()
	var source string
	switch {
	case code != "":
		source = code
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		source = string(data)
	default:
		if f, ok := stdin.(*os.File); ok {
			if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
				return cmd.Help()
			}
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		source = string(data)
		stdin = strings.NewReader("")
	}

	var scope map[string]any
	if rawContext != "" {
		if err := json.Unmarshal([]byte(rawContext), &scope); err != nil {
			return fmt.Errorf("invalid --context: %w", err)
		}
	}

	factory, cleanup, err := build(a)
	if err != nil {
		return err
	}
	defer cleanup()

	lines := bufio.NewReader(stdin)
	errOut := cmd.ErrOrStderr()
	input := func(prompt string) (string, bool) {
		io.WriteString(errOut, prompt)
		line, err := lines.ReadString('\n')
		if err != nil && line == "" {
			return "", false
		}
		return strings.TrimRight(line, "\r\n"), true
	}

	s, err := newLocalSession(a, factory, errOut, input)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	resp, err := s.execute(ctx, message.ExecuteRequest{
		Code:     source,
		Packages: packages,
		Context:  scope,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		printResponse(out, errOut, resp)
	}
	if !resp.Success {
		return errExecutionFailed
	}
	return nil
}
