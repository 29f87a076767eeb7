package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyworker/internal/pypi"
)

func newDepsCmd(a *app) *cobra.Command {
	deps := &cobra.Command{
		Use:   "deps",
		Short: "Manage Python packages available to workers",
		Long: `Install and manage Python packages that worker code can import.

Packages are downloaded directly from the package index (no pip required)
into the packages directory, which every interpreter sees at /packages.
Only pure Python wheels are supported: packages with C extensions won't work.`,
	}

	install := &cobra.Command{
		Use:   "install [packages...]",
		Short: "Install packages from the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := pypi.New(pypi.WithIndexURL(a.cfg.IndexURL), pypi.WithLogger(a.log.Named("pypi")))
			out := cmd.OutOrStdout()
			var errs []error
			for _, spec := range args {
				fmt.Fprintf(out, "Installing %s...\n", spec)
				rel, err := client.Install(cmd.Context(), spec, a.cfg.PackagesDir)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error installing %s: %v\n", spec, err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(out, "  %s %s\n", rel.Info.Name, rel.Info.Version)
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			fmt.Fprintln(out, "Done.")
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := pypi.Installed(a.cfg.PackagesDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No packages installed.")
				return nil
			}
			fmt.Fprintf(out, "Packages in %s:\n", a.cfg.PackagesDir)
			for _, name := range names {
				fmt.Fprintf(out, "  %s\n", name)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove [packages...]",
		Short: "Remove packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, name := range args {
				if err := pypi.Remove(a.cfg.PackagesDir, name); err != nil {
					errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", name)
			}
			return errors.Join(errs...)
		},
	}

	cache := &cobra.Command{
		Use:   "cache",
		Short: "Compilation cache management commands",
	}
	cache.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the compilation cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.RemoveAll(a.cfg.CacheDir); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
			return nil
		},
	})

	deps.AddCommand(install, list, remove, cache)
	return deps
}
