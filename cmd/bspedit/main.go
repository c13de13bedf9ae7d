// Command bspedit is a thin demonstration CLI over the editing core
// (SPEC_FULL.md's Non-goals: "the CLI frontend" is not a specified
// component). It exists to exercise the library end-to-end from a
// terminal the way the teacher's main.go exercises its renderer, not as
// a feature surface in its own right.
//
// Subcommand plumbing uses spf13/cobra, grounded on the pack's own
// bspxmgr manifest (_examples/other_examples/manifests/qw-ctf-bspxmgr) --
// a Half-Life-adjacent BSP CLI tool that reaches for the same library --
// rather than the teacher's bare os.Args switch, since this command has
// enough subcommands (compact, pack-lightmaps) to want real flag
// parsing per subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bspedit/bspedit/bspmap"
	"github.com/bspedit/bspedit/env"
	"github.com/bspedit/bspedit/lightmap"
	"github.com/bspedit/bspedit/refgraph"
)

func loadMap(path string) (*bspmap.Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return bspmap.Load(f)
}

func saveMap(m *bspmap.Map, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.Save(f)
}

func newEnvironment(profile string, verbose bool) (*env.Environment, error) {
	e := env.New()
	e.Verbose = verbose
	if profile != "" {
		limits, err := env.LoadProfile(profile)
		if err != nil {
			return nil, fmt.Errorf("loading profile %q: %w", profile, err)
		}
		e.Limits = limits
	}
	if verbose {
		e.Progress = func(msg string, done, total int) env.Signal {
			fmt.Printf("%s: %d/%d\n", msg, done, total)
			return env.Continue
		}
	}
	return e, nil
}

func main() {
	var profile string
	var verbose bool

	root := &cobra.Command{
		Use:   "bspedit",
		Short: "Half-Life BSP v30 binary-level map editor",
	}
	root.PersistentFlags().StringVar(&profile, "profile", "", "engine-limit YAML profile (defaults to Half-Life limits)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print progress for long-running operations")

	compactCmd := &cobra.Command{
		Use:   "compact <in.bsp> <out.bsp>",
		Short: "remove unreferenced planes/vertices/edges/faces and rewrite every cross-reference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnvironment(profile, verbose)
			if err != nil {
				return err
			}
			m, err := loadMap(args[0])
			if err != nil {
				return err
			}
			usage, err := refgraph.NewUsage(m.Store)
			if err != nil {
				return err
			}
			models, err := m.Store.Models()
			if err != nil {
				return err
			}
			for i := range models {
				if err := refgraph.MarkModelStructures(m.Store, i, usage, i != 0); err != nil {
					return err
				}
			}
			refgraph.PinEdgeZero(usage)
			if _, err := refgraph.Compact(m.Store, usage, e); err != nil {
				return err
			}
			return saveMap(m, args[1])
		},
	}

	lightmapsCmd := &cobra.Command{
		Use:   "pack-lightmaps <in.bsp> <out.bsp>",
		Short: "recompute every face's lightmap extent and repack the lightmap atlases",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnvironment(profile, verbose)
			if err != nil {
				return err
			}
			m, err := loadMap(args[0])
			if err != nil {
				return err
			}
			results, err := lightmap.PackAll(m.Store, e)
			if err != nil {
				return err
			}
			fmt.Printf("packed %d lightmaps\n", len(results))
			return saveMap(m, args[1])
		},
	}

	root.AddCommand(compactCmd, lightmapsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
