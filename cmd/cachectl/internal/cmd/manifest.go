package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const manifestFileName = "cacher_registry.txt"

var manifestCmd = &cobra.Command{
	Use:   "manifest <device-dir>",
	Short: "Dump a device's manifest and the size of each cache body on disk",
	Long: `manifest reads cache_root/devices/<device-dir>/cacher_registry.txt,
the newline-separated list of cache names a SaveAll call wrote, and reports
the on-disk size of each corresponding <name>.cache body.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveCacheRoot()
		if err != nil {
			return err
		}
		dir := filepath.Join(root, "devices", args[0])
		names, err := readManifest(dir)
		if err != nil {
			return fmt.Errorf("reading manifest for %s: %w", args[0], err)
		}
		if len(names) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: manifest empty\n", args[0])
			return nil
		}
		for _, name := range names {
			path := filepath.Join(dir, name+".cache")
			info, err := os.Stat(path)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s  MISSING (%s)\n", name, path)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-32s  %d bytes\n", name, info.Size())
		}
		return nil
	},
}

func readManifest(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names, sc.Err()
}
