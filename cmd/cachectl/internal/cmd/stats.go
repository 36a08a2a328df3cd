package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise persisted cache occupancy across every device and the global tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveCacheRoot()
		if err != nil {
			return err
		}

		deviceDirs, err := listDirs(filepath.Join(root, "devices"))
		if err != nil {
			return err
		}

		totalCaches := 0
		totalBytes := int64(0)
		for _, d := range deviceDirs {
			dir := filepath.Join(root, "devices", d)
			names, err := readManifest(dir)
			if err != nil {
				continue
			}
			size := int64(0)
			for _, name := range names {
				if info, err := os.Stat(filepath.Join(dir, name+".cache")); err == nil {
					size += info.Size()
				}
			}
			totalCaches += len(names)
			totalBytes += size
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %3d caches  %10d bytes\n", d, len(names), size)
		}

		if entries, err := os.ReadDir(filepath.Join(root, "global")); err == nil {
			globalCaches, globalBytes := 0, int64(0)
			for _, e := range entries {
				if e.IsDir() || filepath.Ext(e.Name()) != ".cache" {
					continue
				}
				globalCaches++
				if info, err := e.Info(); err == nil {
					globalBytes += info.Size()
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %3d caches  %10d bytes\n", "global", globalCaches, globalBytes)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\n%d device registries, %d device caches, %d bytes on disk\n",
			len(deviceDirs), totalCaches, totalBytes)
		return nil
	},
}

func listDirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
