// Package cmd implements cachectl's cobra command tree. Every subcommand
// reads the manifest tree directly off disk rather than constructing a
// cache.Registry, since building real caches means constructing a
// device.Device and an alloc.Allocator, which pulls in Vulkan, which is
// exactly what an inspection tool must not do.
package cmd

import (
	"github.com/andewx/vkcacher/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string
var cacheRoot string

var rootCmd = &cobra.Command{
	Use:   "cachectl",
	Short: "Inspect the vkcacher on-disk cache manifest tree",
	Long: `cachectl reads the manifest and cache-body files a running
substrate writes under its cache_root directory. It is read-only: it never
opens a Vulkan device and never drives the render graph.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults to VKCACHER_* env and built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&cacheRoot, "cache-root", "", "override cache_root (defaults to config value)")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(statsCmd)
}

// resolveCacheRoot applies the --cache-root flag over whatever internal/config.Load
// resolved from file/env/defaults.
func resolveCacheRoot() (string, error) {
	if cacheRoot != "" {
		return cacheRoot, nil
	}
	s, err := config.Load(cfgFile)
	if err != nil {
		return "", err
	}
	return s.CacheRoot, nil
}

// Execute runs the root command. main.main is its only caller.
func Execute() error {
	return rootCmd.Execute()
}
