// Command cachectl is an inspection-only CLI over the on-disk cache manifest
// tree spec.md §6.3 describes. It never touches Vulkan: no instance, no
// device, no render graph. It only reads <cache_root>/devices/*/cacher_registry.txt
// and the .cache bodies next to it, the way cogentcore-core's cmd/root.go
// reads its own config before dispatching to cobra subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/andewx/vkcacher/cmd/cachectl/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
