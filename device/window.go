// Surface creation is confined to this file: it is the only place in the
// substrate that imports glfw, kept as an optional test/demo helper the way
// the teacher's display.go used glfw purely for window+surface bootstrap.
package device

import (
	"fmt"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
)

// SurfaceFromWindow creates a vk.Surface for the given GLFW window and
// instance, mirroring the teacher's CoreDisplay.GetVulkanSurface
// (display.go).
func SurfaceFromWindow(window *glfw.Window, instance vk.Instance) (vk.Surface, error) {
	raw, err := window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, fmt.Errorf("vkcacher: failed to create window surface: %w", err)
	}
	return vk.SurfaceFromPointer(raw), nil
}
