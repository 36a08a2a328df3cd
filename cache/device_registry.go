package cache

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/andewx/vkcacher/device"
	"golang.org/x/sync/errgroup"
)

const manifestFileName = "cacher_registry.txt"

// DeviceRegistry owns the active typed caches for one device, per spec.md
// §4.4. It does not construct caches itself; CacheRegistry drives creation
// through add/find.
type DeviceRegistry struct {
	id device.ID

	mu     sync.Mutex
	caches []Cache
	byName map[string]Cache
}

func newDeviceRegistry(id device.ID) *DeviceRegistry {
	return &DeviceRegistry{id: id, byName: make(map[string]Cache)}
}

func (dr *DeviceRegistry) find(name string) (Cache, bool) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	c, ok := dr.byName[name]
	return c, ok
}

func (dr *DeviceRegistry) add(name string, c Cache) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if _, exists := dr.byName[name]; exists {
		return
	}
	dr.byName[name] = c
	dr.caches = append(dr.caches, c)
}

func (dr *DeviceRegistry) cleanupAll() {
	dr.mu.Lock()
	caches := dr.caches
	dr.caches = nil
	dr.byName = make(map[string]Cache)
	dr.mu.Unlock()
	for _, c := range caches {
		c.Cleanup()
	}
}

func (dr *DeviceRegistry) count() int {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return len(dr.caches)
}

// saveAll writes the manifest then, in parallel, each cache's serialized
// body, per spec.md §4.4's "Success = conjunction of all tasks".
func (dr *DeviceRegistry) saveAll(dir string) error {
	dr.mu.Lock()
	caches := make([]Cache, len(dr.caches))
	copy(caches, dr.caches)
	dr.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeManifest(dir, caches); err != nil {
		return err
	}

	var g errgroup.Group
	for _, c := range caches {
		c := c
		g.Go(func() error {
			return writeCache(dir, c)
		})
	}
	return g.Wait()
}

// loadAll reads the manifest, factory-constructs each named cache through
// registry, then deserializes each one in parallel.
func (dr *DeviceRegistry) loadAll(dir string, dev device.Device, registry *Registry) error {
	names, err := readManifest(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var created []Cache
	for _, name := range names {
		c, ok := registry.CreateCacheByName(name, dev, dr)
		if !ok {
			continue
		}
		created = append(created, c)
	}

	var g errgroup.Group
	for _, c := range created {
		c := c
		g.Go(func() error {
			return readCache(dir, c, dev)
		})
	}
	return g.Wait()
}

func writeManifest(dir string, caches []Cache) error {
	f, err := os.Create(filepath.Join(dir, manifestFileName))
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, c := range caches {
		if _, err := fmt.Fprintln(w, c.Name()); err != nil {
			return err
		}
	}
	return w.Flush()
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

func writeCache(dir string, c Cache) error {
	path := filepath.Join(dir, c.Name()+".cache")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.SerializeTo(f)
}

func readCache(dir string, c Cache, dev device.Device) error {
	path := filepath.Join(dir, c.Name()+".cache")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return c.DeserializeFrom(f, dev)
}
