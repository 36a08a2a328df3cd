package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/andewx/vkcacher/device"
	"golang.org/x/sync/errgroup"
)

// FactoryFunc constructs a Cache bound to dev (nil for device-independent
// caches), per spec.md §4.4's "create_cache_by_name" / register factory.
type FactoryFunc func(dev device.Device) Cache

type registration struct {
	tag            string
	name           string
	deviceDependent bool
	factory        FactoryFunc
}

// Registry is the process-wide CacheRegistry from spec.md §4.4: a registry
// of cache factories keyed by resource-type tag, dispatching to per-device
// DeviceRegistry instances or a global, device-independent map.
type Registry struct {
	mu          sync.Mutex
	byTag       map[string]registration
	byName      map[string]registration
	globals     map[string]Cache
	devices     map[device.ID]*DeviceRegistry
	cacheRoot   string
}

// NewRegistry constructs an empty Registry rooted at cacheRoot for
// persisted state (spec.md §6.3).
func NewRegistry(cacheRoot string) *Registry {
	return &Registry{
		byTag:   make(map[string]registration),
		byName:  make(map[string]registration),
		globals: make(map[string]Cache),
		devices: make(map[device.ID]*DeviceRegistry),
		cacheRoot: cacheRoot,
	}
}

// Register stores tag/name/device_dependent and a factory closure. Silently
// idempotent on duplicate registration (spec.md §4.4).
func (r *Registry) Register(tag, name string, deviceDependent bool, factory FactoryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTag[tag]; ok {
		return
	}
	reg := registration{tag: tag, name: name, deviceDependent: deviceDependent, factory: factory}
	r.byTag[tag] = reg
	r.byName[name] = reg
}

// IsRegistered reports whether tag has a registered factory.
func (r *Registry) IsRegistered(tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byTag[tag]
	return ok
}

// IsDeviceDependent reports tag's device-dependency flag.
func (r *Registry) IsDeviceDependent(tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byTag[tag].deviceDependent
}

// GetTypeName returns tag's registered manifest name.
func (r *Registry) GetTypeName(tag string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byTag[tag].name
}

// GetCache routes to the device-dependent or global path based on the
// registered flag, per spec.md §4.4.
func (r *Registry) GetCache(tag string, dev device.Device) (Cache, bool) {
	r.mu.Lock()
	reg, ok := r.byTag[tag]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	if !reg.deviceDependent {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.globals[tag]; ok {
			return c, true
		}
		c := reg.factory(nil)
		r.globals[tag] = c
		return c, true
	}

	if dev == nil {
		return nil, false
	}
	dr := r.deviceRegistry(dev)
	if c, ok := dr.find(reg.name); ok {
		return c, true
	}
	c := reg.factory(dev)
	dr.add(reg.name, c)
	return c, true
}

// CreateCacheByName is the manifest-driven path used during Load: find the
// registration for name and materialise it into dr.
func (r *Registry) CreateCacheByName(name string, dev device.Device, dr *DeviceRegistry) (Cache, bool) {
	r.mu.Lock()
	reg, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	c := reg.factory(dev)
	dr.add(reg.name, c)
	return c, true
}

func (r *Registry) deviceRegistry(dev device.Device) *DeviceRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	dr, ok := r.devices[dev.ID()]
	if !ok {
		dr = newDeviceRegistry(dev.ID())
		r.devices[dev.ID()] = dr
	}
	return dr
}

// ClearDeviceCaches calls Cleanup on every cache owned by dev's registry and
// removes the device entry. MUST be called before the device is destroyed
// (spec.md §4.4).
func (r *Registry) ClearDeviceCaches(dev device.Device) {
	r.mu.Lock()
	dr, ok := r.devices[dev.ID()]
	if ok {
		delete(r.devices, dev.ID())
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	dr.cleanupAll()
}

// ClearGlobalCaches calls Cleanup on every device-independent cache.
func (r *Registry) ClearGlobalCaches() {
	r.mu.Lock()
	globals := r.globals
	r.globals = make(map[string]Cache)
	r.mu.Unlock()
	for _, c := range globals {
		c.Cleanup()
	}
}

// ClearAll clears every device registry and the global map.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[device.ID]*DeviceRegistry)
	r.mu.Unlock()
	for _, dr := range devices {
		dr.cleanupAll()
	}
	r.ClearGlobalCaches()
}

// SaveAll writes the manifest and every cache body for dev's registry under
// <cache_root>/devices/Device_0x<hex>/, per spec.md §4.4/§6.3.
func (r *Registry) SaveAll(dev device.Device) error {
	dr := r.deviceRegistry(dev)
	dir := filepath.Join(r.cacheRoot, "devices", deviceDirName(dev.ID()))
	return dr.saveAll(dir)
}

// LoadAll reads the manifest under dev's directory and factory-constructs
// each named cache via r, then deserializes each one in parallel.
func (r *Registry) LoadAll(dev device.Device) error {
	dr := r.deviceRegistry(dev)
	dir := filepath.Join(r.cacheRoot, "devices", deviceDirName(dev.ID()))
	return dr.loadAll(dir, dev, r)
}

// SaveGlobal writes every device-independent cache under
// <cache_root>/global/.
func (r *Registry) SaveGlobal() error {
	r.mu.Lock()
	globals := make(map[string]Cache, len(r.globals))
	for k, v := range r.globals {
		globals[k] = v
	}
	r.mu.Unlock()

	dir := filepath.Join(r.cacheRoot, "global")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var g errgroup.Group
	for _, c := range globals {
		c := c
		g.Go(func() error {
			return writeCache(dir, c)
		})
	}
	return g.Wait()
}

// GetRegisteredTypes returns every registered tag's manifest name.
func (r *Registry) GetRegisteredTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.byTag))
	for _, reg := range r.byTag {
		names = append(names, reg.name)
	}
	sort.Strings(names)
	return names
}

// GetActiveDevices returns the hex-formatted DeviceId of every device with
// an active registry.
func (r *Registry) GetActiveDevices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.devices))
	for id := range r.devices {
		out = append(out, deviceDirName(id))
	}
	sort.Strings(out)
	return out
}

// Stats is the get_stats() surface from spec.md §6.2.
type Stats struct {
	GlobalCaches      int
	DeviceRegistries  int
	TotalDeviceCaches int
}

// GetStats summarises registry occupancy.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, dr := range r.devices {
		total += dr.count()
	}
	return Stats{GlobalCaches: len(r.globals), DeviceRegistries: len(r.devices), TotalDeviceCaches: total}
}

// DiscoverPersistedDevices lists <cache_root>/devices/ and parses each
// entry's DeviceId, skipping directories that don't match Device_0x<hex>,
// per spec.md §6.3.
func (r *Registry) DiscoverPersistedDevices() ([]device.ID, error) {
	entries, err := os.ReadDir(filepath.Join(r.cacheRoot, "devices"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []device.ID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, ok := parseDeviceDirName(e.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func deviceDirName(id device.ID) string {
	return fmt.Sprintf("Device_0x%x", uint64(id))
}

// parseDeviceDirName parses "Device_0x<hex>"; unparseable names yield the
// sentinel invalid DeviceId (0) and ok=false, per spec.md §6.3.
func parseDeviceDirName(name string) (device.ID, bool) {
	const prefix = "Device_0x"
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 16, 64)
	if err != nil {
		return 0, false
	}
	return device.ID(v), true
}
