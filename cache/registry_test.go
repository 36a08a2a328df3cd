package cache

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andewx/vkcacher/cachekey"
	"github.com/andewx/vkcacher/device"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	name    string
	entries map[cachekey.Fingerprint]uint32
	cleaned bool
}

func newFakeCache(name string) *fakeCache {
	return &fakeCache{name: name, entries: make(map[cachekey.Fingerprint]uint32)}
}

func (c *fakeCache) Name() string                          { return c.name }
func (c *fakeCache) Has(key cachekey.Fingerprint) bool      { _, ok := c.entries[key]; return ok }
func (c *fakeCache) Erase(key cachekey.Fingerprint)         { delete(c.entries, key) }
func (c *fakeCache) Clear()                                 { c.entries = make(map[cachekey.Fingerprint]uint32) }
func (c *fakeCache) Cleanup()                               { c.cleaned = true }

func (c *fakeCache) SerializeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(1)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(c.entries))); err != nil {
		return err
	}
	for k, v := range c.entries {
		if err := binary.Write(w, binary.LittleEndian, uint64(k)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeCache) DeserializeFrom(r io.Reader, dev device.Device) error {
	var version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var k uint64
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return err
		}
		c.entries[cachekey.Fingerprint(k)] = v
	}
	return nil
}

func TestSaveAllThenLoadAllRoundTripsManifestAndBodies(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry(dir)
	dev := device.NewFake(1 << 20)

	registry.Register("shader", "ShaderModuleCache", true, func(d device.Device) Cache { return newFakeCache("ShaderModuleCache") })

	c, ok := registry.GetCache("shader", dev)
	require.True(t, ok)
	fc := c.(*fakeCache)
	fc.entries[cachekey.Fingerprint(42)] = 7

	require.NoError(t, registry.SaveAll(dev))

	manifestPath := filepath.Join(dir, "devices", "Device_0xf00d", manifestFileName)
	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	require.Equal(t, "ShaderModuleCache\n", string(data))

	registry2 := NewRegistry(dir)
	registry2.Register("shader", "ShaderModuleCache", true, func(d device.Device) Cache { return newFakeCache("ShaderModuleCache") })
	require.NoError(t, registry2.LoadAll(dev))

	c2, ok := registry2.GetCache("shader", dev)
	require.True(t, ok)
	fc2 := c2.(*fakeCache)
	require.Equal(t, uint32(7), fc2.entries[cachekey.Fingerprint(42)])
}

func TestClearDeviceCachesCallsCleanupAndRemovesEntry(t *testing.T) {
	registry := NewRegistry(t.TempDir())
	dev := device.NewFake(1 << 20)
	registry.Register("shader", "ShaderModuleCache", true, func(d device.Device) Cache { return newFakeCache("ShaderModuleCache") })

	c, _ := registry.GetCache("shader", dev)
	registry.ClearDeviceCaches(dev)

	require.True(t, c.(*fakeCache).cleaned)
	require.Equal(t, 0, len(registry.GetActiveDevices()))
}

func TestParseDeviceDirNameRejectsUnparseableHex(t *testing.T) {
	_, ok := parseDeviceDirName("not_a_device_dir")
	require.False(t, ok)

	id, ok := parseDeviceDirName("Device_0xf00d")
	require.True(t, ok)
	require.Equal(t, device.ID(0xf00d), id)
}
