package kvstore

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uptr(v uint64) *uint64 { return &v }

func TestMachinePutGetDelete(t *testing.T) {
	m := NewMachine()

	resp, err := m.Apply(Request{Op: "put", Key: "a", Value: uptr(1)})
	require.NoError(t, err)
	assert.Nil(t, resp.Old())

	resp, err = m.Apply(Request{Op: "put", Key: "a", Value: uptr(2)})
	require.NoError(t, err)
	require.NotNil(t, resp.Old())
	assert.Equal(t, uint64(1), *resp.Old())

	resp, err = m.Apply(Request{Op: "get", Key: "a"})
	require.NoError(t, err)
	require.NotNil(t, resp.Value())
	assert.Equal(t, uint64(2), *resp.Value())

	resp, err = m.Apply(Request{Op: "get", Key: "missing"})
	require.NoError(t, err)
	assert.Nil(t, resp.Value())

	resp, err = m.Apply(Request{Op: "delete", Key: "a"})
	require.NoError(t, err)
	require.NotNil(t, resp.Old())
	assert.Equal(t, uint64(2), *resp.Old())

	resp, err = m.Apply(Request{Op: "get", Key: "a"})
	require.NoError(t, err)
	assert.Nil(t, resp.Value())
}

// The reply wire shapes are fixed: put/delete always carry "old", get
// always carries "value", null when the key was absent.
func TestResponseWireShapes(t *testing.T) {
	m := NewMachine()

	resp, err := m.Apply(Request{Op: "put", Key: "a", Value: uptr(1)})
	require.NoError(t, err)
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"old":null}`, string(b))

	resp, err = m.Apply(Request{Op: "get", Key: "a"})
	require.NoError(t, err)
	b, err = json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":1}`, string(b))

	resp, err = m.Apply(Request{Op: "get", Key: "missing"})
	require.NoError(t, err)
	b, err = json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":null}`, string(b))

	resp, err = m.Apply(Request{Op: "delete", Key: "a"})
	require.NoError(t, err)
	b, err = json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"old":1}`, string(b))
}

func TestMachineApplyUnknownOp(t *testing.T) {
	m := NewMachine()
	_, err := m.Apply(Request{Op: "bogus", Key: "a"})
	assert.Error(t, err)
}

func TestMachinePutWithoutValueIsError(t *testing.T) {
	m := NewMachine()
	_, err := m.Apply(Request{Op: "put", Key: "a"})
	assert.Error(t, err)
}

func TestMachineSnapshotRestoreRoundTrip(t *testing.T) {
	m := NewMachine()
	_, err := m.Apply(Request{Op: "put", Key: "a", Value: uptr(1)})
	require.NoError(t, err)
	_, err = m.Apply(Request{Op: "put", Key: "b", Value: uptr(2)})
	require.NoError(t, err)

	snap, err := m.Snapshot()
	require.NoError(t, err)

	restored := NewMachine()
	require.NoError(t, restored.Restore(snap))

	resp, err := restored.Apply(Request{Op: "get", Key: "a"})
	require.NoError(t, err)
	require.NotNil(t, resp.Value())
	assert.Equal(t, uint64(1), *resp.Value())

	resp, err = restored.Apply(Request{Op: "get", Key: "b"})
	require.NoError(t, err)
	require.NotNil(t, resp.Value())
	assert.Equal(t, uint64(2), *resp.Value())
}

func TestMachineRestoreZeroValueClearsMap(t *testing.T) {
	m := NewMachine()
	_, err := m.Apply(Request{Op: "put", Key: "a", Value: uptr(1)})
	require.NoError(t, err)

	require.NoError(t, m.Restore(jsonvalue.Value{}))
	resp, err := m.Apply(Request{Op: "get", Key: "a"})
	require.NoError(t, err)
	assert.Nil(t, resp.Value())
}

func TestCachePutGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := OpenCache(path)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put("a", 1))
	v, ok, err := c.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), v)

	require.NoError(t, c.Delete("a"))
	_, ok, err = c.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheRebuildReplacesContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := OpenCache(path)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put("stale", 9))

	m := NewMachine()
	_, err = m.Apply(Request{Op: "put", Key: "fresh", Value: uptr(7)})
	require.NoError(t, err)

	require.NoError(t, c.Rebuild(m))

	_, ok, err := c.Get("stale")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := c.Get("fresh")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), v)
}
