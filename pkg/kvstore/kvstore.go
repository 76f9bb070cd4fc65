// Package kvstore is the worked example of a user state machine: an
// in-memory map from string keys to integer values whose committed
// mutations are opaque JSON as far as the core library is concerned. It
// also provides a durable materialized-view cache in bbolt that quorumkvd
// keeps in step with every applied mutation; quorumkvd serves reads from
// the in-memory Machine, never from the cache.
//
// Neither piece is part of the core library's durability contract: the
// journal (pkg/storage) remains the only thing Node ever talks to, and
// losing the bbolt cache never affects correctness.
package kvstore

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
	bolt "go.etcd.io/bbolt"
)

// Machine is the committed key-value map. Command{Apply} payloads decode
// into Request and are applied here on commit.
type Machine struct {
	data map[string]uint64
}

// NewMachine returns an empty key-value machine.
func NewMachine() *Machine {
	return &Machine{data: make(map[string]uint64)}
}

// Request is the user-level command envelope carried inside
// Command::Apply / Command::Query payloads. Value is present only for
// "put" and is a JSON integer.
type Request struct {
	Op    string  `json:"op"` // "put", "get", "delete"
	Key   string  `json:"key"`
	Value *uint64 `json:"value,omitempty"`
}

// Response is the user-level reply delivered back to the proposer. Its
// wire form depends on the operation: put and delete reply
// {"old":<previous-or-null>}, get replies {"value":<v-or-null>} — the
// field is always present, null when the key was absent.
type Response struct {
	isGet bool
	old   *uint64
	value *uint64
}

// Old returns the value replaced by a put or delete, or nil.
func (r Response) Old() *uint64 { return r.old }

// Value returns the value read by a get, or nil if the key was absent.
func (r Response) Value() *uint64 { return r.value }

func (r Response) MarshalJSON() ([]byte, error) {
	if r.isGet {
		return json.Marshal(struct {
			Value *uint64 `json:"value"`
		}{r.value})
	}
	return json.Marshal(struct {
		Old *uint64 `json:"old"`
	}{r.old})
}

// Apply mutates (for "put"/"delete") or reads (for "get") the map and
// returns the reply to hand back to the client.
func (m *Machine) Apply(req Request) (Response, error) {
	switch req.Op {
	case "put":
		if req.Value == nil {
			return Response{}, fmt.Errorf("apply kv request: put %q missing value", req.Key)
		}
		old, had := m.data[req.Key]
		m.data[req.Key] = *req.Value
		if !had {
			return Response{}, nil
		}
		return Response{old: &old}, nil
	case "get":
		v, ok := m.data[req.Key]
		if !ok {
			return Response{isGet: true}, nil
		}
		return Response{isGet: true, value: &v}, nil
	case "delete":
		old, had := m.data[req.Key]
		delete(m.data, req.Key)
		if !had {
			return Response{}, nil
		}
		return Response{old: &old}, nil
	default:
		return Response{}, fmt.Errorf("apply kv request: unknown op %q", req.Op)
	}
}

// Snapshot produces a canonical JsonValue describing the whole map, to be
// embedded as the user_machine field of an InstallSnapshotRpc.
func (m *Machine) Snapshot() (jsonvalue.Value, error) {
	val, err := jsonvalue.From(m.data)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("snapshot kv machine: %w", err)
	}
	return val, nil
}

// Restore replaces the map's contents from a previously produced
// snapshot value (or the zero Value for an empty machine).
func (m *Machine) Restore(snapshot jsonvalue.Value) error {
	if snapshot.IsZero() {
		m.data = make(map[string]uint64)
		return nil
	}
	var data map[string]uint64
	if err := snapshot.Decode(&data); err != nil {
		return fmt.Errorf("restore kv machine: %w", err)
	}
	if data == nil {
		data = make(map[string]uint64)
	}
	m.data = data
	return nil
}

// Cache is a bbolt-backed materialized view of the key-value map,
// mirrored on every applied mutation. Values are stored as decimal
// strings. quorumkvd rebuilds it at startup and after installing a
// snapshot, and updates it on every applied put/delete; it does not read
// from it, so "get" requests are always answered by the Machine.
type Cache struct {
	db *bolt.DB
}

var bucketKV = []byte("kv")

// OpenCache opens (creating if absent) the bbolt file at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open kv cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv cache bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying bbolt handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Put mirrors an applied "put" into the cache.
func (c *Cache) Put(key string, value uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), []byte(strconv.FormatUint(value, 10)))
	})
}

// Delete mirrors an applied "delete" into the cache.
func (c *Cache) Delete(key string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Delete([]byte(key))
	})
}

// Get reads a cached value.
func (c *Cache) Get(key string) (uint64, bool, error) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKV).Get([]byte(key))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("read kv cache: %w", err)
	}
	if raw == nil {
		return 0, false, nil
	}
	value, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode kv cache value: %w", err)
	}
	return value, true, nil
}

// Rebuild replaces the cache's contents with the full map, used after
// loading a snapshot or replaying the journal on startup.
func (c *Cache) Rebuild(m *Machine) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketKV); err != nil {
			return err
		}
		nb, err := tx.CreateBucket(bucketKV)
		if err != nil {
			return err
		}
		for k, v := range m.data {
			if err := nb.Put([]byte(k), []byte(strconv.FormatUint(v, 10))); err != nil {
				return err
			}
		}
		return nil
	})
}
