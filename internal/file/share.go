package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stackvity/filekit/internal/filesystem"
)

// shareKey identifies an entity across handles: the backend it lives on and its
// canonical path. A non-zero detached marks handles whose entity was removed or
// replaced; they no longer conflict with anything opened at the path.
type shareKey struct {
	fsys     filesystem.FileSystem
	path     string
	detached uint64
}

// shareEntry is one live handle. Its key follows the entity across renames.
type shareEntry struct {
	key   shareKey
	flags Flags
}

// shareTable tracks live handles per entity so opens can honour each other's
// SharedRead/SharedWrite/SharedDelete declarations. It is process-local.
type shareTable struct {
	mu       sync.Mutex
	open     map[shareKey][]*shareEntry
	detaches uint64
}

var shares = &shareTable{open: make(map[shareKey][]*shareEntry)}

// keyFor names the entity reached through name. Backends that know about links
// canonicalize the path so aliases of one entity share a key; followLast is off
// for operations that act on a link itself rather than on its target.
func keyFor(fsys filesystem.FileSystem, name string, followLast bool) shareKey {
	if r, ok := fsys.(filesystem.PathResolver); ok {
		return shareKey{fsys: fsys, path: r.ResolvePath(name, followLast)}
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		abs = filepath.Clean(name)
	}
	return shareKey{fsys: fsys, path: abs}
}

// within reports whether k names base or an entity below it.
func (k shareKey) within(base shareKey) bool {
	if k.fsys != base.fsys || k.detached != 0 || base.detached != 0 {
		return false
	}
	return k.path == base.path || strings.HasPrefix(k.path, strings.TrimSuffix(base.path, string(os.PathSeparator))+string(os.PathSeparator))
}

// grants reports whether a handle declaring share permits a handle requesting access.
func grants(share, access Flags) bool {
	if access.Has(Read) && !share.Has(SharedRead) {
		return false
	}
	if access.Has(Write) && !share.Has(SharedWrite) {
		return false
	}
	return true
}

// acquire registers a new handle with flags, or fails if an existing handle conflicts.
func (t *shareTable) acquire(key shareKey, flags Flags) (*shareEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.open[key] {
		if !grants(e.flags, flags) {
			return nil, fmt.Errorf("open as %s conflicts with a live handle opened as %s", flags, e.flags)
		}
		if !grants(flags, e.flags) {
			return nil, fmt.Errorf("share set of %s excludes a live handle opened as %s", flags, e.flags)
		}
	}
	e := &shareEntry{key: key, flags: flags}
	t.open[key] = append(t.open[key], e)
	return e, nil
}

func (t *shareTable) release(entry *shareEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLocked(entry)
}

func (t *shareTable) dropLocked(entry *shareEntry) {
	entries := t.open[entry.key]
	for i, e := range entries {
		if e == entry {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(t.open, entry.key)
		return
	}
	t.open[entry.key] = entries
}

// deletableLocked reports an error if any live handle on key, or below it,
// withholds SharedDelete.
func (t *shareTable) deletableLocked(key shareKey) error {
	for k, entries := range t.open {
		if !k.within(key) {
			continue
		}
		for _, e := range entries {
			if !e.flags.Has(SharedDelete) {
				return fmt.Errorf("a live handle on %s opened as %s does not grant SharedDelete", k.path, e.flags)
			}
		}
	}
	return nil
}

// rekeyLocked moves every entry on from, or below it, to the matching key
// under to. A nil to detaches the entries instead.
func (t *shareTable) rekeyLocked(from shareKey, to *shareKey) {
	var keys []shareKey
	for k := range t.open {
		if k.within(from) {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		entries := t.open[k]
		var next shareKey
		if to == nil {
			t.detaches++
			next = shareKey{fsys: k.fsys, path: k.path, detached: t.detaches}
		} else {
			next = shareKey{fsys: to.fsys, path: to.path + strings.TrimPrefix(k.path, from.path)}
		}
		delete(t.open, k)
		for _, e := range entries {
			e.key = next
		}
		t.open[next] = append(t.open[next], entries...)
	}
}

// remove runs rm for name while holding the table lock, so no handle can be
// admitted between the check and the removal. It returns a non-nil violation
// when a live handle forbids the removal, and rm's error otherwise. Handles
// that survive a removal are detached from the path.
func (t *shareTable) remove(fsys filesystem.FileSystem, name string, rm func() error) (violation, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := keyFor(fsys, name, false)
	if err := t.deletableLocked(key); err != nil {
		return err, nil
	}
	if err := rm(); err != nil {
		return nil, err
	}
	t.rekeyLocked(key, nil)
	return nil, nil
}

// rename runs mv for from and to under the table lock. Both sides must allow
// deletion: from loses its name and an existing to is replaced. Afterwards live
// handles on from follow the entity to its new name, and handles on the
// replaced to are detached.
func (t *shareTable) rename(fsys filesystem.FileSystem, from, to string, mv func() error) (violation, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fromKey := keyFor(fsys, from, false)
	toKey := keyFor(fsys, to, false)
	if fromKey == toKey {
		return nil, mv()
	}
	if err := t.deletableLocked(fromKey); err != nil {
		return err, nil
	}
	if err := t.deletableLocked(toKey); err != nil {
		return fmt.Errorf("destination: %w", err), nil
	}
	if err := mv(); err != nil {
		return nil, err
	}
	t.rekeyLocked(toKey, nil)
	moved := keyFor(fsys, to, false)
	t.rekeyLocked(fromKey, &moved)
	return nil, nil
}

// count returns the number of live handles on key.
func (t *shareTable) count(key shareKey) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open[key])
}
