package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stackvity/filekit/internal/config"
	"github.com/stackvity/filekit/internal/filesystem"
)

// CacheStatus represents the status of a cache check.
type CacheStatus string

const (
	// StatusHit indicates the pair was verified before and neither side changed since.
	StatusHit CacheStatus = "Hit"
	// StatusMiss indicates the pair must be compared again.
	StatusMiss CacheStatus = "Miss"
	// StatusError indicates an error occurred during the cache check.
	StatusError CacheStatus = "Error"
)

// CacheEntry records the metadata of a source/target pair at the time their
// contents were last found equal.
type CacheEntry struct {
	SourceSize    int64     `json:"source_size"`
	SourceModTime time.Time `json:"source_mod_time"`
	TargetSize    int64     `json:"target_size"`
	TargetModTime time.Time `json:"target_mod_time"`
	ConfigHash    []byte    `json:"config_hash"`
}

// CacheManager defines the interface for cache operations.
// Entries are keyed by the slash-separated path relative to the verified trees.
type CacheManager interface {
	// Check reports whether the pair at sourcePath/targetPath still matches the entry stored for relPath.
	Check(relPath, sourcePath, targetPath string, configHash []byte) (CacheStatus, error)

	// Update stores or replaces the entry for relPath.
	Update(relPath string, entry CacheEntry) error

	// Persist writes the in-memory state to the cache file.
	Persist() error

	// Clear removes all entries, in memory and on disk.
	Clear() error
}

// fileCacheManager implements CacheManager using a local gob file.
type fileCacheManager struct {
	filePath  string
	fs        filesystem.FileSystem
	logger    *slog.Logger
	cacheData map[string]CacheEntry
	isDirty   bool
	mu        sync.RWMutex
}

// NewFileCacheManager creates a new file-based cache manager.
// An existing cache file is loaded; a missing or corrupt one starts an empty cache.
func NewFileCacheManager(cacheFilePath string, fs filesystem.FileSystem, logger *slog.Logger) (CacheManager, error) {
	cm := &fileCacheManager{
		filePath:  cacheFilePath,
		fs:        fs,
		logger:    logger,
		cacheData: make(map[string]CacheEntry),
	}

	if err := cm.load(); err != nil {
		cm.logger.Warn("Failed to load cache file, starting with empty cache", "file", cacheFilePath, "error", err)
		cm.cacheData = make(map[string]CacheEntry)
		cm.isDirty = true
	} else {
		cm.logger.Debug("Cache loaded successfully", "file", cacheFilePath, "entries", len(cm.cacheData))
	}

	return cm, nil
}

func (cm *fileCacheManager) load() error {
	data, err := cm.fs.ReadFile(cm.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cm.logger.Info("Cache file not found, creating new cache.", "file", cm.filePath)
			cm.isDirty = true
			return nil
		}
		return fmt.Errorf("failed to read cache file '%s': %w", cm.filePath, err)
	}

	if len(data) == 0 {
		cm.logger.Info("Cache file is empty, initializing new cache.", "file", cm.filePath)
		return nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cm.cacheData); err != nil {
		cm.logger.Error("Failed to decode cache file, cache will be rebuilt.", "file", cm.filePath, "error", err)
		return fmt.Errorf("failed to decode cache file '%s': %w", cm.filePath, err)
	}
	return nil
}

// EntryFor captures the current metadata of both sides of a pair.
// Modification times come from FileSystem.Times so every backend reports stable values.
func EntryFor(fsys filesystem.FileSystem, sourcePath, targetPath string, configHash []byte) (CacheEntry, error) {
	srcSize, srcMod, err := metadata(fsys, sourcePath)
	if err != nil {
		return CacheEntry{}, err
	}
	dstSize, dstMod, err := metadata(fsys, targetPath)
	if err != nil {
		return CacheEntry{}, err
	}
	return CacheEntry{
		SourceSize:    srcSize,
		SourceModTime: srcMod,
		TargetSize:    dstSize,
		TargetModTime: dstMod,
		ConfigHash:    configHash,
	}, nil
}

func metadata(fsys filesystem.FileSystem, path string) (int64, time.Time, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	times, err := fsys.Times(path)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("times %s: %w", path, err)
	}
	return info.Size(), times.LastWrite, nil
}

// Check implements the CacheManager interface.
// Metadata that cannot be read is reported as a miss so the pair is compared again.
func (cm *fileCacheManager) Check(relPath, sourcePath, targetPath string, configHash []byte) (CacheStatus, error) {
	key := filepath.ToSlash(relPath)

	cm.mu.RLock()
	entry, found := cm.cacheData[key]
	cm.mu.RUnlock()

	if !found {
		cm.logger.Debug("Cache miss: Pair not found in cache", "file", key)
		return StatusMiss, nil
	}

	if !bytes.Equal(configHash, entry.ConfigHash) {
		cm.logger.Debug("Cache miss: Configuration hash mismatch", "file", key)
		return StatusMiss, nil
	}

	current, err := EntryFor(cm.fs, sourcePath, targetPath, configHash)
	if err != nil {
		cm.logger.Warn("Cache check failed: Could not read metadata", "file", key, "error", err)
		return StatusMiss, nil
	}

	if current.SourceSize != entry.SourceSize || !current.SourceModTime.Equal(entry.SourceModTime) {
		cm.logger.Debug("Cache miss: Source metadata mismatch", "file", key,
			"cached_mod", entry.SourceModTime, "current_mod", current.SourceModTime,
			"cached_size", entry.SourceSize, "current_size", current.SourceSize)
		return StatusMiss, nil
	}
	if current.TargetSize != entry.TargetSize || !current.TargetModTime.Equal(entry.TargetModTime) {
		cm.logger.Debug("Cache miss: Target metadata mismatch", "file", key,
			"cached_mod", entry.TargetModTime, "current_mod", current.TargetModTime,
			"cached_size", entry.TargetSize, "current_size", current.TargetSize)
		return StatusMiss, nil
	}

	cm.logger.Debug("Cache hit", "file", key)
	return StatusHit, nil
}

// Update implements the CacheManager interface.
func (cm *fileCacheManager) Update(relPath string, entry CacheEntry) error {
	key := filepath.ToSlash(relPath)

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.cacheData[key] = entry
	cm.isDirty = true
	cm.logger.Debug("Cache entry updated in memory", "file", key)
	return nil
}

// Persist implements the CacheManager interface.
// The file is written to a temporary sibling and renamed into place.
func (cm *fileCacheManager) Persist() error {
	cm.mu.Lock()
	if !cm.isDirty {
		cm.logger.Debug("Cache persistence skipped: Cache not dirty.")
		cm.mu.Unlock()
		return nil
	}

	startTime := time.Now()
	cm.logger.Debug("Persisting cache...", "file", cm.filePath, "entries", len(cm.cacheData))
	cacheDataCopy := maps.Clone(cm.cacheData)
	cm.mu.Unlock()

	var buffer bytes.Buffer
	if err := gob.NewEncoder(&buffer).Encode(cacheDataCopy); err != nil {
		return fmt.Errorf("failed to encode cache data: %w", err)
	}

	tempFilePath := fmt.Sprintf("%s.tmp.%d", cm.filePath, time.Now().UnixNano())

	cacheDir := filepath.Dir(cm.filePath)
	if err := cm.fs.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to ensure cache directory exists '%s': %w", cacheDir, err)
	}

	if err := cm.fs.WriteFile(tempFilePath, buffer.Bytes(), 0644); err != nil {
		_ = cm.fs.Remove(tempFilePath)
		return fmt.Errorf("failed to write temporary cache file '%s': %w", tempFilePath, err)
	}

	if err := cm.fs.Rename(tempFilePath, cm.filePath); err != nil {
		_ = cm.fs.Remove(tempFilePath)
		return fmt.Errorf("failed to rename temporary cache file to '%s': %w", cm.filePath, err)
	}

	cm.mu.Lock()
	cm.isDirty = false
	cm.mu.Unlock()

	cm.logger.Debug("Cache persisted successfully", "file", cm.filePath, "duration", time.Since(startTime))
	return nil
}

// Clear implements the CacheManager interface.
// Failing to delete the file on disk is logged, not returned: the next Persist overwrites it.
func (cm *fileCacheManager) Clear() error {
	cm.logger.Info("Clearing cache...", "file", cm.filePath)

	cm.mu.Lock()
	cm.cacheData = make(map[string]CacheEntry)
	cm.isDirty = true
	cm.mu.Unlock()

	err := cm.fs.Remove(cm.filePath)
	switch {
	case err == nil:
		cm.logger.Debug("Cache file deleted successfully from disk.", "file", cm.filePath)
	case errors.Is(err, os.ErrNotExist):
		cm.logger.Debug("Cache file not found on disk during clear, nothing to delete.", "file", cm.filePath)
	default:
		cm.logger.Warn("Failed to delete cache file on disk during clear", "file", cm.filePath, "error", err)
	}
	return nil
}

// noOpCacheManager provides a CacheManager implementation that does nothing.
type noOpCacheManager struct{}

// NewNoOpCacheManager creates a CacheManager that performs no operations.
func NewNoOpCacheManager() CacheManager {
	return &noOpCacheManager{}
}

func (n *noOpCacheManager) Check(relPath, sourcePath, targetPath string, configHash []byte) (CacheStatus, error) {
	return StatusMiss, nil
}

func (n *noOpCacheManager) Update(relPath string, entry CacheEntry) error { return nil }

func (n *noOpCacheManager) Persist() error { return nil }

func (n *noOpCacheManager) Clear() error { return nil }

// CalculateConfigHash hashes the options that change what a cached verdict means.
// Verifying the same source against a different target must never reuse entries.
func CalculateConfigHash(opts *config.Options) ([]byte, error) {
	absSource, err := filepath.Abs(opts.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source path: %w", err)
	}
	absTarget, err := filepath.Abs(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target path: %w", err)
	}

	cacheRelevantConfig := struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}{
		Source: absSource,
		Target: absTarget,
	}

	configBytes, err := json.Marshal(cacheRelevantConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config for hashing: %w", err)
	}

	hash := sha256.Sum256(configBytes)
	return hash[:], nil
}

// DefaultCacheFileName defines the standard name for the cache file.
const DefaultCacheFileName = ".filekit.cache"

// DefaultCachePath places the cache file directly within baseDir (usually the target tree).
func DefaultCachePath(baseDir string) string {
	return filepath.Join(filepath.Clean(baseDir), DefaultCacheFileName)
}
