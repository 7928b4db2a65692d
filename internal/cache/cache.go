// Package cache stores successfully built evaluation libraries keyed by the
// unit fingerprint. Resubmitting identical source under an identical
// configuration reuses the artifact and skips the compiler entirely.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"
)

// Bump when the Entry format changes; mismatching entries are treated as
// misses.
const schemaVersion uint16 = 1

// Entry is the cached metadata for one built unit.
type Entry struct {
	Schema       uint16
	Fingerprint  string
	Symbol       string
	ArtifactFile string
	ArtifactSize uint32
	CreatedUnix  int64
}

// ArtifactCache is a disk cache of compiled libraries. Safe for concurrent
// use.
type ArtifactCache struct {
	mu  sync.RWMutex
	dir string
}

// Open initializes the cache at the standard user cache location.
func Open(app string) (*ArtifactCache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, app, "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &ArtifactCache{dir: dir}, nil
}

// OpenAt initializes the cache at an explicit directory.
func OpenAt(dir string) (*ArtifactCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &ArtifactCache{dir: dir}, nil
}

func (c *ArtifactCache) entryPath(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint+".mp")
}

func (c *ArtifactCache) artifactPath(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint+".bin")
}

// Put copies the built library into the cache and records its metadata.
func (c *ArtifactCache) Put(fingerprint, symbol, artifactPath string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(artifactPath)
	if err != nil {
		return fmt.Errorf("stating artifact: %w", err)
	}
	size, err := safecast.Convert[uint32](info.Size())
	if err != nil {
		return fmt.Errorf("artifact too large to cache: %w", err)
	}

	stored := c.artifactPath(fingerprint)
	if err := copyFile(artifactPath, stored); err != nil {
		return fmt.Errorf("storing artifact: %w", err)
	}

	entry := &Entry{
		Schema:       schemaVersion,
		Fingerprint:  fingerprint,
		Symbol:       symbol,
		ArtifactFile: filepath.Base(stored),
		ArtifactSize: size,
		CreatedUnix:  time.Now().Unix(),
	}
	tmp, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := msgpack.NewEncoder(tmp).Encode(entry); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.entryPath(fingerprint))
}

// Get looks up a fingerprint. A hit returns the stored library path and the
// entry symbol. Schema mismatches and missing artifacts are misses, not
// errors.
func (c *ArtifactCache) Get(fingerprint string) (artifactPath, symbol string, ok bool, err error) {
	if c == nil {
		return "", "", false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.entryPath(fingerprint))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	defer f.Close()

	var entry Entry
	if err := msgpack.NewDecoder(f).Decode(&entry); err != nil {
		return "", "", false, nil
	}
	if entry.Schema != schemaVersion || entry.Fingerprint != fingerprint {
		return "", "", false, nil
	}
	stored := filepath.Join(c.dir, entry.ArtifactFile)
	info, err := os.Stat(stored)
	if err != nil || info.Size() != int64(entry.ArtifactSize) {
		return "", "", false, nil
	}
	return stored, entry.Symbol, true, nil
}

// DropAll invalidates the whole cache.
func (c *ArtifactCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		return err
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	return os.MkdirAll(c.dir, 0o755)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o700); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
