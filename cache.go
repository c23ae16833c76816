// Package idx implements a read-only engine for the classic IDX/DAT
// asset cache format: it opens a cache directory's paired
// main_file_cache.idx{N}/main_file_cache.dat2 files, decodes each
// index's archive/file directory, and materializes individual files on
// request by walking the shared data file's sector chains.
package idx

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

const (
	idx255MaxContainerSize  = 500_000
	defaultMaxContainerSize = 1_000_000
	idx255ID                = uint8(255)
)

// Locator selects an archive or file either by numeric id or by name,
// mirroring the id-or-name polymorphism at the request boundary: it is
// resolved to a uint32 id by hashing + directory lookup at the point
// it's consumed, never carried further into the core.
type Locator struct {
	byID bool
	id   uint32
	name string
}

// ByID builds a Locator that selects by numeric id.
func ByID(id uint32) Locator { return Locator{byID: true, id: id} }

// ByName builds a Locator that selects by (lowercased) name hash.
func ByName(name string) Locator { return Locator{name: name} }

// HashName computes the 32-bit rolling hash used for by-name archive
// and file lookups: lowercase the ASCII name, then fold each byte in
// with h = b + (h<<5) - h.
func HashName(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		b := name[i]
		if b >= 'A' && b <= 'Z' {
			b += 'a' - 'A'
		}
		h = uint32(b) + (h << 5) - h
	}
	return h
}

// Options configures Open.
type Options struct {
	BaseFileName string
	CalculateCRC bool
}

// Option mutates Options; see WithBaseFileName and WithCRC32.
type Option func(*Options)

// WithBaseFileName overrides the default "main_file_cache" file stem.
func WithBaseFileName(name string) Option {
	return func(o *Options) { o.BaseFileName = name }
}

// WithCRC32 toggles whether each directory's compressed bytes are
// hashed and stored on Directory.CRC32. Enabled by default.
func WithCRC32(enabled bool) Option {
	return func(o *Options) { o.CalculateCRC = enabled }
}

func defaultOptions() Options {
	return Options{BaseFileName: "main_file_cache", CalculateCRC: true}
}

// sharedData is the one reader over the .dat2 file, shared by every
// CacheIndex belonging to a Cache and guarded by a single mutex so
// concurrent sector-chain walks from different callers serialize
// cleanly, per the engine's concurrency model.
type sharedData struct {
	mu   sync.Mutex
	file *os.File
}

// Cache is the process-level handle onto an opened IDX/DAT cache. It
// owns one shared reader over the data file and a CacheIndex per
// discovered .idx{N} file. It is immutable in structure after Open
// returns; only FileSlot payloads inside its indices are populated
// lazily.
type Cache struct {
	data    *sharedData
	indices map[uint8]*CacheIndex
}

// CacheIndex is the handle for one physical .idx{N} file: its own
// reader, the decoded Directory describing its archives and files, and
// a memoization store for materialized file payloads.
type CacheIndex struct {
	fileID           uint8
	idxFile          *os.File
	maxContainerSize uint32
	data             *sharedData

	mu            sync.RWMutex
	directory     *Directory
	lastArchiveID uint32

	store *gocache.Cache
}

func newCacheIndex(fileID uint8, idxFile *os.File, maxSize uint32, data *sharedData) *CacheIndex {
	return &CacheIndex{
		fileID:           fileID,
		idxFile:          idxFile,
		maxContainerSize: maxSize,
		data:             data,
		directory:        emptyDirectory(),
		store:            gocache.New(gocache.NoExpiration, gocache.NoExpiration),
	}
}

// Open discovers {base}.idx255 and {base}.idx{0..N-1} plus
// {base}.dat2 under cachePath, decodes every index's directory, and
// returns a ready-to-use Cache. A missing individual .idx{i} file is
// logged and skipped; Open only fails if the idx255 directory file or
// the shared data file cannot be opened.
func Open(cachePath string, opts ...Option) (*Cache, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	idx255Path := filepath.Join(cachePath, options.BaseFileName+".idx255")
	idx255File, err := os.Open(idx255Path)
	if err != nil {
		return nil, wrapErr(err, KindFileOpen, "opening %s", idx255Path)
	}

	info, err := idx255File.Stat()
	if err != nil {
		idx255File.Close()
		return nil, wrapErr(err, KindFileOpen, "stat %s", idx255Path)
	}
	numIndices := info.Size() / 6

	dataPath := filepath.Join(cachePath, options.BaseFileName+".dat2")
	dataFile, err := os.Open(dataPath)
	if err != nil {
		idx255File.Close()
		return nil, wrapErr(err, KindFileOpen, "opening %s", dataPath)
	}

	data := &sharedData{file: dataFile}

	c := &Cache{
		data:    data,
		indices: make(map[uint8]*CacheIndex, numIndices+1),
	}

	idx255 := newCacheIndex(idx255ID, idx255File, idx255MaxContainerSize, data)
	c.indices[idx255ID] = idx255

	for i := int64(0); i < numIndices; i++ {
		fileID := uint8(i)
		idxPath := filepath.Join(cachePath, fmt.Sprintf("%s.idx%d", options.BaseFileName, i))
		idxFile, err := os.Open(idxPath)
		if err != nil {
			infof("skipping index %d: %v", i, err)
			continue
		}

		payload, err := idx255.SectorRead(uint32(i))
		if err != nil {
			errorf("index %d: failed to read its directory entry from idx255: %v", i, err)
			payload = nil
		}

		dir := decodeDirectory(payload, options.CalculateCRC)

		ci := newCacheIndex(fileID, idxFile, defaultMaxContainerSize, data)
		ci.directory = dir
		c.indices[fileID] = ci
	}

	return c, nil
}

// Close releases the cache's open file handles.
func (c *Cache) Close() error {
	var firstErr error
	for _, ci := range c.indices {
		if ci.fileID == idx255ID {
			continue
		}
		if err := ci.idxFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if idx255, ok := c.indices[idx255ID]; ok {
		if err := idx255.idxFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.data.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Index returns the CacheIndex for the given index id.
func (c *Cache) Index(id uint8) (*CacheIndex, error) {
	ci, ok := c.indices[id]
	if !ok {
		return nil, newErr(KindFileOpen, "no such index: %d", id)
	}
	return ci, nil
}

// Directory returns the decoded archive/file directory for this
// index.
func (ci *CacheIndex) Directory() *Directory {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.directory
}

// SectorRead walks the sector chain for archiveID in the shared data
// file and returns the concatenated compressed payload. It acquires
// the shared data-file lock for the duration of the walk, and updates
// lastArchiveID as a read-seek hint.
func (ci *CacheIndex) SectorRead(archiveID uint32) ([]byte, error) {
	ci.data.mu.Lock()
	out, err := sectorRead(ci.idxFile, ci.data.file, ci.fileID, ci.maxContainerSize, archiveID)
	ci.data.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ci.mu.Lock()
	ci.lastArchiveID = archiveID
	ci.mu.Unlock()

	return out, nil
}

// Request materializes the bytes of one file, identified by
// (indexID, archive, file). Results are memoized on the owning
// CacheIndex: a second call for the same (archive, file) returns the
// cached slice without touching the sector reader or the data file.
func (c *Cache) Request(indexID uint8, archive, file Locator) ([]byte, error) {
	ci, err := c.Index(indexID)
	if err != nil {
		return nil, err
	}
	return ci.Request(archive, file)
}

// Request is the CacheIndex-scoped counterpart of Cache.Request, used
// when the caller already holds a CacheIndex (e.g. from a prior
// Cache.Index call).
func (ci *CacheIndex) Request(archive, file Locator) ([]byte, error) {
	dir := ci.Directory()
	archiveID, ok := dir.Resolve(archive)
	if !ok {
		return nil, newErr(KindEmptyArchive, "index %d: archive not found", ci.fileID)
	}
	a, ok := dir.Archives[archiveID]
	if !ok {
		return nil, newErr(KindEmptyArchive, "index %d: archive %d not found", ci.fileID, archiveID)
	}
	fileID, ok := a.ResolveFile(file)
	if !ok {
		return nil, newErr(KindEmptyArchive, "index %d archive %d: file not found", ci.fileID, archiveID)
	}

	key := fileCacheKey(archiveID, fileID)
	if cached, found := ci.store.Get(key); found {
		return cached.([]byte), nil
	}

	payload, err := ci.SectorRead(archiveID)
	if err != nil {
		return nil, err
	}
	plain, err := Decompress(payload)
	if err != nil {
		return nil, err
	}
	files, err := SplitArchive(plain, a.FileIDs)
	if err != nil {
		return nil, err
	}

	ci.mu.Lock()
	for id, data := range files {
		ci.store.Set(fileCacheKey(archiveID, id), data, gocache.NoExpiration)
		if slot, ok := a.Files[id]; ok {
			slot.Data = data
		}
	}
	ci.mu.Unlock()

	data, ok := files[fileID]
	if !ok {
		return nil, newErr(KindEmptyArchive, "index %d archive %d: file %d missing from split output", ci.fileID, archiveID, fileID)
	}
	return data, nil
}

func fileCacheKey(archiveID, fileID uint32) string {
	return fmt.Sprintf("%d:%d", archiveID, fileID)
}
