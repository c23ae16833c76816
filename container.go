package idx

import (
	"hash/crc32"
	"sort"

	"github.com/Ceikry/idx/lib/cursor"
)

// Directory describes the archives and files within one index, as
// decoded from the index-255 entry that names it.
type Directory struct {
	Protocol    uint8
	Revision    uint32
	CRC32       uint32
	NamedFiles  bool
	Whirlpool   bool
	ArchiveIDs  []uint32
	Archives    map[uint32]*Archive
}

// Archive is one compressed container within an index.
type Archive struct {
	Version  int32
	CRC      int32
	NameHash uint32
	FileIDs  []uint32
	Files    map[uint32]*FileSlot
}

// FileSlot is one leaf file within an Archive.
type FileSlot struct {
	NameHash uint32
	CRC      int32
	Version  uint8
	Data     []byte
}

func emptyDirectory() *Directory {
	return &Directory{ArchiveIDs: nil, Archives: map[uint32]*Archive{}}
}

func newArchive() *Archive {
	return &Archive{Version: -1, CRC: -1, Files: map[uint32]*FileSlot{}}
}

func newFileSlot() *FileSlot {
	return &FileSlot{CRC: -1}
}

// decodeDirectory decompresses a compressed index-255 entry and parses
// it into a Directory. Any parse failure - unexpected end of buffer, an unknown
// protocol byte - yields an empty Directory rather than an error, per
// the opener's tolerant propagation policy.
func decodeDirectory(compressed []byte, computeCRC bool) *Directory {
	dir := emptyDirectory()
	if computeCRC {
		dir.CRC32 = crc32.ChecksumIEEE(compressed)
	}

	plain, err := Decompress(compressed)
	if err != nil {
		debugf("directory decode: decompress failed: %v", err)
		dir.Archives = map[uint32]*Archive{}
		return dir
	}

	d, err := parseDirectory(plain)
	if err != nil {
		debugf("directory decode: %v", err)
		dir.Archives = map[uint32]*Archive{}
		return dir
	}
	d.CRC32 = dir.CRC32
	return d
}

func parseDirectory(plain []byte) (*Directory, error) {
	c := cursor.New(plain)

	protocol, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	if protocol != 5 && protocol != 6 {
		return nil, newErr(KindUnknownProtocol, "protocol byte %d", protocol)
	}

	var revision uint32
	if protocol == 6 {
		if revision, err = c.ReadU32(); err != nil {
			return nil, err
		}
	}

	flags, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	named := flags&1 != 0
	whirlpool := flags&2 != 0

	numArchives, err := c.ReadU16()
	if err != nil {
		return nil, err
	}

	archiveIDs := make([]uint32, numArchives)
	archives := make(map[uint32]*Archive, numArchives)
	var running uint32
	for i := range archiveIDs {
		delta, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		running += uint32(delta)
		archiveIDs[i] = running
		archives[running] = newArchive()
	}

	if named {
		for _, id := range archiveIDs {
			nameHash, err := c.ReadU32()
			if err != nil {
				return nil, err
			}
			archives[id].NameHash = nameHash
		}
	}

	whirlpoolBlobs := map[uint32][64]byte{}
	if whirlpool {
		for _, id := range archiveIDs {
			var blob [64]byte
			if err := c.Read(blob[:]); err != nil {
				return nil, err
			}
			whirlpoolBlobs[id] = blob
		}
	}

	for _, id := range archiveIDs {
		crc, err := c.ReadI32()
		if err != nil {
			return nil, err
		}
		archives[id].CRC = crc
	}

	for _, id := range archiveIDs {
		version, err := c.ReadI32()
		if err != nil {
			return nil, err
		}
		archives[id].Version = version
	}

	fileCounts := make(map[uint32]uint16, numArchives)
	for _, id := range archiveIDs {
		count, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		fileCounts[id] = count
	}

	for _, id := range archiveIDs {
		archive := archives[id]
		count := fileCounts[id]
		archive.FileIDs = make([]uint32, count)
		var runningFile uint32
		for f := 0; f < int(count); f++ {
			delta, err := c.ReadU16()
			if err != nil {
				return nil, err
			}
			runningFile += uint32(delta)
			archive.FileIDs[f] = runningFile
			archive.Files[runningFile] = newFileSlot()
		}
	}

	// Whirlpool per-file version assignment: the reference
	// implementation indexes the 64-byte blob by raw file_id, which
	// overruns for file_id >= 64. Preserved best-effort: out-of-range
	// assignments are skipped rather than guessed at.
	if whirlpool {
		for _, id := range archiveIDs {
			archive := archives[id]
			blob, ok := whirlpoolBlobs[id]
			if !ok {
				continue
			}
			for _, fileID := range archive.FileIDs {
				if fileID < uint32(len(blob)) {
					archive.Files[fileID].Version = blob[fileID]
				}
			}
		}
	}

	if named {
		for _, id := range archiveIDs {
			archive := archives[id]
			for _, fileID := range archive.FileIDs {
				nameHash, err := c.ReadU32()
				if err != nil {
					return nil, err
				}
				archive.Files[fileID].NameHash = nameHash
			}
		}
	}

	sort.Slice(archiveIDs, func(i, j int) bool { return archiveIDs[i] < archiveIDs[j] })

	return &Directory{
		Protocol:   protocol,
		Revision:   revision,
		NamedFiles: named,
		Whirlpool:  whirlpool,
		ArchiveIDs: archiveIDs,
		Archives:   archives,
	}, nil
}

// Resolve turns a Locator into an archive or file id within this
// directory, hashing names as needed.
func (d *Directory) Resolve(loc Locator) (uint32, bool) {
	if loc.byID {
		return loc.id, true
	}
	hash := HashName(loc.name)
	for _, id := range d.ArchiveIDs {
		if d.Archives[id].NameHash == hash {
			return id, true
		}
	}
	return 0, false
}

// ResolveFile turns a Locator into a file id within the given archive.
func (a *Archive) ResolveFile(loc Locator) (uint32, bool) {
	if loc.byID {
		return loc.id, true
	}
	hash := HashName(loc.name)
	for _, id := range a.FileIDs {
		if a.Files[id].NameHash == hash {
			return id, true
		}
	}
	return 0, false
}

// TotalFiles reports 256 * (len(ArchiveIDs)-1) + len(last archive's
// file ids), using ArchiveIDs in ascending order, matching the
// reference implementation's bookkeeping shortcut.
func (d *Directory) TotalFiles() uint32 {
	if len(d.ArchiveIDs) == 0 {
		return 0
	}
	ids := append([]uint32(nil), d.ArchiveIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	last := d.Archives[ids[len(ids)-1]]
	return uint32((len(ids)-1)*256 + len(last.FileIDs))
}
