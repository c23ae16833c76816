package idx

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainSpec describes one sector chain to lay into a shared .dat2
// fixture: the values its sectors' headers carry, and the compressed
// container bytes it holds.
type chainSpec struct {
	containerID uint32
	idxFileID   uint8
	payload     []byte
}

// layoutDat lays out each chain sequentially starting at sector 1
// (sector 0 stays reserved/unused) and returns the finished buffer
// plus each chain's first sector index, keyed by containerID.
func layoutDat(chains []chainSpec) (buf []byte, firstSectors map[uint32]int32) {
	firstSectors = make(map[uint32]int32, len(chains))
	out := make([]byte, sectorSize) // sector 0

	for _, chain := range chains {
		startSector := int32(len(out) / sectorSize)
		firstSectors[chain.containerID] = startSector

		part := uint32(0)
		for offset := 0; offset < len(chain.payload); offset += sectorPayloadSize {
			end := offset + sectorPayloadSize
			if end > len(chain.payload) {
				end = len(chain.payload)
			}
			nextSector := uint32(0)
			if end < len(chain.payload) {
				nextSector = uint32(len(out)/sectorSize) + 1
			}
			hdr := []byte{
				byte(chain.containerID >> 8), byte(chain.containerID),
				byte(part >> 8), byte(part),
				byte(nextSector >> 16), byte(nextSector >> 8), byte(nextSector),
				chain.idxFileID,
			}
			out = append(out, hdr...)
			out = append(out, chain.payload[offset:end]...)
			out = append(out, make([]byte, sectorPayloadSize-(end-offset))...)
			part++
		}
	}
	return out, firstSectors
}

func buildIdxFile(records map[uint32]sectorRecord, maxID uint32) []byte {
	buf := make([]byte, 6*(maxID+1))
	for id, rec := range records {
		off := 6 * id
		buf[off+0], buf[off+1], buf[off+2] = byte(rec.size>>16), byte(rec.size>>8), byte(rec.size)
		buf[off+3], buf[off+4], buf[off+5] = byte(rec.firstSector>>16), byte(rec.firstSector>>8), byte(rec.firstSector)
	}
	return buf
}

func rawCodecWrap(plain []byte) []byte {
	var out bytes.Buffer
	out.WriteByte(0)
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(plain)))
	out.Write(size[:])
	out.Write(plain)
	return out.Bytes()
}

// buildDirectoryPayload encodes a minimal protocol-6, unnamed,
// non-whirlpool directory with one archive holding one file.
func buildDirectoryPayload(archiveID, fileID uint32) []byte {
	var b dirBuilder
	b.u8(6)
	b.u32(1)
	b.u8(0)
	b.u16(1)
	b.u16(uint16(archiveID))
	b.i32(-1)
	b.i32(1)
	b.u16(1)
	b.u16(uint16(fileID))
	return b.buf.Bytes()
}

// writeCache assembles a full main_file_cache.{idx255,idx0,dat2} fixture
// under dir describing index 0 with one archive (id 2) holding one
// file (id 9) whose raw payload is fileBody.
func writeCache(t *testing.T, dir string, fileBody []byte) {
	t.Helper()

	dirPayload := buildDirectoryPayload(2, 9)
	dirContainer := rawCodecWrap(dirPayload)

	archiveContainer := rawCodecWrap(fileBody)

	chains := []chainSpec{
		{containerID: 0, idxFileID: idx255ID, payload: dirContainer}, // idx0's directory, described in idx255
		{containerID: 2, idxFileID: 0, payload: archiveContainer},   // archive 2 within idx0
	}
	dat, firstSectors := layoutDat(chains)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main_file_cache.dat2"), dat, 0o644))

	idx255 := buildIdxFile(map[uint32]sectorRecord{
		0: {size: uint32(len(dirContainer)), firstSector: firstSectors[0]},
	}, 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main_file_cache.idx255"), idx255, 0o644))

	idx0 := buildIdxFile(map[uint32]sectorRecord{
		2: {size: uint32(len(archiveContainer)), firstSector: firstSectors[2]},
	}, 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main_file_cache.idx0"), idx0, 0o644))
}

func TestOpenAndRequest(t *testing.T) {
	dir := t.TempDir()
	body := []byte("raw file nine payload")
	writeCache(t, dir, body)

	cache, err := Open(dir)
	require.NoError(t, err)
	defer cache.Close()

	ci, err := cache.Index(0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, ci.Directory().ArchiveIDs)

	data, err := cache.Request(0, ByID(2), ByID(9))
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestRequestIsMemoized(t *testing.T) {
	dir := t.TempDir()
	body := []byte("memoized payload")
	writeCache(t, dir, body)

	cache, err := Open(dir)
	require.NoError(t, err)
	defer cache.Close()

	first, err := cache.Request(0, ByID(2), ByID(9))
	require.NoError(t, err)

	// Corrupt the backing dat2 file: if the second Request hit disk
	// again it would either error or return different bytes.
	datPath := filepath.Join(dir, "main_file_cache.dat2")
	require.NoError(t, os.WriteFile(datPath, []byte{0}, 0o644))

	second, err := cache.Request(0, ByID(2), ByID(9))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOpenSkipsMissingIdxFile(t *testing.T) {
	dir := t.TempDir()
	writeCache(t, dir, []byte("x"))
	require.NoError(t, os.Remove(filepath.Join(dir, "main_file_cache.idx0")))

	cache, err := Open(dir)
	require.NoError(t, err)
	defer cache.Close()

	_, err = cache.Index(0)
	require.Error(t, err)
}

func TestOpenFailsWithoutDataFile(t *testing.T) {
	dir := t.TempDir()
	writeCache(t, dir, []byte("x"))
	require.NoError(t, os.Remove(filepath.Join(dir, "main_file_cache.dat2")))

	_, err := Open(dir)
	require.Error(t, err)
}

func TestHashNameIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, HashName("Logo"), HashName("logo"))
	assert.NotEqual(t, uint32(0), HashName("logo"))
}
