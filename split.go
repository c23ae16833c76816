package idx

import (
	"github.com/Ceikry/idx/lib/cursor"
)

// SplitArchive partitions a decompressed archive's bytes into its
// member files, keyed by file id, using the trailing stride table
// described by fileIDs' order.
//
// A single-file archive is returned whole. Otherwise the last byte of
// data names the number of stride rows; each row holds one signed
// 32-bit delta per file, cumulative across the row - the running sum
// after reading column k is that file's segment length for that row,
// not just the delta itself. This matches the reference
// implementation's layout, quirks included.
func SplitArchive(data []byte, fileIDs []uint32) (map[uint32][]byte, error) {
	n := len(fileIDs)
	out := make(map[uint32][]byte, n)

	if n == 0 {
		return out, nil
	}
	if n == 1 {
		out[fileIDs[0]] = data
		return out, nil
	}
	if len(data) == 0 {
		return nil, newErr(KindDecodeError, "cannot split empty archive into %d files", n)
	}

	numChunks := int(data[len(data)-1])
	strideBytes := numChunks * n * 4
	readPos := len(data) - 1 - strideBytes
	if readPos < 0 {
		return nil, newErr(KindDecodeError, "stride table (%d bytes) larger than archive", strideBytes)
	}

	c := cursor.New(data)
	c.SetPos(readPos)

	var offset int
	for row := 0; row < numChunks; row++ {
		var dataRead int
		for _, fileID := range fileIDs {
			delta, err := c.ReadI32()
			if err != nil {
				return nil, wrapErr(err, KindDecodeError, "reading stride table row %d", row)
			}
			dataRead += int(delta)
			end := offset + dataRead
			if offset < 0 || end > len(data) || end < offset {
				return nil, newErr(KindDecodeError, "stride table row %d produced an out-of-range span [%d,%d)", row, offset, end)
			}
			out[fileID] = append(out[fileID], data[offset:end]...)
			offset += dataRead
		}
	}

	return out, nil
}
