package idx

import (
	"bytes"
	"compress/bzip2"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/Ceikry/idx/lib/cursor"
)

const maxCompressedSize = 5_000_000

// bzip2Magic is the 4-byte bzip2 stream header Jagex strips from its
// compressed containers before writing them to disk.
var bzip2Magic = []byte{'B', 'Z', 'h', '1'}

// Decompress takes a raw container payload, as returned by SectorRead,
// and returns its plaintext bytes. The payload layout is:
// compression (u8), compressed_size (u32 BE), then a codec-specific
// body. An empty payload decompresses to an empty result, matching the
// representation of empty archives.
func Decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return []byte{}, nil
	}

	c := cursor.New(payload)
	compression, err := c.ReadU8()
	if err != nil {
		return nil, wrapErr(err, KindDecodeError, "reading compression byte")
	}
	compressedSize, err := c.ReadU32()
	if err != nil {
		return nil, wrapErr(err, KindDecodeError, "reading compressed size")
	}
	if compressedSize > maxCompressedSize {
		return nil, newErr(KindOversizeContainer, "compressed size %d exceeds %d", compressedSize, maxCompressedSize)
	}

	switch compression {
	case 0:
		return readRaw(c, int(compressedSize))
	case 1:
		return readBzip2(c)
	case 2:
		return readDeflate(c)
	default:
		return nil, newErr(KindUnknownCodec, "unrecognized compression code %d", compression)
	}
}

func readRaw(c *cursor.Cursor, n int) ([]byte, error) {
	out := make([]byte, n)
	if err := c.Read(out); err != nil {
		return nil, wrapErr(err, KindDecodeError, "reading raw container body")
	}
	return out, nil
}

func readBzip2(c *cursor.Cursor) ([]byte, error) {
	decompressedSize, err := c.ReadU32()
	if err != nil {
		return nil, wrapErr(err, KindDecodeError, "reading bzip2 decompressed size")
	}

	rest := c.Deconstruct()[c.Pos():]
	stream := make([]byte, 0, len(bzip2Magic)+len(rest))
	stream = append(stream, bzip2Magic...)
	stream = append(stream, rest...)

	out, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(stream)))
	if err != nil {
		return nil, wrapErr(err, KindDecodeError, "bzip2 decompression failed")
	}
	if uint32(len(out)) != decompressedSize {
		return nil, newErr(KindSizeMismatch, "bzip2: expected %d bytes, got %d", decompressedSize, len(out))
	}
	return out, nil
}

func readDeflate(c *cursor.Cursor) ([]byte, error) {
	decompressedSize, err := c.ReadU32()
	if err != nil {
		return nil, wrapErr(err, KindDecodeError, "reading deflate decompressed size")
	}
	// Skip the 10-byte gzip header Jagex leaves in place; what
	// follows is a raw deflate stream.
	c.SetPos(c.Pos() + 10)
	rest := c.Deconstruct()[c.Pos():]

	fr := flate.NewReader(bytes.NewReader(rest))
	defer fr.Close()
	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, wrapErr(err, KindDecodeError, "deflate decompression failed")
	}
	if uint32(len(out)) != decompressedSize {
		return nil, newErr(KindSizeMismatch, "deflate: expected %d bytes, got %d", decompressedSize, len(out))
	}
	return out, nil
}
