package idx

import (
	"io"

	"github.com/Ceikry/idx/lib/cursor"
)

const sectorSize = 520
const sectorPayloadSize = 512
const sectorHeaderSize = 8

// sectorRecord is the 6-byte on-disk record describing where an
// archive's sector chain begins and how long it runs.
type sectorRecord struct {
	size        uint32
	firstSector int32
}

func readSectorRecord(idxReader io.ReaderAt, archiveID uint32) (sectorRecord, error) {
	buf := make([]byte, 6)
	if _, err := idxReader.ReadAt(buf, int64(6)*int64(archiveID)); err != nil {
		return sectorRecord{}, wrapErr(err, KindFileOpen, "reading sector record for archive %d", archiveID)
	}
	size := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	firstSector := int32(buf[3])<<16 | int32(buf[4])<<8 | int32(buf[5])
	return sectorRecord{size: size, firstSector: firstSector}, nil
}

// sectorHeader is the 8-byte header at the start of every 520-byte
// sector in the shared data file.
type sectorHeader struct {
	containerID uint32
	part        uint32
	nextSector  uint32
	idxFileID   uint8
}

func readSectorHeader(raw []byte) sectorHeader {
	c := cursor.New(raw[:sectorHeaderSize])
	containerID, _ := c.ReadU16()
	part, _ := c.ReadU16()
	next0, _ := c.ReadU8()
	next1, _ := c.ReadU8()
	next2, _ := c.ReadU8()
	idxFileID, _ := c.ReadU8()
	return sectorHeader{
		containerID: uint32(containerID),
		part:        uint32(part),
		nextSector:  uint32(next0)<<16 | uint32(next1)<<8 | uint32(next2),
		idxFileID:   idxFileID,
	}
}

// sectorRead walks the sector chain for (idxFileID, archiveID) in the
// shared data file, validating every sector header against the
// expected (archive, part, index) triple, and returns the concatenated
// compressed payload. dataReader must already be guarded by the
// caller against concurrent use, per the cache's resource model.
func sectorRead(idxReader io.ReaderAt, dataReader io.ReaderAt, idxFileID uint8, maxContainerSize uint32, archiveID uint32) ([]byte, error) {
	rec, err := readSectorRecord(idxReader, archiveID)
	if err != nil {
		return nil, err
	}

	if rec.size > maxContainerSize {
		return nil, newErr(KindOversizeContainer, "archive %d size %d exceeds max %d", archiveID, rec.size, maxContainerSize)
	}
	if rec.firstSector <= 0 {
		return nil, newErr(KindEmptyArchive, "archive %d has no first sector (%d)", archiveID, rec.firstSector)
	}

	out := make([]byte, 0, rec.size)
	var read uint32
	var part uint32
	sector := uint32(rec.firstSector)
	raw := make([]byte, sectorSize)

	for read < rec.size {
		if sector == 0 {
			return nil, newErr(KindTruncatedChain, "archive %d chain truncated after %d/%d bytes", archiveID, read, rec.size)
		}

		if _, err := dataReader.ReadAt(raw, int64(sectorSize)*int64(sector)); err != nil {
			return nil, wrapErr(err, KindFileOpen, "reading sector %d of archive %d", sector, archiveID)
		}

		toRead := rec.size - read
		if toRead > sectorPayloadSize {
			toRead = sectorPayloadSize
		}

		hdr := readSectorHeader(raw)
		if hdr.containerID != archiveID || hdr.part != part || hdr.idxFileID != idxFileID {
			return nil, newErr(KindSectorMetadataMismatch,
				"archive %d part %d idx %d: got container=%d part=%d idx=%d",
				archiveID, part, idxFileID, hdr.containerID, hdr.part, hdr.idxFileID)
		}

		out = append(out, raw[sectorHeaderSize:sectorHeaderSize+toRead]...)
		read += toRead
		part++
		sector = hdr.nextSector
	}

	return out, nil
}
