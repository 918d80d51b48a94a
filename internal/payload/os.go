package payload

import (
	"encoding/binary"
)

const osImageChunkSize = 64 * 1024

// OsPayload is the parsed form of a dnx_osr.img image: the OSIP partition
// table plus a chunk iterator over whichever entry the session was
// configured to boot.
type OsPayload struct {
	raw   []byte
	Table OsipPartitionTable

	selected OsipEntry
	chunks   *ChunkIterator
}

// NewOsPayload parses raw as a dnx_osr.img image and selects image index
// selectedIndex from its OSIP table, as chosen by the session's
// configuration.
func NewOsPayload(raw []byte, selectedIndex int) (*OsPayload, error) {
	table, err := ParseOsipPartitionTable(raw)
	if err != nil {
		return nil, err
	}
	entry, err := table.Entry(selectedIndex)
	if err != nil {
		return nil, err
	}
	end := int(entry.Offset) + int(entry.Size)
	if end > len(raw) || int(entry.Offset) > end {
		return nil, &InvalidOsImageError{Reason: "selected OS image out of file bounds"}
	}
	chunks, err := NewChunkIterator(raw[entry.Offset:end], osImageChunkSize)
	if err != nil {
		return nil, err
	}
	return &OsPayload{raw: raw, Table: table, selected: entry, chunks: chunks}, nil
}

// OsipSize returns the 4-byte little-endian total size of the selected OS
// image, sent in response to OSIP Sz.
func (o *OsPayload) OsipSize() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, o.selected.Size)
	return buf
}

// OsipTable returns the raw 512-byte OSIP table, sent in response to ROSIP.
func (o *OsPayload) OsipTable() []byte {
	return o.Table.Marshal(o.raw)
}

// NextImageChunk drains one 64 KiB chunk of the selected OS image, in
// response to RIMG. Like LOFW/HIFW, and unlike the
// PSFW1/PSFW2/SSFW/VEDFW/SuCP chunks, these chunks are not individually
// prefixed with a DnxHeader.
func (o *OsPayload) NextImageChunk() ([]byte, bool) {
	return o.chunks.Next()
}

// Done reports whether every chunk of the selected image has been served.
func (o *OsPayload) Done() bool { return o.chunks.Done() }
