package payload

import (
	"encoding/binary"
	"fmt"
)

const (
	osipSize        = 512
	osipEntrySize   = 24
	osipEntriesOff  = 0x30
	osipSignatureOff = 0x00
	osipHeaderSzOff = 0x04
	osipNumPtrsOff  = 0x08

	// Offsets within one 24-byte OSIP entry. Real Intel OSIP entries carry
	// logical block addressing and per-OS metadata; this parser only needs
	// the byte offset and size of each image to slice it out of the image
	// file, so only those two fields are modeled.
	osipEntryOffsetOff = 0x00
	osipEntrySizeOff   = 0x04
)

// OsipSignature is the expected magic at the start of a valid OSIP table.
const OsipSignature = 0x24534931 // "1IS$" little-endian, Intel's OS Image Profile mark.

// OsipEntry describes one bootable OS image referenced by the partition
// table.
type OsipEntry struct {
	Offset uint32
	Size   uint32
}

// OsipPartitionTable is the 512-byte structure at the head of a DnX OS
// image (dnx_osr.img).
type OsipPartitionTable struct {
	Signature   uint32
	HeaderSize  uint32
	NumPointers uint32
	Entries     []OsipEntry
}

// ParseOsipPartitionTable reads the first 512 bytes of buf as an OSIP
// table. It returns InvalidOsImageError if the signature doesn't match or
// NumPointers is zero.
func ParseOsipPartitionTable(buf []byte) (OsipPartitionTable, error) {
	if len(buf) < osipSize {
		return OsipPartitionTable{}, &InvalidOsImageError{Reason: fmt.Sprintf("image too short for OSIP table: %d bytes", len(buf))}
	}
	t := OsipPartitionTable{
		Signature:   binary.LittleEndian.Uint32(buf[osipSignatureOff : osipSignatureOff+4]),
		HeaderSize:  binary.LittleEndian.Uint32(buf[osipHeaderSzOff : osipHeaderSzOff+4]),
		NumPointers: binary.LittleEndian.Uint32(buf[osipNumPtrsOff : osipNumPtrsOff+4]),
	}
	if t.Signature != OsipSignature {
		return OsipPartitionTable{}, &InvalidOsImageError{Reason: fmt.Sprintf("bad OSIP signature: %#08x", t.Signature)}
	}
	if t.NumPointers == 0 {
		return OsipPartitionTable{}, &InvalidOsImageError{Reason: "OSIP table has zero entries"}
	}
	for i := uint32(0); i < t.NumPointers; i++ {
		entryOff := osipEntriesOff + int(i)*osipEntrySize
		if entryOff+osipEntrySize > len(buf) {
			return OsipPartitionTable{}, &InvalidOsImageError{Reason: fmt.Sprintf("OSIP entry %d out of range", i)}
		}
		e := OsipEntry{
			Offset: binary.LittleEndian.Uint32(buf[entryOff+osipEntryOffsetOff : entryOff+osipEntryOffsetOff+4]),
			Size:   binary.LittleEndian.Uint32(buf[entryOff+osipEntrySizeOff : entryOff+osipEntrySizeOff+4]),
		}
		t.Entries = append(t.Entries, e)
	}
	return t, nil
}

// Entry returns the nth OS image descriptor, or an error if n is out of
// range.
func (t OsipPartitionTable) Entry(n int) (OsipEntry, error) {
	if n < 0 || n >= len(t.Entries) {
		return OsipEntry{}, &InvalidOsImageError{Reason: fmt.Sprintf("OS index %d out of range (have %d)", n, len(t.Entries))}
	}
	return t.Entries[n], nil
}

// Marshal serializes the first osipSize bytes the table was parsed from.
// Since the table is opaque apart from the fields DnX needs, callers that
// must replay the raw 512-byte OSIP bytes to the device (on ROSIP) keep the
// original buffer rather than reconstructing it from this struct.
func (t OsipPartitionTable) Marshal(raw []byte) []byte {
	if len(raw) < osipSize {
		return raw
	}
	return raw[:osipSize]
}

// InvalidOsImageError reports that an OS image failed to parse: a bad
// OSIP signature, zero partition entries, or a selected index out of
// range.
type InvalidOsImageError struct {
	Reason string
}

func (e *InvalidOsImageError) Error() string {
	return "payload: invalid OS image: " + e.Reason
}
