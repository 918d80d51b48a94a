package payload

import (
	"encoding/binary"
	"fmt"
)

// FUPH header field offsets, constant across every known variant.
const (
	fuphOffsetMagic        = 0x00
	fuphOffsetVersion       = 0x04
	fuphOffsetPsfw1Size    = 0x0C
	fuphOffsetPsfw2Size    = 0x10
	fuphOffsetSsfwSize     = 0x14
	fuphOffsetRomPatchSize = 0x18

	// fuphMinLen is the shortest defined variant and the minimum number of
	// bytes required to read every known field.
	fuphMinLen = 0x1C
)

// Known total FUPH header lengths, keyed by the magic value the device's
// DnX firmware image carries for that SoC revision. Anything not in this
// table falls back to the minimum length: the four size fields this parser
// cares about all live inside the first 0x1C bytes regardless of variant,
// so an unrecognized magic only costs us the trailing padding, not
// correctness. MFLD/C0/D0 SoC revisions each carry a different total
// header length here.
var fuphLenByMagic = map[uint32]int{
	0x00010000: 0x1C, // MFD
	0x00010001: 0x20, // C0
	0x00010002: 0x24, // D0
}

// FuphHeader is the FW Update Profile Header: it tells the host how large
// each of the security firmware blobs that follow the IFWI body are.
type FuphHeader struct {
	Magic        uint32
	Version      uint32
	Psfw1Size    uint32
	Psfw2Size    uint32
	SsfwSize     uint32
	RomPatchSize uint32
	// Len is the total on-wire size of this header (0x1C, 0x20 or 0x24),
	// reported back to the device verbatim on a RUPHS request.
	Len uint32
}

// parseFuphHeader reads a FuphHeader starting at buf[0]. buf must contain
// at least fuphMinLen bytes.
func parseFuphHeader(buf []byte) (FuphHeader, error) {
	if len(buf) < fuphMinLen {
		return FuphHeader{}, fmt.Errorf("payload: FUPH header truncated: have %d bytes, need at least %d", len(buf), fuphMinLen)
	}
	magic := binary.LittleEndian.Uint32(buf[fuphOffsetMagic : fuphOffsetMagic+4])
	h := FuphHeader{
		Magic:        magic,
		Version:      binary.LittleEndian.Uint32(buf[fuphOffsetVersion : fuphOffsetVersion+4]),
		Psfw1Size:    binary.LittleEndian.Uint32(buf[fuphOffsetPsfw1Size : fuphOffsetPsfw1Size+4]),
		Psfw2Size:    binary.LittleEndian.Uint32(buf[fuphOffsetPsfw2Size : fuphOffsetPsfw2Size+4]),
		SsfwSize:     binary.LittleEndian.Uint32(buf[fuphOffsetSsfwSize : fuphOffsetSsfwSize+4]),
		RomPatchSize: binary.LittleEndian.Uint32(buf[fuphOffsetRomPatchSize : fuphOffsetRomPatchSize+4]),
	}
	length, ok := fuphLenByMagic[magic]
	if !ok {
		length = fuphMinLen
	}
	if len(buf) < length {
		length = fuphMinLen
	}
	h.Len = uint32(length)
	return h, nil
}

// Bytes returns the on-wire FUPH header bytes as they should be replayed to
// the device on a RUPH request, sliced from the owning firmware payload's
// raw image starting at off.
func (h FuphHeader) bytes(raw []byte, off int) []byte {
	end := off + int(h.Len)
	if end > len(raw) {
		end = len(raw)
	}
	return raw[off:end]
}
