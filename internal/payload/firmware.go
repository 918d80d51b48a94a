package payload

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"dnx/internal/dnxproto"
)

// Fixed offsets and markers in a dnx_fwr.bin image.
const (
	dnxMarkerOffset = 0x80
	rsaSigOffset    = 0x88
	rsaSigLen       = 0x100 // 0x88..0x188

	chaabiBodyBackOffset = 0x80 // Chaabi body starts CH00offset - 0x80

	lofwSize = 128 * 1024
	hifwSize = 128 * 1024

	securityChunkSize = 64 * 1024
)

var (
	markerDnX  = []byte("$DnX")
	markerCHT  = []byte("$CHT")
	markerCH00 = []byte("CH00")
	markerCDPH = []byte("CDPH")
	markerFIP  = []byte("$FIP")
)

// ifwiVersionLen is the size of the trailing version/build block this
// parser reports from the end of the IFWI body. The exact layout of that
// block is undocumented in any source this package was built from; see
// DESIGN.md for the resolution of this Open Question.
const ifwiVersionLen = 16

// MarkerOffset records where one of the analyzer's known layout markers
// was found in a raw image.
type MarkerOffset struct {
	Marker string `json:"marker"`
	Offset int    `json:"offset"`
}

var knownMarkers = []struct {
	name   string
	needle []byte
}{
	{"$DnX", markerDnX},
	{"$CHT", markerCHT},
	{"CH00", markerCH00},
	{"CDPH", markerCDPH},
	{"$FIP", markerFIP},
}

// ScanMarkers reports the offset of each known layout marker found in raw,
// in a fixed order. Unlike NewFirmwarePayload this never rejects raw: the
// analyzer wants marker offsets even for a file that does not parse as a
// complete dnx_fwr.bin.
func ScanMarkers(raw []byte) []MarkerOffset {
	var out []MarkerOffset
	for _, m := range knownMarkers {
		if off := bytes.Index(raw, m.needle); off >= 0 {
			out = append(out, MarkerOffset{Marker: m.name, Offset: off})
		}
	}
	return out
}

// FirmwarePayload is the parsed form of a dnx_fwr.bin image: everything the
// state machine's FwNormal/FwMisc/FwWipe actions need to answer a request
// ACK with bytes.
type FirmwarePayload struct {
	raw []byte

	Fuph      FuphHeader
	fuphOff   int
	signature []byte
	chaabi    []byte
	ifwi      []byte

	psfw1 *ChunkIterator
	psfw2 *ChunkIterator
	ssfw  *ChunkIterator
	vedfw *ChunkIterator
	sucp  *ChunkIterator
}

// NewFirmwarePayload parses raw as a dnx_fwr.bin image. raw is retained,
// not copied: callers must not mutate it afterward, since it stays aliased
// into the payload for the life of the session.
func NewFirmwarePayload(raw []byte) (*FirmwarePayload, error) {
	if len(raw) == 0 {
		// A zero-size firmware file is a valid, if inert, edge case: the
		// session greets it with HLT0 and never asks for a body.
		return &FirmwarePayload{raw: raw}, nil
	}

	if len(raw) < dnxMarkerOffset+len(markerDnX) {
		return nil, &InvalidFirmwareError{Reason: "file too short for $DnX marker"}
	}
	if !bytes.Equal(raw[dnxMarkerOffset:dnxMarkerOffset+len(markerDnX)], markerDnX) {
		return nil, &InvalidFirmwareError{Reason: "missing $DnX marker at offset 0x80"}
	}

	fw := &FirmwarePayload{raw: raw}

	sigEnd := rsaSigOffset + rsaSigLen
	if sigEnd > len(raw) {
		return nil, &InvalidFirmwareError{Reason: "file too short for RSA-2048 signature region"}
	}
	fw.signature = raw[rsaSigOffset:sigEnd]

	chtOff := bytes.Index(raw, markerCHT)
	if chtOff < 0 {
		return nil, &InvalidFirmwareError{Reason: "no $CHT token region marker found"}
	}
	fuphOff := chtOff + len(markerCHT)
	if fuphOff+fuphMinLen > len(raw) {
		return nil, &InvalidFirmwareError{Reason: "truncated FUPH header after $CHT marker"}
	}
	fuph, err := parseFuphHeader(raw[fuphOff:])
	if err != nil {
		return nil, &InvalidFirmwareError{Reason: err.Error()}
	}
	fw.Fuph = fuph
	fw.fuphOff = fuphOff

	ch00Off := bytes.Index(raw, markerCH00)
	cdphOff := bytes.Index(raw, markerCDPH)
	if ch00Off < 0 || cdphOff < 0 || ch00Off < chaabiBodyBackOffset {
		return nil, &InvalidFirmwareError{Reason: "missing CH00/CDPH Chaabi bounds"}
	}
	chaabiStart := ch00Off - chaabiBodyBackOffset
	if chaabiStart < 0 || cdphOff < chaabiStart {
		return nil, &InvalidFirmwareError{Reason: "malformed Chaabi region bounds"}
	}
	fw.chaabi = raw[chaabiStart:cdphOff]

	// The low/high IFWI halves are the body leading up to the token
	// region; anything shorter than 256 KiB still yields two (possibly
	// short) chunks from the LOFW/HIFW split.
	ifwiEnd := chtOff
	if ifwiEnd > len(raw) {
		ifwiEnd = len(raw)
	}
	fw.ifwi = raw[:ifwiEnd]

	psfw1, err := NewChunkIterator(sliceN(fw.chaabi, 0, int(fuph.Psfw1Size)), securityChunkSize)
	if err != nil {
		return nil, err
	}
	psfw2, err := NewChunkIterator(sliceN(fw.chaabi, int(fuph.Psfw1Size), int(fuph.Psfw2Size)), securityChunkSize)
	if err != nil {
		return nil, err
	}
	ssfw, err := NewChunkIterator(sliceN(fw.chaabi, int(fuph.Psfw1Size+fuph.Psfw2Size), int(fuph.SsfwSize)), securityChunkSize)
	if err != nil {
		return nil, err
	}
	sucp, err := NewChunkIterator(sliceN(fw.chaabi, int(fuph.Psfw1Size+fuph.Psfw2Size+fuph.SsfwSize), int(fuph.RomPatchSize)), securityChunkSize)
	if err != nil {
		return nil, err
	}
	// VEDFW has no dedicated FUPH size field in this revision's header; it
	// is served from whatever Chaabi bytes remain after the four sized
	// blobs above. See DESIGN.md for this Open Question's resolution.
	vedfwStart := int(fuph.Psfw1Size + fuph.Psfw2Size + fuph.SsfwSize + fuph.RomPatchSize)
	vedfw, err := NewChunkIterator(sliceN(fw.chaabi, vedfwStart, len(fw.chaabi)-vedfwStart), securityChunkSize)
	if err != nil {
		return nil, err
	}

	fw.psfw1, fw.psfw2, fw.ssfw, fw.sucp, fw.vedfw = psfw1, psfw2, ssfw, sucp, vedfw

	return fw, nil
}

// sliceN returns data[off:off+n] clamped to data's bounds, never panicking
// on an out-of-range request (a malformed FUPH can report sizes larger than
// the actual Chaabi region).
func sliceN(data []byte, off, n int) []byte {
	if off < 0 || off >= len(data) || n <= 0 {
		return nil
	}
	end := off + n
	if end > len(data) {
		end = len(data)
	}
	return data[off:end]
}

// Empty reports whether this payload was built from a zero-byte file.
func (fw *FirmwarePayload) Empty() bool { return len(fw.raw) == 0 }

// MarkerOffsets reports where each layout marker landed in this payload's
// raw image.
func (fw *FirmwarePayload) MarkerOffsets() []MarkerOffset { return ScanMarkers(fw.raw) }

// Signature returns the opaque RSA-2048 signature region at 0x88..0x188,
// or nil for an empty payload.
func (fw *FirmwarePayload) Signature() []byte { return fw.signature }

// Ifwi returns the full IFWI body: everything before the token region that
// LOFW/HIFW are sliced from.
func (fw *FirmwarePayload) Ifwi() []byte { return fw.ifwi }

// IfwiVersion returns the trailing version/build block of the IFWI body,
// or nil if the body is shorter than that block.
func (fw *FirmwarePayload) IfwiVersion() []byte {
	if len(fw.ifwi) < ifwiVersionLen {
		return nil
	}
	return fw.ifwi[len(fw.ifwi)-ifwiVersionLen:]
}

// Handshake returns the framed DnX firmware body sent in response to DXBL:
// the full image up to (not including) the token region, wrapped in a
// DnxHeader.
func (fw *FirmwarePayload) Handshake() []byte {
	return dnxproto.Frame(fw.ifwi)
}

// FuphSize returns the 4-byte little-endian FUPH length sent in response to
// RUPHS, as learned while parsing the image.
func (fw *FirmwarePayload) FuphSize() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, fw.Fuph.Len)
	return buf
}

// FuphBytes returns the raw FUPH header bytes sent in response to RUPH.
func (fw *FirmwarePayload) FuphBytes() []byte {
	return fw.Fuph.bytes(fw.raw, fw.fuphOff)
}

// Mip returns the MIP block addressed by the FUPH in response to DMIP. The
// MIP region's exact offset within Chaabi is one of the documented
// reverse-engineering ambiguities; this build serves the bytes immediately
// preceding the PSFW1 region as the MIP block, which is the convention
// this package's tests exercise.
func (fw *FirmwarePayload) Mip() []byte {
	return sliceN(fw.chaabi, 0, int(fw.Fuph.Psfw1Size))
}

// Lofw returns the first 128 KiB of the IFWI body in response to LOFW.
func (fw *FirmwarePayload) Lofw() []byte {
	return sliceN(fw.ifwi, 0, lofwSize)
}

// Hifw returns the second 128 KiB of the IFWI body in response to HIFW.
func (fw *FirmwarePayload) Hifw() []byte {
	return sliceN(fw.ifwi, lofwSize, hifwSize)
}

// NextPsfw1, NextPsfw2, NextSsfw, NextVedfw and NextSucp drain one 64 KiB
// chunk (framed with a DnxHeader) from their respective security-firmware
// region, returning ok=false once exhausted.
func (fw *FirmwarePayload) NextPsfw1() ([]byte, bool) { return nextFramed(fw.psfw1) }
func (fw *FirmwarePayload) NextPsfw2() ([]byte, bool) { return nextFramed(fw.psfw2) }
func (fw *FirmwarePayload) NextSsfw() ([]byte, bool)  { return nextFramed(fw.ssfw) }
func (fw *FirmwarePayload) NextVedfw() ([]byte, bool) { return nextFramed(fw.vedfw) }
func (fw *FirmwarePayload) NextSucp() ([]byte, bool)  { return nextFramed(fw.sucp) }

func nextFramed(it *ChunkIterator) ([]byte, bool) {
	chunk, ok := it.Next()
	if !ok {
		return nil, false
	}
	return dnxproto.Frame(chunk), true
}

// InvalidFirmwareError reports that a firmware image failed to parse:
// a missing marker, a malformed FUPH, or absent Chaabi bounds.
type InvalidFirmwareError struct {
	Reason string
}

func (e *InvalidFirmwareError) Error() string {
	return fmt.Sprintf("payload: invalid firmware: %s", e.Reason)
}
