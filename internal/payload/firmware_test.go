package payload

import (
	"encoding/binary"
	"testing"

	"dnx/internal/dnxproto"
)

// buildTestFirmware assembles a minimal, well-formed dnx_fwr.bin-shaped
// image with the given FUPH size fields, for exercising NewFirmwarePayload
// without a real Intel firmware blob.
func buildTestFirmware(t *testing.T, psfw1, psfw2, ssfw, romPatch uint32) []byte {
	t.Helper()

	buf := make([]byte, 0x188)
	copy(buf[dnxMarkerOffset:], markerDnX)

	buf = append(buf, markerCHT...)

	fuph := make([]byte, fuphMinLen)
	binary.LittleEndian.PutUint32(fuph[0x0C:0x10], psfw1)
	binary.LittleEndian.PutUint32(fuph[0x10:0x14], psfw2)
	binary.LittleEndian.PutUint32(fuph[0x14:0x18], ssfw)
	binary.LittleEndian.PutUint32(fuph[0x18:0x1C], romPatch)
	buf = append(buf, fuph...)

	ch00Off := len(buf)
	buf = append(buf, markerCH00...)
	buf = append(buf, make([]byte, 2000)...)
	buf = append(buf, markerCDPH...)

	if ch00Off < chaabiBodyBackOffset {
		t.Fatalf("test fixture bug: CH00 offset %#x is inside the header region", ch00Off)
	}
	return buf
}

func TestNewFirmwarePayloadParsesFuphSizes(t *testing.T) {
	raw := buildTestFirmware(t, 100, 200, 50, 30)
	fw, err := NewFirmwarePayload(raw)
	if err != nil {
		t.Fatalf("NewFirmwarePayload: %v", err)
	}
	if fw.Fuph.Psfw1Size != 100 || fw.Fuph.Psfw2Size != 200 || fw.Fuph.SsfwSize != 50 || fw.Fuph.RomPatchSize != 30 {
		t.Errorf("parsed FUPH sizes = %+v, want 100/200/50/30", fw.Fuph)
	}
	if fw.Fuph.Len != fuphMinLen {
		t.Errorf("Fuph.Len = %d, want %d for an unrecognized magic", fw.Fuph.Len, fuphMinLen)
	}
}

func TestFirmwarePayloadRejectsMissingMarker(t *testing.T) {
	raw := make([]byte, 0x200)
	if _, err := NewFirmwarePayload(raw); err == nil {
		t.Fatal("expected an error for a file with no $DnX marker")
	}
}

func TestFirmwarePayloadEmptyIsValid(t *testing.T) {
	fw, err := NewFirmwarePayload(nil)
	if err != nil {
		t.Fatalf("NewFirmwarePayload(nil): %v", err)
	}
	if !fw.Empty() {
		t.Error("Empty() = false for a nil payload")
	}
}

func TestFirmwarePayloadChunkDrain(t *testing.T) {
	raw := buildTestFirmware(t, 100, 200, 50, 30)
	fw, err := NewFirmwarePayload(raw)
	if err != nil {
		t.Fatalf("NewFirmwarePayload: %v", err)
	}

	var total int
	for {
		framed, ok := fw.NextPsfw1()
		if !ok {
			break
		}
		if len(framed) < dnxproto.HeaderSize {
			t.Fatalf("framed chunk shorter than a header: %d bytes", len(framed))
		}
		total += len(framed) - dnxproto.HeaderSize
	}
	if total != 100 {
		t.Errorf("drained %d PSFW1 bytes, want 100", total)
	}
}

func TestFirmwarePayloadHandshakeIsFramed(t *testing.T) {
	raw := buildTestFirmware(t, 10, 10, 10, 10)
	fw, err := NewFirmwarePayload(raw)
	if err != nil {
		t.Fatalf("NewFirmwarePayload: %v", err)
	}
	framed := fw.Handshake()
	if len(framed) != dnxproto.HeaderSize+len(fw.ifwi) {
		t.Errorf("Handshake() length = %d, want %d", len(framed), dnxproto.HeaderSize+len(fw.ifwi))
	}
}
