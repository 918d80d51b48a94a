package analyzer

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFirmware(t *testing.T, dir string) string {
	t.Helper()
	buf := make([]byte, 0x188)
	copy(buf[0x80:], []byte("$DnX"))
	buf = append(buf, []byte("$CHT")...)
	fuph := make([]byte, 0x1C)
	binary.LittleEndian.PutUint32(fuph[0x0C:0x10], 5)
	binary.LittleEndian.PutUint32(fuph[0x10:0x14], 5)
	binary.LittleEndian.PutUint32(fuph[0x14:0x18], 5)
	binary.LittleEndian.PutUint32(fuph[0x18:0x1C], 5)
	buf = append(buf, fuph...)
	buf = append(buf, []byte("CH00")...)
	buf = append(buf, make([]byte, 100)...)
	buf = append(buf, []byte("CDPH")...)

	path := filepath.Join(dir, "dnx_fwr.bin")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func writeTestOsImage(t *testing.T, dir string) string {
	t.Helper()
	buf := make([]byte, 512)
	binary.LittleEndian.PutUint32(buf[0x00:0x04], 0x24534931)
	binary.LittleEndian.PutUint32(buf[0x04:0x08], 512)
	binary.LittleEndian.PutUint32(buf[0x08:0x0C], 1)
	binary.LittleEndian.PutUint32(buf[0x30:0x34], 512)
	binary.LittleEndian.PutUint32(buf[0x34:0x38], 4096)
	buf = append(buf, make([]byte, 4096)...)

	path := filepath.Join(dir, "os_image.bin")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestAnalyzeFirmwareValid(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFirmware(t, dir)

	a, err := AnalyzeFirmware(path)
	if err != nil {
		t.Fatalf("AnalyzeFirmware: %v", err)
	}
	if !a.Valid() {
		t.Fatalf("Valid() = false, verdict = %v", a.Verdict)
	}
	if a.Kind != KindDnxFwr {
		t.Errorf("Kind = %v, want KindDnxFwr", a.Kind)
	}
	if a.Fuph == nil || a.Fuph.Psfw1Size != 5 {
		t.Errorf("Fuph = %+v, want Psfw1Size 5", a.Fuph)
	}
	if len(a.Signature) != 0x100 {
		t.Errorf("len(Signature) = %d, want 256", len(a.Signature))
	}
	if !hasMarker(a.Markers, "$DnX") || !hasMarker(a.Markers, "CDPH") {
		t.Errorf("Markers = %+v, want $DnX and CDPH present", a.Markers)
	}
	if a.Report() == "" {
		t.Error("Report() returned empty string")
	}
}

func TestAnalyzeFirmwareMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.bin")
	if err := os.WriteFile(path, []byte("not a firmware image"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a, err := AnalyzeFirmware(path)
	if err != nil {
		t.Fatalf("AnalyzeFirmware: %v", err)
	}
	if a.Valid() {
		t.Error("Valid() = true, want false for a junk file")
	}
	if a.Verdict.Kind != VerdictInvalid || a.Verdict.Reason == "" {
		t.Errorf("Verdict = %+v, want Invalid with a reason", a.Verdict)
	}
}

func TestAnalyzeFirmwareRawIfwiIsWarning(t *testing.T) {
	dir := t.TempDir()
	buf := make([]byte, 0x200)
	copy(buf[0x80:], []byte("$DnX"))
	path := filepath.Join(dir, "raw_ifwi.bin")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a, err := AnalyzeFirmware(path)
	if err != nil {
		t.Fatalf("AnalyzeFirmware: %v", err)
	}
	if a.Kind != KindIfwi {
		t.Errorf("Kind = %v, want KindIfwi", a.Kind)
	}
	if a.Verdict.Kind != VerdictWarning {
		t.Errorf("Verdict.Kind = %v, want VerdictWarning", a.Verdict.Kind)
	}
	if !a.Valid() {
		t.Error("Valid() = false, want true for a warning-level verdict")
	}
}

func TestAnalyzeOsImageValid(t *testing.T) {
	dir := t.TempDir()
	path := writeTestOsImage(t, dir)

	a, err := AnalyzeOsImage(path)
	if err != nil {
		t.Fatalf("AnalyzeOsImage: %v", err)
	}
	if !a.Valid() {
		t.Fatalf("Valid() = false, verdict = %v", a.Verdict)
	}
	if a.Table.NumPointers != 1 {
		t.Errorf("NumPointers = %d, want 1", a.Table.NumPointers)
	}
}

func TestAnalyzeAllMixedBatch(t *testing.T) {
	dir := t.TempDir()
	fwPath := writeTestFirmware(t, dir)
	osPath := writeTestOsImage(t, dir)

	results := AnalyzeAll([]string{fwPath, osPath}, 2)
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	byPath := map[string]AnalyzeAllResult{}
	for _, r := range results {
		byPath[r.Path] = r
	}

	if r := byPath[fwPath]; r.Firmware == nil || !r.Firmware.Valid() {
		t.Errorf("firmware result: %+v", r)
	}
	if r := byPath[osPath]; r.OsImage == nil || !r.OsImage.Valid() {
		t.Errorf("os image result: %+v", r)
	}
}

func TestAnalyzeFirmwareMissingFile(t *testing.T) {
	if _, err := AnalyzeFirmware("/nonexistent/path/dnx_fwr.bin"); err == nil {
		t.Error("expected an error for a missing file")
	}
}
