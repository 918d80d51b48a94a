// Package analyzer inspects a DnX firmware or OS image file offline,
// without a device attached, and reports what a flash session would do
// with it.
package analyzer

import (
	"fmt"
	"os"
	"sync"

	"dnx/internal/payload"
)

// ImageKind is the detected file type a FirmwareAnalysis reports:
// {DnxFwr, OsImage, Ifwi, Unknown}.
type ImageKind int

const (
	KindUnknown ImageKind = iota
	KindDnxFwr
	KindOsImage
	KindIfwi
)

func (k ImageKind) String() string {
	switch k {
	case KindDnxFwr:
		return "dnx-fwr"
	case KindOsImage:
		return "os-image"
	case KindIfwi:
		return "ifwi"
	default:
		return "unknown"
	}
}

// VerdictKind is the outcome of validating one image: Valid, Warning
// (accepted but with a caveat), or Invalid (rejected), each carrying an
// optional reason.
type VerdictKind int

const (
	VerdictValid VerdictKind = iota
	VerdictWarning
	VerdictInvalid
)

func (v VerdictKind) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictWarning:
		return "warning"
	default:
		return "invalid"
	}
}

// Verdict pairs a VerdictKind with the reason behind a Warning or Invalid
// result; Reason is empty for Valid.
type Verdict struct {
	Kind   VerdictKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

func (v Verdict) String() string {
	if v.Reason == "" {
		return v.Kind.String()
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Reason)
}

// FirmwareAnalysis is the report produced for one firmware image: detected
// type, marker layout, optional FUPH header and signature region, and the
// validation verdict.
type FirmwareAnalysis struct {
	Path      string    `json:"path"`
	Kind      ImageKind `json:"kind"`
	SizeBytes int       `json:"size_bytes"`
	Verdict   Verdict   `json:"verdict"`

	Markers     []payload.MarkerOffset `json:"markers,omitempty"`
	Fuph        *payload.FuphHeader    `json:"fuph,omitempty"`
	Signature   []byte                 `json:"signature,omitempty"`
	IfwiVersion []byte                 `json:"ifwi_version,omitempty"`
}

// Valid reports whether this image would be accepted by a real flash
// session: both Valid and Warning verdicts are accepted, only Invalid
// isn't (a 0-byte firmware is Warning, not Invalid: it's a valid no-op
// flash).
func (a *FirmwareAnalysis) Valid() bool { return a.Verdict.Kind != VerdictInvalid }

// OsImageAnalysis is the report produced for one OS image.
type OsImageAnalysis struct {
	Path      string    `json:"path"`
	Kind      ImageKind `json:"kind"`
	SizeBytes int       `json:"size_bytes"`
	Verdict   Verdict   `json:"verdict"`

	Table payload.OsipPartitionTable `json:"table"`
}

func (a *OsImageAnalysis) Valid() bool { return a.Verdict.Kind != VerdictInvalid }

// AnalyzeFirmware reads path and runs it through the same parser a real
// session would use, without ever touching a transport.
func AnalyzeFirmware(path string) (*FirmwareAnalysis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("analyzer: read %s: %w", path, err)
	}

	a := &FirmwareAnalysis{Path: path, SizeBytes: len(raw), Markers: payload.ScanMarkers(raw)}

	fw, err := payload.NewFirmwarePayload(raw)
	if err != nil {
		// A raw IFWI dump (BIOS/microcode/security FW with no DnX
		// wrapper) still carries the $DnX marker at 0x80 without the
		// $CHT token region or Chaabi bounds NewFirmwarePayload
		// requires; report that case as Ifwi/Warning instead of
		// collapsing it into Unknown/Invalid alongside genuine junk.
		if hasMarker(a.Markers, "$DnX") {
			a.Kind = KindIfwi
			a.Verdict = Verdict{Kind: VerdictWarning, Reason: "looks like a raw IFWI image, not a complete dnx_fwr.bin: " + err.Error()}
			return a, nil
		}
		a.Kind = KindUnknown
		a.Verdict = Verdict{Kind: VerdictInvalid, Reason: err.Error()}
		return a, nil
	}

	a.Kind = KindDnxFwr
	if fw.Empty() {
		a.Verdict = Verdict{Kind: VerdictWarning, Reason: "0-byte firmware: valid no-op flash"}
		return a, nil
	}

	fuph := fw.Fuph
	a.Fuph = &fuph
	a.Signature = fw.Signature()
	a.IfwiVersion = fw.IfwiVersion()
	a.Verdict = Verdict{Kind: VerdictValid}
	return a, nil
}

func hasMarker(markers []payload.MarkerOffset, name string) bool {
	for _, m := range markers {
		if m.Marker == name {
			return true
		}
	}
	return false
}

// AnalyzeOsImage reads path and parses it as an OSIP-partitioned OS image
// selecting entry index 0 (the default a flashing run would select unless
// overridden).
func AnalyzeOsImage(path string) (*OsImageAnalysis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("analyzer: read %s: %w", path, err)
	}

	a := &OsImageAnalysis{Path: path, Kind: KindOsImage, SizeBytes: len(raw)}

	osPayload, err := payload.NewOsPayload(raw, 0)
	if err != nil {
		a.Kind = KindUnknown
		a.Verdict = Verdict{Kind: VerdictInvalid, Reason: err.Error()}
		return a, nil
	}

	a.Table = osPayload.Table
	a.Verdict = Verdict{Kind: VerdictValid}
	return a, nil
}

// AnalyzeAllResult pairs one input path with whichever analysis kind it
// produced, so a batch caller can recover ordering and errors together.
type AnalyzeAllResult struct {
	Path     string
	Firmware *FirmwareAnalysis
	OsImage  *OsImageAnalysis
	Err      error
}

// AnalyzeAll fans a batch of paths out across a bounded worker pool,
// guessing firmware vs. OS image by trying firmware first and falling
// back to an OS image parse. One goroutine per file, capped by a
// semaphore of size concurrency.
func AnalyzeAll(paths []string, concurrency int) []AnalyzeAllResult {
	if concurrency <= 0 {
		concurrency = 4
	}

	results := make([]AnalyzeAllResult, len(paths))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, p := range paths {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = analyzeOne(path)
		}(i, p)
	}
	wg.Wait()
	return results
}

// Report formats a FirmwareAnalysis as the multi-line human-readable
// summary the analyze CLI prints.
func (a *FirmwareAnalysis) Report() string {
	if a.Verdict.Kind == VerdictInvalid {
		return fmt.Sprintf("%s: INVALID (%s)\n", a.Path, a.Verdict.Reason)
	}
	header := fmt.Sprintf("%s: %s (%s)\n", a.Path, a.Kind, a.Verdict)
	if a.Fuph == nil {
		return header
	}
	return header + fmt.Sprintf(
		"  size:          %d bytes\n"+
			"  markers:       %s\n"+
			"  fuph magic:    %#x\n"+
			"  fuph len:      %d\n"+
			"  psfw1 size:    %d\n"+
			"  psfw2 size:    %d\n"+
			"  ssfw size:     %d\n"+
			"  rom patch:     %d\n"+
			"  signature:     %d bytes\n"+
			"  ifwi version:  % x\n",
		a.SizeBytes, formatMarkers(a.Markers), a.Fuph.Magic, a.Fuph.Len,
		a.Fuph.Psfw1Size, a.Fuph.Psfw2Size, a.Fuph.SsfwSize, a.Fuph.RomPatchSize,
		len(a.Signature), a.IfwiVersion,
	)
}

// Report formats an OsImageAnalysis the same way.
func (a *OsImageAnalysis) Report() string {
	if a.Verdict.Kind == VerdictInvalid {
		return fmt.Sprintf("%s: INVALID (%s)\n", a.Path, a.Verdict.Reason)
	}
	return fmt.Sprintf(
		"%s: valid OS image\n"+
			"  size:          %d bytes\n"+
			"  osip pointers: %d\n",
		a.Path, a.SizeBytes, a.Table.NumPointers,
	)
}

func formatMarkers(markers []payload.MarkerOffset) string {
	if len(markers) == 0 {
		return "(none found)"
	}
	out := ""
	for i, m := range markers {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s@%#x", m.Marker, m.Offset)
	}
	return out
}

func analyzeOne(path string) AnalyzeAllResult {
	fw, err := AnalyzeFirmware(path)
	if err == nil && fw.Valid() {
		return AnalyzeAllResult{Path: path, Firmware: fw}
	}

	osImg, osErr := AnalyzeOsImage(path)
	if osErr == nil && osImg.Valid() {
		return AnalyzeAllResult{Path: path, OsImage: osImg}
	}

	if err != nil {
		return AnalyzeAllResult{Path: path, Err: err}
	}
	// Neither parser accepted the file outright; report the firmware
	// analysis anyway since it carries the more informative verdict
	// reason for a malformed-but-present $DnX marker.
	return AnalyzeAllResult{Path: path, Firmware: fw}
}
