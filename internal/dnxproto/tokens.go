// Package dnxproto holds the wire constants, ACK decoder and on-wire header
// format for the Intel DnX recovery protocol.
package dnxproto

// USBVendorID is the Intel VID used by every DnX stage.
const USBVendorID = 0x8086

// Known ROM-stage product IDs. The orchestrator accepts any of these as a
// valid continuation after a FW-stage re-enumeration: the device reboots
// and comes back under a different stage-specific PID from this same
// family.
var ROMProductIDs = []uint16{0x0A14, 0x0A2C, 0x0A65, 0xE004}

// AckCode is the tagged variant over the finite set of ACK tokens a DnX
// device can send. The zero value is not a valid ACK.
type AckCode int

const (
	AckUnknown AckCode = iota
	AckDnER
	AckDFRM
	AckDxxM
	AckDXBL
	AckRUPHS
	AckRUPH
	AckDMIP
	AckLOFW
	AckHIFW
	AckPSFW1
	AckPSFW2
	AckSSFW
	AckVEDFW
	AckSuCP
	AckRESET
	AckHLTDollar
	AckHLT0
	AckMFLD
	AckCLVT
	AckDORM
	AckOSIPSz
	AckROSIP
	AckRIMG
	AckEOIU
	AckDONE
	AckER00
	AckER01
	AckER02
	AckER03
	AckER04
	AckER05
	AckER06
	AckER07
	AckER08
	AckER09
	AckER10
	AckER11
	AckER12
	AckER13
	AckER14
	AckER15
	AckER16
	AckER17
	AckER18
	AckER19
	AckER20
	AckER21
	AckER22
	AckER23
	AckER24
	AckER25
	AckERRR
)

// Encode returns the canonical ASCII bytes for a known AckCode, as they
// appear on the wire. It is the inverse of DecodeAck and exists mainly for
// the scripted test transport and decoder round-trip tests.
func (a AckCode) Encode() []byte {
	return []byte(a.String())
}

// String returns the canonical ASCII mnemonic for a known AckCode, or
// "UNKNOWN" for AckUnknown.
func (a AckCode) String() string {
	if s, ok := mnemonicByCode[a]; ok {
		return s
	}
	return "UNKNOWN"
}

// mnemonicByCode and codeByMnemonic are the bijective mapping tables behind
// the ACK decoder: every canonical mnemonic maps to exactly one AckCode and
// back, so the decoder never has to guess.
var mnemonicByCode = map[AckCode]string{
	AckDnER:   "DnER",
	AckDFRM:   "DFRM",
	AckDxxM:   "DxxM",
	AckDXBL:   "DXBL",
	AckRUPHS:  "RUPHS",
	AckRUPH:   "RUPH",
	AckDMIP:   "DMIP",
	AckLOFW:   "LOFW",
	AckHIFW:   "HIFW",
	AckPSFW1:  "PSFW1",
	AckPSFW2:  "PSFW2",
	AckSSFW:   "SSFW",
	AckVEDFW:  "VEDFW",
	AckSuCP:   "SuCP",
	AckRESET:  "RESET",
	AckHLTDollar:   "HLT$",
	AckHLT0:   "HLT0",
	AckMFLD:   "MFLD",
	AckCLVT:   "CLVT",
	AckDORM:   "DORM",
	AckOSIPSz: "OSIP Sz",
	AckROSIP:  "ROSIP",
	AckRIMG:   "RIMG",
	AckEOIU:   "EOIU",
	AckDONE:   "DONE",
	AckER00:   "ER00",
	AckER01:   "ER01",
	AckER02:   "ER02",
	AckER03:   "ER03",
	AckER04:   "ER04",
	AckER05:   "ER05",
	AckER06:   "ER06",
	AckER07:   "ER07",
	AckER08:   "ER08",
	AckER09:   "ER09",
	AckER10:   "ER10",
	AckER11:   "ER11",
	AckER12:   "ER12",
	AckER13:   "ER13",
	AckER14:   "ER14",
	AckER15:   "ER15",
	AckER16:   "ER16",
	AckER17:   "ER17",
	AckER18:   "ER18",
	AckER19:   "ER19",
	AckER20:   "ER20",
	AckER21:   "ER21",
	AckER22:   "ER22",
	AckER23:   "ER23",
	AckER24:   "ER24",
	AckER25:   "ER25",
	AckERRR:   "ERRR",
}

var codeByMnemonic = func() map[string]AckCode {
	m := make(map[string]AckCode, len(mnemonicByCode))
	for code, mnemonic := range mnemonicByCode {
		m[mnemonic] = code
	}
	return m
}()

// IsDeviceError reports whether code is one of ER00..ER25 or ERRR. A
// device error is fatal and is never retried.
func (a AckCode) IsDeviceError() bool {
	return a == AckERRR || (a >= AckER00 && a <= AckER25)
}

// ErrorIndex returns the numeric suffix of an ERxx code, or -1 for ERRR and
// non-error codes.
func (a AckCode) ErrorIndex() int {
	if a < AckER00 || a > AckER25 {
		return -1
	}
	return int(a - AckER00)
}
