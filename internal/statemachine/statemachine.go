// Package statemachine implements the pure DnX transition function: given
// the current state, an ACK, and some advisory context, it decides what
// state follows and what the orchestrator should do about it. It performs
// no I/O.
package statemachine

import "dnx/internal/dnxproto"

// Kind is the tag half of a DnxState.
type Kind int

const (
	Invalid Kind = iota
	FwNormal
	FwMisc
	FwWipe
	// FwAwaitingReenum marks that the device has accepted RESET and is
	// expected to reboot and re-enumerate. The orchestrator must call
	// Reopen once it has a fresh transport to leave this state.
	FwAwaitingReenum
	OsNormal
	OsMisc
	Complete
	Aborted
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "Invalid"
	case FwNormal:
		return "FwNormal"
	case FwMisc:
		return "FwMisc"
	case FwWipe:
		return "FwWipe"
	case FwAwaitingReenum:
		return "FwAwaitingReenum"
	case OsNormal:
		return "OsNormal"
	case OsMisc:
		return "OsMisc"
	case Complete:
		return "Complete"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// AbortReason explains why the machine entered Aborted.
type AbortReason struct {
	// Category is one of "ProtocolViolation", "DeviceError" or "Timeout".
	// Timeout is never produced by Step itself — the orchestrator raises
	// it directly when a read deadline expires — but lives here so every
	// abort reason shares one shape.
	Category string
	// DeviceErrorCode is the ERxx index, or -1 for ERRR and non-device
	// aborts.
	DeviceErrorCode int
	// Ack is the raw ACK bytes that triggered the abort, where relevant.
	Ack []byte
}

// State is the DnxState: a Kind plus, when Kind == Aborted, the reason.
type State struct {
	Kind  Kind
	Abort *AbortReason
}

// ActionKind enumerates what the orchestrator must do in response to a
// transition. The state machine only names the action; it is the
// orchestrator's job (with the session's payloads) to turn that into
// actual bytes on the wire: this package refines the high-level
// send/no-op/complete/abort shape into one concrete tag per wire request
// so the orchestrator never has to guess which payload method to call.
type ActionKind int

const (
	ActionNoOp ActionKind = iota
	ActionSendHandshake
	ActionSendFuphSize
	ActionSendFuphBytes
	ActionSendMip
	ActionSendLofw
	ActionSendHifw
	ActionSendPsfw1Chunk
	ActionSendPsfw2Chunk
	ActionSendSsfwChunk
	ActionSendVedfwChunk
	ActionSendSucpChunk
	ActionAwaitReenum
	ActionSendOsAck
	ActionSendOsipSize
	ActionSendOsipBytes
	ActionSendImageChunk
	ActionAwaitDone
	ActionComplete
	ActionAbort
)

// Action is the second half of a transition's output.
type Action struct {
	Kind  ActionKind
	Abort *AbortReason
}

// Context carries advisory, cross-transition state: the gp-flags byte that
// disambiguates DxxM, whether an OS image was configured for this session,
// and the last SoC identifier the device volunteered. The orchestrator
// owns this value and passes the same instance into every Step call for
// one session.
type Context struct {
	// GPFlags is the gp-flags byte read alongside a DxxM ACK, or nil if
	// the device only sent the bare 4-byte token. An unavailable flags
	// byte defaults to FwNormal.
	GPFlags *byte
	// OsConfigured reports whether this session has an OS image to flash,
	// consulted only when leaving FwAwaitingReenum: with no OS image
	// configured, re-enumeration goes straight to Complete.
	OsConfigured bool
	// SocType records the last MFLD/CLVT advisory ACK seen.
	SocType string
}

// Step computes the next state and action for one (state, ack) pair. It is
// total: every pair not explicitly covered by a known transition maps to
// Aborted{ProtocolViolation}.
func Step(state State, ack dnxproto.AckCode, rawAck []byte, ctx *Context) (State, Action) {
	// Terminal states never transition again: once Complete or Aborted is
	// reached, the session is terminal.
	if state.Kind == Complete || state.Kind == Aborted {
		return state, Action{Kind: ActionNoOp}
	}

	// SoC advisory and device-error ACKs are recognized from any state:
	// MFLD/CLVT just record the SoC type, while ERxx/ERRR always abort.
	switch ack {
	case dnxproto.AckMFLD:
		ctx.SocType = "MFLD"
		return state, Action{Kind: ActionNoOp}
	case dnxproto.AckCLVT:
		ctx.SocType = "CLVT"
		return state, Action{Kind: ActionNoOp}
	case dnxproto.AckHLT0:
		return State{Kind: Complete}, Action{Kind: ActionComplete}
	}
	if ack.IsDeviceError() {
		reason := &AbortReason{Category: "DeviceError", DeviceErrorCode: ack.ErrorIndex(), Ack: rawAck}
		return State{Kind: Aborted, Abort: reason}, Action{Kind: ActionAbort, Abort: reason}
	}

	switch state.Kind {
	case Invalid:
		return stepInvalid(ack, ctx)
	case FwNormal, FwMisc, FwWipe:
		return stepFw(state.Kind, ack)
	case FwAwaitingReenum:
		// No ACK arrives while awaiting re-enumeration; the orchestrator
		// calls Reopen directly once the transport is back.
		return protocolViolation(state, rawAck)
	case OsNormal, OsMisc:
		return stepOs(state.Kind, ack)
	default:
		return protocolViolation(state, rawAck)
	}
}

func stepInvalid(ack dnxproto.AckCode, ctx *Context) (State, Action) {
	switch ack {
	case dnxproto.AckDnER:
		// DnER is the host's own handshake write, never a device ACK; if
		// it somehow loops back it is a protocol violation.
		return protocolViolation(State{Kind: Invalid}, nil)
	case dnxproto.AckDFRM:
		return State{Kind: FwNormal}, Action{Kind: ActionSendHandshake}
	case dnxproto.AckDxxM:
		return State{Kind: dxxmTarget(ctx)}, Action{Kind: ActionSendHandshake}
	default:
		return protocolViolation(State{Kind: Invalid}, nil)
	}
}

// dxxmTarget applies the gp-flags branching the device's non-virgin
// response carries: bit 0 selects FwMisc, bit 1 selects FwWipe, otherwise
// FwNormal; an unavailable flags byte defaults to FwNormal.
func dxxmTarget(ctx *Context) Kind {
	if ctx.GPFlags == nil {
		return FwNormal
	}
	flags := *ctx.GPFlags
	switch {
	case flags&0x01 != 0:
		return FwMisc
	case flags&0x02 != 0:
		return FwWipe
	default:
		return FwNormal
	}
}

func stepFw(kind Kind, ack dnxproto.AckCode) (State, Action) {
	same := State{Kind: kind}
	switch ack {
	case dnxproto.AckDXBL:
		return same, Action{Kind: ActionSendHandshake}
	case dnxproto.AckRUPHS:
		return same, Action{Kind: ActionSendFuphSize}
	case dnxproto.AckRUPH:
		return same, Action{Kind: ActionSendFuphBytes}
	case dnxproto.AckDMIP:
		return same, Action{Kind: ActionSendMip}
	case dnxproto.AckLOFW:
		return same, Action{Kind: ActionSendLofw}
	case dnxproto.AckHIFW:
		return same, Action{Kind: ActionSendHifw}
	case dnxproto.AckPSFW1:
		return same, Action{Kind: ActionSendPsfw1Chunk}
	case dnxproto.AckPSFW2:
		return same, Action{Kind: ActionSendPsfw2Chunk}
	case dnxproto.AckSSFW:
		return same, Action{Kind: ActionSendSsfwChunk}
	case dnxproto.AckVEDFW:
		return same, Action{Kind: ActionSendVedfwChunk}
	case dnxproto.AckSuCP:
		return same, Action{Kind: ActionSendSucpChunk}
	case dnxproto.AckRESET:
		return State{Kind: FwAwaitingReenum}, Action{Kind: ActionAwaitReenum}
	default:
		return protocolViolation(same, nil)
	}
}

func stepOs(kind Kind, ack dnxproto.AckCode) (State, Action) {
	same := State{Kind: kind}
	switch ack {
	case dnxproto.AckDORM:
		return same, Action{Kind: ActionSendOsAck}
	case dnxproto.AckOSIPSz:
		return same, Action{Kind: ActionSendOsipSize}
	case dnxproto.AckROSIP:
		return same, Action{Kind: ActionSendOsipBytes}
	case dnxproto.AckRIMG:
		return same, Action{Kind: ActionSendImageChunk}
	case dnxproto.AckEOIU:
		return same, Action{Kind: ActionAwaitDone}
	case dnxproto.AckDONE, dnxproto.AckHLTDollar:
		return State{Kind: Complete}, Action{Kind: ActionComplete}
	default:
		return protocolViolation(same, nil)
	}
}

// Reopen is called by the orchestrator once a device that issued RESET has
// re-enumerated and a fresh transport is ready: OsNormal if an OS image
// was configured for this session, Complete otherwise. It is not driven
// by an ACK, unlike Step.
func Reopen(ctx *Context) (State, Action) {
	if ctx.OsConfigured {
		return State{Kind: OsNormal}, Action{Kind: ActionNoOp}
	}
	return State{Kind: Complete}, Action{Kind: ActionComplete}
}

func protocolViolation(state State, rawAck []byte) (State, Action) {
	reason := &AbortReason{Category: "ProtocolViolation", DeviceErrorCode: -1, Ack: rawAck}
	return State{Kind: Aborted, Abort: reason}, Action{Kind: ActionAbort, Abort: reason}
}
