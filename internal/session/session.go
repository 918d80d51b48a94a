// Package session drives one DnX flash end to end: open transport, read
// ack, step the state machine, execute the resulting action, report
// progress, repeat until terminal.
package session

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"dnx/internal/dnxproto"
	"dnx/internal/payload"
	"dnx/internal/statemachine"
	"dnx/internal/transport"
)

// reopenAttempts and reopenSpacing bound the retry loop the session runs
// against the Reopener after a RESET re-enumeration.
const (
	reopenAttempts = 10
	reopenSpacing  = 500 * time.Millisecond
)

// CancelFlag is the cooperative cancellation token: the caller sets it,
// the session polls it between transport calls, and a cancel mid-write is
// not interrupted but aborts before the next read.
type CancelFlag struct {
	flag atomic.Bool
}

// Cancel requests that the session stop at its next poll point.
func (c *CancelFlag) Cancel() { c.flag.Store(true) }

// Cancelled reports whether Cancel has been called.
func (c *CancelFlag) Cancelled() bool { return c.flag.Load() }

// Reopener reopens the transport after a RESET re-enumeration, returning a
// fresh Transport bound to whatever PID the device came back as.
type Reopener func() (transport.Transport, error)

// Session owns one transport and the payloads it will serve from for the
// duration of one flash. Sessions are not shareable: exactly one state
// machine runs per transport.
type Session struct {
	transport transport.Transport
	reopen    Reopener

	firmware *payload.FirmwarePayload
	os       *payload.OsPayload

	observers []Observer
	cancel    *CancelFlag

	state statemachine.State
	ctx   statemachine.Context

	bytesTransferred int64
}

// Config bundles the inputs a Session needs; New takes it by value so
// callers can build it field by field.
type Config struct {
	Transport transport.Transport
	Reopen    Reopener
	Firmware  *payload.FirmwarePayload
	// Os is nil when no OS image was configured for this run: the session
	// goes straight to Complete after the firmware stage re-enumerates
	// instead of proceeding into the OS stages.
	Os        *payload.OsPayload
	Observers []Observer
	Cancel    *CancelFlag
	VendorID  uint16
	ProductID uint16
}

// New builds a Session ready to Run.
func New(cfg Config) *Session {
	cancel := cfg.Cancel
	if cancel == nil {
		cancel = &CancelFlag{}
	}
	return &Session{
		transport: cfg.Transport,
		reopen:    cfg.Reopen,
		firmware:  cfg.Firmware,
		os:        cfg.Os,
		observers: cfg.Observers,
		cancel:    cancel,
		state:     statemachine.State{Kind: statemachine.Invalid},
		ctx:       statemachine.Context{OsConfigured: cfg.Os != nil},
	}
}

func (s *Session) emit(e Event) {
	for _, o := range s.observers {
		o.Notify(e)
	}
}

func (s *Session) logf(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("session: %s", msg)
	s.emit(LogEvent{Level: level, Message: msg})
}

// Run drives the session to completion. It returns nil on success
// (Complete reached) and a non-nil error describing the abort reason
// otherwise. The returned error is one of *transport.TimeoutError,
// *transport.IoError, *transport.DisconnectedError, *AbortedError or
// *CancelledError, so a caller can categorize the failure with errors.As
// without parsing its message.
func (s *Session) Run(vendorID, productID uint16) error {
	s.emit(DeviceConnectedEvent{VendorID: vendorID, ProductID: productID})

	if _, err := s.transport.Write(dnxproto.AckDnER.Encode()); err != nil {
		return s.failTransport(err)
	}

	for {
		if s.cancel.Cancelled() {
			return s.failCancelled()
		}

		if s.state.Kind == statemachine.FwAwaitingReenum {
			if err := s.reopenAfterReset(); err != nil {
				return err
			}
			switch s.state.Kind {
			case statemachine.Complete:
				s.emit(CompleteEvent{})
				return nil
			case statemachine.Aborted:
				return s.failAborted(s.state)
			}
			continue
		}

		ack, raw, err := s.transport.ReadAck()
		if err != nil {
			return s.failTransportError(err)
		}

		if ack == dnxproto.AckDxxM {
			if flags, ok := s.transport.Peek(1); ok {
				f := flags[0]
				s.ctx.GPFlags = &f
			}
		}

		prev := s.state
		next, action := statemachine.Step(s.state, ack, raw, &s.ctx)
		s.state = next
		if next.Kind != prev.Kind {
			s.emit(StateChangedEvent{From: prev.Kind.String(), To: next.Kind.String()})
		}

		if err := s.execute(action, ack); err != nil {
			return err
		}

		switch next.Kind {
		case statemachine.Complete:
			s.emit(CompleteEvent{})
			return nil
		case statemachine.Aborted:
			return s.failAborted(next)
		}
	}
}

func (s *Session) reopenAfterReset() error {
	s.emit(DeviceDisconnectedEvent{})
	s.transport.Close()

	var lastErr error
	for attempt := 0; attempt < reopenAttempts; attempt++ {
		if s.cancel.Cancelled() {
			return s.failCancelled()
		}
		t, err := s.reopen()
		if err == nil {
			s.transport = t
			s.logf("info", "reopened transport after RESET (attempt %d)", attempt+1)
			next, action := statemachine.Reopen(&s.ctx)
			prev := s.state
			s.state = next
			if next.Kind != prev.Kind {
				s.emit(StateChangedEvent{From: prev.Kind.String(), To: next.Kind.String()})
			}
			return s.execute(action, dnxproto.AckUnknown)
		}
		lastErr = err
		time.Sleep(reopenSpacing)
	}
	return s.failTransport(lastErr)
}

// execute maps one statemachine.Action onto concrete transport traffic,
// consulting whichever payload is authoritative for the action.
func (s *Session) execute(a statemachine.Action, ack dnxproto.AckCode) error {
	switch a.Kind {
	case statemachine.ActionNoOp, statemachine.ActionAwaitReenum, statemachine.ActionAwaitDone:
		return nil

	case statemachine.ActionComplete:
		return nil

	case statemachine.ActionAbort:
		return nil // the caller inspects s.state; nothing to send.

	case statemachine.ActionSendHandshake:
		return s.writeAndCount("firmware", s.firmware.Handshake())

	case statemachine.ActionSendFuphSize:
		return s.writeAndCount("fuph-size", s.firmware.FuphSize())

	case statemachine.ActionSendFuphBytes:
		return s.writeAndCount("fuph", s.firmware.FuphBytes())

	case statemachine.ActionSendMip:
		return s.writeAndCount("mip", s.firmware.Mip())

	case statemachine.ActionSendLofw:
		return s.writeAndCount("lofw", s.firmware.Lofw())

	case statemachine.ActionSendHifw:
		return s.writeAndCount("hifw", s.firmware.Hifw())

	case statemachine.ActionSendPsfw1Chunk:
		return s.writeChunk("psfw1", s.firmware.NextPsfw1)
	case statemachine.ActionSendPsfw2Chunk:
		return s.writeChunk("psfw2", s.firmware.NextPsfw2)
	case statemachine.ActionSendSsfwChunk:
		return s.writeChunk("ssfw", s.firmware.NextSsfw)
	case statemachine.ActionSendVedfwChunk:
		return s.writeChunk("vedfw", s.firmware.NextVedfw)
	case statemachine.ActionSendSucpChunk:
		return s.writeChunk("sucp", s.firmware.NextSucp)

	case statemachine.ActionSendOsAck:
		return nil // DORM is acknowledged implicitly by reading the next ACK.

	case statemachine.ActionSendOsipSize:
		return s.writeAndCount("osip-size", s.os.OsipSize())

	case statemachine.ActionSendOsipBytes:
		return s.writeAndCount("osip", s.os.OsipTable())

	case statemachine.ActionSendImageChunk:
		return s.writeChunk("os-image", s.os.NextImageChunk)

	default:
		return nil
	}
}

func (s *Session) writeAndCount(phase string, body []byte) error {
	n, err := s.transport.Write(body)
	if err != nil {
		return s.failTransport(err)
	}
	s.bytesTransferred += int64(n)
	s.emit(ProgressEvent{Phase: phase, Current: s.bytesTransferred, Total: s.bytesTransferred})
	return nil
}

func (s *Session) writeChunk(phase string, next func() ([]byte, bool)) error {
	chunk, ok := next()
	if !ok {
		return nil
	}
	return s.writeAndCount(phase, chunk)
}

func (s *Session) failTransport(err error) error {
	s.emit(ErrorEvent{Code: "IoError", Message: err.Error(), State: s.state.Kind.String(), BytesTransferred: s.bytesTransferred})
	return err
}

func (s *Session) failTransportError(err error) error {
	var timeout *transport.TimeoutError
	if errors.As(err, &timeout) {
		s.emit(ErrorEvent{Code: "Timeout", Message: err.Error(), State: s.state.Kind.String(), BytesTransferred: s.bytesTransferred})
		return err
	}
	var disconnected *transport.DisconnectedError
	if errors.As(err, &disconnected) {
		s.emit(ErrorEvent{Code: "Disconnected", Message: err.Error(), State: s.state.Kind.String(), BytesTransferred: s.bytesTransferred})
		return err
	}
	return s.failTransport(err)
}

func (s *Session) failAborted(state statemachine.State) error {
	reason := state.Abort
	code := "ProtocolViolation"
	msg := "protocol violation"
	deviceErrorCode := -1
	if reason != nil {
		code = reason.Category
		deviceErrorCode = reason.DeviceErrorCode
		if reason.Category == "DeviceError" {
			msg = fmt.Sprintf("device error %d", reason.DeviceErrorCode)
		} else {
			msg = reason.Category
		}
	}
	s.emit(ErrorEvent{Code: code, Message: msg, State: state.Kind.String(), BytesTransferred: s.bytesTransferred})
	return &AbortedError{Category: code, DeviceErrorCode: deviceErrorCode, Message: msg}
}

func (s *Session) failCancelled() error {
	s.emit(ErrorEvent{Code: "Cancelled", Message: "session cancelled", State: s.state.Kind.String(), BytesTransferred: s.bytesTransferred})
	return &CancelledError{}
}

// AbortedError reports that the state machine reached a terminal Aborted
// state, either because the device violated the protocol (an unexpected
// or unknown ACK for the current state) or because it reported a device
// error (ERxx/ERRR). Category is "ProtocolViolation" or "DeviceError".
type AbortedError struct {
	Category        string
	DeviceErrorCode int
	Message         string
}

func (e *AbortedError) Error() string { return "session: aborted: " + e.Message }

// CancelledError reports that the session stopped because its CancelFlag
// was set.
type CancelledError struct{}

func (e *CancelledError) Error() string { return "session: cancelled" }

