package session

import (
	"encoding/binary"
	"testing"

	"dnx/internal/dnxproto"
	"dnx/internal/payload"
	"dnx/internal/transport"
)

// buildMinimalFirmware assembles a small well-formed dnx_fwr.bin-shaped
// image, mirroring internal/payload's own test fixture, so session tests
// don't need a real Intel firmware blob either.
func buildMinimalFirmware(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 0x188)
	copy(buf[0x80:], []byte("$DnX"))
	buf = append(buf, []byte("$CHT")...)
	fuph := make([]byte, 0x1C)
	binary.LittleEndian.PutUint32(fuph[0x0C:0x10], 10)
	binary.LittleEndian.PutUint32(fuph[0x10:0x14], 10)
	binary.LittleEndian.PutUint32(fuph[0x14:0x18], 10)
	binary.LittleEndian.PutUint32(fuph[0x18:0x1C], 10)
	buf = append(buf, fuph...)
	buf = append(buf, []byte("CH00")...)
	buf = append(buf, make([]byte, 200)...)
	buf = append(buf, []byte("CDPH")...)
	return buf
}

func recordingObserver(t *testing.T) (Observer, *[]Event) {
	var events []Event
	return ObserverFunc(func(e Event) {
		t.Logf("event: %#v", e)
		events = append(events, e)
	}), &events
}

func TestSessionVirginFlashHappyPath(t *testing.T) {
	raw := buildMinimalFirmware(t)
	fw, err := payload.NewFirmwarePayload(raw)
	if err != nil {
		t.Fatalf("NewFirmwarePayload: %v", err)
	}

	st := transport.NewScriptedTransport([]transport.Step{
		transport.ExpectWrite(dnxproto.AckDnER.Encode()),
		transport.ExpectAck(dnxproto.AckDFRM),
		transport.ExpectWrite(fw.Handshake()),
		transport.ExpectAck(dnxproto.AckDXBL),
		transport.ExpectWrite(fw.Handshake()),
		transport.ExpectAck(dnxproto.AckRUPHS),
		transport.ExpectWrite(fw.FuphSize()),
		transport.ExpectAck(dnxproto.AckRUPH),
		transport.ExpectWrite(fw.FuphBytes()),
		transport.ExpectAck(dnxproto.AckLOFW),
		transport.ExpectWrite(fw.Lofw()),
		transport.ExpectAck(dnxproto.AckHIFW),
		transport.ExpectWrite(fw.Hifw()),
		transport.ExpectAck(dnxproto.AckRESET),
	})

	obs, events := recordingObserver(t)
	sess := New(Config{
		Transport: st,
		Firmware:  fw,
		Observers: []Observer{obs},
		Reopen: func() (transport.Transport, error) {
			return transport.NewScriptedTransport(nil), nil
		},
	})

	if err := sess.Run(0x8086, 0x0A14); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var sawComplete bool
	for _, e := range *events {
		if _, ok := e.(CompleteEvent); ok {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Error("expected a CompleteEvent")
	}
}

func TestSessionDeviceErrorMidStreamAborts(t *testing.T) {
	raw := buildMinimalFirmware(t)
	fw, err := payload.NewFirmwarePayload(raw)
	if err != nil {
		t.Fatalf("NewFirmwarePayload: %v", err)
	}

	st := transport.NewScriptedTransport([]transport.Step{
		transport.ExpectWrite(dnxproto.AckDnER.Encode()),
		transport.ExpectAck(dnxproto.AckDFRM),
		transport.ExpectWrite(fw.Handshake()),
		transport.ExpectAck(dnxproto.AckRUPHS),
		transport.ExpectWrite(fw.FuphSize()),
		transport.InjectRead([]byte("ER07")),
	})

	obs, events := recordingObserver(t)
	sess := New(Config{Transport: st, Firmware: fw, Observers: []Observer{obs}})

	if err := sess.Run(0x8086, 0x0A14); err == nil {
		t.Fatal("expected an error from a device error mid-stream")
	}

	var errEvent *ErrorEvent
	for i := range *events {
		if e, ok := (*events)[i].(ErrorEvent); ok {
			errEvent = &e
		}
	}
	if errEvent == nil {
		t.Fatal("expected an ErrorEvent")
	}
	if errEvent.Code != "DeviceError" {
		t.Errorf("ErrorEvent.Code = %q, want DeviceError", errEvent.Code)
	}
}

func TestSessionUnknownAckIsProtocolViolation(t *testing.T) {
	raw := buildMinimalFirmware(t)
	fw, _ := payload.NewFirmwarePayload(raw)

	st := transport.NewScriptedTransport([]transport.Step{
		transport.ExpectWrite(dnxproto.AckDnER.Encode()),
		transport.ExpectAck(dnxproto.AckDFRM),
		transport.ExpectWrite(fw.Handshake()),
		transport.InjectRead([]byte("DEAD")),
	})

	sess := New(Config{Transport: st, Firmware: fw})
	if err := sess.Run(0x8086, 0x0A14); err == nil {
		t.Fatal("expected an error for an unknown ACK")
	}
}

func TestSessionZeroSizeFirmwareCompletesWithoutBody(t *testing.T) {
	fw, err := payload.NewFirmwarePayload(nil)
	if err != nil {
		t.Fatalf("NewFirmwarePayload(nil): %v", err)
	}

	st := transport.NewScriptedTransport([]transport.Step{
		transport.ExpectWrite(dnxproto.AckDnER.Encode()),
		transport.ExpectAck(dnxproto.AckDFRM),
		transport.ExpectWrite(fw.Handshake()),
		transport.InjectRead([]byte("HLT0")),
	})

	sess := New(Config{Transport: st, Firmware: fw})
	if err := sess.Run(0x8086, 0x0A14); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSessionReadTimeoutAborts(t *testing.T) {
	raw := buildMinimalFirmware(t)
	fw, _ := payload.NewFirmwarePayload(raw)

	st := transport.NewScriptedTransport([]transport.Step{
		transport.ExpectWrite(dnxproto.AckDnER.Encode()),
		// No injected read follows: silence.
	})

	sess := New(Config{Transport: st, Firmware: fw})
	if err := sess.Run(0x8086, 0x0A14); err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestSessionCancelledMidRun(t *testing.T) {
	raw := buildMinimalFirmware(t)
	fw, _ := payload.NewFirmwarePayload(raw)

	st := transport.NewScriptedTransport([]transport.Step{
		transport.ExpectWrite(dnxproto.AckDnER.Encode()),
		transport.ExpectAck(dnxproto.AckDFRM),
	})

	cancel := &CancelFlag{}
	cancel.Cancel()
	sess := New(Config{Transport: st, Firmware: fw, Cancel: cancel})
	if err := sess.Run(0x8086, 0x0A14); err == nil {
		t.Fatal("expected an error from a pre-cancelled session")
	}
}
