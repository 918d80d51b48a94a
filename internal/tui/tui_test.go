package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"dnx/internal/session"
)

func TestApplyTracksStateAndBytes(t *testing.T) {
	m := New(nil, nil)

	m.apply(session.DeviceConnectedEvent{VendorID: 0x8086, ProductID: 0x0a65})
	if !m.connected || m.vendorID != 0x8086 || m.productID != 0x0a65 {
		t.Fatalf("expected connected device fields to be recorded, got %+v", m)
	}

	m.apply(session.StateChangedEvent{From: "Invalid", To: "FwNormal"})
	if m.state != "FwNormal" {
		t.Fatalf("expected state FwNormal, got %s", m.state)
	}

	m.apply(session.ProgressEvent{Phase: "lofw", Current: 128, Total: 256})
	if m.bytesCurrent != 128 || m.bytesTotal != 256 || m.phase != "lofw" {
		t.Fatalf("expected progress fields recorded, got %+v", m)
	}

	m.apply(session.CompleteEvent{})
	if !m.done {
		t.Fatal("expected done=true after CompleteEvent")
	}
}

func TestApplyRecordsLastError(t *testing.T) {
	m := New(nil, nil)
	m.apply(session.ErrorEvent{Code: "DeviceError", Message: "device error 7", State: "FwNormal", BytesTransferred: 42})

	if m.lastError == nil || m.lastError.Code != "DeviceError" || m.lastError.BytesTransferred != 42 {
		t.Fatalf("expected lastError populated, got %+v", m.lastError)
	}
}

func TestLogLinesAreBounded(t *testing.T) {
	m := New(nil, nil)
	for i := 0; i < maxLogLines+50; i++ {
		m.appendLog("line")
	}
	if len(m.logLines) != maxLogLines {
		t.Fatalf("expected log ring buffer capped at %d, got %d", maxLogLines, len(m.logLines))
	}
}

func TestQuitKeyCancelsAndQuits(t *testing.T) {
	cancel := &session.CancelFlag{}
	m := New(nil, cancel)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !cancel.Cancelled() {
		t.Fatal("expected ctrl+c to set the cancel flag")
	}
	if cmd == nil {
		t.Fatal("expected a tea.Quit command")
	}
}

func TestObserverForwardsEventsToChannel(t *testing.T) {
	obs, ch := Observer(4)

	obs.Notify(session.CompleteEvent{})

	select {
	case e := <-ch:
		if _, ok := e.(session.CompleteEvent); !ok {
			t.Fatalf("expected CompleteEvent, got %T", e)
		}
	default:
		t.Fatal("expected the event to be buffered on the channel")
	}
}

func TestViewRendersWithoutPanicking(t *testing.T) {
	m := New(nil, nil)
	m.apply(session.StateChangedEvent{From: "Invalid", To: "FwNormal"})
	m.apply(session.ProgressEvent{Phase: "lofw", Current: 10, Total: 20})

	out := m.View()
	if out == "" {
		t.Fatal("expected non-empty view output")
	}
}
