package transport

import (
	"bytes"
	"fmt"

	"dnx/internal/dnxproto"
)

// StepKind tags one entry in a ScriptedTransport's script.
type StepKind int

const (
	// StepExpectWrite asserts the next Write call's bytes equal Data
	// exactly.
	StepExpectWrite StepKind = iota
	// StepInjectRead supplies bytes to be returned by subsequent Read/Peek
	// calls.
	StepInjectRead
)

// Step is one entry in a ScriptedTransport's ordered script: an ordered
// list of expected writes and injected reads. The transport fails any
// call that diverges from the next step.
type Step struct {
	Kind StepKind
	Data []byte
}

// ExpectWrite builds a StepExpectWrite step.
func ExpectWrite(data []byte) Step { return Step{Kind: StepExpectWrite, Data: data} }

// InjectRead builds a StepInjectRead step.
func InjectRead(data []byte) Step { return Step{Kind: StepInjectRead, Data: data} }

// ExpectAck is a convenience wrapper: inject the wire bytes for one ACK
// mnemonic.
func ExpectAck(code dnxproto.AckCode) Step { return InjectRead(code.Encode()) }

// ScriptedTransport is the in-memory test backend: it replays a fixed
// script of expected writes and injected reads, failing loudly the moment
// a call doesn't match the next step.
type ScriptedTransport struct {
	steps  []Step
	idx    int
	cursor int
	pb     pushback

	connected bool
	closed    bool
}

// NewScriptedTransport returns a ScriptedTransport that will play steps in
// order.
func NewScriptedTransport(steps []Step) *ScriptedTransport {
	return &ScriptedTransport{steps: steps, connected: true}
}

// Write checks data against the next StepExpectWrite step.
func (s *ScriptedTransport) Write(data []byte) (int, error) {
	if s.idx >= len(s.steps) {
		return 0, fmt.Errorf("scripted transport: unexpected write past end of script: % x", data)
	}
	step := s.steps[s.idx]
	if step.Kind != StepExpectWrite {
		return 0, fmt.Errorf("scripted transport: expected a read at step %d, got write % x", s.idx, data)
	}
	if !bytes.Equal(step.Data, data) {
		return 0, fmt.Errorf("scripted transport: write mismatch at step %d: got % x, want % x", s.idx, data, step.Data)
	}
	s.idx++
	return len(data), nil
}

// Read blocks for exactly n bytes drawn from the current StepInjectRead
// step. Running out of scripted bytes without satisfying n is treated as
// silence from the device and surfaces as a TimeoutError.
func (s *ScriptedTransport) Read(n int) ([]byte, error) {
	return s.pb.read(n, s.deviceRead)
}

func (s *ScriptedTransport) deviceRead(n int) ([]byte, error) {
	if s.idx >= len(s.steps) {
		return nil, &TimeoutError{Op: "read", Timeout: DefaultReadTimeout}
	}
	step := s.steps[s.idx]
	if step.Kind != StepInjectRead {
		return nil, fmt.Errorf("scripted transport: expected a write at step %d, got read(%d)", s.idx, n)
	}
	avail := step.Data[s.cursor:]
	if len(avail) < n {
		return nil, &TimeoutError{Op: "read", Timeout: DefaultReadTimeout}
	}
	out := avail[:n]
	s.cursor += n
	if s.cursor == len(step.Data) {
		s.idx++
		s.cursor = 0
	}
	return out, nil
}

// Peek is the non-blocking lookahead: it reports ok=false rather than an
// error when the current script step can't immediately satisfy n bytes,
// exactly mirroring what a real device declining to extend a token would
// look like.
func (s *ScriptedTransport) Peek(n int) ([]byte, bool) {
	return s.pb.peek(n, func(need int) ([]byte, bool) {
		if s.idx >= len(s.steps) {
			return nil, false
		}
		step := s.steps[s.idx]
		if step.Kind != StepInjectRead {
			return nil, false
		}
		avail := step.Data[s.cursor:]
		if len(avail) < need {
			return nil, false
		}
		out := avail[:need]
		s.cursor += need
		if s.cursor == len(step.Data) {
			s.idx++
			s.cursor = 0
		}
		return out, true
	})
}

// Unread pushes bytes a failed Peek consumed back to the front of the
// stream.
func (s *ScriptedTransport) Unread(b []byte) { s.pb.unread(b) }

// ReadAck decodes exactly one ACK token from the script.
func (s *ScriptedTransport) ReadAck() (dnxproto.AckCode, []byte, error) {
	return ReadAck(s)
}

// IsConnected returns the transport's simulated connectivity state.
func (s *ScriptedTransport) IsConnected() bool { return s.connected && !s.closed }

// Disconnect simulates the device dropping off the bus, e.g. after a
// RESET ACK, ahead of a re-enumeration under a new PID.
func (s *ScriptedTransport) Disconnect() { s.connected = false }

// Done reports whether every step in the script has been consumed.
func (s *ScriptedTransport) Done() bool { return s.idx >= len(s.steps) }

// Close marks the transport closed; scripted transports hold no OS
// resources.
func (s *ScriptedTransport) Close() error {
	s.closed = true
	return nil
}
