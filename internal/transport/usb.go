//go:build !mips && !mipsle

package transport

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/gousb"

	"dnx/internal/dnxproto"
)

// USB bulk endpoint addresses used by every DnX stage (ROM, FW and OS).
const (
	EndpointOut = 0x01
	EndpointIn  = 0x81
)

// peekTimeout bounds how long a Peek waits for the one disambiguating
// byte between RUPH and RUPHS (and similar prefix collisions). It is far
// shorter than DefaultReadTimeout because Peek must behave as a
// non-blocking lookahead, not a second full read: it exists only to
// resolve prefix collisions in the ACK token table.
const peekTimeout = 200 * time.Millisecond

// USBTransport drives one DnX device over raw USB bulk endpoints via
// gousb, bypassing any OS-provided serial/CDC abstraction the device may
// also expose: open the device, claim its interface, then read and write
// its bulk endpoints directly.
type USBTransport struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint

	readTimeout time.Duration
	pb          pushback
}

// Open claims the first device matching vid:pid and returns a ready
// USBTransport. It accepts any of ROMProductIDs as a continuation PID so
// the orchestrator can reopen after a RESET re-enumeration without caring
// which ROM-stage PID the device came back as after rebooting.
func Open(vid, pid uint16) (*USBTransport, error) {
	ctx := gousb.NewContext()

	device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, &IoError{Op: "open", Cause: err}
	}
	if device == nil {
		ctx.Close()
		return nil, &DisconnectedError{Cause: fmt.Errorf("no device at VID:0x%04x PID:0x%04x", vid, pid)}
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, &IoError{Op: "set config", Cause: err}
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, &IoError{Op: "claim interface", Cause: err}
	}

	epOut, err := intf.OutEndpoint(EndpointOut)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, &IoError{Op: "open OUT endpoint", Cause: err}
	}

	epIn, err := intf.InEndpoint(EndpointIn)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, &IoError{Op: "open IN endpoint", Cause: err}
	}

	log.Printf("transport: opened DnX device VID:0x%04x PID:0x%04x", vid, pid)
	return &USBTransport{
		ctx:         ctx,
		device:      device,
		config:      config,
		intf:        intf,
		epOut:       epOut,
		epIn:        epIn,
		readTimeout: DefaultReadTimeout,
	}, nil
}

// SetReadTimeout overrides the default 5 s read deadline, used by the
// session orchestrator for the longer initial-handshake window.
func (t *USBTransport) SetReadTimeout(d time.Duration) { t.readTimeout = d }

// Write sends data over the OUT endpoint, retrying on short writes until
// every byte is enqueued, retrying on any short write.
func (t *USBTransport) Write(data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := t.epOut.Write(data[total:])
		if err != nil {
			return total, &IoError{Op: "write", Cause: err}
		}
		if n == 0 {
			return total, &IoError{Op: "write", Cause: fmt.Errorf("zero-length write with %d bytes remaining", len(data)-total)}
		}
		total += n
	}
	return total, nil
}

// Read blocks until exactly n bytes are received or the configured
// timeout elapses.
func (t *USBTransport) Read(n int) ([]byte, error) {
	return t.pb.read(n, t.deviceRead)
}

func (t *USBTransport) deviceRead(n int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.readTimeout)
	defer cancel()

	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := t.epIn.ReadContext(ctx, buf[got:])
		if err != nil {
			if ctx.Err() != nil {
				return nil, &TimeoutError{Op: "read", Timeout: t.readTimeout}
			}
			return nil, &IoError{Op: "read", Cause: err}
		}
		got += m
	}
	return buf, nil
}

// Peek is a short-window, best-effort lookahead used only to resolve
// prefix collisions in the ACK token table. It never blocks for the full
// read timeout.
func (t *USBTransport) Peek(n int) ([]byte, bool) {
	return t.pb.peek(n, func(need int) ([]byte, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), peekTimeout)
		defer cancel()
		buf := make([]byte, need)
		got := 0
		for got < need {
			m, err := t.epIn.ReadContext(ctx, buf[got:])
			if err != nil {
				return nil, false
			}
			got += m
		}
		return buf, true
	})
}

// Unread pushes bytes a failed Peek consumed back to the front of the
// stream.
func (t *USBTransport) Unread(b []byte) { t.pb.unread(b) }

// ReadAck decodes exactly one ACK token from the device.
func (t *USBTransport) ReadAck() (dnxproto.AckCode, []byte, error) {
	return ReadAck(t)
}

// IsConnected performs a transient liveness check by re-reading the
// device's descriptor; it is not authoritative, since USB may drop
// between any two checks.
func (t *USBTransport) IsConnected() bool {
	if t.device == nil {
		return false
	}
	_, err := t.device.SerialNumber()
	return err == nil
}

// Close releases the USB interface, config, device and context, closing
// from the most to least specific handle.
func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
	}
	if t.config != nil {
		t.config.Close()
	}
	if t.device != nil {
		t.device.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	return nil
}
