package dnxproto

import (
	"bytes"
	"errors"
	"testing"
)

// fakeReader is a minimal in-memory ByteReader over a byte stream, used to
// exercise DecodeAck without a real transport.
type fakeReader struct {
	buf []byte
}

func (f *fakeReader) Read(n int) ([]byte, error) {
	if len(f.buf) < n {
		return nil, errors.New("fakeReader: underflow")
	}
	out := f.buf[:n]
	f.buf = f.buf[n:]
	return out, nil
}

func (f *fakeReader) Peek(n int) ([]byte, bool) {
	if len(f.buf) < n {
		return nil, false
	}
	out := f.buf[:n]
	f.buf = f.buf[n:]
	return out, true
}

func (f *fakeReader) Unread(b []byte) {
	f.buf = append(append([]byte{}, b...), f.buf...)
}

func TestDecodeAckBijection(t *testing.T) {
	for code, mnemonic := range mnemonicByCode {
		r := &fakeReader{buf: []byte(mnemonic)}
		got, raw, err := DecodeAck(r)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", mnemonic, err)
		}
		if got != code {
			t.Errorf("%s: decoded as %v, want %v", mnemonic, got, code)
		}
		if string(raw) != mnemonic {
			t.Errorf("%s: raw bytes %q, want %q", mnemonic, raw, mnemonic)
		}
		if len(r.buf) != 0 {
			t.Errorf("%s: %d trailing bytes not consumed", mnemonic, len(r.buf))
		}
	}
}

func TestDecodeAckUnknown(t *testing.T) {
	r := &fakeReader{buf: []byte("DEAD")}
	got, raw, err := DecodeAck(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != AckUnknown {
		t.Errorf("got %v, want AckUnknown", got)
	}
	if !bytes.Equal(raw, []byte("DEAD")) {
		t.Errorf("raw = %q, want DEAD", raw)
	}
}

func TestDecodeAckRuphVsRuphsDisambiguation(t *testing.T) {
	// RUPH and RUPHS share a 4-byte prefix; back-to-back decoding both
	// from one stream must not cross-contaminate.
	r := &fakeReader{buf: []byte("RUPHRUPHS")}

	first, _, err := DecodeAck(r)
	if err != nil {
		t.Fatalf("first decode: %v", err)
	}
	if first != AckRUPH {
		t.Errorf("first = %v, want AckRUPH", first)
	}

	second, _, err := DecodeAck(r)
	if err != nil {
		t.Fatalf("second decode: %v", err)
	}
	if second != AckRUPHS {
		t.Errorf("second = %v, want AckRUPHS", second)
	}
	if len(r.buf) != 0 {
		t.Errorf("%d trailing bytes not consumed", len(r.buf))
	}
}

func TestDecodeAckSevenByteFamily(t *testing.T) {
	r := &fakeReader{buf: []byte("OSIP Sz")}
	got, _, err := DecodeAck(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != AckOSIPSz {
		t.Errorf("got %v, want AckOSIPSz", got)
	}
}

func TestAckCodeIsDeviceError(t *testing.T) {
	cases := []struct {
		code AckCode
		want bool
	}{
		{AckER00, true},
		{AckER25, true},
		{AckERRR, true},
		{AckDONE, false},
		{AckRUPH, false},
	}
	for _, c := range cases {
		if got := c.code.IsDeviceError(); got != c.want {
			t.Errorf("%v.IsDeviceError() = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestAckCodeErrorIndex(t *testing.T) {
	if got := AckER07.ErrorIndex(); got != 7 {
		t.Errorf("AckER07.ErrorIndex() = %d, want 7", got)
	}
	if got := AckERRR.ErrorIndex(); got != -1 {
		t.Errorf("AckERRR.ErrorIndex() = %d, want -1", got)
	}
}
