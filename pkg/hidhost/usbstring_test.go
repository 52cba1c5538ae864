package hidhost

import (
	"encoding/binary"
	"testing"
)

func TestDecodeUSBString(t *testing.T) {
	// Descriptor for "ABC" followed by a terminating zero character, the
	// way a device answering language ID 0x0409 would return it.
	desc := []byte{
		0x0a, 0x03,
		'A', 0x00,
		'B', 0x00,
		'C', 0x00,
		0x00, 0x00,
	}
	if got := decodeUSBString(desc); got != "ABC" {
		t.Fatalf("decoded %q, want %q", got, "ABC")
	}
}

func TestDecodeUSBStringNoTerminator(t *testing.T) {
	desc := []byte{0x08, 0x03, 'H', 0x00, 'i', 0x00, '!', 0x00}
	if got := decodeUSBString(desc); got != "Hi!" {
		t.Fatalf("decoded %q, want %q", got, "Hi!")
	}
}

func TestDecodeUSBStringHeaderClampsPayload(t *testing.T) {
	// bLength says 6 even though the transfer returned more bytes; the
	// extra bytes are not part of the string.
	desc := []byte{0x06, 0x03, 'O', 0x00, 'K', 0x00, 'x', 0x00, 'y', 0x00}
	if got := decodeUSBString(desc); got != "OK" {
		t.Fatalf("decoded %q, want %q", got, "OK")
	}
}

func TestDecodeUSBStringNonASCII(t *testing.T) {
	desc := make([]byte, 2+2*2)
	desc[0] = byte(len(desc))
	desc[1] = 0x03
	binary.LittleEndian.PutUint16(desc[2:], 0x00e9) // é
	binary.LittleEndian.PutUint16(desc[4:], 0x0021) // !
	if got := decodeUSBString(desc); got != "é!" {
		t.Fatalf("decoded %q, want %q", got, "é!")
	}
}

func TestDecodeUSBStringShort(t *testing.T) {
	if got := decodeUSBString(nil); got != "" {
		t.Fatalf("decoded %q from nil descriptor", got)
	}
	if got := decodeUSBString([]byte{0x02}); got != "" {
		t.Fatalf("decoded %q from truncated descriptor", got)
	}
}

func TestFetchStringWithoutUSBParent(t *testing.T) {
	rec := &DeviceRecord{}
	if _, err := rec.FetchString(3); err != ErrUnsupported {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}
