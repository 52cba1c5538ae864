package hidhost

import (
	"encoding/binary"
	"unicode/utf16"
	"unsafe"

	"github.com/neuroplastio/hidhost/pkg/guard"
	"golang.org/x/sys/unix"
)

// USB control request constants for the string descriptor dialog.
const (
	usbDirIn            = 0x80
	usbReqGetDescriptor = 0x06
	usbDescTypeString   = 0x03

	// String descriptors are at most 255 bytes; the original protocol
	// caps the request there too.
	usbStringBufLen = 255

	usbControlTimeoutMS = 1000
)

// ctrlTransfer mirrors struct usbdevfs_ctrltransfer. Field order and the
// trailing pointer alignment must match the kernel layout on both 32-bit
// and 64-bit ABIs.
type ctrlTransfer struct {
	requestType uint8
	request     uint8
	value       uint16
	index       uint16
	length      uint16
	timeout     uint32
	data        unsafe.Pointer
}

func usbdevfsControl() uintptr {
	return iowr('U', 0, unsafe.Sizeof(ctrlTransfer{}))
}

// FetchString retrieves the USB string descriptor at index through a
// two-step control dialog: a language-table probe at index 0 followed by
// the indexed fetch using the first supported language ID. This is a
// best-effort metadata path for values the registry does not expose; the
// traversal to the usb_device node is not guaranteed to exist for every
// transport.
func (r *DeviceRecord) FetchString(index uint8) (string, error) {
	if r.usbPath == "" {
		return "", ErrUnsupported
	}

	fdNum, err := retryEINTR(func() (int, error) {
		return unix.Open(r.usbPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	})
	if err != nil {
		errno, _ := errnoOf(err)
		return "", openError(errno)
	}
	fd := guard.NewFD(fdNum)
	defer fd.Close()

	buf := make([]byte, usbStringBufLen)
	n, err := controlIn(fd.Get(), usbReqGetDescriptor, usbDescTypeString<<8, 0, buf)
	if err != nil {
		return "", err
	}
	if n < 4 {
		return "", &IOError{Op: "get-descriptor", Errno: unix.EPROTO}
	}
	langID := binary.LittleEndian.Uint16(buf[2:4])

	n, err = controlIn(fd.Get(), usbReqGetDescriptor, usbDescTypeString<<8|uint16(index), langID, buf)
	if err != nil {
		return "", err
	}
	return decodeUSBString(buf[:n]), nil
}

func controlIn(fd int, request uint8, value, index uint16, buf []byte) (int, error) {
	ctrl := ctrlTransfer{
		requestType: usbDirIn,
		request:     request,
		value:       value,
		index:       index,
		length:      uint16(len(buf)),
		timeout:     usbControlTimeoutMS,
		data:        unsafe.Pointer(&buf[0]),
	}
	n, err := doIoctl(fd, usbdevfsControl(), unsafe.Pointer(&ctrl))
	if err != nil {
		errno, _ := errnoOf(err)
		return 0, ioError("control-transfer", errno)
	}
	return n, nil
}

// decodeUSBString converts a string descriptor payload to UTF-8. The
// descriptor starts with a two-byte header (length, type); the rest is
// UTF-16LE character data read until a terminating zero character.
func decodeUSBString(desc []byte) string {
	if len(desc) < 2 {
		return ""
	}
	payload := desc[2:]
	if hdr := int(desc[0]); hdr >= 2 && hdr-2 < len(payload) {
		payload = payload[:hdr-2]
	}
	units := make([]uint16, 0, len(payload)/2)
	for i := 0; i+1 < len(payload); i += 2 {
		u := binary.LittleEndian.Uint16(payload[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
