package hidhost

import (
	"fmt"

	"github.com/neuroplastio/hidhost/pkg/hiddesc"
)

// DeviceIdentity identifies a hardware model. It does not distinguish two
// physical units of the same model; Serial on the DeviceRecord does that
// when the device exposes one.
type DeviceIdentity struct {
	BusType   uint16
	VendorID  uint16
	ProductID uint16
	// Version is the device release number in BCD (bcdDevice). Zero when
	// the transport does not expose it.
	Version uint16
}

func (id DeviceIdentity) String() string {
	return fmt.Sprintf("%04x:%04x", id.VendorID, id.ProductID)
}

// DeviceRecord describes one discovered HID device. Records are created
// during enumeration and are immutable afterwards; when the device
// disappears its Syspath simply stops resolving.
type DeviceRecord struct {
	DeviceIdentity

	// Manufacturer, Product and Serial are best-effort metadata. An empty
	// string means the device or transport does not expose the value; it
	// is a valid state, not an error.
	Manufacturer string
	Product      string
	Serial       string

	// MaxInputLen, MaxOutputLen and MaxFeatureLen are the advertised
	// maximum report lengths in bytes, including the leading Report ID
	// byte of the exchange framing. Zero means the capability is absent.
	MaxInputLen   int
	MaxOutputLen  int
	MaxFeatureLen int

	// UsesReportID is true if any element of the report descriptor
	// carries a nonzero Report ID.
	UsesReportID bool

	// ReportDescriptor is the raw descriptor blob. Nil when the registry
	// did not expose it; callers must tolerate that.
	ReportDescriptor []byte

	// Path is the device node used for report I/O.
	Path string
	// Syspath is the registry path the record was resolved from.
	Syspath string

	// usbPath is the usb_device node used for control transfers. Empty
	// when the device has no resolvable USB parent (e.g. Bluetooth HID).
	usbPath string
}

// advertisedLength converts one registry-reported maximum into the length
// advertised to callers. Callers always exchange frames as
// [ReportID][payload...], so when the device does not use Report IDs the
// registry value is short by the one prefix byte it never counts. A
// capability with no elements is absent and advertises zero regardless of
// what the registry reported.
func advertisedLength(raw int, cap hiddesc.Capability, usesReportID bool) int {
	if !cap.Present {
		return 0
	}
	if usesReportID || raw == 0 {
		return raw
	}
	return raw + 1
}

// applyFraming fills the advertised lengths and framing flag of a record
// from registry-reported raw lengths and the element survey.
func applyFraming(r *DeviceRecord, rawInput, rawOutput, rawFeature int, s hiddesc.Survey) {
	r.UsesReportID = s.UsesReportID
	r.MaxInputLen = advertisedLength(rawInput, s.Input, s.UsesReportID)
	r.MaxOutputLen = advertisedLength(rawOutput, s.Output, s.UsesReportID)
	r.MaxFeatureLen = advertisedLength(rawFeature, s.Feature, s.UsesReportID)
}
