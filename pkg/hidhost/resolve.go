package hidhost

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jochenvg/go-udev"
	"github.com/neuroplastio/hidhost/pkg/hiddesc"
)

// Well-known registry key names. These are interned once for the lifetime
// of the process and never released; every registry lookup in this
// package goes through this table rather than ad-hoc literals.
var registryKeys = struct {
	hidID   string // bus:vendor:product triple on the hid parent
	hidName string // kernel-reported device name
	hidUniq string // transport-level unique id (serial)

	usbManufacturer string
	usbProduct      string
	usbSerial       string
	usbVersion      string

	reportDescriptor string
}{
	hidID:   "HID_ID",
	hidName: "HID_NAME",
	hidUniq: "HID_UNIQ",

	usbManufacturer: "manufacturer",
	usbProduct:      "product",
	usbSerial:       "serial",
	usbVersion:      "bcdDevice",

	reportDescriptor: "report_descriptor",
}

const (
	hidrawSubsystem = "hidraw"
	usbSubsystem    = "usb"
	usbDeviceType   = "usb_device"
)

// Resolve turns a hidraw registry path into an immutable DeviceRecord.
//
// Absence of optional metadata (strings, descriptor blob) is never an
// error; every per-property query failure degrades to "property absent".
// Only three things abort the whole resolution as ErrNotFound: the path
// not resolving at all, the identity properties missing, and the element
// list being unobtainable — without it the framing decision cannot be
// made correctly.
func Resolve(u *udev.Udev, syspath string) (*DeviceRecord, error) {
	dev := u.NewDeviceFromSyspath(syspath)
	if dev == nil {
		return nil, ErrNotFound
	}
	return resolveDevice(dev)
}

// Enumerate lists all HID devices currently present in the registry.
// Entries that vanish mid-scan or do not classify as usable HID devices
// are skipped.
func Enumerate(u *udev.Udev) ([]*DeviceRecord, error) {
	e := u.NewEnumerate()
	e.AddMatchSubsystem(hidrawSubsystem)
	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("hidhost: failed to enumerate %s subsystem: %w", hidrawSubsystem, err)
	}
	var records []*DeviceRecord
	for _, dev := range devices {
		rec, err := resolveDevice(dev)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func resolveDevice(dev *udev.Device) (*DeviceRecord, error) {
	devnode := dev.Devnode()
	if devnode == "" {
		return nil, ErrNotFound
	}

	hid := hidParent(dev)
	if hid == nil {
		return nil, ErrNotFound
	}
	identity, err := parseHidID(hid.PropertyValue(registryKeys.hidID))
	if err != nil {
		// A hid-class entry without its identity triple is not a usable
		// device.
		return nil, ErrNotFound
	}

	rec := &DeviceRecord{
		DeviceIdentity: identity,
		Path:           devnode,
		Syspath:        dev.Syspath(),
		Product:        hid.PropertyValue(registryKeys.hidName),
		Serial:         hid.PropertyValue(registryKeys.hidUniq),
	}

	// The USB parent is best-effort: Bluetooth and I2C HID devices have
	// none, and its absence only removes string metadata and the control
	// transfer path.
	if usb := dev.ParentWithSubsystemDevtype(usbSubsystem, usbDeviceType); usb != nil {
		if v := usb.SysattrValue(registryKeys.usbManufacturer); v != "" {
			rec.Manufacturer = v
		}
		if v := usb.SysattrValue(registryKeys.usbProduct); v != "" {
			rec.Product = v
		}
		if v := usb.SysattrValue(registryKeys.usbSerial); v != "" {
			rec.Serial = v
		}
		if v := usb.SysattrValue(registryKeys.usbVersion); v != "" {
			var bcd uint16
			if _, err := fmt.Sscanf(v, "%04x", &bcd); err == nil {
				rec.Version = bcd
			}
		}
		rec.usbPath = usb.Devnode()
	}

	// The descriptor blob doubles as the element list: without it the
	// framing decision cannot be made, so resolution fails.
	raw, err := os.ReadFile(filepath.Join(hid.Syspath(), registryKeys.reportDescriptor))
	if err != nil {
		return nil, ErrNotFound
	}
	rec.ReportDescriptor = raw

	desc, err := hiddesc.Decode(raw)
	if err != nil {
		return nil, ErrNotFound
	}
	survey := desc.Survey()
	if !survey.Input.Present && !survey.Output.Present && !survey.Feature.Present {
		// All three capabilities empty: the entry is not a genuine HID
		// device.
		return nil, ErrNotFound
	}
	applyFraming(rec, survey.Input.MaxLen, survey.Output.MaxLen, survey.Feature.MaxLen, survey)
	return rec, nil
}

// hidParent walks up from a hidraw entry to the hid-class parent carrying
// the identity properties. The depth of that walk is not stable across
// kernel versions, so match on the property rather than on a fixed level.
func hidParent(dev *udev.Device) *udev.Device {
	for p := dev.Parent(); p != nil; p = p.Parent() {
		if p.PropertyValue(registryKeys.hidID) != "" {
			return p
		}
	}
	return nil
}

// parseHidID parses the bus:vendor:product triple, e.g.
// "0003:0000046D:0000C52B".
func parseHidID(s string) (DeviceIdentity, error) {
	var bus, vendor, product uint32
	if _, err := fmt.Sscanf(s, "%04x:%08x:%08x", &bus, &vendor, &product); err != nil {
		return DeviceIdentity{}, fmt.Errorf("hidhost: malformed HID_ID %q: %w", s, err)
	}
	return DeviceIdentity{
		BusType:   uint16(bus),
		VendorID:  uint16(vendor),
		ProductID: uint16(product),
	}, nil
}
