package hidhost

import (
	"testing"

	"github.com/neuroplastio/hidhost/pkg/hiddesc"
)

func TestAdvertisedLengthNoReportIDs(t *testing.T) {
	// Registry reports maxInput=63 for a device without Report IDs and
	// one input element: the advertised maximum gains the prefix byte.
	var rec DeviceRecord
	survey := hiddesc.Survey{
		Input: hiddesc.Capability{Present: true, MaxLen: 63},
	}
	applyFraming(&rec, 63, 0, 0, survey)

	if rec.MaxInputLen != 64 {
		t.Fatalf("MaxInputLen = %d, want 64", rec.MaxInputLen)
	}
	if rec.MaxOutputLen != 0 || rec.MaxFeatureLen != 0 {
		t.Fatalf("absent capabilities must advertise zero, got %d/%d", rec.MaxOutputLen, rec.MaxFeatureLen)
	}
	if rec.UsesReportID {
		t.Fatal("UsesReportID must be false")
	}
}

func TestAdvertisedLengthWithReportIDs(t *testing.T) {
	// ID-using devices advertise registry values unchanged.
	var rec DeviceRecord
	survey := hiddesc.Survey{
		Input:        hiddesc.Capability{Present: true, MaxLen: 9},
		Feature:      hiddesc.Capability{Present: true, MaxLen: 3},
		UsesReportID: true,
	}
	applyFraming(&rec, 9, 0, 3, survey)

	if rec.MaxInputLen != 9 {
		t.Fatalf("MaxInputLen = %d, want 9 unchanged", rec.MaxInputLen)
	}
	if rec.MaxFeatureLen != 3 {
		t.Fatalf("MaxFeatureLen = %d, want 3 unchanged", rec.MaxFeatureLen)
	}
	if !rec.UsesReportID {
		t.Fatal("UsesReportID must be true")
	}
}

func TestAdvertisedLengthZeroedWithoutElements(t *testing.T) {
	// A capability with no elements advertises zero regardless of what
	// the registry claims for it.
	got := advertisedLength(17, hiddesc.Capability{Present: false}, false)
	if got != 0 {
		t.Fatalf("advertisedLength = %d, want 0 for element-free capability", got)
	}
}

func TestAdvertisedLengthZeroStaysZero(t *testing.T) {
	// The +1 adjustment applies to nonzero registry values only.
	got := advertisedLength(0, hiddesc.Capability{Present: true}, false)
	if got != 0 {
		t.Fatalf("advertisedLength = %d, want 0", got)
	}
}

func TestParseHidID(t *testing.T) {
	id, err := parseHidID("0003:0000046D:0000C52B")
	if err != nil {
		t.Fatal(err)
	}
	want := DeviceIdentity{BusType: 0x0003, VendorID: 0x046d, ProductID: 0xc52b}
	if id != want {
		t.Fatalf("identity = %+v, want %+v", id, want)
	}
}

func TestParseHidIDMalformed(t *testing.T) {
	for _, s := range []string{"", "0003", "xx:yy:zz"} {
		if _, err := parseHidID(s); err == nil {
			t.Fatalf("parseHidID(%q) succeeded, want error", s)
		}
	}
}

func TestIdentityString(t *testing.T) {
	id := DeviceIdentity{VendorID: 0x046d, ProductID: 0xc52b}
	if got := id.String(); got != "046d:c52b" {
		t.Fatalf("String() = %q", got)
	}
}
