package hiddesc

import (
	"errors"
	"testing"
)

// Standard 6KRO boot keyboard descriptor. No report IDs, one input report
// of 8 bytes, one output report of 1 byte.
var bootKeyboard = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xa1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0xe0, //   Usage Minimum
	0x29, 0xe7, //   Usage Maximum
	0x15, 0x00, //   Logical Minimum
	0x25, 0x01, //   Logical Maximum
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data, Variable) - modifiers
	0x95, 0x01, //   Report Count (1)
	0x75, 0x08, //   Report Size (8)
	0x81, 0x01, //   Input (Constant) - reserved
	0x95, 0x05, //   Report Count (5)
	0x75, 0x01, //   Report Size (1)
	0x05, 0x08, //   Usage Page (LEDs)
	0x19, 0x01, //   Usage Minimum
	0x29, 0x05, //   Usage Maximum
	0x91, 0x02, //   Output (Data, Variable) - LEDs
	0x95, 0x01, //   Report Count (1)
	0x75, 0x03, //   Report Size (3)
	0x91, 0x01, //   Output (Constant) - padding
	0x95, 0x06, //   Report Count (6)
	0x75, 0x08, //   Report Size (8)
	0x15, 0x00, //   Logical Minimum
	0x25, 0x65, //   Logical Maximum
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0x00, //   Usage Minimum
	0x29, 0x65, //   Usage Maximum
	0x81, 0x00, //   Input (Data, Array) - keys
	0xc0, // End Collection
}

// Vendor-style descriptor multiplexing two tagged reports.
var taggedReports = []byte{
	0x06, 0x00, 0xff, // Usage Page (Vendor)
	0x09, 0x01, // Usage
	0xa1, 0x01, // Collection (Application)
	0x85, 0x01, //   Report ID (1)
	0x75, 0x08, //   Report Size (8)
	0x95, 0x03, //   Report Count (3)
	0x09, 0x02, //   Usage
	0x81, 0x02, //   Input
	0x85, 0x02, //   Report ID (2)
	0x95, 0x02, //   Report Count (2)
	0x09, 0x03, //   Usage
	0xb1, 0x02, //   Feature
	0xc0, // End Collection
}

func TestDecodeBootKeyboard(t *testing.T) {
	desc, err := Decode(bootKeyboard)
	if err != nil {
		t.Fatal(err)
	}
	var inputs, outputs, features int
	desc.Walk(func(el Element) bool {
		switch el.Kind {
		case KindInput:
			inputs++
		case KindOutput:
			outputs++
		case KindFeature:
			features++
		}
		return true
	})
	if inputs != 3 || outputs != 2 || features != 0 {
		t.Fatalf("element counts = %d/%d/%d, want 3/2/0", inputs, outputs, features)
	}
}

func TestSurveyBootKeyboard(t *testing.T) {
	desc, err := Decode(bootKeyboard)
	if err != nil {
		t.Fatal(err)
	}
	s := desc.Survey()
	if s.UsesReportID {
		t.Fatal("boot keyboard must not use report IDs")
	}
	if !s.Input.Present || s.Input.MaxLen != 8 {
		t.Fatalf("input = %+v, want present with 8 bytes", s.Input)
	}
	if !s.Output.Present || s.Output.MaxLen != 1 {
		t.Fatalf("output = %+v, want present with 1 byte", s.Output)
	}
	if s.Feature.Present || s.Feature.MaxLen != 0 {
		t.Fatalf("feature = %+v, want absent with zero length", s.Feature)
	}
}

func TestSurveyTaggedReports(t *testing.T) {
	desc, err := Decode(taggedReports)
	if err != nil {
		t.Fatal(err)
	}
	s := desc.Survey()
	if !s.UsesReportID {
		t.Fatal("descriptor with report IDs must classify as ID-using")
	}
	// Tagged report lengths include the ID prefix byte.
	if s.Input.MaxLen != 4 {
		t.Fatalf("input max = %d, want 4 (3 payload + ID byte)", s.Input.MaxLen)
	}
	if s.Feature.MaxLen != 3 {
		t.Fatalf("feature max = %d, want 3 (2 payload + ID byte)", s.Feature.MaxLen)
	}
	if s.Output.Present {
		t.Fatal("no output elements declared")
	}
}

func TestSurveyMixedTagging(t *testing.T) {
	// One untagged input plus one tagged feature: the flag is global.
	raw := []byte{
		0xa1, 0x01, // Collection
		0x75, 0x08, 0x95, 0x01, // 8 bits x1
		0x81, 0x02, // Input, report ID 0
		0x85, 0x05, // Report ID (5)
		0xb1, 0x02, // Feature
		0xc0,
	}
	desc, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if s := desc.Survey(); !s.UsesReportID {
		t.Fatal("mixed descriptor must classify as ID-using")
	}
}

func TestDecodeSkipsLongItems(t *testing.T) {
	// A vendor long item must be consumed whole (size byte, tag byte,
	// data) so the items after it stay in sync.
	raw := []byte{
		0xfe, 0x01, 0x00, 0xaa, // long item, 1 data byte
		0xa1, 0x01, // Collection (Application)
		0x75, 0x08, // Report Size (8)
		0x95, 0x01, // Report Count (1)
		0x81, 0x02, // Input
		0xc0, // End Collection
	}
	desc, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	s := desc.Survey()
	if !s.Input.Present || s.Input.MaxLen != 1 {
		t.Fatalf("input = %+v, want present with 1 byte", s.Input)
	}
}

func TestDecodeLongItemTruncated(t *testing.T) {
	// Long item claiming 5 data bytes that are not there.
	_, err := Decode([]byte{0xfe, 0x05, 0x00})
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{0x85}) // Report ID prefix without its payload
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestDecodeUnbalanced(t *testing.T) {
	if _, err := Decode([]byte{0xc0}); err == nil {
		t.Fatal("unbalanced end collection must fail")
	}
	if _, err := Decode([]byte{0xa1, 0x01}); err == nil {
		t.Fatal("unterminated collection must fail")
	}
}

func TestDecodePushPop(t *testing.T) {
	raw := []byte{
		0xa1, 0x01, // Collection
		0x75, 0x08, 0x95, 0x02, // 8 bits x2
		0xa4,       // Push
		0x95, 0x04, // Report Count (4)
		0xb4,       // Pop
		0x81, 0x02, // Input: count must be back to 2
		0xc0,
	}
	desc, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if s := desc.Survey(); s.Input.MaxLen != 2 {
		t.Fatalf("input max = %d, want 2 after pop restored state", s.Input.MaxLen)
	}
}
