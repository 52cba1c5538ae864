// Package hiddesc decodes HID report descriptors far enough to answer
// framing questions: which report kinds a device exposes, whether any
// report carries a Report ID, and how large the largest report of each
// kind is. It deliberately does not interpret usages or field semantics.
package hiddesc

// ElementKind classifies a main item of the report descriptor.
type ElementKind uint8

const (
	KindInput ElementKind = iota
	KindOutput
	KindFeature
	KindCollection
	KindEndCollection
)

func (k ElementKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	case KindFeature:
		return "feature"
	case KindCollection:
		return "collection"
	case KindEndCollection:
		return "end-collection"
	}
	return "unknown"
}

// Element is one main item together with the global state that was in
// effect when it was declared. Only data-bearing elements (Input, Output,
// Feature) carry meaningful size information.
type Element struct {
	Kind        ElementKind
	Flags       uint32
	ReportID    uint8
	ReportSize  uint32 // bits per field
	ReportCount uint32 // number of fields
}

// Descriptor is a decoded report descriptor: the ordered element list.
type Descriptor struct {
	Elements []Element
}

// Walk calls fn for every element in declaration order until fn returns
// false.
func (d Descriptor) Walk(fn func(Element) bool) {
	for _, el := range d.Elements {
		if !fn(el) {
			return
		}
	}
}

// Capability summarizes one report kind across the whole descriptor.
type Capability struct {
	// Present is true if at least one data element of this kind exists.
	Present bool
	// MaxLen is the byte length of the largest report of this kind as the
	// device transmits it: payload bytes, plus the Report ID prefix byte
	// when the report is tagged with a nonzero ID.
	MaxLen int
}

// Survey is the framing classification of a descriptor.
type Survey struct {
	Input   Capability
	Output  Capability
	Feature Capability

	// UsesReportID is true if any data element anywhere in the descriptor
	// carries a nonzero Report ID. The flag is global: a device mixing
	// tagged and untagged elements is treated uniformly as ID-using.
	UsesReportID bool
}

// Survey scans the element list. Collection elements contribute to no
// capability group.
func (d Descriptor) Survey() Survey {
	var s Survey
	caps := [3]*Capability{&s.Input, &s.Output, &s.Feature}
	bits := [3]map[uint8]uint32{{}, {}, {}}

	for _, el := range d.Elements {
		var group int
		switch el.Kind {
		case KindInput:
			group = 0
		case KindOutput:
			group = 1
		case KindFeature:
			group = 2
		default:
			continue
		}
		caps[group].Present = true
		bits[group][el.ReportID] += el.ReportSize * el.ReportCount
		if el.ReportID != 0 {
			s.UsesReportID = true
		}
	}

	for group, perReport := range bits {
		for id, n := range perReport {
			length := int(n+7) / 8
			if id != 0 {
				length++
			}
			if length > caps[group].MaxLen {
				caps[group].MaxLen = length
			}
		}
	}
	return s
}
