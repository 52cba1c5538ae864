package hiddesc

import (
	"errors"
	"fmt"
)

// Item prefix layout: bTag(4) | bType(2) | bSize(2).
const (
	itemTypeMain   = 0
	itemTypeGlobal = 1
	itemTypeLocal  = 2

	mainTagInput         = 0x8
	mainTagOutput        = 0x9
	mainTagCollection    = 0xa
	mainTagFeature       = 0xb
	mainTagEndCollection = 0xc

	globalTagReportSize  = 0x7
	globalTagReportID    = 0x8
	globalTagReportCount = 0x9
	globalTagPush        = 0xa
	globalTagPop         = 0xb

	longItemPrefix = 0xfe
)

var ErrTruncated = errors.New("hiddesc: truncated descriptor")

// globalState is the subset of the HID global item table the framing scan
// needs. Push and Pop operate on this state.
type globalState struct {
	reportSize  uint32
	reportCount uint32
	reportID    uint8
}

// Decode parses a raw report descriptor into its element list. Local
// items (usages, designators) are consumed and discarded; only short
// items are supported, and unknown tags are skipped, matching how
// permissive host stacks treat vendor descriptors.
func Decode(raw []byte) (Descriptor, error) {
	var (
		desc  Descriptor
		state globalState
		stack []globalState
		depth int
	)

	i := 0
	for i < len(raw) {
		prefix := raw[i]
		i++

		if prefix == longItemPrefix {
			if i >= len(raw) {
				return Descriptor{}, ErrTruncated
			}
			// Layout after the prefix: bDataSize, bLongItemTag, data.
			skip := int(raw[i]) + 2
			if i+skip > len(raw) {
				return Descriptor{}, ErrTruncated
			}
			i += skip
			continue
		}

		size := int(prefix & 0x03)
		if size == 3 {
			size = 4
		}
		if i+size > len(raw) {
			return Descriptor{}, ErrTruncated
		}
		payload := raw[i : i+size]
		i += size

		typ := (prefix >> 2) & 0x03
		tag := prefix >> 4

		switch typ {
		case itemTypeMain:
			el, ok := mainElement(tag, payload, state)
			if !ok {
				continue
			}
			if el.Kind == KindCollection {
				depth++
			}
			if el.Kind == KindEndCollection {
				if depth == 0 {
					return Descriptor{}, fmt.Errorf("hiddesc: unbalanced end collection at byte %d", i)
				}
				depth--
			}
			desc.Elements = append(desc.Elements, el)

		case itemTypeGlobal:
			switch tag {
			case globalTagReportSize:
				state.reportSize = itemValue(payload)
			case globalTagReportCount:
				state.reportCount = itemValue(payload)
			case globalTagReportID:
				if len(payload) > 0 {
					state.reportID = payload[0]
				}
			case globalTagPush:
				stack = append(stack, state)
			case globalTagPop:
				if len(stack) == 0 {
					return Descriptor{}, fmt.Errorf("hiddesc: pop without push at byte %d", i)
				}
				state = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
			}

		case itemTypeLocal:
			// Usages and designators do not affect framing.
		}
	}

	if depth != 0 {
		return Descriptor{}, errors.New("hiddesc: unterminated collection")
	}
	return desc, nil
}

func mainElement(tag uint8, payload []byte, state globalState) (Element, bool) {
	var kind ElementKind
	switch tag {
	case mainTagInput:
		kind = KindInput
	case mainTagOutput:
		kind = KindOutput
	case mainTagFeature:
		kind = KindFeature
	case mainTagCollection:
		return Element{Kind: KindCollection, Flags: itemValue(payload)}, true
	case mainTagEndCollection:
		return Element{Kind: KindEndCollection}, true
	default:
		return Element{}, false
	}
	return Element{
		Kind:        kind,
		Flags:       itemValue(payload),
		ReportID:    state.reportID,
		ReportSize:  state.reportSize,
		ReportCount: state.reportCount,
	}, true
}

func itemValue(payload []byte) uint32 {
	var v uint32
	for i := len(payload) - 1; i >= 0; i-- {
		v = v<<8 | uint32(payload[i])
	}
	return v
}
