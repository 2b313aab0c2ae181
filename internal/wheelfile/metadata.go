package wheelfile

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// WheelMetadata is the parsed content of a wheel's WHEEL file. Tag can
// repeat (one compatibility tag per line), which is why a hand-rolled
// scanner is used instead of net/mail: Go's mail header parser collapses
// repeated header names.
type WheelMetadata struct {
	WheelVersion   string
	Generator      []string
	RootIsPurelib  bool
	Tags           []string
	otherHeaders   []header
}

type header struct {
	name, value string
}

// ParseWheelMetadata reads the RFC-822-style WHEEL file content.
func ParseWheelMetadata(data []byte) (*WheelMetadata, error) {
	m := &WheelMetadata{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx == -1 {
			return nil, fmt.Errorf("wheelfile: malformed WHEEL header: %q", line)
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		switch name {
		case "Wheel-Version":
			m.WheelVersion = value
		case "Generator":
			m.Generator = append(m.Generator, value)
		case "Root-Is-Purelib":
			m.RootIsPurelib = strings.EqualFold(value, "true")
		case "Tag":
			m.Tags = append(m.Tags, value)
		default:
			m.otherHeaders = append(m.otherHeaders, header{name, value})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("wheelfile: reading WHEEL: %w", err)
	}
	return m, nil
}

// SetTags replaces every Tag: header with one per entry in tags.
func (m *WheelMetadata) SetTags(tags []string) {
	m.Tags = append([]string(nil), tags...)
}

// EnsureGenerator appends "delocate <version>" as a Generator: header
// unless a generator already containing that exact value is present
// (the reference implementation appends rather than replaces, so a
// wheel re-delocated by a newer version keeps its history).
func (m *WheelMetadata) EnsureGenerator(delocateVersion string) {
	wanted := "delocate " + delocateVersion
	for _, g := range m.Generator {
		if g == wanted {
			return
		}
	}
	m.Generator = append(m.Generator, wanted)
}

// Bytes renders the WHEEL file back to its RFC-822-style form, in the
// canonical field order: Wheel-Version, Generator(s), Root-Is-Purelib,
// Tag(s), then any other header in the order first seen.
func (m *WheelMetadata) Bytes() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Wheel-Version: %s\n", m.WheelVersion)
	for _, g := range m.Generator {
		fmt.Fprintf(&b, "Generator: %s\n", g)
	}
	fmt.Fprintf(&b, "Root-Is-Purelib: %s\n", boolStr(m.RootIsPurelib))
	for _, t := range m.Tags {
		fmt.Fprintf(&b, "Tag: %s\n", t)
	}
	for _, h := range m.otherHeaders {
		fmt.Fprintf(&b, "%s: %s\n", h.name, h.value)
	}
	return b.Bytes()
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
