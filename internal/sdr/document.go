// Package sdr fetches and parses the Steam Datagram Relay network config.
package sdr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrNoPops is returned when the document has no "pops" object.
var ErrNoPops = errors.New("sdr config: missing pops object")

// Document is the parsed relay config. Pops keep the order of the source
// document, which is the order routes are displayed and probed in.
type Document struct {
	Revision int64
	Pops     []Pop
}

// Pop is one point of presence entry keyed by its id.
type Pop struct {
	ID        string
	Desc      string
	HasDesc   bool
	Relays    []Relay
	HasRelays bool
	// Raw is the entry as it appeared in the document, used for marker checks.
	Raw json.RawMessage
}

// Relay is a single relay address inside a pop.
type Relay struct {
	IPv4      string
	PortRange string
}

type rawDocument struct {
	Revision int64           `json:"revision"`
	Pops     json.RawMessage `json:"pops"`
}

// LoadFile reads a config document saved on disk.
func LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Parse(data)
}

// Parse decodes a relay config document.
func Parse(data []byte) (Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("sdr config: %w", err)
	}
	if len(raw.Pops) == 0 || bytes.Equal(bytes.TrimSpace(raw.Pops), []byte("null")) {
		return Document{Revision: raw.Revision}, ErrNoPops
	}

	pops, err := parsePops(raw.Pops)
	if err != nil {
		return Document{Revision: raw.Revision}, err
	}
	return Document{Revision: raw.Revision, Pops: pops}, nil
}

// parsePops walks the pops object token by token so key order survives.
func parsePops(data json.RawMessage) ([]Pop, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("sdr config: pops: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, ErrNoPops
	}

	var pops []Pop
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("sdr config: pops: %w", err)
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("sdr config: pop %q: %w", key, err)
		}

		pop, ok := parsePop(key, value)
		if !ok {
			continue
		}
		pops = append(pops, pop)
	}
	return pops, nil
}

// parsePop decodes a single entry. Non-object values are not pops.
func parsePop(id string, value json.RawMessage) (Pop, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(value, &fields); err != nil || fields == nil {
		return Pop{}, false
	}

	pop := Pop{ID: id, Raw: value}
	if desc, ok := fields["desc"]; ok {
		pop.HasDesc = true
		pop.Desc = scalarString(desc)
	}
	if relays, ok := fields["relays"]; ok {
		pop.HasRelays = true
		pop.Relays = parseRelays(relays)
	}
	return pop, true
}

func parseRelays(data json.RawMessage) []Relay {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}

	relays := make([]Relay, 0, len(items))
	for _, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			continue
		}
		relays = append(relays, Relay{
			IPv4:      scalarString(fields["ipv4"]),
			PortRange: portRange(fields["port_range"]),
		})
	}
	return relays
}

// portRange renders [lo, hi] as "lo-hi"; strings pass through.
func portRange(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var bounds []json.Number
	if err := json.Unmarshal(data, &bounds); err == nil {
		parts := make([]string, 0, len(bounds))
		for _, b := range bounds {
			parts = append(parts, b.String())
		}
		return strings.Join(parts, "-")
	}
	return scalarString(data)
}

// scalarString returns the text of a JSON scalar. Strings are unquoted,
// numbers and booleans keep their literal form, null is empty.
func scalarString(data json.RawMessage) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		if s, err := strconv.Unquote(string(trimmed)); err == nil {
			return s
		}
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
