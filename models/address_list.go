package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// AddressList is a set of wallet addresses stored as a JSON array in a text
// column. Older rows hold the array double-encoded as a JSON string, or as a
// Postgres array literal; Scan accepts all three.
type AddressList []string

// Contains reports whether addr is in the list, ignoring case.
func (l AddressList) Contains(addr string) bool {
	for _, a := range l {
		if strings.EqualFold(a, addr) {
			return true
		}
	}
	return false
}

// Without returns a copy of l with every case-insensitive match of addr removed.
func (l AddressList) Without(addr string) AddressList {
	out := make(AddressList, 0, len(l))
	for _, a := range l {
		if !strings.EqualFold(a, addr) {
			out = append(out, a)
		}
	}
	return out
}

// With returns a copy of l with addr appended.
func (l AddressList) With(addr string) AddressList {
	out := make(AddressList, 0, len(l)+1)
	out = append(out, l...)
	return append(out, addr)
}

func (l AddressList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (l *AddressList) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*l = AddressList{}
		return nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("address list: unsupported column type %T", src)
	}
	parsed, err := ParseAddressList(raw)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseAddressList decodes a stored address list. Empty input is an empty list.
func ParseAddressList(raw string) (AddressList, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return AddressList{}, nil
	}

	switch raw[0] {
	case '[':
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("address list: %w", err)
		}
		return clean(out), nil
	case '"':
		var inner string
		if err := json.Unmarshal([]byte(raw), &inner); err != nil {
			return nil, fmt.Errorf("address list: %w", err)
		}
		return ParseAddressList(inner)
	case '{':
		body := strings.TrimSuffix(strings.TrimPrefix(raw, "{"), "}")
		if body == "" {
			return AddressList{}, nil
		}
		parts := strings.Split(body, ",")
		for i, p := range parts {
			parts[i] = strings.Trim(strings.TrimSpace(p), `"`)
		}
		return clean(parts), nil
	}
	return nil, fmt.Errorf("address list: unrecognised encoding %q", raw)
}

func clean(in []string) AddressList {
	out := make(AddressList, 0, len(in))
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
