package types

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// IDKind records how an identifier was spelled in the source payload.
type IDKind int

// Identifier kinds.
const (
	IDKindUnset IDKind = iota
	IDKindNumber
	IDKindString
)

// String returns the JSON type name of the kind.
func (k IDKind) String() string {
	switch k {
	case IDKindNumber:
		return "number"
	case IDKindString:
		return "string"
	default:
		return "unset"
	}
}

// ID is an identifier as supplied by the annotation payload. Payloads mix JSON
// numbers and strings for the same logical identifier, so every comparison in
// labelkit goes through the canonical string returned by String. The Kind is
// kept only so the auditor can report inconsistent spellings.
type ID struct {
	Kind      IDKind
	canonical string
}

// NumberID returns a numeric identifier.
func NumberID(n int64) ID {
	return ID{Kind: IDKindNumber, canonical: strconv.FormatInt(n, 10)}
}

// StringID returns a string identifier. Surrounding whitespace is trimmed.
func StringID(s string) ID {
	return ID{Kind: IDKindString, canonical: strings.TrimSpace(s)}
}

// String returns the canonical form used for all comparisons.
func (id ID) String() string { return id.canonical }

// IsZero reports whether the identifier was absent or null.
func (id ID) IsZero() bool { return id.Kind == IDKindUnset }

// Int parses the canonical form as an integer.
func (id ID) Int() (int, bool) {
	n, err := strconv.Atoi(id.canonical)
	if err != nil {
		return 0, false
	}
	return n, true
}

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: identifier %s: %v", ErrDatasetFormat, data, err)
		}
		*id = StringID(s)
		return nil
	}
	canonical, err := canonicalNumber(string(data))
	if err != nil {
		return err
	}
	*id = ID{Kind: IDKindNumber, canonical: canonical}
	return nil
}

// MarshalJSON writes the identifier back in its original kind.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.Kind {
	case IDKindNumber:
		return []byte(id.canonical), nil
	case IDKindString:
		return json.Marshal(id.canonical)
	default:
		return []byte("null"), nil
	}
}

// canonicalNumber renders a JSON number literal so that 2, 2.0 and 2e0 agree.
// Integer literals are kept verbatim so ids beyond float64 precision survive.
func canonicalNumber(lit string) (string, error) {
	if isIntegerLiteral(lit) {
		if lit == "-0" {
			return "0", nil
		}
		return lit, nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", fmt.Errorf("%w: identifier %s is neither a number nor a string", ErrDatasetFormat, lit)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func isIntegerLiteral(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
