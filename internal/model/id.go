package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID is an identifier that clients and upstream systems send either as a JSON
// string or as a JSON number. It is always carried as its decimal/string form.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*id = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id must be a string or number: %w", err)
		}
		*id = ID(n.String())
	}
	return nil
}

// String returns the identifier as a plain string.
func (id ID) String() string {
	return string(id)
}

// Empty reports whether the identifier is missing.
func (id ID) Empty() bool {
	return id == ""
}
