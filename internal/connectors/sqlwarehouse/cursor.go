package sqlwarehouse

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
)

// CursorVersion is the current cursor schema version.
const CursorVersion = 1

// ErrInvalidCursor indicates a cursor token that cannot be decoded.
var ErrInvalidCursor = errors.New("sqlwarehouse: invalid cursor format")

// Mark is the position after the last row read from a table.
type Mark struct {
	// Change is the change column value as text, with its storage class.
	Change      string `json:"t,omitempty"`
	ChangeClass string `json:"tc,omitempty"`

	// Key is the key value as text, with its storage class.
	Key      string `json:"k"`
	KeyClass string `json:"kc"`
}

// Cursor tracks progress through every table.
type Cursor struct {
	Version int             `json:"v"`
	Tables  map[string]Mark `json:"m"`
}

// NewCursor creates an empty cursor.
func NewCursor() *Cursor {
	return &Cursor{Version: CursorVersion, Tables: make(map[string]Mark)}
}

// Clone returns a deep copy.
func (c *Cursor) Clone() *Cursor {
	out := NewCursor()
	for k, v := range c.Tables {
		out.Tables[k] = v
	}
	return out
}

// Encode serialises the cursor to a base64-encoded JSON string.
func (c *Cursor) Encode() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCursor deserialises a token. An empty token is an empty cursor.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return NewCursor(), nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, ErrInvalidCursor
	}
	if c.Tables == nil {
		c.Tables = make(map[string]Mark)
	}
	return &c, nil
}

// bind converts a text value back to its storage class so SQLite compares
// it the same way it orders the column.
func bind(text, class string) any {
	switch class {
	case "integer":
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n
		}
	case "real":
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f
		}
	case "blob":
		return []byte(text)
	}
	return text
}
