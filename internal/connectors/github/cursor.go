package github

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// CursorVersion is the current cursor schema version.
const CursorVersion = 1

// Cursor tracks sync progress across repositories. It is the opaque
// token stored in the sync cursor.
type Cursor struct {
	// Version is the schema version for future migrations.
	Version int `json:"v"`

	// Repos maps owner/repo to its progress.
	Repos map[string]RepoCursor `json:"repos"`
}

// RepoCursor is the high-water mark for one repository.
type RepoCursor struct {
	// UpdatedAt and Number identify the last issue read, in
	// (updated_at, number) order.
	UpdatedAt time.Time `json:"t,omitempty"`
	Number    int       `json:"n,omitempty"`

	// TreeSHA is the wiki tree last read.
	TreeSHA string `json:"sha,omitempty"`
}

// After reports whether an issue sorts after the mark.
func (rc RepoCursor) After(updated time.Time, number int) bool {
	if !updated.Equal(rc.UpdatedAt) {
		return updated.After(rc.UpdatedAt)
	}
	return number > rc.Number
}

// NewCursor creates an empty cursor.
func NewCursor() *Cursor {
	return &Cursor{Version: CursorVersion, Repos: make(map[string]RepoCursor)}
}

// Clone returns a deep copy.
func (c *Cursor) Clone() *Cursor {
	out := NewCursor()
	for k, v := range c.Repos {
		out.Repos[k] = v
	}
	return out
}

// Encode serialises the cursor to a base64-encoded JSON string.
func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
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
	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, ErrInvalidCursor
	}
	if cursor.Repos == nil {
		cursor.Repos = make(map[string]RepoCursor)
	}
	return &cursor, nil
}

// Get returns the mark for a repository.
func (c *Cursor) Get(repo Repo) RepoCursor {
	return c.Repos[repo.FullName()]
}

// Set stores the mark for a repository.
func (c *Cursor) Set(repo Repo, rc RepoCursor) {
	c.Repos[repo.FullName()] = rc
}
