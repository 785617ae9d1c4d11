package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Column describes one field of a table.
type Column struct {
	Name string
	Type string
}

// TableSchema describes one table, collection or document kind.
type TableSchema struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// SourceSchema is the introspected shape of a source.
type SourceSchema struct {
	// Source is the owning source name.
	Source string

	// Tables lists every table visible to the adapter.
	Tables []TableSchema

	// Fingerprint is a stable hash of Tables. Set by Seal.
	Fingerprint string

	// DetectedAt is when introspection ran.
	DetectedAt time.Time
}

// Seal computes and stores the fingerprint.
func (s *SourceSchema) Seal() *SourceSchema {
	s.Fingerprint = s.ComputeFingerprint()
	return s
}

// ComputeFingerprint hashes the canonical form of the schema.
// Table and column order do not affect the result.
func (s *SourceSchema) ComputeFingerprint() string {
	lines := s.columnKeys()
	pks := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		pk := append([]string(nil), t.PrimaryKey...)
		pks = append(pks, "pk:"+t.Name+"="+strings.Join(pk, ","))
	}
	sort.Strings(pks)
	h := sha256.New()
	for _, l := range append(lines, pks...) {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// columnKeys returns sorted "table.column:type" entries.
func (s *SourceSchema) columnKeys() []string {
	var keys []string
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			keys = append(keys, t.Name+"."+c.Name+":"+strings.ToLower(c.Type))
		}
	}
	sort.Strings(keys)
	return keys
}

// SchemaDriftEvent records that a source's schema changed between syncs.
type SchemaDriftEvent struct {
	Source         string
	OldFingerprint string
	NewFingerprint string

	// AddedColumns and RemovedColumns hold "table.column" names.
	// A type change shows up in both lists.
	AddedColumns   []string
	RemovedColumns []string

	DetectedAt time.Time
}

// DiffSchemas builds the drift event between two schemas of one source.
func DiffSchemas(old, current *SourceSchema) SchemaDriftEvent {
	before := set(old.columnKeys())
	after := set(current.columnKeys())

	ev := SchemaDriftEvent{
		Source:         current.Source,
		OldFingerprint: old.Fingerprint,
		NewFingerprint: current.Fingerprint,
		DetectedAt:     current.DetectedAt,
	}
	for k := range after {
		if _, ok := before[k]; !ok {
			ev.AddedColumns = append(ev.AddedColumns, stripType(k))
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			ev.RemovedColumns = append(ev.RemovedColumns, stripType(k))
		}
	}
	sort.Strings(ev.AddedColumns)
	sort.Strings(ev.RemovedColumns)
	return ev
}

func set(keys []string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

func stripType(key string) string {
	if i := strings.LastIndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
