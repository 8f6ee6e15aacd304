// Package types provides the document model shared by the document database,
// the application-data filesystem and the version-control layer.
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document types the version-control layer reasons about. Every other type
// is carried opaquely.
const (
	TypeProject       = "Project"
	TypeWorkspace     = "Workspace"
	TypeWorkspaceMeta = "WorkspaceMeta"
	TypeGitRepository = "GitRepository"
	TypeRequest       = "Request"
	TypeRequestGroup  = "RequestGroup"
	TypeEnvironment   = "Environment"
	TypeApiSpec       = "ApiSpec"
)

// idPrefixes maps known document types to their id prefix.
var idPrefixes = map[string]string{
	TypeProject:       "proj",
	TypeWorkspace:     "wrk",
	TypeWorkspaceMeta: "wrkm",
	TypeGitRepository: "git",
	TypeRequest:       "req",
	TypeRequestGroup:  "fld",
	TypeEnvironment:   "env",
	TypeApiSpec:       "spc",
}

// Document is a single record of the document database.
//
// Fields holds everything that is not part of the common envelope. When a
// document is serialized to YAML the fields are inlined next to the envelope.
type Document struct {
	// ===== Envelope =====
	ID       string    `yaml:"_id"`
	Type     string    `yaml:"type"`
	ParentID string    `yaml:"parentId"`
	Created  time.Time `yaml:"created"`
	Modified time.Time `yaml:"modified"`

	// ===== Type-specific content =====
	Fields map[string]any `yaml:",inline"`
}

// NewID returns a fresh document id for the given type, e.g. "wrk_3f9c...".
func NewID(docType string) string {
	prefix, ok := idPrefixes[docType]
	if !ok {
		prefix = "doc"
	}
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Validate checks the envelope of the document.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.Type == "" {
		return fmt.Errorf("type is required")
	}
	if strings.ContainsAny(d.ID, "/\\") {
		return fmt.Errorf("id must not contain path separators (got %q)", d.ID)
	}
	if strings.ContainsAny(d.Type, "/\\.") {
		return fmt.Errorf("type must be a single path segment (got %q)", d.Type)
	}
	return nil
}

// Filename returns the canonical filename for this document: {id}.yml
func (d *Document) Filename() string {
	return d.ID + ".yml"
}

// Clone returns a deep copy of the envelope and a shallow copy of the fields.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Fields != nil {
		c.Fields = make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

// String returns a field as a string, or "" when absent or of another type.
func (d *Document) String(key string) string {
	if d.Fields == nil {
		return ""
	}
	s, _ := d.Fields[key].(string)
	return s
}

// Bool returns a field as a bool, or false when absent or of another type.
func (d *Document) Bool(key string) bool {
	if d.Fields == nil {
		return false
	}
	b, _ := d.Fields[key].(bool)
	return b
}

// Map returns a nested object field, or nil.
func (d *Document) Map(key string) map[string]any {
	if d.Fields == nil {
		return nil
	}
	m, _ := d.Fields[key].(map[string]any)
	return m
}

// Set assigns a field, allocating the map if needed.
func (d *Document) Set(key string, value any) {
	if d.Fields == nil {
		d.Fields = make(map[string]any)
	}
	d.Fields[key] = value
}

// SortByID sorts documents in place by id.
func SortByID(docs []*Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}
