// Package pipeline provides the document stream model: documents flow
// through a chain of steps (readers, formatters, filters, writers), one
// chain per task. Steps are instantiated per task and run as a connected
// line of goroutines.
package pipeline

import (
	"encoding/json"
	"fmt"
)

// Document is one text record moving through a pipeline.
type Document struct {
	Text     string         `json:"text"`
	ID       string         `json:"id"`
	Source   string         `json:"source"`
	Added    string         `json:"added,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SetMeta stores a metadata value, allocating the map on first use.
func (d *Document) SetMeta(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[key] = value
}

// MarshalJSONL renders the document as a single JSONL line without a
// trailing newline.
func (d *Document) MarshalJSONL() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal document %s: %w", d.ID, err)
	}
	return data, nil
}

// UnmarshalDocument parses one JSONL line.
func UnmarshalDocument(line []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(line, &doc); err != nil {
		return nil, fmt.Errorf("parse document line: %w", err)
	}
	return &doc, nil
}
