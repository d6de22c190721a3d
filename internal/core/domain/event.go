package domain

import "encoding/json"

// ConnectorEventType discriminates the ConnectorEvent tagged union. Go has
// no sum types, so the variant is carried as a string tag with a shared
// payload shape; DocumentDeleted leaves ContentID/Metadata/Permissions/
// Attributes empty.
type ConnectorEventType string

const (
	ConnectorEventDocumentCreated ConnectorEventType = "document_created"
	ConnectorEventDocumentUpdated ConnectorEventType = "document_updated"
	ConnectorEventDocumentDeleted ConnectorEventType = "document_deleted"
)

// ConnectorEvent is a normalized mutation reported by a connector during a
// sync run, over POST /sdk/events.
type ConnectorEvent struct {
	Type        ConnectorEventType `json:"type"`
	SyncRunID   string             `json:"sync_run_id"`
	SourceID    string             `json:"source_id"`
	DocumentID  string             `json:"document_id"`
	ExternalID  string             `json:"external_id"`
	ContentID   string             `json:"content_id,omitempty"`
	Title       string             `json:"title,omitempty"`
	MimeType    string             `json:"mime_type,omitempty"`
	URL         string             `json:"url,omitempty"`
	ParentID    string             `json:"parent_id,omitempty"`
	Metadata    json.RawMessage    `json:"metadata,omitempty"`
	Permissions json.RawMessage    `json:"permissions,omitempty"`
	Attributes  json.RawMessage    `json:"attributes,omitempty"`
}

// Validate checks the minimum shape required to enqueue the event.
func (e *ConnectorEvent) Validate() error {
	if e.SyncRunID == "" || e.SourceID == "" || e.DocumentID == "" {
		return ErrInvalidInput
	}
	switch e.Type {
	case ConnectorEventDocumentCreated, ConnectorEventDocumentUpdated, ConnectorEventDocumentDeleted:
	default:
		return ErrInvalidInput
	}
	return nil
}
