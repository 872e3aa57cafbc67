// Package provider defines the capability contracts every backend implements
// and the registry that builds exactly one active backend per capability.
package provider

import (
	"context"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/record"
	"github.com/goliatone/go-rules/sandbox"
	"github.com/goliatone/go-rules/transport"
)

// Call is the payload handed to a CRUD style provider.
type Call struct {
	Data  map[string]any
	Event rules.EventContext
}

// CRUD is the uniform contract of the document and services repositories.
type CRUD interface {
	Get(ctx context.Context, call Call) (any, error)
	Create(ctx context.Context, call Call) (any, error)
	Update(ctx context.Context, call Call) (any, error)
	Delete(ctx context.Context, call Call) (any, error)
}

type DocumentRepository interface {
	CRUD
}

type ServicesRepository interface {
	CRUD
}

// Query searches a register. Remote filters narrow the result on the server;
// PostFilter and Comparator are sandbox expressions applied locally per page.
type Query struct {
	RegisterID any
	KeyID      any
	Filters    map[string]any
	Sort       string
	Descending bool
	Limit      int
	Offset     int
	PostFilter string
	Comparator string
	Columns    []string
	// Scope is what PostFilter and Comparator see as documents and events.
	Scope sandbox.Args
}

// Page is one page of register records.
type Page struct {
	Items []map[string]any `json:"items"`
	Total int              `json:"total"`
}

// RecordRef addresses a single register record.
type RecordRef struct {
	RegisterID any
	KeyID      any
	RecordID   any
}

// Registers stores resolved records in a remote register.
type Registers interface {
	Search(ctx context.Context, query Query) (*Page, error)
	GetRecord(ctx context.Context, ref RecordRef) (map[string]any, error)
	CreateRecord(ctx context.Context, rec *record.Record) (map[string]any, error)
	UpdateRecord(ctx context.Context, rec *record.Record) (map[string]any, error)
	DeleteRecord(ctx context.Context, ref RecordRef) error
	ExportCSV(ctx context.Context, query Query) (*transport.Stream, error)
}

// Anchor is a document fingerprint written to the ledger.
type Anchor struct {
	DocumentID string         `json:"documentId"`
	Hash       string         `json:"hash,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Receipt is the ledger's answer for an anchor operation.
type Receipt struct {
	ID     string         `json:"id"`
	Status string         `json:"status,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Ledger anchors documents on a blockchain service.
type Ledger interface {
	Get(ctx context.Context, id string) (*Receipt, error)
	Register(ctx context.Context, anchor Anchor) (*Receipt, error)
	Update(ctx context.Context, id string, anchor Anchor) (*Receipt, error)
	Revoke(ctx context.Context, id string) (*Receipt, error)
}

// Outbound is a transformed payload addressed to one external system. Method
// is empty for the system's default entry point.
type Outbound struct {
	System     string
	Method     string
	TemplateID int
	Payload    any
}

// SendResult is what an external system answered. ExternalIDToSave is nil
// when the answer carries nothing to link.
type SendResult struct {
	Body             any                     `json:"body,omitempty"`
	ExternalIDToSave *rules.ExternalIDToSave `json:"externalIdToSave,omitempty"`
}

// ExternalService delivers decorator output to external government systems.
type ExternalService interface {
	Send(ctx context.Context, out Outbound) (*SendResult, error)
}

// MethodProvider is implemented by external services that expose bound
// methods besides their default entry point.
type MethodProvider interface {
	Methods(system string) []string
}
