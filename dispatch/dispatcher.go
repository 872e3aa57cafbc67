// Package dispatch is the single entry point the workflow engine calls. It
// maps a requester type onto the active provider of that capability, resolves
// record specs on the way in and performs bookkeeping on the way out.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/decorator"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/record"
	"github.com/goliatone/go-rules/tree"
)

// Operation is one of the four dispatch verbs.
type Operation string

const (
	OpGet    Operation = "get"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation accepts a configured operation name.
func ParseOperation(name string) (Operation, error) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(name))); op {
	case OpGet, OpCreate, OpUpdate, OpDelete:
		return op, nil
	}
	return "", rules.NewConfigurationError(
		fmt.Sprintf("unknown operation %q", name),
		map[string]any{"operation": name},
	)
}

// RecordResolver is implemented by *record.Resolver.
type RecordResolver interface {
	Resolve(ctx context.Context, spec *record.Spec, docs rules.Documents, events rules.Events, opts ...record.ResolveOption) (*record.Record, error)
}

// Sender is implemented by *decorator.Pipeline.
type Sender interface {
	Send(ctx context.Context, data decorator.SendData, ec rules.EventContext) (*decorator.Outcome, error)
}

type Dispatcher struct {
	providers *provider.Set
	resolver  RecordResolver
	sender    Sender
	documents rules.DocumentStore
	files     rules.FileStore
	logger    rules.Logger
	metrics   MetricsRecorder
}

type Option func(*Dispatcher)

func WithResolver(r RecordResolver) Option {
	return func(d *Dispatcher) { d.resolver = r }
}

func WithSender(s Sender) Option {
	return func(d *Dispatcher) { d.sender = s }
}

func WithDocumentStore(s rules.DocumentStore) Option {
	return func(d *Dispatcher) { d.documents = s }
}

func WithFileStore(s rules.FileStore) Option {
	return func(d *Dispatcher) { d.files = s }
}

func WithLogger(l rules.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMetrics(m MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

func New(providers *provider.Set, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		providers: providers,
		logger:    rules.NopLogger{},
		metrics:   nopMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Dispatcher) Get(ctx context.Context, requesterType string, data Data, ec rules.EventContext) (any, error) {
	return d.Dispatch(ctx, OpGet, requesterType, data, ec)
}

func (d *Dispatcher) Create(ctx context.Context, requesterType string, data Data, ec rules.EventContext) (any, error) {
	return d.Dispatch(ctx, OpCreate, requesterType, data, ec)
}

func (d *Dispatcher) Update(ctx context.Context, requesterType string, data Data, ec rules.EventContext) (any, error) {
	return d.Dispatch(ctx, OpUpdate, requesterType, data, ec)
}

func (d *Dispatcher) Delete(ctx context.Context, requesterType string, data Data, ec rules.EventContext) (any, error) {
	return d.Dispatch(ctx, OpDelete, requesterType, data, ec)
}

// Dispatch routes op to the provider of requesterType. An unknown requester
// type fails before anything is resolved or sent.
func (d *Dispatcher) Dispatch(ctx context.Context, op Operation, requesterType string, data Data, ec rules.EventContext) (out any, err error) {
	capability, perr := provider.ParseCapability(requesterType)
	if perr != nil {
		err = rules.NewUnknownRequesterError(requesterType)
		d.logger.Error("dispatch %s rejected: %v", op, err)
		return nil, err
	}

	fields := map[string]any{
		"requester_type":    capability.String(),
		"operation":         string(op),
		"workflow_id":       ec.WorkflowID,
		"event_template_id": ec.EventTemplateID,
	}
	log := rules.WithLoggerFields(d.logger, fields)
	defer rules.Recover(log, "dispatch."+capability.String()+"."+string(op), &err, fields)

	out, err = measure(ctx, d.metrics, capability.String()+"."+string(op), func(ctx context.Context) (any, error) {
		switch capability {
		case provider.CapabilityRegisters:
			return d.registers(ctx, op, data, ec)
		case provider.CapabilityBlockchain:
			return d.blockchain(ctx, op, data, ec)
		case provider.CapabilityExternalService:
			return d.externalService(ctx, op, data, ec)
		case provider.CapabilityDocument:
			p, err := d.providers.Document()
			if err != nil {
				return nil, err
			}
			return crud(ctx, p, op, data, ec)
		case provider.CapabilityServicesRepository:
			p, err := d.providers.ServicesRepository()
			if err != nil {
				return nil, err
			}
			return crud(ctx, p, op, data, ec)
		}
		return nil, rules.NewUnknownRequesterError(requesterType)
	})
	if err != nil {
		log.Error("dispatch failed: %v", err)
		return nil, err
	}
	log.Debug("dispatch completed")
	return out, nil
}

func crud(ctx context.Context, p provider.CRUD, op Operation, data Data, ec rules.EventContext) (any, error) {
	call := provider.Call{Data: resolveParams(data.Params, ec), Event: ec}
	switch op {
	case OpGet:
		return p.Get(ctx, call)
	case OpCreate:
		return p.Create(ctx, call)
	case OpUpdate:
		return p.Update(ctx, call)
	default:
		return p.Delete(ctx, call)
	}
}

func (d *Dispatcher) registers(ctx context.Context, op Operation, data Data, ec rules.EventContext) (any, error) {
	p, err := d.providers.Registers()
	if err != nil {
		return nil, err
	}

	if op == OpGet {
		switch {
		case data.Export != nil:
			return d.exportCSV(ctx, p, *data.Export, ec)
		case data.Query != nil:
			q := data.Query.build(ec)
			q.Scope.Documents, q.Scope.Events = ec.Documents, ec.Events
			return p.Search(ctx, q)
		}
	}

	rec, err := d.resolve(ctx, data, ec)
	if err != nil {
		return nil, err
	}
	ref := provider.RecordRef{RegisterID: rec.RegisterID, KeyID: rec.KeyID, RecordID: rec.RecordID}

	switch op {
	case OpGet:
		return p.GetRecord(ctx, ref)
	case OpDelete:
		if err := p.DeleteRecord(ctx, ref); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true, "recordId": rec.RecordID}, nil
	}

	var saved map[string]any
	if op == OpCreate {
		saved, err = p.CreateRecord(ctx, rec)
	} else {
		saved, err = p.UpdateRecord(ctx, rec)
	}
	if err != nil {
		return nil, err
	}
	// the remote record already exists; a failed write-back must not turn
	// into a retry that creates it twice
	if err := d.saveTo(ctx, data.Record.SaveTo, saved, rec, ec); err != nil {
		d.logger.Warn("saveTo %s for record %v failed workflow=%s: %v",
			data.Record.SaveTo, rec.RecordID, ec.WorkflowID, err)
	}
	return saved, nil
}

func (d *Dispatcher) resolve(ctx context.Context, data Data, ec rules.EventContext) (*record.Record, error) {
	if data.Record == nil {
		return nil, rules.NewValidationError("record spec required", nil)
	}
	if d.resolver == nil {
		return nil, rules.NewConfigurationError("dispatcher has no record resolver", nil)
	}
	opts := []record.ResolveOption{record.WithTemplateID(ec.EventTemplateID)}
	if data.ArrayIndex != nil {
		opts = append(opts, record.WithArrayIndex(*data.ArrayIndex))
	}
	return d.resolver.Resolve(ctx, data.Record, ec.Documents, ec.Events, opts...)
}

// saveTo writes the id of a stored record back into a workflow document.
// target is "<documentTemplateId>.<path inside data>".
func (d *Dispatcher) saveTo(ctx context.Context, target string, saved map[string]any, rec *record.Record, ec rules.EventContext) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}
	tplPart, path, ok := strings.Cut(target, ".")
	tplID, err := strconv.Atoi(tplPart)
	if !ok || err != nil || strings.TrimSpace(path) == "" {
		return rules.NewConfigurationError(
			fmt.Sprintf("saveTo %q must be <documentTemplateId>.<path>", target),
			map[string]any{"save_to": target},
		)
	}
	if d.documents == nil {
		return rules.NewConfigurationError("saveTo needs a document store", nil)
	}
	doc, found := ec.Documents.ByTemplateID(tplID)
	if !found {
		return rules.NewValidationError(
			fmt.Sprintf("saveTo document template %d not found in workflow", tplID),
			map[string]any{"save_to": target},
		)
	}

	id := rec.RecordID
	for _, key := range []string{"recordId", "id"} {
		if v, ok := saved[key]; ok && v != nil {
			id = v
			break
		}
	}

	updated := cloneMap(doc.Data)
	if err := tree.Set(updated, path, id); err != nil {
		return rules.NewValidationError(err.Error(), map[string]any{"save_to": target})
	}
	return d.documents.UpdateData(ctx, doc.ID, updated)
}

// exportCSV pipes the register export straight into the file store, then
// records a workflow document pointing at the stored file.
func (d *Dispatcher) exportCSV(ctx context.Context, p provider.Registers, export Export, ec rules.EventContext) (any, error) {
	if d.files == nil || d.documents == nil {
		return nil, rules.NewConfigurationError("csv export needs a file store and a document store", nil)
	}
	if strings.TrimSpace(export.FileName) == "" {
		return nil, rules.NewValidationError("export fileName required", nil)
	}

	q := export.Query.build(ec)
	q.Columns = export.Columns
	q.Scope.Documents, q.Scope.Events = ec.Documents, ec.Events

	stream, err := p.ExportCSV(ctx, q)
	if err != nil {
		return nil, err
	}
	defer stream.Body.Close()

	contentType := stream.ContentType
	if contentType == "" {
		contentType = "text/csv"
	}
	info, err := d.files.UploadFileFromStream(ctx, stream.Body, rules.Upload{
		Name:          export.FileName,
		Description:   export.Description,
		ContentType:   contentType,
		ContentLength: stream.ContentLength,
		SetExtension:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("store csv export: %w", err)
	}

	return d.documents.Create(ctx, &rules.Document{
		WorkflowID:         ec.WorkflowID,
		DocumentTemplateID: export.DocumentTemplateID,
		FileID:             info.ID,
		FileName:           info.Name,
		FileType:           info.ContentType,
		Data: map[string]any{
			"registerId": q.RegisterID,
			"size":       info.Size,
		},
	})
}

func (d *Dispatcher) blockchain(ctx context.Context, op Operation, data Data, ec rules.EventContext) (any, error) {
	ledger, err := d.providers.Ledger()
	if err != nil {
		return nil, err
	}
	if data.Anchor == nil {
		return nil, rules.NewValidationError("anchor required for blockchain requests", nil)
	}
	id := stringValue(fromWorkflow(data.Anchor.ID, ec))

	switch op {
	case OpGet:
		return ledger.Get(ctx, id)
	case OpDelete:
		return ledger.Revoke(ctx, id)
	}

	anchor, err := buildAnchor(*data.Anchor, ec)
	if err != nil {
		return nil, err
	}
	if op == OpUpdate {
		return ledger.Update(ctx, id, anchor)
	}

	receipt, err := ledger.Register(ctx, anchor)
	if err != nil {
		return nil, err
	}
	if d.documents != nil && receipt != nil && receipt.ID != "" {
		link := rules.ExternalIDLink{DocumentID: anchor.DocumentID, ExternalID: receipt.ID, Provider: provider.CapabilityBlockchain.String()}
		if err := d.documents.SetExternalID(ctx, link); err != nil {
			d.logger.Warn("saving ledger id %s for document %s failed: %v", receipt.ID, anchor.DocumentID, err)
		}
	}
	return receipt, nil
}

// buildAnchor fingerprints the referenced document. json.Marshal sorts map
// keys, so the hash is stable for equal data.
func buildAnchor(a Anchor, ec rules.EventContext) (provider.Anchor, error) {
	doc, ok := ec.Documents.ByTemplateID(a.DocumentTemplateID)
	if !ok {
		return provider.Anchor{}, rules.NewValidationError(
			fmt.Sprintf("document template %d not found in workflow", a.DocumentTemplateID),
			map[string]any{"document_template_id": a.DocumentTemplateID},
		)
	}
	hash := a.Hash
	if hash == "" {
		raw, err := json.Marshal(doc.Data)
		if err != nil {
			return provider.Anchor{}, rules.NewValidationError("document data is not serialisable: "+err.Error(), nil)
		}
		sum := sha256.Sum256(raw)
		hash = hex.EncodeToString(sum[:])
	}
	return provider.Anchor{DocumentID: doc.ID, Hash: hash, Data: doc.Data}, nil
}

func (d *Dispatcher) externalService(ctx context.Context, op Operation, data Data, ec rules.EventContext) (any, error) {
	if op != OpCreate {
		return nil, rules.NewNotImplementedError(provider.CapabilityExternalService.String(), string(op))
	}
	if data.Send == nil {
		return nil, rules.NewValidationError("send data required for external service requests", nil)
	}
	if d.sender == nil {
		return nil, rules.NewConfigurationError("dispatcher has no external service pipeline", nil)
	}
	return d.sender.Send(ctx, *data.Send, ec)
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if m, ok := v.(map[string]any); ok {
			out[k] = cloneMap(m)
			continue
		}
		out[k] = v
	}
	return out
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
