package provider

import (
	"context"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/record"
	"github.com/goliatone/go-rules/transport"
)

// UnimplementedCRUD fails every method. Embed it to implement part of CRUD.
type UnimplementedCRUD struct {
	Capability Capability
}

func (u UnimplementedCRUD) name() string {
	if u.Capability == "" {
		return "crud"
	}
	return u.Capability.String()
}

func (u UnimplementedCRUD) Get(context.Context, Call) (any, error) {
	return nil, rules.NewNotImplementedError(u.name(), "Get")
}

func (u UnimplementedCRUD) Create(context.Context, Call) (any, error) {
	return nil, rules.NewNotImplementedError(u.name(), "Create")
}

func (u UnimplementedCRUD) Update(context.Context, Call) (any, error) {
	return nil, rules.NewNotImplementedError(u.name(), "Update")
}

func (u UnimplementedCRUD) Delete(context.Context, Call) (any, error) {
	return nil, rules.NewNotImplementedError(u.name(), "Delete")
}

type UnimplementedRegisters struct{}

func (UnimplementedRegisters) Search(context.Context, Query) (*Page, error) {
	return nil, rules.NewNotImplementedError(CapabilityRegisters.String(), "Search")
}

func (UnimplementedRegisters) GetRecord(context.Context, RecordRef) (map[string]any, error) {
	return nil, rules.NewNotImplementedError(CapabilityRegisters.String(), "GetRecord")
}

func (UnimplementedRegisters) CreateRecord(context.Context, *record.Record) (map[string]any, error) {
	return nil, rules.NewNotImplementedError(CapabilityRegisters.String(), "CreateRecord")
}

func (UnimplementedRegisters) UpdateRecord(context.Context, *record.Record) (map[string]any, error) {
	return nil, rules.NewNotImplementedError(CapabilityRegisters.String(), "UpdateRecord")
}

func (UnimplementedRegisters) DeleteRecord(context.Context, RecordRef) error {
	return rules.NewNotImplementedError(CapabilityRegisters.String(), "DeleteRecord")
}

func (UnimplementedRegisters) ExportCSV(context.Context, Query) (*transport.Stream, error) {
	return nil, rules.NewNotImplementedError(CapabilityRegisters.String(), "ExportCSV")
}

type UnimplementedLedger struct{}

func (UnimplementedLedger) Get(context.Context, string) (*Receipt, error) {
	return nil, rules.NewNotImplementedError(CapabilityBlockchain.String(), "Get")
}

func (UnimplementedLedger) Register(context.Context, Anchor) (*Receipt, error) {
	return nil, rules.NewNotImplementedError(CapabilityBlockchain.String(), "Register")
}

func (UnimplementedLedger) Update(context.Context, string, Anchor) (*Receipt, error) {
	return nil, rules.NewNotImplementedError(CapabilityBlockchain.String(), "Update")
}

func (UnimplementedLedger) Revoke(context.Context, string) (*Receipt, error) {
	return nil, rules.NewNotImplementedError(CapabilityBlockchain.String(), "Revoke")
}

type UnimplementedExternalService struct{}

func (UnimplementedExternalService) Send(context.Context, Outbound) (*SendResult, error) {
	return nil, rules.NewNotImplementedError(CapabilityExternalService.String(), "Send")
}

var (
	_ Registers          = UnimplementedRegisters{}
	_ Ledger             = UnimplementedLedger{}
	_ ExternalService    = UnimplementedExternalService{}
	_ DocumentRepository = UnimplementedCRUD{}
	_ ServicesRepository = UnimplementedCRUD{}
)
