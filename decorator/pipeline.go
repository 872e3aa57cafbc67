package decorator

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/provider"
	"github.com/goliatone/go-rules/record"
	"github.com/goliatone/go-rules/sandbox"
)

const defaultFileConcurrency = 4

// SendData is the externalService rule of an event template.
type SendData struct {
	ProviderName                  string         `json:"providerName" yaml:"providerName"`
	DocumentTemplateID            int            `json:"documentTemplateId,omitempty" yaml:"documentTemplateId,omitempty"`
	DocumentTemplateIDFunction    string         `json:"documentTemplateIdFunction,omitempty" yaml:"documentTemplateIdFunction,omitempty"`
	AdditionalDocumentTemplateIDs []int          `json:"additionalDocumentTemplateIds,omitempty" yaml:"additionalDocumentTemplateIds,omitempty"`
	WithFiles                     bool           `json:"withFiles,omitempty" yaml:"withFiles,omitempty"`
	P7S                           bool           `json:"p7s,omitempty" yaml:"p7s,omitempty"`
	Params                        map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Input is everything a decorator may read to build its payload.
type Input struct {
	Target     Target
	TemplateID int
	Document   *rules.Document
	Event      *rules.Event
	Additional rules.Documents
	// Files holds fetched file contents keyed by document id.
	Files   map[string]*rules.File
	Params  map[string]any
	Context rules.EventContext
}

// SavingResult reports the best-effort external id bookkeeping.
type SavingResult struct {
	Saved  []rules.ExternalIDLink `json:"saved"`
	Failed []FailedLink           `json:"failed,omitempty"`
}

type FailedLink struct {
	Link  rules.ExternalIDLink `json:"link"`
	Error string               `json:"error"`
}

// Outcome is the result of Send. ExternalIDSavingResult is nil when the
// provider answer carried nothing to save.
type Outcome struct {
	SendingResult          *provider.SendResult `json:"sendingResult"`
	ExternalIDSavingResult *SavingResult        `json:"externalIdSavingResult,omitempty"`
}

// ExternalSource locates the active external-service provider.
type ExternalSource interface {
	ExternalService() (provider.ExternalService, error)
}

// Pipeline runs template resolution, decoration, sending and bookkeeping.
type Pipeline struct {
	decorators  *Registry
	providers   ExternalSource
	eval        record.Evaluator
	files       rules.FileStore
	documents   rules.DocumentStore
	logger      rules.Logger
	concurrency int
}

type Option func(*Pipeline)

func WithEvaluator(e record.Evaluator) Option {
	return func(p *Pipeline) { p.eval = e }
}

func WithFileStore(f rules.FileStore) Option {
	return func(p *Pipeline) { p.files = f }
}

func WithDocumentStore(d rules.DocumentStore) Option {
	return func(p *Pipeline) { p.documents = d }
}

func WithLogger(l rules.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithFileConcurrency bounds the parallel file fetches of one send.
func WithFileConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func NewPipeline(decorators *Registry, providers ExternalSource, opts ...Option) *Pipeline {
	p := &Pipeline{
		decorators:  decorators,
		providers:   providers,
		logger:      rules.NopLogger{},
		concurrency: defaultFileConcurrency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.decorators == nil {
		p.decorators = NewRegistry()
	}
	return p
}

// Send decorates and delivers one external-service request. Every failing
// stage is logged with provider and template id and returned unchanged.
func (p *Pipeline) Send(ctx context.Context, data SendData, ec rules.EventContext) (*Outcome, error) {
	target, err := ParseTarget(data.ProviderName)
	if err != nil {
		p.logger.Error("external send: %v", err)
		return nil, err
	}
	log := rules.WithLoggerFields(p.logger, map[string]any{
		"provider":    target.String(),
		"workflow_id": ec.WorkflowID,
	})

	templateID, err := p.templateID(ctx, data, ec)
	if err != nil {
		log.Error("document template id resolution failed: %v", err)
		return nil, err
	}
	log = rules.WithLoggerFields(log, map[string]any{"document_template_id": templateID})

	in, err := p.input(ctx, target, templateID, data, ec)
	if err != nil {
		log.Error("collecting send input failed: %v", err)
		return nil, err
	}

	payload, err := p.transform(ctx, target, in)
	if err != nil {
		log.Error("decorator failed: %v", err)
		return nil, err
	}

	if p.providers == nil {
		err := rules.CloneError(rules.ErrProviderNotFound, "no external service provider configured", nil, nil)
		log.Error("%v", err)
		return nil, err
	}
	svc, err := p.providers.ExternalService()
	if err != nil {
		log.Error("locating provider failed: %v", err)
		return nil, err
	}

	res, err := svc.Send(ctx, provider.Outbound{
		System:     target.Provider(),
		Method:     target.Method(),
		TemplateID: templateID,
		Payload:    payload,
	})
	if err != nil {
		log.Error("provider send failed: %v", err)
		return nil, err
	}
	if res == nil {
		res = &provider.SendResult{}
	}

	out := &Outcome{SendingResult: res}
	if !res.ExternalIDToSave.Empty() {
		out.ExternalIDSavingResult = p.saveExternalIDs(ctx, log, target.Provider(), res.ExternalIDToSave)
	}
	log.Info("external send completed")
	return out, nil
}

func (p *Pipeline) templateID(ctx context.Context, data SendData, ec rules.EventContext) (int, error) {
	if strings.TrimSpace(data.DocumentTemplateIDFunction) == "" {
		return data.DocumentTemplateID, nil
	}
	if p.eval == nil {
		return 0, rules.NewConfigurationError("documentTemplateIdFunction needs an evaluator", nil)
	}
	out, err := p.eval.Evaluate(ctx, data.DocumentTemplateIDFunction,
		sandbox.Args{Documents: ec.Documents, Events: ec.Events},
		sandbox.Async(),
		sandbox.WithTemplateID(ec.EventTemplateID),
		sandbox.WithField("documentTemplateIdFunction"),
	)
	if err != nil {
		return 0, err
	}
	if out == nil {
		return data.DocumentTemplateID, nil
	}
	id, ok := asInt(out)
	if !ok {
		return 0, rules.NewEvaluationError(ec.EventTemplateID, "documentTemplateIdFunction",
			fmt.Errorf("expected a template id, got %T", out))
	}
	if id == 0 {
		return data.DocumentTemplateID, nil
	}
	return id, nil
}

func (p *Pipeline) input(ctx context.Context, target Target, templateID int, data SendData, ec rules.EventContext) (Input, error) {
	in := Input{
		Target:     target,
		TemplateID: templateID,
		Params:     data.Params,
		Context:    ec,
		Files:      map[string]*rules.File{},
	}
	if doc, ok := ec.Documents.ByTemplateID(templateID); ok {
		in.Document = &doc
	}
	if ev, ok := ec.CurrentEvent(); ok {
		in.Event = &ev
	}
	for _, id := range data.AdditionalDocumentTemplateIDs {
		if doc, ok := ec.Documents.ByTemplateID(id); ok {
			in.Additional = append(in.Additional, doc)
		}
	}

	if data.WithFiles {
		files, err := p.fetchFiles(ctx, in, data.P7S)
		if err != nil {
			return Input{}, err
		}
		in.Files = files
	}
	return in, nil
}

// fetchFiles loads every referenced file in parallel. One failure fails all.
func (p *Pipeline) fetchFiles(ctx context.Context, in Input, p7s bool) (map[string]*rules.File, error) {
	var docs rules.Documents
	if in.Document != nil {
		docs = append(docs, *in.Document)
	}
	docs = append(docs, in.Additional...)

	var wanted rules.Documents
	for _, d := range docs {
		if d.FileID != "" {
			wanted = append(wanted, d)
		}
	}
	if len(wanted) == 0 {
		return map[string]*rules.File{}, nil
	}
	if p.files == nil {
		return nil, rules.NewConfigurationError("send needs files but no file store is configured", nil)
	}

	results := make([]*rules.File, len(wanted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, d := range wanted {
		i, d := i, d
		g.Go(func() error {
			f, err := p.files.GetFile(gctx, d.FileID, p7s)
			if err != nil {
				return fmt.Errorf("fetch file %s of document %s: %w", d.FileID, d.ID, err)
			}
			results[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*rules.File, len(wanted))
	for i, d := range wanted {
		out[d.ID] = results[i]
	}
	return out, nil
}

func (p *Pipeline) transform(ctx context.Context, target Target, in Input) (any, error) {
	d, err := p.decorators.Lookup(target.Provider(), in.TemplateID)
	if err != nil {
		return nil, err
	}
	method := target.Method()
	if method == "" {
		return d.Transform(ctx, in)
	}
	var fn Func
	if bound, ok := d.(BoundDecorator); ok {
		fn, _ = bound.Method(method)
	}
	if fn == nil {
		return nil, rules.CloneError(
			rules.ErrDecoratorNotFound,
			fmt.Sprintf("decorator of %s has no method %s", target.Provider(), method),
			nil,
			map[string]any{"provider": target.Provider(), "method": method},
		)
	}
	return fn(ctx, in)
}

func (p *Pipeline) saveExternalIDs(ctx context.Context, log rules.Logger, providerName string, save *rules.ExternalIDToSave) *SavingResult {
	res := &SavingResult{}
	for _, link := range save.Links(providerName) {
		if p.documents == nil {
			res.Failed = append(res.Failed, FailedLink{Link: link, Error: "no document store configured"})
			continue
		}
		if err := p.documents.SetExternalID(ctx, link); err != nil {
			log.Warn("saving external id %s for document %s failed: %v", link.ExternalID, link.DocumentID, err)
			res.Failed = append(res.Failed, FailedLink{Link: link, Error: err.Error()})
			continue
		}
		res.Saved = append(res.Saved, link)
	}
	return res
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}
