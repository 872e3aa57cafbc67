package rules

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-rules/tree"
)

// Document is a workflow document as seen by the engine. The engine only reads it.
type Document struct {
	ID                 string         `json:"id" yaml:"id"`
	WorkflowID         string         `json:"workflowId,omitempty" yaml:"workflowId,omitempty"`
	DocumentTemplateID int            `json:"documentTemplateId" yaml:"documentTemplateId"`
	Data               map[string]any `json:"data" yaml:"data"`
	IsFinal            bool           `json:"isFinal" yaml:"isFinal"`
	FileID             string         `json:"fileId,omitempty" yaml:"fileId,omitempty"`
	FileName           string         `json:"fileName,omitempty" yaml:"fileName,omitempty"`
	FileType           string         `json:"fileType,omitempty" yaml:"fileType,omitempty"`
	CreatedAt          time.Time      `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

// Tree is the generic view of the document used by expressions and path lookups.
func (d Document) Tree() map[string]any {
	data := d.Data
	if data == nil {
		data = map[string]any{}
	}
	out := map[string]any{
		"id":                 d.ID,
		"documentTemplateId": d.DocumentTemplateID,
		"data":               data,
		"isFinal":            d.IsFinal,
	}
	if d.WorkflowID != "" {
		out["workflowId"] = d.WorkflowID
	}
	if d.FileID != "" {
		out["fileId"] = d.FileID
	}
	if d.FileName != "" {
		out["fileName"] = d.FileName
	}
	if d.FileType != "" {
		out["fileType"] = d.FileType
	}
	return out
}

// Documents is the accumulated document list of a workflow.
type Documents []Document

// ByTemplateID returns the document for a document template, if any.
func (ds Documents) ByTemplateID(templateID int) (Document, bool) {
	for _, d := range ds {
		if d.DocumentTemplateID == templateID {
			return d, true
		}
	}
	return Document{}, false
}

// Tree renders every document in its generic form.
func (ds Documents) Tree() []any {
	out := make([]any, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Tree())
	}
	return out
}

// Lookup resolves "<templateId>.<path>" against the documents. Missing
// documents, missing keys and nil values are all reported as absent.
func (ds Documents) Lookup(path string) (any, bool) {
	segments := tree.Split(path)
	if len(segments) == 0 {
		return nil, false
	}
	templateID, err := strconv.Atoi(segments[0])
	if err != nil {
		return nil, false
	}
	doc, ok := ds.ByTemplateID(templateID)
	if !ok {
		return nil, false
	}
	return tree.GetSegments(doc.Tree(), segments[1:])
}

// Event is a workflow event. Several events may share a template id.
type Event struct {
	ID              string         `json:"id" yaml:"id"`
	WorkflowID      string         `json:"workflowId,omitempty" yaml:"workflowId,omitempty"`
	EventTemplateID int            `json:"eventTemplateId" yaml:"eventTemplateId"`
	CreatedAt       time.Time      `json:"createdAt" yaml:"createdAt"`
	Done            bool           `json:"done" yaml:"done"`
	Data            map[string]any `json:"data" yaml:"data"`
}

func (e Event) Tree() map[string]any {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"id":              e.ID,
		"eventTemplateId": e.EventTemplateID,
		"createdAt":       e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"done":            e.Done,
		"data":            data,
	}
}

type Events []Event

// Latest returns the most recently created event for the template.
func (es Events) Latest(templateID int) (Event, bool) {
	var (
		found  Event
		exists bool
	)
	for _, e := range es {
		if e.EventTemplateID != templateID {
			continue
		}
		if !exists || e.CreatedAt.After(found.CreatedAt) {
			found = e
			exists = true
		}
	}
	return found, exists
}

// ByID finds an event by its id.
func (es Events) ByID(id string) (Event, bool) {
	for _, e := range es {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

// Sorted returns a copy ordered by creation time, oldest first.
func (es Events) Sorted() Events {
	out := make(Events, len(es))
	copy(out, es)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (es Events) Tree() []any {
	out := make([]any, 0, len(es))
	for _, e := range es {
		out = append(out, e.Tree())
	}
	return out
}

// ExternalIDLink maps a local document to the id a remote system assigned to it.
type ExternalIDLink struct {
	DocumentID string `json:"documentId"`
	ExternalID string `json:"externalId"`
	Provider   string `json:"provider,omitempty"`
}

// ExternalIDToSave is what an external-service provider asks the engine to persist.
type ExternalIDToSave struct {
	DocumentID  string   `json:"documentId"`
	DocumentIDs []string `json:"documentIds,omitempty"`
	ExternalID  string   `json:"externalId"`
}

// Empty reports whether there is nothing to persist.
func (e *ExternalIDToSave) Empty() bool {
	return e == nil || strings.TrimSpace(e.DocumentID) == "" || strings.TrimSpace(e.ExternalID) == ""
}

// Links expands the primary and secondary document ids into individual links.
func (e *ExternalIDToSave) Links(provider string) []ExternalIDLink {
	if e.Empty() {
		return nil
	}
	links := []ExternalIDLink{{DocumentID: e.DocumentID, ExternalID: e.ExternalID, Provider: provider}}
	seen := map[string]struct{}{e.DocumentID: {}}
	for _, id := range e.DocumentIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		links = append(links, ExternalIDLink{DocumentID: id, ExternalID: e.ExternalID, Provider: provider})
	}
	return links
}

// EventContext carries the workflow state a single dispatch operates on.
type EventContext struct {
	WorkflowID      string    `json:"workflowId"`
	EventTemplateID string    `json:"eventTemplateId"`
	EventID         string    `json:"eventId,omitempty"`
	Documents       Documents `json:"documents"`
	Events          Events    `json:"events"`
}

// CurrentEvent is the event the dispatch runs for: EventID when set, else the
// latest event of EventTemplateID.
func (c EventContext) CurrentEvent() (Event, bool) {
	if c.EventID != "" {
		if e, ok := c.Events.ByID(c.EventID); ok {
			return e, true
		}
	}
	id, err := strconv.Atoi(strings.TrimSpace(c.EventTemplateID))
	if err != nil {
		return Event{}, false
	}
	return c.Events.Latest(id)
}

// Status values persisted for a workflow.
const (
	StatusDoing    = 1
	StatusDone     = 2
	StatusRejected = 3
)
