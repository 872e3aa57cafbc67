package rules

import (
	"context"
	"io"
)

// DocumentStore is the document persistence collaborator.
type DocumentStore interface {
	FindByID(ctx context.Context, id string) (*Document, error)
	Create(ctx context.Context, doc *Document) (*Document, error)
	UpdateData(ctx context.Context, id string, data map[string]any) error
	SetExternalID(ctx context.Context, link ExternalIDLink) error
}

// EventStore is the event persistence collaborator.
type EventStore interface {
	GetEventsByWorkflowID(ctx context.Context, workflowID string) (Events, error)
	SetDone(ctx context.Context, eventID string) error
}

// WorkflowStore persists workflow status transitions.
type WorkflowStore interface {
	SetStatus(ctx context.Context, workflowID string, statusID int) error
}

// File is a stored file with base64 encoded content.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	FileContent string `json:"fileContent"`
}

// FileInfo describes an uploaded file.
type FileInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Upload carries the metadata of a streamed upload.
type Upload struct {
	Name          string
	Description   string
	ContentType   string
	ContentLength int64
	SetExtension  bool
}

// FileStore reads and writes binary files.
type FileStore interface {
	GetFile(ctx context.Context, fileID string, p7s bool) (*File, error)
	UploadFileFromStream(ctx context.Context, r io.Reader, upload Upload) (*FileInfo, error)
}
