package sandbox

import (
	"context"
	"fmt"
	"time"

	rules "github.com/goliatone/go-rules"
)

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger sets the logger used for compile and evaluation failures.
func WithLogger(l rules.Logger) Option {
	return func(s *Sandbox) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout bounds async helper calls of a single evaluation. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) {
		s.timeout = d
	}
}

// WithHelper exposes a synchronous helper. Reserved names are ignored.
func WithHelper(name string, h Helper) Option {
	return func(s *Sandbox) {
		if !allowedName(name) || h == nil {
			return
		}
		delete(s.async, name)
		s.helpers[name] = h
	}
}

// WithAsyncHelper exposes a helper whose calls are rewritten into explicit
// await points at compile time.
func WithAsyncHelper(name string, h Helper) Option {
	return func(s *Sandbox) {
		if !allowedName(name) || h == nil {
			return
		}
		delete(s.helpers, name)
		s.async[name] = h
	}
}

// WithFileStore registers the async getFile(fileId[, p7s]) helper.
func WithFileStore(files rules.FileStore) Option {
	return WithAsyncHelper("getFile", func(ctx context.Context, _ Args, params ...any) (any, error) {
		if files == nil {
			return nil, fmt.Errorf("getFile: file store not configured")
		}
		if len(params) == 0 {
			return nil, fmt.Errorf("getFile expects a file id")
		}
		fileID := fmt.Sprint(params[0])
		p7s := false
		if len(params) > 1 {
			p7s, _ = params[1].(bool)
		}
		f, err := files.GetFile(ctx, fileID, p7s)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"name":        f.Name,
			"contentType": f.ContentType,
			"fileContent": f.FileContent,
		}, nil
	})
}

// LinkResolver produces links to external resources (signed download links,
// public registry pages and so on).
type LinkResolver interface {
	Link(ctx context.Context, name string, params map[string]any) (string, error)
}

// WithLinkResolver registers the async link(name[, params]) helper.
func WithLinkResolver(r LinkResolver) Option {
	return WithAsyncHelper("link", func(ctx context.Context, _ Args, params ...any) (any, error) {
		if r == nil {
			return nil, fmt.Errorf("link: resolver not configured")
		}
		if len(params) == 0 {
			return nil, fmt.Errorf("link expects a link name")
		}
		name, ok := params[0].(string)
		if !ok {
			return nil, fmt.Errorf("link expects a string name, got %T", params[0])
		}
		var linkParams map[string]any
		if len(params) > 1 {
			linkParams, _ = params[1].(map[string]any)
		}
		return r.Link(ctx, name, linkParams)
	})
}

func allowedName(name string) bool {
	if name == "" {
		return false
	}
	_, isReserved := reserved[name]
	return !isReserved
}

type evalConfig struct {
	async      bool
	templateID string
	field      string
	meta       map[string]any
	arguments  []any
}

// EvalOption configures a single evaluation.
type EvalOption func(*evalConfig)

// Async marks the evaluation asynchronous: a pending top-level result is awaited.
func Async() EvalOption {
	return func(c *evalConfig) { c.async = true }
}

// WithTemplateID tags errors with the event template id.
func WithTemplateID(id string) EvalOption {
	return func(c *evalConfig) { c.templateID = id }
}

// WithField tags errors with the record field being resolved.
func WithField(name string) EvalOption {
	return func(c *evalConfig) { c.field = name }
}

// WithMeta exposes meta to the expression as the `meta` binding.
func WithMeta(meta map[string]any) EvalOption {
	return func(c *evalConfig) { c.meta = meta }
}

// WithArguments binds the closure parameters to values instead of the default
// (documents, events) pair. Filters and comparators use it to receive records.
func WithArguments(values ...any) EvalOption {
	return func(c *evalConfig) {
		c.arguments = append([]any{}, values...)
	}
}
