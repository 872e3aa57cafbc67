package external

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/provider"
)

const (
	JetStreamName = "jetstream"

	defaultSubjectPrefix = "rules.external"
	defaultStreamName    = "RULES_EXTERNAL"
)

// Publisher is the slice of nats.JetStreamContext the provider uses.
type Publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Envelope is the message body published for every send.
type Envelope struct {
	System     string `json:"system"`
	Method     string `json:"method,omitempty"`
	TemplateID int    `json:"templateId,omitempty"`
	Payload    any    `json:"payload"`
}

// JetStreamProvider hands payloads to a durable stream instead of calling the
// external system inline. Consumers own delivery; the send result carries the
// stream acknowledgement and never an external id.
type JetStreamProvider struct {
	js     Publisher
	prefix string
	conn   *nats.Conn
	logger rules.Logger
}

func NewJetStream(js Publisher, prefix string, logger rules.Logger) *JetStreamProvider {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &JetStreamProvider{js: js, prefix: prefix, logger: rules.NormalizeLogger(logger)}
}

// JetStreamFactory connects to settings.BaseURL and makes sure the stream
// capturing "<prefix>.>" exists.
func JetStreamFactory(_ context.Context, settings provider.Settings, deps provider.Deps) (any, error) {
	serverURL := settings.BaseURL
	if serverURL == "" {
		serverURL = nats.DefaultURL
	}
	logger := rules.NormalizeLogger(deps.Logger)

	nc, err := nats.Connect(serverURL, nats.Name(settings.Option("client_name", "go-rules")))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", serverURL, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	prefix := settings.Option("subject_prefix", defaultSubjectPrefix)
	stream := settings.Option("stream", defaultStreamName)
	if _, err := js.StreamInfo(stream); err != nil {
		logger.Info("stream %s not found, creating it for %s.>", stream, prefix)
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{prefix + ".>"},
			Storage:  nats.FileStorage,
		}); err != nil {
			nc.Close()
			return nil, fmt.Errorf("create stream %s: %w", stream, err)
		}
	}

	p := NewJetStream(js, prefix, logger)
	p.conn = nc
	return p, nil
}

// Subject returns the subject a send to system/method is published on.
func (p *JetStreamProvider) Subject(system, method string) string {
	subject := p.prefix + "." + system
	if method != "" {
		subject += "." + method
	}
	return subject
}

func (p *JetStreamProvider) Send(ctx context.Context, out provider.Outbound) (*provider.SendResult, error) {
	if strings.TrimSpace(out.System) == "" {
		return nil, rules.NewConfigurationError("external system name required", nil)
	}
	data, err := json.Marshal(Envelope{
		System:     out.System,
		Method:     out.Method,
		TemplateID: out.TemplateID,
		Payload:    out.Payload,
	})
	if err != nil {
		return nil, rules.NewValidationError("payload is not serialisable: "+err.Error(), nil)
	}

	subject := p.Subject(out.System, out.Method)
	ack, err := p.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		p.logger.Error("publish to %s failed template=%d: %v", subject, out.TemplateID, err)
		return nil, rules.NewTransportError(0, "", err, map[string]any{"subject": subject})
	}
	p.logger.Debug("published to %s stream=%s seq=%d", subject, ack.Stream, ack.Sequence)

	return &provider.SendResult{Body: map[string]any{
		"stream":   ack.Stream,
		"sequence": ack.Sequence,
		"subject":  subject,
	}}, nil
}

// Close drains the connection opened by JetStreamFactory.
func (p *JetStreamProvider) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

var _ provider.ExternalService = (*JetStreamProvider)(nil)
