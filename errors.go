package rules

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	ErrCodeConfiguration        = "CONFIGURATION_ERROR"
	ErrCodeUnknownRequester     = "UNKNOWN_REQUESTER_TYPE"
	ErrCodeUnknownCustomHandler = "UNKNOWN_CUSTOM_HANDLER"
	ErrCodeDecoratorNotFound    = "DECORATOR_NOT_FOUND"
	ErrCodeProviderNotFound     = "PROVIDER_NOT_FOUND"
	ErrCodeEvaluation           = "EVALUATION_FAILED"
	ErrCodeFieldResolution      = "FIELD_RESOLUTION_FAILED"
	ErrCodeValidation           = "VALIDATION_FAILED"
	ErrCodeTransport            = "TRANSPORT_FAILED"
	ErrCodeNotImplemented       = "NOT_IMPLEMENTED"
	ErrCodePanic                = "PANIC_RECOVERED"
)

var (
	ErrConfiguration = errors.New("configuration error", errors.CategoryBadInput).
				WithTextCode(ErrCodeConfiguration)
	ErrUnknownRequester = errors.New("unknown requester type", errors.CategoryBadInput).
				WithTextCode(ErrCodeUnknownRequester)
	ErrUnknownCustomHandler = errors.New("unknown custom handler", errors.CategoryBadInput).
				WithTextCode(ErrCodeUnknownCustomHandler)
	ErrDecoratorNotFound = errors.New("decorator not found", errors.CategoryBadInput).
				WithTextCode(ErrCodeDecoratorNotFound)
	ErrProviderNotFound = errors.New("provider not found", errors.CategoryBadInput).
				WithTextCode(ErrCodeProviderNotFound)
	ErrEvaluation = errors.New("expression evaluation failed", errors.CategoryBadInput).
			WithTextCode(ErrCodeEvaluation)
	ErrFieldResolution = errors.New("record field resolution failed", errors.CategoryBadInput).
				WithTextCode(ErrCodeFieldResolution)
	ErrValidation = errors.New("validation error", errors.CategoryValidation).
			WithTextCode(ErrCodeValidation)
	ErrTransport = errors.New("provider request failed", errors.CategoryExternal).
			WithTextCode(ErrCodeTransport)
	ErrNotImplemented = errors.New("method not implemented", errors.CategoryInternal).
				WithTextCode(ErrCodeNotImplemented)
	ErrPanic = errors.New("recovered from panic", errors.CategoryInternal).
			WithTextCode(ErrCodePanic)
)

// configurationCodes are the text codes operators should treat as configuration bugs.
var configurationCodes = []string{
	ErrCodeConfiguration,
	ErrCodeUnknownRequester,
	ErrCodeUnknownCustomHandler,
	ErrCodeDecoratorNotFound,
	ErrCodeProviderNotFound,
}

// CloneError copies a sentinel and attaches message, source and metadata.
func CloneError(base *errors.Error, message string, source error, metadata map[string]any) *errors.Error {
	if base == nil {
		base = ErrConfiguration
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// NewConfigurationError reports an unknown capability, provider, decorator or handler name.
func NewConfigurationError(message string, metadata map[string]any) *errors.Error {
	return CloneError(ErrConfiguration, message, nil, metadata)
}

// NewUnknownRequesterError is returned by the dispatch layer for unmapped requester types.
func NewUnknownRequesterError(requesterType string) *errors.Error {
	return CloneError(
		ErrUnknownRequester,
		fmt.Sprintf("unknown requester type %q", requesterType),
		nil,
		map[string]any{"requester_type": requesterType},
	)
}

// NewEvaluationError wraps a failing expression with the event template and field it belongs to.
func NewEvaluationError(templateID, field string, source error) *errors.Error {
	msg := "expression evaluation failed"
	if source != nil {
		msg = source.Error()
	}
	meta := map[string]any{}
	if templateID != "" {
		meta["event_template_id"] = templateID
	}
	if field != "" {
		meta["field"] = field
	}
	return CloneError(ErrEvaluation, msg, source, meta)
}

// NewFieldError names the record field that aborted a resolution.
func NewFieldError(templateID, field string, source error) *errors.Error {
	msg := fmt.Sprintf("field %q", field)
	if source != nil {
		msg = fmt.Sprintf("field %q: %s", field, source.Error())
	}
	meta := map[string]any{"field": field}
	if templateID != "" {
		meta["event_template_id"] = templateID
	}
	return CloneError(ErrFieldResolution, msg, source, meta)
}

// NewValidationError reports malformed calculated values or missing provider params.
func NewValidationError(message string, metadata map[string]any) *errors.Error {
	return CloneError(ErrValidation, message, nil, metadata)
}

// NewTransportError carries the remote error body as its message.
func NewTransportError(statusCode int, body string, source error, metadata map[string]any) *errors.Error {
	meta := map[string]any{"status_code": statusCode}
	for k, v := range metadata {
		meta[k] = v
	}
	msg := strings.TrimSpace(body)
	if msg == "" && source != nil {
		msg = source.Error()
	}
	if msg == "" {
		msg = fmt.Sprintf("remote responded with status %d", statusCode)
	}
	return CloneError(ErrTransport, msg, source, meta)
}

// NewNotImplementedError is returned by provider bases for methods a backend does not support.
func NewNotImplementedError(capability, method string) *errors.Error {
	return CloneError(
		ErrNotImplemented,
		fmt.Sprintf("%s provider does not implement %s", capability, method),
		nil,
		map[string]any{"capability": capability, "method": method},
	)
}

// HasCode walks the go-errors chain looking for the given text code.
func HasCode(err error, code string) bool {
	for err != nil {
		var ge *errors.Error
		if !stderrors.As(err, &ge) {
			return false
		}
		if ge.TextCode == code {
			return true
		}
		err = ge.Source
	}
	return false
}

func IsConfigurationError(err error) bool {
	for _, code := range configurationCodes {
		if HasCode(err, code) {
			return true
		}
	}
	return false
}

func IsEvaluationError(err error) bool {
	return HasCode(err, ErrCodeEvaluation)
}

func IsValidationError(err error) bool {
	return HasCode(err, ErrCodeValidation)
}

func IsTransportError(err error) bool {
	return HasCode(err, ErrCodeTransport)
}

func IsNotImplemented(err error) bool {
	return HasCode(err, ErrCodeNotImplemented)
}

// ErrorMetadata returns the metadata of the outermost go-errors value in err.
func ErrorMetadata(err error) map[string]any {
	var ge *errors.Error
	if stderrors.As(err, &ge) {
		return ge.Metadata
	}
	return nil
}
