// Package response classifies OData responses into payloads or typed errors.
package response

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zmcp/odata-provider/internal/constants"
	"github.com/zmcp/odata-provider/internal/models"
)

// Kind distinguishes HTTP failures from error envelopes in successful responses
type Kind string

const (
	// KindTransport is a non-2xx response
	KindTransport Kind = "transport"
	// KindServer is a 2xx response carrying an error envelope
	KindServer Kind = "server"
)

// Error is a classified failure
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Body       []byte
	// Detail is the decoded error envelope, when the body carried one
	Detail *models.ODataError
}

func (e *Error) Error() string {
	if e.Kind == KindTransport {
		return fmt.Sprintf("OData transport error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("OData server error: %s", e.Message)
}

// Detailed renders the message with code, target and details, in the form
// shown to tool callers
func (e *Error) Detailed() string {
	if e.Detail == nil {
		return e.Error()
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("OData error (HTTP %d)", e.StatusCode))
	if e.Detail.Code != "" {
		msg.WriteString(fmt.Sprintf(" [%s]", e.Detail.Code))
	}
	msg.WriteString(": " + e.Message)
	if e.Detail.Target != "" {
		msg.WriteString(fmt.Sprintf(" (target: %s)", e.Detail.Target))
	}
	for i, detail := range e.Detail.Details {
		if i == 0 {
			msg.WriteString(" | Details: ")
		} else {
			msg.WriteString("; ")
		}
		msg.WriteString(detail.Message)
	}
	return msg.String()
}

// IsNotFound reports whether the failure is a 404
func (e *Error) IsNotFound() bool {
	return e.Kind == KindTransport && e.StatusCode == 404
}

// Classify maps a raw response onto a payload or an *Error.
//
// Rules, in order: a non-2xx status is a transport error whose message is the
// envelope message, else statusText, else fallback. A 2xx body with an error
// envelope is a server error. Anything else is a payload.
func Classify(statusCode int, statusText string, body []byte, fallback string) (*Payload, error) {
	var parsed map[string]interface{}
	var parseErr error
	if len(strings.TrimSpace(string(body))) > 0 {
		parseErr = json.Unmarshal(body, &parsed)
	}

	if statusCode < 200 || statusCode > 299 {
		message := statusText
		if msg, ok := envelopeMessage(parsed); ok {
			message = msg
		}
		if message == "" {
			message = fallback
		}
		return nil, &Error{
			Kind:       KindTransport,
			Message:    message,
			StatusCode: statusCode,
			Body:       body,
			Detail:     decodeError(body),
		}
	}

	if msg, ok := envelopeMessage(parsed); ok {
		return nil, &Error{
			Kind:       KindServer,
			Message:    msg,
			StatusCode: statusCode,
			Body:       body,
			Detail:     decodeError(body),
		}
	}

	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", parseErr)
	}

	return &Payload{body: normalize(parsed)}, nil
}

// Payload is a successful, normalized response body
type Payload struct {
	body map[string]interface{}
}

// Empty reports whether the response had no body (204 No Content)
func (p *Payload) Empty() bool {
	return len(p.body) == 0
}

// List returns the collection and its total. Without an inline count the
// total is the collection length.
func (p *Payload) List() ([]models.Record, int64) {
	records, _ := toRecords(p.body[constants.ValueMember])
	if records == nil {
		records = []models.Record{}
	}
	if total, ok := parseCount(p.body[constants.ODataCount]); ok {
		return records, total
	}
	return records, int64(len(records))
}

// Entity returns the single entity with control annotations removed
func (p *Payload) Entity() models.Record {
	record := make(models.Record, len(p.body))
	for k, v := range p.body {
		if k == constants.ODataContext || k == "__metadata" {
			continue
		}
		record[k] = v
	}
	return record
}

// Expanded returns the inlined navigation collection named target. The total
// is the collection length since expansions carry no count.
func (p *Payload) Expanded(target string) ([]models.Record, int64) {
	records, ok := toRecords(p.body[target])
	if !ok {
		// single-valued navigation
		if record, isObj := p.body[target].(map[string]interface{}); isObj {
			records = []models.Record{record}
		} else {
			records = []models.Record{}
		}
	}
	return records, int64(len(records))
}

// NextLink returns the server-driven paging link, if any
func (p *Payload) NextLink() string {
	next, _ := p.body[constants.ODataNextLink].(string)
	return next
}
