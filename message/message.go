// Package message defines the JSON messages exchanged between a host and a
// worker: execute requests, input replies, responses, input requests and
// fatal worker errors.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Message types carried in the "type" field.
const (
	TypeExecute      = "execute"
	TypeInputReply   = "input_reply"
	TypeInputRequest = "input_request"
)

// Error taxonomy reported in the errorType field.
const (
	ErrorTypeInitialization     = "InitializationError"
	ErrorTypePackageInstall     = "PackageInstallError"
	ErrorTypeValidation         = "ValidationError"
	ErrorTypeTimeout            = "TimeoutError"
	ErrorTypeBusy               = "BusyError"
	ErrorTypeSyntax             = "SyntaxError"
	ErrorTypeName               = "NameError"
	ErrorTypeType               = "TypeError"
	ErrorTypeImport             = "ImportError"
	ErrorTypeIndex              = "IndexError"
	ErrorTypeKey                = "KeyError"
	ErrorTypePython             = "PythonError"
	ErrorTypeWorker             = "WorkerError"
	ErrorTypeUnhandledRejection = "UnhandledPromiseRejection"
)

// DefaultTimeout applies when an execute request carries no timeout.
const DefaultTimeout = 120 * time.Second

var ErrUnknownMessage = errors.New("unknown message")

// ID is the caller-supplied request identifier. It is kept as raw JSON so
// numbers and strings round-trip unchanged.
type ID []byte

// StringID returns an ID holding a JSON string.
func StringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID(b)
}

// IntID returns an ID holding a JSON number.
func IntID(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

func (id ID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return []byte(id), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	*id = append((*id)[:0], data...)
	return nil
}

// String returns the identifier without JSON string quoting.
func (id ID) String() string {
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}
	return string(id)
}

// Equal reports whether both IDs hold the same raw JSON.
func (id ID) Equal(other ID) bool {
	return bytes.Equal(id, other)
}

// ProxyConfig describes an outbound proxy for package installation and
// interpreter-side HTTP.
type ProxyConfig struct {
	Enabled  bool   `json:"enabled"`
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     Port   `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// URL renders the proxy as scheme://[user:pass@]host:port.
func (p ProxyConfig) URL() (*url.URL, error) {
	if p.Host == "" {
		return nil, errors.New("proxy host required")
	}
	scheme := p.Type
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{Scheme: scheme, Host: p.Host}
	if p.Port != "" {
		u.Host = net.JoinHostPort(p.Host, string(p.Port))
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}

// Port accepts either a JSON number or a JSON string.
type Port string

func (p *Port) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Port(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid port %s", data)
	}
	*p = Port(n.String())
	return nil
}

// ExecuteRequest asks the worker to run Python code.
type ExecuteRequest struct {
	Type        string         `json:"type,omitempty"`
	ID          ID             `json:"id"`
	Code        string         `json:"code"`
	Packages    []string       `json:"packages,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	ProxyConfig *ProxyConfig   `json:"proxyConfig,omitempty"`
	TimeoutMs   int64          `json:"timeout,omitempty"`
}

// Timeout returns the request timeout, falling back to DefaultTimeout when
// the request carries none or a non-positive one.
func (r ExecuteRequest) Timeout() time.Duration {
	if r.TimeoutMs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// InputReply delivers a value for a pending or future input() call.
type InputReply struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// InputRequest is posted when interpreter code calls input().
type InputRequest struct {
	Type      string `json:"type"`
	Prompt    string `json:"prompt"`
	Timestamp string `json:"timestamp"`
}

// NewInputRequest stamps a request with the current time.
func NewInputRequest(prompt string) InputRequest {
	return InputRequest{
		Type:      TypeInputRequest,
		Prompt:    prompt,
		Timestamp: strconv.FormatFloat(float64(time.Now().UnixNano())/1e6, 'f', 3, 64),
	}
}

// FatalError reports a worker-level fault not tied to a request.
type FatalError struct {
	Success     bool     `json:"success"`
	Error       string   `json:"error"`
	ErrorType   string   `json:"errorType"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// InvalidRequestError reports an execute request whose fields could not
// be decoded. ID is set when the envelope carried one.
type InvalidRequestError struct {
	ID  ID
	Err error
}

func (e *InvalidRequestError) Error() string {
	return "decode execute request: " + e.Err.Error()
}

func (e *InvalidRequestError) Unwrap() error { return e.Err }

// Decode parses one host message into *ExecuteRequest or *InputReply.
// A message without a type but with a code field is an execute request.
func Decode(data []byte) (any, error) {
	var envelope struct {
		Type string          `json:"type"`
		ID   json.RawMessage `json:"id"`
		Code json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch {
	case envelope.Type == TypeInputReply:
		var reply InputReply
		if err := json.Unmarshal(data, &reply); err != nil {
			return nil, fmt.Errorf("decode input reply: %w", err)
		}
		return &reply, nil
	case envelope.Type == TypeExecute || envelope.Code != nil:
		var req ExecuteRequest
		if err := json.Unmarshal(data, &req); err != nil {
			invalid := &InvalidRequestError{Err: err}
			if id := bytes.TrimSpace(envelope.ID); len(id) > 0 && !bytes.Equal(id, []byte("null")) {
				invalid.ID = ID(id)
			}
			return nil, invalid
		}
		return &req, nil
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnknownMessage, envelope.Type)
	}
}
