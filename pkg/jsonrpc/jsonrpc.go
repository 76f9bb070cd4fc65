// Package jsonrpc implements JSON-RPC 2.0 request parsing and reply
// writing over the line-framed transport: predefined error codes, strict
// shape validation, and writer helpers producing bit-exact wire lines.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

// Code is a JSON-RPC 2.0 error code.
type Code int

const (
	ParseError     Code = -32700
	InvalidRequest Code = -32600
	MethodNotFound Code = -32601
	InvalidParams  Code = -32602
	InternalError  Code = -32603
)

func (c Code) defaultMessage() string {
	switch c {
	case ParseError:
		return "Parse error"
	case InvalidRequest:
		return "Invalid Request"
	case MethodNotFound:
		return "Method not found"
	case InvalidParams:
		return "Invalid params"
	case InternalError:
		return "Internal error"
	default:
		return "Error"
	}
}

// Error is a JSON-RPC error, satisfying the error interface so callers
// can errors.As into it instead of string-matching.
type Error struct {
	ErrCode Code
	Msg     string
	Data    *jsonvalue.Value
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: %d %s", e.ErrCode, e.Msg)
}

// NewError builds an Error using the code's predefined message.
func NewError(code Code) *Error {
	return &Error{ErrCode: code, Msg: code.defaultMessage()}
}

// WithData attaches a data payload to an error reply.
func (e *Error) WithData(data jsonvalue.Value) *Error {
	return &Error{ErrCode: e.ErrCode, Msg: e.Msg, Data: &data}
}

// ID is a JSON-RPC request/response id: an integer, a string, or absent
// (for notifications / internal messages).
type ID struct {
	set    bool
	isStr  bool
	strVal string
	intVal int64
}

// IntID builds an integer ID.
func IntID(v int64) ID { return ID{set: true, intVal: v} }

// StrID builds a string ID.
func StrID(v string) ID { return ID{set: true, isStr: true, strVal: v} }

// IsSet reports whether the id was present on the request.
func (id ID) IsSet() bool { return id.set }

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.set {
		return []byte("null"), nil
	}
	if id.isStr {
		return json.Marshal(id.strVal)
	}
	return json.Marshal(id.intVal)
}

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ID{}
		return nil
	}
	var asInt int64
	if err := json.Unmarshal(b, &asInt); err == nil {
		*id = ID{set: true, intVal: asInt}
		return nil
	}
	var asStr string
	if err := json.Unmarshal(b, &asStr); err == nil {
		*id = ID{set: true, isStr: true, strVal: asStr}
		return nil
	}
	return fmt.Errorf("id must be an integer or string")
}

// Request is a parsed, validated JSON-RPC 2.0 request.
type Request struct {
	ID     ID
	Method string
	Params jsonvalue.Value
}

type wireRequest struct {
	JSONRPC json.RawMessage `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// ParseRequest parses and strictly validates a single JSON-RPC request
// line. Bytes that are not valid UTF-8 JSON yield ParseError; a
// well-formed JSON document that violates the request shape yields
// InvalidRequest.
func ParseRequest(line []byte) (Request, *Error) {
	// encoding/json silently replaces invalid UTF-8, so check it first.
	if !utf8.Valid(line) {
		return Request{}, NewError(ParseError)
	}
	var w wireRequest
	if err := json.Unmarshal(line, &w); err != nil {
		return Request{}, NewError(ParseError)
	}
	var version string
	if w.JSONRPC == nil || json.Unmarshal(w.JSONRPC, &version) != nil || version != "2.0" {
		return Request{}, NewError(InvalidRequest)
	}
	var method string
	if w.Method == nil || json.Unmarshal(w.Method, &method) != nil {
		return Request{}, NewError(InvalidRequest)
	}

	var id ID
	if w.ID != nil {
		if err := id.UnmarshalJSON(w.ID); err != nil {
			return Request{}, NewError(InvalidRequest)
		}
	}

	var params jsonvalue.Value
	if w.Params != nil {
		trimmed := trimLeadingSpace(w.Params)
		if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
			return Request{}, NewError(InvalidRequest)
		}
		var err error
		params, err = jsonvalue.Raw(w.Params)
		if err != nil {
			return Request{}, NewError(InvalidRequest)
		}
	}

	return Request{ID: id, Method: method, Params: params}, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

// The reply/request writers marshal field-ordered structs, never maps,
// so emitted lines keep the documented member order (jsonrpc first, then
// id, then method/result/error).

type internalRequestWire struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type requestOutWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type successWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result"`
}

type errorBodyWire struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type errorWire struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      ID            `json:"id"`
	Error   errorBodyWire `json:"error"`
}

// FmtInternalRequest renders a node-to-node request carrying params but
// no id, using method as the (non-semantic) method tag.
func FmtInternalRequest(method string, params jsonvalue.Value) (jsonvalue.Value, error) {
	return jsonvalue.From(internalRequestWire{
		JSONRPC: "2.0",
		Method:  method,
		Params:  json.RawMessage(params.Bytes()),
	})
}

// FmtRequest renders an external client request.
func FmtRequest(id ID, method string, params jsonvalue.Value) (jsonvalue.Value, error) {
	return jsonvalue.From(requestOutWire{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  json.RawMessage(params.Bytes()),
	})
}

// FmtSuccess renders a success reply.
func FmtSuccess(id ID, result jsonvalue.Value) (jsonvalue.Value, error) {
	return jsonvalue.From(successWire{
		JSONRPC: "2.0",
		ID:      id,
		Result:  json.RawMessage(result.Bytes()),
	})
}

// FmtError renders an error reply, including a data member iff the error
// carries one.
func FmtError(id ID, err *Error) (jsonvalue.Value, error) {
	body := errorBodyWire{Code: int(err.ErrCode), Message: err.Msg}
	if err.Data != nil {
		body.Data = json.RawMessage(err.Data.Bytes())
	}
	return jsonvalue.From(errorWire{JSONRPC: "2.0", ID: id, Error: body})
}
