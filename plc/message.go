// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import "fmt"

// MessageKind tags the variants of Message.
type MessageKind int

const (
	MsgCall      MessageKind = iota // host -> runtime: invoke a function
	MsgResult                       // either direction: rows of values
	MsgException                    // runtime -> host: the call failed
	MsgLog                          // runtime -> host: a log line
	MsgSQL                          // runtime -> host: run a query
)

var messageKindNames = [...]string{
	MsgCall:      "call",
	MsgResult:    "result",
	MsgException: "exception",
	MsgLog:       "log",
	MsgSQL:       "sql",
}

func (k MessageKind) String() string {
	if k >= 0 && int(k) < len(messageKindNames) {
		return messageKindNames[k]
	}
	return fmt.Sprintf("message(%d)", int(k))
}

func messageKindFromName(name string) (MessageKind, bool) {
	for k, n := range messageKindNames {
		if n == name {
			return MessageKind(k), true
		}
	}
	return 0, false
}

// Message is one unit exchanged over a session.
type Message interface {
	Kind() MessageKind
}

// Cell is one value on the wire. Scalars carry their encoded bytes in Data;
// arrays carry a WireArray. A null cell carries neither.
type Cell struct {
	Null  bool
	Data  []byte
	Array *WireArray
}

// NullCell is the missing value.
var NullCell = Cell{Null: true}

// Proc identifies the function body to run.
type Proc struct {
	Name string
	Src  string
}

// Arg is one named, typed argument of a call.
type Arg struct {
	Name  string
	Type  *TypeDesc
	Value Cell
}

// CallRequest asks the runtime to run a function body with the given
// arguments.
type CallRequest struct {
	RequestID  string
	Proc       Proc
	Args       []Arg
	ReturnType *TypeDesc
	ReturnsSet bool
	// LogLevel is the least severe level the host wants forwarded.
	LogLevel LogLevel
	// TraceContext carries propagated trace headers, e.g. traceparent.
	TraceContext map[string]string
}

// Result is a table of values. Functions return a single column; SQL
// callbacks may return several.
type Result struct {
	Names []string
	Types []*TypeDesc
	Rows  [][]Cell
}

// NumRows returns the number of rows.
func (r *Result) NumRows() int { return len(r.Rows) }

// NumCols returns the number of columns.
func (r *Result) NumCols() int { return len(r.Types) }

// Exception reports that the function body raised an error.
type Exception struct {
	Type       string
	Message    string
	Stacktrace string
}

// Err converts the exception into the error returned to callers.
func (e *Exception) Err() *RemoteError {
	return &RemoteError{Type: e.Type, Message: e.Message, Stacktrace: e.Stacktrace}
}

// Log is a log line emitted by the function body while it runs.
type Log struct {
	Level   LogLevel
	Message string
}

// SQL asks the host to run a query on the function's behalf.
type SQL struct {
	Query string
}

func (*CallRequest) Kind() MessageKind { return MsgCall }
func (*Result) Kind() MessageKind      { return MsgResult }
func (*Exception) Kind() MessageKind   { return MsgException }
func (*Log) Kind() MessageKind         { return MsgLog }
func (*SQL) Kind() MessageKind         { return MsgSQL }

// EncodeValue converts a native value into a cell of the given type. nil
// becomes a null cell.
func EncodeValue(t *TypeDesc, v any) (Cell, error) {
	if v == nil {
		return NullCell, nil
	}
	switch t.Kind() {
	case KindArray:
		a, err := EncodeArray(t.Elem().Kind(), v)
		if err != nil {
			return Cell{}, err
		}
		return Cell{Array: a}, nil
	case KindRecord:
		return Cell{}, marshalErr("encode", KindRecord, ErrUnsupportedType)
	default:
		data, err := EncodeScalar(t.Kind(), v)
		if err != nil {
			return Cell{}, err
		}
		return Cell{Data: data}, nil
	}
}

// DecodeValue converts a cell of the given type into its native value. A null
// cell decodes to nil.
func DecodeValue(t *TypeDesc, c Cell) (any, error) {
	if c.Null {
		return nil, nil
	}
	switch t.Kind() {
	case KindArray:
		if c.Array == nil {
			return nil, marshalErr("decode", KindArray, fmt.Errorf("%w: cell carries no array", ErrTypeMismatch))
		}
		return DecodeArray(c.Array)
	case KindRecord:
		return nil, marshalErr("decode", KindRecord, ErrUnsupportedType)
	default:
		return DecodeScalar(t.Kind(), c.Data)
	}
}
