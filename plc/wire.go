// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// WriteMessage writes msg as one complete Arrow IPC stream: schema, a single
// batch carrying the message metadata, and end-of-stream. Calls are a
// one-row batch with a column per argument, results a batch with a row per
// result row, and the remaining kinds zero-row batches with an empty schema.
//
// All Arrow buffers are allocated from mem and released before returning.
func WriteMessage(w io.Writer, mem memory.Allocator, msg Message) error {
	batch, err := messageBatch(mem, msg)
	if err != nil {
		return err
	}
	defer batch.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(batch.Schema()), ipc.WithAllocator(mem))
	if err := writer.Write(batch); err != nil {
		writer.Close()
		return fmt.Errorf("writing %s batch: %w", msg.Kind(), err)
	}
	return writer.Close()
}

// ReadMessage reads one complete IPC stream written by WriteMessage. The
// returned message does not reference any Arrow memory.
func ReadMessage(r io.Reader, mem memory.Allocator) (Message, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("reading message IPC stream: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, fmt.Errorf("reading message batch: %w", err)
		}
		return nil, io.EOF
	}
	batch := reader.RecordBatch()

	var meta arrow.Metadata
	if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
		meta = rb.Metadata()
	}
	msg, err := messageFromBatch(batch, meta)
	if err != nil {
		return nil, err
	}

	// Drain remaining batches (read to EOS)
	for reader.Next() {
		// discard
	}
	return msg, nil
}

func messageBatch(mem memory.Allocator, msg Message) (arrow.RecordBatch, error) {
	keys := []string{MetaMessageType, MetaProtocolVersion}
	vals := []string{msg.Kind().String(), ProtocolVersion}

	switch m := msg.(type) {
	case *CallRequest:
		types := make([]*TypeDesc, len(m.Args))
		columns := make([][]Cell, len(m.Args))
		names := make([]string, len(m.Args))
		for i, a := range m.Args {
			types[i] = a.Type
			columns[i] = []Cell{a.Value}
			names[i] = columnName(a.Name, "arg", i)
		}
		keys = append(keys, MetaRequestID, MetaFunction, MetaSource, MetaArgTypes, MetaReturnsSet, MetaLogLevel)
		vals = append(vals, m.RequestID, m.Proc.Name, m.Proc.Src, encodeTypes(types),
			strconv.FormatBool(m.ReturnsSet), string(m.LogLevel))
		if m.ReturnType != nil {
			keys = append(keys, MetaReturnType)
			vals = append(vals, encodeTypes([]*TypeDesc{m.ReturnType}))
		}
		for k, v := range m.TraceContext {
			keys = append(keys, MetaTracePrefix+k)
			vals = append(vals, v)
		}
		return buildBatch(mem, names, types, columns, 1, arrow.NewMetadata(keys, vals))

	case *Result:
		columns := make([][]Cell, len(m.Types))
		names := make([]string, len(m.Types))
		for c := range m.Types {
			columns[c] = make([]Cell, len(m.Rows))
			var name string
			if c < len(m.Names) {
				name = m.Names[c]
			}
			names[c] = columnName(name, "col", c)
		}
		for r, row := range m.Rows {
			if len(row) != len(m.Types) {
				return nil, fmt.Errorf("result row %d has %d values for %d columns", r, len(row), len(m.Types))
			}
			for c, cell := range row {
				columns[c][r] = cell
			}
		}
		keys = append(keys, MetaResultTypes)
		vals = append(vals, encodeTypes(m.Types))
		return buildBatch(mem, names, m.Types, columns, len(m.Rows), arrow.NewMetadata(keys, vals))

	case *Exception:
		keys = append(keys, MetaLogLevel, MetaLogMessage, MetaLogExtra)
		vals = append(vals, string(LogException), m.Message, buildErrorExtra(m))
	case *Log:
		keys = append(keys, MetaLogLevel, MetaLogMessage)
		vals = append(vals, string(m.Level), m.Message)
	case *SQL:
		keys = append(keys, MetaQuery)
		vals = append(vals, m.Query)
	default:
		return nil, fmt.Errorf("cannot encode message %T", msg)
	}
	return buildBatch(mem, nil, nil, nil, 0, arrow.NewMetadata(keys, vals))
}

// buildBatch assembles a batch from per-column cells.
func buildBatch(mem memory.Allocator, names []string, types []*TypeDesc, columns [][]Cell, rows int, meta arrow.Metadata) (arrow.RecordBatch, error) {
	fields := make([]arrow.Field, len(types))
	cols := make([]arrow.Array, 0, len(types))
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	for i, t := range types {
		fields[i] = arrow.Field{Name: names[i], Type: t.ArrowType(), Nullable: true}
		col, err := buildColumn(mem, t, columns[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", names[i], err)
		}
		cols = append(cols, col)
	}
	schema := arrow.NewSchema(fields, nil)
	return array.NewRecordBatchWithMetadata(schema, cols, int64(rows), meta), nil
}

func columnName(name, prefix string, i int) string {
	if name != "" {
		return name
	}
	return prefix + strconv.Itoa(i)
}

func messageFromBatch(batch arrow.RecordBatch, meta arrow.Metadata) (Message, error) {
	kindName, ok := meta.GetValue(MetaMessageType)
	if !ok {
		return nil, fmt.Errorf("missing %q in batch metadata", MetaMessageType)
	}
	kind, ok := messageKindFromName(kindName)
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", kindName)
	}
	version, _ := meta.GetValue(MetaProtocolVersion)
	if version != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %q, expected %q", version, ProtocolVersion)
	}

	switch kind {
	case MsgCall:
		return callFromBatch(batch, meta)
	case MsgResult:
		return resultFromBatch(batch, meta)
	case MsgException:
		msg, _ := meta.GetValue(MetaLogMessage)
		exc := &Exception{Message: msg}
		extra, _ := meta.GetValue(MetaLogExtra)
		parseErrorExtra(extra, exc)
		return exc, nil
	case MsgLog:
		level, _ := meta.GetValue(MetaLogLevel)
		msg, _ := meta.GetValue(MetaLogMessage)
		return &Log{Level: LogLevel(level), Message: msg}, nil
	default:
		query, _ := meta.GetValue(MetaQuery)
		return &SQL{Query: query}, nil
	}
}

func callFromBatch(batch arrow.RecordBatch, meta arrow.Metadata) (*CallRequest, error) {
	if batch.Schema().NumFields() > 0 && batch.NumRows() != 1 {
		return nil, fmt.Errorf("expected 1 row in call batch, got %d", batch.NumRows())
	}
	rawTypes, _ := meta.GetValue(MetaArgTypes)
	types, err := decodeTypes(rawTypes)
	if err != nil {
		return nil, fmt.Errorf("call argument types: %w", err)
	}
	if len(types) != int(batch.NumCols()) {
		return nil, fmt.Errorf("call declares %d argument types for %d columns", len(types), batch.NumCols())
	}

	req := &CallRequest{}
	req.RequestID, _ = meta.GetValue(MetaRequestID)
	req.Proc.Name, _ = meta.GetValue(MetaFunction)
	req.Proc.Src, _ = meta.GetValue(MetaSource)
	level, _ := meta.GetValue(MetaLogLevel)
	req.LogLevel = LogLevel(level)
	if s, ok := meta.GetValue(MetaReturnsSet); ok {
		req.ReturnsSet, _ = strconv.ParseBool(s)
	}
	for i, k := range meta.Keys() {
		if name, ok := strings.CutPrefix(k, MetaTracePrefix); ok {
			if req.TraceContext == nil {
				req.TraceContext = make(map[string]string)
			}
			req.TraceContext[name] = meta.Values()[i]
		}
	}
	if s, ok := meta.GetValue(MetaReturnType); ok {
		ret, err := decodeTypes(s)
		if err != nil {
			return nil, fmt.Errorf("call return type: %w", err)
		}
		if len(ret) == 1 {
			req.ReturnType = ret[0]
		}
	}

	req.Args = make([]Arg, len(types))
	for i, t := range types {
		cell, err := cellFromArrow(t, batch.Column(i), 0)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		req.Args[i] = Arg{Name: batch.Schema().Field(i).Name, Type: t, Value: cell}
	}
	return req, nil
}

func resultFromBatch(batch arrow.RecordBatch, meta arrow.Metadata) (*Result, error) {
	rawTypes, _ := meta.GetValue(MetaResultTypes)
	types, err := decodeTypes(rawTypes)
	if err != nil {
		return nil, fmt.Errorf("result column types: %w", err)
	}
	if len(types) != int(batch.NumCols()) {
		return nil, fmt.Errorf("result declares %d column types for %d columns", len(types), batch.NumCols())
	}

	res := &Result{Types: types, Names: make([]string, len(types))}
	for c := range types {
		res.Names[c] = batch.Schema().Field(c).Name
	}
	rows := int(batch.NumRows())
	res.Rows = make([][]Cell, rows)
	for r := range rows {
		row := make([]Cell, len(types))
		for c, t := range types {
			cell, err := cellFromArrow(t, batch.Column(c), r)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", r, c, err)
			}
			row[c] = cell
		}
		res.Rows[r] = row
	}
	return res, nil
}
