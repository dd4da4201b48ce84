// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import "fmt"

// frame is one level of the traversal stack: the sequence being walked at
// that dimension and the index of the current element in it. A frame with a
// nil list holds no reference.
type frame struct {
	list []any
	pos  int
}

// ArrayProducer walks a nested value depth-first and yields its leaves in
// row-major order, one encoded element per call to Next.
//
// The dimensions are taken from the first element at every level when the
// producer is created. Siblings are not checked against them up front: a
// shorter sibling or a scalar where a sequence is expected is reported as
// ErrRaggedArray when the traversal reaches it, a longer sibling is silently
// truncated.
//
// Every element is encoded with the scalar kind given at construction, not
// with the kind of the element's Go value. The producer keeps references into
// the nested value, which must not be modified until the producer is
// exhausted or closed. A producer is not safe for concurrent use.
type ArrayProducer struct {
	elem   Kind
	dims   []int
	frames []frame
	done   bool
	err    error
}

// NewArrayProducer prepares a traversal of root, which must be a sequence.
// Elements are encoded as elem.
func NewArrayProducer(elem Kind, root any) (*ArrayProducer, error) {
	if !elem.IsScalar() {
		return nil, marshalErr("encode", elem, ErrUnsupportedType)
	}
	list, ok := asList(root)
	if !ok {
		return nil, marshalErr("encode", elem, fmt.Errorf("%w: got %T", ErrNotAnArray, root))
	}

	p := &ArrayProducer{elem: elem}
	for {
		p.dims = append(p.dims, len(list))
		p.frames = append(p.frames, frame{list: list})
		if len(list) == 0 {
			break
		}
		child, ok := asList(list[0])
		if !ok {
			break
		}
		list = child
	}

	for _, d := range p.dims {
		if d == 0 {
			p.release()
			break
		}
	}
	return p, nil
}

// Dims returns the dimension lengths discovered at construction.
func (p *ArrayProducer) Dims() []int { return p.dims }

// Len returns the number of elements the producer will yield.
func (p *ArrayProducer) Len() int {
	n := 1
	for _, d := range p.dims {
		n *= d
	}
	return n
}

// Held returns the number of sequences the producer currently references.
// It drops to zero once the producer is exhausted or closed.
func (p *ArrayProducer) Held() int {
	n := 0
	for _, f := range p.frames {
		if f.list != nil {
			n++
		}
	}
	return n
}

// Next yields the next element. The boolean is false once the traversal is
// exhausted; callers must stop calling Next at that point.
func (p *ArrayProducer) Next() (Cell, bool, error) {
	if p.err != nil {
		err := p.err
		p.release()
		return Cell{}, false, err
	}
	if p.done {
		return Cell{}, false, nil
	}

	inner := len(p.frames) - 1
	f := p.frames[inner]
	if f.pos >= len(f.list) {
		p.release()
		return Cell{}, false, marshalErr("encode", p.elem,
			fmt.Errorf("%w: dimension %d has %d elements, expected %d", ErrRaggedArray, inner, len(f.list), p.dims[inner]))
	}

	var cell Cell
	if v := f.list[f.pos]; v == nil {
		cell.Null = true
	} else {
		data, err := EncodeScalar(p.elem, v)
		if err != nil {
			p.release()
			return Cell{}, false, err
		}
		cell.Data = data
	}

	p.advance()
	return cell, true, nil
}

// advance moves the cursor to the next leaf: bump the innermost index, pop
// finished dimensions, then re-descend below the first dimension that still
// has elements left.
func (p *ArrayProducer) advance() {
	level := len(p.frames) - 1
	for level >= 0 {
		p.frames[level].pos++
		if p.frames[level].pos < p.dims[level] {
			break
		}
		p.frames[level] = frame{}
		level--
	}
	if level < 0 {
		p.release()
		return
	}
	for l := level + 1; l < len(p.frames); l++ {
		parent := p.frames[l-1]
		if parent.pos >= len(parent.list) {
			p.err = marshalErr("encode", p.elem,
				fmt.Errorf("%w: dimension %d has %d elements, expected %d", ErrRaggedArray, l-1, len(parent.list), p.dims[l-1]))
			return
		}
		child, ok := asList(parent.list[parent.pos])
		if !ok {
			p.err = marshalErr("encode", p.elem,
				fmt.Errorf("%w: expected a sequence at dimension %d, got %T", ErrRaggedArray, l, parent.list[parent.pos]))
			return
		}
		p.frames[l] = frame{list: child}
	}
}

// Close releases every reference the producer holds. It is safe to call on
// an exhausted producer and after an aborted traversal.
func (p *ArrayProducer) Close() {
	p.release()
	p.err = nil
}

func (p *ArrayProducer) release() {
	for i := range p.frames {
		p.frames[i] = frame{}
	}
	p.done = true
}

// EncodeArray drives a producer over v and collects the elements into a wire
// array. An array without elements encodes as a zero-dimensional array.
func EncodeArray(elem Kind, v any) (*WireArray, error) {
	p, err := NewArrayProducer(elem, v)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	out := &WireArray{Elem: elem}
	n := p.Len()
	if n == 0 {
		return out, nil
	}
	out.Dims = append([]int(nil), p.Dims()...)
	out.Nulls = make([]bool, 0, n)
	if w := elem.Width(); w > 0 {
		out.Data = make([]byte, 0, n*w)
	}
	for {
		cell, ok, err := p.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out.Nulls = append(out.Nulls, cell.Null)
		if !cell.Null {
			out.appendValue(cell.Data)
		}
	}
	return out, nil
}
