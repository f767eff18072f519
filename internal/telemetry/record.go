// Package telemetry assembles the periodic telemetry record and decides the
// device power mode.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

type Field struct {
	Name  string
	Value any
}

// Record is an ordered set of named values. It marshals to a JSON object
// with keys in insertion order.
type Record struct {
	fields []Field
	index  map[string]int
}

func NewRecord() *Record {
	return &Record{index: make(map[string]int)}
}

// Set adds name, or replaces its value in place when already present.
func (r *Record) Set(name string, v any) {
	if i, ok := r.index[name]; ok {
		r.fields[i].Value = v
		return
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: v})
}

func (r *Record) Get(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.fields[i].Value, true
}

func (r *Record) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.fields)
}

// Fields returns a copy of the fields in order.
func (r *Record) Fields() []Field {
	if r == nil {
		return nil
	}
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Names returns the field names in order.
func (r *Record) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.fields))
	for i, f := range r.fields {
		out[i] = f.Name
	}
	return out
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := &Record{fields: r.Fields(), index: make(map[string]int, len(r.index))}
	for k, v := range r.index {
		c.index[k] = v
	}
	return c
}

func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r != nil {
		for i, f := range r.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Name)
			if err != nil {
				return nil, err
			}
			v, err := json.Marshal(f.Value)
			if err != nil {
				return nil, fmt.Errorf("telemetry: field %s: %w", f.Name, err)
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decimal renders v with exactly n digits after the point.
func Decimal(n int, v float64) json.Number {
	return json.Number(strconv.FormatFloat(v, 'f', n, 64))
}

// setDecimal stores v as a Decimal, dropping values JSON cannot carry.
func setDecimal(r *Record, name string, n int, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	r.Set(name, Decimal(n, v))
}

type message struct {
	TS     int64   `json:"ts"`
	Values *Record `json:"values"`
}

// Encode builds the published payload {"ts":<unix ms>,"values":{...}}.
func Encode(ts time.Time, r *Record) ([]byte, error) {
	if r == nil {
		r = NewRecord()
	}
	return json.Marshal(message{TS: ts.UnixMilli(), Values: r})
}
