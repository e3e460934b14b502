// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package form implements data forms (XEP-0004).
package form // import "mellium.im/keelsbot/form"

import (
	"errors"
	"strings"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
)

// NS is the data forms namespace.
const NS = ns.Form

// Form types.
const (
	// TypeForm is a form that the receiving entity is asked to fill out.
	TypeForm = "form"

	// TypeSubmit is a completed form or the data gathered by it.
	TypeSubmit = "submit"

	// TypeCancel means the form-submitting entity cancelled submission.
	TypeCancel = "cancel"

	// TypeResult is returned data, for instance the result of a command.
	TypeResult = "result"
)

// ErrNotForm is returned when decoding an element that is not a data form.
var ErrNotForm = errors.New("form: element is not a data form")

// Data represents a data form.
type Data struct {
	title        string
	instructions string
	typ          string
	fields       []field
}

// New builds a new data form from the provided options.
func New(o ...Field) *Data {
	form := &Data{typ: TypeForm}
	for _, f := range o {
		f(form)
	}
	return form
}

// Type returns the type of the form.
func (d *Data) Type() string {
	return d.typ
}

// Title returns the title of the form.
func (d *Data) Title() string {
	return d.title
}

// Instructions returns the instructions of the form.
// Multiple instructions are separated by newlines.
func (d *Data) Instructions() string {
	return d.instructions
}

// Len returns the number of fields on the form.
func (d *Data) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Element encodes the form.
func (d *Data) Element() *element.Element {
	x := element.New(NS, "x").Set("type", d.typ)
	x.AppendText(NS, "title", d.title)
	if d.instructions != "" {
		for _, line := range strings.Split(d.instructions, "\n") {
			x.AppendText(NS, "instructions", line)
		}
	}
	for _, f := range d.fields {
		x.Append(f.element(true))
	}
	return x
}

// Submit returns a form of type submit containing the values of every field
// that has one.
// Fixed fields are never submitted.
// If any required field is missing a value, ok is false.
func (d *Data) Submit() (x *element.Element, ok bool) {
	x = element.New(NS, "x").Set("type", TypeSubmit)
	if d == nil {
		return x, true
	}
	ok = true
	for _, f := range d.fields {
		if f.typ == typeFixed || f.varName == "" {
			continue
		}
		if len(f.value) == 0 {
			if f.required {
				ok = false
			}
			continue
		}
		x.Append(f.element(false))
	}
	return x, ok
}

// Cancel returns a form of type cancel.
func Cancel() *element.Element {
	return element.New(NS, "x").Set("type", TypeCancel)
}

// Decode reads a data form.
// Values that are invalid for their field type are dropped.
func Decode(x *element.Element) (*Data, error) {
	if !x.Is(NS, "x") {
		return nil, ErrNotForm
	}
	d := &Data{typ: x.Get("type")}
	switch d.typ {
	case TypeForm, TypeSubmit, TypeCancel, TypeResult:
	case "":
		d.typ = TypeForm
	default:
		return nil, errors.New("form: invalid form type " + d.typ)
	}
	d.title = x.ChildText(NS, "title")
	var instructions []string
	for _, c := range x.FindAll(NS, "instructions") {
		instructions = append(instructions, c.Text())
	}
	d.instructions = strings.Join(instructions, "\n")
	for _, c := range x.FindAll(NS, "field") {
		f := field{
			typ:      c.Get("type"),
			varName:  c.Get("var"),
			label:    c.Get("label"),
			desc:     c.ChildText(NS, "desc"),
			required: c.Find(NS, "required") != nil,
		}
		if f.typ == "" {
			f.typ = typeTextSingle
		}
		for _, v := range c.FindAll(NS, "value") {
			f.value = append(f.value, v.Text())
		}
		for _, o := range c.FindAll(NS, "option") {
			f.option = append(f.option, option{label: o.Get("label"), value: o.ChildText(NS, "value")})
		}
		f.value = f.normalize(f.value)
		d.fields = append(d.fields, f)
	}
	return d, nil
}

// FieldData is information about a field that is useful when rendering the
// form.
type FieldData struct {
	Type     string
	Var      string
	Label    string
	Desc     string
	Required bool
}

// ForFields calls f for each field on the form in order.
func (d *Data) ForFields(f func(FieldData)) {
	if d == nil {
		return
	}
	for _, field := range d.fields {
		f(FieldData{
			Type:     field.typ,
			Var:      field.varName,
			Label:    field.label,
			Desc:     field.desc,
			Required: field.required,
		})
	}
}
