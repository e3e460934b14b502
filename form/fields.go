// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package form

import (
	"fmt"
	"strings"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/jid"
)

const (
	typeBoolean     = "boolean"
	typeFixed       = "fixed"
	typeHidden      = "hidden"
	typeJIDMulti    = "jid-multi"
	typeJIDSingle   = "jid-single"
	typeListMulti   = "list-multi"
	typeListSingle  = "list-single"
	typeTextMulti   = "text-multi"
	typeTextPrivate = "text-private"
	typeTextSingle  = "text-single"
)

var newlineReplacer = strings.NewReplacer(
	"\r\n", " ",
	"\r", " ",
	"\n", " ",
)

type option struct {
	label string
	value string
}

type field struct {
	typ      string
	varName  string
	label    string
	desc     string
	required bool
	value    []string
	option   []option
}

func (f field) multi() bool {
	switch f.typ {
	case typeJIDMulti, typeListMulti, typeTextMulti:
		return true
	}
	return false
}

func (f field) list() bool {
	return f.typ == typeListMulti || f.typ == typeListSingle
}

// normalize drops values that are invalid for the field type and every value
// after the first for single valued fields.
func (f field) normalize(values []string) []string {
	var out []string
	for _, v := range values {
		switch f.typ {
		case typeBoolean:
			b, ok := parseBool(v)
			if !ok {
				continue
			}
			v = fmt.Sprint(b)
		case typeJIDMulti, typeJIDSingle:
			j, err := jid.Parse(v)
			if err != nil {
				continue
			}
			v = j.String()
		case typeTextSingle, typeTextPrivate:
			v = newlineReplacer.Replace(v)
		}
		out = append(out, v)
		if !f.multi() {
			break
		}
	}
	return out
}

func (f field) element(full bool) *element.Element {
	e := element.New(NS, "field").
		Set("type", f.typ).
		Set("var", f.varName)
	if full {
		e.Set("label", f.label)
		e.AppendText(NS, "desc", f.desc)
		if f.required {
			e.Append(element.New(NS, "required"))
		}
	}
	for _, v := range f.value {
		e.Append(element.New(NS, "value").SetText(v))
	}
	if full && f.list() {
		for _, o := range f.option {
			opt := element.New(NS, "option").Set("label", o.label)
			opt.Append(element.New(NS, "value").SetText(o.value))
			e.Append(opt)
		}
	}
	return e
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "1", "true":
		return true, true
	case "0", "false":
		return false, true
	}
	return false, false
}

// A Field is used to define the behavior and appearance of a data form.
type Field func(*Data)

// Title sets a form's title.
func Title(s string) Field {
	return func(data *Data) {
		data.title = s
	}
}

// Instructions adds new textual instructions to the form.
func Instructions(s string) Field {
	return func(data *Data) {
		if data.instructions != "" {
			data.instructions += "\n"
		}
		data.instructions += s
	}
}

// Result marks a form as the result type.
var Result Field = func(data *Data) {
	data.typ = TypeResult
}

func newField(typ, id string, o []Option) Field {
	return func(data *Data) {
		f := field{typ: typ, varName: id}
		for _, opt := range o {
			opt(&f)
		}
		f.value = f.normalize(f.value)
		if !f.list() {
			f.option = nil
		}
		data.fields = append(data.fields, f)
	}
}

// Boolean fields enable an entity to gather or provide an either-or choice
// between two options.
func Boolean(id string, o ...Option) Field { return newField(typeBoolean, id, o) }

// Fixed is intended for data description (e.g., human-readable text such as
// "section" headers) rather than data gathering or provision.
func Fixed(o ...Option) Field { return newField(typeFixed, "", o) }

// Hidden fields are not shown by the form-submitting entity, but instead are
// returned, generally unmodified, with the form.
func Hidden(id string, o ...Option) Field { return newField(typeHidden, id, o) }

// JIDMulti enables an entity to gather or provide multiple Jabber IDs.
func JIDMulti(id string, o ...Option) Field { return newField(typeJIDMulti, id, o) }

// JID enables an entity to gather or provide a Jabber ID.
func JID(id string, o ...Option) Field { return newField(typeJIDSingle, id, o) }

// ListMulti enables an entity to gather or provide one or more entries from a
// list.
func ListMulti(id string, o ...Option) Field { return newField(typeListMulti, id, o) }

// List enables an entity to gather or provide one entry from a list.
func List(id string, o ...Option) Field { return newField(typeListSingle, id, o) }

// TextMulti enables an entity to gather or provide multiple lines of text.
func TextMulti(id string, o ...Option) Field { return newField(typeTextMulti, id, o) }

// TextPrivate enables an entity to gather or provide a line of text that
// should be obscured in the user interface.
func TextPrivate(id string, o ...Option) Field { return newField(typeTextPrivate, id, o) }

// Text enables an entity to gather or provide a line of text.
func Text(id string, o ...Option) Field { return newField(typeTextSingle, id, o) }

// A Option is used to define the behavior and appearance of a form field.
type Option func(*field)

// Required flags the field as required in order for the form to be considered
// valid.
var Required Option = func(f *field) {
	f.required = true
}

// Desc provides a natural-language description of the field, intended for
// presentation in a user-agent (e.g., as a "tool-tip", help button, or
// explanatory text provided near the field).
func Desc(s string) Option {
	return func(f *field) {
		f.desc = s
	}
}

// Value defines the default value for the field.
// Multi valued fields may contain more than one value; all other field types
// only use the first valid value.
func Value(s string) Option {
	return func(f *field) {
		f.value = append(f.value, s)
	}
}

// Label defines a human-readable name for the field.
func Label(s string) Option {
	return func(f *field) {
		f.label = s
	}
}

// ListItem adds a list item with the provided label and value.
// It has no effect on any non-list field type.
func ListItem(label, value string) Option {
	return func(f *field) {
		f.option = append(f.option, option{label: label, value: value})
	}
}

func (d *Data) find(id string) (*field, bool) {
	if d == nil || id == "" {
		return nil, false
	}
	for i := range d.fields {
		if d.fields[i].varName == id {
			return &d.fields[i], true
		}
	}
	return nil, false
}

// Raw returns the values of the field with the given var.
func (d *Data) Raw(id string) ([]string, bool) {
	f, ok := d.find(id)
	if !ok {
		return nil, false
	}
	return append([]string(nil), f.value...), true
}

// GetString returns the first value of a field.
// It reports false if the field does not exist or has no value.
func (d *Data) GetString(id string) (string, bool) {
	f, ok := d.find(id)
	if !ok || len(f.value) == 0 {
		return "", false
	}
	return f.value[0], true
}

// GetStrings returns the values of a multi valued text or list field.
func (d *Data) GetStrings(id string) ([]string, bool) {
	f, ok := d.find(id)
	if !ok || (f.typ != typeTextMulti && f.typ != typeListMulti) {
		return nil, false
	}
	return append([]string(nil), f.value...), true
}

// GetBool returns the value of a boolean field.
func (d *Data) GetBool(id string) (bool, bool) {
	f, ok := d.find(id)
	if !ok || f.typ != typeBoolean || len(f.value) == 0 {
		return false, false
	}
	return f.value[0] == "true", true
}

// GetJID returns the value of a jid-single field.
func (d *Data) GetJID(id string) (jid.JID, bool) {
	f, ok := d.find(id)
	if !ok || f.typ != typeJIDSingle || len(f.value) == 0 {
		return jid.JID{}, false
	}
	j, err := jid.Parse(f.value[0])
	return j, err == nil
}

// GetJIDs returns the values of a jid-multi field.
func (d *Data) GetJIDs(id string) ([]jid.JID, bool) {
	f, ok := d.find(id)
	if !ok || f.typ != typeJIDMulti {
		return nil, false
	}
	var out []jid.JID
	for _, v := range f.value {
		if j, err := jid.Parse(v); err == nil {
			out = append(out, j)
		}
	}
	return out, true
}

// Set replaces the values of a field.
// The value must be a bool, a string, a []string, a jid.JID or a []jid.JID
// that fits the field type.
// Set reports false if no field with the given var exists.
func (d *Data) Set(id string, v any) (bool, error) {
	f, ok := d.find(id)
	if !ok {
		return false, nil
	}
	var values []string
	switch val := v.(type) {
	case bool:
		if f.typ != typeBoolean {
			return true, fmt.Errorf("form: cannot set %s field %s to a bool", f.typ, id)
		}
		values = []string{fmt.Sprint(val)}
	case string:
		values = []string{val}
	case []string:
		if !f.multi() {
			return true, fmt.Errorf("form: cannot set single valued field %s to many values", id)
		}
		values = val
	case jid.JID:
		if f.typ != typeJIDSingle && f.typ != typeJIDMulti {
			return true, fmt.Errorf("form: cannot set %s field %s to an address", f.typ, id)
		}
		values = []string{val.String()}
	case []jid.JID:
		if f.typ != typeJIDMulti {
			return true, fmt.Errorf("form: cannot set %s field %s to many addresses", f.typ, id)
		}
		for _, j := range val {
			values = append(values, j.String())
		}
	default:
		return true, fmt.Errorf("form: unsupported value type %T", v)
	}
	f.value = f.normalize(values)
	return true, nil
}
