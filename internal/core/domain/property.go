package domain

import (
	"strconv"
	"strings"
)

// PropertyType is the type of a named property on a store row.
type PropertyType string

const (
	PropertyTitle    PropertyType = "title"
	PropertyRichText PropertyType = "rich_text"
	PropertyCheckbox PropertyType = "checkbox"
	PropertySelect   PropertyType = "select"
	PropertyEmail    PropertyType = "email"
	PropertyPhone    PropertyType = "phone_number"
	PropertyURL      PropertyType = "url"
	PropertyNumber   PropertyType = "number"
	PropertyFiles    PropertyType = "files"
)

// Value is a typed property value. Only the field matching Type is meaningful.
type Value struct {
	Type   PropertyType `json:"type"`
	Text   string       `json:"text,omitempty"`
	Bool   bool         `json:"bool,omitempty"`
	Number *float64     `json:"number,omitempty"`
}

func Checkbox(b bool) Value { return Value{Type: PropertyCheckbox, Bool: b} }

func Number(n float64) Value { return Value{Type: PropertyNumber, Number: &n} }

func RichText(s string) Value { return Value{Type: PropertyRichText, Text: s} }

func Title(s string) Value { return Value{Type: PropertyTitle, Text: s} }

func Select(s string) Value { return Value{Type: PropertySelect, Text: s} }

func Email(s string) Value { return Value{Type: PropertyEmail, Text: s} }

func Phone(s string) Value { return Value{Type: PropertyPhone, Text: s} }

func URL(s string) Value { return Value{Type: PropertyURL, Text: s} }

// IsEmpty reports whether the value carries no usable content.
// An unchecked checkbox is not empty.
func (v Value) IsEmpty() bool {
	switch v.Type {
	case PropertyCheckbox:
		return false
	case PropertyNumber:
		return v.Number == nil
	default:
		return strings.TrimSpace(v.Text) == ""
	}
}

// String renders the value for logs and tables.
func (v Value) String() string {
	switch v.Type {
	case PropertyCheckbox:
		return strconv.FormatBool(v.Bool)
	case PropertyNumber:
		if v.Number == nil {
			return ""
		}
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	default:
		return v.Text
	}
}

// Row is a raw record as returned by a store query.
type Row struct {
	ID         string
	Properties map[string]Value
}

// Get returns the named property, or the zero Value when absent.
func (r Row) Get(name string) (Value, bool) {
	v, ok := r.Properties[name]
	return v, ok
}
