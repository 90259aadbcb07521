package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

var (
	errMalformedBody = errors.New("request body must be a JSON object")
	errBodyTooLarge  = errors.New("request body too large")
)

// FieldError is one invalid request field.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError lists every invalid field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Reason
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// form is a JSON object whose members are captured raw and decoded on
// demand. Every type error or missing field is recorded instead of
// aborting, so a request is rejected with the complete list of problems.
// Unknown members are ignored.
type form struct {
	prefix string
	fields map[string]jx.Raw
	errs   *[]FieldError
}

// readForm reads the request body as a JSON object. An empty body is an
// empty object.
func (h *Handler) readForm(r *http.Request) (*form, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if int64(len(body)) > h.maxBodyBytes {
		return nil, errBodyTooLarge
	}

	var errs []FieldError
	if len(bytes.TrimSpace(body)) == 0 {
		return &form{fields: map[string]jx.Raw{}, errs: &errs}, nil
	}
	f, err := parseForm(body, "", &errs)
	if err != nil {
		return nil, errMalformedBody
	}
	return f, nil
}

func parseForm(data []byte, prefix string, errs *[]FieldError) (*form, error) {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, errMalformedBody
	}
	f := &form{prefix: prefix, fields: map[string]jx.Raw{}, errs: errs}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		f.fields[string(key)] = raw
		return nil
	}); err != nil {
		return nil, err
	}
	if d.Next() != jx.Invalid {
		return nil, errMalformedBody
	}
	return f, nil
}

// Err returns the collected problems as a *ValidationError, or nil.
func (f *form) Err() error {
	if len(*f.errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: *f.errs}
}

func (f *form) path(field string) string {
	if f.prefix == "" {
		return field
	}
	return f.prefix + "." + field
}

func (f *form) fail(field, reason string) {
	*f.errs = append(*f.errs, FieldError{Field: f.path(field), Reason: reason})
}

// raw returns the member named field. null counts as absent.
func (f *form) raw(field string, required bool) (jx.Raw, bool) {
	raw, ok := f.fields[field]
	if !ok || raw.Type() == jx.Null {
		if required {
			f.fail(field, "is required")
		}
		return nil, false
	}
	return raw, true
}

// Has reports whether field is present and not null.
func (f *form) Has(field string) bool {
	raw, ok := f.fields[field]
	return ok && raw.Type() != jx.Null
}

// String returns a trimmed string member. A required member must not be
// blank.
func (f *form) String(field string, required bool) string {
	raw, ok := f.raw(field, required)
	if !ok {
		return ""
	}
	if raw.Type() != jx.String {
		f.fail(field, "must be a string")
		return ""
	}
	s, err := jx.DecodeBytes(raw).Str()
	if err != nil {
		f.fail(field, "must be a string")
		return ""
	}
	s = strings.TrimSpace(s)
	if required && s == "" {
		f.fail(field, "must not be empty")
	}
	return s
}

// Int returns an integer member.
func (f *form) Int(field string, required bool) (int, bool) {
	raw, ok := f.raw(field, required)
	if !ok {
		return 0, false
	}
	if raw.Type() != jx.Number {
		f.fail(field, "must be an integer")
		return 0, false
	}
	v, err := jx.DecodeBytes(raw).Int()
	if err != nil {
		f.fail(field, "must be an integer")
		return 0, false
	}
	return v, true
}

// OptInt returns an optional integer member as a pointer.
func (f *form) OptInt(field string) *int {
	v, ok := f.Int(field, false)
	if !ok {
		return nil
	}
	return &v
}

// Bool returns a boolean member.
func (f *form) Bool(field string, required bool) bool {
	raw, ok := f.raw(field, required)
	if !ok {
		return false
	}
	if raw.Type() != jx.Bool {
		f.fail(field, "must be a boolean")
		return false
	}
	v, err := jx.DecodeBytes(raw).Bool()
	if err != nil {
		f.fail(field, "must be a boolean")
	}
	return v
}

// Decimal returns a monetary member given either as a JSON number or as a
// numeric string.
func (f *form) Decimal(field string, required bool) (decimal.Decimal, bool) {
	raw, ok := f.raw(field, required)
	if !ok {
		return decimal.Zero, false
	}
	var s string
	switch raw.Type() {
	case jx.Number:
		s = string(raw)
	case jx.String:
		v, err := jx.DecodeBytes(raw).Str()
		if err != nil {
			f.fail(field, "must be a number")
			return decimal.Zero, false
		}
		s = strings.TrimSpace(v)
	default:
		f.fail(field, "must be a number")
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		f.fail(field, "must be a number")
		return decimal.Zero, false
	}
	return d, true
}

// OptDecimal returns an optional monetary member as a pointer.
func (f *form) OptDecimal(field string) *decimal.Decimal {
	d, ok := f.Decimal(field, false)
	if !ok {
		return nil
	}
	return &d
}

// Time returns a timestamp member in RFC 3339 or YYYY-MM-DD form.
func (f *form) Time(field string, required bool) time.Time {
	s := f.String(field, required)
	if s == "" {
		return time.Time{}
	}
	t, err := parseTime(s)
	if err != nil {
		f.fail(field, "must be an RFC 3339 timestamp or a YYYY-MM-DD date")
	}
	return t
}

// Object returns a nested object member. Problems inside it are reported
// with a dotted path.
func (f *form) Object(field string, required bool) *form {
	raw, ok := f.raw(field, required)
	if !ok {
		return nil
	}
	sub, err := parseForm(raw, f.path(field), f.errs)
	if err != nil {
		f.fail(field, "must be an object")
		return nil
	}
	return sub
}

// Objects returns an array of objects. Elements are addressed as
// field[i] in problem reports.
func (f *form) Objects(field string, required bool) []*form {
	raw, ok := f.raw(field, required)
	if !ok {
		return nil
	}
	if raw.Type() != jx.Array {
		f.fail(field, "must be an array")
		return nil
	}
	var (
		out    []*form
		i      int
		before = len(*f.errs)
	)
	err := jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		elem, err := d.Raw()
		if err != nil {
			return err
		}
		name := fmt.Sprintf("%s[%d]", field, i)
		i++
		sub, err := parseForm(elem, f.path(name), f.errs)
		if err != nil {
			f.fail(name, "must be an object")
			return nil
		}
		out = append(out, sub)
		return nil
	})
	if err != nil {
		f.fail(field, "must be an array")
		return nil
	}
	if required && len(out) == 0 && len(*f.errs) == before {
		f.fail(field, "must not be empty")
	}
	return out
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, bool, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, &ValidationError{Fields: []FieldError{{Field: name, Reason: "must be an integer"}}}
	}
	return v, true, nil
}
