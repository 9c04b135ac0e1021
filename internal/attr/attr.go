// Package attr implements the ordered name→value attribute store and its
// typed parse layer (spec §4.2). Lookup is linear scan since attribute
// counts are small (tens to low hundreds per entity).
package attr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tags which entity an attribute belongs to.
type Kind int

const (
	Context Kind = iota
	Device
	Debug
	Buffer
	Channel
)

// RawIO is the backend v-table slice an AttrList calls through for the
// actual bytes (spec §4.2 "Attribute I/O contract").
type RawIO interface {
	ReadRaw(a *Attribute, cap int) (string, error)
	WriteRaw(a *Attribute, value string) (int, error)
}

// Attribute is a single name/filename pair tagged by Kind, with a
// back-pointer to the owning entity (opaque to this package) and the
// backend used for raw I/O.
type Attribute struct {
	Kind     Kind
	Name     string
	Filename string
	Owner    any
	io       RawIO
}

// List is an ordered, name-sorted sequence of attributes. For Context
// kind, Values holds a parallel array kept in lockstep with Attrs by
// sorted position.
type List struct {
	Kind   Kind
	Attrs  []*Attribute
	Values []string // only meaningful when Kind == Context
}

// NewList creates an empty attribute list of the given kind.
func NewList(kind Kind) *List {
	return &List{Kind: kind}
}

// Insert adds an attribute, keeping Attrs sorted by Name (case-sensitive
// lexicographic) and, for Context lists, keeping Values in lockstep by
// shifting at the insertion index.
func (l *List) Insert(a *Attribute, value string) {
	if a.Filename == "" {
		a.Filename = a.Name
	}
	idx := sort.Search(len(l.Attrs), func(i int) bool {
		return l.Attrs[i].Name >= a.Name
	})
	l.Attrs = append(l.Attrs, nil)
	copy(l.Attrs[idx+1:], l.Attrs[idx:])
	l.Attrs[idx] = a

	if l.Kind == Context {
		l.Values = append(l.Values, "")
		copy(l.Values[idx+1:], l.Values[idx:])
		l.Values[idx] = value
	}
}

// Find returns the attribute named name, or nil.
func (l *List) Find(name string) *Attribute {
	for i, a := range l.Attrs {
		if a.Name == name {
			_ = i
			return a
		}
	}
	return nil
}

// ValueAt returns the Context-kind value paired with attribute index i.
func (l *List) ValueAt(i int) (string, bool) {
	if l.Kind != Context || i < 0 || i >= len(l.Values) {
		return "", false
	}
	return l.Values[i], true
}

// SetValueAt updates the Context-kind value paired with attribute index i.
func (l *List) SetValueAt(i int, v string) bool {
	if l.Kind != Context || i < 0 || i >= len(l.Values) {
		return false
	}
	l.Values[i] = v
	return true
}

// IndexOf returns the sorted position of attribute name, or -1.
func (l *List) IndexOf(name string) int {
	for i, a := range l.Attrs {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// ---- typed read/write layer ----

// ErrPermission is returned when writing a read-only (e.g. Context-kind)
// attribute.
var ErrPermission = fmt.Errorf("attr: attribute is read-only")

// ErrUnsupported is returned by Range/AvailableList when the attribute
// does not satisfy the "*_available" precondition, and by any
// Range/AvailableList call against a Buffer-kind attribute.
var ErrUnsupported = fmt.Errorf("attr: unsupported")

// ErrNotFound is used by higher layers; kept here for callers that want
// a single sentinel when Find returns nil.
var ErrNotFound = fmt.Errorf("attr: not found")

// ReadRaw reads the raw string value via the attribute's backend.
func ReadRaw(a *Attribute) (string, error) {
	if a.io == nil {
		return "", fmt.Errorf("attr: no backend bound")
	}
	return a.io.ReadRaw(a, 0)
}

// WriteRaw writes the raw string value via the attribute's backend.
// Context attributes are write-protected.
func WriteRaw(a *Attribute, value string) error {
	if a.Kind == Context {
		return ErrPermission
	}
	if a.io == nil {
		return fmt.Errorf("attr: no backend bound")
	}
	_, err := a.io.WriteRaw(a, value)
	return err
}

// Bind attaches the backend RawIO implementation to the attribute.
func Bind(a *Attribute, io RawIO) { a.io = io }

// ReadLongLong parses the raw value with strtoll semantics (base 10,
// range-checked into int64).
func ReadLongLong(a *Attribute) (int64, error) {
	s, err := ReadRaw(a)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadArgument, err)
	}
	return v, nil
}

// ErrBadArgument is returned by typed parsers when the raw string does
// not parse, per spec §7 propagation policy ("Parse errors ... become
// BadArgument with the raw string still available via a separate raw
// read").
var ErrBadArgument = fmt.Errorf("attr: bad argument")

// ReadDouble parses the raw value in the "C" numeric locale (a plain '.'
// decimal point), regardless of process locale.
func ReadDouble(a *Attribute) (float64, error) {
	s, err := ReadRaw(a)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadArgument, err)
	}
	return v, nil
}

// WriteDouble formats and writes v in the "C" numeric locale.
func WriteDouble(a *Attribute, v float64) error {
	return WriteRaw(a, strconv.FormatFloat(v, 'g', -1, 64))
}

// ReadBool reports true iff the parsed integer value is non-zero.
func ReadBool(a *Attribute) (bool, error) {
	v, err := ReadLongLong(a)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Range is the parsed "[ min step max ]" form of a *_available attribute.
type Range struct {
	Min, Step, Max float64
}

// ReadRange succeeds iff a.Name ends with "_available" and the value
// matches "[ min step max ]"; Buffer-kind attributes always fail.
func ReadRange(a *Attribute) (Range, error) {
	if a.Kind == Buffer {
		return Range{}, ErrUnsupported
	}
	if !strings.HasSuffix(a.Name, "_available") {
		return Range{}, ErrUnsupported
	}
	s, err := ReadRaw(a)
	if err != nil {
		return Range{}, err
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return Range{}, ErrUnsupported
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	fields := strings.Fields(inner)
	if len(fields) != 3 {
		return Range{}, ErrUnsupported
	}
	vals := make([]float64, 3)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Range{}, ErrUnsupported
		}
		vals[i] = v
	}
	return Range{Min: vals[0], Step: vals[1], Max: vals[2]}, nil
}

// ReadAvailableList splits the value by whitespace; same precondition as
// ReadRange.
func ReadAvailableList(a *Attribute) ([]string, error) {
	if a.Kind == Buffer {
		return nil, ErrUnsupported
	}
	if !strings.HasSuffix(a.Name, "_available") {
		return nil, ErrUnsupported
	}
	s, err := ReadRaw(a)
	if err != nil {
		return nil, err
	}
	return strings.Fields(s), nil
}
