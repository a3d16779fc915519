package cache

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// KeySerializer builds the canonical text of a cache key from a statement id
// and the values that select its result. Equal inputs must produce equal text.
type KeySerializer interface {
	SerializeKey(statement string, args ...any) string
}

// defaultKeySerializer writes values with reflection. Bound parameters are
// usually scalars, driver.Valuer implementations or time values, so those
// are handled before falling back to the generic walk.
//
// Every value is written with a type tag, and variable length text carries
// its length, so the text of one value never reads as the text of another:
// "1" is s1:1 while 1 is i:1, and ("a,b", "c") differs from ("a", "b,c").
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey joins the escaped statement id and every serialized argument
// with KeySeparator.
func (s *defaultKeySerializer) SerializeKey(statement string, args ...any) string {
	var b strings.Builder
	b.WriteString(statementEscaper.Replace(statement))
	for _, arg := range args {
		b.WriteString(KeySeparator)
		s.write(&b, arg)
	}
	return b.String()
}

// statementEscaper keeps KeySeparator out of the statement id.
var statementEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// writeText writes tag, the byte length of text, a colon and text.
func writeText(b *strings.Builder, tag, text string) {
	b.WriteString(tag)
	b.WriteString(strconv.Itoa(len(text)))
	b.WriteByte(':')
	b.WriteString(text)
}

func (s *defaultKeySerializer) write(b *strings.Builder, v any) {
	switch tv := v.(type) {
	case nil:
		b.WriteString("nil")
		return
	case string:
		writeText(b, "s", tv)
		return
	case []byte:
		if tv == nil {
			b.WriteString("bytes:nil")
			return
		}
		writeText(b, "x", hex.EncodeToString(tv))
		return
	case time.Time:
		writeText(b, "t", tv.UTC().Format(time.RFC3339Nano))
		return
	case time.Duration:
		b.WriteString("d:")
		b.WriteString(strconv.FormatInt(int64(tv), 10))
		return
	case driver.Valuer:
		rv := reflect.ValueOf(tv)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			b.WriteString("nil")
			return
		}
		value, err := tv.Value()
		if err != nil {
			writeText(b, "valuer", fmt.Sprintf("%T", tv))
			return
		}
		s.write(b, value)
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			b.WriteString("nil")
			return
		}
		s.write(b, rv.Elem().Interface())
	case reflect.Interface:
		if rv.IsNil() {
			b.WriteString("nil")
			return
		}
		s.write(b, rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			b.WriteString("slice:nil")
			return
		}
		s.writeSequence(b, "slice", rv)
	case reflect.Array:
		s.writeSequence(b, "array", rv)
	case reflect.Map:
		if rv.IsNil() {
			b.WriteString("map:nil")
			return
		}
		s.writeMap(b, rv)
	case reflect.Struct:
		s.writeStruct(b, rv)
	case reflect.Bool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString("u:")
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32:
		b.WriteString("f:")
		b.WriteString(strconv.FormatFloat(rv.Float(), 'g', -1, 32))
	case reflect.Float64:
		b.WriteString("f:")
		b.WriteString(strconv.FormatFloat(rv.Float(), 'g', -1, 64))
	case reflect.String:
		writeText(b, "s", rv.String())
	case reflect.Func:
		fmt.Fprintf(b, "func:%p", v)
	case reflect.Chan:
		fmt.Fprintf(b, "chan:%p", v)
	default:
		s.writeJSON(b, v)
	}
}

func (s *defaultKeySerializer) writeSequence(b *strings.Builder, kind string, rv reflect.Value) {
	n := rv.Len()
	fmt.Fprintf(b, "%s[%d]:{", kind, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		s.write(b, rv.Index(i).Interface())
	}
	b.WriteByte('}')
}

// writeMap sorts entries by their serialized key so iteration order never
// leaks into the key text.
func (s *defaultKeySerializer) writeMap(b *strings.Builder, rv reflect.Value) {
	type entry struct {
		key   string
		value reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		var kb strings.Builder
		s.write(&kb, iter.Key().Interface())
		entries = append(entries, entry{key: kb.String(), value: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	fmt.Fprintf(b, "map[%d]:{", len(entries))
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e.key)
		b.WriteByte('=')
		s.write(b, e.value.Interface())
	}
	b.WriteByte('}')
}

func (s *defaultKeySerializer) writeStruct(b *strings.Builder, rv reflect.Value) {
	rt := rv.Type()
	b.WriteString("struct:{")
	first := true
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(field.Name)
		b.WriteByte(':')
		s.write(b, rv.Field(i).Interface())
	}
	b.WriteByte('}')
}

func (s *defaultKeySerializer) writeJSON(b *strings.Builder, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeText(b, "fallback", fmt.Sprintf("%T", v))
		return
	}
	writeText(b, "json", string(data))
}
