package cache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Key identifies one cached statement result. Keys are plain values: two
// keys built from equal inputs compare equal with ==, so they can be used as
// map keys and compared across sessions.
type Key struct {
	sum  uint64
	text string
}

// NewKey builds a key from a statement id and the values selecting its result
// (row bounds, SQL text, bound parameters).
func NewKey(serializer KeySerializer, statement string, args ...any) Key {
	if serializer == nil {
		serializer = NewDefaultKeySerializer()
	}
	text := serializer.SerializeKey(statement, args...)
	return Key{sum: xxhash.Sum64String(text), text: text}
}

// Sum returns the xxhash digest of the key text.
func (k Key) Sum() uint64 {
	return k.sum
}

// Text returns the canonical text the key was built from.
func (k Key) Text() string {
	return k.text
}

// IsZero reports whether k was never built.
func (k Key) IsZero() bool {
	return k.sum == 0 && k.text == ""
}

// String renders the key as "<hex digest>:<text>". Remote backends use it as
// the hash field name.
func (k Key) String() string {
	return strconv.FormatUint(k.sum, 16) + ":" + k.text
}
