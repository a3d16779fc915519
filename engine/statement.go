package engine

import (
	"strings"
	"sync/atomic"

	"github.com/goliatone/go-repository-txcache/cache"
)

// CommandType classifies what a statement does to the database.
type CommandType int

const (
	CommandUnknown CommandType = iota
	CommandSelect
	CommandInsert
	CommandUpdate
	CommandDelete
	CommandFlush
)

func (c CommandType) String() string {
	switch c {
	case CommandSelect:
		return "select"
	case CommandInsert:
		return "insert"
	case CommandUpdate:
		return "update"
	case CommandDelete:
		return "delete"
	case CommandFlush:
		return "flush"
	default:
		return "unknown"
	}
}

// StatementType tells how the SQL is sent to the driver.
type StatementType int

const (
	StatementPrepared StatementType = iota
	StatementPlain
	StatementCallable
)

// ParameterMode is the direction of a bound parameter. Only callable
// statements may use ParamOut or ParamInOut.
type ParameterMode int

const (
	ParamIn ParameterMode = iota
	ParamOut
	ParamInOut
)

// ParameterMapping describes one positional parameter.
type ParameterMapping struct {
	Name string
	Mode ParameterMode
}

// Statement is the declaration of a statement inside a Mapper. Name is
// relative to the mapper namespace.
//
// FlushCache and UseCache default by command: selects use the cache and do
// not flush, every other command flushes and never caches.
type Statement struct {
	Name       string
	SQL        string
	Command    CommandType
	Type       StatementType
	Parameters []ParameterMapping
	FlushCache *bool
	UseCache   *bool
}

// Bool returns a pointer to v, for the optional Statement flags.
func Bool(v bool) *bool {
	return &v
}

type cacheRef struct {
	cache cache.Cache
}

// MappedStatement is a registered statement. Its cache link is mutable and
// updated through SetCache so a namespace binding can be swapped while the
// statement is in use.
type MappedStatement struct {
	ID            string
	SQL           string
	CommandType   CommandType
	StatementType StatementType
	Parameters    []ParameterMapping
	FlushCache    bool
	UseCache      bool

	cache atomic.Pointer[cacheRef]
}

// NewMappedStatement builds the statement namespace.name from a declaration.
func NewMappedStatement(namespace string, def Statement) *MappedStatement {
	isSelect := def.Command == CommandSelect
	ms := &MappedStatement{
		ID:            namespace + "." + def.Name,
		SQL:           def.SQL,
		CommandType:   def.Command,
		StatementType: def.Type,
		Parameters:    append([]ParameterMapping(nil), def.Parameters...),
		FlushCache:    !isSelect,
		UseCache:      isSelect,
	}
	if def.FlushCache != nil {
		ms.FlushCache = *def.FlushCache
	}
	if def.UseCache != nil {
		ms.UseCache = *def.UseCache && isSelect
	}
	ms.cache.Store(&cacheRef{})
	return ms
}

// Namespace returns the id without its trailing ".name" segment.
func (ms *MappedStatement) Namespace() string {
	return Namespace(ms.ID)
}

// Cache returns the currently linked cache, nil when none is linked.
func (ms *MappedStatement) Cache() cache.Cache {
	ref := ms.cache.Load()
	if ref == nil {
		return nil
	}
	return ref.cache
}

// SetCache links c unconditionally and returns the previous link.
func (ms *MappedStatement) SetCache(c cache.Cache) cache.Cache {
	prev := ms.cache.Swap(&cacheRef{cache: c})
	if prev == nil {
		return nil
	}
	return prev.cache
}

// CompareAndSwapCache links next only if old is still linked. Exactly one of
// several concurrent callers observing the same old link succeeds.
func (ms *MappedStatement) CompareAndSwapCache(old, next cache.Cache) bool {
	ref := ms.cache.Load()
	var current cache.Cache
	if ref != nil {
		current = ref.cache
	}
	if current != old {
		return false
	}
	return ms.cache.CompareAndSwap(ref, &cacheRef{cache: next})
}

// HasOutParams reports whether a callable statement declares OUT or INOUT
// parameters.
func (ms *MappedStatement) HasOutParams() bool {
	if ms.StatementType != StatementCallable {
		return false
	}
	for _, p := range ms.Parameters {
		if p.Mode != ParamIn {
			return true
		}
	}
	return false
}

// Namespace derives the namespace of a fully qualified statement id.
func Namespace(id string) string {
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[:i]
	}
	return id
}
