package engine

import (
	"database/sql"
	"strings"
)

// ExecutionMode selects the statement executor a session runs with.
type ExecutionMode int

const (
	// ModeDefault defers to Configuration.DefaultExecutionMode.
	ModeDefault ExecutionMode = iota
	// ModeSimple runs every statement as a new bun raw query.
	ModeSimple
	// ModeReuse prepares each distinct SQL once per transaction.
	ModeReuse
	// ModeBatch queues updates and sends them on flush, before the next
	// query and on commit.
	ModeBatch
)

var executionModeNames = map[ExecutionMode]string{
	ModeDefault: "default",
	ModeSimple:  "simple",
	ModeReuse:   "reuse",
	ModeBatch:   "batch",
}

func (m ExecutionMode) String() string {
	if name, ok := executionModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseExecutionMode resolves a configured mode name. Empty selects ModeDefault.
func ParseExecutionMode(name string) (ExecutionMode, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ModeDefault, nil
	}
	for mode, modeName := range executionModeNames {
		if modeName == n {
			return mode, nil
		}
	}
	return ModeDefault, ConfigurationError("unknown execution mode %q", name)
}

// IsolationLevel is the transaction isolation a session begins with.
type IsolationLevel int

const (
	// IsolationDefault uses the driver default.
	IsolationDefault IsolationLevel = iota
	// IsolationNone runs statements without isolation guarantees. It maps to
	// the driver default since database/sql has no "none" level.
	IsolationNone
	IsolationReadCommitted
	IsolationReadUncommitted
	IsolationRepeatableRead
	IsolationSerializable
	IsolationSnapshot
)

var isolationNames = map[IsolationLevel]string{
	IsolationDefault:         "default",
	IsolationNone:            "none",
	IsolationReadCommitted:   "read_committed",
	IsolationReadUncommitted: "read_uncommitted",
	IsolationRepeatableRead:  "repeatable_read",
	IsolationSerializable:    "serializable",
	IsolationSnapshot:        "snapshot",
}

func (l IsolationLevel) String() string {
	if name, ok := isolationNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseIsolationLevel resolves a configured isolation name. Dashes and spaces
// are accepted in place of underscores.
func ParseIsolationLevel(name string) (IsolationLevel, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	if n == "" {
		return IsolationDefault, nil
	}
	for level, levelName := range isolationNames {
		if levelName == n {
			return level, nil
		}
	}
	return IsolationDefault, ConfigurationError("unknown isolation level %q", name)
}

// TxOptions converts the level to database/sql options. Unknown levels are a
// configuration error.
func (l IsolationLevel) TxOptions() (*sql.TxOptions, error) {
	var iso sql.IsolationLevel
	switch l {
	case IsolationDefault, IsolationNone:
		iso = sql.LevelDefault
	case IsolationReadCommitted:
		iso = sql.LevelReadCommitted
	case IsolationReadUncommitted:
		iso = sql.LevelReadUncommitted
	case IsolationRepeatableRead:
		iso = sql.LevelRepeatableRead
	case IsolationSerializable:
		iso = sql.LevelSerializable
	case IsolationSnapshot:
		iso = sql.LevelSnapshot
	default:
		return nil, ConfigurationError("unknown isolation level %d", int(l))
	}
	return &sql.TxOptions{Isolation: iso}, nil
}
