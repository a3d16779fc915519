package cache

import (
	"strings"

	errors "github.com/goliatone/go-errors"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Codec turns cached values into bytes for remote backends. Decoded values
// are generic (maps, slices, scalars); callers normalize them.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

const (
	CodecYAML    = "yaml"
	CodecMsgpack = "msgpack"
)

// YAMLCodec keeps remote entries human readable. It is the default.
type YAMLCodec struct{}

func (YAMLCodec) Name() string { return CodecYAML }

func (YAMLCodec) Encode(v any) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "yaml encode cache value")
	}
	return data, nil
}

func (YAMLCodec) Decode(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "yaml decode cache value")
	}
	return v, nil
}

// MsgpackCodec is the compact alternative.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return CodecMsgpack }

func (MsgpackCodec) Encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "msgpack encode cache value")
	}
	return data, nil
}

func (MsgpackCodec) Decode(data []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "msgpack decode cache value")
	}
	return v, nil
}

// CodecByName resolves a codec from a cache property value. An empty name
// selects YAML.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecYAML, "yml":
		return YAMLCodec{}, nil
	case CodecMsgpack, "messagepack":
		return MsgpackCodec{}, nil
	default:
		return nil, errors.New("unknown cache codec: "+name, errors.CategoryValidation)
	}
}
