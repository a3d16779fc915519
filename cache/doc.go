// Package cache defines the second level cache regions used by the
// transactional caching executor, together with the key and codec types
// they share.
//
// # Overview
//
// A region is a Cache bound to one statement namespace. Regions are built by
// a Factory the first time a namespace is resolved:
//
//   - NewMemoryFactory: one in-process sturdyc client per namespace
//   - NewRedisFactory: one Redis hash per namespace, values encoded by a Codec
//
// # Keys
//
// Key is a comparable value holding an xxhash digest and the canonical text
// produced by a KeySerializer:
//
//	key := cache.NewKey(nil, "app.user.byID", offset, limit, sql, params)
//
// The default serializer handles driver.Valuer, time.Time and []byte
// parameters explicitly and sorts map entries, so equal statement inputs
// always produce equal keys within and across processes. Function and
// channel values are encoded by pointer and are only stable within one
// process.
//
// # Remote layout
//
// The Redis backend stores a namespace under the hash "<prefix><namespace>".
// The field is Key.String() and the value is the codec output (YAML unless
// the codec property selects msgpack). When an expiry is configured it is
// applied to the whole hash on the first write and never refreshed.
//
// # Properties
//
// Factories receive the properties map from configuration:
//
//	capacity, shards, evictionPercentage, evictionInterval   (memory)
//	codec, prefix                                            (redis)
package cache
