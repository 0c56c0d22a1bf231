// Package cache provides the cache backend contract, key building and value
// encoding used by the cache-aside layer.
//
// # Overview
//
//   - Backend: strings, hashes and sorted sets keyed by opaque strings
//   - KeyBuilder: keys of the form {tenant}__{bucket}__{id}
//   - Codec: value encoding, MessagePack by default
//
// NewBackend returns the in-process implementation backed by sturdyc. Any
// remote cache can be plugged in by implementing Backend.
//
// # Keys
//
//	kb := cache.NewKeyBuilder(nil)
//	kb.Key("t1", "Note", "n-1")          // t1__Note__n-1
//	kb.Key("", "Country", "nl")          // Country__nl
//	kb.Key("t1", "Line", OrderLine{"o1", 3}) // t1__Line__o1__3
//
// An empty tenant drops the segment; this is how tenant independent buckets
// are addressed. Composite ids are flattened by the KeySerializer: struct
// fields in declaration order, slices element by element, maps as sorted
// key=value pairs.
//
// # Expiry
//
// A ttl of zero means no per entry expiry. The in-process backend still caps
// string entries at Config.MaxTTL.
package cache
