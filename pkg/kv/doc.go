// Package kv is the access layer to a flash key/value engine.
//
// A Store is opened on a device or file path through a native.Engine. It
// holds a default pool and any number of tagged pools; every key/value
// operation targets a Pool. Values live in sector-aligned buffers outside the
// Go heap and must be freed.
//
// The engine validates nothing and may crash on bad input, so every size
// limit (keys of 1 to 128 bytes, values up to 1 MiB - 1 KiB, batches up to
// 16 pairs, tags up to 16 bytes) is checked here before any engine call.
//
// Engine failures are returned as *Error carrying the engine's last error
// code. That code sits in a single process-wide slot: it is only attributed
// correctly when no other engine call runs concurrently.
//
//	store, err := kv.Open(engine, "/dev/fioa")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	pool, err := store.GetOrCreatePool("profiles")
//	if err != nil {
//		return err
//	}
//	value, err := kv.ValueOf([]byte("hello, world\x00"))
//	if err != nil {
//		return err
//	}
//	defer value.Free()
//	return pool.Put(kv.KeyFromUint64(42), value)
package kv
