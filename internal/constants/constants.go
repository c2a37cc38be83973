package constants

// Limits imposed by the flash key/value engine. The native layer does not
// validate any of these, so they are checked before every call.

const (
	SectorSize   = 512         // Transfer block size; every value buffer is aligned to and sized in sectors.
	MaxKeySize   = 128         // Maximum key length in bytes.
	MaxValueSize = 1024 * 1023 // Maximum value length in bytes (1 MiB - 1 KiB).
	MaxBatchSize = 16          // Maximum number of pairs in one batch call.
	MaxTagSize   = 16          // Maximum pool tag length in bytes.
	MaxPools     = 1024        // Pools requested when creating a non-device store.

	APIVersion = 1 // Store version requested at open unless overridden.

	DefaultPoolID = 0 // The pool every store has, it cannot be deleted.

	DevicePrefix = "/dev/" // Paths under this prefix are raw devices, anything else is a file-backed store.
)
