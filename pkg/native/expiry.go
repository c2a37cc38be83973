package native

import "time"

// Deadline returns the unix time, in seconds, at which a mapping written at
// now with the given per-mapping expiry stops being visible, or zero if it
// never expires under cfg.
func Deadline(cfg OpenConfig, expiry uint32, now time.Time) int64 {
	switch cfg.ExpiryMode {
	case ExpiryArbitrary:
		if expiry == 0 {
			return 0
		}
		return now.Unix() + int64(expiry)
	case ExpiryGlobal:
		if cfg.ExpirySeconds == 0 {
			return 0
		}
		return now.Unix() + int64(cfg.ExpirySeconds)
	default:
		return 0
	}
}

// Expired tells whether a mapping with the given deadline is gone at now.
func Expired(deadline int64, now time.Time) bool {
	return deadline != 0 && now.Unix() >= deadline
}
