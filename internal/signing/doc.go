// Package signing builds the signed record the poster sends and tags it
// with a keyed SHA3-224 hash: SHA3-224(key ‖ signed). This is a keyed-hash
// construction, not HMAC, matching the firmware this protocol was designed
// for.
package signing
