// Package codec implements the compact binary encoding used inside a single
// RAM/flash buffer: unsigned and signed LEB128-style varints, the two-bit
// event header format that supports code/size repetition and truncated time
// deltas, and the full-stream decoder that reconstructs an event sequence
// from a buffer's bytes.
//
// Every buffer stands alone: delta encoding state resets at buffer
// boundaries, and a buffer's tail is always 0xFF-padded so that a
// partially-filled, partially-flushed buffer decodes unambiguously.
package codec
