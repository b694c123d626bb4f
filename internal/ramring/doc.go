// Package ramring implements the in-memory FIFO of fixed-size buffers that
// producers append events into. Each buffer carries a monotonically
// increasing index in its first 8 bytes (the index, then its bitwise
// complement, for redundancy once the buffer reaches flash) and is
// initialized to all-ones so that an encoder's 0xFF terminator convention
// still applies to a partially-filled buffer.
//
// The ring tracks one piece of state shared across every producer: the
// code/size/time of the most recently appended event, used by the codec to
// decide whether an event collapses to the repeat header form. This mirrors
// the RTOS original, where this state lived in buffer-module globals rather
// than per caller.
package ramring
