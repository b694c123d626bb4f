// Package flashring persists buffers handed to it by a ramring.Ring into a
// ring of erase-block sectors on a flashdev.Device, survives power loss by
// recovering the write position from a redundantly-encoded index stored in
// every sector, and serves the poster's read cursor: the cursor is whatever
// the server last confirmed, except that a confirmation ahead of the data
// actually on flash (an implausible, too-far-ahead one) is reset back down
// to what is there when the next block to post is chosen.
package flashring
