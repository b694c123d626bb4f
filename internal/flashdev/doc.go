// Package flashdev models the NOR-flash program/erase discipline the flash
// ring depends on: a program operation may only flip bits from 1 to 0, and
// only an erase can set a sector back to all-ones. Production firmware talks
// to a real SPI NOR part; this package backs the same contract with a plain
// file so the ring logic is exercised identically on a development host.
package flashdev
