// Package poster implements the task that ships durable flash blocks to a
// remote collector: a signed, SHA3-224-tagged record sent as the body of a
// raw HTTP/1.1 POST over plain TCP, with manual response parsing and an
// affine-recurrence retry hold-off.
package poster
