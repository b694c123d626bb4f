// Package producer defines the Source interface that sensor producers
// implement to feed readings into the event pipeline, plus Synthetic, a
// ticker-driven stand-in used where no physical sensor is wired up.
package producer
