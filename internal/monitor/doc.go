// Package monitor runs the GEX regime watch: a scan cycle walks the
// watchlist through the analyzer, the tracker decides which changes are
// alert-worthy under cooldown hysteresis, and alerts go out through the
// dispatcher. A break-and-hold overlay adds wall-break confirmations from
// short-interval candles.
package monitor
