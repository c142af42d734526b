// Package market defines the market-data types shared by the analytics,
// monitoring, and briefing layers, plus the assembled per-symbol Context
// used by chat-facing output.
//
// Data providers live in subpackages (market/yahoo). Consumers declare the
// narrow interface they need and take any implementation.
package market
