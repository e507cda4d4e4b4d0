// Package client keeps a local, normalized copy of server entities in sync with a
// remote admin API. Paginated REST queries fill a query cache over a normalized
// entity store, and a persistent channel session delivers push events that update
// the store without another round trip.
//
// Logging convention in the `client` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal
//     operation, with the exception of one time (infrequent) initialization data
//     that is useful for monitoring
//     this includes:
//     - dropped or malformed frames
//     - fetch and join failures
//     - disconnects
// Debug (V(1) and up):
//     key events for trace debugging and statistics
//     this includes:
//     - key session events with topics and cache keys that can be used to filter
//     - frequent events - e.g. fetch, merge, push - at V(2)
package client
