// Package gossip repeats outgoing consensus items a bounded number of times.
//
// Each item broadcast through a Relay carries a TTL. Every propagation tick
// that finds the item's interval elapsed sends it once more and lowers the
// TTL by exactly one; at zero the item is dropped. Incoming items pass
// through Seen, an LRU of identifiers, so a copy heard twice is handled once.
package gossip
