// Package node hosts validator engines in one process.
//
// An Agent owns a validator's DAG, its keys and the list of nodes it still
// has to fetch. A Hub connects any number of validators: each engine talks
// to a gossip.Relay whose transport is a hub port, and Hub.Tick drives the
// engines, the relays, message delivery and fetching from one goroutine.
package node
