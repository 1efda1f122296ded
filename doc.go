// Package digstore is a versioned, content-addressed data store whose state is
// committed as a history of Merkle roots.
//
// A store lives in a directory named after its 64-hex identifier. Content is kept
// gzip-compressed under data/, every commit writes an immutable <root>.dat snapshot
// and appends the root to manifest.dat. Stores replicate between peers over a plain
// HTTP file contract.
//
// The subpackages are:
//
//	storage   content-addressed blob store
//	merkle    sorted-pair Merkle tree, proofs
//	ledger    live index, commits, snapshots, manifest
//	proof     proof tokens and foreign snapshot checks
//	network   peer catalog (ledger RPC, DNS seeds, caching)
//	keys      store-owner keys, nonce signatures
//	peersync  pull/push with retry, failover and blacklisting
//	peer      HTTP server for the peer file contract
//	config    node configuration
//	metrics   prometheus collectors
package digstore
