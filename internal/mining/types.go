// Package mining implements the SoloForge concurrent proof-of-work engine:
// template acquisition and versioning, nonce-space partitioning across worker
// threads, staleness detection, submission handoff, throttling, and metrics
// aggregation. The node is treated as a trusted oracle reached through the
// NodeLink interface; transport details live in internal/node.
package mining

import (
	"context"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockTemplate is an immutable snapshot of block-construction work handed out
// by the node. It is superseded, never edited, when the node reports new work.
type BlockTemplate struct {
	// Height is the height of the block being mined.
	Height int64

	// PrevHash references the chain tip this template builds on.
	PrevHash chainhash.Hash

	// MerkleRoot commits to Transactions (coinbase first).
	MerkleRoot chainhash.Hash

	// Version is the block version advertised by the node.
	Version int32

	// Timestamp is the header time in Unix seconds.
	Timestamp int64

	// Bits is the compact difficulty encoding; Target is its expansion. A
	// digest's derived value must not exceed Target to be a valid candidate.
	Bits   uint32
	Target *big.Int

	// Identity is the node's opaque tag for this template, used for change
	// detection. Two templates with equal identity describe the same work.
	Identity string

	// PayoutAddress is the mining address the coinbase pays to.
	PayoutAddress string

	// Transactions holds the serialized transactions for block assembly on
	// submission, coinbase first. Workers never touch these.
	Transactions [][]byte
}

// Candidate is a (generation, nonce, digest) triple that satisfied the
// difficulty target. Ownership transfers to the SubmissionPipeline on enqueue.
type Candidate struct {
	Generation uint64
	Nonce      uint64
	Digest     chainhash.Hash
	Template   *BlockTemplate
}

// SubmitStatus is the node's verdict on a submitted block.
type SubmitStatus int

const (
	// StatusAccepted means the node accepted the block.
	StatusAccepted SubmitStatus = iota
	// StatusRejected means the node returned an explicit rejection.
	StatusRejected
)

// String returns string representation of the status
func (s SubmitStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// SubmitResult carries the node's verdict plus any rejection detail.
type SubmitResult struct {
	Status SubmitStatus
	Detail string
}

// NodeLink abstracts the remote node. Implementations must be safe for
// concurrent use; the engine calls GetTemplate from the template poller and
// SubmitBlock from the single submission consumer.
type NodeLink interface {
	// GetTemplate fetches current block-construction work bound to the
	// given mining address.
	GetTemplate(ctx context.Context, miningAddress string) (*BlockTemplate, error)

	// SubmitBlock assembles and submits a completed block from a template
	// and a winning nonce.
	SubmitBlock(ctx context.Context, template *BlockTemplate, nonce uint64) (*SubmitResult, error)

	// Ping reports node connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close()
}

// WorkAssignment is the per-worker nonce partition: a fixed residue and a
// step equal to the worker count, so that workers collectively and disjointly
// cover the 64-bit nonce space. Owned exclusively by its worker.
type WorkAssignment struct {
	Residue uint64
	Step    uint64
}

// NonceAt returns the nonce attempted at iteration i of an epoch.
func (a WorkAssignment) NonceAt(i uint64) uint64 {
	return a.Residue + i*a.Step
}
