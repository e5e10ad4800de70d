package postgres

import "time"

// FoundBlock is one row of the found-block ledger. A row is written for every
// submission attempt, accepted or not, so rejections can be audited later.
type FoundBlock struct {
	ID            int64     `db:"id"`
	Height        int64     `db:"height"`
	Nonce         int64     `db:"nonce"` // stored as BIGINT, reinterpret as uint64
	Digest        string    `db:"digest"`
	PrevHash      string    `db:"prev_hash"`
	MiningAddress string    `db:"mining_address"`
	Generation    int64     `db:"generation"`
	Status        string    `db:"status"` // accepted, rejected, error
	Detail        string    `db:"detail"`
	LatencyMs     float64   `db:"latency_ms"`
	FoundAt       time.Time `db:"found_at"`
}
