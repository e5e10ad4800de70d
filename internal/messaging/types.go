package messaging

import "time"

// BlockFoundMessage reports one submission outcome
type BlockFoundMessage struct {
	Height        int64     `json:"height"`
	Nonce         uint64    `json:"nonce"`
	Digest        string    `json:"digest"`
	PrevHash      string    `json:"prev_hash"`
	MiningAddress string    `json:"mining_address"`
	Generation    uint64    `json:"generation"`
	Status        string    `json:"status"`
	Detail        string    `json:"detail,omitempty"`
	LatencyMs     float64   `json:"latency_ms"`
	FoundAt       time.Time `json:"found_at"`
}

// SessionStatsMessage is a periodic counter snapshot
type SessionStatsMessage struct {
	MiningAddress   string    `json:"mining_address"`
	Threads         int       `json:"threads"`
	HashesTried     uint64    `json:"hashes_tried"`
	BlocksSubmitted uint64    `json:"blocks_submitted"`
	BlocksAccepted  uint64    `json:"blocks_accepted"`
	Hashrate        float64   `json:"hashrate"`
	SampledAt       time.Time `json:"sampled_at"`
}

// LifecycleMessage reports a session state change
type LifecycleMessage struct {
	Event         string    `json:"event"` // connected, disconnected, mining_started, mining_stopped
	NodeAddr      string    `json:"node_addr,omitempty"`
	MiningAddress string    `json:"mining_address,omitempty"`
	Threads       int       `json:"threads,omitempty"`
	At            time.Time `json:"at"`
}
