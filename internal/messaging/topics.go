package messaging

// Topic constants for miner event publishing
const (
	// TopicBlocks carries submission outcomes for every found block
	TopicBlocks = "miner.blocks"

	// TopicStats carries periodic session statistics snapshots
	TopicStats = "miner.stats"

	// TopicEvents carries session lifecycle events (start, stop, connect)
	TopicEvents = "miner.events"
)
