package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FoundBlockRepository handles found-block ledger operations
type FoundBlockRepository struct {
	db *sql.DB
}

// NewFoundBlockRepository creates a new found-block repository
func NewFoundBlockRepository(db *sql.DB) *FoundBlockRepository {
	return &FoundBlockRepository{db: db}
}

// CreateFoundBlock inserts one ledger row
func (r *FoundBlockRepository) CreateFoundBlock(ctx context.Context, block *FoundBlock) error {
	query := `
		INSERT INTO found_blocks (height, nonce, digest, prev_hash, mining_address, generation, status, detail, latency_ms, found_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	if block.FoundAt.IsZero() {
		block.FoundAt = time.Now()
	}

	err := r.db.QueryRowContext(ctx, query,
		block.Height, block.Nonce, block.Digest, block.PrevHash,
		block.MiningAddress, block.Generation, block.Status, block.Detail,
		block.LatencyMs, block.FoundAt,
	).Scan(&block.ID)

	if err != nil {
		return fmt.Errorf("failed to create found block: %w", err)
	}

	return nil
}

// GetRecentFoundBlocks retrieves the most recent ledger rows
func (r *FoundBlockRepository) GetRecentFoundBlocks(ctx context.Context, limit int) ([]*FoundBlock, error) {
	query := `
		SELECT id, height, nonce, digest, prev_hash, mining_address, generation, status, detail, latency_ms, found_at
		FROM found_blocks
		ORDER BY found_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query found blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*FoundBlock
	for rows.Next() {
		block := &FoundBlock{}
		if err := rows.Scan(
			&block.ID, &block.Height, &block.Nonce, &block.Digest, &block.PrevHash,
			&block.MiningAddress, &block.Generation, &block.Status, &block.Detail,
			&block.LatencyMs, &block.FoundAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan found block: %w", err)
		}
		blocks = append(blocks, block)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating found blocks: %w", err)
	}

	return blocks, nil
}

// CountAccepted returns how many ledger rows are accepted blocks
func (r *FoundBlockRepository) CountAccepted(ctx context.Context, miningAddress string) (int64, error) {
	query := `SELECT COUNT(*) FROM found_blocks WHERE mining_address = $1 AND status = 'accepted'`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, miningAddress).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count accepted blocks: %w", err)
	}
	return count, nil
}
