package mining

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/soloforge/soloforge/pkg/log"
)

// mockNode provides a NodeLink implementation for testing.
type mockNode struct {
	mu sync.Mutex

	// Control mock behavior
	TemplateErr error
	SubmitErr   error
	PingErr     error

	// Mock data
	Template     *BlockTemplate
	SubmitResult *SubmitResult

	// Recorded calls
	TemplateCalls int
	SubmitCalls   int
	Submitted     []uint64
	Closed        bool
}

func newMockNode() *mockNode {
	return &mockNode{
		Template:     easyTemplate("tpl-1", 100),
		SubmitResult: &SubmitResult{Status: StatusAccepted},
	}
}

func (m *mockNode) GetTemplate(_ context.Context, _ string) (*BlockTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TemplateCalls++
	if m.TemplateErr != nil {
		return nil, m.TemplateErr
	}
	return m.Template, nil
}

func (m *mockNode) SubmitBlock(_ context.Context, _ *BlockTemplate, nonce uint64) (*SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubmitCalls++
	m.Submitted = append(m.Submitted, nonce)
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	return m.SubmitResult, nil
}

func (m *mockNode) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingErr
}

func (m *mockNode) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
}

func (m *mockNode) setTemplate(t *BlockTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Template = t
	m.TemplateErr = nil
}

func (m *mockNode) setTemplateErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TemplateErr = err
}

func (m *mockNode) templateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TemplateCalls
}

func (m *mockNode) submitted() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.Submitted))
	copy(out, m.Submitted)
	return out
}

// mockSink records submission outcomes.
type mockSink struct {
	mu       sync.Mutex
	Outcomes []*SubmissionOutcome
}

func (s *mockSink) RecordOutcome(_ context.Context, outcome *SubmissionOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Outcomes = append(s.Outcomes, outcome)
}

func (s *mockSink) outcomes() []*SubmissionOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SubmissionOutcome, len(s.Outcomes))
	copy(out, s.Outcomes)
	return out
}

var errMock = errors.New("mock failure")

// easyTemplate returns a template whose target accepts every digest, so the
// first hash attempt of any worker is a winning candidate.
func easyTemplate(identity string, height int64) *BlockTemplate {
	target := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	return &BlockTemplate{
		Height:     height,
		PrevHash:   chainhash.Hash{0x01},
		MerkleRoot: chainhash.Hash{0x02},
		Version:    4,
		Timestamp:  1700000000,
		Bits:       0x207fffff,
		Target:     target,
		Identity:   identity,
	}
}

// hardTemplate returns a template no digest can satisfy in practice.
func hardTemplate(identity string, height int64) *BlockTemplate {
	t := easyTemplate(identity, height)
	t.Target = big.NewInt(1)
	return t
}

func testLogger() *log.Logger {
	return log.New("test", "test", "error", "text")
}
