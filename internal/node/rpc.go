// Package node implements the link to the upstream chain node: JSON-RPC for
// template acquisition and block submission, plus ZMQ tip notifications.
package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/soloforge/soloforge/internal/mining"
	"github.com/soloforge/soloforge/pkg/circuit"
	"github.com/soloforge/soloforge/pkg/errors"
	"github.com/soloforge/soloforge/pkg/retry"
)

// RPCClient talks to the chain node over JSON-RPC in HTTP POST mode. It
// implements mining.NodeLink: template fetches go through a circuit breaker
// and retry policy, block submissions are sent exactly once.
type RPCClient struct {
	client         *rpcclient.Client
	chainParams    *chaincfg.Params
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

var _ mining.NodeLink = (*RPCClient)(nil)

// NewRPCClient creates an RPC client for the node at host:port. network
// selects the address encoding rules ("mainnet" or "testnet").
func NewRPCClient(host string, port int, username, password, network string) (*RPCClient, error) {
	params, err := ChainParams(network)
	if err != nil {
		return nil, err
	}

	connCfg := &rpcclient.ConnConfig{
		Host:         fmt.Sprintf("%s:%d", host, port),
		User:         username,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "rpc_client_creation",
			"failed to create node RPC client").
			WithContext("host", host).
			WithContext("port", port)
	}

	cbConfig := &circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         10 * time.Second,
		ResetTimeout:    30 * time.Second,
	}

	return &RPCClient{
		client:         client,
		chainParams:    params,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.NetworkConfig(),
	}, nil
}

// ChainParams resolves a network name to its chain parameters.
func ChainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "chain_params",
			"unknown network").
			WithContext("network", network)
	}
}

// Close shuts down the RPC client.
func (c *RPCClient) Close() {
	c.client.Shutdown()
}

// Ping tests node connectivity.
func (c *RPCClient) Ping(ctx context.Context) error {
	return c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			if err := c.client.PingAsync().Receive(); err != nil {
				return errors.Wrap(err, errors.ErrorTypeNetwork, "ping",
					"node connectivity check failed")
			}
			return nil
		})
	})
}

// GetTemplate fetches a block template and converts it into the engine's
// internal form: expanded target, assembled transaction set with the coinbase
// first, and a computed merkle root.
func (c *RPCClient) GetTemplate(ctx context.Context, miningAddress string) (*mining.BlockTemplate, error) {
	result, err := circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (*btcjson.GetBlockTemplateResult, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*btcjson.GetBlockTemplateResult, error) {
			req := &btcjson.TemplateRequest{
				Mode:         "template",
				Capabilities: []string{"coinbasetxn", "workid"},
				Rules:        []string{"segwit"},
			}
			tmpl, err := c.client.GetBlockTemplateAsync(req).Receive()
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeWorkFetch, "get_block_template",
					"failed to retrieve block template from node")
			}
			return tmpl, nil
		})
	})
	if err != nil {
		return nil, err
	}

	return c.buildTemplate(result, miningAddress)
}

// buildTemplate converts the node's template result. The coinbase comes from
// the node when the "coinbasetxn" capability was honored, and is constructed
// locally against the mining address otherwise.
func (c *RPCClient) buildTemplate(result *btcjson.GetBlockTemplateResult, miningAddress string) (*mining.BlockTemplate, error) {
	prevHash, err := chainhash.NewHashFromStr(result.PreviousHash)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeWorkFetch, "build_template",
			"template carries an invalid previous block hash").
			WithContext("previous_hash", result.PreviousHash)
	}

	bits64, err := strconv.ParseUint(result.Bits, 16, 32)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeWorkFetch, "build_template",
			"template carries invalid compact bits").
			WithContext("bits", result.Bits)
	}
	bits := uint32(bits64)

	target := mining.CompactToBig(bits)
	if target.Sign() <= 0 {
		return nil, errors.New(errors.ErrorTypeWorkFetch, "build_template",
			"compact bits expand to a non-positive target").
			WithContext("bits", result.Bits)
	}

	var coinbaseBytes []byte
	var coinbaseTxid chainhash.Hash
	if result.CoinbaseTxn != nil {
		coinbaseBytes, err = hex.DecodeString(result.CoinbaseTxn.Data)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeWorkFetch, "build_template",
				"node-provided coinbase is not valid hex")
		}
		if result.CoinbaseTxn.TxID != "" {
			id, err := chainhash.NewHashFromStr(result.CoinbaseTxn.TxID)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeWorkFetch, "build_template",
					"node-provided coinbase txid is invalid")
			}
			coinbaseTxid = *id
		} else {
			coinbaseTxid = chainhash.DoubleHashH(coinbaseBytes)
		}
	} else {
		var value int64
		if result.CoinbaseValue != nil {
			value = *result.CoinbaseValue
		}
		coinbaseBytes, err = c.buildCoinbase(result.Height, value, miningAddress)
		if err != nil {
			return nil, err
		}
		coinbaseTxid = chainhash.DoubleHashH(coinbaseBytes)
	}

	txs := make([][]byte, 0, len(result.Transactions)+1)
	txids := make([]chainhash.Hash, 0, len(result.Transactions)+1)
	txs = append(txs, coinbaseBytes)
	txids = append(txids, coinbaseTxid)

	for _, tx := range result.Transactions {
		raw, err := hex.DecodeString(tx.Data)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeWorkFetch, "build_template",
				"template transaction is not valid hex").
				WithContext("txid", tx.TxID)
		}
		id, err := chainhash.NewHashFromStr(tx.TxID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeWorkFetch, "build_template",
				"template transaction carries an invalid txid").
				WithContext("txid", tx.TxID)
		}
		txs = append(txs, raw)
		txids = append(txids, *id)
	}

	return &mining.BlockTemplate{
		Height:        result.Height,
		PrevHash:      *prevHash,
		MerkleRoot:    merkleRoot(txids),
		Version:       result.Version,
		Timestamp:     result.CurTime,
		Bits:          bits,
		Target:        target,
		Identity:      templateIdentity(result),
		PayoutAddress: miningAddress,
		Transactions:  txs,
	}, nil
}

// templateIdentity picks the change-detection tag: the node's long poll ID
// when present, otherwise the previous hash and bits.
func templateIdentity(result *btcjson.GetBlockTemplateResult) string {
	if result.LongPollID != "" {
		return result.LongPollID
	}
	return result.PreviousHash + ":" + result.Bits
}

// buildCoinbase constructs a minimal coinbase paying the full reward to the
// mining address, with the block height pushed first in the signature script.
func (c *RPCClient) buildCoinbase(height int64, value int64, miningAddress string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(miningAddress, c.chainParams)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build_coinbase",
			"mining address does not decode for the configured network").
			WithContext("mining_address", miningAddress)
	}

	payScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build_coinbase",
			"failed to build payout script").
			WithContext("mining_address", miningAddress)
	}

	sigScript, err := txscript.NewScriptBuilder().
		AddInt64(height).
		AddData([]byte("soloforge")).
		Script()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "build_coinbase",
			"failed to build coinbase signature script")
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{},
			Index: wire.MaxPrevOutIndex,
		},
		SignatureScript: sigScript,
		Sequence:        wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    value,
		PkScript: payScript,
	})

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "build_coinbase",
			"failed to serialize coinbase transaction")
	}
	return buf.Bytes(), nil
}

// merkleRoot folds txids pairwise, duplicating the last entry on odd levels.
func merkleRoot(txids []chainhash.Hash) chainhash.Hash {
	if len(txids) == 0 {
		return chainhash.Hash{}
	}

	level := txids
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			pair := make([]byte, 0, chainhash.HashSize*2)
			pair = append(pair, level[i][:]...)
			pair = append(pair, level[i+1][:]...)
			next = append(next, chainhash.DoubleHashH(pair))
		}
		level = next
	}
	return level[0]
}

// SubmitBlock assembles the full block from the template and winning nonce
// and submits it. The call is made exactly once: a submission that fails is
// reported, not retried, since the block is likely stale by the second try.
func (c *RPCClient) SubmitBlock(ctx context.Context, template *mining.BlockTemplate, nonce uint64) (*mining.SubmitResult, error) {
	blockHex, err := assembleBlockHex(template, nonce)
	if err != nil {
		return nil, err
	}

	param, err := json.Marshal(blockHex)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "submit_block",
			"failed to encode submission parameter")
	}

	// The raw request API carries no context, so the receive runs on a side
	// goroutine and the caller's deadline bounds the wait. A hung node must
	// not wedge the single submission consumer.
	future := c.client.RawRequestAsync("submitblock", []json.RawMessage{param})

	type rawResponse struct {
		raw json.RawMessage
		err error
	}
	resultCh := make(chan rawResponse, 1)
	go func() {
		res, err := future.Receive()
		resultCh <- rawResponse{raw: res, err: err}
	}()

	var raw json.RawMessage
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeSubmission, "submit_block",
			"block submission cancelled").
			WithContext("height", template.Height).
			WithContext("nonce", nonce)
	case res := <-resultCh:
		if res.err != nil {
			return nil, errors.Wrap(res.err, errors.ErrorTypeSubmission, "submit_block",
				"block submission RPC failed").
				WithContext("height", template.Height).
				WithContext("nonce", nonce)
		}
		raw = res.raw
	}

	// A null result means the node accepted the block; a string result is the
	// rejection reason.
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &mining.SubmitResult{Status: mining.StatusAccepted}, nil
	}

	var detail string
	if err := json.Unmarshal(raw, &detail); err != nil {
		detail = string(raw)
	}
	return &mining.SubmitResult{Status: mining.StatusRejected, Detail: detail}, nil
}

// assembleBlockHex serializes header, transaction count, and transactions.
func assembleBlockHex(template *mining.BlockTemplate, nonce uint64) (string, error) {
	hdr, err := template.HeaderBytes()
	if err != nil {
		return "", err
	}
	mining.PutNonce(hdr, nonce)

	var buf bytes.Buffer
	buf.Write(hdr)
	if err := wire.WriteVarInt(&buf, 0, uint64(len(template.Transactions))); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "assemble_block",
			"failed to encode transaction count")
	}
	for _, tx := range template.Transactions {
		buf.Write(tx)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
