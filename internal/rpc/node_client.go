// Package rpc provides node communication using the Bitcoin-style JSON-RPC
// API exposed by Zcash/BTG-family daemons (zcashd, bgoldd and compatible
// forks): getblocktemplate, submitblock, getblockchaininfo, getblock.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zecpool/equihash-pool/internal/util"
)

// NodeClient handles communication with a single Zcash/BTG-family node.
type NodeClient struct {
	url          string
	user         string
	pass         string
	timeout      time.Duration
	client       *http.Client
	requestID    uint64
	minerAddress string // set by SetMinerAddress; not sent in any request

	mu           sync.RWMutex
	healthy      bool
	lastCheck    time.Time
	successCount int
	failCount    int
}

// NewNodeClient creates a new node RPC client.
func NewNodeClient(url, user, pass string, timeout time.Duration) *NodeClient {
	return &NodeClient{
		url:     url,
		user:    user,
		pass:    pass,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
		healthy: true,
	}
}

// SetMinerAddress records a miner address on the client. GetBlockTemplate
// does not include it in its request.
func (c *NodeClient) SetMinerAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minerAddress = address
}

// rpcRequest is a Bitcoin-style JSON-RPC request (positional array params).
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

// rpcResponse is a JSON-RPC response.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     uint64          `json:"id"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// BlockTemplate is the subset of getblocktemplate this pool needs to build
// mining jobs: a serialized Equihash header prefix plus the accept target.
type BlockTemplate struct {
	Height        uint64
	PreviousHash  string
	Bits          string // compact target, as returned by the node
	Target        string // 64 hex-char target
	CurTime       uint64
	HeaderPrefix  []byte // serialized header minus nonce+solution (>=108 bytes)
	CoinbaseValue uint64 // total block subsidy + fees available, for display
}

// BlockInfo represents block information as returned by getblock.
type BlockInfo struct {
	Hash          string
	Height        uint64
	Time          uint64
	Confirmations int64
	Difficulty    float64
	Miner         string // coinbase output address, when discoverable
	Reward        uint64
	TxFees        uint64
}

// ChainInfo represents getblockchaininfo / getnetworkhashps output.
type ChainInfo struct {
	Blocks         uint64
	Headers        uint64
	Difficulty     float64
	NetworkHashPS  float64
	Chain          string
	VerificationProgress float64
}

func (c *NodeClient) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := atomic.AddUint64(&c.requestID, 1)

	req := rpcRequest{
		JSONRPC: "1.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		httpReq.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.recordFailure()
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("decoding RPC response: %w", err)
	}

	if rpcResp.Error != nil {
		c.recordFailure()
		return nil, rpcResp.Error
	}

	c.recordSuccess()
	return rpcResp.Result, nil
}

func (c *NodeClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successCount++
	c.failCount = 0
	c.healthy = true
	c.lastCheck = time.Now()
}

func (c *NodeClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCount++
	if c.failCount >= 3 {
		c.healthy = false
		util.Warnf("node %s marked unhealthy after %d failures", c.url, c.failCount)
	}
	c.lastCheck = time.Now()
}

// IsHealthy returns whether the node is currently considered healthy.
func (c *NodeClient) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// gbtResult mirrors the fields of getblocktemplate this pool consumes.
type gbtResult struct {
	Version           int32    `json:"version"`
	PreviousBlockHash string   `json:"previousblockhash"`
	FinalSaplingRoot  string   `json:"finalsaplingroothash"`
	Transactions      []gbtTx  `json:"transactions"`
	CoinbaseValue     uint64   `json:"coinbasetxn"`
	Target            string   `json:"target"`
	Bits              string   `json:"bits"`
	CurTime           uint64   `json:"curtime"`
	Height            uint64   `json:"height"`
}

type gbtTx struct {
	Data string `json:"data"`
	Fee  int64  `json:"fee"`
}

// GetBlockTemplate fetches a mining template and serializes the Equihash
// header prefix (version, prevhash, merkleroot placeholder, final sapling
// root, time, bits) that job.headerPrefix carries to the miner. The
// reserved merkle root is left zeroed: this pool does not assemble its own
// coinbase/transaction set, so it mines against the template's own
// commitments as returned by the node.
func (c *NodeClient) GetBlockTemplate(ctx context.Context) (*BlockTemplate, error) {
	params := []interface{}{
		map[string]interface{}{
			"capabilities": []string{"coinbasetxn"},
		},
	}

	result, err := c.call(ctx, "getblocktemplate", params)
	if err != nil {
		return nil, err
	}

	var gbt gbtResult
	if err := json.Unmarshal(result, &gbt); err != nil {
		return nil, fmt.Errorf("parsing getblocktemplate: %w", err)
	}

	header, err := serializeHeaderPrefix(&gbt)
	if err != nil {
		return nil, err
	}

	var totalFees int64
	for _, tx := range gbt.Transactions {
		totalFees += tx.Fee
	}

	return &BlockTemplate{
		Height:        gbt.Height,
		PreviousHash:  gbt.PreviousBlockHash,
		Bits:          gbt.Bits,
		Target:        gbt.Target,
		CurTime:       gbt.CurTime,
		HeaderPrefix:  header,
		CoinbaseValue: gbt.CoinbaseValue,
	}, nil
}

// serializeHeaderPrefix builds the 108-byte Equihash header prefix:
// version(4) || prevhash(32, LE) || merkleroot(32) || finalsaplingroot(32, LE) || time(4) || bits(4)
func serializeHeaderPrefix(gbt *gbtResult) ([]byte, error) {
	prevHash, err := util.HexToBytes(gbt.PreviousBlockHash)
	if err != nil {
		return nil, fmt.Errorf("invalid previousblockhash: %w", err)
	}
	if len(prevHash) != 32 {
		return nil, fmt.Errorf("previousblockhash must be 32 bytes, got %d", len(prevHash))
	}

	saplingRoot, err := util.HexToBytes(gbt.FinalSaplingRoot)
	if err != nil || len(saplingRoot) != 32 {
		saplingRoot = make([]byte, 32)
	}

	header := make([]byte, 0, 108)
	header = append(header, uint32LE(uint32(gbt.Version))...)
	header = append(header, util.ReverseBytesCopy(prevHash)...)
	header = append(header, make([]byte, 32)...) // merkle root: node-assembled, filled by daemon on submit
	header = append(header, util.ReverseBytesCopy(saplingRoot)...)
	header = append(header, uint32LE(uint32(gbt.CurTime))...)

	bits, err := util.HexToBytes(gbt.Bits)
	if err != nil || len(bits) != 4 {
		bits = make([]byte, 4)
	}
	header = append(header, util.ReverseBytesCopy(bits)...)

	return header, nil
}

func uint32LE(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// SubmitBlock submits a full serialized block (header including nonce and
// solution, plus the node's own transaction set) via submitblock.
func (c *NodeClient) SubmitBlock(ctx context.Context, blockHex string) (bool, error) {
	params := []interface{}{blockHex}

	result, err := c.call(ctx, "submitblock", params)
	if err != nil {
		return false, err
	}

	// submitblock returns null on success, a string reason on rejection.
	if string(result) == "null" {
		return true, nil
	}

	var reason string
	if err := json.Unmarshal(result, &reason); err == nil && reason != "" {
		return false, fmt.Errorf("block rejected: %s", reason)
	}

	return true, nil
}

type getBlockResult struct {
	Hash          string `json:"hash"`
	Confirmations int64  `json:"confirmations"`
	Height        uint64 `json:"height"`
	Time          uint64 `json:"time"`
	Difficulty    float64 `json:"difficulty"`
}

// GetBlockByHeight returns block info at the given height.
func (c *NodeClient) GetBlockByHeight(ctx context.Context, height uint64) (*BlockInfo, error) {
	hashResult, err := c.call(ctx, "getblockhash", []interface{}{height})
	if err != nil {
		return nil, err
	}

	var hash string
	if err := json.Unmarshal(hashResult, &hash); err != nil {
		return nil, err
	}

	return c.GetBlockByHash(ctx, hash)
}

// GetBlockByHash returns block info for a given block hash.
func (c *NodeClient) GetBlockByHash(ctx context.Context, hash string) (*BlockInfo, error) {
	result, err := c.call(ctx, "getblock", []interface{}{hash})
	if err != nil {
		return nil, err
	}

	var blk getBlockResult
	if err := json.Unmarshal(result, &blk); err != nil {
		return nil, err
	}

	return &BlockInfo{
		Hash:          blk.Hash,
		Height:        blk.Height,
		Time:          blk.Time,
		Confirmations: blk.Confirmations,
		Difficulty:    blk.Difficulty,
	}, nil
}

// GetChainInfo returns chain height/difficulty/hashrate via
// getblockchaininfo and getnetworkhashps.
func (c *NodeClient) GetChainInfo(ctx context.Context) (*ChainInfo, error) {
	infoResult, err := c.call(ctx, "getblockchaininfo", nil)
	if err != nil {
		return nil, err
	}

	var info struct {
		Blocks               uint64  `json:"blocks"`
		Headers              uint64  `json:"headers"`
		Difficulty           float64 `json:"difficulty"`
		Chain                string  `json:"chain"`
		VerificationProgress float64 `json:"verificationprogress"`
	}
	if err := json.Unmarshal(infoResult, &info); err != nil {
		return nil, err
	}

	hashpsResult, err := c.call(ctx, "getnetworkhashps", nil)
	var hashps float64
	if err == nil {
		json.Unmarshal(hashpsResult, &hashps)
	}

	return &ChainInfo{
		Blocks:               info.Blocks,
		Headers:              info.Headers,
		Difficulty:           info.Difficulty,
		NetworkHashPS:        hashps,
		Chain:                info.Chain,
		VerificationProgress: info.VerificationProgress,
	}, nil
}

// TargetFromCompact converts the template's compact "bits" hex string to a
// big.Int target for comparison against share/block PoW hashes.
func TargetFromCompact(bitsHex string) (*big.Int, error) {
	b, err := util.HexToBytes(bitsHex)
	if err != nil || len(b) != 4 {
		return nil, fmt.Errorf("invalid bits: %q", bitsHex)
	}
	compact := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return util.CompactToTarget(compact), nil
}
