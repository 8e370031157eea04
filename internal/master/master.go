// Package master implements the pool coordinator: job distribution, share
// verification against the Equihash GBP parameter set, and block
// maturation tracking.
package master

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zecpool/equihash-pool/internal/config"
	"github.com/zecpool/equihash-pool/internal/equihash"
	"github.com/zecpool/equihash-pool/internal/notify"
	"github.com/zecpool/equihash-pool/internal/rpc"
	"github.com/zecpool/equihash-pool/internal/storage"
	"github.com/zecpool/equihash-pool/internal/util"
)

// Orphan detection asks the node for each stored block hash rather than
// scanning a fixed search window, since getblock on a stale hash simply
// fails; no search-range constant exists.
const (
	MaxJobBacklog = 3 // number of previous jobs kept for stale share prevention
)

// Master is the pool coordinator
type Master struct {
	cfg      *config.Config
	redis    *storage.RedisClient
	upstream *rpc.UpstreamManager
	notifier *notify.Notifier
	params   equihash.Params

	// Current state
	currentHeight uint64
	currentDiff   uint64
	lastBlockTime time.Time

	// Job management
	currentJob    *Job
	jobBacklog    map[string]*Job // Job ID -> Job for stale share prevention
	jobMu         sync.RWMutex
	jobUpdateChan chan struct{}

	// Share processing
	shareChan chan *ShareSubmission

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Job represents a mining job handed to Stratum sessions. HeaderPrefix is
// the 108-byte Equihash header (version, prevhash, merkle root, final
// sapling root, time, bits) with nonce and solution left for the miner to
// fill in; it never embeds a nonce itself.
type Job struct {
	ID            string
	Height        uint64
	HeaderPrefix  []byte
	Target        []byte
	Difficulty    uint64
	Timestamp     uint64
	CoinbaseValue uint64
	CreatedAt     time.Time
}

// ShareSubmission represents a share from a miner
type ShareSubmission struct {
	Address        string
	Worker         string
	JobID          string
	Nonce          string
	Solution       string
	Difficulty     uint64
	Height         uint64
	TrustScore     int  // trust score of the submitting session
	SkipValidation bool // if true, skip Equihash verification for trusted, sub-block shares
	ResultChan     chan *ShareResult
}

// ShareResult is the result of share validation
type ShareResult struct {
	Valid   bool
	Block   bool
	Message string
}

// NewMaster creates a new pool master
func NewMaster(cfg *config.Config, redis *storage.RedisClient, upstream *rpc.UpstreamManager) (*Master, error) {
	ctx, cancel := context.WithCancel(context.Background())

	notifyCfg := &notify.WebhookConfig{
		Enabled:      cfg.Notify.Enabled,
		DiscordURL:   cfg.Notify.DiscordURL,
		TelegramBot:  cfg.Notify.TelegramBot,
		TelegramChat: cfg.Notify.TelegramChat,
		PoolName:     cfg.Pool.Name,
		PoolURL:      cfg.Notify.PoolURL,
	}

	params, err := equihash.NewParams(cfg.Equihash.N, cfg.Equihash.K, cfg.Equihash.Person)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid equihash parameters: %w", err)
	}
	if err := params.Validate(); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid equihash parameters: %w", err)
	}

	return &Master{
		cfg:           cfg,
		redis:         redis,
		upstream:      upstream,
		notifier:      notify.NewNotifier(notifyCfg),
		params:        params,
		shareChan:     make(chan *ShareSubmission, 10000),
		jobBacklog:    make(map[string]*Job),
		jobUpdateChan: make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// GetJobUpdateChan returns a channel that signals when a new job is available
func (m *Master) GetJobUpdateChan() <-chan struct{} {
	return m.jobUpdateChan
}

// Start begins the master coordinator
func (m *Master) Start() error {
	util.Info("Starting pool master...")

	if err := m.refreshJob(); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.jobRefreshLoop()

	m.wg.Add(1)
	go m.shareProcessLoop()

	m.wg.Add(1)
	go m.maturityLoop()

	m.wg.Add(1)
	go m.statsUpdateLoop()

	util.Info("Pool master started")
	return nil
}

// Stop shuts down the master
func (m *Master) Stop() {
	util.Info("Stopping pool master...")
	m.cancel()
	m.wg.Wait()
	util.Info("Pool master stopped")
}

// jobRefreshLoop periodically fetches new jobs
func (m *Master) jobRefreshLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Mining.JobRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.refreshJob(); err != nil {
				util.Warnf("Job refresh failed: %v", err)
			}
		}
	}
}

// refreshJob fetches a new job from the node
func (m *Master) refreshJob() error {
	node := m.upstream.GetClient()
	if node == nil {
		return fmt.Errorf("no upstream available")
	}

	template, err := node.GetBlockTemplate(m.ctx)
	if err != nil {
		m.upstream.RecordFailure()
		return err
	}
	m.upstream.RecordSuccess()

	if template.Height == m.currentHeight && m.currentJob != nil {
		return nil
	}

	target, err := rpc.TargetFromCompact(template.Bits)
	if err != nil {
		return err
	}

	difficulty := util.TargetToDifficulty(target)
	if difficulty == 0 {
		difficulty = 1
	}

	jobID := util.BytesToHexNoPre(util.BlockPoWHash(template.HeaderPrefix)[:8])

	job := &Job{
		ID:            jobID,
		Height:        template.Height,
		HeaderPrefix:  template.HeaderPrefix,
		Target:        target.Bytes(),
		Difficulty:    difficulty,
		Timestamp:     template.CurTime,
		CoinbaseValue: template.CoinbaseValue,
		CreatedAt:     time.Now(),
	}

	m.jobMu.Lock()
	if m.currentJob != nil {
		m.jobBacklog[m.currentJob.ID] = m.currentJob
	}

	m.currentJob = job
	m.currentHeight = template.Height
	m.currentDiff = difficulty

	m.pruneJobBacklog()
	m.jobMu.Unlock()

	select {
	case m.jobUpdateChan <- struct{}{}:
	default:
	}

	util.Debugf("New job %s at height %d, diff %d (backlog: %d jobs)",
		job.ID, job.Height, job.Difficulty, len(m.jobBacklog))

	return nil
}

// pruneJobBacklog removes old jobs from the backlog
// Must be called with jobMu held
func (m *Master) pruneJobBacklog() {
	if len(m.jobBacklog) <= MaxJobBacklog {
		return
	}

	minHeight := m.currentHeight
	if minHeight > MaxJobBacklog {
		minHeight -= MaxJobBacklog
	} else {
		minHeight = 0
	}

	for id, job := range m.jobBacklog {
		if job.Height < minHeight {
			delete(m.jobBacklog, id)
		}
	}
}

// GetCurrentJob returns the current mining job
func (m *Master) GetCurrentJob() *Job {
	m.jobMu.RLock()
	defer m.jobMu.RUnlock()
	return m.currentJob
}

// SubmitShare queues a share for validation
func (m *Master) SubmitShare(share *ShareSubmission) *ShareResult {
	share.ResultChan = make(chan *ShareResult, 1)

	select {
	case m.shareChan <- share:
		return <-share.ResultChan
	case <-m.ctx.Done():
		return &ShareResult{Valid: false, Message: "Pool shutting down"}
	}
}

// shareProcessLoop handles share validation
func (m *Master) shareProcessLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case share := <-m.shareChan:
			result := m.processShare(share)
			share.ResultChan <- result
		}
	}
}

// processShare validates a submitted share against the Equihash parameter
// set and the job's target.
func (m *Master) processShare(share *ShareSubmission) *ShareResult {
	m.jobMu.RLock()
	job := m.currentJob
	if job == nil {
		m.jobMu.RUnlock()
		return &ShareResult{Valid: false, Message: "No active job"}
	}

	if share.JobID != job.ID {
		if backlogJob, ok := m.jobBacklog[share.JobID]; ok {
			job = backlogJob
			util.Debugf("Accepting share for backlog job %s (current: %s)", share.JobID, m.currentJob.ID)
		} else {
			m.jobMu.RUnlock()
			return &ShareResult{Valid: false, Message: "Stale job"}
		}
	}
	m.jobMu.RUnlock()

	var powHash []byte
	var actualDiff uint64
	var nonce, solution []byte

	// Trust-based validation: skip expensive Equihash verification for
	// trusted miners submitting sub-block-difficulty shares. Any share
	// claiming to meet the block target is always fully verified.
	if share.SkipValidation && share.Difficulty < job.Difficulty {
		util.Debugf("Trust-based skip: miner %s (trust=%d) share at diff %d",
			share.Address[:min(12, len(share.Address))], share.TrustScore, share.Difficulty)
		actualDiff = share.Difficulty
	} else {
		var err error
		nonce, err = util.HexToBytes(share.Nonce)
		if err != nil || len(nonce) != 32 {
			return &ShareResult{Valid: false, Message: "Invalid nonce"}
		}

		solution, err = util.HexToBytes(share.Solution)
		if err != nil {
			return &ShareResult{Valid: false, Message: "Invalid solution encoding"}
		}

		result := equihash.Verify(m.params, job.HeaderPrefix, nonce, solution)
		if !result.Valid {
			return &ShareResult{Valid: false, Message: result.Reason}
		}

		full := make([]byte, 0, len(job.HeaderPrefix)+len(nonce)+len(solution))
		full = append(full, job.HeaderPrefix...)
		full = append(full, nonce...)
		full = append(full, solution...)

		powHash = util.BlockPoWHash(full)
		actualDiff = util.HashToDifficulty(powHash)
		if actualDiff < share.Difficulty {
			return &ShareResult{Valid: false, Message: "Low difficulty share"}
		}
	}

	hashStr := ""
	if powHash != nil {
		hashStr = util.BytesToHex(powHash)
	}

	dbShare := &storage.Share{
		Address:    share.Address,
		Worker:     share.Worker,
		JobID:      share.JobID,
		Nonce:      share.Nonce,
		Hash:       hashStr,
		Difficulty: share.Difficulty,
		Height:     job.Height,
		Timestamp:  time.Now().Unix(),
		Valid:      true,
	}

	if err := m.redis.WriteShare(dbShare, m.cfg.Validation.HashrateWindow); err != nil {
		util.Warnf("Failed to store share: %v", err)
	}

	if powHash != nil && actualDiff >= job.Difficulty {
		util.Infof("BLOCK FOUND! Height: %d, Hash: %s, Finder: %s",
			job.Height, hashStr, share.Address)

		node := m.upstream.GetClient()
		if node == nil {
			util.Error("Block submission failed: no upstream available")
			return &ShareResult{Valid: true, Block: true, Message: "Block found but submission failed"}
		}

		blockHex := util.BytesToHexNoPre(job.HeaderPrefix) + util.BytesToHexNoPre(nonce) + util.BytesToHexNoPre(solution)

		success, err := node.SubmitBlock(m.ctx, blockHex)
		if err != nil {
			util.Errorf("Block submission failed: %v", err)
		}

		if success {
			block := &storage.Block{
				Height:     job.Height,
				Hash:       util.BytesToHexNoPre(powHash),
				Nonce:      share.Nonce,
				Difficulty: job.Difficulty,
				Reward:     job.CoinbaseValue,
				Finder:     share.Address,
				Worker:     share.Worker,
				Timestamp:  time.Now().Unix(),
				Status:     storage.BlockStatusCandidate,
			}

			if err := m.redis.WriteBlock(block); err != nil {
				util.Errorf("Failed to store block: %v", err)
			}

			m.notifier.NotifyBlockFound(block, m.currentDiff)
			m.lastBlockTime = time.Now()
		}

		return &ShareResult{Valid: true, Block: true, Message: "Block found!"}
	}

	return &ShareResult{Valid: true, Block: false, Message: "Share accepted"}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// maturityLoop periodically re-checks candidate and immature blocks against
// chain height for maturation/orphan detection.
func (m *Master) maturityLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Master.MaturityCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.processBlocks()
		}
	}
}

// processBlocks advances candidate/immature blocks through maturation.
// Orphan detection is done by checking whether the node's canonical chain
// still contains the block's hash rather than by inspecting coinbase
// outputs (which this pool does not parse).
func (m *Master) processBlocks() {
	node := m.upstream.GetClient()
	if node == nil {
		util.Warn("Block processing skipped: no upstream available")
		return
	}

	chainInfo, err := node.GetChainInfo(m.ctx)
	if err != nil {
		m.upstream.RecordFailure()
		util.Warnf("Failed to get chain info: %v", err)
		return
	}
	m.upstream.RecordSuccess()
	currentHeight := chainInfo.Blocks

	candidates, err := m.redis.GetCandidateBlocks()
	if err != nil {
		util.Warnf("Failed to get candidate blocks: %v", err)
		return
	}

	for _, block := range candidates {
		m.maturateBlock(node, block, currentHeight)
	}

	immatureBlocks, err := m.redis.GetImmatureBlocks()
	if err != nil {
		util.Warnf("Failed to get immature blocks: %v", err)
		return
	}

	for _, block := range immatureBlocks {
		m.maturateBlock(node, block, currentHeight)
	}
}

func (m *Master) maturateBlock(node *rpc.NodeClient, block *storage.Block, currentHeight uint64) {
	info, err := node.GetBlockByHash(m.ctx, block.Hash)
	if err != nil || info == nil {
		util.Warnf("Block %d (%s) no longer on canonical chain: orphaned", block.Height, block.Hash[:16])
		m.notifier.NotifyOrphanBlock(block)
		if rmErr := m.redis.RemoveOrphanBlock(block); rmErr != nil {
			util.Errorf("Failed to remove orphan block: %v", rmErr)
		}
		return
	}

	var confirmations uint64
	if currentHeight > block.Height {
		confirmations = currentHeight - block.Height
	}

	if confirmations >= m.cfg.Master.MatureDepth {
		util.Infof("Block %d matured with %d confirmations (reward: %d)",
			block.Height, confirmations, block.Reward)
		if err := m.redis.MoveBlockToMatured(block); err != nil {
			util.Errorf("Failed to move block to matured: %v", err)
		}
	} else if block.Status == storage.BlockStatusCandidate && confirmations >= m.cfg.Master.ImmatureDepth {
		if err := m.redis.MoveBlockToImmature(block); err != nil {
			util.Errorf("Failed to move block to immature: %v", err)
		}
	}
}

// statsUpdateLoop updates network statistics
func (m *Master) statsUpdateLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.updateStats()
		}
	}
}

// updateStats updates network statistics in Redis
func (m *Master) updateStats() {
	node := m.upstream.GetClient()
	if node == nil {
		return
	}

	chainInfo, err := node.GetChainInfo(m.ctx)
	if err != nil {
		m.upstream.RecordFailure()
		return
	}
	m.upstream.RecordSuccess()

	stats := &storage.NetworkStats{
		Height:     chainInfo.Blocks,
		Difficulty: uint64(chainInfo.Difficulty),
		Hashrate:   chainInfo.NetworkHashPS,
		LastBeat:   time.Now().Unix(),
	}

	m.redis.SetNetworkStats(stats)
}

// GetStats returns current pool statistics
func (m *Master) GetStats() (*storage.PoolStats, error) {
	return m.redis.GetPoolStats(
		m.cfg.Validation.HashrateWindow,
		m.cfg.Validation.HashrateLargeWindow,
	)
}

// GetNetworkStats returns network statistics
func (m *Master) GetNetworkStats() (*storage.NetworkStats, error) {
	return m.redis.GetNetworkStats()
}

// GetUpstreamStates returns the health status of all upstream nodes
func (m *Master) GetUpstreamStates() []rpc.UpstreamState {
	return m.upstream.GetUpstreamStates()
}

// GetActiveUpstream returns the name of the currently active upstream
func (m *Master) GetActiveUpstream() string {
	return m.upstream.GetActiveUpstream()
}

// HasHealthyUpstream returns true if at least one upstream is healthy
func (m *Master) HasHealthyUpstream() bool {
	return m.upstream.HasHealthyUpstream()
}

// UpstreamCount returns the number of configured upstreams
func (m *Master) UpstreamCount() int {
	return m.upstream.UpstreamCount()
}

// HealthyUpstreamCount returns the number of healthy upstreams
func (m *Master) HealthyUpstreamCount() int {
	return m.upstream.HealthyCount()
}
