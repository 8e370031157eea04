// Package api provides the REST API server.
package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zecpool/equihash-pool/internal/config"
	"github.com/zecpool/equihash-pool/internal/equihash"
	"github.com/zecpool/equihash-pool/internal/storage"
	"github.com/zecpool/equihash-pool/internal/util"
)

// UpstreamStateFunc is a callback to get upstream states
type UpstreamStateFunc func() []UpstreamStatus

// UpstreamStatus represents the status of an upstream node
type UpstreamStatus struct {
	Name         string  `json:"name"`
	URL          string  `json:"url"`
	Healthy      bool    `json:"healthy"`
	ResponseTime float64 `json:"response_time_ms"`
	Height       uint64  `json:"height"`
	Weight       int     `json:"weight"`
	FailCount    int32   `json:"fail_count"`
	SuccessCount int32   `json:"success_count"`
}

// Server is the API server
type Server struct {
	cfg    *config.Config
	redis  *storage.RedisClient
	router *gin.Engine
	server *http.Server

	// Cache
	statsCacheMu   sync.RWMutex
	statsCache     *StatsResponse
	statsCacheTime time.Time

	// Upstream state callback
	upstreamStateFunc UpstreamStateFunc
}

// StatsResponse is the /api/stats response
type StatsResponse struct {
	Pool    PoolStats    `json:"pool"`
	Network NetworkStats `json:"network"`
	Now     int64        `json:"now"`
}

// PoolStats contains pool statistics
type PoolStats struct {
	Hashrate        float64 `json:"hashrate"`
	HashrateLarge   float64 `json:"hashrate_large"`
	Miners          int64   `json:"miners"`
	Workers         int64   `json:"workers"`
	BlocksFound     uint64  `json:"blocks_found"`
	LastBlockFound  int64   `json:"last_block_found"`
	LastBlockHeight uint64  `json:"last_block_height"`
	Fee             float64 `json:"fee"`
}

// NetworkStats contains network statistics
type NetworkStats struct {
	Height     uint64  `json:"height"`
	Difficulty uint64  `json:"difficulty"`
	Hashrate   float64 `json:"hashrate"`
}

// MinerResponse is the /api/miners/:address response. Reward balances
// are a wallet-layer concern and are not tracked here.
type MinerResponse struct {
	Address     string        `json:"address"`
	Hashrate    float64       `json:"hashrate"`
	BlocksFound uint64        `json:"blocks_found"`
	LastShare   int64         `json:"last_share"`
	Workers     []WorkerStats `json:"workers"`
}

// WorkerStats contains worker statistics
type WorkerStats struct {
	Name     string  `json:"name"`
	Hashrate float64 `json:"hashrate"`
	LastSeen int64   `json:"last_seen"`
	Accepted uint64  `json:"accepted"`
	Rejected uint64  `json:"rejected"`
}

// BlockResponse is a block in the blocks list
type BlockResponse struct {
	Height        uint64 `json:"height"`
	Hash          string `json:"hash"`
	Finder        string `json:"finder"`
	Reward        uint64 `json:"reward"`
	Timestamp     int64  `json:"timestamp"`
	Status        string `json:"status"`
	Confirmations uint64 `json:"confirmations"`
}

// VerifyRequest is the body of /api/verify: a header/nonce/solution triple
// to run through the Equihash verifier directly, independent of any job.
type VerifyRequest struct {
	Header   string `json:"header"`
	Nonce    string `json:"nonce"`
	Solution string `json:"solution"`
}

// VerifyResponse reports the verifier's verdict.
type VerifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, redis *storage.RedisClient) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		redis:  redis,
		router: router,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures API endpoints
func (s *Server) setupRoutes() {
	// CORS middleware
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := s.router.Group("/api")
	{
		api.GET("/stats", s.handleStats)
		api.GET("/blocks", s.handleBlocks)
		api.GET("/miners/:address", s.handleMiner)
		api.POST("/verify", s.handleVerify)
	}

	// Admin API (password protected)
	if s.cfg.API.AdminEnabled && s.cfg.API.AdminPassword != "" {
		admin := s.router.Group("/admin")
		admin.Use(s.adminAuthMiddleware())
		{
			admin.GET("/stats", s.handleAdminStats)
			admin.GET("/blacklist", s.handleGetBlacklist)
			admin.POST("/blacklist", s.handleAddBlacklist)
			admin.DELETE("/blacklist/:address", s.handleRemoveBlacklist)
			admin.GET("/whitelist", s.handleGetWhitelist)
			admin.POST("/whitelist", s.handleAddWhitelist)
			admin.DELETE("/whitelist/:ip", s.handleRemoveWhitelist)
			admin.GET("/upstreams", s.handleUpstreams)
		}
	}

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}

// Start begins the API server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.cfg.API.Bind,
		Handler: s.router,
	}

	util.Infof("API server listening on %s", s.cfg.API.Bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the API server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// SetUpstreamStateFunc sets the callback for getting upstream states
func (s *Server) SetUpstreamStateFunc(fn UpstreamStateFunc) {
	s.upstreamStateFunc = fn
}

// handleStats returns pool and network statistics
func (s *Server) handleStats(c *gin.Context) {
	// Check cache
	s.statsCacheMu.RLock()
	if s.statsCache != nil && time.Since(s.statsCacheTime) < s.cfg.API.StatsCache {
		cache := s.statsCache
		s.statsCacheMu.RUnlock()
		c.JSON(200, cache)
		return
	}
	s.statsCacheMu.RUnlock()

	// Get fresh stats
	poolStats, err := s.redis.GetPoolStats(
		s.cfg.Validation.HashrateWindow,
		s.cfg.Validation.HashrateLargeWindow,
	)
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to get pool stats"})
		return
	}

	netStats, err := s.redis.GetNetworkStats()
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to get network stats"})
		return
	}

	response := &StatsResponse{
		Pool: PoolStats{
			Hashrate:        poolStats.Hashrate,
			HashrateLarge:   poolStats.HashrateLarge,
			Miners:          poolStats.Miners,
			Workers:         poolStats.Workers,
			BlocksFound:     poolStats.BlocksFound,
			LastBlockFound:  poolStats.LastBlockFound,
			LastBlockHeight: poolStats.LastBlockHeight,
			Fee:             s.cfg.Pool.Fee,
		},
		Network: NetworkStats{
			Height:     netStats.Height,
			Difficulty: netStats.Difficulty,
			Hashrate:   netStats.Hashrate,
		},
		Now: time.Now().Unix(),
	}

	// Update cache
	s.statsCacheMu.Lock()
	s.statsCache = response
	s.statsCacheTime = time.Now()
	s.statsCacheMu.Unlock()

	c.JSON(200, response)
}

// handleBlocks returns recent blocks
func (s *Server) handleBlocks(c *gin.Context) {
	blocks, err := s.redis.GetRecentBlocks(50)
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to get blocks"})
		return
	}

	// Get current height for confirmations
	netStats, _ := s.redis.GetNetworkStats()
	currentHeight := uint64(0)
	if netStats != nil {
		currentHeight = netStats.Height
	}

	response := make([]BlockResponse, 0, len(blocks))
	for _, block := range blocks {
		confirmations := uint64(0)
		if currentHeight > block.Height {
			confirmations = currentHeight - block.Height
		}

		response = append(response, BlockResponse{
			Height:        block.Height,
			Hash:          block.Hash,
			Finder:        block.Finder,
			Reward:        block.Reward,
			Timestamp:     block.Timestamp,
			Status:        string(block.Status),
			Confirmations: confirmations,
		})
	}

	c.JSON(200, gin.H{"blocks": response})
}

// handleMiner returns miner statistics
func (s *Server) handleMiner(c *gin.Context) {
	address := c.Param("address")

	if !util.ValidateAddress(address) {
		c.JSON(400, gin.H{"error": "Invalid address"})
		return
	}

	miner, err := s.redis.GetMiner(address)
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to get miner"})
		return
	}

	if miner == nil {
		c.JSON(404, gin.H{"error": "Miner not found"})
		return
	}

	hashrate, _ := s.redis.GetMinerHashrate(address, s.cfg.Validation.HashrateWindow)

	workers := make([]WorkerStats, 0, len(miner.Workers))
	for _, w := range miner.Workers {
		workers = append(workers, WorkerStats{
			Name:     w.Name,
			Hashrate: w.Hashrate,
			LastSeen: w.LastSeen,
			Accepted: w.Accepted,
			Rejected: w.Rejected,
		})
	}

	response := MinerResponse{
		Address:     address,
		Hashrate:    hashrate,
		BlocksFound: miner.BlocksFound,
		LastShare:   miner.LastShare,
		Workers:     workers,
	}

	c.JSON(200, response)
}

// handleVerify runs a header/nonce/solution triple through the Equihash
// verifier directly. Useful for debugging miner output against the pool's
// configured parameter set without submitting a live share.
func (s *Server) handleVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request"})
		return
	}

	header, err := util.HexToBytes(req.Header)
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid header encoding"})
		return
	}

	nonce, err := util.HexToBytes(req.Nonce)
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid nonce encoding"})
		return
	}

	solution, err := util.HexToBytes(req.Solution)
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid solution encoding"})
		return
	}

	params, err := equihash.NewParams(s.cfg.Equihash.N, s.cfg.Equihash.K, s.cfg.Equihash.Person)
	if err != nil {
		c.JSON(500, gin.H{"error": "Pool misconfigured"})
		return
	}

	result := equihash.Verify(params, header, nonce, solution)
	c.JSON(200, VerifyResponse{Valid: result.Valid, Reason: result.Reason})
}

// adminAuthMiddleware validates admin password
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(401, gin.H{"error": "Authorization required"})
			c.Abort()
			return
		}

		// Support both "Bearer <password>" and plain password
		password := strings.TrimPrefix(auth, "Bearer ")
		if password != s.cfg.API.AdminPassword {
			c.JSON(403, gin.H{"error": "Invalid password"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// AdminStatsResponse contains detailed admin statistics
type AdminStatsResponse struct {
	Pool           *storage.PoolStats    `json:"pool"`
	Network        *storage.NetworkStats `json:"network"`
	BlacklistCount int                   `json:"blacklist_count"`
	WhitelistCount int                   `json:"whitelist_count"`
}

// handleAdminStats returns detailed admin statistics
func (s *Server) handleAdminStats(c *gin.Context) {
	poolStats, _ := s.redis.GetPoolStats(
		s.cfg.Validation.HashrateWindow,
		s.cfg.Validation.HashrateLargeWindow,
	)
	netStats, _ := s.redis.GetNetworkStats()
	blacklist, _ := s.redis.GetBlacklist()
	whitelist, _ := s.redis.GetWhitelist()

	response := AdminStatsResponse{
		Pool:           poolStats,
		Network:        netStats,
		BlacklistCount: len(blacklist),
		WhitelistCount: len(whitelist),
	}

	c.JSON(200, response)
}

// handleGetBlacklist returns all blacklisted addresses
func (s *Server) handleGetBlacklist(c *gin.Context) {
	blacklist, err := s.redis.GetBlacklist()
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to get blacklist"})
		return
	}

	c.JSON(200, gin.H{"blacklist": blacklist})
}

// BlacklistRequest represents a blacklist add request
type BlacklistRequest struct {
	Address string `json:"address"`
}

// handleAddBlacklist adds an address to the blacklist
func (s *Server) handleAddBlacklist(c *gin.Context) {
	var req BlacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request"})
		return
	}

	if req.Address == "" {
		c.JSON(400, gin.H{"error": "Address required"})
		return
	}

	if err := s.redis.AddToBlacklist(req.Address); err != nil {
		c.JSON(500, gin.H{"error": "Failed to add to blacklist"})
		return
	}

	util.Infof("Admin: Added %s to blacklist", req.Address)
	c.JSON(200, gin.H{"status": "ok", "address": req.Address})
}

// handleRemoveBlacklist removes an address from the blacklist
func (s *Server) handleRemoveBlacklist(c *gin.Context) {
	address := c.Param("address")
	if address == "" {
		c.JSON(400, gin.H{"error": "Address required"})
		return
	}

	if err := s.redis.RemoveFromBlacklist(address); err != nil {
		c.JSON(500, gin.H{"error": "Failed to remove from blacklist"})
		return
	}

	util.Infof("Admin: Removed %s from blacklist", address)
	c.JSON(200, gin.H{"status": "ok", "address": address})
}

// handleGetWhitelist returns all whitelisted IPs
func (s *Server) handleGetWhitelist(c *gin.Context) {
	whitelist, err := s.redis.GetWhitelist()
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to get whitelist"})
		return
	}

	c.JSON(200, gin.H{"whitelist": whitelist})
}

// WhitelistRequest represents a whitelist add request
type WhitelistRequest struct {
	IP string `json:"ip"`
}

// handleAddWhitelist adds an IP to the whitelist
func (s *Server) handleAddWhitelist(c *gin.Context) {
	var req WhitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request"})
		return
	}

	if req.IP == "" {
		c.JSON(400, gin.H{"error": "IP required"})
		return
	}

	if err := s.redis.AddToWhitelist(req.IP); err != nil {
		c.JSON(500, gin.H{"error": "Failed to add to whitelist"})
		return
	}

	util.Infof("Admin: Added %s to whitelist", req.IP)
	c.JSON(200, gin.H{"status": "ok", "ip": req.IP})
}

// handleRemoveWhitelist removes an IP from the whitelist
func (s *Server) handleRemoveWhitelist(c *gin.Context) {
	ip := c.Param("ip")
	if ip == "" {
		c.JSON(400, gin.H{"error": "IP required"})
		return
	}

	if err := s.redis.RemoveFromWhitelist(ip); err != nil {
		c.JSON(500, gin.H{"error": "Failed to remove from whitelist"})
		return
	}

	util.Infof("Admin: Removed %s from whitelist", ip)
	c.JSON(200, gin.H{"status": "ok", "ip": ip})
}

// handleUpstreams returns upstream node status
func (s *Server) handleUpstreams(c *gin.Context) {
	if s.upstreamStateFunc == nil {
		c.JSON(200, gin.H{
			"upstreams": []UpstreamStatus{},
			"total":     0,
			"healthy":   0,
			"active":    "",
		})
		return
	}

	upstreams := s.upstreamStateFunc()

	healthyCount := 0
	var activeUpstream string
	for _, u := range upstreams {
		if u.Healthy {
			healthyCount++
			if activeUpstream == "" {
				activeUpstream = u.Name
			}
		}
	}

	c.JSON(200, gin.H{
		"upstreams": upstreams,
		"total":     len(upstreams),
		"healthy":   healthyCount,
		"active":    activeUpstream,
	})
}
