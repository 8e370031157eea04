package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client, err := NewRedisClient(mr.Addr(), "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis client: %v", err)
	}

	return client, mr
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client, err := NewRedisClient(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	defer client.Close()

	if client == nil {
		t.Fatal("NewRedisClient returned nil")
	}
}

func TestNewRedisClientInvalid(t *testing.T) {
	_, err := NewRedisClient("invalid:9999", "", 0)
	if err == nil {
		t.Error("NewRedisClient should return error for invalid address")
	}
}

func TestWriteShare(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	share := &Share{
		Address:    "zs1testaddress",
		Worker:     "rig1",
		JobID:      "job123",
		Nonce:      "0x12345678",
		Difficulty: 1000000,
		Height:     12345,
		Timestamp:  time.Now().Unix(),
		Valid:      true,
	}

	if err := client.WriteShare(share, 10*time.Minute); err != nil {
		t.Fatalf("WriteShare() error = %v", err)
	}
}

func TestWriteAndGetMiner(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	share := &Share{Address: "zs1testaddress", Worker: "rig1", Difficulty: 1000, Timestamp: time.Now().Unix()}
	if err := client.WriteShare(share, 10*time.Minute); err != nil {
		t.Fatalf("WriteShare() error = %v", err)
	}

	miner, err := client.GetMiner("zs1testaddress")
	if err != nil {
		t.Fatalf("GetMiner() error = %v", err)
	}
	if miner == nil {
		t.Fatal("GetMiner() returned nil for known address")
	}
	if miner.LastShare == 0 {
		t.Error("expected LastShare to be set")
	}
}

func TestGetMinerNotFound(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	miner, err := client.GetMiner("zs1nosuchaddress")
	if err != nil {
		t.Fatalf("GetMiner() error = %v", err)
	}
	if miner != nil {
		t.Error("expected nil miner for unknown address")
	}
}

func TestWriteBlock(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	block := &Block{
		Height:     100,
		Hash:       "abc123",
		Difficulty: 5000,
		Finder:     "zs1finder",
		Worker:     "rig1",
		Timestamp:  time.Now().Unix(),
		Status:     BlockStatusCandidate,
	}
	if err := client.WriteBlock(block); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
}

func TestGetCandidateBlocks(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	block := &Block{Height: 100, Hash: "abc123", Status: BlockStatusCandidate}
	if err := client.WriteBlock(block); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}

	blocks, err := client.GetCandidateBlocks()
	if err != nil {
		t.Fatalf("GetCandidateBlocks() error = %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 candidate block, got %d", len(blocks))
	}
}

func TestMoveBlockToImmature(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	block := &Block{Height: 100, Hash: "abc123", Status: BlockStatusCandidate}
	if err := client.WriteBlock(block); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}

	if err := client.MoveBlockToImmature(block); err != nil {
		t.Fatalf("MoveBlockToImmature() error = %v", err)
	}

	candidates, _ := client.GetCandidateBlocks()
	if len(candidates) != 0 {
		t.Error("expected block to be removed from candidates")
	}
}

func TestMoveBlockToMatured(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	block := &Block{Height: 100, Hash: "abc123", Status: BlockStatusCandidate}
	client.WriteBlock(block)
	client.MoveBlockToImmature(block)

	if err := client.MoveBlockToMatured(block); err != nil {
		t.Fatalf("MoveBlockToMatured() error = %v", err)
	}

	blocks, _ := client.GetRecentBlocks(10)
	found := false
	for _, b := range blocks {
		if b.Hash == "abc123" && b.Status == BlockStatusMatured {
			found = true
		}
	}
	if !found {
		t.Error("expected matured block in recent blocks")
	}
}

func TestRemoveOrphanBlock(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	block := &Block{Height: 100, Hash: "abc123", Status: BlockStatusCandidate}
	client.WriteBlock(block)

	if err := client.RemoveOrphanBlock(block); err != nil {
		t.Fatalf("RemoveOrphanBlock() error = %v", err)
	}

	candidates, _ := client.GetCandidateBlocks()
	if len(candidates) != 0 {
		t.Error("expected orphan block removed from candidates")
	}
}

func TestGetHashrate(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	share := &Share{Address: "zs1a", Worker: "w1", Difficulty: 1000000, Timestamp: time.Now().Unix()}
	client.WriteShare(share, 10*time.Minute)

	rate, err := client.GetHashrate(10 * time.Minute)
	if err != nil {
		t.Fatalf("GetHashrate() error = %v", err)
	}
	if rate <= 0 {
		t.Error("expected positive hashrate after a share")
	}
}

func TestGetMinerHashrate(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	share := &Share{Address: "zs1a", Worker: "w1", Difficulty: 1000000, Timestamp: time.Now().Unix()}
	client.WriteShare(share, 10*time.Minute)

	rate, err := client.GetMinerHashrate("zs1a", 10*time.Minute)
	if err != nil {
		t.Fatalf("GetMinerHashrate() error = %v", err)
	}
	if rate <= 0 {
		t.Error("expected positive per-miner hashrate after a share")
	}
}

func TestPurgeStaleHashrate(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	share := &Share{Address: "zs1a", Worker: "w1", Difficulty: 1000000, Timestamp: time.Now().Unix()}
	client.WriteShare(share, 10*time.Minute)

	if err := client.PurgeStaleHashrate(0); err != nil {
		t.Fatalf("PurgeStaleHashrate() error = %v", err)
	}
}

func TestSetAndGetNetworkStats(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	stats := &NetworkStats{Height: 1000, Difficulty: 5000, Hashrate: 123.4, LastBeat: time.Now().Unix()}
	if err := client.SetNetworkStats(stats); err != nil {
		t.Fatalf("SetNetworkStats() error = %v", err)
	}

	got, err := client.GetNetworkStats()
	if err != nil {
		t.Fatalf("GetNetworkStats() error = %v", err)
	}
	if got.Height != 1000 || got.Difficulty != 5000 {
		t.Errorf("GetNetworkStats() = %+v, want height=1000 difficulty=5000", got)
	}
}

func TestBlacklist(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	if err := client.AddToBlacklist("zs1bad"); err != nil {
		t.Fatalf("AddToBlacklist() error = %v", err)
	}

	listed, err := client.IsBlacklisted("zs1bad")
	if err != nil {
		t.Fatalf("IsBlacklisted() error = %v", err)
	}
	if !listed {
		t.Error("expected address to be blacklisted")
	}

	all, err := client.GetBlacklist()
	if err != nil {
		t.Fatalf("GetBlacklist() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 blacklisted address, got %d", len(all))
	}

	if err := client.RemoveFromBlacklist("zs1bad"); err != nil {
		t.Fatalf("RemoveFromBlacklist() error = %v", err)
	}
	listed, _ = client.IsBlacklisted("zs1bad")
	if listed {
		t.Error("expected address to be removed from blacklist")
	}
}

func TestWhitelist(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	if err := client.AddToWhitelist("1.2.3.4"); err != nil {
		t.Fatalf("AddToWhitelist() error = %v", err)
	}

	listed, err := client.IsWhitelisted("1.2.3.4")
	if err != nil {
		t.Fatalf("IsWhitelisted() error = %v", err)
	}
	if !listed {
		t.Error("expected IP to be whitelisted")
	}

	all, err := client.GetWhitelist()
	if err != nil {
		t.Fatalf("GetWhitelist() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 whitelisted IP, got %d", len(all))
	}

	if err := client.RemoveFromWhitelist("1.2.3.4"); err != nil {
		t.Fatalf("RemoveFromWhitelist() error = %v", err)
	}
	listed, _ = client.IsWhitelisted("1.2.3.4")
	if listed {
		t.Error("expected IP to be removed from whitelist")
	}
}

func TestGetPoolStats(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	stats, err := client.GetPoolStats(10*time.Minute, 3*time.Hour)
	if err != nil {
		t.Fatalf("GetPoolStats() error = %v", err)
	}
	if stats == nil {
		t.Fatal("GetPoolStats() returned nil")
	}
}

func TestGetRecentBlocks(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	client.WriteBlock(&Block{Height: 100, Hash: "a1", Status: BlockStatusCandidate})
	client.WriteBlock(&Block{Height: 101, Hash: "a2", Status: BlockStatusCandidate})

	blocks, err := client.GetRecentBlocks(10)
	if err != nil {
		t.Fatalf("GetRecentBlocks() error = %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 recent blocks, got %d", len(blocks))
	}
}

func TestShareStruct(t *testing.T) {
	share := Share{
		Address:    "zs1a",
		Worker:     "w1",
		JobID:      "j1",
		Nonce:      "0x1",
		Hash:       "0xdead",
		Difficulty: 1,
		Height:     1,
		Timestamp:  1,
		Valid:      true,
	}
	if !share.Valid {
		t.Error("Share.Valid should be true")
	}
}

func TestBlockStruct(t *testing.T) {
	block := Block{Height: 1, Hash: "abc", Status: BlockStatusMatured}
	if block.Status != BlockStatusMatured {
		t.Errorf("Block.Status = %s, want %s", block.Status, BlockStatusMatured)
	}
}

func TestMinerStruct(t *testing.T) {
	miner := Miner{Address: "zs1a", BlocksFound: 2, LastShare: 1234}
	if miner.BlocksFound != 2 {
		t.Errorf("Miner.BlocksFound = %d, want 2", miner.BlocksFound)
	}
}

func TestPoolStatsStruct(t *testing.T) {
	stats := PoolStats{Hashrate: 1.5, Miners: 3, Workers: 5, BlocksFound: 1}
	if stats.Miners != 3 {
		t.Errorf("PoolStats.Miners = %d, want 3", stats.Miners)
	}
}

func TestNetworkStatsStruct(t *testing.T) {
	stats := NetworkStats{Height: 100, Difficulty: 5000}
	if stats.Height != 100 {
		t.Errorf("NetworkStats.Height = %d, want 100", stats.Height)
	}
}

func TestBlockStatusConstants(t *testing.T) {
	statuses := []BlockStatus{BlockStatusCandidate, BlockStatusImmature, BlockStatusMatured, BlockStatusOrphan}
	seen := map[BlockStatus]bool{}
	for _, s := range statuses {
		if seen[s] {
			t.Errorf("duplicate BlockStatus value: %s", s)
		}
		seen[s] = true
	}
}
