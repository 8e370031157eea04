package slave

import (
	"testing"
	"time"

	"github.com/zecpool/equihash-pool/internal/config"
)

func TestShareStruct(t *testing.T) {
	share := &Share{
		SessionID:      123,
		Address:        "zs1testaddress",
		Worker:         "worker1",
		JobID:          "job456",
		Nonce:          "0xabcdef1234567890",
		Solution:       "0x00aabbcc",
		Hash:           "0x1234567890abcdef",
		Difficulty:     1000000,
		Height:         12345,
		Timestamp:      time.Now().Unix(),
		IsBlock:        false,
		TrustScore:     75,
		SkipValidation: true,
	}

	if share.SessionID != 123 {
		t.Errorf("Share.SessionID = %d, want 123", share.SessionID)
	}
	if share.Solution != "0x00aabbcc" {
		t.Errorf("Share.Solution = %s, want 0x00aabbcc", share.Solution)
	}
	if share.JobID != "job456" {
		t.Errorf("Share.JobID = %s, want job456", share.JobID)
	}
	if !share.SkipValidation || share.TrustScore != 75 {
		t.Errorf("Share trust fields not set as expected")
	}
}

func TestShouldSkipValidation(t *testing.T) {
	cfg := &config.Config{}
	cfg.Validation.TrustThreshold = 50
	cfg.Validation.TrustCheckPercent = 100

	s := &StratumServer{cfg: cfg}

	// Below threshold: always validated, never skipped.
	untrusted := &Session{TrustScore: 10}
	for i := 0; i < 20; i++ {
		if s.shouldSkipValidation(untrusted) {
			t.Fatal("session below trust threshold should never skip validation")
		}
	}

	// At/above threshold with TrustCheckPercent=100: every share still checked.
	trusted := &Session{TrustScore: 75}
	for i := 0; i < 20; i++ {
		if s.shouldSkipValidation(trusted) {
			t.Fatal("TrustCheckPercent=100 should never skip validation")
		}
	}

	// TrustCheckPercent=0: trusted sessions always skip.
	cfg.Validation.TrustCheckPercent = 0
	for i := 0; i < 20; i++ {
		if !s.shouldSkipValidation(trusted) {
			t.Fatal("TrustCheckPercent=0 should always skip validation for trusted session")
		}
	}
}

func TestVardiffStats(t *testing.T) {
	stats := &VardiffStats{
		LastRetarget: time.Now(),
		SharesSince:  10,
	}

	if stats.SharesSince != 10 {
		t.Errorf("VardiffStats.SharesSince = %d, want 10", stats.SharesSince)
	}
}

func TestJobStruct(t *testing.T) {
	now := time.Now()
	job := &Job{
		ID:         "job123",
		Height:     12345,
		HeaderHash: "0xabcdef",
		ParentHash: "0x123456",
		Target:     "0x00001234",
		Difficulty: 1000000,
		Timestamp:  12345678,
		CleanJobs:  true,
		CreatedAt:  now,
	}

	if job.ID != "job123" {
		t.Errorf("Job.ID = %s, want job123", job.ID)
	}

	if job.Height != 12345 {
		t.Errorf("Job.Height = %d, want 12345", job.Height)
	}

	if !job.CleanJobs {
		t.Error("Job.CleanJobs should be true")
	}
}

func TestSessionStruct(t *testing.T) {
	session := &Session{
		ID:              1,
		Address:         "zs1test",
		Worker:          "rig1",
		Authorized:      true,
		Difficulty:      1000000,
		ExtraNonce1:     "12345678",
		ExtraNonce2Size: 4,
		ValidShares:     100,
		InvalidShares:   5,
		StaleShares:     2,
		TrustScore:      75,
		RemoteAddr:      "192.168.1.1:12345",
		ConnectedAt:     time.Now(),
	}

	if session.TrustScore != 75 {
		t.Errorf("Session.TrustScore = %d, want 75", session.TrustScore)
	}

	if session.ValidShares != 100 {
		t.Errorf("Session.ValidShares = %d, want 100", session.ValidShares)
	}

	if session.InvalidShares != 5 {
		t.Errorf("Session.InvalidShares = %d, want 5", session.InvalidShares)
	}
}

func TestParseWorkerID(t *testing.T) {
	tests := []struct {
		input         string
		expectAddress string
		expectWorker  string
	}{
		{"zs1abc.worker1", "zs1abc", "worker1"},
		{"zs1abc.rig.secondary", "zs1abc", "rig.secondary"},
		{"zs1abc", "zs1abc", "default"},
		{".worker", "", "worker"},
		{"", "", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			addr, worker := parseWorkerID(tt.input)
			if addr != tt.expectAddress {
				t.Errorf("parseWorkerID(%q) address = %q, want %q", tt.input, addr, tt.expectAddress)
			}
			if worker != tt.expectWorker {
				t.Errorf("parseWorkerID(%q) worker = %q, want %q", tt.input, worker, tt.expectWorker)
			}
		})
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"192.168.1.1:12345", "192.168.1.1"},
		{"10.0.0.1:80", "10.0.0.1"},
		{"[::1]:12345", "::1"},
		{"[2001:db8::1]:8080", "2001:db8::1"},
		{"127.0.0.1", "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := extractIP(tt.input)
			if result != tt.expected {
				t.Errorf("extractIP(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func BenchmarkParseWorkerID(b *testing.B) {
	input := "zs1abcdefghijklmnop.worker1"
	for i := 0; i < b.N; i++ {
		parseWorkerID(input)
	}
}

func BenchmarkExtractIP(b *testing.B) {
	input := "192.168.1.100:12345"
	for i := 0; i < b.N; i++ {
		extractIP(input)
	}
}
