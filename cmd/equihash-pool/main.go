// Equihash Pool - mining pool for Zcash/BTG-family Equihash chains.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zecpool/equihash-pool/internal/api"
	"github.com/zecpool/equihash-pool/internal/config"
	"github.com/zecpool/equihash-pool/internal/master"
	"github.com/zecpool/equihash-pool/internal/policy"
	"github.com/zecpool/equihash-pool/internal/profiling"
	"github.com/zecpool/equihash-pool/internal/rpc"
	"github.com/zecpool/equihash-pool/internal/slave"
	"github.com/zecpool/equihash-pool/internal/storage"
	"github.com/zecpool/equihash-pool/internal/util"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	mode := flag.String("mode", "combined", "Run mode: combined, master, slave")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Equihash Pool v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	util.Infof("Equihash Pool v%s starting in %s mode", version, *mode)

	// Apply mode overrides
	switch *mode {
	case "master":
		cfg.Master.Enabled = true
		cfg.Slave.Enabled = false
	case "slave":
		cfg.Master.Enabled = false
		cfg.Slave.Enabled = true
	case "combined":
		cfg.Master.Enabled = true
		cfg.Slave.Enabled = true
	default:
		util.Fatalf("Invalid mode: %s", *mode)
	}

	// Connect to Redis
	redis, err := storage.NewRedisClient(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		util.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	// Create upstream manager with multi-node failover support
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	upstreamMgr := rpc.NewUpstreamManager(ctx, &cfg.Node)
	// Record the pool's fee address as the upstream clients' miner address
	// (GetBlockTemplate does not send it to the node)
	upstreamMgr.SetMinerAddress(cfg.Pool.FeeAddress)
	upstreamMgr.Start()

	var masterCoord *master.Master
	var stratum *slave.StratumServer
	var wsServer *slave.WebSocketServer
	var apiServer *api.Server
	var policyServer *policy.PolicyServer
	var pprofServer *profiling.Server

	// Initialize policy server for security
	policyConfig := policy.DefaultConfig()
	// Apply security settings from config file
	if cfg.Security.MaxConnectionsPerIP > 0 {
		policyConfig.ConnectionLimit = int32(cfg.Security.MaxConnectionsPerIP)
	}
	if cfg.Security.BanThreshold > 0 {
		policyConfig.CheckThreshold = int32(cfg.Security.BanThreshold)
	}
	if cfg.Security.BanDuration > 0 {
		policyConfig.BanTimeout = cfg.Security.BanDuration
	}
	if cfg.Security.RateLimitShares > 0 {
		policyConfig.MaxScore = int32(cfg.Security.RateLimitShares)
	}
	policyServer = policy.NewPolicyServer(policyConfig, redis)
	policyServer.Start()

	// Start pprof profiling server if enabled
	if cfg.Profiling.Enabled {
		pprofServer = profiling.NewServer(&cfg.Profiling)
		if err := pprofServer.Start(); err != nil {
			util.Errorf("Failed to start pprof server: %v", err)
		}
	}

	// Start master if enabled
	if cfg.Master.Enabled {
		masterCoord, err = master.NewMaster(cfg, redis, upstreamMgr)
		if err != nil {
			util.Fatalf("Failed to initialize master: %v", err)
		}
		if err := masterCoord.Start(); err != nil {
			util.Fatalf("Failed to start master: %v", err)
		}

		// Start API server
		if cfg.API.Enabled {
			apiServer = api.NewServer(cfg, redis)

			// Wire up upstream state callback for monitoring
			apiServer.SetUpstreamStateFunc(func() []api.UpstreamStatus {
				states := upstreamMgr.GetUpstreamStates()
				result := make([]api.UpstreamStatus, len(states))
				for i, s := range states {
					result[i] = api.UpstreamStatus{
						Name:         s.Name,
						URL:          s.URL,
						Healthy:      s.Healthy,
						ResponseTime: float64(s.ResponseTime.Milliseconds()),
						Height:       s.Height,
						Weight:       s.Weight,
						FailCount:    s.FailCount,
						SuccessCount: s.SuccessCount,
					}
				}
				return result
			})

			if err := apiServer.Start(); err != nil {
				util.Fatalf("Failed to start API server: %v", err)
			}
		}
	}

	// Start slave (stratum server) if enabled
	if cfg.Slave.Enabled {
		// Share callback for all mining protocols
		shareCallback := func(share *slave.Share) {
			if masterCoord != nil {
				submission := &master.ShareSubmission{
					Address:        share.Address,
					Worker:         share.Worker,
					JobID:          share.JobID,
					Nonce:          share.Nonce,
					Solution:       share.Solution,
					Difficulty:     share.Difficulty,
					Height:         share.Height,
					TrustScore:     share.TrustScore,
					SkipValidation: share.SkipValidation,
				}
				masterCoord.SubmitShare(submission)
			}
		}

		// Start Stratum server
		stratum = slave.NewStratumServer(cfg, policyServer)
		stratum.SetShareCallback(shareCallback)
		if err := stratum.Start(); err != nil {
			util.Fatalf("Failed to start stratum server: %v", err)
		}

		// Start WebSocket job-push server if enabled
		if cfg.Slave.WebSocketEnabled {
			wsServer = slave.NewWebSocketServer(cfg, policyServer)
			wsServer.SetShareCallback(shareCallback)
			if err := wsServer.Start(); err != nil {
				util.Errorf("Failed to start WebSocket server: %v", err)
			}
		}

		// Broadcast jobs from master to all mining servers
		if masterCoord != nil {
			go func() {
				for {
					job := masterCoord.GetCurrentJob()
					if job != nil {
						stratumJob := &slave.Job{
							ID:         job.ID,
							Height:     job.Height,
							HeaderHash: util.BytesToHexNoPre(job.HeaderPrefix),
							Target:     util.BytesToHexNoPre(job.Target),
							Difficulty: job.Difficulty,
							Timestamp:  job.Timestamp,
							CleanJobs:  true,
						}
						// Broadcast to Stratum
						stratum.BroadcastJob(stratumJob)
						// Broadcast to WebSocket
						if wsServer != nil {
							wsServer.BroadcastJob(stratumJob)
						}
					}
					// Wait for next job refresh
					<-masterCoord.GetJobUpdateChan()
				}
			}()
		}
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("Pool started successfully. Press Ctrl+C to stop.")

	<-sigChan
	util.Info("Shutting down...")

	// Graceful shutdown
	if wsServer != nil {
		wsServer.Stop()
	}
	if stratum != nil {
		stratum.Stop()
	}
	if apiServer != nil {
		apiServer.Stop()
	}
	if masterCoord != nil {
		masterCoord.Stop()
	}
	if policyServer != nil {
		policyServer.Stop()
	}
	if pprofServer != nil {
		pprofServer.Stop()
	}
	upstreamMgr.Stop()

	util.Info("Pool stopped")
}
