// Command cyhy-orchestrator runs the Cyber Hygiene scan orchestrator: the
// fleet balancer, rescan sweep, and metrics collector as a long-running
// service, plus one-shot operator commands for snapshots and the control
// channel.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/config"
	"github.com/cisagov/cyhy-orchestrator/pkg/control"
	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/events"
	"github.com/cisagov/cyhy-orchestrator/pkg/fleet"
	"github.com/cisagov/cyhy-orchestrator/pkg/log"
	"github.com/cisagov/cyhy-orchestrator/pkg/manager"
	"github.com/cisagov/cyhy-orchestrator/pkg/metrics"
	"github.com/cisagov/cyhy-orchestrator/pkg/reconciler"
	"github.com/cisagov/cyhy-orchestrator/pkg/snapshot"
	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
	"github.com/cisagov/cyhy-orchestrator/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information, set via ldflags at build time.
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cyhy-orchestrator",
	Short:   "Cyber Hygiene continuous scan orchestrator",
	Long:    `cyhy-orchestrator tracks host scan state, balances the scan fleet, schedules rescans, manages ticket lifecycle, and builds point-in-time snapshots for the Cyber Hygiene program.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("cyhy-orchestrator version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("data-dir", "./data", "Directory for the local BoltDB store and Raft state")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(idUpdateCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func openStore(cmd *cobra.Command) (storage.Store, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return storage.NewBoltStore(dataDir + "/cyhy.db")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the balancer, rescan sweep, and metrics collector",
	Long: `serve starts the orchestrator as a long-running service. If a
bind-addr is given, this instance takes part in Raft leader election and
only runs the balancer and rescan sweep while it holds leadership; with no
peers it bootstraps a single-node cluster and is always leader.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		configPath, _ := cmd.Flags().GetString("config")
		if configPath != "" {
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			log.Info(fmt.Sprintf("loaded configuration from %s", configPath))
		}

		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		nodeID, _ := cmd.Flags().GetString("node-id")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		var leader metrics.LeaderChecker = alwaysLeader{}
		if bindAddr != "" {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			// The manager opens its own handle on dataDir/cyhy.db; BoltDB
			// locks the file, so release ours first and use the manager's.
			store.Close()
			mgr, err := manager.NewManager(&manager.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir})
			if err != nil {
				return fmt.Errorf("creating manager: %w", err)
			}
			if err := mgr.Bootstrap(); err != nil {
				return fmt.Errorf("bootstrapping raft: %w", err)
			}
			defer mgr.Shutdown()
			store = mgr.Store()
			leader = mgr
			log.Info(fmt.Sprintf("raft node %s listening on %s", nodeID, bindAddr))
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()
		control.SetBroker(broker)

		balancer := fleet.NewBalancer(store, 60*time.Second)
		sweep := reconciler.NewReconciler(store)
		collector := metrics.NewCollector(store, leader)
		collector.Start()
		defer collector.Stop()

		go runWhileLeader(leader, balancer, sweep)

		go func() {
			http.Handle("/metrics", metrics.Handler())
			log.Info(fmt.Sprintf("metrics endpoint: http://%s/metrics", metricsAddr))
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				log.Error(fmt.Sprintf("metrics server stopped: %v", err))
			}
		}()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		for {
			stop, err := control.ShouldStop(store)
			if err != nil {
				log.Error(fmt.Sprintf("checking control channel: %v", err))
			}
			if stop {
				log.Info("stop request observed on control channel, shutting down")
				break
			}
			select {
			case <-ctx.Done():
				log.Info("shutdown signal received")
				balancer.Stop()
				sweep.Stop()
				return nil
			case <-time.After(control.PollInterval):
			}
		}
		balancer.Stop()
		sweep.Stop()
		return nil
	},
}

// alwaysLeader is used when serve runs with no Raft peers: a single
// instance with nothing to contend leadership against.
type alwaysLeader struct{}

func (alwaysLeader) IsLeader() bool { return true }

// runWhileLeader starts or stops the balancer and rescan sweep as
// leadership changes hands, polling every 5 seconds. Only the elected
// leader should run either loop; see pkg/manager.
func runWhileLeader(leader metrics.LeaderChecker, balancer *fleet.Balancer, sweep *reconciler.Reconciler) {
	running := false
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		switch {
		case leader.IsLeader() && !running:
			balancer.Start()
			sweep.Start()
			running = true
			log.Info("acquired leadership, starting balancer and rescan sweep")
		case !leader.IsLeader() && running:
			balancer.Stop()
			sweep.Stop()
			running = false
			log.Info("lost leadership, stopping balancer and rescan sweep")
		}
	}
}

func init() {
	serveCmd.Flags().String("node-id", "node-1", "Raft node ID")
	serveCmd.Flags().String("bind-addr", "", "Raft bind address; omit to run single-instance with no leader election")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve Prometheus metrics on")
	serveCmd.Flags().String("config", "", "Path to a YAML configuration file")
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [owner]",
	Short: "Build a point-in-time snapshot for an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		owner := args[0]
		req, err := store.GetRequest(owner)
		if err != nil {
			return err
		}
		if req == nil {
			return fmt.Errorf("no request document for owner %q", owner)
		}

		all, err := store.ListRequests()
		if err != nil {
			return err
		}
		byOwner := make(map[string]*types.Request, len(all))
		for _, r := range all {
			byOwner[r.Owner] = r
		}
		descendants := types.Descendants(byOwner, owner)

		excludeFromWorld, _ := cmd.Flags().GetBool("exclude-from-world")
		builder := snapshot.NewBuilder(store)
		snap, err := builder.Build(owner, descendants, excludeFromWorld)
		if err != nil {
			return err
		}
		fmt.Printf("built snapshot %s for %s: %d hosts, %d vulnerable\n", snap.ID, snap.Owner, snap.Stats.HostCount, snap.Stats.VulnerableHostCount)
		return nil
	},
}

func init() {
	snapshotCmd.Flags().Bool("exclude-from-world", false, "Exclude this snapshot from world (aggregate) statistics")
}

func controlCommand(use, short string, action enums.ControlAction) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			sender, _ := cmd.Flags().GetString("sender")
			reason, _ := cmd.Flags().GetString("reason")
			doc, err := control.Request(store, action, sender, reason)
			if err != nil {
				return err
			}

			wait, _ := cmd.Flags().GetBool("wait")
			if !wait {
				fmt.Printf("filed %s request %s\n", action, doc.ID)
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			completed, err := control.Wait(ctx, store, doc)
			if err != nil {
				return err
			}
			if !completed {
				return fmt.Errorf("timed out waiting for %s request %s to be serviced", action, doc.ID)
			}
			fmt.Printf("%s request %s serviced\n", action, doc.ID)
			return nil
		},
	}
	cmd.Flags().String("sender", "operator", "Identity recorded as the request's sender")
	cmd.Flags().String("reason", "", "Human-readable reason recorded on the request")
	cmd.Flags().Bool("wait", false, "Block until a running orchestrator instance services the request")
	return cmd
}

// pause files an enums.ControlActionPause request. serve acts only on STOP
// (through control.ShouldStop) and never calls control.ShouldPause, so a
// PAUSE request stays open until something else marks it completed.
// resumeCmd files no request, since the control channel defines no RESUME
// action; it only reports whether an open PAUSE request exists.
var pauseCmd = controlCommand("pause", "Request the orchestrator pause scanning", enums.ControlActionPause)
var stopCmd = controlCommand("stop", "Request the orchestrator stop", enums.ControlActionStop)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Report whether a pause request is currently in effect",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		paused, err := control.ShouldPause(store, false)
		if err != nil {
			return err
		}
		if paused {
			fmt.Println("an open PAUSE request is in effect")
		} else {
			fmt.Println("no PAUSE request is in effect")
		}
		return nil
	},
}

// idUpdateCmd renames an owner across every collection. It exits 0 on
// success, 1 on error, and 2 if the operator declines the confirmation
// prompt.
var idUpdateCmd = &cobra.Command{
	Use:   "id-update OLD NEW",
	Short: "Rename an owner across every collection",
	Long: `id-update moves the request and tally documents for OLD to NEW,
rewrites the owner field on every host, scan, snapshot, and ticket document,
records a CHANGED event on every affected ticket, and rewrites parent
requests' children lists. It refuses if NEW already has a request document.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		oldOwner, newOwner := args[0], args[1]

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			fmt.Printf("rename owner %q to %q across all collections? [y/N] ", oldOwner, newOwner)
			var reply string
			fmt.Scanln(&reply)
			if reply != "y" && reply != "Y" {
				fmt.Println("aborted")
				os.Exit(2)
			}
		}

		store, err := openStore(cmd)
		if err != nil {
			os.Exit(1)
		}
		defer store.Close()

		if err := store.RenameOwner(oldOwner, newOwner); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("renamed owner %q to %q\n", oldOwner, newOwner)
		return nil
	},
}

func init() {
	idUpdateCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
}
