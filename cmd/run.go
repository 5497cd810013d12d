// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/trackbot/internal/bridge"
	"github.com/Thermoquad/trackbot/internal/log"
	"github.com/Thermoquad/trackbot/internal/metrics"
	"github.com/Thermoquad/trackbot/internal/store"
	"github.com/Thermoquad/trackbot/pkg/behavior"
	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// behaviors maps run command names to behavior constructors
var behaviors = map[string]func(rng *rand.Rand) behavior.Behavior{
	"avoid":               func(rng *rand.Rand) behavior.Behavior { return behavior.NewAvoid(rng) },
	"wander":              func(rng *rand.Rand) behavior.Behavior { return behavior.NewWander(rng) },
	"wallfollow":          func(rng *rand.Rand) behavior.Behavior { return behavior.NewWallFollower(rng) },
	"follow":              func(rng *rand.Rand) behavior.Behavior { return behavior.NewFollower(rng) },
	"trackbot-follow":     func(rng *rand.Rand) behavior.Behavior { return behavior.NewTrackBotFollower(rng) },
	"two-trackbot-follow": func(rng *rand.Rand) behavior.Behavior { return behavior.NewTwoTrackBotFollower(rng) },
}

// monitorBehavior runs the sensor monitor instead of a driving behavior
const monitorBehavior = "monitor"

func behaviorNames() []string {
	names := []string{monitorBehavior}
	for name := range behaviors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var runCmd = &cobra.Command{
	Use:   "run [behavior]",
	Short: "Run a behavior on the robot",
	Long: `Run one of the behaviors until interrupted.

Behaviors:
  avoid                escape corners, sides and cliffs
  wander               roam open space, avoiding obstacles
  wallfollow           follow a wall on either side
  follow               follow a beacon
  trackbot-follow      follow another TrackBot
  two-trackbot-follow  follow as one of a pair of TrackBots
  monitor              report sensor changes without driving

The behavior may also come from the config file or TRACKBOT_BEHAVIOR.

Optional outputs:
  --metrics-addr  serve Prometheus metrics and /health
  --nats-url      publish robot and behavior events to NATS (CBOR)
  --db            record samples and transitions in SQLite

Exit codes:
  0 - Stopped by signal
  1 - Link failure or setup error`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: behaviorNames(),
	RunE:      runBehavior,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Int64("seed", 0, "Random seed for behavior choices (0 = from clock)")
	runCmd.Flags().String("metrics-addr", "", "Prometheus listen address (e.g. :9100)")
	runCmd.Flags().String("nats-url", "", "NATS server URL for the event bridge")
	runCmd.Flags().String("nats-subject", "", "NATS subject prefix for the event bridge")
	runCmd.Flags().String("db", "", "SQLite database path for recording")
}

// applyRunFlags copies explicitly set run flags over the loaded config
func applyRunFlags(cmd *cobra.Command, args []string) {
	if len(args) > 0 {
		cfg.Behavior.Name = args[0]
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Behavior.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("nats-url") {
		cfg.NATS.URL, _ = flags.GetString("nats-url")
	}
	if flags.Changed("nats-subject") {
		cfg.NATS.Subject, _ = flags.GetString("nats-subject")
	}
	if flags.Changed("db") {
		cfg.Store.Path, _ = flags.GetString("db")
	}
}

func runBehavior(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd, args)

	name := cfg.Behavior.Name
	newBehavior, ok := behaviors[name]
	if !ok && name != monitorBehavior {
		return fmt.Errorf("unknown behavior %q (choose from %s)", name, strings.Join(behaviorNames(), ", "))
	}

	if err := runWithOutputs(cmd.Context(), name, newBehavior); err != nil {
		log.Error("run stopped", "behavior", name, "error", err)
		os.Exit(1)
	}
	return nil
}

func runWithOutputs(parent context.Context, name string, newBehavior func(*rand.Rand) behavior.Behavior) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.L()

	robot, connInfo, err := ConnectRobot(0)
	if err != nil {
		return err
	}
	defer robot.Close()
	logger.Info("connected", "connection", connInfo, "behavior", name)

	g, gctx := errgroup.WithContext(ctx)

	var observers behavior.Observers
	var listeners []trackbot.EventListener

	if cfg.Metrics.Addr != "" {
		m := metrics.New()
		m.WatchLink(robot.Link())
		listeners = append(listeners, m)
		observers = append(observers, m)
		g.Go(func() error {
			return m.Serve(gctx, cfg.Metrics.Addr, logger)
		})
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	if cfg.NATS.URL != "" {
		nc, err := bridge.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		b := bridge.New(nc, cfg.NATS.Subject, logger)
		listeners = append(listeners, b)
		observers = append(observers, b)
		defer func() {
			logger.Info("bridge stopped", "published", b.Published(), "failed", b.Failed())
		}()
	}

	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		rec, err := store.NewRecorder(db, name, logger)
		if err != nil {
			return err
		}
		// Flushes before the database closes
		defer rec.Close()
		listeners = append(listeners, rec)
		observers = append(observers, rec)
		logger.Info("recording", "path", cfg.Store.Path, "session", rec.SessionID())
	}

	for _, l := range listeners {
		robot.Events().AddListener(l)
	}

	if name == monitorBehavior {
		monitor := behavior.NewMonitor(robot, logger)
		robot.Events().AddListener(monitor)
		monitor.StartStationPoller(behavior.DefaultStationPollInterval)
		defer monitor.Stop()
	} else {
		seed := cfg.Behavior.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		logger.Debug("behavior seed", "seed", seed)

		runner := behavior.NewRobotRunner(newBehavior(rand.New(rand.NewSource(seed))), robot, logger)
		if len(observers) > 0 {
			runner.SetObserver(observers)
		}
		robot.Events().AddListener(runner)
		defer func() {
			runner.Halt()
			logger.Info("behavior stopped", "ticks", runner.Ticks())
		}()
	}

	requery(robot)

	link := robot.Link()
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-link.Done():
			return fmt.Errorf("link stopped: %w", link.Err())
		}
	})

	return g.Wait()
}
