package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/citytraffic/internal/control"
	"github.com/talgya/citytraffic/internal/geo"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show simulation status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		state := "stopped"
		if st.Running {
			state = "running"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  tick %s  agents %s  blockages %d\n",
			state, humanize.Comma(int64(st.Tick)), humanize.Comma(int64(st.AgentCount)), st.BlockageCount)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the simulation loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := newClient().Start(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), state)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the simulation loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := newClient().Stop(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), state)
		return nil
	},
}

var (
	spawnCount       int
	spawnBounds      string
	spawnOrigin      string
	spawnDestination string
)

var spawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Spawn agents inside a box or between two points",
	Example: `  trafficctl spawn --count 50
  trafficctl spawn --bounds 37.80,37.76,-122.40,-122.45 --count 10
  trafficctl spawn --origin 37.7749,-122.4194 --destination 37.7849,-122.4094`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildSpawnRequest(spawnCount, spawnBounds, spawnOrigin, spawnDestination)
		if err != nil {
			return err
		}
		res, err := newClient().Spawn(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var despawnCmd = &cobra.Command{
	Use:   "despawn AGENT_ID",
	Short: "Remove one agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Despawn(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "removed", args[0])
		return nil
	},
}

var blockKey string

var blockCmd = &cobra.Command{
	Use:   "block LAT,LNG",
	Short: "Block the road segment starting at a coordinate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := parseCoord(args[0])
		if err != nil {
			return err
		}
		res, err := newClient().Block(cmd.Context(), blockKey, loc)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock SEGMENT_KEY",
	Short: "Remove a road blockage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Unblock(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "unblocked", args[0])
		return nil
	},
}

var roadsCmd = &cobra.Command{
	Use:   "roads",
	Short: "List road conditions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := newClient().Roads(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, view)
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the latest published snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := newClient().Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, snap)
	},
}

var (
	conditionsBounds string
	conditionsGrid   int
)

var conditionsCmd = &cobra.Command{
	Use:   "conditions",
	Short: "Sample traffic conditions over a box",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var b *geo.Bounds
		if conditionsBounds != "" {
			parsed, err := parseBounds(conditionsBounds)
			if err != nil {
				return err
			}
			b = &parsed
		}
		res, err := newClient().Conditions(cmd.Context(), b, conditionsGrid)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var waitTimeout time.Duration

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until the API answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if waitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, waitTimeout)
			defer cancel()
		}
		if err := newClient().WaitReady(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ready")
		return nil
	},
}

func init() {
	spawnCmd.Flags().IntVar(&spawnCount, "count", 1, "number of agents")
	spawnCmd.Flags().StringVar(&spawnBounds, "bounds", "", "north,south,east,west (default: server box)")
	spawnCmd.Flags().StringVar(&spawnOrigin, "origin", "", "lat,lng of a single agent's origin")
	spawnCmd.Flags().StringVar(&spawnDestination, "destination", "", "lat,lng of a single agent's destination")
	spawnCmd.MarkFlagsRequiredTogether("origin", "destination")
	spawnCmd.MarkFlagsMutuallyExclusive("bounds", "origin")

	blockCmd.Flags().StringVar(&blockKey, "key", "", "segment key (default: derived from the coordinate)")

	conditionsCmd.Flags().StringVar(&conditionsBounds, "bounds", "", "north,south,east,west (default: server box)")
	conditionsCmd.Flags().IntVar(&conditionsGrid, "grid", 0, "grid divisions per side (default: server default)")

	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 5*time.Minute, "give up after this long (0 = never)")
}

func buildSpawnRequest(count int, bounds, origin, destination string) (control.SpawnRequest, error) {
	if origin != "" || destination != "" {
		o, err := parseCoord(origin)
		if err != nil {
			return control.SpawnRequest{}, fmt.Errorf("origin: %w", err)
		}
		d, err := parseCoord(destination)
		if err != nil {
			return control.SpawnRequest{}, fmt.Errorf("destination: %w", err)
		}
		return control.SpawnRequest{Origin: &o, Destination: &d}, nil
	}

	req := control.SpawnRequest{Count: count}
	if bounds != "" {
		b, err := parseBounds(bounds)
		if err != nil {
			return control.SpawnRequest{}, err
		}
		req.Bounds = &b
	}
	return req, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated numbers, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		out[i] = f
	}
	return out, nil
}

func parseCoord(s string) (geo.Coord, error) {
	v, err := parseFloats(s, 2)
	if err != nil {
		return geo.Coord{}, err
	}
	c := geo.Coord{Lat: v[0], Lng: v[1]}
	return c, c.Validate()
}

func parseBounds(s string) (geo.Bounds, error) {
	v, err := parseFloats(s, 4)
	if err != nil {
		return geo.Bounds{}, err
	}
	b := geo.Bounds{North: v[0], South: v[1], East: v[2], West: v[3]}
	return b, b.Validate()
}
