package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pokt-network/pocket-faucet/claim"
	"github.com/pokt-network/pocket-faucet/config"
	"github.com/pokt-network/pocket-faucet/faucet"
	"github.com/pokt-network/pocket-faucet/logging"
	transportredis "github.com/pokt-network/pocket-faucet/transport/redis"
)

// QueueCmd returns the command for inspecting the claim queue.
func QueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the claim queue",
		Long: `Inspect the claim queue stored in Redis.

Configuration:
  --config:    Use the faucet config file (inherits Redis URL and namespace)
  --redis-url: Override the Redis URL

Examples:
  pocket-faucet queue status --config faucet.yaml
  pocket-faucet queue inspect 42 --redis-url redis://localhost:6379`,
	}

	cmd.PersistentFlags().String(flagConfig, "", "Path to faucet config file")
	cmd.PersistentFlags().String(flagRedisURL, "", "Redis connection URL (overrides config)")

	cmd.AddCommand(queueStatusCmd())
	cmd.AddCommand(queueInspectCmd())

	return cmd
}

func queueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue indices, pending claims and the lane owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := queueRedisClient(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			return printQueueStatus(ctx, cmd.OutOrStdout(), client)
		},
	}
}

func queueInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <queue-idx>",
		Short: "Print one claim as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || idx <= 0 {
				return fmt.Errorf("invalid queue index: %s", args[0])
			}

			ctx := cmd.Context()
			client, err := queueRedisClient(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			return printClaim(ctx, cmd.OutOrStdout(), client, idx)
		},
	}
}

// queueRedisClient connects using the config file, the flag, or both.
func queueRedisClient(ctx context.Context, cmd *cobra.Command) (*transportredis.Client, error) {
	redisConfig := config.RedisConfig{}

	configPath, _ := cmd.Flags().GetString(flagConfig)
	if configPath != "" {
		cfg, err := faucet.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		redisConfig = cfg.Redis
	}
	if cmd.Flags().Changed(flagRedisURL) {
		redisConfig.URL, _ = cmd.Flags().GetString(flagRedisURL)
	}
	if redisConfig.URL == "" {
		return nil, fmt.Errorf("either --%s or --%s is required", flagConfig, flagRedisURL)
	}

	client, err := transportredis.NewClient(ctx, transportredis.ClientConfigFrom(redisConfig))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func printQueueStatus(ctx context.Context, out io.Writer, client *transportredis.Client) error {
	store := claim.NewStore(logging.NewLoggerFromConfig(logging.Config{Level: "error"}), client)

	lastIssued, err := store.LastIssued(ctx)
	if err != nil {
		return err
	}
	lastProcessed, err := store.LastProcessed(ctx)
	if err != nil {
		return err
	}
	pending, err := store.Pending(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Claim Queue Status\n")
	fmt.Fprintf(out, "==================\n\n")
	fmt.Fprintf(out, "Last Issued:    %d\n", lastIssued)
	fmt.Fprintf(out, "Last Processed: %d\n", lastProcessed)
	fmt.Fprintf(out, "Pending:        %d\n", len(pending))

	leaseKey := client.KB().LaneLeaderKey()
	owner, err := client.Get(ctx, leaseKey).Result()
	switch {
	case transportredis.IsNil(err):
		fmt.Fprintf(out, "Lane Owner:     none\n")
	case err != nil:
		return fmt.Errorf("failed to read lane owner: %w", err)
	default:
		ttl, err := client.TTL(ctx, leaseKey).Result()
		if err != nil {
			return fmt.Errorf("failed to read lane lease TTL: %w", err)
		}
		fmt.Fprintf(out, "Lane Owner:     %s (lease %v)\n", owner, ttl.Round(time.Second))
	}

	if len(pending) == 0 {
		return nil
	}

	fmt.Fprintf(out, "\n")
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDX\tSTATUS\tSESSION\tTARGET\tAMOUNT\tTXHASH\tATTEMPTS")
	for _, tx := range pending {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n",
			tx.QueueIdx, tx.Status, tx.SessionID, tx.Target, tx.Amount, tx.TxHash, tx.Attempts)
	}
	return tw.Flush()
}

func printClaim(ctx context.Context, out io.Writer, client *transportredis.Client, idx int64) error {
	store := claim.NewStore(logging.NewLoggerFromConfig(logging.Config{Level: "error"}), client)

	tx, err := store.Get(ctx, idx)
	if errors.Is(err, claim.ErrClaimNotFound) {
		return fmt.Errorf("no claim at queue index %d", idx)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(tx)
}
