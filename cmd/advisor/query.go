package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/selivandex/lp-advisor/internal/adapters/clickhouse"
	"github.com/selivandex/lp-advisor/internal/adapters/config"
	redisAdapter "github.com/selivandex/lp-advisor/internal/adapters/redis"
	"github.com/selivandex/lp-advisor/internal/analytics"
	"github.com/selivandex/lp-advisor/internal/recommendations"
	"github.com/selivandex/lp-advisor/pkg/models"
)

func newFrameCmd() *cobra.Command {
	var (
		chainID  int64
		pools    string
		take     int
		interval string
		lookback time.Duration
		withCorr bool
	)

	cmd := &cobra.Command{
		Use:   "frame",
		Short: "Build an aligned returns frame across pools and print it as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Engine.Store == config.StoreMemory {
				return fmt.Errorf("frame queries need a persistent store, ENGINE_STORE is %q", cfg.Engine.Store)
			}

			if !cmd.Flags().Changed("take") {
				take = cfg.Frame.TakePools
			}
			if !cmd.Flags().Changed("lookback") {
				lookback = cfg.Frame.Lookback
			}
			if !cmd.Flags().Changed("interval") {
				interval = cfg.Frame.Interval
			}
			iv, err := models.ParseInterval(interval)
			if err != nil {
				return err
			}

			in, err := openInfra(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer in.Close()

			var poolList []string
			if pools != "" {
				poolList = strings.Split(pools, ",")
			}

			frame, err := analytics.NewFrameBuilder(in.store, cfg.Frame.Concurrency).Query(cmd.Context(), analytics.FrameQuery{
				ChainID:   chainID,
				Pools:     poolList,
				TakePools: take,
				Interval:  iv,
				Lookback:  lookback,
			}, time.Now())
			if err != nil {
				return err
			}
			if !withCorr {
				return printJSON(cmd.OutOrStdout(), frame)
			}

			out := frameOutput{ReturnsFrame: frame}
			if frame.OK {
				if out.Correlation, err = analytics.CorrelationMatrix(frame); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().Int64Var(&chainID, "chain", 1, "Chain id")
	cmd.Flags().StringVar(&pools, "pools", "", "Comma-separated pool ids (default: top known pools)")
	cmd.Flags().IntVar(&take, "take", 6, "How many known pools to use when --pools is empty")
	cmd.Flags().StringVar(&interval, "interval", "m5", "Bar interval (m1|m5)")
	cmd.Flags().DurationVar(&lookback, "lookback", 24*time.Hour, "Window ending now")
	cmd.Flags().BoolVar(&withCorr, "correlation", false, "Include the pool-by-pool correlation matrix")
	return cmd
}

type frameOutput struct {
	*models.ReturnsFrame
	Correlation [][]float64 `json:"correlation,omitempty"`
}

func newRecsCmd() *cobra.Command {
	var (
		n       int
		chainID int64
		pool    string
		since   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "recs",
		Short: "Print the latest recommendations as JSON",
		Long: `Reads the shared recommendation queue from Redis. With --pool the
ClickHouse history of one pool is read instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := openInfra(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer in.Close()

			var recs []models.Recommendation
			switch {
			case pool != "":
				if in.ch == nil {
					return fmt.Errorf("pool history requires CLICKHOUSE_ENABLED=true")
				}
				recs, err = clickhouse.NewRepository(in.ch.DB()).
					GetRecommendations(cmd.Context(), chainID, pool, time.Now().Add(-since), n)
			case in.redis != nil:
				var reader recommendations.Reader = redisAdapter.NewRecommendationStore(in.redis.Redis(), cfg.Redis.RecsKey, cfg.Engine.QueueCapacity)
				recs, err = reader.Latest(cmd.Context(), n)
			default:
				return fmt.Errorf("the recommendation queue is only shared through Redis, set REDIS_ENABLED=true")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), recs)
		},
	}

	cmd.Flags().IntVarP(&n, "n", "n", recommendations.DefaultTake, "How many recommendations to return")
	cmd.Flags().Int64Var(&chainID, "chain", 1, "Chain id for --pool")
	cmd.Flags().StringVar(&pool, "pool", "", "Read one pool's history from ClickHouse")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "History window for --pool")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
