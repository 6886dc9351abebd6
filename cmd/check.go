package cmd

import (
	"context"
	"fmt"
	"time"

	"LnSPoll/db"
	"LnSPoll/storage"

	"github.com/spf13/cobra"
)

var (
	checkRedis bool
	checkMinio bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "检查配置的后端是否可用",
	Long: `Validates the configuration, then connects to the response store and, when
they are configured or requested, Redis and MinIO.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		fmt.Fprintln(out, "配置校验通过")

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		store, err := storage.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("response store: %w", err)
		}
		defer store.Close()
		n, err := store.Count(ctx)
		if err != nil {
			return fmt.Errorf("response store %s: %w", store.Name(), err)
		}
		fmt.Fprintf(out, "结果存储 %s 可用，已有 %d 条问卷\n", store.Name(), n)

		if checkRedis || cfg.SessionBackend == "redis" {
			client, err := db.NewRedisClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := db.CheckRedis(ctx, client); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			fmt.Fprintf(out, "Redis %s 读写正常\n", cfg.RedisAddr())
		}

		if checkMinio || cfg.AudioSource == "minio" || cfg.StoreBackend == "minio" {
			if _, err := storage.NewMinioClient(ctx, cfg); err != nil {
				return fmt.Errorf("minio: %w", err)
			}
			fmt.Fprintf(out, "MinIO %s 存储桶 %s 可用\n", cfg.MinioEndpoint, cfg.MinioBucket)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkRedis, "redis", false, "即使未启用 Redis 会话也进行检查")
	checkCmd.Flags().BoolVar(&checkMinio, "minio", false, "即使未启用 MinIO 也进行检查")
}
