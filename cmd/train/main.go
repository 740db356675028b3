// Command train generates the synthetic dataset, fits the anomaly forest and
// writes the C header the firmware includes as model.h.
//
// Usage:
//
//	train [--seed N] [--out model.h] [--model model.json] [--name anomaly_detector] [--jobs N] [--record]
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"iot-anomaly/internal/database"
	"iot-anomaly/internal/training"
	"iot-anomaly/pkg/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.LogLevel)

	if err := newRootCmd(cfg).Execute(); err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		seed      uint64
		headerOut string
		modelOut  string
		name      string
		jobs      int
		record    bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the audio anomaly classifier and export it as a C header",
		Long: `Generate 600 labeled feature vectors from synthetic audio, fit a
30-tree random forest (max depth 7, random_state 42) and write the
classifier as a self-contained C header.

The reported accuracy is measured on the training set.

Examples:
  train
  train --seed 7 --out firmware/model.h --model model.json
  train --record`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tc := training.DefaultConfig()
			tc.Seed = seed
			tc.HeaderPath = headerOut
			tc.ModelPath = modelOut
			tc.Export.Name = name
			tc.Forest.Jobs = jobs

			var rec training.Recorder
			if record {
				db, err := openClickHouse(ctx, cfg)
				if err != nil {
					return err
				}
				defer db.Close()
				rec = db
			}

			_, err := training.Run(ctx, tc, rec)
			return err
		},
	}

	flags := cmd.Flags()
	flags.Uint64Var(&seed, "seed", cfg.TrainSeed, "dataset generator seed")
	flags.StringVarP(&headerOut, "out", "o", cfg.ModelHeaderPath, "C header output path")
	flags.StringVar(&modelOut, "model", cfg.ModelPath, "JSON model output path, empty to skip")
	flags.StringVar(&name, "name", cfg.ModelName, "prefix of the generated C symbols")
	flags.IntVar(&jobs, "jobs", cfg.TrainJobs, "trees fitted in parallel, 0 for GOMAXPROCS")
	flags.BoolVar(&record, "record", false, "store the run and its dataset in ClickHouse")

	return cmd
}

func openClickHouse(ctx context.Context, cfg *config.Config) (*database.ClickHouseDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return database.NewClickHouseDB(ctx, database.Options{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDB,
		Username: cfg.ClickHouseUser,
		Password: cfg.ClickHousePass,
	})
}
