package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/lwarden/fixcal/internal/backend"
	"github.com/lwarden/fixcal/internal/calib"
	"github.com/lwarden/fixcal/internal/engine"
	"github.com/lwarden/fixcal/internal/logger"
	"github.com/lwarden/fixcal/pkg/netdesc"
	"github.com/lwarden/fixcal/pkg/wfile"
)

func calibrateCmd() *cli.Command {
	var (
		dataPath       string
		outputPath     string
		trimmingMode   string
		iterations     int64
		weightBits     string
		activationBits string
		scoreIndex     int64
		accuracyMargin float64
	)

	return &cli.Command{
		Name:  "calibrate",
		Usage: "Find per-layer fixed point formats and score the quantized network",
		Flags: append(append(commonModelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "data",
				Aliases:     []string{"d"},
				Usage:       "path to calibration dataset (.fxw)",
				Destination: &dataPath,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "path for the quantized network description",
				Destination: &outputPath,
			},
			&cli.StringFlag{
				Name:        "trimming-mode",
				Usage:       "quantization scheme",
				Value:       calib.TrimmingDynamicFixedPoint,
				Destination: &trimmingMode,
			},
			&cli.Int64Flag{
				Name:        "iterations",
				Aliases:     []string{"n"},
				Usage:       "calibration batches per scoring pass",
				Value:       32,
				Destination: &iterations,
			},
			&cli.StringFlag{
				Name:        "weight-bits",
				Usage:       "candidate weight bit-widths (comma separated)",
				Value:       "8",
				Destination: &weightBits,
			},
			&cli.StringFlag{
				Name:        "activation-bits",
				Usage:       "candidate activation bit-widths (comma separated)",
				Value:       "8",
				Destination: &activationBits,
			},
			&cli.Int64Flag{
				Name:        "score-index",
				Usage:       "output position whose mean is the accuracy",
				Destination: &scoreIndex,
			},
			&cli.Float64Flag{
				Name:        "accuracy-margin",
				Usage:       "accuracy loss tolerated when preferring narrower widths",
				Destination: &accuracyMargin,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyCalibrateConfig(c, LoadConfig(), &iterations, &weightBits, &activationBits, &scoreIndex, &accuracyMargin)
			log := newLog()
			ctx = logger.WithContext(ctx, log)

			if modelPath == "" || weightsPath == "" || dataPath == "" {
				return cli.Exit("error: --model, --weights and --data are required", 1)
			}
			wBits, err := parseBits(weightBits)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: weight-bits: %v", err), 1)
			}
			aBits, err := parseBits(activationBits)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: activation-bits: %v", err), 1)
			}
			dev, err := backend.Select(device)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: device: %v", err), 1)
			}

			desc, err := netdesc.Load(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			weights, err := wfile.Open(weightsPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open weights: %v", err), 1)
			}
			defer func() { _ = weights.Close() }()

			data, err := wfile.Open(dataPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open dataset: %v", err), 1)
			}
			defer func() { _ = data.Close() }()
			batches, err := engine.NewFileSource(data)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read dataset: %v", err), 1)
			}
			log.Info("calibration dataset loaded", "batches", batches.Len())

			runner := engine.New(engine.Options{Device: dev, Batches: batches, Log: log})
			cal := calib.New(runner, desc, weights, calib.Options{
				TrimmingMode:   trimmingMode,
				Iterations:     int(iterations),
				WeightBits:     wBits,
				ActivationBits: aBits,
				ScoreIndex:     int(scoreIndex),
				AccuracyMargin: accuracyMargin,
				OutputPath:     outputPath,
			}, log)

			res, err := cal.Run(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: calibrate: %v", err), 1)
			}
			fmt.Print(res.Summary())
			return nil
		},
	}
}
