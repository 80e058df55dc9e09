package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/lwarden/fixcal/internal/logger"
)

var (
	modelPath   string
	weightsPath string
	device      string
	logLevel    string
	logFormat   string
	debug       bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to network description (.json)",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "weights",
			Aliases:     []string{"w"},
			Usage:       "path to weights container (.fxw)",
			Destination: &weightsPath,
		},
		&cli.StringFlag{
			Name:        "device",
			Usage:       "compute device (auto, cpu, all, or a GPU id list like 0,1)",
			Value:       "auto",
			Destination: &device,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func newLog() logger.Logger {
	level := logLevel
	if debug {
		level = "debug"
	}
	return logger.ForFormat(logFormat, level, os.Stderr)
}

// parseBits parses a comma-separated bit-width list like "8,4,2".
func parseBits(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid bit-width %q", p)
		}
		if n <= 0 || n > 32 {
			return nil, fmt.Errorf("bit-width %d out of range (1-32)", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty bit-width list %q", s)
	}
	return out, nil
}
