package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/lwarden/fixcal/internal/api"
	"github.com/lwarden/fixcal/internal/backend"
	"github.com/lwarden/fixcal/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the calibration REST API",
		Flags: append(append(commonModelFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyServeConfig(c, LoadConfig(), &addr)
			log := newLog()
			ctx = logger.WithContext(ctx, log)

			dev, err := backend.Select(device)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: device: %v", err), 1)
			}

			service := &api.FileService{Device: dev, Log: log}
			server := api.NewServer(api.NewRunStore(), service, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "device", dev.String())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
