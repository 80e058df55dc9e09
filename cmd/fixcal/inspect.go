package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/lwarden/fixcal/pkg/netdesc"
	"github.com/lwarden/fixcal/pkg/wfile"
)

func inspectCmd() *cli.Command {
	var (
		tensorLimit  int64
		tensorFilter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a network description and its weights container",
		Flags: append(commonModelFlags(),
			&cli.Int64Flag{
				Name:        "tensors-limit",
				Usage:       "limit tensor listing (0 = no limit)",
				Value:       50,
				Destination: &tensorLimit,
			},
			&cli.StringFlag{
				Name:        "tensor-filter",
				Usage:       "substring filter for tensor listing",
				Destination: &tensorFilter,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			if modelPath == "" {
				return cli.Exit("error: --model is required", 1)
			}
			desc, err := netdesc.Load(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}

			printDescription(desc)

			if weightsPath != "" {
				weights, err := wfile.Open(weightsPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: open weights: %v", err), 1)
				}
				defer func() { _ = weights.Close() }()
				printTensors(weights, tensorFilter, int(tensorLimit))
			}
			return nil
		},
	}
}

func printDescription(desc *netdesc.Description) {
	name := desc.Name
	if name == "" {
		name = "(unnamed)"
	}
	section(fmt.Sprintf("Network %s", name))
	for i := range desc.Layers {
		l := &desc.Layers[i]
		line := fmt.Sprintf("%-20s %-22s %s", l.Name, l.Type, formatGeometry(l))
		if q := l.Quantization; q != nil {
			line += fmt.Sprintf("  q[params=%s in=%s out=%s]",
				formatQ(q.BWParams, q.FLParams),
				formatQ(q.BWIn, q.FLIn),
				formatQ(q.BWOut, q.FLOut))
		}
		fmt.Println(strings.TrimRight(line, " "))
	}
}

func formatGeometry(l *netdesc.Layer) string {
	switch {
	case l.Type == netdesc.TypeInput:
		return formatShape(l.Shape)
	case netdesc.IsConvolution(l.Type):
		return fmt.Sprintf("filters=%d kernel=%d stride=%d pad=%d", l.Filters, l.Kernel, l.Stride, l.Pad)
	case netdesc.IsInnerProduct(l.Type):
		return fmt.Sprintf("outputs=%d", l.Outputs)
	case l.Type == netdesc.TypeMaxPool:
		return fmt.Sprintf("kernel=%d stride=%d", l.Kernel, l.Stride)
	default:
		return ""
	}
}

func formatQ(bw, fl int) string {
	if bw <= 0 {
		return "fp32"
	}
	return fmt.Sprintf("%d.%d", bw, fl)
}

func printTensors(weights *wfile.File, filter string, limit int) {
	section("Tensors")
	entries := weights.Tensors
	printed := 0
	var total uint64
	for _, e := range entries {
		total += e.Size
		if filter != "" && !strings.Contains(e.Name, filter) {
			continue
		}
		if limit <= 0 || printed < limit {
			fmt.Printf("%-32s shape=%s size=%s\n", e.Name, formatShape(e.Dims), formatBytes(e.Size))
		}
		printed++
	}
	if limit > 0 && printed > limit {
		fmt.Printf("... (%d shown of %d)\n", limit, printed)
	}
	fmt.Printf("%d tensors, %s\n", len(entries), formatBytes(total))
}

func section(title string) {
	line := strings.Repeat("-", len(title)+8)
	fmt.Printf("\n%s\n--- %s ---\n%s\n", line, title, line)
}

func formatShape(dims []int) string {
	if len(dims) == 0 {
		return "[]"
	}
	parts := make([]string, len(dims))
	for i, v := range dims {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
