package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/canvas"
)

func canvasCommandConfig() canvas.CommandConfig {
	cfg, err := loadConfig()
	principal := "cli"
	if err != nil {
		return canvas.CommandConfig{Principal: principal}
	}
	paths := cfg.NewPaths()
	return canvas.CommandConfig{
		CanvasRoot:       paths.CanvasRoot(),
		ChannelStoreRoot: paths.ChannelStoreRoot(),
		Principal:        principal,
	}
}

func parseShowFormat(raw string) (canvas.ShowFormat, error) {
	switch raw {
	case "", "markdown", "md":
		return canvas.ShowMarkdown, nil
	case "json":
		return canvas.ShowJSON, nil
	default:
		return 0, fmt.Errorf("unknown show format %q (want markdown|json)", raw)
	}
}

func parseExportFormat(raw string) (canvas.ExportFormat, error) {
	switch raw {
	case "", "markdown", "md":
		return canvas.ExportMarkdown, nil
	case "json":
		return canvas.ExportJSON, nil
	default:
		return 0, fmt.Errorf("unknown export format %q (want markdown|json)", raw)
	}
}

func canvasCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "canvas",
		Short: "Inspect and mutate the shared canvas",
	}
	root.AddCommand(canvasCreateCmd())
	root.AddCommand(canvasShowCmd())
	root.AddCommand(canvasExportCmd())
	root.AddCommand(canvasImportCmd())
	root.AddCommand(canvasNodeUpsertCmd())
	root.AddCommand(canvasNodeRemoveCmd())
	root.AddCommand(canvasEdgeUpsertCmd())
	root.AddCommand(canvasEdgeRemoveCmd())
	return root
}

func canvasCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <canvas-id>",
		Short: "Create a new empty canvas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := canvas.Create(canvasCommandConfig(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func canvasShowCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <canvas-id>",
		Short: "Render a canvas to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseShowFormat(format)
			if err != nil {
				return err
			}
			out, err := canvas.Show(canvasCommandConfig(), args[0], f)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "markdown|json")
	return cmd
}

func canvasExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <canvas-id> <destination>",
		Short: "Export a canvas snapshot to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseExportFormat(format)
			if err != nil {
				return err
			}
			out, err := canvas.Export(canvasCommandConfig(), args[0], f, args[1])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "markdown|json")
	return cmd
}

func canvasImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <canvas-id> <source>",
		Short: "Replace a canvas' state from an exported JSON snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := canvas.Import(canvasCommandConfig(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func canvasNodeUpsertCmd() *cobra.Command {
	var label string
	var x, y float64
	cmd := &cobra.Command{
		Use:   "node-upsert <canvas-id> <node-id>",
		Short: "Create or move a canvas node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := canvas.Update(canvasCommandConfig(), args[0], canvas.UpdateOp{
				Kind: canvas.OpNodeUpsert, NodeID: args[1], Label: label, X: x, Y: y,
			})
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "node label")
	cmd.Flags().Float64Var(&x, "x", 0, "node x coordinate")
	cmd.Flags().Float64Var(&y, "y", 0, "node y coordinate")
	return cmd
}

func canvasNodeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "node-remove <canvas-id> <node-id>",
		Short: "Remove a canvas node and its incident edges",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := canvas.Update(canvasCommandConfig(), args[0], canvas.UpdateOp{
				Kind: canvas.OpNodeRemove, NodeID: args[1],
			})
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func canvasEdgeUpsertCmd() *cobra.Command {
	var from, to, label string
	cmd := &cobra.Command{
		Use:   "edge-upsert <canvas-id> <edge-id>",
		Short: "Create or relabel a canvas edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := canvas.Update(canvasCommandConfig(), args[0], canvas.UpdateOp{
				Kind: canvas.OpEdgeUpsert, EdgeID: args[1], From: from, To: to, Label: label,
			})
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source node id")
	cmd.Flags().StringVar(&to, "to", "", "target node id")
	cmd.Flags().StringVar(&label, "label", "", "edge label")
	return cmd
}

func canvasEdgeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edge-remove <canvas-id> <edge-id>",
		Short: "Remove a canvas edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := canvas.Update(canvasCommandConfig(), args[0], canvas.UpdateOp{
				Kind: canvas.OpEdgeRemove, EdgeID: args[1],
			})
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}
