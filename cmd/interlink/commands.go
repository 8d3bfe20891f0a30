package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/interlink/internal/service"
	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/schema"
	"github.com/ajitpratap0/interlink/pkg/store"
)

func connectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List available connector types",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tREAD\tWRITE\tDESCRIPTION")
			for _, info := range registry.List() {
				fmt.Fprintf(w, "%s\t%t\t%t\t%s\n", info.Type, info.SupportsRead, info.SupportsWrite, info.Description)
			}
			_ = w.Flush()
		},
	}
}

func parseID(arg, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", what, arg, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func pollCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "poll <source-id>",
		Short: "Poll one source instance now, ignoring its interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "source id")
			if err != nil {
				return err
			}
			return withService(cmd, flags, func(ctx context.Context, svc *service.Service) error {
				n, err := svc.Scheduler.PollOnce(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("staged %d message(s)\n", n)
				return nil
			})
		},
	}
}

func deliverCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver <destination-id>",
		Short: "Run one delivery pass for a destination instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "destination id")
			if err != nil {
				return err
			}
			return withService(cmd, flags, func(ctx context.Context, svc *service.Service) error {
				out, err := svc.Deliverer.DeliverOnce(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, out)
			})
		},
	}
}

func routesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the effective subscription graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, flags, func(ctx context.Context, svc *service.Service) error {
				routes, err := svc.Routes(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "INTERFACE\tSOURCE\tDESTINATION")
				for _, r := range routes {
					fmt.Fprintf(w, "%s\t%s (%s)\t%s (%s)\n", r.InterfaceName, r.SourceName, r.SourceID, r.DestinationName, r.DestinationID)
				}
				return w.Flush()
			})
		},
	}
}

func deadLettersCmd(flags *globalFlags) *cobra.Command {
	var (
		source        string
		interfaceName string
		limit         int
		summary       bool
	)
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List dead-lettered messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.DeadLetterFilter{InterfaceName: interfaceName, Limit: limit}
			if source != "" {
				id, err := parseID(source, "source id")
				if err != nil {
					return err
				}
				filter.SourceID = &id
			}
			return withService(cmd, flags, func(ctx context.Context, svc *service.Service) error {
				if summary {
					stats, err := svc.Store.Stats(ctx)
					if err != nil {
						return err
					}
					return printJSON(os.Stdout, stats.DeadLetterSources)
				}
				msgs, err := svc.Store.DeadLetters(ctx, filter)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "MESSAGE\tINTERFACE\tSOURCE\tRETRIES\tLAST ERROR")
				for _, m := range msgs {
					lastErr := ""
					if m.LastError != nil {
						lastErr = strings.ReplaceAll(*m.LastError, "\n", " ")
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n", m.ID, m.InterfaceName, m.SourceInstanceID, m.RetryCount, m.MaxRetries, lastErr)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Only show messages from this source instance")
	cmd.Flags().StringVar(&interfaceName, "interface", "", "Only show messages of this interface")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of messages to list (0 for all)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Show per-source counts and the most recent error instead")
	return cmd
}

func requeueCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <message-id>",
		Short: "Return a dead-lettered message to delivery with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message id")
			if err != nil {
				return err
			}
			return withService(cmd, flags, func(ctx context.Context, svc *service.Service) error {
				ok, err := svc.Store.Requeue(ctx, id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("message %s is not dead-lettered", id)
				}
				fmt.Printf("message %s requeued\n", id)
				return nil
			})
		},
	}
}

// compareOutput is the JSON printed by schema compare
type compareOutput struct {
	Compatible bool `json:"compatible"`
	schema.Result
}

func schemaCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Schema tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "compare <source-id> <destination-id>",
		Short: "Compare a source's schema with a destination's",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := parseID(args[0], "source id")
			if err != nil {
				return err
			}
			dst, err := parseID(args[1], "destination id")
			if err != nil {
				return err
			}
			return withService(cmd, flags, func(ctx context.Context, svc *service.Service) error {
				res, err := svc.CompareSchemas(ctx, src, dst)
				if err != nil {
					return err
				}
				if err := printJSON(os.Stdout, compareOutput{Compatible: res.IsCompatible(), Result: res}); err != nil {
					return err
				}
				if !res.IsCompatible() {
					return fmt.Errorf("schemas are not compatible")
				}
				return nil
			})
		},
	})
	return cmd
}
