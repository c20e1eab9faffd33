package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/LinkFox/internal/pkg/billing"
)

type serviceFactory func(ctx context.Context) (*billing.Service, error)

func newRootCmd(out io.Writer, factory serviceFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operator tooling for LinkFox billing state",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(
		dedupeCmd(factory),
		dedupeAllCmd(factory),
		replayCmd(factory),
		reconcileCmd(factory),
		verifyCmd(factory),
		statusCmd(factory),
	)
	return root
}

func dedupeCmd(factory serviceFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe [email]",
		Short: "Remove duplicate ledger entries of one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			n, err := svc.Reconciler.Dedupe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("removed %d duplicate ledger entries\n", n)
			return nil
		},
	}
}

func dedupeAllCmd(factory serviceFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe-all",
		Short: "Remove duplicate ledger entries of every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			n, err := svc.Reconciler.DedupeAll(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("removed %d duplicate ledger entries\n", n)
			return nil
		},
	}
}

func replayCmd(factory serviceFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [event-id]",
		Short: "Process a stored webhook event again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			ack, err := svc.Ingestor.Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch {
			case ack.Ignored:
				cmd.Printf("event %s (%s) ignored\n", ack.EventID, ack.EventType)
			case ack.Applied:
				cmd.Printf("event %s (%s) applied\n", ack.EventID, ack.EventType)
			default:
				cmd.Printf("event %s (%s) already reflected in the ledger\n", ack.EventID, ack.EventType)
			}
			return nil
		},
	}
}

func reconcileCmd(factory serviceFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [user-id]",
		Short: "Apply the latest paid checkout session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			svc, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.Verifier.Reconcile(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func verifyCmd(factory serviceFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [user-id] [session-id]",
		Short: "Apply one checkout session to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			svc, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.Verifier.VerifySession(cmd.Context(), userID, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func statusCmd(factory serviceFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status [user-id]",
		Short: "Print the entitlement and ledger of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			svc, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			st, err := svc.Status(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func parseUserID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return uint(id), nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
