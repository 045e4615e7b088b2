package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/warp/family-ledger/accounts"
	"github.com/warp/family-ledger/chores"
	"github.com/warp/family-ledger/goals"
	"github.com/warp/family-ledger/ledger"
)

// The demo family goes through the services like any client would, so the
// seeded ledger is as consistent as a real one:
//
//	Ada: 20.00 opening balance, 10.00 weekly spending limit, 5.00 weekly
//	     allowance, a 25.00 bike goal with 8.00 saved, one approved chore
//	Ben: 5.00 opening balance, one pending chore

func newSeedCmd(f *flags) *cobra.Command {
	var parentID string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a demo family (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, f)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer st.Close()

			engine, err := newEngine(cfg, st)
			if err != nil {
				return err
			}
			rate, err := cfg.RewardRate()
			if err != nil {
				return err
			}
			return seed(cmd.Context(), engine, chores.RewardPolicy{Rate: rate}, parentID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "demo-parent", "parent id owning the demo family")
	return cmd
}

func seed(ctx context.Context, engine *ledger.Engine, policy chores.RewardPolicy, parentID string, out io.Writer) error {
	parent := ledger.Actor{ID: parentID, Role: ledger.RoleParent}
	accts := accounts.NewService(engine)
	goalSvc := goals.NewService(engine)
	choreSvc := chores.NewService(engine, policy)

	ada, err := accts.CreateChild(ctx, parent, accounts.NewChild{
		Name:           "Ada",
		InitialBalance: ledger.MustMoney("20.00"),
		SpendingLimit:  &ledger.SpendingLimit{Amount: ledger.MustMoney("10.00"), Frequency: ledger.Weekly},
		Allowance:      &ledger.Allowance{Amount: ledger.MustMoney("5.00"), Frequency: ledger.Weekly},
	})
	if err != nil {
		return fmt.Errorf("create Ada: %w", err)
	}
	ben, err := accts.CreateChild(ctx, parent, accounts.NewChild{
		Name:           "Ben",
		InitialBalance: ledger.MustMoney("5.00"),
	})
	if err != nil {
		return fmt.Errorf("create Ben: %w", err)
	}

	adaActor := ledger.Actor{ID: string(ada.ID), Role: ledger.RoleChild}
	bike, err := goalSvc.Create(ctx, adaActor, "Bike", ledger.MustMoney("25.00"))
	if err != nil {
		return fmt.Errorf("create goal: %w", err)
	}
	if _, err := goalSvc.Contribute(ctx, adaActor, bike.ID, goals.Contribution{Amount: ledger.MustMoney("8.00")}); err != nil {
		return fmt.Errorf("contribute: %w", err)
	}

	dishes, err := choreSvc.Create(ctx, parent, chores.NewChore{Title: "Wash the dishes", Points: 150, AssignedChildID: &ada.ID})
	if err != nil {
		return fmt.Errorf("create chore: %w", err)
	}
	if _, err := choreSvc.MarkComplete(ctx, adaActor, dishes.ID); err != nil {
		return fmt.Errorf("complete chore: %w", err)
	}
	if _, err := choreSvc.Approve(ctx, parent, dishes.ID); err != nil {
		return fmt.Errorf("approve chore: %w", err)
	}
	if _, err := choreSvc.Create(ctx, parent, chores.NewChore{Title: "Feed the cat", Points: 50, AssignedChildID: &ben.ID}); err != nil {
		return fmt.Errorf("create chore: %w", err)
	}

	fmt.Fprintf(out, "seeded parent %s: Ada=%s Ben=%s\n", parentID, ada.ID, ben.ID)
	return nil
}
