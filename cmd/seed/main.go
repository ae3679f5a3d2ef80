package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"studio-crm/backend/internal/config"
	"studio-crm/backend/internal/logging"
	"studio-crm/backend/internal/repository"
	"studio-crm/backend/internal/sequence"
	"studio-crm/backend/internal/services"
	"studio-crm/backend/pkg/models"
)

var demoQuotations = []struct {
	ID     string
	Number string
	Client string
	Title  string
	Amount float64
}{
	{"demo-q-1001", "Q-1001", "Asha Menon", "Engagement shoot", 45000},
	{"demo-q-1002", "Q-1002", "Ravi & Kavya", "Wedding photography, two days", 100000},
	{"demo-q-1003", "Q-1003", "Lumen Interiors", "Brand film and catalogue", 180000},
}

func main() {
	var (
		envFile string
		approve bool
	)

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Insert demo quotations",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return seed(cmd.Context(), envFile, approve)
		},
	}
	cmd.Flags().StringVar(&envFile, "env", "", "Path to .env file")
	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the demo quotations and start their sequences")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func seed(ctx context.Context, envFile string, approve bool) error {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to DB", "error", err)
		return err
	}
	defer store.Close()

	now := time.Now().UTC()
	for _, d := range demoQuotations {
		_, err := store.GetQuotation(ctx, d.ID)
		if err == nil {
			logger.Info("Skipping existing quotation", "number", d.Number)
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		q := &models.Quotation{
			ID:          d.ID,
			Number:      d.Number,
			ClientName:  d.Client,
			Title:       d.Title,
			TotalAmount: d.Amount,
			Status:      models.QuotationStatusSent,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.CreateQuotation(ctx, q); err != nil {
			logger.Error("Failed to create quotation", "number", d.Number, "error", err)
			return err
		}
		logger.Info("Created quotation", "number", d.Number, "amount", "₹"+humanize.Commaf(d.Amount))
	}

	if !approve {
		return nil
	}

	playbook, err := sequence.LoadPlaybook(cfg.Workflow.PlaybookFile)
	if err != nil {
		return err
	}
	engine := sequence.NewEngine(store, playbook,
		sequence.WithHighValueThreshold(cfg.Workflow.HighValueThreshold),
		sequence.WithLogger(logger),
	)
	followUps := services.NewFollowUpService(store, engine, services.NewStoreNotifier(store),
		services.WithServiceLogger(logger))

	owner := "seed"
	for _, d := range demoQuotations {
		res, err := followUps.ApproveQuotation(ctx, d.ID, &owner)
		if err != nil {
			logger.Error("Failed to approve quotation", "number", d.Number, "error", err)
			return err
		}
		logger.Info("Sequence ready",
			"number", d.Number,
			"existing", res.Existing,
			"total_steps", res.Sequence.TotalSteps,
		)
	}
	return nil
}
