package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/engibot/engi/internal/app"
	"github.com/engibot/engi/internal/config"
	"github.com/engibot/engi/internal/knowledge"
)

// consoleOwnerID marks knowledge bases created from the terminal
// rather than through a Discord command.
const consoleOwnerID = "console"

var ingestCmd = &cobra.Command{
	Use:   "ingest <url> <name>",
	Short: "Crawl a documentation site into a knowledge base",
	Long: `Crawls the given documentation URL (root page plus same-host links)
and stores the embedded passages under a new knowledge base. The
knowledge base is owned by the console and usable as the bot's default.`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	rawURL, name := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := cmd.Context()
	a, err := app.SetupHeadless(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.Warn("shutdown cleanup", "error", err)
		}
	}()

	source, err := a.Ingestor.ValidateSource(rawURL)
	if err != nil {
		return err
	}

	if _, err := a.Knowledge.GetByName(ctx, consoleOwnerID, name); err == nil {
		return fmt.Errorf("%w: %s", knowledge.ErrExists, name)
	} else if !errors.Is(err, knowledge.ErrNotFound) {
		return err
	}

	ownerName := consoleOwnerID
	if u, err := user.Current(); err == nil && u.Username != "" {
		ownerName = u.Username
	}

	namespace := uuid.New()
	count, err := a.Ingestor.Ingest(ctx, rawURL, namespace)
	if err != nil {
		return err
	}

	// Register the knowledge base only once its vectors are in place.
	record := knowledge.Record{
		ID:         namespace,
		OwnerID:    consoleOwnerID,
		OwnerName:  ownerName,
		Name:       name,
		SourceURL:  source.String(),
		IngestedAt: time.Now(),
	}
	if err := a.Knowledge.Create(ctx, record); err != nil {
		if _, delErr := a.Index.DeleteNamespace(context.WithoutCancel(ctx), namespace); delErr != nil {
			a.Logger.Warn("removing namespace after failed registration", "error", delErr)
		}
		return err
	}

	fmt.Printf("Ingested %s into %q (%d passages)\n", source, name, count)
	fmt.Printf("Knowledge base id: %s\n", record.ID)
	fmt.Println("Set default_knowledge_base to that id to make it the /ask default.")
	return nil
}
