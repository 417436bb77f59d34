package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"

	"github.com/Gmelendi/listeando-app/pkg/clients"
	"github.com/Gmelendi/listeando-app/pkg/config"
	"github.com/Gmelendi/listeando-app/pkg/dedupe"
	"github.com/Gmelendi/listeando-app/pkg/embeddings"
	"github.com/Gmelendi/listeando-app/pkg/llm"
	"github.com/Gmelendi/listeando-app/pkg/research"
	"github.com/Gmelendi/listeando-app/pkg/search"
)

var prompt string

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist, as long as env vars are set
	}

	rootCmd := &cobra.Command{
		Use:   "listeando",
		Short: "Turn a list request into structured, deduplicated data",
		Long:  `Listeando researches a free-text list request on the web and prints the resulting records as JSON.`,
		Run: func(cmd *cobra.Command, args []string) {
			if !cmd.Flags().Changed("prompt") {
				reader := bufio.NewReader(os.Stdin)
				fmt.Fprint(os.Stderr, "What list do you want to build? ")
				input, _ := reader.ReadString('\n')
				prompt = strings.TrimSpace(input)
			}
			if prompt == "" {
				slog.Error("Prompt cannot be empty")
				os.Exit(1)
			}

			if err := run(prompt); err != nil {
				slog.Error("Research failed", "error", err)
				os.Exit(1)
			}
		},
	}

	rootCmd.Flags().StringVarP(&prompt, "prompt", "p", "", "What the list should contain")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func run(prompt string) error {
	ctx := context.Background()
	cfg := config.Load()

	model, err := buildModel(ctx)
	if err != nil {
		return err
	}

	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		return err
	}

	tavily := search.NewClient(cfg.TavilyApiKey)

	p := research.NewPipeline(llm.New(model), tavily, tavily, dedupe.New(embedder))
	p.BatchSize = cfg.ExtractBatch
	p.DedupeThreshold = cfg.DedupeThreshold

	result, err := p.Run(ctx, uuid.New().String(), prompt)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func buildModel(ctx context.Context) (llms.Model, error) {
	if os.Getenv("OPENAI_API_KEY") != "" {
		return clients.OpenAI(clients.AgentModel)
	}
	return clients.GoogleAI(ctx, clients.GeminiFlash)
}
