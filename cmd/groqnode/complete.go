package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mnemic/groqnode/internal/node"
	"go.uber.org/zap"
)

// runComplete runs one completion turn and prints the node outputs as JSON
// on stdout. It returns the process exit code: 0 on success, 1 when the
// completion failed, 2 on usage or configuration errors.
func runComplete(args []string) int {
	defaults := node.DefaultInputs()

	fs := flag.NewFlagSet("complete", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	model := fs.String("model", defaults.Model, "model name")
	presetName := fs.String("preset", defaults.Preset, "prompt preset name")
	system := fs.String("system", "", "system message (used with the default preset)")
	input := fs.String("input", "", `user input; "-" reads standard input`)
	temperature := fs.Float64("temperature", defaults.Temperature, "sampling temperature")
	maxTokens := fs.Int("max-tokens", defaults.MaxTokens, "maximum tokens to generate")
	topP := fs.Float64("top-p", defaults.TopP, "nucleus sampling probability")
	seed := fs.Int64("seed", defaults.Seed, "sampling seed")
	maxRetries := fs.Int("max-retries", defaults.MaxRetries, "total attempts")
	stop := fs.String("stop", "", "stop sequence")
	jsonMode := fs.Bool("json-mode", false, "request a JSON object response")
	conversationID := fs.String("conversation-id", "", "continue an existing conversation (needs persistence)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	userInput := *input
	if userInput == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
			return 2
		}
		userInput = strings.TrimRight(string(data), "\n")
	}

	viperCfg, logger := mustLoad(*configPath)
	defer func() { _ = logger.Sync() }()

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	groq := node.New()
	if err := groq.Init(ctx, nodeDeps(viperCfg, logger.Named("groq"), nil)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	defer func() {
		if err := groq.Stop(context.Background()); err != nil {
			logger.Warn("node shutdown error", zap.Error(err))
		}
	}()

	out, err := groq.Process(ctx, node.Inputs{
		Model:          *model,
		Preset:         *presetName,
		SystemMessage:  *system,
		UserInput:      userInput,
		Temperature:    *temperature,
		MaxTokens:      *maxTokens,
		TopP:           *topP,
		Seed:           *seed,
		MaxRetries:     *maxRetries,
		Stop:           *stop,
		JSONMode:       *jsonMode,
		ConversationID: *conversationID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	if !out.Success {
		return 1
	}
	return 0
}
