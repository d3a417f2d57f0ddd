// File: cmd/capture.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/auth"
	"github.com/krellwave/pageproof/internal/engine"
	"github.com/krellwave/pageproof/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newCaptureCmd creates and configures the `capture` command.
func newCaptureCmd() *cobra.Command {
	var (
		width            int
		height           int
		username         string
		password         string
		loginURL         string
		interactionsFile string
		noTabs           bool
		noScroll         bool
		noFullPage       bool
	)

	captureCmd := &cobra.Command{
		Use:   "capture [url]",
		Short: "Captures visual evidence for a single page",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("output.dir", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			appConfig.Output.Dir = viper.GetString("output.dir")

			req := engine.CaptureRequest{
				URL:          normalizeTarget(args[0]),
				Width:        width,
				Height:       height,
				Credentials:  buildCredentials(username, password, loginURL),
				DetectTabs:   !noTabs,
				ScrollFrames: !noScroll,
				FullPage:     !noFullPage,
			}
			if interactionsFile != "" {
				steps, err := loadInteractions(interactionsFile)
				if err != nil {
					return err
				}
				req.Interactions = steps
			}

			components, err := initializeCaptureComponents(ctx, appConfig, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize capture components: %w", err)
			}
			defer components.Shutdown(ctx)

			result, runErr := components.Orchestrator.Run(ctx, req)

			// Persist whatever was captured, including error screenshots.
			if result != nil && len(result.Artifacts) > 0 {
				if dir, err := components.Writer.WriteResult(result); err != nil {
					logger.Error("Failed to write artifacts", zap.Error(err))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Artifacts written to %s\n", dir)
				}
			}
			if result != nil {
				failed := map[string]string{}
				if runErr != nil {
					failed[req.URL] = runErr.Error()
				}
				if path, err := components.Writer.WriteReport([]*engine.Result{result}, failed); err != nil {
					logger.Error("Failed to write run report", zap.Error(err))
				} else if path != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Run report written to %s\n", path)
				}
			}

			if runErr != nil {
				return fmt.Errorf("capture failed: %w", runErr)
			}
			return nil
		},
	}

	captureCmd.Flags().IntVar(&width, "width", 0, "viewport width (0 uses the configured default)")
	captureCmd.Flags().IntVar(&height, "height", 0, "viewport height (0 uses the configured default)")
	captureCmd.Flags().StringVar(&username, "username", "", "login username")
	captureCmd.Flags().StringVar(&password, "password", "", "login password (or PAGEPROOF_PASSWORD)")
	captureCmd.Flags().StringVar(&loginURL, "login-url", "", "explicit login page URL")
	captureCmd.Flags().StringVar(&interactionsFile, "interactions", "", "JSON file of interaction steps to run before capture")
	captureCmd.Flags().BoolVar(&noTabs, "no-tabs", false, "skip tab detection and per-tab captures")
	captureCmd.Flags().BoolVar(&noScroll, "no-scroll", false, "skip scroll frame captures")
	captureCmd.Flags().BoolVar(&noFullPage, "no-full-page", false, "skip the stitched full page capture")
	captureCmd.Flags().StringP("output", "o", "./pageproof-out", "output directory for artifacts")

	return captureCmd
}

// buildCredentials assembles credentials from flags and environment.
// Returns nil when no username is available so anonymous captures stay
// anonymous.
func buildCredentials(username, password, loginURL string) *auth.Credentials {
	if password == "" {
		password = os.Getenv("PAGEPROOF_PASSWORD")
	}
	if username == "" {
		return nil
	}
	return &auth.Credentials{
		Username: username,
		Password: password,
		LoginURL: loginURL,
	}
}

func loadInteractions(path string) ([]engine.Interaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read interactions file: %w", err)
	}
	var steps []engine.Interaction
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("failed to parse interactions file: %w", err)
	}
	return steps, nil
}

func normalizeTarget(target string) string {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "https://" + target
	}
	return target
}
