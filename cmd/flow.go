// File: cmd/flow.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/krellwave/pageproof/internal/engine"
	"github.com/krellwave/pageproof/internal/observability"
)

// newFlowCmd creates and configures the `flow` command.
func newFlowCmd() *cobra.Command {
	var (
		depth       int
		maxPages    int
		concurrency int
		excludes    []string
		username    string
		password    string
		loginURL    string
		noTabs      bool
		noScroll    bool
		noFullPage  bool
	)

	flowCmd := &cobra.Command{
		Use:   "flow [start-url]",
		Short: "Captures a navigation flow: the start page and the pages it links to",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("output.dir", cmd.Flags().Lookup("output"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			appConfig.Output.Dir = viper.GetString("output.dir")

			components, err := initializeCaptureComponents(ctx, appConfig, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize capture components: %w", err)
			}
			defer components.Shutdown(ctx)

			flowReq := engine.FlowRequest{
				Start: engine.CaptureRequest{
					URL:          normalizeTarget(args[0]),
					Credentials:  buildCredentials(username, password, loginURL),
					DetectTabs:   !noTabs,
					ScrollFrames: !noScroll,
					FullPage:     !noFullPage,
				},
				MaxDepth:        depth,
				MaxPages:        maxPages,
				Concurrency:     concurrency,
				ExcludePatterns: excludes,
			}

			logger.Info("Starting flow capture",
				zap.String("start", flowReq.Start.URL),
				zap.Int("depth", depth),
				zap.Int("concurrency", concurrency))

			flowResult, err := components.Orchestrator.Crawl(ctx, flowReq)
			if err != nil {
				return fmt.Errorf("flow capture failed: %w", err)
			}

			for _, result := range flowResult.Pages {
				if _, err := components.Writer.WriteResult(result); err != nil {
					logger.Error("Failed to write artifacts",
						zap.String("url", result.RequestedURL), zap.Error(err))
				}
			}
			if path, err := components.Writer.WriteReport(flowResult.Pages, flowResult.Failed); err != nil {
				logger.Error("Failed to write run report", zap.Error(err))
			} else if path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Run report written to %s\n", path)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Captured %d pages (%d failed)\n",
				len(flowResult.Pages), len(flowResult.Failed))
			return nil
		},
	}

	flowCmd.Flags().IntVar(&depth, "depth", 1, "link-following depth from the start page")
	flowCmd.Flags().IntVar(&maxPages, "max-pages", 25, "maximum number of pages to capture")
	flowCmd.Flags().IntVar(&concurrency, "concurrency", 2, "pages captured in parallel within a depth level")
	flowCmd.Flags().StringSliceVar(&excludes, "exclude", nil, "regexp patterns for URLs to skip")
	flowCmd.Flags().StringVar(&username, "username", "", "login username")
	flowCmd.Flags().StringVar(&password, "password", "", "login password (or PAGEPROOF_PASSWORD)")
	flowCmd.Flags().StringVar(&loginURL, "login-url", "", "explicit login page URL")
	flowCmd.Flags().BoolVar(&noTabs, "no-tabs", false, "skip tab detection and per-tab captures")
	flowCmd.Flags().BoolVar(&noScroll, "no-scroll", false, "skip scroll frame captures")
	flowCmd.Flags().BoolVar(&noFullPage, "no-full-page", false, "skip the stitched full page capture")
	flowCmd.Flags().StringP("output", "o", "./pageproof-out", "output directory for artifacts")

	return flowCmd
}
