package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/critcss/internal/browser"
	"github.com/xkilldash9x/critcss/internal/config"
	"github.com/xkilldash9x/critcss/internal/criticalcss"
	"github.com/xkilldash9x/critcss/internal/observability"
)

const shutdownTimeout = 15 * time.Second

// browserSession is a browser the generate command owns for the length of one run.
type browserSession interface {
	browser.Interface
	Shutdown(ctx context.Context) error
}

// newBrowserSession is swapped out in tests.
var newBrowserSession = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) browserSession {
	return browser.NewManager(ctx, cfg, logger)
}

// newGenerateCmd creates the `generate` command. Its flags are bound to v so they take
// precedence over the config file and the environment.
func newGenerateCmd(v *viper.Viper) *cobra.Command {
	var strict bool

	generateCmd := &cobra.Command{
		Use:   "generate [urls...]",
		Short: "Generates the critical CSS shared by the given pages",
		Example: `  critcss generate https://example.com/ https://example.com/about -v 414x896 -v 1920x1080
  critcss generate https://example.com/ -o ~/site/critical.css`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			genCfg := cfg.Generate()

			viewports, err := criticalcss.ParseViewports(genCfg.Viewports)
			if err != nil {
				return fmt.Errorf("invalid viewport: %w", err)
			}

			session := newBrowserSession(ctx, cfg.Browser(), logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := session.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Error during browser shutdown", zap.Error(err))
				}
			}()

			req := criticalcss.Request{
				URLs:      args,
				Viewports: viewports,
				Browser:   session,
			}
			css, warnings, err := criticalcss.GenerateCriticalCSS(ctx, req,
				criticalcss.WithLogger(logger),
				criticalcss.WithConcurrency(genCfg.Concurrency),
				criticalcss.WithProgress(func(done, total int) {
					logger.Debug("Progress", zap.Int("done", done), zap.Int("total", total))
				}),
			)
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			for _, w := range warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}

			if err := writeOutput(cmd.OutOrStdout(), genCfg.Output, css); err != nil {
				return err
			}
			if strict && len(warnings) > 0 {
				return fmt.Errorf("%d warning(s) reported in strict mode", len(warnings))
			}
			return nil
		},
	}

	flags := generateCmd.Flags()
	flags.StringSliceP("viewport", "v", nil, "Viewport as WIDTHxHEIGHT; repeatable. (Overrides config/env)")
	flags.StringP("output", "o", "", "File to write the stylesheet to. Defaults to stdout.")
	flags.IntP("concurrency", "j", 0, "Number of pages processed in parallel. (Overrides config/env)")
	flags.String("exec-path", "", "Path to the Chrome binary. (Overrides config/env)")
	flags.Duration("navigation-timeout", 0, "Maximum time to load each page. (Overrides config/env)")
	flags.BoolVar(&strict, "strict", false, "Exit with an error when any warning is reported.")

	for key, name := range map[string]string{
		"generate.viewports":         "viewport",
		"generate.output":            "output",
		"generate.concurrency":       "concurrency",
		"browser.exec_path":          "exec-path",
		"browser.navigation_timeout": "navigation-timeout",
	} {
		// Lookup cannot fail for flags registered above.
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	return generateCmd
}

// writeOutput writes css to path, or to stdout when path is empty. A leading ~ in path
// is expanded to the user's home directory.
func writeOutput(stdout io.Writer, path, css string) error {
	if path == "" {
		_, err := io.WriteString(stdout, css)
		return err
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("failed to resolve output path %q: %w", path, err)
	}
	if dir := filepath.Dir(expanded); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(expanded, []byte(css), 0o644); err != nil {
		return fmt.Errorf("failed to write critical CSS to %s: %w", expanded, err)
	}
	return nil
}
