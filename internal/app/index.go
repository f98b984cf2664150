package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sha1n/mcp-handbook-server/internal/config"
	"github.com/sha1n/mcp-handbook-server/internal/handbook"
	"github.com/spf13/pflag"
)

// IndexParams contains dependencies for the index command
type IndexParams struct {
	LoadSettings  func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings func(*config.Settings) error
	OpenService   func(context.Context, *config.HandbookSettings) (*handbook.Service, func(), error)
}

// DefaultIndexParams returns production dependencies for the index command
func DefaultIndexParams() IndexParams {
	return IndexParams{
		LoadSettings:  config.LoadSettingsWithFlags,
		ValidSettings: config.ValidateSettings,
		OpenService: func(ctx context.Context, settings *config.HandbookSettings) (*handbook.Service, func(), error) {
			return openHandbookService(ctx, settings, nil)
		},
	}
}

// RunIndex indexes a single handbook PDF and writes a summary to out.
// The handbook is enabled implicitly; an empty source uses the configured tag.
func RunIndex(ctx context.Context, params IndexParams, flags *pflag.FlagSet, path, source string, out io.Writer) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("document path cannot be empty")
	}

	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	settings.Handbook.Enabled = true

	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	configureLogging()
	config.Log(settings)

	svc, cleanup, err := params.OpenService(ctx, &settings.Handbook)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	result, err := svc.IndexFile(ctx, path, source)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, handbook.FormatIndexResult(result))
	return err
}
