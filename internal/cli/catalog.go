package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basketproof/sentinel/internal/catalog"
)

// CatalogOptions holds flags for the catalog command.
type CatalogOptions struct {
	*RootOptions
}

// CatalogReport summarizes a loaded product catalog.
type CatalogReport struct {
	Path     string `json:"path"`
	Products int    `json:"products"`
	Skipped  int    `json:"skipped_rows"`
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatalogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "catalog <products.csv>",
		Short: "Validate and summarize a product catalog CSV",
		Long: `Validate and summarize a product catalog CSV.

Reports how many products loaded cleanly and how many rows were skipped
as malformed. A missing file is a command error here, unlike at serve
time where it degrades to an empty catalog.

Example:
  sentinel catalog ./data/products.csv --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog(opts, args[0], cmd)
		},
	}

	return cmd
}

func runCatalog(opts *CatalogOptions, path string, cmd *cobra.Command) error {
	cat, err := catalog.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	if cat.Len() == 0 && cat.Skipped() == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("catalog %s is missing or empty", path))
	}

	report := CatalogReport{Path: path, Products: cat.Len(), Skipped: cat.Skipped()}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Catalog %s: %d products, %d rows skipped\n",
		report.Path, report.Products, report.Skipped)
	return nil
}
