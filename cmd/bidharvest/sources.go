package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ternarybob/bidharvest/internal/storage/badger"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage acquisition sources",
}

var sourcesImportCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import source definitions from a TOML/YAML file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.Close()

		info, err := os.Stat(args[0])
		if err != nil {
			return err
		}

		var result *badger.ImportResult
		if info.IsDir() {
			result, err = application.Importer.ImportDir(cmd.Context(), args[0])
		} else {
			result, err = application.Importer.ImportFile(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d sources and %d credentials (%d files skipped)\n",
			result.Sources, result.Credentials, result.Skipped)
		return nil
	},
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.Close()

		sources, err := application.Storage.SourceStorage().ListSources(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get sources: %w", err)
		}
		if len(sources) == 0 {
			fmt.Println("No sources configured")
			return nil
		}
		sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"ID", "Name", "Active", "Auth", "Strategy", "Schedule", "Listing URL"})
		for _, source := range sources {
			strategyName := "generic"
			if application.Strategies.Has(source.ID) {
				strategyName = "custom"
			}
			t.AppendRow(table.Row{
				source.ID, source.Name, source.Active, source.AuthMode,
				strategyName, source.Schedule, source.ListingURL,
			})
		}
		t.Render()
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesImportCmd, sourcesListCmd)
}
