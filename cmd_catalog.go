package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sealor/storyteller/pkg/catalog"
	"github.com/sealor/storyteller/pkg/config"
	"github.com/sealor/storyteller/pkg/story"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the system prompts and their linked story archetypes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		defer cat.Close()
		return printCatalog(cmd.OutOrStdout(), cat)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the API endpoint, default prompt and models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		printInfo(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func printCatalog(w io.Writer, cat *catalog.Catalog) error {
	prompts, err := cat.AllPrompts()
	if err != nil {
		return err
	}
	for _, p := range prompts {
		heading.Fprintf(w, "[%d] %s\n", p.ID, p.Label)
		fmt.Fprintf(w, "    best for: %s\n", p.BestFor)

		stories, err := cat.StoriesByID(p.StoryIDs)
		if err != nil {
			return err
		}
		found := make(map[int]bool, len(stories))
		for _, s := range stories {
			found[s.ID] = true
			fmt.Fprintf(w, "    %2d %s: %s\n", s.ID, s.Protagonist, s.Description)
		}
		for _, id := range p.StoryIDs {
			if !found[id] {
				warning.Fprintf(w, "    %2d not found\n", id)
			}
		}
	}
	return nil
}

func printInfo(w io.Writer, cfg config.Config) {
	heading.Fprintln(w, "API URL")
	fmt.Fprintln(w, cfg.APIURL)
	heading.Fprintln(w, "Default prompt")
	fmt.Fprintln(w, story.DefaultUserPrompt)
	heading.Fprintln(w, "Model")
	fmt.Fprintln(w, cfg.Model)
	heading.Fprintln(w, "Fallback models")
	fmt.Fprintln(w, strings.Join(cfg.FallbackModels, ", "))
	heading.Fprintln(w, "Posters")
	fmt.Fprintln(w, cfg.PosterDir())
}
