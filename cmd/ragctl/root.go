package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
	projectID string
	principal string
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "CLI for the test knowledge base server",
	Long: `ragctl talks to a rag-server over its REST API.

Most commands act on one project, selected with --project or the
RAG_PROJECT environment variable.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("RAG_SERVER", "http://localhost:8080"), "Server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVarP(&projectID, "project", "p", "", "Project ID (default: from RAG_PROJECT env)")
	rootCmd.PersistentFlags().StringVar(&principal, "as", os.Getenv("RAG_PRINCIPAL"), "Principal recorded as the actor of changes")

	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(artifactCmd("prds", "prd", "PRDs"))
	rootCmd.AddCommand(artifactCmd("testcases", "testcase", "test cases"))
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
}

// resolvedProject returns the effective project.
// Priority: --project flag > RAG_PROJECT env var.
func resolvedProject() (string, error) {
	if projectID != "" {
		return projectID, nil
	}
	if p := os.Getenv("RAG_PROJECT"); p != "" {
		return p, nil
	}
	return "", errors.New("no project selected (use --project or RAG_PROJECT)")
}

// projectPath prefixes path with the API path of the selected project.
func projectPath(path string) (string, error) {
	p, err := resolvedProject()
	if err != nil {
		return "", err
	}
	return "/api/v1/projects/" + p + path, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
