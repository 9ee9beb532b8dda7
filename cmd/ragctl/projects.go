package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Projects []map[string]any `json:"projects"`
		}
		if err := newClient().getJSON("/api/v1/projects?pageSize=100", &resp); err != nil {
			return err
		}
		if structured() {
			return printOutput(resp)
		}
		rows := make([][]string, 0, len(resp.Projects))
		for _, p := range resp.Projects {
			rows = append(rows, []string{str(p["id"]), str(p["name"]), truncate(str(p["description"]), 50)})
		}
		printTable([]string{"ID", "Name", "Description"}, rows)
		return nil
	},
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Inspect the module tree of a project",
}

var modulesTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the module tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := projectPath("/modules/tree")
		if err != nil {
			return err
		}
		var resp struct {
			Modules []map[string]any `json:"modules"`
		}
		if err := newClient().getJSON(path, &resp); err != nil {
			return err
		}
		if structured() {
			return printOutput(resp)
		}
		for _, m := range resp.Modules {
			printNode(m, 0)
		}
		return nil
	},
}

func printNode(node map[string]any, depth int) {
	fmt.Fprintf(stdout, "%s%s (%s)\n", strings.Repeat("  ", depth), str(node["name"]), str(node["id"]))
	children, _ := node["children"].([]any)
	for _, c := range children {
		if child, ok := c.(map[string]any); ok {
			printNode(child, depth+1)
		}
	}
}

func init() {
	projectsCmd.AddCommand(projectsListCmd)
	modulesCmd.AddCommand(modulesTreeCmd)
}
