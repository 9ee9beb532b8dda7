package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchOpts struct {
	kind      string
	module    string
	alpha     float64
	threshold float64
	limit     int
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid search over published PRDs and test cases",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := projectPath("/search")
		if err != nil {
			return err
		}
		body := map[string]any{"query": strings.Join(args, " ")}
		if searchOpts.kind != "" {
			body["type"] = searchOpts.kind
		}
		if searchOpts.module != "" {
			body["moduleId"] = searchOpts.module
		}
		if cmd.Flags().Changed("alpha") {
			body["alpha"] = searchOpts.alpha
		}
		if cmd.Flags().Changed("threshold") {
			body["scoreThreshold"] = searchOpts.threshold
		}
		if cmd.Flags().Changed("limit") {
			body["limit"] = searchOpts.limit
		}

		var res struct {
			Hits   []map[string]any `json:"hits"`
			Total  int              `json:"total"`
			TookMs int64            `json:"tookMs"`
		}
		if err := newClient().postJSON(path, body, &res); err != nil {
			return err
		}
		if structured() {
			return printOutput(res)
		}
		rows := make([][]string, 0, len(res.Hits))
		for _, h := range res.Hits {
			rows = append(rows, []string{str(h["score"]), str(h["type"]), str(h["id"]), truncate(str(h["title"]), 50)})
		}
		printTable([]string{"Score", "Type", "ID", "Title"}, rows)
		fmt.Fprintf(stdout, "%d hits in %dms\n", res.Total, res.TookMs)
		return nil
	},
}

var analyzeOpts struct {
	base, compare, module string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the test impact between two app versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := projectPath("/impact-analysis")
		if err != nil {
			return err
		}
		body := map[string]string{
			"baseVersionId":    analyzeOpts.base,
			"compareVersionId": analyzeOpts.compare,
		}
		if analyzeOpts.module != "" {
			body["moduleId"] = analyzeOpts.module
		}
		var rep map[string]any
		if err := newClient().postJSON(path, body, &rep); err != nil {
			return err
		}
		if structured() {
			return printOutput(rep)
		}

		prd, _ := rep["prdChanges"].(map[string]any)
		acts, _ := rep["testcaseActions"].(map[string]any)
		printTable([]string{"Field", "Value"}, [][]string{
			{"Impact Level", str(rep["impactLevel"])},
			{"PRDs Added", str(prd["added"])},
			{"PRDs Modified", str(prd["modified"])},
			{"PRDs Deleted", str(prd["deleted"])},
			{"Test Cases To Update", str(acts["update"])},
			{"Test Cases To Create", str(acts["create"])},
			{"Test Cases To Deprecate", str(acts["deprecate"])},
			{"Reasoning Fallbacks", str(rep["fallbackCount"])},
		})
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Maintain the search index of a project",
}

var rebuildForce bool

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-embed and re-index every published artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := projectPath("/index:rebuild")
		if err != nil {
			return err
		}
		var res map[string]any
		if err := newClient().postJSON(path, map[string]bool{"force": rebuildForce}, &res); err != nil {
			return err
		}
		return printSummary(res)
	},
}

var jobsState string

var indexJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List deindex jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		suffix := "/index/jobs"
		if jobsState != "" {
			suffix += "?state=" + jobsState
		}
		path, err := projectPath(suffix)
		if err != nil {
			return err
		}
		var resp struct {
			Jobs      []map[string]any `json:"jobs"`
			TotalSize int              `json:"totalSize"`
		}
		if err := newClient().getJSON(path, &resp); err != nil {
			return err
		}
		if structured() {
			return printOutput(resp)
		}
		rows := make([][]string, 0, len(resp.Jobs))
		for _, j := range resp.Jobs {
			rows = append(rows, []string{str(j["id"]), str(j["artifactKind"]), str(j["artifactId"]), str(j["state"]), str(j["attemptCount"]), truncate(str(j["lastError"]), 40)})
		}
		printTable([]string{"ID", "Kind", "Artifact", "State", "Attempts", "Last Error"}, rows)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show project statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := projectPath("/statistics")
		if err != nil {
			return err
		}
		var stats map[string]any
		if err := newClient().getJSON(path, &stats); err != nil {
			return err
		}
		if structured() {
			return printOutput(stats)
		}
		rows := [][]string{}
		for _, kind := range []string{"prds", "testcases"} {
			c, _ := stats[kind].(map[string]any)
			rows = append(rows, []string{kind, str(c["total"]), str(c["draft"]), str(c["published"]), str(c["archived"])})
		}
		printTable([]string{"Kind", "Total", "Draft", "Published", "Archived"}, rows)
		fmt.Fprintf(stdout, "\nmodules=%s app_versions=%s tags=%s indexed=%s pending_deindex=%s\n",
			str(stats["modules"]), str(stats["app_versions"]), str(stats["tags"]),
			str(stats["indexed_entries"]), str(stats["pending_deindex_jobs"]))
		return nil
	},
}

// printSummary prints a flat object as a field/value table.
func printSummary(m map[string]any) error {
	if structured() {
		return printOutput(m)
	}
	rows := make([][]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		rows = append(rows, []string{k, str(m[k])})
	}
	printTable([]string{"Field", "Value"}, rows)
	return nil
}

func init() {
	searchCmd.Flags().StringVar(&searchOpts.kind, "type", "", "Restrict to prd or testcase")
	searchCmd.Flags().StringVar(&searchOpts.module, "module", "", "Restrict to a module")
	searchCmd.Flags().Float64Var(&searchOpts.alpha, "alpha", 0.7, "Vector weight in [0,1]")
	searchCmd.Flags().Float64Var(&searchOpts.threshold, "threshold", 0, "Minimum combined score")
	searchCmd.Flags().IntVar(&searchOpts.limit, "limit", 10, "Maximum hits")

	analyzeCmd.Flags().StringVar(&analyzeOpts.base, "base", "", "Base app version ID")
	analyzeCmd.Flags().StringVar(&analyzeOpts.compare, "compare", "", "Compare app version ID")
	analyzeCmd.Flags().StringVar(&analyzeOpts.module, "module", "", "Restrict to a module")
	_ = analyzeCmd.MarkFlagRequired("base")
	_ = analyzeCmd.MarkFlagRequired("compare")

	indexRebuildCmd.Flags().BoolVar(&rebuildForce, "force", false, "Re-embed even when content is unchanged")
	indexJobsCmd.Flags().StringVar(&jobsState, "state", "", "Filter by job state")
	indexCmd.AddCommand(indexRebuildCmd, indexJobsCmd)
}
