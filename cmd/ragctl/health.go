package main

import (
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server liveness and readiness",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := newClient()
		probes := []struct{ name, path string }{
			{"liveness", "/healthz"},
			{"readiness", "/readyz"},
		}

		// A server that is up but not ready answers /readyz with 503, which
		// is reported rather than treated as a command failure.
		results := make(map[string]map[string]any, len(probes))
		rows := make([][]string, 0, len(probes))
		for i, p := range probes {
			var body map[string]any
			if err := c.getJSON(p.path, &body); err != nil {
				if i == 0 {
					return err
				}
				body = map[string]any{"status": "unavailable", "error": err.Error()}
			}
			results[p.name] = body
			rows = append(rows, []string{p.name, str(body["status"]), truncate(str(body["error"]), 60)})
		}

		if structured() {
			return printOutput(results)
		}
		printTable([]string{"Check", "Status", "Detail"}, rows)
		return nil
	},
}
