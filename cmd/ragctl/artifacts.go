package main

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// artifactCmd builds the command group shared by PRDs and test cases.
func artifactCmd(resource, singular, plural string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   resource,
		Short: "Manage " + plural,
	}

	var (
		status, module, keyword, filter string
		page, pageSize                  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List " + plural,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			set := func(k, v string) {
				if v != "" {
					q.Set(k, v)
				}
			}
			set("status", status)
			set("module_id", module)
			set("keyword", keyword)
			set("filterQuery", filter)
			q.Set("page", strconv.Itoa(page))
			q.Set("page_size", strconv.Itoa(pageSize))

			path, err := projectPath("/" + resource + "?" + q.Encode())
			if err != nil {
				return err
			}
			var resp struct {
				Items    []map[string]any `json:"items"`
				Total    int64            `json:"total"`
				Page     int              `json:"page"`
				PageSize int              `json:"page_size"`
			}
			if err := newClient().getJSON(path, &resp); err != nil {
				return err
			}
			if structured() {
				return printOutput(resp)
			}
			rows := make([][]string, 0, len(resp.Items))
			for _, it := range resp.Items {
				rows = append(rows, []string{str(it["id"]), str(it["code"]), truncate(str(it["title"]), 40), str(it["status"]), str(it["version"])})
			}
			printTable([]string{"ID", "Code", "Title", "Status", "Version"}, rows)
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (draft, published, archived)")
	list.Flags().StringVar(&module, "module", "", "Filter by module ID")
	list.Flags().StringVar(&keyword, "keyword", "", "Substring match on code and title")
	list.Flags().StringVar(&filter, "filter", "", `Filter expression, e.g. title LIKE "%login%"`)
	list.Flags().IntVar(&page, "page", 1, "Page number")
	list.Flags().IntVar(&pageSize, "page-size", 20, "Items per page")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one " + singular,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := projectPath("/" + resource + "/" + args[0])
			if err != nil {
				return err
			}
			var item map[string]any
			if err := newClient().getJSON(path, &item); err != nil {
				return err
			}
			if structured() {
				return printOutput(item)
			}
			printTable([]string{"Field", "Value"}, [][]string{
				{"ID", str(item["id"])},
				{"Code", str(item["code"])},
				{"Title", str(item["title"])},
				{"Status", str(item["status"])},
				{"Version", str(item["version"])},
				{"Author", str(item["author"])},
			})
			return nil
		},
	}

	versions := &cobra.Command{
		Use:   "versions <id>",
		Short: "List the versions of a " + singular,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := projectPath("/" + resource + "/" + args[0] + "/versions")
			if err != nil {
				return err
			}
			var resp struct {
				Versions []map[string]any `json:"versions"`
			}
			if err := newClient().getJSON(path, &resp); err != nil {
				return err
			}
			if structured() {
				return printOutput(resp)
			}
			rows := make([][]string, 0, len(resp.Versions))
			for _, v := range resp.Versions {
				rows = append(rows, []string{str(v["version"]), truncate(str(v["title"]), 40), str(v["change_log"]), str(v["current"])})
			}
			printTable([]string{"Version", "Title", "Change Log", "Current"}, rows)
			return nil
		},
	}

	cmd.AddCommand(list, get, versions,
		transitionCmd(resource, singular, "publish", "published"),
		transitionCmd(resource, singular, "archive", "archived"),
	)
	return cmd
}

func transitionCmd(resource, singular, action, state string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: "Move a " + singular + " to " + state,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := projectPath("/" + resource + "/" + args[0] + "/" + action)
			if err != nil {
				return err
			}
			var res map[string]any
			if err := newClient().postJSON(path, nil, &res); err != nil {
				return err
			}
			if structured() {
				return printOutput(res)
			}
			printTable([]string{"ID", "From", "To", "Changed"}, [][]string{{
				args[0], str(res["from"]), str(res["to"]), str(res["changed"]),
			}})
			return nil
		},
	}
}
