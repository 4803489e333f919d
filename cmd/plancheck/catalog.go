package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/metalagman/plancheck/internal/catalog"
	"github.com/spf13/cobra"
)

func catalogCmd() *cobra.Command {
	var (
		validate string
		raw      bool
	)
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show the compliance checklist and sub-agent routing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if validate != "" {
				data, err := os.ReadFile(validate)
				if err != nil {
					return fmt.Errorf("read catalog: %w", err)
				}
				c, err := catalog.Parse(data)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(w, "%s: version %s, %d checks, %d agents\n", validate, c.Version(), c.Len(), len(c.Agents()))
				return err
			}
			if raw {
				_, err := w.Write(catalog.Raw())
				return err
			}
			c, err := catalog.Load()
			if err != nil {
				return err
			}
			return printCatalog(w, c)
		},
	}
	cmd.Flags().StringVar(&validate, "validate", "", "validate a catalog YAML file instead of showing the built-in one")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the built-in catalog YAML")
	return cmd
}

func printCatalog(w io.Writer, c *catalog.Catalog) error {
	owner := map[string]string{}
	for _, a := range c.Agents() {
		ids := a.CheckIDs
		if len(ids) == 0 {
			for _, key := range a.Categories {
				cat, _ := c.Category(key)
				for _, chk := range cat.Checks {
					ids = append(ids, chk.ID)
				}
			}
		}
		for _, id := range ids {
			owner[id] = string(a.ID)
		}
	}

	var rows [][]string
	for _, cat := range c.Categories() {
		for _, chk := range cat.Checks {
			rows = append(rows, []string{chk.ID, string(cat.Key), owner[chk.ID], chk.CodeReference, chk.Description})
		}
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "CATEGORY", "AGENT", "CODE", "REQUIREMENT").
		Rows(rows...)
	if _, err := fmt.Fprintf(w, "catalog version %s, %d checks\n", c.Version(), c.Len()); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}
	for _, a := range c.Agents() {
		types := make([]string, 0, len(a.PageTypes))
		for _, pt := range a.PageTypes {
			types = append(types, string(pt))
		}
		if _, err := fmt.Fprintf(w, "%-16s pages: %s\n", a.ID, strings.Join(types, ", ")); err != nil {
			return err
		}
	}
	return nil
}
