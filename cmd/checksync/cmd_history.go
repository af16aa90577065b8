package main

import (
	"errors"
	"fmt"
	"time"

	"checksync/internal/journal"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs from the journal",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
}

const (
	colWhen = iota
	colStatus
	colSource
	colSelector
	colMaster
	colResult
)

func runHistory(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	if j == nil {
		return errors.New("journal is disabled")
	}
	defer j.Close()

	entries, err := j.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no runs recorded"))
		return nil
	}
	fmt.Fprintln(out, historyTable(entries))
	return nil
}

// historyTable lays entries out one per row. Cells stay plain text; colour
// comes from the style func so widths are measured without escape codes.
func historyTable(entries []journal.Entry) *table.Table {
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("WHEN", "STATUS", "SOURCE", "SELECTOR", "MASTER", "RESULT").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cell.Bold(true)
			}
			switch col {
			case colStatus:
				if entries[row].Error != "" {
					return cell.Inherit(failStyle)
				}
				return cell.Inherit(okStyle)
			case colResult:
				return cell.Inherit(dimStyle)
			}
			return cell
		})

	for _, e := range entries {
		result := fmt.Sprintf("%d → %s", e.Targets, checkedWord(e.Checked))
		switch {
		case e.Error != "":
			result = e.Error
		case !e.Changed:
			result += " (unchanged)"
		}
		t.Row(e.At.Local().Format(time.DateTime), e.Status, e.Source, e.Selector, e.MasterID, result)
	}
	return t
}
