package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the jobs recorded in the database",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	config, _, cleanup, err := setup("history")
	if err != nil {
		return err
	}
	defer cleanup()

	if config.DatabasePath == "" {
		return errors.New("missing database path in config")
	}

	store, err := NewSqlite(config.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RunMigrations(); err != nil {
		return err
	}

	jobs, err := store.GetJobs()
	if err != nil {
		return err
	}

	return printJobs(os.Stdout, jobs)
}

var (
	historyHeaders = []string{"ID", "STATUS", "EXP", "FRAMES", "SUBSTITUTED", "STATIC", "RETRIES", "UPDATED", "PATH", "OUTPUT"}
	headerStyle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle      = lipgloss.NewStyle().Padding(0, 1)
)

func printJobs(out io.Writer, jobs []Job) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(historyHeaders...)

	for _, j := range jobs {
		t.Row(
			strconv.FormatInt(j.ID, 10),
			j.Status,
			strconv.Itoa(j.Exp),
			strconv.FormatInt(j.FramesWritten, 10),
			strconv.FormatInt(j.Substituted, 10),
			strconv.FormatInt(j.StaticSkipped, 10),
			strconv.Itoa(j.Retries),
			j.UpdatedAt.Local().Format(time.DateTime),
			j.Path,
			j.OutputPath,
		)
	}

	_, err := fmt.Fprintln(out, t.Render())
	return err
}
