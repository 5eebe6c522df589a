package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zereker/mongrel2/control"
)

var controlAddr string

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Send commands to a running server's control port",
}

// rowsCommand returns a subcommand printing the rows call returns.
func rowsCommand(use, short string, call func(*cobra.Command, *control.Client, []string) ([]control.Row, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := control.New(cmd.Context(), controlAddr)
			if err != nil {
				return err
			}
			defer c.Close()

			rows, err := call(cmd, c, args)
			if err != nil {
				return err
			}
			printRows(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

// printRows writes each row as sorted "key: value" lines.
func printRows(w io.Writer, rows []control.Row) {
	for i, row := range rows {
		if i > 0 {
			fmt.Fprintln(w)
		}
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s: %v\n", k, row[k])
		}
	}
}

func init() {
	controlCmd.PersistentFlags().StringVar(&controlAddr, "addr", control.DefaultAddr, "control port address")

	simple := []struct {
		use, short string
		call       func(*control.Client, *cobra.Command) ([]control.Row, error)
	}{
		{"stop", "Stop the server (SIGINT)", func(c *control.Client, cmd *cobra.Command) ([]control.Row, error) { return c.Stop(cmd.Context()) }},
		{"reload", "Reload the server configuration", func(c *control.Client, cmd *cobra.Command) ([]control.Row, error) { return c.Reload(cmd.Context()) }},
		{"terminate", "Terminate the server (SIGTERM)", func(c *control.Client, cmd *cobra.Command) ([]control.Row, error) { return c.Terminate(cmd.Context()) }},
		{"help", "List the server's control commands", func(c *control.Client, cmd *cobra.Command) ([]control.Row, error) { return c.Help(cmd.Context()) }},
		{"uuid", "Show the server uuid", func(c *control.Client, cmd *cobra.Command) ([]control.Row, error) { return c.UUID(cmd.Context()) }},
		{"info", "Describe the server", func(c *control.Client, cmd *cobra.Command) ([]control.Row, error) { return c.Info(cmd.Context()) }},
		{"tasks", "List the server's tasks", func(c *control.Client, cmd *cobra.Command) ([]control.Row, error) { return c.Tasklist(cmd.Context()) }},
		{"conns", "List client connections", func(c *control.Client, cmd *cobra.Command) ([]control.Row, error) { return c.ConnStatus(cmd.Context()) }},
		{"control-stop", "Shut the control port down", func(c *control.Client, cmd *cobra.Command) ([]control.Row, error) { return c.ControlStop(cmd.Context()) }},
	}
	for _, s := range simple {
		call := s.call
		controlCmd.AddCommand(rowsCommand(s.use, s.short, func(cmd *cobra.Command, c *control.Client, _ []string) ([]control.Row, error) {
			return call(c, cmd)
		}))
	}

	kill := rowsCommand("kill ID", "Close a client connection", func(cmd *cobra.Command, c *control.Client, args []string) ([]control.Row, error) {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("bad connection id %q", args[0])
		}
		return c.Kill(cmd.Context(), id)
	})
	kill.Args = cobra.ExactArgs(1)
	controlCmd.AddCommand(kill)

	controlCmd.AddCommand(&cobra.Command{
		Use:   "time",
		Short: "Show the server's clock",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := control.New(cmd.Context(), controlAddr)
			if err != nil {
				return err
			}
			defer c.Close()

			t, err := c.Time(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC1123))
			return nil
		},
	})

	rootCmd.AddCommand(controlCmd)
}
