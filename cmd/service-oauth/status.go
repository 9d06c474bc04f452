package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/service-oauth/server"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the token state of every configured service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := root.openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			statuses, err := svc.Server.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}
			renderStatusTable(cmd, statuses, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func renderStatusTable(cmd *cobra.Command, statuses []server.ServiceStatus, now time.Time) {
	if len(statuses) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), text.FgYellow.Sprint("No services configured"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"SERVICE", "STATE", "EXPIRES", "REFRESH", "SCOPES"})

	authenticated := 0
	for _, st := range statuses {
		if st.Authenticated {
			authenticated++
		}
		refresh := "-"
		if st.HasRefreshToken {
			refresh = "yes"
		}
		t.AppendRow(table.Row{
			st.Service,
			colorState(st.State),
			formatExpiry(st.ExpiresAt, st.Authenticated, now),
			refresh,
			strings.Join(st.Scopes, " "),
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d authenticated", authenticated, len(statuses))})
	t.Render()
}

func colorState(s server.State) string {
	switch s {
	case server.StateAuthenticated:
		return text.FgGreen.Sprint(s)
	case server.StateExpiring:
		return text.FgYellow.Sprint(s)
	case server.StateRevoked:
		return text.FgRed.Sprint(s)
	default:
		return text.FgHiBlack.Sprint(s)
	}
}

// formatExpiry renders an expiry relative to now
func formatExpiry(expiresAt time.Time, authenticated bool, now time.Time) string {
	switch {
	case !authenticated:
		return "-"
	case expiresAt.IsZero():
		return "never"
	case expiresAt.Before(now):
		return "expired " + now.Sub(expiresAt).Round(time.Second).String() + " ago"
	default:
		return "in " + expiresAt.Sub(now).Round(time.Second).String()
	}
}
