package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/mohammad-safakhou/boardroom/internal/agent/core"
)

func respondersCMD(cfgPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "responders",
		Short: "List the responder table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && *cfgPath != "" {
				cfg, err := config.LoadConfig(*cfgPath)
				if err != nil {
					return err
				}
				file = cfg.Pipeline.RespondersFile
			}
			reg, err := core.LoadRegistry(file)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tRESPONDER\tROLE\tKEYWORDS")
			for _, r := range reg.All() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Label(), r.Role, strings.Join(r.TriggerKeywords, ", "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "responders YAML (default pipeline.responders_file or built-in)")
	return cmd
}
