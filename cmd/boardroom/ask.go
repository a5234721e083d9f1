package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/boardroom/config"
	"github.com/mohammad-safakhou/boardroom/internal/agent/core"
	"github.com/mohammad-safakhou/boardroom/internal/agent/telemetry"
	srv "github.com/mohammad-safakhou/boardroom/internal/server"
)

func askCMD(cfgPath *string) *cobra.Command {
	var userID string
	var asJSON bool
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one question through the boardroom and print the event stream",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			tel := telemetry.NewTelemetry(cfg.Telemetry)
			defer tel.Shutdown()

			mem, err := srv.OpenMemory(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer mem.Close()

			pipeline, err := srv.BuildPipeline(cfg, mem.Service, tel, log.New(cmd.ErrOrStderr(), "[PIPELINE] ", log.LstdFlags))
			if err != nil {
				return err
			}
			req := core.Request{
				Message: strings.Join(args, " "),
				User:    &core.UserContext{UserID: userID},
			}
			out := cmd.OutOrStdout()
			for ev := range pipeline.Stream(ctx, req) {
				if err := printEvent(out, ev, asJSON); err != nil {
					return err
				}
			}
			return pipeline.Wait(ctx)
		},
	}
	ask.Flags().StringVar(&userID, "user", "cli", "user id memories are stored under")
	ask.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	return ask
}

func printEvent(w io.Writer, ev core.Event, asJSON bool) error {
	if asJSON {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	switch ev.Type {
	case core.EventResponderOutput:
		_, err := fmt.Fprintf(w, "\n%s %s\n%s\n", ev.ResponderEmoji, ev.ResponderName, ev.Content)
		return err
	case core.EventSynthesis:
		_, err := fmt.Fprintf(w, "\n== Boardroom ==\n%s\n", ev.Content)
		return err
	case core.EventDone:
		n := 0
		if ev.MemoryCount != nil {
			n = *ev.MemoryCount
		}
		_, err := fmt.Fprintf(w, "\n(done, %d memories used)\n", n)
		return err
	default:
		_, err := fmt.Fprintf(w, "[%s] %s\n", ev.Type, ev.Content)
		return err
	}
}
