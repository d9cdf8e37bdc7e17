package streamcli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oremus-labs/lookout-stream/config"
	"github.com/oremus-labs/lookout-stream/internal/store"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var (
	eventsLimit int
	eventsType  string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the local event archive",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived events, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		st, err := store.Open(cfg.DataStoreDSN, cfg.DataStoreDriver)
		if err != nil {
			exitWithError(cmd, fmt.Errorf("open event archive: %w", err))
			return
		}
		defer st.Close()

		list, err := st.ListEvents(eventsLimit, eventsType)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		total, err := st.CountEvents()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := renderEvents(cmd.OutOrStdout(), list, total, outputFormat, time.Now().UTC()); err != nil {
			exitWithError(cmd, err)
		}
	},
}

func renderEvents(w io.Writer, list []store.Event, total int, format string, now time.Time) error {
	switch strings.ToLower(format) {
	case "json":
		return printJSON(w, list)
	case "yaml":
		data, err := yaml.Marshal(list)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "table", "":
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No archived events.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "RECEIVED\tEVENT ID\tTYPE\tPAYLOAD\n")
	for _, evt := range list {
		payload, _ := json.Marshal(evt.Payload)
		eventID := evt.EventID
		if eventID == "" {
			eventID = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", relativeTime(evt.ReceivedAt, now), eventID, evt.Type, truncate(string(payload), 60))
	}
	flushTable(tw)
	fmt.Fprintf(w, "Showing %d of %d archived events.\n", len(list), total)
	return nil
}

func init() {
	eventsListCmd.Flags().IntVar(&eventsLimit, "limit", 20, "Maximum number of events to show (0 = all)")
	eventsListCmd.Flags().StringVar(&eventsType, "type", "", "Only show events of this type")
	eventsCmd.AddCommand(eventsListCmd)
}
