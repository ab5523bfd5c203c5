package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/borsabridge/control-plane/internal/events"
)

func newWatchCmd(c *cli) *cobra.Command {
	var (
		types []string
		after int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the control plane event stream",
		Long: `Streams events as they are published. --types takes event type prefixes
(for example "analysis." or "flow.changed"); --after replays history newer
than the given sequence number first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if len(types) > 0 {
				query.Set("types", strings.Join(types, ","))
			}
			lastID := ""
			if after > 0 {
				lastID = strconv.FormatInt(after, 10)
			}
			resp, err := c.client.stream(cmd.Context(), "/events", query, lastID)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			seen := 0
			err = readEvents(cmd.Context(), resp.Body, func(event events.Event) bool {
				if c.jsonOutput() {
					_ = json.NewEncoder(cmd.OutOrStdout()).Encode(event)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), formatEvent(event))
				}
				seen++
				return limit <= 0 || seen < limit
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&types, "types", nil, "Event type prefixes to keep")
	cmd.Flags().Int64Var(&after, "after", 0, "Replay events with a sequence number above this")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many events (0 = follow forever)")
	return cmd
}

// readEvents parses a text/event-stream body and hands each event to handle
// until handle returns false or the stream ends.
func readEvents(ctx context.Context, body io.Reader, handle func(events.Event) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var event events.Event
			if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if !handle(event) {
				return nil
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

func formatEvent(event events.Event) string {
	keys := make([]string, 0, len(event.Payload))
	for key := range event.Payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		raw, _ := json.Marshal(event.Payload[key])
		parts = append(parts, key+"="+string(raw))
	}
	return strings.TrimSpace(fmt.Sprintf("%5d %s %s", event.Seq, event.Type, strings.Join(parts, " ")))
}
