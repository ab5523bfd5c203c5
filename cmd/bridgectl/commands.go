package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/borsabridge/control-plane/internal/analysis"
	"github.com/borsabridge/control-plane/internal/bridge"
	"github.com/borsabridge/control-plane/internal/catalog"
	"github.com/borsabridge/control-plane/internal/session"
)

func (c *cli) jsonOutput() bool {
	return strings.EqualFold(c.output, "json")
}

func writeIndented(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// emit prints value as JSON in json mode, otherwise via text.
func (c *cli) emit(cmd *cobra.Command, value any, text func(io.Writer)) error {
	if c.jsonOutput() {
		return writeIndented(cmd.OutOrStdout(), value)
	}
	text(cmd.OutOrStdout())
	return nil
}

func (c *cli) emitFlow(cmd *cobra.Command, flow bridge.Flow) error {
	return c.emit(cmd, flow, func(w io.Writer) { printFlow(w, flow) })
}

func (c *cli) emitReport(cmd *cobra.Command, view session.ReportView) error {
	return c.emit(cmd, view, func(w io.Writer) { printSections(w, view) })
}

func newSubmitCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <type> [symbol]",
		Short: "Send a report request to the active bot",
		Long: `Submits a new request. The symbol is optional for the types the bot
accepts without one (for example "sinyal").

Example:
  bridgectl submit teknik THYAO`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"type": args[0]}
			if len(args) == 2 {
				body["symbol"] = args[1]
			}
			var flow bridge.Flow
			if err := c.client.doJSON(cmd.Context(), http.MethodPost, "/requests", body, &flow); err != nil {
				return err
			}
			return c.emitFlow(cmd, flow)
		},
	}
}

func newChooseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "choose <option>",
		Short: "Answer a disambiguation prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var flow bridge.Flow
			body := map[string]string{"option": args[0]}
			if err := c.client.doJSON(cmd.Context(), http.MethodPost, "/requests/selection", body, &flow); err != nil {
				return err
			}
			return c.emitFlow(cmd, flow)
		},
	}
}

func newCancelCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Abandon the current disambiguation prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var flow bridge.Flow
			if err := c.client.doJSON(cmd.Context(), http.MethodPost, "/requests/cancel", nil, &flow); err != nil {
				return err
			}
			return c.emitFlow(cmd, flow)
		},
	}
}

func newCompleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "complete [image...]",
		Short: "Finish an upload wait, optionally attaching images",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap session.Snapshot
			var err error
			if len(args) == 0 {
				err = c.client.doJSON(cmd.Context(), http.MethodPost, "/requests/manual-complete", nil, &snap)
			} else {
				err = c.client.upload(cmd.Context(), "/requests/manual-complete", args, &snap)
			}
			if err != nil {
				return err
			}
			return c.emit(cmd, snap, func(w io.Writer) { printSnapshot(w, snap) })
		},
	}
}

func newRestartCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Ask the worker to drop its request memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client.doJSON(cmd.Context(), http.MethodPost, "/worker/restart", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "restart command sent")
			return nil
		},
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the flow, collected images and report summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap session.Snapshot
			if err := c.client.doJSON(cmd.Context(), http.MethodGet, "/session", nil, &snap); err != nil {
				return err
			}
			return c.emit(cmd, snap, func(w io.Writer) { printSnapshot(w, snap) })
		},
	}
}

func newImagesCmd(c *cli) *cobra.Command {
	images := &cobra.Command{
		Use:   "images",
		Short: "Download or discard collected report images",
	}

	var out string
	get := &cobra.Command{
		Use:   "get <index>",
		Short: "Save one collected image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil || index < 0 {
				return fmt.Errorf("invalid image index %q", args[0])
			}
			if out == "" {
				out = fmt.Sprintf("image-%d", index)
			}
			file, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			defer file.Close()
			if err := c.client.doJSON(cmd.Context(), http.MethodGet, "/images/"+strconv.Itoa(index), nil, file); err != nil {
				_ = os.Remove(out)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved image %d to %s\n", index, out)
			return nil
		},
	}
	get.Flags().StringVar(&out, "file", "", "Destination path (default image-<index>)")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard all collected images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client.doJSON(cmd.Context(), http.MethodDelete, "/images", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "images cleared")
			return nil
		},
	}

	images.AddCommand(get, clearCmd)
	return images
}

func newAnalyzeCmd(c *cli) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the streaming analysis over the collected images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var view session.ReportView
			body := map[string]string{"model": model}
			if err := c.client.doJSON(cmd.Context(), http.MethodPost, "/analysis", body, &view); err != nil {
				return err
			}
			return c.emitReport(cmd, view)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Gemini model (default: the control plane's primary model)")
	return cmd
}

func newReportCmd(c *cli) *cobra.Command {
	var (
		style    string
		sections bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the included report sections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sections || c.jsonOutput() {
				var view session.ReportView
				if err := c.client.doJSON(cmd.Context(), http.MethodGet, "/report", nil, &view); err != nil {
					return err
				}
				return c.emitReport(cmd, view)
			}
			var markdown strings.Builder
			if err := c.client.doJSON(cmd.Context(), http.MethodGet, "/report/markdown", nil, &markdown); err != nil {
				return err
			}
			if style == "raw" {
				_, err := io.WriteString(cmd.OutOrStdout(), markdown.String())
				return err
			}
			rendered, err := renderMarkdown(markdown.String(), style)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), rendered)
			return err
		},
	}
	cmd.Flags().StringVar(&style, "style", "dark", "Render style: dark, light, notty or raw")
	cmd.Flags().BoolVar(&sections, "sections", false, "List sections with their labels instead of rendering")
	return cmd
}

func newFilterCmd(c *cli) *cobra.Command {
	filter := &cobra.Command{
		Use:   "filter",
		Short: "Change which report sections are included",
	}
	post := func(cmd *cobra.Command, path string) error {
		var view session.ReportView
		if err := c.client.doJSON(cmd.Context(), http.MethodPost, path, nil, &view); err != nil {
			return err
		}
		return c.emitReport(cmd, view)
	}
	filter.AddCommand(
		&cobra.Command{
			Use:       "select <positive|negative|neutral>",
			Short:     "Include only the sections with the given label",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"positive", "negative", "neutral"},
			RunE: func(cmd *cobra.Command, args []string) error {
				return post(cmd, "/report/select/"+url.PathEscape(args[0]))
			},
		},
		&cobra.Command{
			Use:   "all",
			Short: "Include every section",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return post(cmd, "/report/select-all")
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Exclude every section",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return post(cmd, "/report/clear-all")
			},
		},
		&cobra.Command{
			Use:   "toggle <id>",
			Short: "Flip one section",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid section id %q", args[0])
				}
				return post(cmd, fmt.Sprintf("/report/sections/%d/toggle", id))
			},
		},
	)
	return filter
}

type botList struct {
	Bots   []catalog.Bot `json:"bots"`
	Active string        `json:"active"`
}

func newBotsCmd(c *cli) *cobra.Command {
	bots := &cobra.Command{
		Use:   "bots",
		Short: "List or switch report bots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list botList
			if err := c.client.doJSON(cmd.Context(), http.MethodGet, "/bots", nil, &list); err != nil {
				return err
			}
			return c.emit(cmd, list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "\tKEY\tUSERNAME\tBUTTONS")
				for _, bot := range list.Bots {
					mark := ""
					if bot.Key == list.Active {
						mark = "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", mark, bot.Key, bot.Username, len(bot.Buttons))
				}
				_ = tw.Flush()
			})
		},
	}
	bots.AddCommand(&cobra.Command{
		Use:   "use <key>",
		Short: "Make a bot the request target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var bot catalog.Bot
			body := map[string]string{"key": args[0]}
			if err := c.client.doJSON(cmd.Context(), http.MethodPut, "/bots/active", body, &bot); err != nil {
				return err
			}
			return c.emit(cmd, bot, func(w io.Writer) {
				fmt.Fprintf(w, "active bot: %s (%s)\n", bot.Key, bot.Username)
			})
		},
	})
	return bots
}

type keyView struct {
	Key         string `json:"key"`
	CoolingDown bool   `json:"cooling_down"`
}

func newKeysCmd(c *cli) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Inspect, replace or probe the Gemini key pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list struct {
				Keys []keyView `json:"keys"`
			}
			if err := c.client.doJSON(cmd.Context(), http.MethodGet, "/keys", nil, &list); err != nil {
				return err
			}
			return c.emit(cmd, list, func(w io.Writer) {
				for _, key := range list.Keys {
					state := "ready"
					if key.CoolingDown {
						state = "cooling down"
					}
					fmt.Fprintf(w, "%s\t%s\n", key.Key, state)
				}
			})
		},
	}
	keys.AddCommand(
		&cobra.Command{
			Use:   "set <key>...",
			Short: "Replace the key pool",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var list struct {
					Keys []keyView `json:"keys"`
				}
				body := map[string][]string{"keys": args}
				if err := c.client.doJSON(cmd.Context(), http.MethodPut, "/keys", body, &list); err != nil {
					return err
				}
				return c.emit(cmd, list, func(w io.Writer) {
					fmt.Fprintf(w, "key pool replaced (%d keys)\n", len(list.Keys))
				})
			},
		},
		&cobra.Command{
			Use:   "probe",
			Short: "Check every key against the primary and lite models",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var probe struct {
					Results []analysis.ProbeResult `json:"results"`
				}
				if err := c.client.doJSON(cmd.Context(), http.MethodGet, "/keys/probe", nil, &probe); err != nil {
					return err
				}
				return c.emit(cmd, probe, func(w io.Writer) {
					if len(probe.Results) == 0 {
						fmt.Fprintln(w, "no keys configured")
						return
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "KEY\tPRIMARY\tLITE\tERROR")
					for _, result := range probe.Results {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", result.Key, okText(result.PrimaryOK), okText(result.LiteOK), result.Error)
					}
					_ = tw.Flush()
				})
			},
		},
	)
	return keys
}

func okText(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}

func newLinkCmd(c *cli) *cobra.Command {
	var (
		mode string
		date string
	)
	cmd := &cobra.Command{
		Use:   "link <ticker>",
		Short: "Print the social search link for a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{"ticker": {args[0]}, "mode": {mode}}
			if date != "" {
				query.Set("date", date)
			}
			var link struct {
				URL string `json:"url"`
			}
			if err := c.client.doJSON(cmd.Context(), http.MethodGet, "/search-link?"+query.Encode(), nil, &link); err != nil {
				return err
			}
			return c.emit(cmd, link, func(w io.Writer) { fmt.Fprintln(w, link.URL) })
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "historical", "Search mode: historical or live")
	cmd.Flags().StringVar(&date, "date", "", "Day to search, YYYY-MM-DD (default today)")
	return cmd
}
