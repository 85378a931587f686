// Command hybridfsctl is the control-plane client: it builds one
// control.Request per subcommand, dials hybridfsd over its local socket,
// and prints the result. Each subcommand follows the teacher's own
// CLI-command shape (cmd/mutagen/sync/pause.go): build a request, connect,
// invoke, print, rather than containing any synchronization logic itself.
package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/duallayer/hybridfs/cmd"
	"github.com/duallayer/hybridfs/pkg/control"
)

const dialTimeout = 5 * time.Second

func printResult(resp *control.Response) {
	if len(resp.Data) == 0 {
		fmt.Println("ok")
		return
	}
	var pretty any
	if err := json.Unmarshal(resp.Data, &pretty); err != nil {
		fmt.Println(string(resp.Data))
		return
	}
	encoded, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(resp.Data))
		return
	}
	fmt.Println(string(encoded))
}

func invoke(req control.Request) error {
	resp, err := control.Call(dialTimeout, req)
	if err != nil {
		return err
	}
	printResult(resp)
	return nil
}

func simpleCommand(use, short string, command control.Command) *cobra.Command {
	return &cobra.Command{
		Use:          use,
		Short:        short,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(c *cobra.Command, arguments []string) error {
			return invoke(control.Request{Command: command, SyncPairID: arguments[0]})
		},
	}
}

var syncNowCommand = simpleCommand("sync-now <sync-pair-id>", "Trigger an immediate sync for one pair", control.CommandSyncNow)
var pauseCommand = simpleCommand("pause <sync-pair-id>", "Pause synchronization for one pair", control.CommandPauseSync)
var resumeCommand = simpleCommand("resume <sync-pair-id>", "Resume synchronization for one pair", control.CommandResumeSync)
var cancelCommand = simpleCommand("cancel <sync-pair-id>", "Cancel an in-progress sync for one pair", control.CommandCancelSync)
var rebuildIndexCommand = simpleCommand("rebuild-index <sync-pair-id>", "Unmount, rebuild the index, and remount one pair", control.CommandRebuildIndex)
var evictCommand = simpleCommand("evict <sync-pair-id>", "Trigger an eviction pass for one pair", control.CommandTriggerEvict)
var unmountCommand = simpleCommand("unmount <sync-pair-id>", "Unmount one sync pair", control.CommandUnmount)

var syncAllCommand = &cobra.Command{
	Use:          "sync-all",
	Short:        "Trigger an immediate sync for every mounted pair",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(c *cobra.Command, arguments []string) error {
		return invoke(control.Request{Command: control.CommandSyncAll})
	},
}

var statusCommand = &cobra.Command{
	Use:          "status",
	Short:        "Print the daemon's global and per-pair state",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(c *cobra.Command, arguments []string) error {
		return invoke(control.Request{Command: control.CommandGetFullState})
	},
}

var activityCommand = &cobra.Command{
	Use:          "activity",
	Short:        "List recorded activity events",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(c *cobra.Command, arguments []string) error {
		return invoke(control.Request{Command: control.CommandListActivities})
	},
}

// watchFullState mirrors the fields of hybridfsd's ServiceFullState response
// that watchCommand needs; it's decoded independently since hybridfsctl
// can't import a main package.
type watchFullState struct {
	Global string                  `json:"global"`
	Pairs  map[string]catalogStats `json:"pairs"`
}

type catalogStats struct {
	TotalEntries      int64 `json:"TotalEntries"`
	LocalOnlyBytes    int64 `json:"LocalOnlyBytes"`
	ExternalOnlyBytes int64 `json:"ExternalOnlyBytes"`
	BothBytes         int64 `json:"BothBytes"`
}

// computeWatchStatusLine builds a single-line colorized summary of the
// daemon's global state and per-pair entry counts, in the same spirit as
// the teacher's own sync monitor status line: one line, overwritten in
// place, colored to flag anything that needs attention.
func computeWatchStatusLine(state watchFullState) string {
	status := fmt.Sprintf("[%s] ", state.Global)
	if state.Global == "error" {
		status = color.RedString(status)
	} else if state.Global != "ready" && state.Global != "running" {
		status = color.YellowString(status)
	}
	for id, stats := range state.Pairs {
		status += fmt.Sprintf("%s: %d entries ", id, stats.TotalEntries)
	}
	return status
}

var watchCommand = &cobra.Command{
	Use:          "watch",
	Short:        "Continuously print the daemon's global and per-pair state on a single line",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(c *cobra.Command, arguments []string) error {
		printer := &cmd.StatusLinePrinter{}
		defer printer.BreakIfNonEmpty()
		for {
			resp, err := control.Call(dialTimeout, control.Request{Command: control.CommandGetFullState})
			if err != nil {
				printer.Print(color.RedString(err.Error()))
			} else {
				var state watchFullState
				if err := json.Unmarshal(resp.Data, &state); err != nil {
					printer.Print(color.RedString(err.Error()))
				} else {
					printer.Print(computeWatchStatusLine(state))
				}
			}
			time.Sleep(time.Second)
		}
	},
}

var mountConfiguration struct {
	localDir    string
	externalDir string
	targetDir   string
}

var mountCommand = &cobra.Command{
	Use:          "mount <sync-pair-id>",
	Short:        "Mount a sync pair",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(c *cobra.Command, arguments []string) error {
		return invoke(control.Request{
			Command:     control.CommandMount,
			SyncPairID:  arguments[0],
			LocalDir:    mountConfiguration.localDir,
			ExternalDir: mountConfiguration.externalDir,
			TargetDir:   mountConfiguration.targetDir,
		})
	},
}

func init() {
	flags := mountCommand.Flags()
	flags.StringVar(&mountConfiguration.localDir, "local", "", "Local directory root")
	flags.StringVar(&mountConfiguration.externalDir, "external", "", "External directory root")
	flags.StringVar(&mountConfiguration.targetDir, "target", "", "Mount point for the merged view")
	mountCommand.MarkFlagRequired("local")
	mountCommand.MarkFlagRequired("target")
}

var rootCommand = &cobra.Command{
	Use:   "hybridfsctl",
	Short: "hybridfsctl controls the hybridfsd background service",
}

func init() {
	cobra.EnableCommandSorting = false
	rootCommand.AddCommand(
		syncNowCommand,
		syncAllCommand,
		pauseCommand,
		resumeCommand,
		cancelCommand,
		rebuildIndexCommand,
		evictCommand,
		statusCommand,
		watchCommand,
		activityCommand,
		mountCommand,
		unmountCommand,
	)
}

func main() {
	cmd.HandleTerminalCompatibility()
	if err := rootCommand.Execute(); err != nil {
		cmd.Fatal(err)
	}
}
