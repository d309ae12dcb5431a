package main

import (
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/vipul43/mailsync/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "mailsync",
	Short:         "Incremental mailbox sync worker.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := logging.Setup(os.Stdout, cmd.CommandPath()); err != nil {
			return err
		}
		setCurrentCommandPath(cmd.CommandPath())
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(
		workerCmd,
		migrateCmd,
		scheduleCmd,
		processCmd,
		enqueueCmd,
		cancelCmd,
		resetCursorCmd,
		pauseCmd,
		resumeCmd,
		onboardCmd,
		statusCmd,
		cleanupCmd,
	)
}

var (
	commandMu   sync.Mutex
	commandPath string
)

func setCurrentCommandPath(p string) {
	commandMu.Lock()
	defer commandMu.Unlock()
	commandPath = p
}

func currentCommandPath() string {
	commandMu.Lock()
	defer commandMu.Unlock()
	return commandPath
}
