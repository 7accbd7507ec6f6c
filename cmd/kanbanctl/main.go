// Command kanbanctl drives boards through the synchronization core over the
// HTTP API.
package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"kanban-api/apiclient"
	"kanban-api/boardsync"
)

var Version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries what every subcommand needs once flags are parsed.
type cli struct {
	configPath string
	settings   Settings
	logger     *log.Logger
	session    *boardsync.Session
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:           "kanbanctl",
		Short:         "kanbanctl - command line client for kanban boards",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd.Flags(), c.configPath)
			if err != nil {
				return err
			}
			c.settings = s

			c.logger = log.New()
			c.logger.SetOutput(cmd.ErrOrStderr())
			c.logger.SetLevel(log.WarnLevel)
			if s.Debug {
				c.logger.SetLevel(log.DebugLevel)
			}

			client := apiclient.New(s.APIURL, s.Token)
			client.HTTP.Timeout = s.Timeout
			c.session = boardsync.NewSession(client, client, c.logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.session != nil {
				c.session.CloseAll()
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&c.configPath, "config", defaultConfigPath(), "config file")
	pf.String("api-url", defaultAPIURL, "board API base URL")
	pf.String("token", "", "bearer token")
	pf.Duration("timeout", 0, "request timeout")
	pf.Bool("debug", false, "log sync activity")

	rootCmd.AddCommand(boardsCmd(c))
	rootCmd.AddCommand(createBoardCmd(c))
	rootCmd.AddCommand(showCmd(c))
	rootCmd.AddCommand(renameBoardCmd(c))
	rootCmd.AddCommand(addColumnCmd(c))
	rootCmd.AddCommand(renameColumnCmd(c))
	rootCmd.AddCommand(addTaskCmd(c))
	rootCmd.AddCommand(editTaskCmd(c))
	rootCmd.AddCommand(moveTaskCmd(c))

	return rootCmd
}

// context bounds one command by the configured timeout.
func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.settings.Timeout)
}

// open loads the board into a view, reporting the load failure if any.
func (c *cli) open(ctx context.Context, boardID string) (*boardsync.View, error) {
	v, err := c.session.Open(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("load board %s: %w", boardID, err)
	}
	return v, nil
}
