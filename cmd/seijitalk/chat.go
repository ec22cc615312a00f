package main

import (
	"github.com/spf13/cobra"

	"github.com/comigor/seijitalk-go/internal/chat"
	"github.com/comigor/seijitalk-go/internal/cli"
	"github.com/comigor/seijitalk-go/internal/session"
)

var chatMode string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to SeijiTalk in the terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := chat.ParseMode(chatMode)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		_, r, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		sess := session.New(chat.NewID(), r, session.WithMode(mode))
		defer sess.Close()

		c := cli.NewChat(sess, cmd.OutOrStdout())
		defer c.Close()
		return c.Run(ctx)
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatMode, "mode", "m", string(chat.ModeLatest), "initial mode (latest or glossary)")
}
