package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *App) curlCommand() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "curl URL",
		Short: "Print the curl command line sending the same request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient(nil)
			if err != nil {
				return err
			}
			r, _, err := flags.build(c, a.fs, args[0], a.cfg.Client.Headers, false)
			if err != nil {
				return err
			}

			line, err := r.Command()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, line)
			return err
		},
	}

	flags.register(cmd.Flags())
	return cmd
}
