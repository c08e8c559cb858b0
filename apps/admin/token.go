package main

import (
	"fmt"

	"github.com/spf13/cobra"

	echoapi "github.com/studyboard/studyboard/apps/api/echo"
	"github.com/studyboard/studyboard/core"
)

func (cli *commandLine) tokenCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the curriculum API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email = core.CleanString(email, true /* lower */)
			if email == "" {
				_ = cmd.Usage()
				return errHelp
			}
			token, err := echoapi.GenerateToken(cli.conf.SecretKey, echoapi.NewOperatorClaims(cli.conf, email))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "operator email")
	return cmd
}
