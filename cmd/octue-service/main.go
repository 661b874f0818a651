/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/octue/octue-sdk-go/cmd/octue-service/runcmd"
	"github.com/octue/octue-sdk-go/cmd/octue-service/startcmd"
)

var logger = log.New("octue-service")

func main() {
	rootCmd := &cobra.Command{
		Use: "octue-service",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(startcmd.GetStartCmd())
	rootCmd.AddCommand(runcmd.GetRunCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to run the service.", log.WithError(err))
	}
}
