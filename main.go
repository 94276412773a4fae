// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	apicmd "github.com/sapcc/regwarden/cmd/api"
	janitorcmd "github.com/sapcc/regwarden/cmd/janitor"

	// include all known driver implementations
	_ "github.com/sapcc/regwarden/internal/drivers/redis"
	_ "github.com/sapcc/regwarden/internal/drivers/trivial"
)

func main() {
	logg.ShowDebug = osext.GetenvBool("REGWARDEN_DEBUG")

	rootCmd := &cobra.Command{
		Use:     "regwarden",
		Short:   "Storage accounting and autoprune engine for container registries",
		Long:    "Regwarden keeps track of the storage consumed by registry namespaces and repositories, and deletes tags according to autoprune policies.",
		Version: bininfo.VersionOr("rolling"),
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help() //nolint:errcheck
		},
	}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Server commands.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help() //nolint:errcheck
		},
	}
	apicmd.AddCommandTo(serverCmd)
	janitorcmd.AddCommandTo(serverCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logg.Fatal(err.Error())
	}
}
