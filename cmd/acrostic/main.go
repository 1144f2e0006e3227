package main

import (
	"fmt"
	"os"

	"github.com/jacobrmount/Acrostic/cmd/acrostic/cli"
	"github.com/jacobrmount/Acrostic/cmd/acrostic/cli/client"
	"github.com/jacobrmount/Acrostic/cmd/acrostic/cli/server"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	info := cli.VersionInfo{
		Version: version,
		Commit:  commit,
	}
	root := cli.NewRootCommand(info)

	root.AddCommand(cli.NewVersionCommand(info))

	root.AddCommand(server.NewAgentCommand())
	root.AddCommand(server.NewConfigCommand())

	root.AddCommand(client.NewSyncCommand())
	root.AddCommand(client.NewTokenCommand())
	root.AddCommand(client.NewDatabaseCommand())
	root.AddCommand(client.NewWidgetCommand())
	root.AddCommand(client.NewStorageCommand())
	root.AddCommand(client.NewRepairCommand())
	root.AddCommand(client.NewCacheCommand())

	if err := root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
