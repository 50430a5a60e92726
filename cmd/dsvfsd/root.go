package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dsvfsd",
	Short: "dsvfsd serves a POSIX-like filesystem backed by a key-value datastore",
	Long:  `dsvfsd is a small daemon and CLI for the datastore-backed virtual filesystem: block-structured files, folders, and metadata stored as datastore entities rather than on a real block device.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
