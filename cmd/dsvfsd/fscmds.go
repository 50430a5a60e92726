package main

import (
	"fmt"
	"io"
	"os"

	"github.com/brevitylabs/dsvfs/pkg/filenode"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls <path>",
	Short: "List the children of a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		node, err := engine.Open(args[0])
		if err != nil {
			return err
		}
		children, err := node.ListChildren(ctx)
		if err != nil {
			return err
		}
		for _, c := range children {
			fmt.Println(c.Path())
		}
		return nil
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		node, err := engine.Open(args[0])
		if err != nil {
			return err
		}
		return node.CreateFolder(ctx)
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a file or empty folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		node, err := engine.Open(args[0])
		if err != nil {
			return err
		}
		return node.Delete(ctx)
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Write a file's contents to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		node, err := engine.Open(args[0])
		if err != nil {
			return err
		}
		if err := node.OpenStream(ctx, filenode.OpenOptions{Read: true}, 0); err != nil {
			return err
		}
		defer node.Close(ctx)
		attrs, err := node.Stat(ctx, "dsvfs")
		if err != nil {
			return err
		}
		contentSize, _ := attrs["content-size"].(int64)
		const chunkSize = 64 * 1024
		buf := make([]byte, chunkSize)
		var offset int64
		for offset < contentSize {
			n, err := node.ReadAt(ctx, buf, offset)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			offset += int64(n)
		}
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <path>",
	Short: "Create or overwrite a file with stdin's contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		node, err := engine.Open(args[0])
		if err != nil {
			return err
		}
		opts := filenode.OpenOptions{Write: true, Create: true, TruncateExisting: true}
		if err := node.OpenStream(ctx, opts, 0); err != nil {
			return err
		}
		defer node.Close(ctx)
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		_, err = node.WriteAt(ctx, data, 0)
		return err
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <src> <dest>",
	Short: "Move (copy and delete) a file or folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		node, err := engine.Open(args[0])
		if err != nil {
			return err
		}
		return node.Rename(ctx, args[1], filenode.MoveOptions{})
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp <src> <dest>",
	Short: "Copy a file or folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		node, err := engine.Open(args[0])
		if err != nil {
			return err
		}
		return node.Copy(ctx, args[1], filenode.CopyOptions{})
	},
}

func init() {
	for _, c := range []*cobra.Command{lsCmd, mkdirCmd, rmCmd, catCmd, putCmd, mvCmd, cpCmd} {
		registerBackendFlags(c)
		rootCmd.AddCommand(c)
	}
}
