package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/chaz8081/gostt-stream/internal/config"
)

func initConfigCmd() *cli.Command {
	var path string
	return &cli.Command{
		Name:  "init-config",
		Usage: "Write the default configuration file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "where to write it (default: ~/.config/gostt-stream/config.yaml)", Destination: &path},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			written, err := config.WriteDefault(path)
			if err != nil {
				return err
			}
			if written == "" {
				fmt.Println("Config file already exists, leaving it alone")
				return nil
			}
			fmt.Printf("Wrote %s\n", written)
			return nil
		},
	}
}
