package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var addUserCommand = &cli.Command{
	Name:      "adduser",
	Usage:     "Register a Lightning Address user",
	ArgsUsage: "<name>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name: "email",
			Usage: "announce the address as text/email instead " +
				"of text/identifier",
		},
		&cli.StringFlag{
			Name:  "description",
			Usage: "description shown in wallets for this user",
		},
	},
	Action: addUser,
}

func addUser(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return fmt.Errorf("missing <name> argument")
	}

	return rpcCall(ctx, "adduser", map[string]interface{}{
		"user":        name,
		"is_email":    ctx.Bool("email"),
		"description": ctx.String("description"),
	})
}

var delUserCommand = &cli.Command{
	Name:      "deluser",
	Usage:     "Remove a previously registered user",
	ArgsUsage: "<name>",
	Action:    delUser,
}

func delUser(ctx *cli.Context) error {
	name := ctx.Args().First()
	if name == "" {
		return fmt.Errorf("missing <name> argument")
	}

	return rpcCall(ctx, "deluser", []string{name})
}
