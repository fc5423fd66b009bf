// verifyctl is a small operator CLI for the verification API: inspect a
// user's attempt, push a document through, run the admin sweep.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/veriflow/veriflow/internal/verclient"
)

func main() {
	cmd := &cli.Command{
		Name:  "verifyctl",
		Usage: "Operate the identity verification service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Value:   "http://localhost:8080",
				Usage:   "Base URL of the verification API",
				Sources: cli.EnvVars("VERIFLOW_API"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token for authenticated calls",
				Sources: cli.EnvVars("VERIFLOW_TOKEN"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show the caller's current verification attempt",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					res, err := client(cmd).Status(ctx)
					if err != nil {
						return err
					}
					return printJSON(res)
				},
			},
			{
				Name:      "upload",
				Usage:     "Upload an identity document",
				ArgsUsage: "<file>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := cmd.Args().First()
					if path == "" {
						return fmt.Errorf("file argument required")
					}
					data, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
					res, err := client(cmd).UploadDocument(ctx, filepath.Base(path), contentType, data)
					if err != nil {
						return err
					}
					return printJSON(res)
				},
			},
			{
				Name:  "initiate",
				Usage: "Start a provider verification session",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "document-url",
						Usage: "URL of the previously uploaded document",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					res, err := client(cmd).CreateSession(ctx, cmd.String("document-url"))
					if err != nil {
						return err
					}
					return printJSON(res)
				},
			},
			{
				Name:      "check-registration",
				Usage:     "Poll the outcome of a registration session",
				ArgsUsage: "<registration-token>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					token := cmd.Args().First()
					if token == "" {
						return fmt.Errorf("registration token argument required")
					}
					res, err := client(cmd).CheckRegistration(ctx, token)
					if err != nil {
						return err
					}
					return printJSON(res)
				},
			},
			{
				Name:  "reset",
				Usage: "Delete the caller's attempt and start over",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "document-key",
						Usage: "Also remove this stored document",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := client(cmd).DeleteAttempt(ctx, cmd.String("document-key")); err != nil {
						return err
					}
					fmt.Println("attempt deleted")
					return nil
				},
			},
			{
				Name:  "admin-sweep",
				Usage: "Reconcile every non-terminal attempt against the provider",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					res, err := client(cmd).AdminRefreshAll(ctx)
					if err != nil {
						return err
					}
					return printJSON(res)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client(cmd *cli.Command) *verclient.Client {
	return verclient.NewClient(cmd.String("api"), cmd.String("token"))
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
