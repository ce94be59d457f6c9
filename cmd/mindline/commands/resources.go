package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/mindline/internal/app"
	"github.com/florianilch/mindline/internal/resources"
)

// listCommand builds a subcommand that prints the result of a no-argument call.
func listCommand[T any](usage string, call func(*resources.Service, context.Context) (T, error)) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: usage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
				out, err := call(client.Resources, ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			})
		},
	}
}

// showCommand builds a subcommand that prints the result of a call taking one ID.
func showCommand[T any](argsUsage, usage string, call func(*resources.Service, context.Context, string) (T, error)) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     usage,
		ArgsUsage: argsUsage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1); err != nil {
				return err
			}
			return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
				out, err := call(client.Resources, ctx, cmd.Args().First())
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			})
		},
	}
}

func psychologistsCommand() *cli.Command {
	return &cli.Command{
		Name:  "psychologists",
		Usage: "browse the psychologist directory",
		Commands: []*cli.Command{
			listCommand("list psychologists", (*resources.Service).ListPsychologists),
			showCommand("<id>", "show a psychologist", (*resources.Service).GetPsychologist),
		},
	}
}

func conversationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conversations",
		Usage: "list and read conversations",
		Commands: []*cli.Command{
			listCommand("list conversations", (*resources.Service).ListConversations),
			showCommand("<id>", "show a conversation with its messages", (*resources.Service).GetConversation),
		},
	}
}

func invitesCommand() *cli.Command {
	return &cli.Command{
		Name:  "invites",
		Usage: "manage invitations",
		Commands: []*cli.Command{
			listCommand("list invitations sent or received", (*resources.Service).ListInvites),
			{
				Name:  "create",
				Usage: "invite a patient by email",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "invitee email", Required: true},
					&cli.StringFlag{Name: "message", Usage: "personal note"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
						inv, err := client.Resources.CreateInvite(ctx, resources.CreateInviteRequest{
							Email:   cmd.String("email"),
							Message: cmd.String("message"),
						})
						if err != nil {
							return err
						}
						return printJSON(cmd, inv)
					})
				},
			},
			{
				Name:      "accept",
				Usage:     "accept an invitation",
				ArgsUsage: "<code>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := requireArgs(cmd, 1); err != nil {
						return err
					}
					return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
						inv, err := client.Resources.AcceptInvite(ctx, cmd.Args().First())
						if err != nil {
							return err
						}
						return printJSON(cmd, inv)
					})
				},
			},
		},
	}
}

func recordsCommand() *cli.Command {
	return &cli.Command{
		Name:  "records",
		Usage: "read and write medical records",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list medical records",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "patient", Usage: "patient ID (psychologists only)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
						records, err := client.Resources.ListMedicalRecords(ctx, cmd.String("patient"))
						if err != nil {
							return err
						}
						return printJSON(cmd, records)
					})
				},
			},
			{
				Name:  "create",
				Usage: "add a record for a patient",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "patient", Usage: "patient ID", Required: true},
					&cli.StringFlag{Name: "title", Usage: "record title", Required: true},
					&cli.StringFlag{Name: "notes", Usage: "clinical notes", Required: true},
					&cli.StringFlag{Name: "diagnosis", Usage: "diagnosis"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
						rec, err := client.Resources.CreateMedicalRecord(ctx, resources.CreateMedicalRecordRequest{
							PatientID: cmd.String("patient"),
							Title:     cmd.String("title"),
							Notes:     cmd.String("notes"),
							Diagnosis: cmd.String("diagnosis"),
						})
						if err != nil {
							return err
						}
						return printJSON(cmd, rec)
					})
				},
			},
		},
	}
}

func ticketsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tickets",
		Usage: "contact support",
		Commands: []*cli.Command{
			listCommand("list your support tickets", (*resources.Service).ListSupportTickets),
			{
				Name:  "create",
				Usage: "open a support ticket",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Usage: "short summary", Required: true},
					&cli.StringFlag{Name: "body", Usage: "details", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
						ticket, err := client.Resources.CreateSupportTicket(ctx, resources.CreateSupportTicketRequest{
							Subject: cmd.String("subject"),
							Body:    cmd.String("body"),
						})
						if err != nil {
							return err
						}
						return printJSON(cmd, ticket)
					})
				},
			},
		},
	}
}
