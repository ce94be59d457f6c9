package commands

import (
	"context"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/mindline/internal/app"
	"github.com/florianilch/mindline/internal/chat"
)

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "send and follow direct messages",
		Commands: []*cli.Command{
			{
				Name:      "send",
				Usage:     "send a message",
				ArgsUsage: "<conversation> <text>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 2 {
						return requireArgs(cmd, 2)
					}
					return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
						conv := client.Conversation(cmd.Args().First())
						entry, err := conv.Send(ctx, strings.Join(cmd.Args().Tail(), " "))
						if err != nil {
							return err
						}
						return printJSON(cmd, entry.Message)
					})
				},
			},
			{
				Name:      "watch",
				Usage:     "print new messages as they arrive until interrupted",
				ArgsUsage: "<conversation>",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "chat--poll-interval",
						Usage: "refresh interval",
						Value: app.DefaultConfigChatPoll,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := requireArgs(cmd, 1); err != nil {
						return err
					}
					return withClient(ctx, cmd, func(ctx context.Context, client *app.Client) error {
						return watch(ctx, cmd, client, cmd.Args().First())
					})
				},
			},
		},
	}
}

// watch prints each confirmed message once, oldest first.
func watch(ctx context.Context, cmd *cli.Command, client *app.Client, conversationID string) error {
	conv := client.Conversation(conversationID)
	printed := make(map[string]struct{})

	// The first refresh surfaces errors such as a missing conversation directly.
	if _, err := conv.Refresh(ctx); err != nil {
		return err
	}

	emit := func(entries []chat.Entry) {
		for _, e := range entries {
			if e.Status != chat.StatusSent {
				continue
			}
			if _, ok := printed[e.ID]; ok {
				continue
			}
			printed[e.ID] = struct{}{}
			if err := printJSONLine(cmd, e.Message); err != nil {
				slog.WarnContext(ctx, "failed to print message", "error", err)
			}
		}
	}
	emit(conv.Messages())

	return conv.Poll(ctx, client.PollInterval, emit)
}
