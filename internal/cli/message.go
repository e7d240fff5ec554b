package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/message"
)

var (
	messageFrom string
	messageType string
)

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Send messages between agents",
}

var messageSendCmd = &cobra.Command{
	Use:   "send <recipient> <content>",
	Short: "Send a message to an agent (or \"all\" to broadcast)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		typ, err := message.ParseType(messageType)
		if err != nil {
			return err
		}
		msg, err := message.New(repo).Send(messageFrom, args[0], args[1], typ)
		if err != nil {
			return err
		}
		fmt.Printf("sent %s to %s\n", msg.ID, msg.To)
		return nil
	},
}

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <content>",
	Short: "Broadcast a message to every agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		msg, err := message.New(repo).Send(messageFrom, message.Broadcast, args[0], message.TypeInfo)
		if err != nil {
			return err
		}
		fmt.Printf("broadcast %s\n", msg.ID)
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <agent-id|all>",
	Short: "List messages for an agent, or every message with \"all\"",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		q := message.New(repo)
		var msgs []message.Message
		if args[0] == message.Broadcast {
			msgs, err = q.LoadAll()
		} else {
			msgs, err = q.LoadForAgent(args[0])
		}
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Println("(no messages)")
			return nil
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s → %s (%s): %s\n", m.Timestamp, m.From, m.To, m.MessageType, m.Content)
		}
		return nil
	},
}

func init() {
	messageSendCmd.Flags().StringVar(&messageFrom, "from", "operator", "Sender id")
	messageSendCmd.Flags().StringVar(&messageType, "type", "info", "Message type: info|task|question|answer|completed|error")
	broadcastCmd.Flags().StringVar(&messageFrom, "from", "operator", "Sender id")
	messageCmd.AddCommand(messageSendCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(broadcastCmd)
	rootCmd.AddCommand(messagesCmd)
}
