// Atelier CLI - command line client for the Atelier realtime API.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/atelierhq/atelier/clients/go/atelier"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("ATELIER_URL")
	token := os.Getenv("ATELIER_TOKEN")

	client := atelier.NewClient(baseURL, token)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "inbox":
		resp, err := client.ListConversations()
		exitOnError(err)
		for _, view := range resp.Conversations {
			name := "unknown"
			if view.Counterpart != nil {
				name = view.Counterpart.DisplayName
			}
			preview := ""
			if view.LastMessage != nil {
				preview = view.LastMessage.Body
			}
			fmt.Printf("  %s  %s (%d unread): %s\n", view.Conversation.ID, name, view.UnreadCount, preview)
		}

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: atelier read <conversation-id>")
			os.Exit(1)
		}
		resp, err := client.ListMessages(os.Args[2], 50, "")
		exitOnError(err)
		for _, msg := range resp.Messages {
			ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
			from := msg.SenderID
			if len(from) > 8 {
				from = from[:8]
			}
			fmt.Printf("[%s] %s: %s\n", ts, from, msg.Body)
		}
		_, _ = client.MarkRead(os.Args[2])

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: atelier send <conversation-id> <body>")
			os.Exit(1)
		}
		msg, err := client.SendMessage(os.Args[2], atelier.SendMessageRequest{Body: os.Args[3]})
		exitOnError(err)
		fmt.Printf("sent %s\n", msg.ID)

	case "open":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: atelier open <member-id>")
			os.Exit(1)
		}
		conv, err := client.CreateConversation(os.Args[2])
		exitOnError(err)
		fmt.Printf("conversation %s\n", conv.ID)

	case "find":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: atelier find <query>")
			os.Exit(1)
		}
		resp, err := client.SearchProfiles(os.Args[2], 20)
		exitOnError(err)
		for _, p := range resp.Profiles {
			fmt.Printf("  %s  %s\n", p.ID, p.DisplayName)
		}

	case "call":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: atelier call <member-id> [voice|video]")
			os.Exit(1)
		}
		kind := "voice"
		if len(os.Args) > 3 {
			kind = os.Args[3]
		}
		resp, err := client.InitiateCall(os.Args[2], kind)
		exitOnError(err)
		fmt.Printf("ringing %s (%s)\n", resp.Recipient.DisplayName, resp.Call.ID)

	case "notifications":
		resp, err := client.ListNotifications(20)
		exitOnError(err)
		for _, n := range resp.Notifications {
			marker := " "
			if !n.Read {
				marker = "*"
			}
			fmt.Printf("%s %s: %s\n", marker, n.Title, n.Body)
		}

	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: atelier <command> [args]

Commands:
  health                       Server health
  inbox                        List conversations
  open <member-id>             Open a conversation with a member
  read <conversation-id>       Read and mark a conversation
  send <conversation-id> <msg> Send a message
  find <query>                 Search member profiles
  call <member-id> [kind]      Start a voice or video call
  notifications                List notifications

Environment:
  ATELIER_URL    Server base URL (default http://localhost:8080)
  ATELIER_TOKEN  Bearer token (see cmd/token)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
