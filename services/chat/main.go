// Terminal chat client. Connects to the dev backend as one user and
// exercises the full messaging core: optimistic sends, the live channel,
// typing and read markers.
//
//	go run ./services/chat -user trainer-1 -to client-7
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/coachchat/internal/api"
	"github.com/coachchat/internal/chat"
	"github.com/coachchat/internal/config"
	"github.com/coachchat/internal/logger"
	"github.com/coachchat/internal/model"
	"github.com/coachchat/internal/storage"
	filestorage "github.com/coachchat/internal/storage/file"
	memorystorage "github.com/coachchat/internal/storage/memory"
	redisstorage "github.com/coachchat/internal/storage/redis"
	"github.com/coachchat/internal/transport"
)

func main() {
	logger.SetPrefix("chat")
	user := flag.String("user", "", "authenticated user id (required)")
	to := flag.String("to", "", "initial counterpart id")
	offline := flag.Bool("offline", false, "skip the WebSocket channel; sends persist via the API only")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -user <id> [-to <id>] [-offline]")
		os.Exit(1)
	}

	cfg := config.Load()
	ctx := context.Background()

	markers, err := openMarkerStore(ctx, cfg)
	if err != nil {
		logger.Errorf("marker store: %v", err)
		os.Exit(1)
	}
	defer markers.Close()

	var channel *transport.Client
	if !*offline {
		channel, err = transport.Dial(ctx, cfg.Client.WSURL, *user)
		if err != nil {
			logger.Errorf("connect %s: %v", cfg.Client.WSURL, err)
			os.Exit(1)
		}
		chCtx, chCancel := context.WithCancel(ctx)
		channel.Start(chCtx, chCancel)
	}

	svc, err := chat.NewService(ctx, chat.Options{
		AuthUserID:   *user,
		API:          api.NewClient(cfg.Client.APIBaseURL, *user),
		Channel:      channel,
		Markers:      markers,
		TypingWindow: cfg.Client.TypingTimeout,
		CacheTTL:     cfg.Client.CacheTTL,
	})
	if err != nil {
		logger.Errorf("service: %v", err)
		os.Exit(1)
	}
	defer svc.Close()

	svc.Store().Subscribe(func(ev chat.StoreEvent) {
		switch ev.Kind {
		case chat.EventMessageReceived:
			fmt.Printf("\r<%s> %s\n> ", ev.Message.SenderID, ev.Message.Content)
		case chat.EventMessageFailed:
			fmt.Printf("\r[send failed, /retry %s or /drop %s]\n> ", ev.Message.ClientRef, ev.Message.ClientRef)
		}
	})

	if err := svc.Sync(ctx); err != nil {
		logger.Errorf("sync: %v", err)
		os.Exit(1)
	}
	printConversations(svc)

	counterpart := *to
	if counterpart != "" {
		openConversation(ctx, svc, counterpart)
	}

	fmt.Println(`commands: /to <id>  /list  /read  /retry <ref>  /drop <ref>  /react <msg-id> <emoji>  /quit`)
	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/list":
			printConversations(svc)
		case line == "/read":
			if counterpart != "" {
				if err := svc.MarkRead(ctx, counterpart); err != nil {
					fmt.Println("mark read:", err)
				}
			}
		case strings.HasPrefix(line, "/to "):
			counterpart = strings.TrimSpace(strings.TrimPrefix(line, "/to "))
			openConversation(ctx, svc, counterpart)
		case strings.HasPrefix(line, "/retry "):
			ref := strings.TrimSpace(strings.TrimPrefix(line, "/retry "))
			if !svc.Retry(counterpart, ref) {
				fmt.Println("no failed message with that ref")
			}
		case strings.HasPrefix(line, "/drop "):
			ref := strings.TrimSpace(strings.TrimPrefix(line, "/drop "))
			if !svc.Discard(counterpart, ref) {
				fmt.Println("no failed message with that ref")
			}
		case strings.HasPrefix(line, "/react "):
			parts := strings.Fields(strings.TrimPrefix(line, "/react "))
			if len(parts) != 2 {
				fmt.Println("usage: /react <msg-id> <emoji>")
				break
			}
			if err := svc.React(ctx, parts[0], parts[1], true); err != nil {
				fmt.Println("react:", err)
			}
		default:
			if counterpart == "" {
				fmt.Println("pick a counterpart first: /to <id>")
				break
			}
			svc.NotifyTyping(counterpart, false)
			svc.Send(chat.SendRequest{ReceiverID: counterpart, Content: line, Type: model.MessageTypeText})
		}
		fmt.Print("> ")
	}
}

func openMarkerStore(ctx context.Context, cfg *config.Config) (storage.MarkerStore, error) {
	switch cfg.Client.MarkerBackend {
	case "redis":
		return redisstorage.New(ctx, cfg.Redis.URL)
	case "memory":
		return memorystorage.New(), nil
	default:
		return filestorage.New(cfg.Client.MarkerDir)
	}
}

func openConversation(ctx context.Context, svc *chat.Service, counterpartID string) {
	msgs, err := svc.Open(ctx, counterpartID)
	if err != nil {
		fmt.Println("open:", err)
		return
	}
	fmt.Printf("--- %s (%d messages) ---\n", counterpartID, len(msgs))
	for _, m := range msgs {
		fmt.Printf("<%s> %s\n", m.SenderID, m.Content)
	}
}

func printConversations(svc *chat.Service) {
	convs := svc.Index().All()
	if len(convs) == 0 {
		fmt.Println("no conversations yet")
		return
	}
	for _, c := range convs {
		marker := " "
		if svc.HasUnread(c.CounterpartID) {
			marker = "*"
		}
		last := ""
		if c.LastMessage != nil {
			last = c.LastMessage.Content
		}
		fmt.Printf("%s %-20s %s\n", marker, c.CounterpartID, last)
	}
}
