// Command tail follows a conversation from the terminal. It registers the
// given identity, subscribes to the conversation's messages over the
// websocket and prints each message once as the live window changes.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-convo/internal/api"
	"github.com/npezzotti/go-convo/internal/chat"
	"github.com/npezzotti/go-convo/internal/config"
	"github.com/npezzotti/go-convo/internal/server"
	"github.com/npezzotti/go-convo/internal/timeline"
	"github.com/npezzotti/go-convo/internal/types"
)

const heartbeatInterval = 30 * time.Second

var (
	addr           string
	signingKey     string
	subject        string
	name           string
	conversationId int
	historyPages   int
)

type follower struct {
	log     *log.Logger
	baseURL string
	token   string
	tl      *timeline.Timeline
	printed map[int]bool
}

func main() {
	logger := log.New(os.Stderr, "[go-convo-tail] ", log.LstdFlags)

	if err := config.LoadEnv(".env"); err != nil {
		logger.Fatal("load env:", err)
	}

	flag.StringVar(&addr, "addr", config.Getenv("GOCONVO_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&signingKey, "signing-key", config.Getenv("GOCONVO_SIGNING_KEY", ""), "base64 encoded identity token signing key")
	flag.StringVar(&subject, "subject", "", "identity subject to connect as")
	flag.StringVar(&name, "name", "", "display name for the identity")
	flag.IntVar(&conversationId, "conversation", 0, "conversation to follow")
	flag.IntVar(&historyPages, "history", 0, "number of older pages to load before following")
	flag.Parse()

	if subject == "" || conversationId <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	key, err := config.DecodeSigningSecret(signingKey)
	if err != nil {
		logger.Fatal("signing key:", err)
	}

	token, err := api.CreateIdentityToken(key, chat.Identity{Subject: subject, Name: name}, 24*time.Hour)
	if err != nil {
		logger.Fatal("create token:", err)
	}

	f := &follower{
		log:     logger,
		baseURL: "http://" + addr,
		token:   token,
		tl:      timeline.New(),
		printed: make(map[int]bool),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := f.register(ctx); err != nil {
		logger.Fatal("register:", err)
	}

	if err := f.follow(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("follow:", err)
	}
}

func (f *follower) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr api.ApiError
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Message)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (f *follower) register(ctx context.Context) error {
	var u types.User
	if err := f.do(ctx, http.MethodPost, "/api/users", chat.CreateUserRequest{
		ExternalId: subject,
		Name:       name,
	}, &u); err != nil {
		return err
	}
	f.log.Printf("connected as %s (user %d)", u.Name, u.Id)
	return nil
}

// loadHistory walks continue cursors backwards from the page the live
// window started at.
func (f *follower) loadHistory(ctx context.Context, cursor *string) error {
	for i := 0; i < historyPages && cursor != nil; i++ {
		q := url.Values{"cursor": {*cursor}}
		var page types.MessagePage
		path := "/api/conversations/" + strconv.Itoa(conversationId) + "/messages?" + q.Encode()
		if err := f.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return err
		}
		f.tl.PrependOlder(page.Messages)
		cursor = page.ContinueCursor
	}
	return nil
}

func (f *follower) follow(ctx context.Context) error {
	header := http.Header{"Authorization": {"Bearer " + f.token}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+"/ws", header)
	if err != nil {
		return err
	}
	defer conn.Close()

	args, _ := json.Marshal(map[string]int{"conversation_id": conversationId})
	if err := conn.WriteJSON(server.ClientMessage{
		BaseMessage: server.BaseMessage{Id: 1, Timestamp: server.Now()},
		Subscribe:   &server.Subscribe{Query: "getMessages", Args: args},
	}); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				conn.Close()
				return
			case <-ticker.C:
				conn.WriteJSON(server.ClientMessage{
					BaseMessage: server.BaseMessage{Timestamp: server.Now()},
					Heartbeat:   &server.Heartbeat{},
				})
			}
		}
	}()

	initial := true
	for {
		var msg server.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch {
		case msg.Response != nil:
			if msg.Response.ResponseCode >= http.StatusBadRequest {
				return fmt.Errorf("server: %d %s", msg.Response.ResponseCode, msg.Response.Error)
			}
		case msg.Update != nil:
			var page *types.MessagePage
			if err := json.Unmarshal(msg.Update.Result, &page); err != nil {
				f.log.Println("decode update:", err)
				continue
			}
			if page == nil {
				return fmt.Errorf("conversation %d is not accessible", conversationId)
			}

			f.tl.SetTail(page.Messages)
			if initial {
				if err := f.loadHistory(ctx, page.ContinueCursor); err != nil {
					f.log.Println("load history:", err)
				}
			}
			f.print()
			initial = false
		}
	}
}

func (f *follower) print() {
	for _, m := range f.tl.Messages() {
		if f.printed[m.Id] {
			continue
		}
		f.printed[m.Id] = true
		content := m.Content
		if m.Deleted {
			content = "(deleted)"
		}
		fmt.Printf("%s  #%d user %d: %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.Id, m.SenderId, content)
	}
}
