package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-im/parley/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(session.SocketPath(sessionName), *jsonFlag)

	switch args[0] {
	case "status":
		c.cmdStatus()
	case "signup":
		if len(args) != 4 {
			die("usage: parleyctl signup <name> <phone> <password>")
		}
		c.post("/v1/auth/signup", map[string]string{"name": args[1], "phone": args[2], "password": args[3]})
	case "signin":
		if len(args) != 3 {
			die("usage: parleyctl signin <phone> <password>")
		}
		c.post("/v1/auth/signin", map[string]string{"phone": args[1], "password": args[2]})
	case "signout":
		c.post("/v1/auth/signout", nil)
	case "me":
		c.get("/v1/me")
	case "contacts":
		c.get("/v1/contacts")
	case "chats":
		c.cmdChats()
	case "chat":
		if len(args) != 2 {
			die("usage: parleyctl chat <peer-id>")
		}
		c.post("/v1/chats", map[string]string{"peer_id": args[1]})
	case "send":
		if len(args) < 3 {
			die("usage: parleyctl send <chat-id> <text...>")
		}
		c.post("/v1/chats/"+args[1]+"/messages", map[string]string{
			"body": strings.Join(args[2:], " "), "type": "text",
		})
	case "messages":
		if len(args) != 2 {
			die("usage: parleyctl messages <chat-id>")
		}
		c.get("/v1/chats/" + args[1] + "/messages")
	case "read":
		if len(args) != 2 {
			die("usage: parleyctl read <chat-id>")
		}
		c.post("/v1/chats/"+args[1]+"/read", nil)
	case "retry":
		if len(args) != 2 {
			die("usage: parleyctl retry <message-id>")
		}
		c.post("/v1/messages/"+args[1]+"/retry", nil)
	case "search":
		if len(args) < 2 {
			die("usage: parleyctl search <query> [chat-id]")
		}
		path := "/v1/search?q=" + args[1]
		if len(args) > 2 {
			path += "&chat_id=" + args[2]
		}
		c.get(path)
	case "statuses":
		feed := "recent"
		if len(args) > 1 {
			feed = args[1]
		}
		c.get("/v1/statuses?feed=" + feed)
	case "post-status":
		if len(args) < 2 {
			die("usage: parleyctl post-status <caption...>")
		}
		c.post("/v1/statuses", map[string]string{
			"type": "text", "caption": strings.Join(args[1:], " "),
		})
	case "watch":
		topics := ""
		if len(args) > 1 {
			topics = args[1]
		}
		c.cmdWatch(topics)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: parleyctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                           Show daemon and account status")
	fmt.Fprintln(os.Stderr, "  signup <name> <phone> <pass>     Register an account")
	fmt.Fprintln(os.Stderr, "  signin <phone> <pass>            Sign in")
	fmt.Fprintln(os.Stderr, "  signout                          Sign out")
	fmt.Fprintln(os.Stderr, "  me                               Show profile")
	fmt.Fprintln(os.Stderr, "  contacts                         List contacts")
	fmt.Fprintln(os.Stderr, "  chats                            List chats")
	fmt.Fprintln(os.Stderr, "  chat <peer-id>                   Open (or create) a chat with a contact")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text...>         Send a text message")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>               List a chat's messages")
	fmt.Fprintln(os.Stderr, "  read <chat-id>                   Mark a chat as read")
	fmt.Fprintln(os.Stderr, "  retry <message-id>               Retry a failed send")
	fmt.Fprintln(os.Stderr, "  search <query> [chat-id]         Full-text search messages")
	fmt.Fprintln(os.Stderr, "  statuses [mine|recent|viewed]    List status broadcasts")
	fmt.Fprintln(os.Stderr, "  post-status <caption...>         Post a text status")
	fmt.Fprintln(os.Stderr, "  watch [topics]                   Stream daemon events")
}

func die(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

// client talks HTTP over the session's unix socket.
type client struct {
	http       *http.Client
	socketPath string
	jsonOut    bool
}

func newClient(socketPath string, jsonOut bool) *client {
	return &client{
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
				},
			},
		},
		socketPath: socketPath,
		jsonOut:    jsonOut,
	}
}

func (c *client) get(path string) {
	resp, err := c.http.Get("http://unix" + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon (%s): %v\n", c.socketPath, err)
		os.Exit(1)
	}
	c.render(resp)
}

func (c *client) post(path string, body any) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	resp, err := c.http.Post("http://unix"+path, "application/json", &buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon (%s): %v\n", c.socketPath, err)
		os.Exit(1)
	}
	c.render(resp)
}

func (c *client) render(resp *http.Response) {
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "error (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(data)))
		os.Exit(1)
	}
	if c.jsonOut {
		fmt.Println(string(data))
		return
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
		return
	}
	fmt.Println(string(data))
}

func (c *client) cmdStatus() {
	resp, err := c.http.Get("http://unix/healthz")
	if err != nil {
		fmt.Printf("daemon:  not running (%s)\n", c.socketPath)
		os.Exit(1)
	}
	_ = resp.Body.Close()
	fmt.Println("daemon:  running")

	resp, err = c.http.Get("http://unix/v1/me")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusUnauthorized {
		fmt.Println("account: signed out")
		return
	}
	var me struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&me)
	fmt.Printf("account: %s (%s)\n", me.Name, me.Phone)
}

func (c *client) cmdChats() {
	if c.jsonOut {
		c.get("/v1/chats")
		return
	}
	resp, err := c.http.Get("http://unix/v1/chats")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon (%s): %v\n", c.socketPath, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	var out struct {
		Chats []struct {
			ID              string `json:"id"`
			LastMessageBody string `json:"last_message_body"`
			LastMessageAt   int64  `json:"last_message_at"`
		} `json:"chats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(out.Chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, ch := range out.Chats {
		at := ""
		if ch.LastMessageAt > 0 {
			at = time.UnixMilli(ch.LastMessageAt).Format("Jan 2 15:04")
		}
		fmt.Printf("%-34s %-12s %s\n", ch.ID, at, ch.LastMessageBody)
	}
}

func (c *client) cmdWatch(topics string) {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", c.socketPath)
		},
	}
	url := "ws://unix/v1/watch"
	if topics != "" {
		url += "?topics=" + topics
	}
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon (%s): %v\n", c.socketPath, err)
		os.Exit(1)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fmt.Println(string(data))
	}
}
