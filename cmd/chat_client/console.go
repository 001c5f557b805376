package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"chat_sync_service/internal/chat/app"
	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

const helpText = `commands:
  /open <user-id>                  開啟對話
  /close                           關閉目前對話
  /send <user-id> <role> <text>    傳給指定的人
  /read [user-id]                  標記已讀, 未給時為目前對話
  /history [user-id]               重新抓取歷史
  /list                            對話列表
  /retry                           連線中斷後重新連線
  /quit                            離開
其他輸入會直接送到目前開啟的對話`

// command 解析後的一行輸入
type command struct {
	name string
	args []string
	text string
}

// parseCommand "/send 42 teacher hi there" -> {send, [42 teacher], "hi there"}
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{name: "say", text: line}, nil
	}

	fields := strings.Fields(line)
	cmd := command{name: strings.TrimPrefix(fields[0], "/")}
	rest := fields[1:]
	switch cmd.name {
	case "open":
		if len(rest) != 1 {
			return cmd, errors.New("usage: /open <user-id>")
		}
		cmd.args = rest
	case "send":
		if len(rest) < 3 {
			return cmd, errors.New("usage: /send <user-id> <role> <text>")
		}
		cmd.args = rest[:2]
		cmd.text = strings.Join(rest[2:], " ")
	case "read", "history":
		if len(rest) > 1 {
			return cmd, fmt.Errorf("usage: /%s [user-id]", cmd.name)
		}
		cmd.args = rest
	case "close", "list", "retry", "quit", "help":
		if len(rest) != 0 {
			return cmd, fmt.Errorf("usage: /%s", cmd.name)
		}
	default:
		return cmd, fmt.Errorf("unknown command /%s", cmd.name)
	}
	return cmd, nil
}

// console 終端機介面, 讀 stdin 轉成 engine intent, 並印出新的狀態
type console struct {
	engine *app.Engine
	in     io.Reader
	out    io.Writer

	mu        sync.Mutex
	seen      map[string]bool
	connected bool
	down      bool
}

func newConsole(engine *app.Engine, in io.Reader, out io.Writer) *console {
	return &console{
		engine: engine,
		in:     in,
		out:    out,
		seen:   make(map[string]bool),
	}
}

// run 讀到 EOF, /quit 或 ctx 結束為止
func (c *console) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	c.printf("%s\n", helpText)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				c.printf("! %v\n", err)
				continue
			}
			if cmd.name == "quit" {
				return nil
			}
			if err := c.exec(cmd); err != nil {
				c.printf("! %v\n", err)
			}
		}
	}
}

func (c *console) exec(cmd command) error {
	switch cmd.name {
	case "say":
		// 輸入變動也是 typing 訊號
		if err := c.engine.InputChanged(); err != nil && !errors.Is(err, domain.ErrNoActiveConversation) {
			logger.Log.Debug("typing signal", zap.Error(err))
		}
		_, err := c.engine.Send(app.SendRequest{Body: cmd.text})
		return err
	case "send":
		_, err := c.engine.Send(app.SendRequest{ReceiverID: cmd.args[0], ReceiverRole: cmd.args[1], Body: cmd.text})
		return err
	case "open":
		if err := c.engine.OpenConversation(cmd.args[0]); err != nil {
			return err
		}
		for _, m := range c.engine.Thread(cmd.args[0]) {
			c.printMessage(m)
		}
		return nil
	case "close":
		c.engine.CloseConversation()
		return nil
	case "read":
		return c.engine.MarkAsRead(optional(cmd.args))
	case "history":
		target := optional(cmd.args)
		if target == "" {
			target = c.engine.Snapshot().Active
		}
		if target == "" {
			return domain.ErrNoActiveConversation
		}
		return c.engine.RequestHistory(target)
	case "list":
		printSummary(c.out, c.engine.Snapshot())
		return nil
	case "retry":
		return c.engine.Retry()
	case "help":
		c.printf("%s\n", helpText)
		return nil
	}
	return fmt.Errorf("unknown command /%s", cmd.name)
}

// onSnapshot 只印連線變化與目前對話中新出現的訊息
func (c *console) onSnapshot(snap domain.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.Connected != c.connected {
		c.connected = snap.Connected
		if snap.Connected {
			fmt.Fprintln(c.out, "* connected")
		} else {
			fmt.Fprintln(c.out, "* disconnected, reconnecting")
		}
	}
	if snap.Down && !c.down {
		fmt.Fprintf(c.out, "* connection down: %s, type /retry\n", snap.LastError)
	}
	c.down = snap.Down

	if snap.Active == "" {
		return
	}
	for _, m := range snap.Messages {
		if m.Counterpart(snap.Identity.UserID) != snap.Active {
			continue
		}
		key := messageKey(m)
		if c.seen[key] {
			continue
		}
		c.seen[key] = true
		// 自己的訊息在樂觀送出時已印過, server 確認的副本不重印
		if !m.Optimistic() && m.SenderID == snap.Identity.UserID {
			continue
		}
		writeMessage(c.out, m)
	}
	for _, t := range snap.Typing {
		if t.UserID == snap.Active && t.IsTyping {
			fmt.Fprintf(c.out, "  (%s is typing...)\n", t.UserID)
		}
	}
}

func (c *console) printMessage(m domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[messageKey(m)] = true
	writeMessage(c.out, m)
}

func (c *console) printf(format string, a ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, a...)
}

func messageKey(m domain.Message) string {
	if m.Optimistic() {
		return "ref:" + m.ClientRef
	}
	return fmt.Sprintf("id:%d", m.ID)
}

func writeMessage(w io.Writer, m domain.Message) {
	name := m.SenderName
	if name == "" {
		name = m.SenderID
	}
	fmt.Fprintf(w, "[%s] %s: %s (%s)\n", m.Timestamp.Local().Format("15:04"), name, m.Body, m.Status)
}

// printSummary 對話列表, 最新的在前
func printSummary(w io.Writer, snap domain.Snapshot) {
	state := "offline"
	switch {
	case snap.Connected:
		state = "online"
	case snap.Down:
		state = "down"
	}
	fmt.Fprintf(w, "== %s (%s) v%d, %d unread\n", snap.Identity.Username, state, snap.Version, snap.Unread)
	for _, conv := range snap.Conversations {
		dot := " "
		if conv.IsOnline {
			dot = "*"
		}
		active := ""
		if conv.UserID == snap.Active {
			active = " <"
		}
		fmt.Fprintf(w, "%s %-12s %-8s %3d  %s%s\n", dot, conv.Username, conv.Role, conv.UnreadCount, conv.LastMessage, active)
	}
}

func optional(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
