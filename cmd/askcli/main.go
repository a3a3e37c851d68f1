package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/ent0n29/gbu-assistant/internal/protocol"
)

type options struct {
	baseURL     string
	factsPath   string
	questions   []string
	turnTimeout time.Duration
	verbose     bool
}

var (
	systemColor = color.New(color.FgYellow)
	answerColor = color.New(color.FgGreen)
	errorColor  = color.New(color.FgRed)
	promptColor = color.New(color.FgCyan, color.Bold)
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "askcli: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "askcli: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := pflag.NewFlagSet("askcli", pflag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "assistant base URL")
	fs.StringVar(&cfg.factsPath, "facts", "", "file with one fact per line to upsert before chatting")
	fs.StringArrayVarP(&cfg.questions, "ask", "q", nil, "ask a question and exit (repeatable)")
	fs.DurationVar(&cfg.turnTimeout, "turn-timeout", 90*time.Second, "time to wait for each answer")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "print connection details")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turnTimeout < time.Second {
		cfg.turnTimeout = time.Second
	}
	return cfg, nil
}

func run(cfg options, in io.Reader, out io.Writer) error {
	ctx := context.Background()
	httpClient := &http.Client{Timeout: 60 * time.Second}

	if cfg.factsPath != "" {
		facts, err := readFacts(cfg.factsPath)
		if err != nil {
			return err
		}
		n, err := upsertFacts(ctx, httpClient, cfg.baseURL, facts)
		if err != nil {
			return fmt.Errorf("upsert facts: %w", err)
		}
		systemColor.Fprintf(out, "uploaded %d facts\n", n)
	}

	wsURL, err := chatWSURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	var hello protocol.Connected
	_ = conn.SetReadDeadline(time.Now().Add(cfg.turnTimeout))
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read connected event: %w", err)
	}
	if cfg.verbose {
		systemColor.Fprintf(out, "connected to %s (session %s)\n", wsURL, hello.SessionKey)
	}
	if !hello.RAGOnline {
		errorColor.Fprintln(out, hello.Msg)
	}

	ask := func(frame []byte) error {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("ws write: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(cfg.turnTimeout))
		var reply protocol.RAGResponse
		if err := conn.ReadJSON(&reply); err != nil {
			return fmt.Errorf("ws read: %w", err)
		}
		printReply(out, reply)
		return nil
	}

	if len(cfg.questions) > 0 {
		for _, q := range cfg.questions {
			if err := ask([]byte(q)); err != nil {
				return err
			}
		}
		return nil
	}

	systemColor.Fprintln(out, "type a question, /off to clear memory, /quit to exit")
	scanner := bufio.NewScanner(in)
	for {
		promptColor.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		frame, quit := frameForLine(scanner.Text())
		if quit {
			break
		}
		if frame == nil {
			continue
		}
		if err := ask(frame); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}

// frameForLine maps one line of user input to a websocket frame. A nil
// frame means there is nothing to send.
func frameForLine(line string) (frame []byte, quit bool) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return nil, false
	case "/quit", "/exit":
		return nil, true
	case "/off":
		raw, _ := json.Marshal(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionMemoryOff})
		return raw, false
	default:
		raw, _ := json.Marshal(protocol.ClientQuery{Type: protocol.TypeClientQuery, Query: line})
		return raw, false
	}
}

func printReply(out io.Writer, reply protocol.RAGResponse) {
	if reply.Status != protocol.StatusSuccess {
		msg := reply.Error
		if msg == "" {
			msg = "request failed"
		}
		errorColor.Fprintf(out, "error: %s\n", msg)
		return
	}
	answerColor.Fprintln(out, reply.Data)
}

func readFacts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open facts file: %w", err)
	}
	defer f.Close()

	var facts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		facts = append(facts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read facts file: %w", err)
	}
	if len(facts) == 0 {
		return nil, fmt.Errorf("facts file %s has no facts", path)
	}
	return facts, nil
}

func upsertFacts(ctx context.Context, client *http.Client, baseURL string, facts []string) (int, error) {
	payload, err := json.Marshal(map[string][]string{"facts": facts})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/upsertFacts", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return 0, err
	}
	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Response struct {
			Upserted int `json:"upserted"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, err
	}
	return out.Response.Upserted, nil
}

func chatWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	return u.String(), nil
}
