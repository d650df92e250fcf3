package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thinkscotty/artichat/internal/models"
	"github.com/thinkscotty/artichat/internal/pipeline"
	"github.com/thinkscotty/artichat/internal/session"
)

var speak bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat interactively on the terminal",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&speak, "speak", false, "Echo finished text responses to the speech sink")
}

// printer serialises terminal output from the REPL and pipeline hooks.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	sess  *session.Controller
	shown map[int]string
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) hooks() pipeline.Hooks {
	h := pipeline.Hooks{
		OnStageChanged: func(id int, stage models.Stage) {
			if stage == models.StageDone || stage == models.StageError {
				return
			}
			p.printf("  #%d %s\n", id, stage.Progress())
		},
		OnScrollToEnd: p.showFinished,
	}
	if speak {
		h.OnSpeak = func(text string) { p.printf("[speak] %s\n", text) }
	}
	return h
}

// showFinished prints Ai entries whose response has not been shown yet.
func (p *printer) showFinished() {
	if p.sess == nil {
		return
	}
	entries := p.sess.Entries()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		if e.Source != models.SourceAi || e.Pending() {
			continue
		}
		if text := e.Text(); p.shown[e.ID] != text {
			p.shown[e.ID] = text
			fmt.Fprintln(p.out, formatEntry(e))
		}
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := &printer{out: cmd.OutOrStdout(), shown: make(map[int]string)}
	sess, kv, err := openSession(p.hooks(), nil)
	if err != nil {
		return err
	}
	defer kv.Close()
	p.sess = sess

	if err := sess.Start(); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sess.Close(closeCtx)
	}()

	for _, e := range sess.Entries() {
		if !e.Pending() {
			p.shown[e.ID] = e.Text()
		}
	}
	p.printf("%s\n", welcome(sess.Status()))

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				waitIdle(ctx, sess)
				p.showFinished()
				return nil
			}
			if quit := handleLine(p, sess, line); quit {
				return nil
			}
		}
	}
}

// handleLine runs one REPL line and reports whether to quit.
func handleLine(p *printer, sess *session.Controller, line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		if _, ok := sess.Submit(line); ok {
			p.printf("  %s\n", models.StageInit.Progress())
		}
		return false
	}

	fields := strings.Fields(line)
	arg := -1
	if len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			p.printf("not a message number: %s\n", fields[1])
			return false
		}
		arg = n
	}

	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/history":
		for _, e := range sess.Entries() {
			p.printf("%s\n", formatEntry(e))
		}
	case "/pin":
		if !sess.TogglePin(arg) {
			p.printf("no message #%d\n", arg)
		}
	case "/delete":
		if !sess.Delete(arg) {
			p.printf("no message #%d\n", arg)
		}
	case "/regen":
		if _, err := sess.Regenerate(arg); err != nil {
			p.printf("%s\n", err)
		}
	case "/text":
		if err := sess.RejectImage(arg); err != nil {
			p.printf("%s\n", err)
		}
	case "/clear":
		sess.Clear()
		p.printf("conversation cleared (pinned messages kept)\n")
	case "/trial":
		p.printf("%s\n", welcome(sess.Status()))
	default:
		p.printf("commands: /history /pin N /delete N /regen [N] /text N /clear /trial /quit\n")
	}
	return false
}

// waitIdle blocks until no Ai entry is pending.
func waitIdle(ctx context.Context, sess *session.Controller) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		pending := false
		for _, e := range sess.Entries() {
			if e.Source == models.SourceAi && e.Pending() {
				pending = true
				break
			}
		}
		if !pending {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func welcome(st models.TrialStatus) string {
	switch {
	case st.HasCredential:
		return "Using your API key."
	case st.HasFallback:
		return "Using the built-in API key."
	case st.Remaining > 0:
		return fmt.Sprintf("Free trial: %d of %d requests left. Add your own key with `artichat settings --api-key`.", st.Remaining, st.Limit)
	default:
		return "The free trial is used up. Add your own key with `artichat settings --api-key`."
	}
}

func formatEntry(e session.Entry) string {
	pin := ""
	if e.Pinned {
		pin = "*"
	}
	if e.Source == models.SourceHuman {
		return fmt.Sprintf("#%d%s you: %s", e.ID, pin, e.Text())
	}
	if e.Pending() {
		return fmt.Sprintf("#%d%s ai: %s", e.ID, pin, e.Stage.Progress())
	}
	switch e.ContentKind {
	case models.ContentImage:
		return fmt.Sprintf("#%d%s ai [image: %s]\n%s", e.ID, pin, e.ImagePrompt, strings.Join(e.Responses, "\n"))
	case models.ContentError:
		return fmt.Sprintf("#%d%s ai [error]: %s", e.ID, pin, e.Text())
	default:
		return fmt.Sprintf("#%d%s ai: %s", e.ID, pin, e.Text())
	}
}
