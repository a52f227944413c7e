package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/model"
	"github.com/capitalize-ai/repochat/internal/session"
	"github.com/capitalize-ai/repochat/internal/tree"
	"github.com/capitalize-ai/repochat/internal/view"
)

const chatHelp = `Commands:
  /new          start a new conversation
  /open <id>    open a past conversation
  /list         list past conversations
  /show         render the open conversation
  /reload       refetch the open conversation
  /quit         exit
Anything else is sent as a question.`

func newChatCmd(a *app) *cobra.Command {
	var repositoryID, conversationID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive chat about a repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := a.client()
			v, err := view.Bootstrap(cmd.Context(), api, repositoryID, conversationID, session.Options{
				IdleTimeout:    a.cfg.StreamIdleTimeout,
				RefetchHistory: a.cfg.RefetchHistory,
			}, a.log)
			if err != nil {
				return err
			}

			renderer, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(100),
			)
			if err != nil {
				renderer = nil
			}

			r := &repl{
				view:     v,
				api:      api,
				out:      cmd.OutOrStdout(),
				renderer: renderer,
				printer:  &streamPrinter{out: cmd.OutOrStdout()},
			}
			v.Controller.Subscribe(r.printer.observe)
			return r.run(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&repositoryID, "repo", "", "processed repository id")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation to reopen")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

// repl drives one chat screen from line-oriented input.
type repl struct {
	view     *view.View
	api      view.API
	out      io.Writer
	renderer *glamour.TermRenderer
	printer  *streamPrinter
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(r.out, "%s\n", r.view.Header)
	if len(r.view.Sidebar) > 0 {
		fmt.Fprintf(r.out, "%d past conversations, /list to show them\n", len(r.view.Sidebar))
	}
	if path := r.view.Controller.ActivePath(); len(path) > 0 {
		r.show(path)
	}
	fmt.Fprintln(r.out, "Type /help for commands.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		done, err := r.handle(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if done || ctx.Err() != nil {
			return nil
		}
	}
}

// handle runs one input line and reports whether the session should end.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	c := r.view.Controller
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false, nil
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/new":
		id := c.NewConversation()
		fmt.Fprintf(r.out, "new conversation %s\n", id)
	case "/open":
		if arg == "" {
			return false, errors.New("usage: /open <conversation id>")
		}
		if err := c.Open(ctx, arg); err != nil {
			return false, err
		}
		r.show(c.ActivePath())
	case "/reload":
		if err := c.Reload(ctx); err != nil {
			return false, err
		}
		r.show(c.ActivePath())
	case "/list":
		summaries, err := r.api.Summaries(ctx)
		if err != nil {
			return false, err
		}
		for _, e := range view.Sidebar(summaries) {
			fmt.Fprintf(r.out, "  %s  %s\n", e.ConversationID, e.Label)
		}
	case "/show":
		r.show(c.ActivePath())
	default:
		return false, r.ask(ctx, line)
	}
	return false, nil
}

func (r *repl) ask(ctx context.Context, text string) error {
	r.printer.begin()
	res, err := r.view.Controller.Send(ctx, text)
	r.printer.end()

	switch {
	case errors.Is(err, apperr.ErrEmptyInput):
		return nil
	case err != nil:
		return err
	case res.Discarded:
		fmt.Fprintln(r.out, "(answer discarded)")
	}
	return nil
}

func (r *repl) show(path []model.Message) {
	md := transcript(path)
	if md == "" {
		fmt.Fprintln(r.out, "(empty conversation)")
		return
	}
	if r.renderer != nil {
		if rendered, err := r.renderer.Render(md); err == nil {
			fmt.Fprint(r.out, rendered)
			return
		}
	}
	fmt.Fprintln(r.out, md)
}

// transcript renders an active path as markdown.
func transcript(path []model.Message) string {
	var b strings.Builder
	for _, m := range path {
		if b.Len() > 0 {
			b.WriteString("\n\n---\n\n")
		}
		switch m.SenderType {
		case model.SenderUser:
			b.WriteString("**You:** ")
		default:
			b.WriteString("**Assistant:** ")
		}
		b.WriteString(m.DisplayText())
		if m.Status == model.StatusFailed {
			b.WriteString("\n\n_(failed)_")
		}
	}
	return b.String()
}

// streamPrinter echoes the growing assistant reply of the exchange in
// progress.
type streamPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	active  bool
	printed int
}

func (p *streamPrinter) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active, p.printed = true, 0
}

func (p *streamPrinter) end() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active && p.printed > 0 {
		fmt.Fprintln(p.out)
	}
	p.active = false
}

func (p *streamPrinter) observe(snap *tree.Tree) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	leaf, ok := snap.Leaf()
	if !ok || leaf.SenderType != model.SenderAssistant {
		return
	}
	text := leaf.DisplayText()
	if len(text) > p.printed {
		fmt.Fprint(p.out, text[p.printed:])
		p.printed = len(text)
	}
}
