package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"chatwrap/chat"
	"chatwrap/model"
	"chatwrap/plugin"
	"chatwrap/plugins/templates"
	"chatwrap/plugins/translator"
)

var (
	noStream bool
	width    int
)

func init() {
	rootCmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for complete replies instead of streaming them")
	rootCmd.Flags().IntVar(&width, "width", defaultWidth, "Wrap rendered replies at this many columns")
}

func runChat(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if metricsAddr != "" {
			a.serveMetrics(metricsAddr)
		}
		r := newREPL(a, cmd.OutOrStdout())
		r.stream = !noStream
		r.width = width
		return r.run(ctx, cmd.InOrStdin())
	})
}

// repl is the interactive loop. Lines starting with a known slash command
// are handled locally; everything else, including "/template ...", is sent
// to the model through the plugin pipeline.
type repl struct {
	store      *chat.Store
	plugins    *plugin.Manager
	templates  *templates.Plugin
	translator *translator.Plugin
	out        io.Writer

	stream bool
	width  int
	copy   func(string) error

	commands []command
}

type command struct {
	name  string
	usage string
	help  string
	run   func(ctx context.Context, arg string) (quit bool, err error)
}

func newREPL(a *app, out io.Writer) *repl {
	r := &repl{
		store:      a.store,
		plugins:    a.plugins,
		templates:  a.templates,
		translator: a.translator,
		out:        out,
		stream:     true,
		width:      defaultWidth,
		copy:       clipboard.WriteAll,
	}
	r.commands = r.commandTable()
	return r
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.banner()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var pending []string
	for {
		if len(pending) == 0 {
			fmt.Fprint(r.out, userStyle.Render("> "))
		}
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}

		// A trailing backslash continues the message on the next line.
		line := scanner.Text()
		if strings.HasSuffix(line, `\`) {
			pending = append(pending, strings.TrimSuffix(line, `\`))
			continue
		}
		pending = append(pending, line)
		input := strings.TrimSpace(strings.Join(pending, "\n"))
		pending = pending[:0]
		if input == "" {
			continue
		}

		quit, err := r.handle(ctx, input)
		if err != nil {
			printError(r.out, err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) banner() {
	session := r.store.Session()
	thread, _ := r.store.ActiveThread()
	fmt.Fprintln(r.out, titleStyle.Render("chatwrap")+" "+idStyle.Render(session.ID))
	printInfo(r.out, "Thread %q with %d messages. Type /help for commands.", thread.Title, len(thread.Messages))
}

func (r *repl) handle(ctx context.Context, input string) (bool, error) {
	if name, arg, ok := splitCommand(input); ok {
		if c := r.lookup(name); c != nil {
			return c.run(ctx, arg)
		}
	}
	return false, r.send(ctx, input)
}

func (r *repl) lookup(name string) *command {
	for i := range r.commands {
		if r.commands[i].name == name {
			return &r.commands[i]
		}
	}
	return nil
}

// splitCommand splits "/name rest" into name and rest.
func splitCommand(input string) (name, arg string, ok bool) {
	if !strings.HasPrefix(input, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(input[1:], " ")
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

func (r *repl) send(ctx context.Context, content string) error {
	if !r.stream {
		reply, err := r.store.SendMessage(ctx, content, model.SendOptions{})
		if err != nil {
			return err
		}
		r.printMessage(*reply)
		return nil
	}

	fmt.Fprintln(r.out, roleLabel(model.RoleAssistant))
	var streamed strings.Builder
	reply, err := r.store.SendMessageStream(ctx, content, model.SendOptions{}, func(chunk string) {
		streamed.WriteString(chunk)
		fmt.Fprint(r.out, chunk)
	})
	fmt.Fprintln(r.out)
	if err != nil {
		return err
	}
	r.afterStream(*reply, streamed.String())
	return nil
}

// afterStream reprints the reply when after-receive plugins changed it.
func (r *repl) afterStream(reply model.Message, streamed string) {
	if reply.Content != streamed {
		fmt.Fprintln(r.out, renderMarkdown(reply.Content, r.width))
	}
}

func (r *repl) printMessage(msg model.Message) {
	fmt.Fprintln(r.out, roleLabel(msg.Role))
	if msg.Role == model.RoleAssistant {
		fmt.Fprintln(r.out, renderMarkdown(msg.Content, r.width))
	} else {
		fmt.Fprintln(r.out, msg.Content)
	}
}

// lastAssistant returns the newest assistant message in the active thread.
func (r *repl) lastAssistant() (model.Message, bool) {
	thread, ok := r.store.ActiveThread()
	if !ok {
		return model.Message{}, false
	}
	for i := len(thread.Messages) - 1; i >= 0; i-- {
		if thread.Messages[i].Role == model.RoleAssistant {
			return thread.Messages[i], true
		}
	}
	return model.Message{}, false
}
