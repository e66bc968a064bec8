package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"chatwrap/model"
	"chatwrap/plugins/translator"
)

var errUsage = errors.New("usage")

func usageErr(c string) error {
	return fmt.Errorf("%w: %s", errUsage, c)
}

func (r *repl) commandTable() []command {
	return []command{
		{"help", "/help", "Show this help", r.cmdHelp},
		{"new", "/new [title]", "Start a new thread", r.cmdNew},
		{"threads", "/threads", "List threads in this session", r.cmdThreads},
		{"switch", "/switch <n|id>", "Switch to a thread", r.cmdSwitch},
		{"rename", "/rename <title>", "Rename the active thread", r.cmdRename},
		{"archive", "/archive", "Archive the active thread", r.cmdArchive},
		{"unarchive", "/unarchive", "Unarchive the active thread", r.cmdUnarchive},
		{"tag", "/tag <tag>", "Tag the active thread", r.cmdTag},
		{"untag", "/untag <tag>", "Remove a tag from the active thread", r.cmdUntag},
		{"delete-thread", "/delete-thread [n|id]", "Delete a thread (default: active)", r.cmdDeleteThread},
		{"history", "/history [n]", "Show the last n messages", r.cmdHistory},
		{"edit", "/edit <n> <text>", "Replace the text of message n", r.cmdEdit},
		{"delete", "/delete <n>", "Delete message n", r.cmdDelete},
		{"regen", "/regen", "Regenerate the last reply", r.cmdRegen},
		{"clear", "/clear", "Remove every message from the active thread", r.cmdClear},
		{"set", "/set <key> <value>", "Change a chat setting", r.cmdSet},
		{"settings", "/settings", "Show chat settings", r.cmdSettings},
		{"search", "/search <query>", "Search messages in this session", r.cmdSearch},
		{"search-all", "/search-all <query>", "Search messages in every session", r.cmdSearchAll},
		{"sessions", "/sessions", "List stored sessions", r.cmdSessions},
		{"session", "/session new|load <id>|delete <id>", "Manage sessions", r.cmdSession},
		{"save", "/save", "Save the session now", r.cmdSave},
		{"plugins", "/plugins", "List plugins", r.cmdPlugins},
		{"plugin", "/plugin enable|disable <id> | set <id> <key> <value>", "Manage plugins", r.cmdPlugin},
		{"templates", "/templates [query]", "Find prompt templates", r.cmdTemplates},
		{"translate", "/translate <lang> <text>", "Translate text", r.cmdTranslate},
		{"copy", "/copy", "Copy the last reply to the clipboard", r.cmdCopy},
		{"quit", "/quit", "Exit", r.cmdQuit},
		{"exit", "/exit", "Exit", r.cmdQuit},
	}
}

func (r *repl) cmdHelp(context.Context, string) (bool, error) {
	for _, c := range r.commands {
		fmt.Fprintf(r.out, "  %-52s %s\n", c.usage, infoStyle.Render(c.help))
	}
	printInfo(r.out, `Anything else is sent to the model. End a line with \ to continue it.`)
	return false, nil
}

func (r *repl) cmdQuit(context.Context, string) (bool, error) {
	return true, nil
}

func (r *repl) cmdNew(ctx context.Context, arg string) (bool, error) {
	t, err := r.store.CreateThread(ctx, arg)
	if err != nil {
		return false, err
	}
	printInfo(r.out, "Started thread %q", t.Title)
	return false, nil
}

func (r *repl) cmdThreads(context.Context, string) (bool, error) {
	session := r.store.Session()
	if len(session.Threads) == 0 {
		printInfo(r.out, "No threads. Use /new to start one.")
		return false, nil
	}
	for i, t := range session.Threads {
		marker := " "
		if t.ID == session.ActiveThreadID {
			marker = "*"
		}
		line := fmt.Sprintf("%s %2d. %s %s", marker, i+1, titleStyle.Render(t.Title), infoStyle.Render(fmt.Sprintf("(%d messages)", len(t.Messages))))
		if t.IsArchived {
			line += infoStyle.Render(" [archived]")
		}
		if len(t.Tags) > 0 {
			line += " " + idStyle.Render("#"+strings.Join(t.Tags, " #"))
		}
		fmt.Fprintln(r.out, line)
	}
	return false, nil
}

// resolveThread maps a 1-based index or a thread id to an id. An empty
// argument means the active thread.
func (r *repl) resolveThread(arg string) (string, error) {
	session := r.store.Session()
	if arg == "" {
		if session.ActiveThreadID == "" {
			return "", errors.New("no active thread")
		}
		return session.ActiveThreadID, nil
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(session.Threads) {
			return "", fmt.Errorf("no thread %d", n)
		}
		return session.Threads[n-1].ID, nil
	}
	return arg, nil
}

func (r *repl) cmdSwitch(ctx context.Context, arg string) (bool, error) {
	if arg == "" {
		return false, usageErr("/switch <n|id>")
	}
	id, err := r.resolveThread(arg)
	if err != nil {
		return false, err
	}
	if err := r.store.SwitchThread(ctx, id); err != nil {
		return false, err
	}
	t, _ := r.store.ActiveThread()
	printInfo(r.out, "Switched to %q", t.Title)
	return false, nil
}

func (r *repl) cmdRename(ctx context.Context, arg string) (bool, error) {
	id, err := r.resolveThread("")
	if err != nil {
		return false, err
	}
	return false, r.store.UpdateThreadTitle(ctx, id, arg)
}

func (r *repl) cmdArchive(ctx context.Context, _ string) (bool, error) {
	id, err := r.resolveThread("")
	if err != nil {
		return false, err
	}
	return false, r.store.ArchiveThread(ctx, id)
}

func (r *repl) cmdUnarchive(ctx context.Context, _ string) (bool, error) {
	id, err := r.resolveThread("")
	if err != nil {
		return false, err
	}
	return false, r.store.UnarchiveThread(ctx, id)
}

func (r *repl) cmdTag(ctx context.Context, arg string) (bool, error) {
	if arg == "" {
		return false, usageErr("/tag <tag>")
	}
	id, err := r.resolveThread("")
	if err != nil {
		return false, err
	}
	return false, r.store.AddTag(ctx, id, arg)
}

func (r *repl) cmdUntag(ctx context.Context, arg string) (bool, error) {
	id, err := r.resolveThread("")
	if err != nil {
		return false, err
	}
	return false, r.store.RemoveTag(ctx, id, arg)
}

func (r *repl) cmdDeleteThread(ctx context.Context, arg string) (bool, error) {
	id, err := r.resolveThread(arg)
	if err != nil {
		return false, err
	}
	if err := r.store.DeleteThread(ctx, id); err != nil {
		return false, err
	}
	printInfo(r.out, "Thread deleted")
	return false, nil
}

func (r *repl) cmdHistory(_ context.Context, arg string) (bool, error) {
	thread, ok := r.store.ActiveThread()
	if !ok {
		return false, errors.New("no active thread")
	}
	start := 0
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return false, usageErr("/history [n]")
		}
		start = max(len(thread.Messages)-n, 0)
	}
	for i := start; i < len(thread.Messages); i++ {
		msg := thread.Messages[i]
		fmt.Fprintf(r.out, "%3d. %s %s\n", i+1, roleLabel(msg.Role), preview(msg.Content, r.width-16))
	}
	return false, nil
}

// messageAt maps a 1-based position in the active thread to a message id.
func (r *repl) messageAt(arg string) (string, error) {
	thread, ok := r.store.ActiveThread()
	if !ok {
		return "", errors.New("no active thread")
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(thread.Messages) {
		return "", fmt.Errorf("no message %q; see /history", arg)
	}
	return thread.Messages[n-1].ID, nil
}

func (r *repl) cmdEdit(ctx context.Context, arg string) (bool, error) {
	pos, text, _ := strings.Cut(arg, " ")
	if pos == "" || strings.TrimSpace(text) == "" {
		return false, usageErr("/edit <n> <text>")
	}
	id, err := r.messageAt(pos)
	if err != nil {
		return false, err
	}
	return false, r.store.EditMessage(ctx, id, strings.TrimSpace(text))
}

func (r *repl) cmdDelete(ctx context.Context, arg string) (bool, error) {
	id, err := r.messageAt(arg)
	if err != nil {
		return false, err
	}
	return false, r.store.DeleteMessage(ctx, id)
}

func (r *repl) cmdRegen(ctx context.Context, _ string) (bool, error) {
	last, ok := r.lastAssistant()
	if !ok {
		printInfo(r.out, "Nothing to regenerate")
		return false, nil
	}

	var reply *model.Message
	var err error
	if r.stream {
		fmt.Fprintln(r.out, roleLabel(model.RoleAssistant))
		var streamed strings.Builder
		reply, err = r.store.RegenerateMessageStream(ctx, last.ID, func(chunk string) {
			streamed.WriteString(chunk)
			fmt.Fprint(r.out, chunk)
		})
		fmt.Fprintln(r.out)
		if err == nil && reply != nil {
			r.afterStream(*reply, streamed.String())
		}
	} else {
		reply, err = r.store.RegenerateMessage(ctx, last.ID)
		if err == nil && reply != nil {
			r.printMessage(*reply)
		}
	}
	if err != nil {
		return false, err
	}
	if reply == nil {
		printInfo(r.out, "Nothing to regenerate")
	}
	return false, nil
}

func (r *repl) cmdClear(ctx context.Context, _ string) (bool, error) {
	if err := r.store.ClearContext(ctx); err != nil {
		return false, err
	}
	printInfo(r.out, "Context cleared")
	return false, nil
}

// parseSetting turns "/set <key> <value>" arguments into a patch.
func parseSetting(arg string) (model.SettingsPatch, error) {
	key, value, _ := strings.Cut(arg, " ")
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return model.SettingsPatch{}, usageErr("/set <key> <value>")
	}

	var p model.SettingsPatch
	switch strings.ReplaceAll(strings.ToLower(key), "-", "_") {
	case "model":
		p.Model = &value
	case "system_prompt", "system":
		p.SystemPrompt = &value
	case "language":
		p.Language = &value
	case "theme":
		p.Theme = &value
	case "temperature":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return p, fmt.Errorf("temperature must be a number: %w", err)
		}
		p.Temperature = &f
	case "max_tokens":
		n, err := strconv.Atoi(value)
		if err != nil {
			return p, fmt.Errorf("max_tokens must be an integer: %w", err)
		}
		p.MaxTokens = &n
	case "context_window":
		n, err := strconv.Atoi(value)
		if err != nil {
			return p, fmt.Errorf("context_window must be an integer: %w", err)
		}
		p.ContextWindow = &n
	case "typing_speed":
		n, err := strconv.Atoi(value)
		if err != nil {
			return p, fmt.Errorf("typing_speed must be an integer: %w", err)
		}
		p.TypingSpeed = &n
	case "auto_save", "autosave":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return p, fmt.Errorf("auto_save must be true or false: %w", err)
		}
		p.AutoSave = &b
	default:
		return p, fmt.Errorf("unknown setting %q", key)
	}
	return p, nil
}

func (r *repl) cmdSet(ctx context.Context, arg string) (bool, error) {
	patch, err := parseSetting(arg)
	if err != nil {
		return false, err
	}
	if err := r.store.UpdateSettings(ctx, patch); err != nil {
		return false, err
	}
	printInfo(r.out, "Settings updated")
	return false, nil
}

func (r *repl) cmdSettings(context.Context, string) (bool, error) {
	s := r.store.Session().Settings
	rows := [][2]string{
		{"model", s.Model},
		{"temperature", strconv.FormatFloat(s.Temperature, 'g', -1, 64)},
		{"max_tokens", strconv.Itoa(s.MaxTokens)},
		{"context_window", strconv.Itoa(s.ContextWindow)},
		{"system_prompt", preview(s.SystemPrompt, r.width-20)},
		{"language", s.Language},
		{"theme", s.Theme},
		{"typing_speed", strconv.Itoa(s.TypingSpeed)},
		{"auto_save", strconv.FormatBool(s.AutoSave)},
	}
	for _, row := range rows {
		fmt.Fprintf(r.out, "  %-16s %s\n", row[0], row[1])
	}
	return false, nil
}

func (r *repl) cmdSearch(_ context.Context, arg string) (bool, error) {
	if arg == "" {
		return false, usageErr("/search <query>")
	}
	matches := r.store.SearchMessages(arg)
	if len(matches) == 0 {
		printInfo(r.out, "No matches")
	}
	for _, m := range matches {
		fmt.Fprintf(r.out, "  %s %s %s\n", titleStyle.Render(m.ThreadTitle), roleLabel(m.Role), m.Preview)
	}
	return false, nil
}

func (r *repl) cmdSearchAll(ctx context.Context, arg string) (bool, error) {
	if arg == "" {
		return false, usageErr("/search-all <query>")
	}
	matches, err := r.store.SearchAllSessions(ctx, arg)
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		printInfo(r.out, "No matches")
	}
	for _, m := range matches {
		fmt.Fprintf(r.out, "  %s %s %s %s\n", idStyle.Render(m.SessionID[:min(8, len(m.SessionID))]), titleStyle.Render(m.ThreadTitle), roleLabel(m.Role), m.Preview)
	}
	return false, nil
}

func (r *repl) cmdSessions(ctx context.Context, _ string) (bool, error) {
	list, err := r.store.ListSessions(ctx)
	if err != nil {
		return false, err
	}
	active := r.store.Session().ID
	for _, s := range list {
		marker := " "
		if s.ID == active {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %s %s %s\n", marker, idStyle.Render(s.ID),
			infoStyle.Render(fmt.Sprintf("%d threads, %d messages", s.ThreadCount, s.MessageCount)),
			infoStyle.Render(s.UpdatedAt.Format("2006-01-02 15:04")))
	}
	return false, nil
}

func (r *repl) cmdSession(ctx context.Context, arg string) (bool, error) {
	action, id, _ := strings.Cut(arg, " ")
	id = strings.TrimSpace(id)
	switch {
	case action == "new":
		s, err := r.store.CreateSession(ctx)
		if err != nil {
			return false, err
		}
		printInfo(r.out, "Started session %s", s.ID)
	case action == "load" && id != "":
		if _, err := r.store.LoadSession(ctx, id); err != nil {
			return false, err
		}
		r.banner()
	case action == "delete" && id != "":
		if err := r.store.DeleteSession(ctx, id); err != nil {
			return false, err
		}
		printInfo(r.out, "Session deleted")
	default:
		return false, usageErr("/session new|load <id>|delete <id>")
	}
	return false, nil
}

func (r *repl) cmdSave(ctx context.Context, _ string) (bool, error) {
	if err := r.store.SaveSession(ctx); err != nil {
		return false, err
	}
	printInfo(r.out, "Session saved")
	return false, nil
}

func (r *repl) cmdPlugins(context.Context, string) (bool, error) {
	for _, p := range r.plugins.Plugins() {
		m := p.Manifest()
		state := infoStyle.Render("disabled")
		if r.plugins.IsEnabled(m.ID) {
			state = assistantStyle.Render("enabled")
		}
		fmt.Fprintf(r.out, "  %s %s %s\n", titleStyle.Render(m.ID), idStyle.Render("v"+m.Version), state)
		fmt.Fprintf(r.out, "    %s\n", m.Description)
		settings := r.plugins.Settings(m.ID)
		for _, spec := range m.Settings {
			fmt.Fprintf(r.out, "    %-18s %v\n", spec.Key, settings[spec.Key])
		}
	}
	return false, nil
}

func (r *repl) cmdPlugin(ctx context.Context, arg string) (bool, error) {
	fields := strings.Fields(arg)
	if len(fields) < 2 {
		return false, usageErr("/plugin enable|disable <id> | set <id> <key> <value>")
	}
	action, id := fields[0], fields[1]
	switch action {
	case "enable":
		if err := r.plugins.Enable(ctx, id); err != nil {
			return false, err
		}
		printInfo(r.out, "Enabled %s", id)
	case "disable":
		if err := r.plugins.Disable(ctx, id); err != nil {
			return false, err
		}
		printInfo(r.out, "Disabled %s", id)
	case "set":
		if len(fields) < 4 {
			return false, usageErr("/plugin set <id> <key> <value>")
		}
		value := strings.Join(fields[3:], " ")
		if err := r.plugins.UpdateSettings(ctx, id, map[string]any{fields[2]: value}); err != nil {
			return false, err
		}
		printInfo(r.out, "Updated %s.%s", id, fields[2])
	default:
		return false, usageErr("/plugin enable|disable <id> | set <id> <key> <value>")
	}
	return false, nil
}

func (r *repl) cmdTemplates(_ context.Context, arg string) (bool, error) {
	list := r.templates.Catalog().All()
	if arg != "" {
		list = r.templates.Catalog().Search(arg)
	}
	if len(list) == 0 {
		printInfo(r.out, "No templates")
	}
	for _, t := range list {
		fmt.Fprintf(r.out, "  %s %s %s\n", titleStyle.Render(t.ID), t.Name, infoStyle.Render("["+t.Category+"]"))
		var vars []string
		for _, v := range t.Variables {
			if v.Required {
				vars = append(vars, v.Name+"=...")
			} else {
				vars = append(vars, "["+v.Name+"=...]")
			}
		}
		fmt.Fprintf(r.out, "    /template %s %s\n", t.ID, idStyle.Render(strings.Join(vars, " ")))
	}
	return false, nil
}

func (r *repl) cmdTranslate(ctx context.Context, arg string) (bool, error) {
	lang, text, _ := strings.Cut(arg, " ")
	text = strings.TrimSpace(text)
	if lang == "" || text == "" {
		return false, usageErr("/translate <lang> <text>")
	}
	if translator.LanguageName(lang) == lang {
		return false, fmt.Errorf("unsupported language %q", lang)
	}
	out, err := r.translator.TranslateText(ctx, text, lang)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(r.out, out)
	return false, nil
}

func (r *repl) cmdCopy(context.Context, string) (bool, error) {
	last, ok := r.lastAssistant()
	if !ok {
		printInfo(r.out, "Nothing to copy")
		return false, nil
	}
	if err := r.copy(last.Content); err != nil {
		return false, fmt.Errorf("copy to clipboard: %w", err)
	}
	printInfo(r.out, "Copied %d characters", len([]rune(last.Content)))
	return false, nil
}
