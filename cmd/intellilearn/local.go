package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/intellilearn/internal/autosync"
	"github.com/hyperjump/intellilearn/internal/chathistory"
	"github.com/hyperjump/intellilearn/internal/cli"
	"github.com/hyperjump/intellilearn/internal/kvstore"
	"github.com/hyperjump/intellilearn/internal/models"
	"github.com/hyperjump/intellilearn/internal/prefs"
	"github.com/hyperjump/intellilearn/internal/watcher"
	"github.com/hyperjump/intellilearn/pkg/utils"
	"go.uber.org/zap"
)

func (a *app) openStore() *kvstore.SQLiteStore {
	store, err := kvstore.NewSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		exitf("Failed to open local store: %v", err)
	}
	return store
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	f := addCommonFlags(fs)
	_ = fs.Parse(argsReorder(args))
	a := newApp(f)
	defer a.close()

	dirs := a.cfg.Watch.Directories
	if fs.NArg() > 0 {
		dirs = nil
		for _, d := range fs.Args() {
			abs, err := filepath.Abs(d)
			if err != nil {
				exitf("Invalid directory %s: %v", d, err)
			}
			dirs = append(dirs, abs)
		}
	}
	if len(dirs) == 0 {
		exitf("Nothing to watch: pass directories or set watch.directories")
	}
	userID, topicID := a.requireUser(), a.requireTopic()

	store := a.openStore()
	defer store.Close()

	syncer := autosync.New(a.client, store, userID, topicID,
		autosync.WithLogger(a.logger),
		autosync.WithPollInterval(a.cfg.Upload.PollInterval),
		autosync.WithConcurrency(a.cfg.Upload.Concurrency),
		autosync.WithOnResult(func(r autosync.Result) {
			switch {
			case r.Err != nil:
				fmt.Printf("%s: failed: %v\n", r.Path, r.Err)
			case r.Status != nil:
				fmt.Printf("%s: done (%d chunks) [%s]\n", r.Path, r.Status.ChunkCount, r.Status.DocumentID)
			}
		}),
	)
	w := watcher.New(dirs, a.cfg.Watch.Extensions, a.cfg.Watch.RecursiveOrDefault(), syncer, watcher.WithLogger(a.logger))

	ctx, stop := signalContext()
	defer stop()
	if err := w.Start(ctx); err != nil {
		exitf("Failed to start watcher: %v", err)
	}
	w.SyncExistingFiles()
	fmt.Printf("Watching %s (topic %s). Press Ctrl+C to stop.\n", strings.Join(dirs, ", "), topicID)

	<-ctx.Done()
	fmt.Println("Stopping...")
	w.Stop()
	syncer.Close()
}

// sourcesReply builds the assistant message for a question from the topic's search
// hits. Answer generation happens server-side; locally the matching passages are listed.
func sourcesReply(res *models.SearchResponse) string {
	if res == nil || len(res.Hits) == 0 {
		return "No matching passages in this topic's documents."
	}
	var b strings.Builder
	b.WriteString("Relevant passages:")
	for i, h := range res.Hits {
		fmt.Fprintf(&b, "\n%d. %s (chunk %d): %s", i+1, h.FileName, h.ChunkIndex, utils.Truncate(utils.OneLine(h.Content), 160))
	}
	return b.String()
}

func runChat(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: intellilearn chat <new|list|show|say|rename|delete|clear> [args]")
		os.Exit(1)
	}
	sub := args[0]
	fs := flag.NewFlagSet("chat "+sub, flag.ExitOnError)
	f := addCommonFlags(fs)
	limit := fs.Int("limit", 3, "number of passages to attach to a reply (say)")
	_ = fs.Parse(argsReorder(args[1:]))
	a := newApp(f)
	defer a.close()
	ctx := context.Background()

	store := a.openStore()
	defer store.Close()
	history := chathistory.Load(ctx, store,
		chathistory.WithKey(a.cfg.Store.ChatHistoryKey),
		chathistory.WithLogger(a.logger))

	need := func(n int, usage string) {
		if fs.NArg() < n {
			exitf("Usage: intellilearn chat %s", usage)
		}
	}
	check := func(err error) {
		if errors.Is(err, chathistory.ErrNotFound) {
			exitf("Conversation not found")
		}
		if err != nil {
			exitf("Chat history: %v", err)
		}
	}

	switch sub {
	case "new":
		c, err := history.CreateConversation(ctx, buildQuery(fs.Args()))
		check(err)
		fmt.Printf("Created conversation %s (%s)\n", c.ID, c.Title)
	case "list":
		check(cli.WriteConversations(os.Stdout, history.Conversations(), a.format))
	case "show":
		need(1, "show <conversation-id>")
		c, ok := history.Get(fs.Arg(0))
		if !ok {
			exitf("Conversation not found")
		}
		check(cli.WriteConversation(os.Stdout, c, a.format))
	case "say":
		need(2, "say <conversation-id> <message>")
		id, text := fs.Arg(0), buildQuery(fs.Args()[1:])
		_, err := history.AppendMessage(ctx, id, models.RoleUser, text)
		check(err)
		if a.cfg.Session.TopicID == "" {
			return
		}
		res, err := a.client.SearchTopic(ctx, a.cfg.Session.TopicID, text, *limit)
		if err != nil {
			a.logger.Warn("search for reply failed", zap.Error(err))
			exitf("Search failed: %v", err)
		}
		reply := sourcesReply(res)
		_, err = history.AppendMessage(ctx, id, models.RoleAssistant, reply)
		check(err)
		fmt.Println(reply)
	case "rename":
		need(2, "rename <conversation-id> <title>")
		check(history.UpdateTitle(ctx, fs.Arg(0), buildQuery(fs.Args()[1:])))
		fmt.Println("Renamed.")
	case "delete":
		need(1, "delete <conversation-id>")
		check(history.DeleteConversation(ctx, fs.Arg(0)))
		fmt.Println("Deleted.")
	case "clear":
		check(history.ClearAll(ctx))
		fmt.Println("Chat history cleared.")
	default:
		exitf("Unknown chat subcommand: %s", sub)
	}
}

func runTheme(args []string) {
	fs := flag.NewFlagSet("theme", flag.ExitOnError)
	f := addCommonFlags(fs)
	prefersDark := fs.Bool("prefers-dark", false, "default to dark when no theme is stored")
	_ = fs.Parse(argsReorder(args))
	a := newApp(f)
	defer a.close()
	ctx := context.Background()

	store := a.openStore()
	defer store.Close()
	p, err := prefs.NewThemeProvider(ctx, store, *prefersDark)
	if err != nil {
		exitf("%v", err)
	}
	switch arg := fs.Arg(0); arg {
	case "":
	case "toggle":
		if _, err := p.Toggle(ctx); err != nil {
			exitf("%v", err)
		}
	case string(prefs.ThemeLight), string(prefs.ThemeDark):
		if err := p.SetTheme(ctx, prefs.Theme(arg)); err != nil {
			exitf("%v", err)
		}
	default:
		exitf("Unknown theme %q; use light, dark or toggle", arg)
	}
	fmt.Println(p.Theme())
}
