// Package main is the IntelliLearn CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hyperjump/intellilearn/internal/cli"
	"github.com/hyperjump/intellilearn/internal/config"
	"github.com/hyperjump/intellilearn/internal/doclist"
	"github.com/hyperjump/intellilearn/internal/models"
	"github.com/hyperjump/intellilearn/internal/poller"
	"github.com/hyperjump/intellilearn/internal/ragapi"
	"github.com/hyperjump/intellilearn/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

var defaultConfigPath = func() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "intellilearn", "config.yaml")
	}
	return "config.yaml"
}()

// loadConfig loads config from path. When path is the default, a config.yaml in the
// current directory wins, so running from a project dir uses the project's config.
// A missing file yields the defaults. Returns the config and the path it belongs to.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "health":
		runHealth(args)
	case "stats":
		runStats(args)
	case "topics":
		runTopics(args)
	case "upload":
		runUpload(args)
	case "documents", "docs":
		runDocuments(args)
	case "status":
		runStatus(args)
	case "delete":
		runDelete(args)
	case "search":
		runSearch(args)
	case "watch":
		runWatch(args)
	case "chat":
		runChat(args)
	case "theme":
		runTheme(args)
	case "devserver":
		runDevServer(args)
	case "version", "--version", "-v":
		fmt.Printf("intellilearn version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// argsReorder moves flags (and their values) that appear after the positionals to the
// front so flag.Parse sees them. "intellilearn search mitosis -limit 3" would otherwise
// leave -limit unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins positionals so multi-word queries work with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "", "text":
		return cli.OutputText, nil
	case "json":
		return cli.OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// commonFlags are shared by every command that talks to the backend.
type commonFlags struct {
	config *string
	debug  *bool
	output *string
	api    *string
	user   *string
	topic  *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		config: fs.String("config", defaultConfigPath, "config file path"),
		debug:  fs.Bool("debug", false, "enable debug logging"),
		output: fs.String("output", "text", "output format: text or json"),
		api:    fs.String("api", "", "backend base URL (overrides api.base_url)"),
		user:   fs.String("user", "", "user id (overrides session.user_id)"),
		topic:  fs.String("topic", "", "topic id (overrides session.topic_id)"),
	}
}

// app is the per-invocation state shared by commands.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	client     *ragapi.Client
	format     cli.OutputFormat
}

func newApp(f *commonFlags) *app {
	cfg, path, err := loadConfig(*f.config)
	if err != nil {
		exitf("Failed to load config: %v", err)
	}
	if *f.api != "" {
		cfg.API.BaseURL = *f.api
	}
	if *f.user != "" {
		cfg.Session.UserID = *f.user
	}
	if *f.topic != "" {
		cfg.Session.TopicID = *f.topic
	}
	format, err := parseFormat(*f.output)
	if err != nil {
		exitf("%v", err)
	}
	logger, err := utils.NewQuietLogger(cfg.Debug || *f.debug)
	if err != nil {
		exitf("Failed to create logger: %v", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path), zap.String("api", cfg.API.BaseURL))
	return &app{
		cfg:        cfg,
		configPath: path,
		logger:     logger,
		client:     ragapi.NewClient(cfg.API.BaseURL, ragapi.WithTimeout(cfg.API.Timeout), ragapi.WithLogger(logger)),
		format:     format,
	}
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func (a *app) requireTopic() string {
	if a.cfg.Session.TopicID == "" {
		exitf("No topic selected: pass -topic or set session.topic_id (see 'intellilearn topics list')")
	}
	return a.cfg.Session.TopicID
}

func (a *app) requireUser() string {
	if a.cfg.Session.UserID == "" {
		exitf("No user id: pass -user or set session.user_id")
	}
	return a.cfg.Session.UserID
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	f := addCommonFlags(fs)
	_ = fs.Parse(argsReorder(args))
	a := newApp(f)
	defer a.close()

	h, err := a.client.Health(context.Background())
	if err != nil {
		exitf("Backend unreachable at %s: %v", a.client.BaseURL(), err)
	}
	if a.format == cli.OutputJSON {
		_ = writeJSON(os.Stdout, h)
		return
	}
	fmt.Printf("%s: %s\n", a.client.BaseURL(), h.Status)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	f := addCommonFlags(fs)
	_ = fs.Parse(argsReorder(args))
	a := newApp(f)
	defer a.close()

	st, err := a.client.Stats(context.Background())
	if err != nil {
		exitf("Failed to get stats: %v", err)
	}
	if err := cli.WriteStats(os.Stdout, st, a.format); err != nil {
		exitf("%v", err)
	}
}

func runTopics(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: intellilearn topics <list|create|delete> [flags]")
		fmt.Println("  intellilearn topics list                      List your topics")
		fmt.Println("  intellilearn topics create [-select] <name>   Create a topic")
		fmt.Println("  intellilearn topics delete <topic-id>         Delete a topic and its documents")
		os.Exit(1)
	}
	sub := args[0]
	fs := flag.NewFlagSet("topics "+sub, flag.ExitOnError)
	f := addCommonFlags(fs)
	description := fs.String("description", "", "topic description (create)")
	selectTopic := fs.Bool("select", false, "save the new topic as session.topic_id (create)")
	_ = fs.Parse(argsReorder(args[1:]))
	a := newApp(f)
	defer a.close()
	ctx := context.Background()

	switch sub {
	case "list":
		list, err := a.client.ListTopics(ctx, a.requireUser())
		if err != nil {
			exitf("List topics failed: %v", err)
		}
		if err := cli.WriteTopics(os.Stdout, list, a.format); err != nil {
			exitf("Output failed: %v", err)
		}
	case "create":
		name := buildQuery(fs.Args())
		if name == "" {
			exitf("Usage: intellilearn topics create [-description text] [-select] <name>")
		}
		topic, err := a.client.CreateTopic(ctx, a.requireUser(), name, *description)
		if err != nil {
			exitf("Create topic failed: %v", err)
		}
		fmt.Printf("Created topic %s (%s)\n", topic.ID, topic.Name)
		if *selectTopic {
			a.cfg.Session.TopicID = topic.ID
			if err := config.Save(a.configPath, a.cfg); err != nil {
				exitf("Saving config failed: %v", err)
			}
			fmt.Printf("Selected topic saved to %s\n", a.configPath)
		}
	case "delete":
		if fs.NArg() < 1 {
			exitf("Usage: intellilearn topics delete <topic-id>")
		}
		res, err := a.client.DeleteTopic(ctx, fs.Arg(0))
		if err != nil {
			exitf("Delete topic failed: %v", err)
		}
		fmt.Println(res.Message)
	default:
		exitf("Unknown topics subcommand: %s", sub)
	}
}

func runDocuments(args []string) {
	fs := flag.NewFlagSet("documents", flag.ExitOnError)
	f := addCommonFlags(fs)
	follow := fs.Bool("watch-refresh", false, "refresh the list every upload.refresh_interval until interrupted")
	_ = fs.Parse(argsReorder(args))
	a := newApp(f)
	defer a.close()

	topicID := a.requireTopic()
	if !*follow {
		list := doclist.New(a.client, topicID, doclist.WithLogger(a.logger))
		if err := list.Refresh(context.Background()); err != nil {
			exitf("List documents failed: %v", err)
		}
		if err := cli.WriteDocuments(os.Stdout, list.Documents(), a.format); err != nil {
			exitf("Output failed: %v", err)
		}
		return
	}

	var list *doclist.Cache
	list = doclist.New(a.client, topicID,
		doclist.WithLogger(a.logger),
		doclist.WithOnRefresh(func(err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "Refresh failed: %v\n", err)
				return
			}
			fmt.Printf("\n# %s\n", list.RefreshedAt().Format("15:04:05"))
			_ = cli.WriteDocuments(os.Stdout, list.Documents(), a.format)
		}),
	)
	ctx, stop := signalContext()
	defer stop()
	if err := list.Run(ctx, a.cfg.Upload.RefreshInterval); err != nil && ctx.Err() == nil {
		exitf("%v", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	f := addCommonFlags(fs)
	wait := fs.Bool("wait", false, "poll until the document is done or failed")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 1 {
		exitf("Usage: intellilearn status [-wait] <document-id>")
	}
	a := newApp(f)
	defer a.close()
	id := fs.Arg(0)

	if !*wait {
		st, err := a.client.GetDocumentStatus(context.Background(), id)
		if err != nil {
			exitf("Status failed: %v", err)
		}
		if err := cli.WriteStatus(os.Stdout, st, a.format); err != nil {
			exitf("Output failed: %v", err)
		}
		return
	}

	ctx, stop := signalContext()
	defer stop()
	p := poller.New(a.client, poller.WithInterval(a.cfg.Upload.PollInterval), poller.WithLogger(a.logger))
	final, err := p.Run(ctx, id, func(st *models.DocumentStatusResponse) {
		if a.format == cli.OutputText {
			fmt.Printf("%s %3d%% %s\n", cli.ProgressBar(st.ProgressPercent, 20), models.ClampPercent(st.ProgressPercent), st.ProcessingStage)
		}
	})
	if final != nil {
		_ = cli.WriteStatus(os.Stdout, final, a.format)
	}
	if err != nil {
		exitf("%v", err)
	}
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	f := addCommonFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 1 {
		exitf("Usage: intellilearn delete <document-id>")
	}
	a := newApp(f)
	defer a.close()

	if err := a.client.DeleteDocument(context.Background(), fs.Arg(0)); err != nil {
		exitf("Deletion failed: %v", err)
	}
	fmt.Printf("Document deleted: %s\n", fs.Arg(0))
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	f := addCommonFlags(fs)
	limit := fs.Int("limit", 10, "number of results")
	_ = fs.Parse(argsReorder(args))
	query := buildQuery(fs.Args())
	if query == "" {
		exitf("Usage: intellilearn search [-topic id] [-limit n] <query>")
	}
	a := newApp(f)
	defer a.close()

	res, err := a.client.SearchTopic(context.Background(), a.requireTopic(), query, *limit)
	if err != nil {
		exitf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, res, a.format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func printUsage() {
	fmt.Println(`intellilearn - upload study material to your IntelliLearn topics

Usage:
  intellilearn health                         Check the backend
  intellilearn stats                          Show backend totals and limits
  intellilearn topics list|create|delete      Manage topics
  intellilearn upload [flags] <file>...       Upload and ingest files, showing progress
  intellilearn documents [flags]              List documents of the selected topic
  intellilearn status [-wait] <doc-id>        Show a document's processing status
  intellilearn delete <doc-id>                Delete a document
  intellilearn search [flags] <query>         Search the selected topic
  intellilearn watch [dir...]                 Upload new and changed files automatically
  intellilearn chat <subcommand>              Manage local chat history
  intellilearn theme [light|dark|toggle]      Show or set the color theme
  intellilearn devserver [flags]              Run the local development backend
  intellilearn version                        Show version
  intellilearn help                           Show this help

Common Flags:
  --config string    Config file path (default: ~/.config/intellilearn/config.yaml, or ./config.yaml if present)
  --api string       Backend base URL (default from api.base_url, or INTELLILEARN_API_URL)
  --user string      User id (default from session.user_id, or INTELLILEARN_USER_ID)
  --topic string     Topic id (default from session.topic_id, or INTELLILEARN_TOPIC_ID)
  --output string    Output format: text or json (default: text)
  --debug            Enable debug logging

Chat Subcommands:
  new [title]  list  show <id>  say <id> <text>  rename <id> <title>  delete <id>  clear

Examples:
  intellilearn topics create -select "Cell Biology"
  intellilearn upload lecture1.pdf notes.docx
  intellilearn documents -watch-refresh
  intellilearn search mitochondria -limit 5
  intellilearn watch ~/Documents/biology
  intellilearn devserver -port 8000`)
}
