package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/g960059/helpdesk/internal/appclient"
	"github.com/g960059/helpdesk/internal/apperr"
	"github.com/g960059/helpdesk/internal/auth"
	"github.com/g960059/helpdesk/internal/config"
	"github.com/g960059/helpdesk/internal/db"
	"github.com/g960059/helpdesk/internal/lifecycle"
	"github.com/g960059/helpdesk/internal/model"
	"github.com/g960059/helpdesk/internal/routegate"
	"github.com/g960059/helpdesk/internal/security"
	"github.com/g960059/helpdesk/internal/session"
	"github.com/g960059/helpdesk/internal/telemetry"
	"github.com/g960059/helpdesk/internal/ticketsync"
	"github.com/g960059/helpdesk/internal/tui"
)

// DashboardFunc runs the interactive view. Tests replace it.
type DashboardFunc func(ctx context.Context, deps tui.Deps, view string) error

type Runner struct {
	client    *http.Client
	out       io.Writer
	errOut    io.Writer
	in        io.Reader
	reader    *bufio.Reader
	dashboard DashboardFunc
	logger    *slog.Logger
}

func NewRunner(out, errOut io.Writer) *Runner {
	return NewRunnerWithClient(nil, out, errOut)
}

// NewRunnerWithClient uses client for every API call. A nil client means
// the instrumented default.
func NewRunnerWithClient(client *http.Client, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{
		client: client,
		out:    out,
		errOut: errOut,
		in:     os.Stdin,
		dashboard: func(ctx context.Context, deps tui.Deps, view string) error {
			return tui.Run(ctx, deps, view)
		},
	}
}

func (r *Runner) WithInput(in io.Reader) *Runner {
	clone := *r
	clone.in = in
	clone.reader = nil
	return &clone
}

func (r *Runner) WithDashboard(fn DashboardFunc) *Runner {
	clone := *r
	clone.dashboard = fn
	return &clone
}

type globalFlags struct {
	configPath string
	server     string
	dbPath     string
	logLevel   string
}

func parseGlobalArgs(args []string) (globalFlags, []string, error) {
	var g globalFlags
	fs := pflag.NewFlagSet("helpdesk", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	fs.StringVar(&g.configPath, "config", "", "config file")
	fs.StringVar(&g.server, "server", "", "API base URL")
	fs.StringVar(&g.dbPath, "db", "", "session database path")
	fs.StringVar(&g.logLevel, "log-level", "", "debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return g, nil, err
	}
	return g, fs.Args(), nil
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	global, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	cfg, err := config.Load(global.configPath)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if global.server != "" {
		cfg.BaseURL = global.server
	}
	if global.dbPath != "" {
		cfg.DBPath = global.dbPath
	}
	if global.logLevel != "" {
		cfg.LogLevel = global.logLevel
	}
	r.logger = newLogger(r.errOut, cfg.LogLevel)

	shutdown := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "helpdesk",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		Logger:      r.logger,
	})
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			r.logger.Debug("telemetry shutdown", "err", err)
		}
	}()

	switch rest[0] {
	case "register":
		return r.runRegister(ctx, cfg, rest[1:])
	case "login":
		return r.runLogin(ctx, cfg, rest[1:])
	case "logout":
		return r.runLogout(ctx, cfg, rest[1:])
	case "whoami":
		return r.runWhoami(ctx, cfg, rest[1:])
	case "tickets":
		return r.runTickets(ctx, cfg, rest[1:])
	case "create":
		return r.runCreate(ctx, cfg, rest[1:])
	case "status":
		return r.runStatus(ctx, cfg, rest[1:])
	case "delete":
		return r.runDelete(ctx, cfg, rest[1:])
	case "dashboard":
		return r.runDashboard(ctx, cfg, rest[1:])
	case "help":
		r.printUsage()
		return 0
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

// app is the component graph one command works with.
type app struct {
	cfg       config.Config
	store     *db.Store
	session   *session.Store
	client    *appclient.Client
	auth      *auth.Service
	sync      *ticketsync.Synchronizer
	lifecycle *lifecycle.Controller
	gate      *routegate.Gate
}

func (r *Runner) open(ctx context.Context, cfg config.Config, onReplace func(ticketsync.Snapshot)) (*app, error) {
	return r.openWithLogger(ctx, cfg, r.logger, onReplace)
}

// openWithLogger builds the component graph logging to logger instead of
// the runner's stderr logger.
func (r *Runner) openWithLogger(ctx context.Context, cfg config.Config, logger *slog.Logger, onReplace func(ticketsync.Snapshot)) (*app, error) {
	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		_ = store.Close()
		return nil, err
	}
	sess := session.New(store, session.WithLogger(logger))
	var client *appclient.Client
	if r.client != nil {
		client = appclient.NewWithClient(cfg.BaseURL, r.client, sess)
	} else {
		client = appclient.New(cfg.BaseURL, sess)
	}
	client = client.WithLogger(logger)
	sync := ticketsync.New(client, sess, ticketsync.Options{
		Interval:  cfg.RefreshInterval,
		Logger:    logger,
		OnReplace: onReplace,
		Health: ticketsync.HealthPolicy{
			DownWindow:       cfg.SyncDownWindow,
			DownFailures:     cfg.SyncDownFailures,
			RecoverSuccesses: cfg.SyncRecoverSuccesses,
		},
	})
	return &app{
		cfg:       cfg,
		store:     store,
		session:   sess,
		client:    client,
		auth:      auth.NewService(client, sess, logger),
		sync:      sync,
		lifecycle: lifecycle.New(client, sess, sync, lifecycle.WithLogger(logger)),
		gate:      routegate.New(sess),
	}, nil
}

func (a *app) Close() {
	a.sync.StopAutoRefresh()
	_ = a.store.Close()
}

func (r *Runner) runRegister(ctx context.Context, cfg config.Config, args []string) int {
	fs := newFlagSet("register")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password (prompted when omitted)")
	if code, ok := r.parse(fs, args, 0); !ok {
		return code
	}
	if *password == "" {
		secret, err := r.readSecret("Password: ")
		if err != nil {
			return r.handleErr(err, "Registration failed")
		}
		*password = secret
	}
	a, err := r.open(ctx, cfg, nil)
	if err != nil {
		return r.handleErr(err, "Registration failed")
	}
	defer a.Close()
	if err := a.auth.Register(ctx, *name, *email, *password); err != nil {
		return r.handleErr(err, "Registration failed")
	}
	_, _ = fmt.Fprintf(r.out, "Registered %s. Sign in with: helpdesk login --email %s\n", strings.TrimSpace(*email), strings.TrimSpace(*email))
	return 0
}

func (r *Runner) runLogin(ctx context.Context, cfg config.Config, args []string) int {
	fs := newFlagSet("login")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password (prompted when omitted)")
	if code, ok := r.parse(fs, args, 0); !ok {
		return code
	}
	if *password == "" {
		secret, err := r.readSecret("Password: ")
		if err != nil {
			return r.handleErr(err, "Login failed")
		}
		*password = secret
	}
	a, err := r.open(ctx, cfg, nil)
	if err != nil {
		return r.handleErr(err, "Login failed")
	}
	defer a.Close()
	cred, err := a.auth.Login(ctx, *email, *password)
	if err != nil {
		return r.handleErr(err, "Login failed")
	}
	_, _ = fmt.Fprintf(r.out, "Signed in as %s (%s)\nview: %s\n", cred.DisplayName, cred.Role, routegate.Landing(cred.Role))
	return 0
}

func (r *Runner) runLogout(ctx context.Context, cfg config.Config, args []string) int {
	fs := newFlagSet("logout")
	if code, ok := r.parse(fs, args, 0); !ok {
		return code
	}
	a, err := r.open(ctx, cfg, nil)
	if err != nil {
		return r.handleErr(err, "Logout failed")
	}
	defer a.Close()
	if err := a.auth.Logout(ctx); err != nil {
		return r.handleErr(err, "Logout failed")
	}
	_, _ = fmt.Fprintln(r.out, "Signed out")
	return 0
}

type whoamiOutput struct {
	Name      string `json:"name" yaml:"name"`
	Role      string `json:"role" yaml:"role"`
	TokenHint string `json:"token_hint" yaml:"token_hint"`
	View      string `json:"view" yaml:"view"`
}

func (r *Runner) runWhoami(ctx context.Context, cfg config.Config, args []string) int {
	fs := newFlagSet("whoami")
	jsonOut := fs.Bool("json", false, "output JSON")
	if code, ok := r.parse(fs, args, 0); !ok {
		return code
	}
	a, err := r.open(ctx, cfg, nil)
	if err != nil {
		return r.handleErr(err, "Failed to read session")
	}
	defer a.Close()
	cred, ok, err := a.session.Current(ctx)
	if err != nil {
		return r.handleErr(err, "Failed to read session")
	}
	if !ok {
		_, _ = fmt.Fprintln(r.out, "not signed in")
		return 1
	}
	out := whoamiOutput{
		Name:      cred.DisplayName,
		Role:      string(cred.Role),
		TokenHint: security.TokenHint(cred.Token),
		View:      routegate.Landing(cred.Role),
	}
	if *jsonOut {
		return r.writeJSON(out)
	}
	_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\n", out.Name, out.Role, out.TokenHint)
	return 0
}

type ticketOutput struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Priority    string `json:"priority" yaml:"priority"`
	Status      string `json:"status" yaml:"status"`
	OwnerName   string `json:"owner_name,omitempty" yaml:"owner_name,omitempty"`
	OwnerID     string `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
}

func toTicketOutputs(tickets []model.Ticket) []ticketOutput {
	out := make([]ticketOutput, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, ticketOutput{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			Priority:    string(t.Priority),
			Status:      string(t.Status),
			OwnerName:   t.OwnerName,
			OwnerID:     t.OwnerID,
		})
	}
	return out
}

func (r *Runner) runTickets(ctx context.Context, cfg config.Config, args []string) int {
	fs := newFlagSet("tickets")
	statusFlag := fs.String("status", "all", "all|open|in_progress|resolved|unknown")
	search := fs.String("search", "", "server-side search (admin)")
	jsonOut := fs.Bool("json", false, "output JSON")
	yamlOut := fs.Bool("yaml", false, "output YAML")
	if code, ok := r.parse(fs, args, 0); !ok {
		return code
	}
	filter, err := ticketsync.ParseFilter(*statusFlag)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if *jsonOut && *yamlOut {
		_, _ = fmt.Fprintln(r.errOut, "error: --json and --yaml are mutually exclusive")
		return 2
	}
	a, err := r.open(ctx, cfg, nil)
	if err != nil {
		return r.handleErr(err, "Failed to load tickets")
	}
	defer a.Close()
	cred, _, err := a.session.Current(ctx)
	if err != nil {
		return r.handleErr(err, "Failed to load tickets")
	}
	if err := a.sync.Refresh(ctx, *search); err != nil {
		return r.handleErr(err, "Failed to load tickets")
	}
	tickets := a.sync.View(filter)
	switch {
	case *jsonOut:
		return r.writeJSON(toTicketOutputs(tickets))
	case *yamlOut:
		return r.writeYAML(toTicketOutputs(tickets))
	}
	if cred.Role == model.RoleAdmin {
		s := a.sync.Stats()
		_, _ = fmt.Fprintf(r.out, "total %d · open %d · in progress %d · resolved %d\n", s.Total, s.Open, s.InProgress, s.Resolved)
	}
	r.printTickets(tickets, cred.Role == model.RoleAdmin)
	return 0
}

func (r *Runner) printTickets(tickets []model.Ticket, withOwner bool) {
	if len(tickets) == 0 {
		_, _ = fmt.Fprintln(r.out, "No tickets found")
		return
	}
	renderer := lipgloss.NewRenderer(r.out)
	for _, t := range tickets {
		line := fmt.Sprintf("%s\t%s\t%s\t%s", t.ID, tui.StatusBadge(renderer, t.Status), tui.PriorityBadge(renderer, t.Priority), t.Title)
		if withOwner {
			line += "\t" + t.OwnerName
		}
		_, _ = fmt.Fprintln(r.out, line)
	}
}

func (r *Runner) runCreate(ctx context.Context, cfg config.Config, args []string) int {
	fs := newFlagSet("create")
	form := lifecycle.NewTicketForm()
	fs.StringVar(&form.Title, "title", "", "ticket title")
	fs.StringVar(&form.Description, "description", "", "ticket description")
	priority := fs.String("priority", string(model.PriorityMedium), "low|medium|high")
	if code, ok := r.parse(fs, args, 0); !ok {
		return code
	}
	form.Priority = model.Priority(strings.ToLower(strings.TrimSpace(*priority)))
	a, err := r.open(ctx, cfg, nil)
	if err != nil {
		return r.handleErr(err, "Failed to create ticket")
	}
	defer a.Close()
	res, err := a.lifecycle.CreateTicket(ctx, form)
	if err != nil {
		return r.handleErr(err, "Failed to create ticket")
	}
	if res.Ticket != nil {
		_, _ = fmt.Fprintf(r.out, "%s: #%s %s\n", res.Message, res.Ticket.ID, res.Ticket.Title)
	} else {
		_, _ = fmt.Fprintln(r.out, res.Message)
	}
	r.warnRefresh(res)
	return 0
}

func (r *Runner) runStatus(ctx context.Context, cfg config.Config, args []string) int {
	fs := newFlagSet("status")
	if code, ok := r.parse(fs, args, 2); !ok {
		return code
	}
	id := fs.Arg(0)
	status := model.TicketStatus(strings.ToLower(strings.TrimSpace(fs.Arg(1))))
	if !status.Valid() {
		_, _ = fmt.Fprintf(r.errOut, "error: status must be one of open, in_progress, resolved\n")
		return 2
	}
	a, err := r.open(ctx, cfg, nil)
	if err != nil {
		return r.handleErr(err, "Failed to update status")
	}
	defer a.Close()
	res, err := a.lifecycle.SetStatus(ctx, id, status)
	if err != nil {
		return r.handleErr(err, "Failed to update status")
	}
	_, _ = fmt.Fprintln(r.out, res.Message)
	r.warnRefresh(res)
	return 0
}

func (r *Runner) runDelete(ctx context.Context, cfg config.Config, args []string) int {
	fs := newFlagSet("delete")
	yes := fs.BoolP("yes", "y", false, "skip confirmation")
	if code, ok := r.parse(fs, args, 1); !ok {
		return code
	}
	a, err := r.open(ctx, cfg, nil)
	if err != nil {
		return r.handleErr(err, "Failed to delete ticket")
	}
	defer a.Close()
	var confirm lifecycle.Confirmer = lifecycle.ConfirmFunc(r.confirm)
	if *yes {
		confirm = nil
	}
	res, err := a.lifecycle.DeleteTicket(ctx, fs.Arg(0), confirm)
	if errors.Is(err, lifecycle.ErrCancelled) {
		_, _ = fmt.Fprintln(r.out, "Delete cancelled")
		return 1
	}
	if err != nil {
		return r.handleErr(err, "Failed to delete ticket")
	}
	_, _ = fmt.Fprintln(r.out, res.Message)
	r.warnRefresh(res)
	return 0
}

func (r *Runner) runDashboard(ctx context.Context, cfg config.Config, args []string) int {
	fs := newFlagSet("dashboard")
	view := fs.String("view", "", "/tickets or /admin (default: the viewer's landing view)")
	logFile := fs.String("log-file", "", "write debug logs as JSON lines to this file")
	if code, ok := r.parse(fs, args, 0); !ok {
		return code
	}
	bus := tui.NewBus()
	// the program owns the terminal; warnings go to the status line
	var handler slog.Handler = tui.NewLogHandler(bus, slog.LevelWarn)
	if *logFile != "" {
		file, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return r.handleErr(apperr.Validation("cannot open log file %s: %v", *logFile, err), "Failed to open dashboard")
		}
		defer file.Close() //nolint:errcheck
		handler = tui.FanoutHandler{handler, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})}
	}
	a, err := r.openWithLogger(ctx, cfg, slog.New(handler), bus.OnReplace)
	if err != nil {
		return r.handleErr(err, "Failed to open dashboard")
	}
	defer a.Close()
	cred, ok, err := a.session.Current(ctx)
	if err != nil {
		return r.handleErr(err, "Failed to open dashboard")
	}
	path := *view
	if path == "" {
		path = routegate.Landing(cred.Role)
	}
	decision, err := a.gate.Admit(ctx, path)
	if errors.Is(err, routegate.ErrUnknownView) {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if err != nil {
		return r.handleErr(err, "Failed to open dashboard")
	}
	if !decision.Admitted || decision.View.Path == routegate.ViewEntry {
		if !ok {
			_, _ = fmt.Fprintln(r.errOut, "error: not signed in; run: helpdesk login --email <email>")
		} else {
			_, _ = fmt.Fprintf(r.errOut, "error: %s is not available to %s accounts\n", path, cred.Role)
		}
		return 1
	}
	deps := tui.Deps{
		Sync:       a.sync,
		Lifecycle:  a.lifecycle,
		Watcher:    a.session,
		Bus:        bus,
		Credential: cred,
		Interval:   cfg.RefreshInterval,
	}
	if err := r.dashboard(ctx, deps, decision.View.Path); err != nil {
		return r.handleErr(err, "Dashboard failed")
	}
	return 0
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parse reports ok=false with the exit code on a usage error. positional
// is the exact number of arguments the command takes.
func (r *Runner) parse(fs *pflag.FlagSet, args []string, positional int) (int, bool) {
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2, false
	}
	if fs.NArg() != positional {
		_, _ = fmt.Fprintf(r.errOut, "error: %s expects %d argument(s), got %d\n", fs.Name(), positional, fs.NArg())
		return 2, false
	}
	return 0, true
}

func (r *Runner) warnRefresh(res lifecycle.Result) {
	if res.RefreshErr != nil {
		_, _ = fmt.Fprintf(r.errOut, "warning: refresh failed: %s\n", describe(res.RefreshErr, "ticket list not refreshed"))
	}
}

func (r *Runner) writeJSON(v any) int {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return r.handleErr(err, "Failed to write output")
	}
	return 0
}

func (r *Runner) writeYAML(v any) int {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return r.handleErr(err, "Failed to write output")
	}
	if err := enc.Close(); err != nil {
		return r.handleErr(err, "Failed to write output")
	}
	return 0
}

func (r *Runner) lineReader() *bufio.Reader {
	if r.reader == nil {
		r.reader = bufio.NewReader(r.in)
	}
	return r.reader
}

// readSecret prompts without echo on a terminal and reads a plain line
// otherwise.
func (r *Runner) readSecret(prompt string) (string, error) {
	if f, ok := r.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(r.errOut, prompt)
		secret, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(r.errOut)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(secret), nil
	}
	line, err := r.lineReader().ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", apperr.Validation("password required: pass --password or pipe it on stdin")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (r *Runner) confirm(_ context.Context, prompt string) (bool, error) {
	_, _ = fmt.Fprintf(r.errOut, "%s [y/N] ", prompt)
	line, err := r.lineReader().ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func (r *Runner) handleErr(err error, fallback string) int {
	if r.logger != nil {
		r.logger.Debug("command failed", "err", err)
	}
	_, _ = fmt.Fprintf(r.errOut, "error: %s\n", describe(err, fallback))
	return 1
}

func describe(err error, fallback string) string {
	switch {
	case errors.Is(err, ticketsync.ErrNotAuthenticated):
		return "not signed in; run: helpdesk login --email <email>"
	case apperr.IsKind(err, apperr.KindNetwork):
		return fallback + ": server unreachable"
	}
	if _, ok := apperr.KindOf(err); ok {
		return apperr.UserMessage(err, fallback)
	}
	return err.Error()
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: helpdesk [--config <file>] [--server <url>] [--db <path>] [--log-level <level>] <register|login|logout|whoami|tickets|create|status|delete|dashboard> ...")
}
