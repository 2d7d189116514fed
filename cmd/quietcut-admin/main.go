// Command quietcut-admin is the operational CLI: migrations, account
// seeding, and manual job queue operations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/quietcut/quietcut/config"
	"github.com/quietcut/quietcut/internal/bootstrap"
	"github.com/quietcut/quietcut/internal/data"
	"github.com/quietcut/quietcut/internal/domain/model"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrateCommand,
		},
		"seed-account": {
			name:        "seed-account",
			description: "Create an account with an email and credit balance",
			run:         runSeedAccount,
		},
		"enqueue": {
			name:        "enqueue",
			description: "Enqueue a silence-removal job for an uploaded object",
			run:         runEnqueue,
		},
		"retry": {
			name:        "retry",
			description: "Re-queue a failed job, charging one credit",
			run:         runRetry,
		},
		"stats": {
			name:        "stats",
			description: "Show job counts per state",
			run:         runStats,
		},
		"show": {
			name:        "show",
			description: "Show a job record as JSON",
			run:         runShow,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: quietcut-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(os.Stdout, "  %-16s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func runMigrateCommand(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "migration timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(ctx, db)

	runCtx, cancel := context.WithTimeout(ctx.Ctx, *timeout)
	defer cancel()
	return bootstrap.RunMigrations(runCtx, db, ctx.Logger)
}

func runSeedAccount(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("seed-account", flag.ContinueOnError)
	email := fs.String("email", "", "account email (required)")
	credits := fs.Int("credits", 5, "initial credit balance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("-email is required")
	}
	if *credits < 0 {
		return errors.New("-credits must not be negative")
	}

	db, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(ctx, db)

	account, err := data.NewAccountRepo(db, nil).Create(ctx.Ctx, *email, *credits)
	if err != nil {
		if errors.Is(err, data.ErrAccountExists) {
			return fmt.Errorf("account with email %q already exists", *email)
		}
		return err
	}
	return writef(os.Stdout, "created account %s (%s) with %d credits\n", account.ID, account.Email, account.Credits)
}

func runEnqueue(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	id := fs.String("id", "", "job id (defaults to a new UUID)")
	owner := fs.String("owner", "", "owner account id (required)")
	inputKey := fs.String("input-key", "", "object key of the uploaded source (required)")
	filename := fs.String("filename", "", "original filename (required)")
	size := fs.Int64("size", 0, "source size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := &model.EnqueueJobRequest{
		ID:               *id,
		OwnerID:          *owner,
		InputKey:         *inputKey,
		OriginalFilename: *filename,
		SizeBytes:        *size,
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		return err
	}

	db, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(ctx, db)

	created, err := data.NewJobRepo(db, data.RepoConfig{Logger: ctx.Logger}).Enqueue(ctx.Ctx, req)
	if err != nil {
		if errors.Is(err, data.ErrUnknownOwner) {
			return fmt.Errorf("owner account %s does not exist", req.OwnerID)
		}
		return err
	}
	if !created {
		return writef(os.Stdout, "job %s already enqueued\n", req.ID)
	}
	return writef(os.Stdout, "enqueued job %s\n", req.ID)
}

func runRetry(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: retry <job-id>")
	}
	jobID := fs.Arg(0)

	db, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(ctx, db)

	transitioned, err := data.NewJobRepo(db, data.RepoConfig{Logger: ctx.Logger}).Retry(ctx.Ctx, jobID)
	if err != nil {
		if errors.Is(err, data.ErrInsufficientCredits) {
			return fmt.Errorf("owner of job %s has no credits left", jobID)
		}
		return err
	}
	if !transitioned {
		return writef(os.Stdout, "job %s is not failed; nothing to retry\n", jobID)
	}
	return writef(os.Stdout, "job %s re-queued\n", jobID)
}

func runStats(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(ctx, db)

	stats, err := data.NewJobRepo(db, data.RepoConfig{Logger: ctx.Logger}).Stats(ctx.Ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "queued\t%d\n", stats.Queued)
	fmt.Fprintf(w, "processing\t%d\n", stats.Processing)
	fmt.Fprintf(w, "completed\t%d\n", stats.Completed)
	fmt.Fprintf(w, "failed\t%d\n", stats.Failed)
	return w.Flush()
}

func runShow(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: show <job-id>")
	}
	jobID := fs.Arg(0)

	db, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB(ctx, db)

	job, err := data.NewJobRepo(db, data.RepoConfig{Logger: ctx.Logger}).GetByID(ctx.Ctx, jobID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return fmt.Errorf("job %s not found", jobID)
		}
		return err
	}

	out, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	return writef(os.Stdout, "%s\n", out)
}
