// Command askgate runs the tutoring gateway as an HTTP service or answers
// one-off commands against the same storage.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ineyio/askgate"
	"github.com/ineyio/askgate/internal/config"
	logpkg "github.com/ineyio/askgate/internal/logger"
	chiTransport "github.com/ineyio/askgate/internal/transport/chi"
)

const usage = `Usage: askgate [-config path] <command> [args]

Commands:
  serve                     run the HTTP API
  ask [-mode m] <question>  ask one question (mode: simple, standard, detailed)
  quota                     show plan, daily usage and trial days
  plan <free|paid>          set the plan tier
  refresh                   re-derive the plan from the purchase authority
  restore                   restore purchases
  purchase                  buy the subscription
  categories                list question categories
  questions <id> [keyword]  list questions of a category
`

func main() {
	fs := flag.NewFlagSet("askgate", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("ASKGATE_CONFIG"), "path to YAML config")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, fs.Arg(0), fs.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, command string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logpkg.NewLogger(cfg.Env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logpkg.ContextWithLogger(ctx, logger)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch command {
	case "serve":
		return a.serve(ctx)
	case "ask":
		return a.ask(ctx, args)
	case "quota":
		return a.quota(ctx)
	case "plan":
		return a.plan(ctx, args)
	case "refresh", "restore", "purchase":
		return a.entitlement(ctx, command)
	case "categories":
		for _, c := range a.catalog.Categories {
			fmt.Printf("%s\t%s\n", c.ID, c.Title)
		}
		return nil
	case "questions":
		return a.questions(args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.service.Ledger().FollowPlanTier(ctx); err != nil {
		a.logger.Warn("plan tier watch disabled", zap.Error(err))
	}
	if a.entitlements != nil {
		if err := a.entitlements.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = a.entitlements.Close() }()
	}

	server := chiTransport.NewServer(a.service, a.entitlements, a.catalog, a.registry, a.logger)
	hc := a.cfg.HTTP
	srv := &http.Server{
		Addr:         hc.Addr,
		Handler:      server.Handler(hc.CORSOrigins),
		ReadTimeout:  time.Duration(hc.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(hc.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", hc.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(hc.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Error during shutdown", zap.Error(err))
	}
	a.logger.Info("Server stopped gracefully")
	return nil
}

func (a *app) ask(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	modeName := fs.String("mode", string(askgate.ModeStandard), "answer mode")
	_ = fs.Parse(args)

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return errors.New("ask: question is required")
	}
	mode, err := askgate.ParseAnswerMode(*modeName)
	if err != nil {
		return err
	}

	ans, err := a.service.Ask(ctx, question, mode)
	switch {
	case errors.Is(err, askgate.ErrTrialExpired):
		fmt.Println("The free trial has ended. Subscribe to keep asking.")
		return nil
	case errors.Is(err, askgate.ErrQuotaExceeded):
		fmt.Println("Today's questions are used up. Try again tomorrow.")
		return nil
	case errors.Is(err, askgate.ErrNoAnswer):
		a.logger.Warn("no answer", zap.Error(err))
		fmt.Println("No answer is available right now. Please try again later.")
		return nil
	case err != nil:
		return err
	}

	if ans.FromCache {
		fmt.Println("(today's quota is used; showing the last answer)")
	}
	fmt.Println(ans.Message.Content)
	return nil
}

func (a *app) quota(ctx context.Context) error {
	l := a.service.Ledger()
	fmt.Printf("plan:        %s\n", l.PlanTier(ctx))
	fmt.Printf("used today:  %d/%d\n", l.UsedToday(ctx), l.DailyLimit(ctx))
	if days, ok := l.RemainingTrialDays(ctx); ok {
		fmt.Printf("trial days:  %d\n", days)
	}
	return nil
}

func (a *app) plan(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("plan: expected free or paid")
	}
	return a.service.Ledger().SetPlanTier(ctx, askgate.PlanTier(args[0]))
}

func (a *app) entitlement(ctx context.Context, command string) error {
	if a.entitlements == nil {
		return errors.New("no purchase authority configured")
	}

	switch command {
	case "refresh":
		subscribed, err := a.entitlements.Refresh(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("subscribed: %t\n", subscribed)
	case "restore":
		_, err := a.entitlements.Restore(ctx)
		if errors.Is(err, askgate.ErrNoActiveEntitlement) {
			fmt.Println("No valid subscription found.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println("Subscription restored.")
	case "purchase":
		status, err := a.entitlements.Purchase(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purchase: %s\n", status)
	}
	return nil
}

func (a *app) questions(args []string) error {
	if len(args) == 0 {
		return errors.New("questions: category id is required")
	}
	keyword := strings.Join(args[1:], " ")
	qs, ok := a.catalog.Search(args[0], keyword)
	if !ok {
		return fmt.Errorf("unknown category %q", args[0])
	}
	for _, q := range qs {
		fmt.Println(q)
	}
	return nil
}
