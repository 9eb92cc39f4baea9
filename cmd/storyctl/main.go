// Command storyctl drives the narrative engine from the command line:
// session lifecycle, turns, and manual summarization. It talks straight
// to Redis and the completion provider with no server in between.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/storyloom/narrative-engine/internal/config"
	"github.com/storyloom/narrative-engine/internal/engine"
	"github.com/storyloom/narrative-engine/internal/logger"
	"github.com/storyloom/narrative-engine/internal/services"
	"github.com/storyloom/narrative-engine/internal/storage"
	"github.com/storyloom/narrative-engine/pkg/state"
)

const usage = `Usage: storyctl <command> [flags]

Commands:
  templates                       list active story templates
  new       -user -template       start a session
  show      -session              print a session as JSON
  turn      -session -turn (-choice | -input)
                                  play one turn
  summarize -session              force a summary update
  complete  -session              mark a session finished
  reopen    -session              re-enable turns on a finished session
  delete    -session              remove a session permanently
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg)

	store := storage.NewRedisStore(cfg.RedisAddr, cfg.DataDir, log)
	defer store.Close()

	provider := services.NewOpenRouterService(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.StoryModel, log)

	eng := engine.New(store, provider, log, engine.Config{
		StoryModel:    cfg.StoryModel,
		AnalysisModel: cfg.AnalysisModel,
		SummaryModel:  cfg.SummaryModel,
		Temperature:   &cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		HistoryLimit:  cfg.HistoryLimit,
		Triggers: state.TriggerPolicy{
			AnalysisInterval: cfg.AnalysisInterval,
			SummaryInterval:  cfg.SummaryInterval,
		},
	})

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "storage unavailable: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, eng, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Let scheduled analysis and summarization finish before exit.
	eng.Wait()
}

func run(ctx context.Context, eng *engine.Engine, command string, args []string) error {
	switch command {
	case "templates":
		return listTemplates(ctx, eng)
	case "new":
		return newSession(ctx, eng, args)
	case "show":
		return showSession(ctx, eng, args)
	case "turn":
		return playTurn(ctx, eng, args)
	case "summarize":
		return summarize(ctx, eng, args)
	case "complete":
		return setCompleted(ctx, eng, args, true)
	case "reopen":
		return setCompleted(ctx, eng, args, false)
	case "delete":
		return deleteSession(ctx, eng, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func listTemplates(ctx context.Context, eng *engine.Engine) error {
	templates, err := eng.ListTemplates(ctx)
	if err != nil {
		return err
	}
	for id, title := range templates {
		fmt.Printf("%s\t%s\n", id, title)
	}
	return nil
}

func newSession(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	user := fs.String("user", "", "user id")
	tmpl := fs.String("template", "", "story template id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *tmpl == "" {
		return fmt.Errorf("new requires -user and -template")
	}

	s, err := eng.CreateSession(ctx, *user, *tmpl)
	if err != nil {
		return err
	}
	fmt.Printf("Session %s created for %q (turn %d)\n", s.ID, s.Title, s.CurrentTurn)
	return nil
}

func sessionID(fs *flag.FlagSet, args []string) (uuid.UUID, error) {
	id := fs.String("session", "", "session id")
	if err := fs.Parse(args); err != nil {
		return uuid.Nil, err
	}
	if *id == "" {
		return uuid.Nil, fmt.Errorf("%s requires -session", fs.Name())
	}
	return uuid.Parse(*id)
}

func showSession(ctx context.Context, eng *engine.Engine, args []string) error {
	id, err := sessionID(flag.NewFlagSet("show", flag.ExitOnError), args)
	if err != nil {
		return err
	}

	s, err := eng.GetSession(ctx, id)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func playTurn(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("turn", flag.ExitOnError)
	id := fs.String("session", "", "session id")
	turn := fs.Int("turn", 0, "current turn number")
	choice := fs.String("choice", "", "chosen option text")
	input := fs.String("input", "", "free-form action text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("turn requires -session")
	}
	sid, err := uuid.Parse(*id)
	if err != nil {
		return err
	}

	res, err := eng.AdvanceTurn(ctx, engine.TurnRequest{
		SessionID:  sid,
		TurnNumber: *turn,
		Action:     state.Action{Choice: *choice, FreeText: *input},
	})
	if err != nil {
		return err
	}

	fmt.Println(res.StoryText)
	fmt.Println()
	for i, c := range res.Choices {
		fmt.Printf("  %d. %s\n", i+1, c)
	}
	fmt.Printf("\nNext turn: %d\n", res.NextTurn)
	return nil
}

func summarize(ctx context.Context, eng *engine.Engine, args []string) error {
	id, err := sessionID(flag.NewFlagSet("summarize", flag.ExitOnError), args)
	if err != nil {
		return err
	}

	summary, err := eng.Summarize(ctx, id, nil)
	if err != nil {
		return err
	}
	fmt.Println(summary)
	return nil
}

func deleteSession(ctx context.Context, eng *engine.Engine, args []string) error {
	id, err := sessionID(flag.NewFlagSet("delete", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	if err := eng.DeleteSession(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Session %s deleted\n", id)
	return nil
}

func setCompleted(ctx context.Context, eng *engine.Engine, args []string, completed bool) error {
	name := "complete"
	if !completed {
		name = "reopen"
	}
	id, err := sessionID(flag.NewFlagSet(name, flag.ExitOnError), args)
	if err != nil {
		return err
	}

	var s *state.Session
	if completed {
		s, err = eng.CompleteSession(ctx, id)
	} else {
		s, err = eng.ReopenSession(ctx, id)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Session %s completed=%v (turn %d)\n", s.ID, s.Completed, s.CurrentTurn)
	return nil
}
