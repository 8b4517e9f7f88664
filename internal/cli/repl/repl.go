package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"ojcore/internal/cli/command"
	httpclient "ojcore/internal/cli/http"
	"ojcore/internal/cli/state"
	pkgerrors "ojcore/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const defaultPrompt = "oj> "

// Prompter asks the user for a missing field value.
type Prompter func(field command.Field) (string, error)

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	tokenState *state.TokenState
	statePath  string
	prettyJSON bool
	out        io.Writer
	prompt     Prompter
}

func New(client *httpclient.Client, commands map[string]command.Command, tokenState *state.TokenState, statePath string, prettyJSON bool) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		tokenState: tokenState,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		out:        os.Stdout,
	}
}

// SetOutput redirects command output.
func (s *Session) SetOutput(w io.Writer) {
	s.out = w
}

// SetPrompter sets how missing required fields are collected. Without one
// they are reported as errors.
func (s *Session) SetPrompter(p Prompter) {
	s.prompt = p
}

// Run reads commands interactively until exit, EOF or an interrupt on an
// empty line.
func (s *Session) Run(ctx context.Context, historyPath string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          defaultPrompt,
		HistoryFile:     historyPath,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()

	s.out = rl.Stdout()
	s.prompt = func(field command.Field) (string, error) {
		label := field.Prompt + ": "
		if field.Secret {
			value, err := rl.ReadPassword(label)
			return strings.TrimSpace(string(value)), err
		}
		rl.SetPrompt(label)
		defer rl.SetPrompt(defaultPrompt)
		line, err := rl.Readline()
		return strings.TrimSpace(line), err
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		quit, err := s.Execute(ctx, line)
		if err != nil {
			s.printLine("error: %v", err)
		}
		if quit {
			return nil
		}
	}
}

// Execute runs one input line and reports whether the session should end.
func (s *Session) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parse command failed: %w", err)
	}
	return s.ExecuteArgs(ctx, tokens)
}

// ExecuteArgs runs an already tokenized command.
func (s *Session) ExecuteArgs(ctx context.Context, tokens []string) (bool, error) {
	if len(tokens) == 0 {
		return false, nil
	}
	switch tokens[0] {
	case "exit", "quit":
		s.printLine("bye")
		return true, nil
	case "help":
		s.printHelp()
		return false, nil
	case "set":
		return false, s.handleSet(tokens[1:])
	case "show":
		return false, s.handleShow(tokens[1:])
	}

	if len(tokens) < 2 {
		return false, fmt.Errorf("invalid command, use: <group> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return false, fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return false, err
	}
	params.Canonicalize(cmd.Fields)
	s.fillFromState(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return false, err
	}

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Body, cmd.RequiresAuth)
	if err != nil {
		return false, err
	}
	s.renderResponse(resp)
	s.updateTokenState(cmd, resp.Body)
	return false, nil
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base <url> | set timeout <duration> | set token <access_token>")
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(args[1])
		s.printLine("base set to %s", args[1])
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		s.tokenState.AccessToken = args[1]
		if err := state.Save(s.statePath, *s.tokenState); err != nil {
			return fmt.Errorf("save token failed: %w", err)
		}
		s.printLine("token updated")
	default:
		return fmt.Errorf("unknown set target: %s", args[0])
	}
	return nil
}

func (s *Session) handleShow(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: show token|config|commands")
	}
	switch args[0] {
	case "token":
		s.printLine("user: %s", s.tokenState.Username)
		s.printLine("token: %s", s.tokenState.MaskedAccessToken())
		if !s.tokenState.AccessExpiresAt.IsZero() {
			s.printLine("expires: %s", s.tokenState.AccessExpiresAt.Format(time.RFC3339))
		}
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("tokenStatePath: %s", s.statePath)
	case "commands":
		for _, key := range command.Keys(s.commands) {
			s.printLine("  %s", key)
		}
	default:
		return fmt.Errorf("usage: show token|config|commands")
	}
	return nil
}

// fillFromState supplies the stored refresh token when none was given.
func (s *Session) fillFromState(cmd command.Command, params command.Params) {
	for _, field := range cmd.Fields {
		if field.Name == "refresh_token" && params.Get(field.Name) == "" && s.tokenState.RefreshToken != "" {
			params.Set(field.Name, s.tokenState.RefreshToken)
		}
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	if s.prompt == nil {
		return nil
	}
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		value, err := s.prompt(field)
		if err != nil {
			return fmt.Errorf("read %s failed: %w", field.Name, err)
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	if resp.TraceID != "" {
		s.printLine("HTTP %d (%s) trace=%s", resp.StatusCode, resp.Duration.Round(time.Millisecond), resp.TraceID)
	} else {
		s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	}
	if len(resp.Body) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

type authEnvelope struct {
	Code int `json:"code"`
	Data struct {
		AccessToken      string    `json:"access_token"`
		RefreshToken     string    `json:"refresh_token"`
		AccessExpiresAt  time.Time `json:"access_expires_at"`
		RefreshExpiresAt time.Time `json:"refresh_expires_at"`
		User             struct {
			Username string `json:"username"`
		} `json:"user"`
	} `json:"data"`
}

func (s *Session) updateTokenState(cmd command.Command, body []byte) {
	if cmd.Group != "auth" {
		return
	}
	var resp authEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return
	}
	if resp.Code != int(pkgerrors.Success) {
		return
	}
	switch cmd.Action {
	case "login", "refresh":
		s.tokenState.Apply(state.TokenState{
			AccessToken:      resp.Data.AccessToken,
			RefreshToken:     resp.Data.RefreshToken,
			AccessExpiresAt:  resp.Data.AccessExpiresAt,
			RefreshExpiresAt: resp.Data.RefreshExpiresAt,
			Username:         resp.Data.User.Username,
		})
		if err := state.Save(s.statePath, *s.tokenState); err != nil {
			s.printLine("save token failed: %v", err)
		}
	case "logout", "logout-all", "password":
		*s.tokenState = state.TokenState{}
		if err := state.Clear(s.statePath); err != nil {
			s.printLine("clear token failed: %v", err)
		}
	}
}

func (s *Session) completer() *readline.PrefixCompleter {
	groups := map[string][]readline.PrefixCompleterInterface{}
	var order []string
	for _, key := range command.Keys(s.commands) {
		cmd := s.commands[key]
		if _, ok := groups[cmd.Group]; !ok {
			order = append(order, cmd.Group)
		}
		groups[cmd.Group] = append(groups[cmd.Group], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config"), readline.PcItem("commands")),
	}
	for _, group := range order {
		items = append(items, readline.PcItem(group, groups[group]...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printHelp() {
	s.printLine("usage: <group> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|token | show token|config|commands")
	s.printLine("examples:")
	s.printLine("  auth login username=demo")
	s.printLine("  submit create problem=1 lang=54 file=./main.cpp")
	s.printLine("  submit runs id=<submission_id>")
	s.printLine("  stats daily from=2026-01-01 to=2026-01-31")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
