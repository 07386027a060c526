// Package repl is the interactive contest session: it reads commands,
// drives the submission tracker and the leaderboard refresher, and prints
// what they report.
package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"shodhcode/internal/cli/api"
	"shodhcode/internal/cli/command"
	"shodhcode/internal/cli/config"
	httpclient "shodhcode/internal/cli/http"
	"shodhcode/internal/cli/leaderboard"
	"shodhcode/internal/cli/render"
	"shodhcode/internal/cli/state"
	"shodhcode/internal/cli/tracker"
	pkgerrors "shodhcode/pkg/errors"
	"shodhcode/pkg/utils/contextkey"
	"shodhcode/pkg/utils/logger"

	"github.com/chzyer/readline"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const basePrompt = "shodh> "

// Option customises a Session.
type Option func(*Session)

// WithClock drives polling and timestamps from clk.
func WithClock(clk clock.Clock) Option {
	return func(s *Session) { s.clock = clk }
}

// Session holds REPL state.
type Session struct {
	cfg       config.Config
	http      *httpclient.Client
	api       *api.Client
	commands  map[string]command.Command
	clock     clock.Clock
	in        LineReader
	out       *syncWriter
	render    *render.Renderer
	tracker   *tracker.Tracker
	refresher *leaderboard.Refresher

	// mu guards the fields below. It is taken inside refresher callbacks,
	// so it must never be held while calling into the refresher.
	mu            sync.Mutex
	participation state.Participation
	contest       *api.Contest
	lastRank      int
}

func New(cfg config.Config, client *httpclient.Client, participation state.Participation, in LineReader, out io.Writer, opts ...Option) *Session {
	s := &Session{
		cfg:           cfg,
		http:          client,
		api:           api.NewClient(client),
		commands:      command.Registry(),
		clock:         clock.RealClock{},
		in:            in,
		out:           &syncWriter{w: out},
		participation: participation,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.render = render.New(out, cfg.Color != nil && *cfg.Color)
	s.tracker = tracker.New(s.api, s.onUpdate,
		tracker.WithClock(s.clock),
		tracker.WithInterval(cfg.Poll.SubmissionInterval),
		tracker.WithDeadline(cfg.Poll.SubmissionDeadline),
	)
	s.refresher = leaderboard.New(s.api, s.onSnapshot,
		leaderboard.WithClock(s.clock),
		leaderboard.WithInterval(cfg.Poll.LeaderboardInterval),
	)
	return s
}

// Run reads commands until exit, end of input or ctx is done. A contest
// joined in an earlier run is resumed first.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()
	s.resume(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := s.in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				s.printLine("%s", s.render.Muted("(type exit to quit)"))
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read input failed: %w", err)
		}
		if s.Execute(ctx, line) {
			return nil
		}
	}
}

// Execute runs one input line and reports whether the session should end.
func (s *Session) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	parsed, err := command.Parse(s.commands, line)
	if err != nil {
		s.printLine("error: %v", err)
		return false
	}
	if parsed.Command.Name == command.Exit {
		s.printLine("bye")
		return true
	}
	if err := s.handleCommand(ctx, parsed); err != nil {
		if !pkgerrors.IsValidation(err) {
			logger.Debug(ctx, "command failed", zap.String("command", parsed.Command.Name), zap.Error(err))
		}
		s.printLine("%s", s.render.Error(err))
	}
	return false
}

// Close stops every background loop. It is safe to call more than once.
func (s *Session) Close() {
	s.tracker.Close()
	s.refresher.Close()
	_ = s.in.Close()
}

func (s *Session) handleCommand(ctx context.Context, line command.Line) error {
	if len(line.Command.Fields) > 0 {
		if err := s.promptMissing(line.Command, line.Params); err != nil {
			return err
		}
		if err := line.Command.Check(line.Params); err != nil {
			return err
		}
	}

	switch line.Command.Name {
	case command.Join:
		return s.handleJoin(ctx, line.Params)
	case command.Contest:
		return s.handleContest(ctx)
	case command.Problem:
		return s.handleProblem(ctx, line.Params)
	case command.Lang:
		return s.handleLang(line.Params)
	case command.Submit:
		return s.handleSubmit(ctx, line.Params)
	case command.Status:
		sub, err := s.tracker.Current()
		s.printLine("%s", s.render.Submission(sub, s.tracker.State(), s.tracker.Watching(), err))
	case command.Leaderboard:
		return s.handleLeaderboard()
	case command.Cancel:
		s.handleCancel()
	case command.Leave:
		return s.handleLeave(ctx)
	case command.Set:
		s.handleSet(line.Args)
	case command.Show:
		s.handleShow(line.Args)
	case command.Help:
		s.printHelp()
	}
	return nil
}

func (s *Session) handleJoin(ctx context.Context, params command.Params) error {
	contestID, _ := command.ParseInt64(params.Get("contest"))
	userName := strings.TrimSpace(params.Get("user"))

	contest, err := s.api.GetContest(ctx, contestID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.participation
	next := state.Participation{
		ContestID: contestID,
		UserName:  userName,
		Language:  prev.Language,
		JoinedAt:  s.clock.Now(),
	}
	if prev.ContestID == contestID {
		next.ProblemID = prev.ProblemID
	}
	s.participation = next
	s.contest = &contest
	s.lastRank = 0
	s.mu.Unlock()

	if prev.ContestID != 0 && prev.ContestID != contestID {
		s.tracker.Cancel()
		s.refresher.Stop(prev.ContestID)
	}
	if err := state.Save(s.cfg.StatePath, next); err != nil {
		logger.Warn(ctx, "save participation failed", zap.Error(err))
	}
	if err := s.refresher.Start(s.contestContext(ctx, next), contestID); err != nil {
		return err
	}
	s.in.SetPrompt(promptFor(contestID))

	s.printLine("Joined contest %d as %s", contestID, userName)
	s.printLine("%s", s.render.Contest(contest, s.clock.Now()))
	return nil
}

func (s *Session) handleContest(ctx context.Context) error {
	p, err := s.joined()
	if err != nil {
		return err
	}
	contest, err := s.api.GetContest(ctx, p.ContestID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.contest = &contest
	s.mu.Unlock()
	s.printLine("%s", s.render.Contest(contest, s.clock.Now()))
	return nil
}

func (s *Session) handleProblem(ctx context.Context, params command.Params) error {
	contest, err := s.loadContest(ctx)
	if err != nil {
		return err
	}
	id := api.ID(strings.TrimSpace(params.Get("id")))
	problem, ok := contest.Problem(id)
	if !ok {
		return pkgerrors.Newf(pkgerrors.NotFound, "problem %s is not part of contest %d", id, contest.ID)
	}
	s.updateParticipation(ctx, func(p *state.Participation) { p.ProblemID = problem.ID })
	s.printLine("%s", s.render.Problem(problem))
	return nil
}

func (s *Session) handleLang(params command.Params) error {
	lang, err := api.ParseLanguage(params.Get("name"))
	if err != nil {
		return err
	}
	s.updateParticipation(context.Background(), func(p *state.Participation) { p.Language = lang })
	s.printLine("language set to %s", lang)
	return nil
}

func (s *Session) handleSubmit(ctx context.Context, params command.Params) error {
	p, err := s.joined()
	if err != nil {
		return err
	}
	// A failed lookup is not fatal; the backend still judges the window.
	if contest, err := s.loadContest(ctx); err == nil {
		if err := contest.CheckOpen(s.clock.Now(), time.Local); err != nil {
			return err
		}
	}
	if params.Get("code") == "" && params.Get("file") == "" {
		value, err := s.promptValue("source file")
		if err != nil {
			return err
		}
		params.Set("file", value)
	}
	defaults := command.SubmissionDefaults{
		ContestID: p.ContestID,
		UserName:  p.UserName,
		ProblemID: p.ProblemID,
		Language:  p.Language,
	}
	if defaults.Language == "" {
		defaults.Language = api.LanguageJava
	}
	if defaults.ProblemID.IsZero() && strings.TrimSpace(params.Get("problem")) == "" {
		value, err := s.promptValue("problem id")
		if err != nil {
			return err
		}
		params.Set("problem", value)
	}
	req, err := command.BuildSubmission(params, defaults)
	if err != nil {
		return err
	}

	_, err = s.tracker.Submit(s.contestContext(ctx, p), req)
	if pkgerrors.Is(err, pkgerrors.SubmissionCreateFailed) {
		// Already reported through the tracker update.
		return nil
	}
	return err
}

func (s *Session) handleLeaderboard() error {
	p, err := s.joined()
	if err != nil {
		return err
	}
	snap, _ := s.refresher.Snapshot(p.ContestID)
	lastErr := s.refresher.LastError(p.ContestID)
	if snap == nil && lastErr != nil {
		return pkgerrors.Wrapf(lastErr, pkgerrors.RankingNotAvailable,
			"leaderboard for contest %d is not available: %v", p.ContestID, lastErr)
	}
	s.printLine("%s", s.render.Leaderboard(snap, p.UserName, lastErr))
	return nil
}

func (s *Session) handleCancel() {
	if !s.tracker.Watching() {
		s.printLine("%s", s.render.Muted("no submission is being watched"))
		return
	}
	sub, _ := s.tracker.Current()
	s.tracker.Cancel()
	s.printLine("stopped watching submission %s", sub.ID)
}

func (s *Session) handleLeave(ctx context.Context) error {
	p, err := s.joined()
	if err != nil {
		return err
	}
	s.tracker.Cancel()
	s.refresher.Stop(p.ContestID)

	s.mu.Lock()
	s.participation = state.Participation{Language: p.Language}
	s.contest = nil
	s.lastRank = 0
	s.mu.Unlock()

	if err := state.Clear(s.cfg.StatePath); err != nil {
		logger.Warn(ctx, "clear participation failed", zap.Error(err))
	}
	s.in.SetPrompt(basePrompt)
	s.printLine("left contest %d", p.ContestID)
	return nil
}

func (s *Session) handleSet(args []string) {
	if len(args) == 0 {
		s.printLine("usage: set base|timeout")
		return
	}
	switch args[0] {
	case "base":
		if len(args) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8080")
			return
		}
		s.http.SetBaseURL(args[1])
		s.printLine("base set to %s", s.http.BaseURL())
	case "timeout":
		if len(args) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(args[1])
		if err != nil || dur <= 0 {
			s.printLine("invalid duration: %s", args[1])
			return
		}
		s.http.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args []string) {
	topic := ""
	if len(args) > 0 {
		topic = args[0]
	}
	switch topic {
	case "config":
		s.printLine("baseURL: %s", s.http.BaseURL())
		s.printLine("timeout: %s", s.http.Timeout())
		s.printLine("statePath: %s", s.cfg.StatePath)
		s.printLine("poll: submission every %s for up to %s, leaderboard every %s",
			s.cfg.Poll.SubmissionInterval, s.cfg.Poll.SubmissionDeadline, s.cfg.Poll.LeaderboardInterval)
	case "state":
		s.mu.Lock()
		p := s.participation
		s.mu.Unlock()
		if !p.Joined() {
			s.printLine("not joined")
			return
		}
		data, _ := json.MarshalIndent(p, "", "  ")
		s.printLine("%s", string(data))
	default:
		s.printLine("usage: show config|state")
	}
}

func (s *Session) printHelp() {
	s.printLine("%s", s.render.Title("Commands"))
	for _, cmd := range command.Sorted(s.commands) {
		name := cmd.Usage
		if len(cmd.Aliases) > 0 {
			name += " (" + strings.Join(cmd.Aliases, ", ") + ")"
		}
		s.printLine("  %-48s %s", name, s.render.Muted(cmd.Summary))
	}
	s.printLine("Fields may be given positionally: join 42 alice")
}

// resume reattaches to the contest saved by an earlier run.
func (s *Session) resume(ctx context.Context) {
	s.mu.Lock()
	p := s.participation
	s.mu.Unlock()
	if !p.Joined() {
		s.in.SetPrompt(basePrompt)
		return
	}
	s.in.SetPrompt(promptFor(p.ContestID))
	s.printLine("Rejoined contest %d as %s", p.ContestID, p.UserName)
	if err := s.refresher.Start(s.contestContext(ctx, p), p.ContestID); err != nil {
		s.printLine("%s", s.render.Error(err))
	}
	if _, err := s.loadContest(ctx); err != nil {
		s.printLine("%s", s.render.Error(err))
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Missing(params) {
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		if value == "" {
			return pkgerrors.RequiredField(field.Name)
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(prompt string) (string, error) {
	s.mu.Lock()
	restore := promptFor(s.participation.ContestID)
	s.mu.Unlock()

	s.in.SetPrompt(prompt + ": ")
	defer s.in.SetPrompt(restore)
	line, err := s.in.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) joined() (state.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.participation.Joined() {
		return state.Participation{}, pkgerrors.New(pkgerrors.ContestNotJoined)
	}
	return s.participation, nil
}

func (s *Session) loadContest(ctx context.Context) (api.Contest, error) {
	p, err := s.joined()
	if err != nil {
		return api.Contest{}, err
	}
	s.mu.Lock()
	cached := s.contest
	s.mu.Unlock()
	if cached != nil && cached.ID == p.ContestID {
		return *cached, nil
	}
	contest, err := s.api.GetContest(ctx, p.ContestID)
	if err != nil {
		return api.Contest{}, err
	}
	s.mu.Lock()
	s.contest = &contest
	s.mu.Unlock()
	return contest, nil
}

func (s *Session) updateParticipation(ctx context.Context, apply func(p *state.Participation)) {
	s.mu.Lock()
	apply(&s.participation)
	p := s.participation
	s.mu.Unlock()
	if !p.Joined() {
		return
	}
	if err := state.Save(s.cfg.StatePath, p); err != nil {
		logger.Warn(ctx, "save participation failed", zap.Error(err))
	}
}

func (s *Session) contestContext(ctx context.Context, p state.Participation) context.Context {
	ctx = context.WithValue(ctx, contextkey.ContestID, p.ContestID)
	return context.WithValue(ctx, contextkey.UserName, p.UserName)
}

// onUpdate runs under the tracker lock.
func (s *Session) onUpdate(u tracker.Update) {
	s.printLine("%s", s.render.Update(u))
}

// onSnapshot runs under the refresher lock. It only announces rank
// changes; the full table is printed by the leaderboard command.
func (s *Session) onSnapshot(snap *leaderboard.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ContestID != s.participation.ContestID {
		return
	}
	rank, solved := 0, int64(0)
	for i, entry := range snap.Entries {
		if entry.UserName == s.participation.UserName {
			rank, solved = i+1, entry.Solved
			break
		}
	}
	if rank == 0 || rank == s.lastRank {
		return
	}
	s.lastRank = rank
	s.printLine("%s", s.render.Muted(fmt.Sprintf("leaderboard: you are #%d with %d solved", rank, solved)))
}

func (s *Session) printLine(format string, args ...interface{}) {
	s.out.printLine(format, args...)
}

func promptFor(contestID int64) string {
	if contestID <= 0 {
		return basePrompt
	}
	return fmt.Sprintf("shodh[%d]> ", contestID)
}
