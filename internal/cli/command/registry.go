package command

import (
	"fmt"
	"sort"
	"strings"

	"shodhcode/internal/cli/api"
	pkgerrors "shodhcode/pkg/errors"

	"github.com/google/shlex"
)

// Command names.
const (
	Join        = "join"
	Contest     = "contest"
	Problem     = "problem"
	Lang        = "lang"
	Submit      = "submit"
	Status      = "status"
	Leaderboard = "leaderboard"
	Cancel      = "cancel"
	Leave       = "leave"
	Set         = "set"
	Show        = "show"
	Help        = "help"
	Exit        = "exit"
)

// Registry returns all REPL commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:    Join,
			Usage:   "join contest=<id> user=<name>",
			Summary: "join a contest and start watching its leaderboard",
			Fields: []Field{
				{Name: "contest", Aliases: []string{"contest_id", "c"}, Prompt: "contest id", Type: FieldInt64, Required: true},
				{Name: "user", Aliases: []string{"username", "name", "u"}, Prompt: "your name", Type: FieldString, Required: true},
			},
		},
		{
			Name:    Contest,
			Usage:   "contest",
			Summary: "show the joined contest and its problems",
		},
		{
			Name:    Problem,
			Aliases: []string{"p"},
			Usage:   "problem id=<id>",
			Summary: "show a problem statement and select it",
			Fields: []Field{
				{Name: "id", Aliases: []string{"problem", "problem_id"}, Prompt: "problem id", Type: FieldString, Required: true},
			},
		},
		{
			Name:    Lang,
			Aliases: []string{"language"},
			Usage:   "lang name=<java|python|cpp>",
			Summary: "select the submission language",
			Fields: []Field{
				{Name: "name", Aliases: []string{"lang", "language"}, Prompt: "language", Type: FieldLanguage, Required: true},
			},
		},
		{
			Name:    Submit,
			Usage:   "submit file=<path> [problem=<id>] [lang=<language>]",
			Summary: "submit code and watch it being judged",
			Fields: []Field{
				{Name: "file", Aliases: []string{"source_file", "f"}, Prompt: "source file", Type: FieldFile},
				{Name: "code", Aliases: []string{"source_code"}, Prompt: "code", Type: FieldString},
				{Name: "problem", Aliases: []string{"problem_id", "p"}, Prompt: "problem id", Type: FieldString},
				{Name: "lang", Aliases: []string{"language", "l"}, Prompt: "language", Type: FieldLanguage},
			},
		},
		{
			Name:    Status,
			Aliases: []string{"st"},
			Usage:   "status",
			Summary: "show the tracked submission",
		},
		{
			Name:    Leaderboard,
			Aliases: []string{"lb", "rank"},
			Usage:   "leaderboard",
			Summary: "show the latest leaderboard",
		},
		{
			Name:    Cancel,
			Usage:   "cancel",
			Summary: "stop watching the current submission",
		},
		{
			Name:    Leave,
			Usage:   "leave",
			Summary: "leave the contest and stop refreshing",
		},
		{
			Name:    Set,
			Usage:   "set base <url> | set timeout <duration>",
			Summary: "change connection settings",
		},
		{
			Name:    Show,
			Usage:   "show config|state",
			Summary: "print settings or saved state",
		},
		{
			Name:    Help,
			Aliases: []string{"?"},
			Usage:   "help",
			Summary: "list commands",
		},
		{
			Name:    Exit,
			Aliases: []string{"quit", "q"},
			Usage:   "exit",
			Summary: "leave the client",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// Lookup finds a command by name or alias.
func Lookup(commands map[string]Command, name string) (Command, bool) {
	name = strings.ToLower(name)
	if cmd, ok := commands[name]; ok {
		return cmd, true
	}
	for _, cmd := range commands {
		for _, alias := range cmd.Aliases {
			if alias == name {
				return cmd, true
			}
		}
	}
	return Command{}, false
}

// Sorted returns commands ordered by name.
func Sorted(commands map[string]Command) []Command {
	result := make([]Command, 0, len(commands))
	for _, cmd := range commands {
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Line is one parsed input line.
type Line struct {
	Command Command
	Params  Params
	// Args holds the raw tokens after the command name, for commands
	// without fields such as set and show.
	Args []string
}

// Parse tokenises a line. Tokens of the form key=value fill params;
// bare tokens fill the command's fields in declaration order.
func Parse(commands map[string]Command, line string) (Line, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return Line{}, fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return Line{}, fmt.Errorf("empty command")
	}
	cmd, ok := Lookup(commands, tokens[0])
	if !ok {
		return Line{}, fmt.Errorf("unknown command: %s (try help)", tokens[0])
	}

	parsed := Line{Command: cmd, Params: Params{}, Args: tokens[1:]}
	if len(cmd.Fields) == 0 {
		return parsed, nil
	}
	next := 0
	for _, token := range tokens[1:] {
		if key, value, found := strings.Cut(token, "="); found && key != "" {
			parsed.Params.Set(key, value)
			continue
		}
		if next >= len(cmd.Fields) {
			return Line{}, fmt.Errorf("unexpected argument: %s", token)
		}
		parsed.Params.Set(cmd.Fields[next].Name, token)
		next++
	}
	parsed.Params.Canonicalize(cmd.Fields)
	for key := range parsed.Params {
		if !hasField(cmd, key) {
			return Line{}, fmt.Errorf("invalid param: %s", key)
		}
	}
	return parsed, nil
}

func hasField(cmd Command, key string) bool {
	for _, field := range cmd.Fields {
		if strings.EqualFold(field.Name, key) {
			return true
		}
	}
	return false
}

// SubmissionDefaults fills what a submit line leaves out.
type SubmissionDefaults struct {
	ContestID int64
	UserName  string
	ProblemID api.ID
	Language  api.Language
}

// BuildSubmission assembles a submission from submit params. Source comes
// from code= or from the file named by file=.
func BuildSubmission(params Params, defaults SubmissionDefaults) (api.SubmissionRequest, error) {
	req := api.SubmissionRequest{
		ContestID: defaults.ContestID,
		UserName:  defaults.UserName,
		ProblemID: defaults.ProblemID,
		Language:  defaults.Language,
		Code:      params.Get("code"),
	}
	if id := strings.TrimSpace(params.Get("problem")); id != "" {
		req.ProblemID = api.ID(id)
	}
	if value := params.Get("lang"); value != "" {
		lang, err := api.ParseLanguage(value)
		if err != nil {
			return req, err
		}
		req.Language = lang
	}
	if path := params.Get("file"); path != "" {
		if req.Code != "" {
			return req, pkgerrors.ValidationError("code", "conflicts with file")
		}
		code, err := ReadFile(path)
		if err != nil {
			return req, pkgerrors.Wrapf(err, pkgerrors.InvalidParams, "%v", err)
		}
		req.Code = code
	}
	return req, nil
}
