package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Prefix marks operator commands in chat traffic.
const Prefix = "$"

// ParseError reports a malformed command. It carries the offending token and
// a usage line suitable for a chat reply.
type ParseError struct {
	Token string
	Usage string
}

func (e *ParseError) Error() string {
	if e.Usage == "" {
		return fmt.Sprintf("unknown command %q", e.Token)
	}
	return fmt.Sprintf("bad token %q, usage: %s", e.Token, e.Usage)
}

// IsCommand reports whether the chat line looks like an operator command.
func IsCommand(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), Prefix)
}

// Parse interprets a $-prefixed chat line against the command grammar. The
// verb and argument tokens are case-insensitive; $chat, $ai/$ask and $select
// keep their argument text verbatim.
func Parse(s string) (Command, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, Prefix) {
		return Command{}, &ParseError{Token: s, Usage: "commands start with " + Prefix}
	}

	fields := strings.Fields(s)
	verb := strings.ToLower(strings.TrimPrefix(fields[0], Prefix))
	args := fields[1:]

	// Remainder of the line after the verb, whitespace-trimmed but otherwise
	// untouched, for free-text arguments.
	rest := strings.TrimSpace(strings.TrimPrefix(s, fields[0]))

	switch verb {
	case "move":
		return parseMove(verb, args)
	case "jump":
		return bare(Jump, verb, args)
	case "walk":
		return parseWalk(verb, args)
	case "stop":
		return bare(Stop, verb, args)
	case "spam":
		return parseSpam(verb, args)
	case "combo":
		return parseCombo(verb, args)
	case "ai", "ask":
		if rest == "" {
			return Command{}, &ParseError{Token: verb, Usage: "$" + verb + " <question>"}
		}
		return Command{Kind: AIQuery, Verb: verb, Text: rest}, nil
	case "aiopen":
		return bare(AIOpen, verb, args)
	case "aiclose":
		return bare(AIClose, verb, args)
	case "status":
		return bare(Status, verb, args)
	case "chat":
		if rest == "" {
			return Command{}, &ParseError{Token: verb, Usage: "$chat <message>"}
		}
		return Command{Kind: Chat, Verb: verb, Text: rest}, nil
	case "on":
		return bare(Enable, verb, args)
	case "off":
		return bare(Disable, verb, args)
	case "reset":
		return bare(Reset, verb, args)
	case "find":
		return bare(FindWindows, verb, args)
	case "windows":
		return bare(ListWindows, verb, args)
	case "window", "current":
		return bare(CurrentWindow, verb, args)
	case "select":
		if rest == "" {
			return Command{}, &ParseError{Token: verb, Usage: "$select <index|title>"}
		}
		return Command{Kind: SelectWindow, Verb: verb, Selector: rest}, nil
	case "debug":
		return bare(Debug, verb, args)
	}

	return Command{}, &ParseError{Token: verb}
}

func bare(kind Kind, verb string, args []string) (Command, error) {
	if len(args) != 0 {
		return Command{}, &ParseError{Token: args[0], Usage: "$" + verb}
	}
	return Command{Kind: kind, Verb: verb}, nil
}

func parseMove(verb string, args []string) (Command, error) {
	const usage = "$move <left|right|up|down> [pixels]"
	if len(args) < 1 || len(args) > 2 {
		return Command{}, &ParseError{Token: verb, Usage: usage}
	}
	dir, ok := parseDirection(args[0])
	if !ok {
		return Command{}, &ParseError{Token: args[0], Usage: usage}
	}
	distance := DefaultMoveDistance
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return Command{}, &ParseError{Token: args[1], Usage: usage}
		}
		distance = n
	}
	return Command{Kind: Move, Verb: verb, Direction: dir, Distance: distance}, nil
}

func parseWalk(verb string, args []string) (Command, error) {
	const usage = "$walk <left|right>"
	if len(args) != 1 {
		return Command{}, &ParseError{Token: verb, Usage: usage}
	}
	switch dir := strings.ToLower(args[0]); dir {
	case string(DirLeft), string(DirRight):
		return Command{Kind: Walk, Verb: verb, Direction: Direction(dir)}, nil
	}
	return Command{}, &ParseError{Token: args[0], Usage: usage}
}

func parseSpam(verb string, args []string) (Command, error) {
	const usage = "$spam <jump|left|right|up|down> <count>"
	if len(args) != 2 {
		return Command{}, &ParseError{Token: verb, Usage: usage}
	}
	action, ok := parseAction(args[0])
	if !ok || action == ActSpace {
		return Command{}, &ParseError{Token: args[0], Usage: usage}
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return Command{}, &ParseError{Token: args[1], Usage: usage}
	}
	return Command{Kind: Spam, Verb: verb, Action: action, Count: n}, nil
}

func parseCombo(verb string, args []string) (Command, error) {
	const usage = "$combo <action> <action> [...]"
	if len(args) < 2 {
		return Command{}, &ParseError{Token: verb, Usage: usage}
	}
	actions := make([]Action, 0, len(args))
	for _, arg := range args {
		action, ok := parseAction(arg)
		if !ok {
			return Command{}, &ParseError{Token: arg, Usage: usage}
		}
		actions = append(actions, action)
	}
	return Command{Kind: Combo, Verb: verb, Actions: actions}, nil
}

func parseDirection(s string) (Direction, bool) {
	switch dir := Direction(strings.ToLower(s)); dir {
	case DirLeft, DirRight, DirUp, DirDown:
		return dir, true
	}
	return "", false
}

func parseAction(s string) (Action, bool) {
	switch action := Action(strings.ToLower(s)); action {
	case ActJump, ActSpace, ActLeft, ActRight, ActUp, ActDown:
		return action, true
	}
	return "", false
}
