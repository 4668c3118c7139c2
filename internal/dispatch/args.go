package dispatch

import (
	"strings"
	"unicode"
)

type Command struct {
	Name string
	Args []string
}

// ParseCommand reports whether text starts with prefix and, if so, splits the rest into a
// lowercased command name and its arguments. Whitespace between the prefix and the name is allowed.
func ParseCommand(text string, prefix string) (Command, bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return Command{}, false
	}
	tokens := SplitArgs(text[len(prefix):])
	if len(tokens) == 0 || tokens[0] == "" {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(tokens[0]), Args: tokens[1:]}, true
}

// SplitArgs splits on whitespace. A token that opens with a single or double quote runs to the
// matching quote and may contain spaces; a quote with no partner is kept as a literal character.
func SplitArgs(s string) []string {
	var (
		args    []string
		cur     strings.Builder
		inToken bool
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		case (r == '"' || r == '\'') && !inToken:
			end := indexRune(runes[i+1:], r)
			inToken = true
			if end < 0 {
				cur.WriteRune(r)
				continue
			}
			cur.WriteString(string(runes[i+1 : i+1+end]))
			i += end + 1
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if inToken {
		args = append(args, cur.String())
	}
	return args
}

func indexRune(runes []rune, target rune) int {
	for i, r := range runes {
		if r == target {
			return i
		}
	}
	return -1
}
