package gcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"helical-go-migration/pkg/rigerr"
)

// reParenComment strips inline parenthesized comments before
// tokenizing.
var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// Word is one letter token from a command line. "R-1500" parses to
// letter R, value -1500; bare letters ("G92 R T") carry no value. Feed
// words may name an axis between the F and the number ("FR120000"),
// recorded in Axis; a plain "F100000" leaves Axis zero.
type Word struct {
	Letter   byte
	Axis     byte
	Value    float64
	HasValue bool

	// Raw is the uppercased source token, kept for rejection messages.
	Raw string
}

// Command is one parsed input line.
//
// For G and M commands, Letter and Number carry the code and Words the
// remaining tokens in source order. A line that opens with a feed word
// parses with Letter 'F' and every token in Words; Number is unused.
type Command struct {
	Letter byte
	Number int
	Words  []Word

	// Ignored holds tokens that did not parse as words. The executor
	// reports them and carries on; stray console input has never been
	// grounds for dropping a whole line on this rig.
	Ignored []string

	// Raw is the stripped source line.
	Raw string
}

// Name returns the command's display name: "G1", "M114", or "F" for a
// standalone feed line.
func (c *Command) Name() string {
	if c.Letter == 'F' {
		return "F"
	}
	return fmt.Sprintf("%c%d", c.Letter, c.Number)
}

// StripComment removes a trailing ';' comment and any parenthesized
// comments, then trims surrounding whitespace.
func StripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	if strings.IndexByte(line, '(') >= 0 {
		line = reParenComment.ReplaceAllString(line, " ")
	}
	return strings.TrimSpace(line)
}

// ParseLine parses one input line. It returns a nil Command for a line
// that is empty after comment stripping. The head token must carry a G
// or M code or open with a feed word; anything else rejects the line.
func ParseLine(line string) (*Command, error) {
	stripped := StripComment(line)
	if stripped == "" {
		return nil, nil
	}
	fields := strings.Fields(stripped)

	cmd := &Command{Raw: stripped}
	head := strings.ToUpper(fields[0])
	switch head[0] {
	case 'G', 'M':
		num, err := strconv.ParseFloat(head[1:], 64)
		if err != nil {
			return nil, rigerr.Command("malformed command head: " + fields[0])
		}
		cmd.Letter = head[0]
		cmd.Number = int(num)
		fields = fields[1:]
	case 'F':
		// Feed words carry their own data, so the head stays in the
		// token list.
		cmd.Letter = 'F'
	default:
		return nil, rigerr.Command("unknown command head: " + fields[0])
	}

	for _, f := range fields {
		w, ok := parseWord(strings.ToUpper(f))
		if !ok {
			cmd.Ignored = append(cmd.Ignored, f)
			continue
		}
		cmd.Words = append(cmd.Words, w)
	}
	return cmd, nil
}

// parseWord parses one uppercased token. A bare letter parses with
// HasValue false; a letter whose remainder is not numeric does not
// parse at all. Feed words accept an optional axis letter between the
// F and the value.
func parseWord(token string) (Word, bool) {
	letter := token[0]
	if letter < 'A' || letter > 'Z' {
		return Word{}, false
	}
	w := Word{Letter: letter, Raw: token}
	rest := token[1:]
	if letter == 'F' && rest != "" && rest[0] >= 'A' && rest[0] <= 'Z' {
		w.Axis = rest[0]
		rest = rest[1:]
	}
	if rest == "" {
		return w, true
	}
	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return Word{}, false
	}
	w.Value = v
	w.HasValue = true
	return w, true
}
