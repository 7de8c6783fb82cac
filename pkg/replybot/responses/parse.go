package responses

import (
	"fmt"
	"strings"
)

// smartQuotes are rewritten to ASCII double quotes before parsing. Phone
// keyboards substitute them automatically.
var smartQuotes = strings.NewReplacer("“", `"`, "”", `"`, "„", `"`)

// ParseLearn extracts the trigger and reply from learn-command text such as
//
//	learn "good morning" reply "morning!"
//
// The text must contain exactly two double-quoted substrings; the command
// keyword and any joiner words outside the quotes are ignored. The first
// quoted substring is the trigger, the second the reply, both trimmed.
func ParseLearn(text string) (trigger, reply string, err error) {
	text = smartQuotes.Replace(text)

	parts := strings.Split(text, `"`)
	// Four quote characters split the text into five parts:
	// prefix, trigger, joiner, reply, suffix.
	if len(parts) != 5 {
		return "", "", fmt.Errorf("%w: expected two quoted strings, found %d quote marks",
			ErrMalformedInput, len(parts)-1)
	}

	trigger = strings.TrimSpace(parts[1])
	reply = strings.TrimSpace(parts[3])
	if trigger == "" || reply == "" {
		return "", "", fmt.Errorf("%w: empty trigger or reply", ErrMalformedInput)
	}
	return trigger, reply, nil
}
