package connection

import (
	"regexp"
	"strings"
)

var posixUnsafe = regexp.MustCompile(`[^\w@%+=:,./-]`)

// QuotePOSIX quotes s for a POSIX shell. Strings made only of safe
// characters are returned unchanged.
func QuotePOSIX(s string) string {
	if s == "" {
		return "''"
	}
	if !posixUnsafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

var cmdMeta = strings.NewReplacer(
	"(", "^(",
	")", "^)",
	"%", "^%",
	"!", "^!",
	"^", "^^",
	`"`, `^"`,
	"<", "^<",
	">", "^>",
	"&", "^&",
	"|", "^|",
)

// QuoteWindows quotes s for cmd.exe: arguments that are empty or contain
// whitespace or quotes are wrapped in double quotes for CommandLineToArgvW,
// then cmd.exe metacharacters are caret-escaped.
func QuoteWindows(s string) string {
	if s == "" || strings.ContainsAny(s, "\" \t\n\v") {
		s = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return cmdMeta.Replace(s)
}

// JoinCommand renders argv as a single command line for the target's shell.
func JoinCommand(os TargetOS, argv []string) string {
	quote := QuotePOSIX
	if os == Windows {
		quote = QuoteWindows
	}

	parts := make([]string, len(argv))
	for i, arg := range argv {
		parts[i] = quote(arg)
	}
	return strings.Join(parts, " ")
}
