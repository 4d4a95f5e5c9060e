package shell

import "strings"

const redacted = "******"

// Quote quotes an argument for display as part of a POSIX shell command.
// Arguments made only of safe characters are returned as is.
func Quote(arg string) string {
	if arg == "" {
		return "''"
	}
	if strings.IndexFunc(arg, unsafeRune) < 0 {
		return arg
	}
	return `'` + strings.ReplaceAll(arg, "'", `'\''`) + `'`
}

func unsafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("@%+=:,./-_", r)
}

// Join quotes every argument and joins them with spaces
func Join(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Redact masks every non-empty secret in s
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, Quote(secret), redacted)
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}
