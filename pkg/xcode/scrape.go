package xcode

import (
	"bufio"
	"strings"
)

// ParseSetenv recovers the value of a build variable from raw xcodebuild
// output. It understands the forms older and newer Xcode versions print
// when running script phases:
//
//	setenv NAME value
//	export NAME=value   (with "\=" and "\ " escapes)
//	NAME = value        (-showBuildSettings text output)
//
// The first occurrence wins and surrounding double quotes are stripped.
func ParseSetenv(name, text string) (string, bool) {
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if rest, ok := strings.CutPrefix(line, "setenv "+name+" "); ok {
			return unquote(rest), true
		}
		if rest, ok := strings.CutPrefix(line, "export "+name); ok {
			if v, ok := strings.CutPrefix(rest, `\=`); ok {
				return unquote(unescape(v)), true
			}
			if v, ok := strings.CutPrefix(rest, "="); ok {
				return unquote(unescape(v)), true
			}
		}
		if rest, ok := strings.CutPrefix(line, name+" = "); ok {
			return unquote(rest), true
		}
	}
	return "", false
}

// ScrapeSettings collects the product variables from build output
func ScrapeSettings(output string) map[string]string {
	settings := map[string]string{}
	for _, name := range []string{BuiltProductsDir, FullProductName} {
		if v, ok := ParseSetenv(name, output); ok {
			settings[name] = v
		}
	}
	return settings
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

func unescape(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}
