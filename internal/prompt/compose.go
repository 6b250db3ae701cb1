// Package prompt assembles the provider prompt from a listing title and a
// script produced upstream. The script text itself is not generated here.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MaxRunes caps the prompt sent to the provider.
const MaxRunes = 2000

type Input struct {
	Title           string
	Script          string
	Format          string
	DurationSeconds int
	Locale          string
}

var orientation = map[string]string{
	"9:16": "vertical",
	"4:5":  "portrait",
	"1:1":  "square",
	"16:9": "landscape",
}

// Compose returns the provider prompt, or "" when there is nothing to render.
func Compose(in Input) string {
	title := collapse(in.Title)
	script := collapse(in.Script)
	if title == "" && script == "" {
		return ""
	}

	tag := language.Und
	if in.Locale != "" {
		if parsed, err := language.Parse(in.Locale); err == nil {
			tag = parsed
		}
	}

	var sb strings.Builder
	if title != "" {
		sb.WriteString(cases.Title(tag).String(title))
		if script != "" {
			sb.WriteString(": ")
		}
	}
	if script != "" {
		sb.WriteString(script)
	}
	if !strings.HasSuffix(sb.String(), ".") {
		sb.WriteString(".")
	}

	shape := orientation[in.Format]
	if shape == "" {
		shape = in.Format
	}
	if shape != "" && in.DurationSeconds > 0 {
		fmt.Fprintf(&sb, " Render a %s %d second product video.", shape, in.DurationSeconds)
	}
	if in.Locale != "" {
		fmt.Fprintf(&sb, " Any on-screen text in %s.", tag.String())
	}
	return truncate(sb.String(), MaxRunes)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
