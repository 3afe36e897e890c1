package content

import (
	"bytes"
	"chatline/internal/models"
	"errors"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

const MaxMessageRunes = 4096

var (
	policy   = bluemonday.UGCPolicy()
	strict   = bluemonday.StrictPolicy()
	idRegex  = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for sanitizing display names and message bodies.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// PlainText strips every tag, for terminals and notification bodies.
func PlainText(input string) string {
	return html.UnescapeString(strict.Sanitize(input))
}

// Escape escapes special characters like "<" to become "&lt;".
// It matches the behavior of html/template and is safe for use in HTML attributes.
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Render converts a markdown message body to sanitized HTML.
// Raw HTML in the source is dropped by the renderer before sanitizing.
func Render(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("failed to render message: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

// PrepareMessage trims outgoing text and rejects empty or oversized bodies.
func PrepareMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", models.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return "", fmt.Errorf("message exceeds %d characters", MaxMessageRunes)
	}
	return text, nil
}

// ValidateID checks that a workspace, channel or client id contains only
// allowed characters (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if !idRegex.MatchString(id) {
		return errors.New("id contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}
