// Package format renders bot output for Matrix rooms: command output
// with size-based truncation, markdown detection with HTML rendering,
// and plain-text extraction from HTML.
package format

import "context"

// Sender delivers one message to a room. html is the optional
// org.matrix.custom.html rendering and may be empty.
type Sender interface {
	Send(ctx context.Context, text, html string) error
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(ctx context.Context, text, html string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, text, html string) error {
	return f(ctx, text, html)
}

// SendMarkdown sends text with an HTML rendering when it contains
// markdown, and as plain text otherwise.
func SendMarkdown(ctx context.Context, s Sender, text string) error {
	if HasMarkdown(text) {
		return s.Send(ctx, text, ToHTML(text))
	}
	return s.Send(ctx, text, "")
}

// SendPlain sends text without any HTML rendering.
func SendPlain(ctx context.Context, s Sender, text string) error {
	return s.Send(ctx, text, "")
}
