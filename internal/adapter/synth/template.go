// Package synth holds the reply synthesizers: a deterministic template
// synthesizer, a circuit breaker wrapper and (with -tags bedrock) an AWS
// Bedrock backed one.
package synth

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"mcpchat/internal/domain"
)

// Canned closing lines, picked by keywords in the user's message.
const (
	replyGreeting = "Hello! How can I assist you today?"
	replyHelp     = "I'm here to help! You can ask me questions, request file operations, web searches, or code execution through MCP tools."
	replyFile     = "I can help you with file operations. Would you like me to read, write, or list files?"
	replySearch   = "I can search the web for current information. What would you like me to search for?"
	replyCode     = "I can execute code in various programming languages. What code would you like me to run?"
	replyDefault  = "Thank you for your message. I'm here to help with various tasks including file operations, web searches, and code execution."
)

var contextual = []struct {
	words []string
	reply string
}{
	{[]string{"hello", "hi", "hey"}, replyGreeting},
	{[]string{"help"}, replyHelp},
	{[]string{"file", "files", "read", "write", "list", "directory"}, replyFile},
	{[]string{"search", "web"}, replySearch},
	{[]string{"code", "execute", "run"}, replyCode},
}

// Template builds replies without any model: it echoes the message, names
// the tools that ran, embeds every outcome (rejected calls included) and
// closes with a keyword-picked line.
type Template struct{}

// NewTemplate returns a template synthesizer.
func NewTemplate() *Template { return &Template{} }

// Name implements domain.Synthesizer.
func (*Template) Name() string { return "template" }

// Synthesize implements domain.Synthesizer.
func (*Template) Synthesize(ctx context.Context, in domain.SynthesisInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewDomainError("Template.Synthesize", domain.ErrTransport, err.Error())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I understand you said: %q\n\n", in.Message)

	if len(in.Outcomes) > 0 {
		var used []string
		for _, o := range in.Outcomes {
			if o.Invoked {
				used = append(used, o.Name)
			}
		}
		if len(used) > 0 {
			b.WriteString("I used the following tools to help you:\n")
			for _, name := range used {
				b.WriteString("- " + name + "\n")
			}
			b.WriteString("\n")
		}
		b.WriteString("Tool execution results:\n")
		for _, o := range in.Outcomes {
			writeOutcome(&b, o)
		}
		b.WriteString("\n")
	}

	b.WriteString(closingLine(in.Message))
	return b.String(), nil
}

func writeOutcome(b *strings.Builder, o domain.ToolOutcome) {
	switch {
	case o.Err != nil:
		fmt.Fprintf(b, "[%s] failed: %v\n", o.Name, o.Err)
	case o.Result == nil:
		fmt.Fprintf(b, "[%s] returned nothing\n", o.Name)
	case o.Result.IsError:
		fmt.Fprintf(b, "[%s] failed: %s\n", o.Name, o.Result.Content)
	default:
		fmt.Fprintf(b, "[%s]\n%s\n", o.Name, strings.TrimRight(o.Result.Content, "\n"))
	}
}

func closingLine(message string) string {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		words[w] = true
	}
	for _, c := range contextual {
		for _, w := range c.words {
			if words[w] {
				return c.reply
			}
		}
	}
	return replyDefault
}

var _ domain.Synthesizer = (*Template)(nil)
