package rag

import (
	"strings"

	"mailpilot-backend/pkg/openai"
)

// PromptTemplate is the prompt as data: the policy text lives in a
// versioned value so tone and drafting rules can be tested and changed
// without touching the streaming logic.
type PromptTemplate struct {
	Version      int
	System       string
	DraftPolicy  string
	MemoryPrefix string
}

// DefaultPromptTemplate is the current production template.
var DefaultPromptTemplate = PromptTemplate{
	Version: 2,
	System: "You are a helpful assistant that answers questions using the provided context, " +
		"which may include emails and documents (attachments such as PDFs, Word files, or text files). " +
		"Use both email content and document excerpts to answer. " +
		"If the context does not contain the answer, say you do not have enough information.",
	DraftPolicy: "When asked to draft an email, first decide whether it is a reply or a follow-up: " +
		"look at who authored the most recent message in the matched thread, using the direction and from metadata. " +
		"If the mailbox owner wrote it (marked \"sent by you\"), compose a follow-up; otherwise compose a reply to the sender. " +
		"If you cannot determine all of the recipient, the thread, and the topic, do not draft; " +
		"ask a single clarifying question instead.",
	MemoryPrefix: "Conversation memory (use for context only): ",
}

// SystemMessage assembles the system prompt, appending the rolling memory
// summary when one exists.
func (t PromptTemplate) SystemMessage(memorySummary string) string {
	content := t.System + " " + t.DraftPolicy
	if summary := strings.TrimSpace(memorySummary); summary != "" {
		content += "\n\n" + t.MemoryPrefix + summary
	}
	return content
}

// UserMessage frames the question together with the retrieved context.
func (t PromptTemplate) UserMessage(question, context string) string {
	if context == "" {
		context = NoContextSentinel
	}
	return strings.Join([]string{
		"Question: " + question,
		"",
		"Context:",
		context,
	}, "\n")
}

// BuildMessages produces the full chat request: system prompt, prior turns
// (already capped by the caller), then the framed question.
func (t PromptTemplate) BuildMessages(question, context, memorySummary string, prior []openai.Message) []openai.Message {
	messages := make([]openai.Message, 0, len(prior)+2)
	messages = append(messages, openai.Message{Role: "system", Content: t.SystemMessage(memorySummary)})
	messages = append(messages, prior...)
	messages = append(messages, openai.Message{Role: "user", Content: t.UserMessage(question, context)})
	return messages
}
