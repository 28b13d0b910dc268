package listener

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// ParseMessage converts a raw RFC 822 message into the pipeline's input
// shape. The text/plain part is preferred; text/html is kept as a fallback
// and left for CleanBody to strip.
func ParseMessage(r io.Reader) (emaildomain.RawMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return emaildomain.RawMessage{}, fmt.Errorf("create mail reader: %w", err)
	}

	header := mr.Header

	messageID := strings.TrimSpace(header.Get("Message-Id"))
	if messageID == "" {
		messageID = "imap_" + uuid.New().String()
	}

	from := ""
	if addrs, err := header.AddressList("From"); err == nil && len(addrs) > 0 {
		from = addrs[0].String()
	} else {
		from = header.Get("From")
	}

	date := header.Get("Date")
	if date == "" {
		date = time.Now().UTC().Format(time.RFC1123Z)
	}

	subject, _ := header.Subject()

	var plainBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("[IMAP] Skipping unreadable part: %v", err)
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if plainBody == "" {
				plainBody = string(data)
			}
		case "text/html":
			if htmlBody == "" {
				htmlBody = string(data)
			}
		}
	}

	body := plainBody
	if body == "" {
		body = htmlBody
	}

	return emaildomain.RawMessage{
		MessageID:   messageID,
		InReplyToID: strings.TrimSpace(header.Get("In-Reply-To")),
		Subject:     subject,
		From:        from,
		Date:        date,
		Body:        body,
	}, nil
}
