package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// GenerationRequest is one decoded queue record.
type GenerationRequest struct {
	Text      string
	Recipient string
}

// wireRequest mirrors the JSON a producer puts on the queue.
type wireRequest struct {
	Text  *string `json:"text"`
	Email *string `json:"email"`
}

var (
	errEmptyPayload     = errors.New("empty payload")
	errMissingText      = errors.New("missing text")
	errMissingRecipient = errors.New("missing email")
)

// Decode parses a raw record into a GenerationRequest.
// The recipient is only mandatory when requireRecipient is set; a recipient
// that is required must also be a valid mailbox address.
func Decode(raw []byte, requireRecipient bool) (GenerationRequest, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return GenerationRequest{}, DecodeError("decode request", errEmptyPayload)
	}

	var wire wireRequest
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return GenerationRequest{}, DecodeError("decode request", err)
	}
	if wire.Text == nil {
		return GenerationRequest{}, DecodeError("decode request", errMissingText)
	}

	req := GenerationRequest{Text: *wire.Text}
	if wire.Email != nil {
		req.Recipient = strings.TrimSpace(*wire.Email)
	}

	if requireRecipient {
		if req.Recipient == "" {
			return GenerationRequest{}, DecodeError("decode request", errMissingRecipient)
		}
		if err := validateRecipient(req.Recipient); err != nil {
			return GenerationRequest{}, DecodeError("decode request", err)
		}
	}

	return req, nil
}

func validateRecipient(addr string) error {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return fmt.Errorf("invalid email %q: %w", addr, err)
	}
	// Display names are not accepted; the field carries a bare mailbox.
	if parsed.Address != addr {
		return fmt.Errorf("invalid email %q: expected bare address", addr)
	}
	return nil
}
