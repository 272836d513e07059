package services

import (
	"bytes"
	"encoding/json"
	"regexp"
	"unicode/utf8"

	"github.com/leadsradar/server/internal/models"
)

const (
	maxTweetIDLength   = 30
	maxTweetTextLength = 500
	maxSpamScore       = 100
	maxEstimatedValue  = 1_000_000
)

var (
	tweetIDPattern     = regexp.MustCompile(`^[0-9]+$`)
	tweetAuthorPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{1,15}$`)
)

// ParseWebhookPayload validates a webhook body. Every failing field is
// reported, not only the first.
func ParseWebhookPayload(raw []byte) (*models.WebhookPayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, invalidField("body", "must be a JSON object")
	}

	var (
		p    models.WebhookPayload
		errs []FieldError
	)
	fail := func(field, msg string) {
		errs = append(errs, FieldError{Field: field, Message: msg})
	}

	if s, ok := stringField(fields, "tweet_id", fail); ok {
		switch {
		case len(s) == 0 || len(s) > maxTweetIDLength:
			fail("tweet_id", "must be between 1 and 30 characters")
		case !tweetIDPattern.MatchString(s):
			fail("tweet_id", "Tweet ID must be numeric")
		default:
			p.TweetID = s
		}
	}

	if s, ok := stringField(fields, "tweet_text", fail); ok {
		if n := utf8.RuneCountInString(s); n == 0 || n > maxTweetTextLength {
			fail("tweet_text", "must be between 1 and 500 characters")
		} else {
			p.TweetText = s
		}
	}

	if s, ok := stringField(fields, "tweet_author", fail); ok {
		if !tweetAuthorPattern.MatchString(s) {
			fail("tweet_author", "Invalid Twitter username")
		} else {
			p.TweetAuthor = s
		}
	}

	if v, ok := numberField(fields, "spam_score", fail); ok {
		if v < 0 || v > maxSpamScore {
			fail("spam_score", "must be between 0 and 100")
		} else {
			p.SpamScore = v
		}
	}

	if v, ok := numberField(fields, "estimated_value", fail); ok {
		if v < 0 || v > maxEstimatedValue {
			fail("estimated_value", "must be between 0 and 1000000")
		} else {
			p.EstimatedValue = v
		}
	}

	if len(errs) > 0 {
		return nil, &Error{Kind: KindInvalidInput, Message: "Validation failed", Fields: errs}
	}
	return &p, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// stringField reads a required string. ok is false when an error was reported.
func stringField(fields map[string]json.RawMessage, name string, fail func(string, string)) (string, bool) {
	raw, present := fields[name]
	if !present || isNull(raw) {
		fail(name, "is required")
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		fail(name, "must be a string")
		return "", false
	}
	return s, true
}

// numberField reads an optional number. Absent or null yields (0, false)
// with nothing reported, which leaves the default in place.
func numberField(fields map[string]json.RawMessage, name string, fail func(string, string)) (float64, bool) {
	raw, present := fields[name]
	if !present || isNull(raw) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		fail(name, "must be a number")
		return 0, false
	}
	return v, true
}
