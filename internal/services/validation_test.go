package services

import (
	"errors"
	"strings"
	"testing"
)

func TestParseWebhookPayload_Valid(t *testing.T) {
	p, err := ParseWebhookPayload([]byte(`{"tweet_id":"1234567890","tweet_text":"Need a web dev","tweet_author":"john_doe","estimated_value":500}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TweetID != "1234567890" || p.TweetAuthor != "john_doe" || p.EstimatedValue != 500 {
		t.Errorf("unexpected payload %+v", p)
	}
	if p.SpamScore != 0 {
		t.Errorf("spam_score should default to 0, got %v", p.SpamScore)
	}
}

func TestParseWebhookPayload_Rejections(t *testing.T) {
	longText := strings.Repeat("a", 501)
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"not json", `tweet_id=1`, "body"},
		{"array body", `[1,2]`, "body"},
		{"author with dash", `{"tweet_id":"1","tweet_text":"x","tweet_author":"john-doe"}`, "tweet_author"},
		{"author too long", `{"tweet_id":"1","tweet_text":"x","tweet_author":"abcdefghijklmnop"}`, "tweet_author"},
		{"non numeric id", `{"tweet_id":"12a","tweet_text":"x","tweet_author":"a"}`, "tweet_id"},
		{"numeric id as number", `{"tweet_id":12,"tweet_text":"x","tweet_author":"a"}`, "tweet_id"},
		{"id too long", `{"tweet_id":"` + strings.Repeat("1", 31) + `","tweet_text":"x","tweet_author":"a"}`, "tweet_id"},
		{"empty text", `{"tweet_id":"1","tweet_text":"","tweet_author":"a"}`, "tweet_text"},
		{"text too long", `{"tweet_id":"1","tweet_text":"` + longText + `","tweet_author":"a"}`, "tweet_text"},
		{"spam score above 100", `{"tweet_id":"1","tweet_text":"x","tweet_author":"a","spam_score":101}`, "spam_score"},
		{"negative value", `{"tweet_id":"1","tweet_text":"x","tweet_author":"a","estimated_value":-1}`, "estimated_value"},
		{"value as string", `{"tweet_id":"1","tweet_text":"x","tweet_author":"a","estimated_value":"10"}`, "estimated_value"},
		{"missing author", `{"tweet_id":"1","tweet_text":"x"}`, "tweet_author"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseWebhookPayload([]byte(tc.body))
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected InvalidInput, got %v", err)
			}
			found := false
			for _, f := range FieldsOf(err) {
				if f.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected a %q field error, got %+v", tc.field, FieldsOf(err))
			}
		})
	}
}

func TestParseWebhookPayload_ReportsEveryField(t *testing.T) {
	_, err := ParseWebhookPayload([]byte(`{"tweet_id":"x","tweet_author":"bad name"}`))
	if got := len(FieldsOf(err)); got != 3 {
		t.Fatalf("expected 3 field errors, got %d: %+v", got, FieldsOf(err))
	}
}

func TestParseWebhookPayload_TextLengthCountsCharacters(t *testing.T) {
	text := strings.Repeat("é", 500)
	if _, err := ParseWebhookPayload([]byte(`{"tweet_id":"1","tweet_text":"` + text + `","tweet_author":"a"}`)); err != nil {
		t.Fatalf("500 characters should be accepted: %v", err)
	}
}
