package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository"
)

const (
	alertColor       = 0x2ECC71
	alertTimeout     = 10 * time.Second
	alertTextPreview = 300
)

var errInvalidWebhookURL = errors.New("not a Discord webhook URL")

// webhookExecutor is the part of *discordgo.Session the notifier uses
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts an embed for newly created leads worth at least
// minValue. Delivery is best effort.
type DiscordNotifier struct {
	discord     webhookExecutor
	profiles    repository.ProfileRepository
	fallbackURL string
	minValue    float64
	printer     *message.Printer
	wg          sync.WaitGroup
}

// NewDiscordNotifier creates a notifier. The user's own webhook wins over
// fallbackURL.
func NewDiscordNotifier(profiles repository.ProfileRepository, fallbackURL string, minValue float64) (*DiscordNotifier, error) {
	// Webhook execution needs no bot token
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize discordgo session: %w", err)
	}
	session.Client.Timeout = alertTimeout
	return newDiscordNotifier(session, profiles, fallbackURL, minValue), nil
}

func newDiscordNotifier(discord webhookExecutor, profiles repository.ProfileRepository, fallbackURL string, minValue float64) *DiscordNotifier {
	return &DiscordNotifier{
		discord:     discord,
		profiles:    profiles,
		fallbackURL: fallbackURL,
		minValue:    minValue,
		printer:     message.NewPrinter(language.English),
	}
}

// Publish implements LeadPublisher. Only lead.created events are considered.
func (n *DiscordNotifier) Publish(event LeadEvent) {
	if event.Type != EventLeadCreated || event.Lead == nil {
		return
	}
	if event.Lead.EstimatedValue < n.minValue {
		return
	}

	lead := *event.Lead
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := n.send(ctx, &lead); err != nil {
			log.Warn().Err(err).Str("lead_id", lead.ID.String()).Msg("DiscordNotifier: failed to send alert")
		}
	}()
}

// Wait blocks until pending alerts have been sent
func (n *DiscordNotifier) Wait() {
	n.wg.Wait()
}

func (n *DiscordNotifier) webhookFor(ctx context.Context, lead *models.Lead) string {
	p, err := n.profiles.GetProfile(ctx, lead.UserID)
	if err == nil && p.DiscordWebhookURL != nil && *p.DiscordWebhookURL != "" {
		return *p.DiscordWebhookURL
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Warn().Err(err).Str("user_id", lead.UserID.String()).Msg("DiscordNotifier: failed to load profile")
	}
	return n.fallbackURL
}

func (n *DiscordNotifier) send(ctx context.Context, lead *models.Lead) error {
	target := n.webhookFor(ctx, lead)
	if target == "" {
		return nil
	}
	id, token, err := ParseDiscordWebhookURL(target)
	if err != nil {
		return err
	}

	_, err = n.discord.WebhookExecute(id, token, false, &discordgo.WebhookParams{
		Username: "LeadsRadar",
		Embeds:   []*discordgo.MessageEmbed{n.embed(lead)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}

	log.Info().Str("lead_id", lead.ID.String()).Msg("High-value lead alert sent")
	return nil
}

func (n *DiscordNotifier) embed(lead *models.Lead) *discordgo.MessageEmbed {
	text := lead.TweetText
	if utf8.RuneCountInString(text) > alertTextPreview {
		text = string([]rune(text)[:alertTextPreview]) + "…"
	}

	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("New lead from @%s", lead.TweetAuthor),
		URL:         lead.TweetURL(),
		Description: text,
		Color:       alertColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Estimated value", Value: n.printer.Sprintf("$%d", int64(math.Round(lead.EstimatedValue))), Inline: true},
			{Name: "Spam score", Value: n.printer.Sprintf("%d / 100", int64(math.Round(lead.SpamScore))), Inline: true},
			{Name: "Status", Value: string(lead.Status), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "LeadsRadar"},
		Timestamp: lead.CreatedAt.Format(time.RFC3339),
	}
}

// ParseDiscordWebhookURL extracts the webhook id and token from
// https://discord.com/api/webhooks/{id}/{token}
func ParseDiscordWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return "", "", errInvalidWebhookURL
	}
	switch u.Host {
	case "discord.com", "discordapp.com", "canary.discord.com", "ptb.discord.com":
	default:
		return "", "", errInvalidWebhookURL
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "api" || parts[1] != "webhooks" || parts[2] == "" || parts[3] == "" {
		return "", "", errInvalidWebhookURL
	}
	return parts[2], parts[3], nil
}

// MultiPublisher forwards each event to every publisher in order
type MultiPublisher []LeadPublisher

func (m MultiPublisher) Publish(event LeadEvent) {
	for _, p := range m {
		if p != nil {
			p.Publish(event)
		}
	}
}
