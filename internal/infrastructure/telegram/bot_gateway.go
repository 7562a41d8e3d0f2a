package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/gateway"
	"ChannelMonitor/internal/ports"
)

var retryAfterExpr = regexp.MustCompile(`retry after (\d+)`)

// BotGateway forwards posts and resolves recipients through the Bot API.
type BotGateway struct {
	bot    *telego.Bot
	silent bool
	logger *slog.Logger
}

var (
	_ ports.Forwarder         = (*BotGateway)(nil)
	_ ports.RecipientResolver = (*BotGateway)(nil)
)

// Options tune the Bot API client.
type Options struct {
	APIURL string
	Silent bool
}

// NewBotGateway registers the bot token; apiURL overrides the public API server.
func NewBotGateway(token string, opts Options, logger *slog.Logger) (*BotGateway, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram bot token is empty")
	}

	botOpts := []telego.BotOption{telego.WithDiscardLogger()}
	if opts.APIURL != "" {
		botOpts = append(botOpts, telego.WithAPIServer(strings.TrimSuffix(opts.APIURL, "/")))
	}

	bot, err := telego.NewBot(token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	return &BotGateway{bot: bot, silent: opts.Silent, logger: logger}, nil
}

// Identify checks the token against the API and returns the bot username.
func (g *BotGateway) Identify(ctx context.Context) (string, error) {
	me, err := g.bot.GetMe(ctx)
	if err != nil {
		return "", translateError("get_me", err)
	}
	return me.Username, nil
}

// Forward relays every message of the post in one call so albums stay grouped.
func (g *BotGateway) Forward(ctx context.Context, post domain.Post, target domain.RecipientTarget) error {
	from := post.Channel.Username()
	if from == "" {
		return fmt.Errorf("invalid source channel %q", post.Channel)
	}
	if len(post.Messages) == 0 {
		return nil
	}

	ids := make([]int, 0, len(post.Messages))
	for _, id := range post.IDs() {
		ids = append(ids, int(id))
	}

	_, err := g.bot.ForwardMessages(ctx, &telego.ForwardMessagesParams{
		ChatID:              targetChat(target),
		FromChatID:          tu.Username(from),
		MessageIDs:          ids,
		DisableNotification: g.silent,
	})
	if err != nil {
		return translateError("forward", err)
	}

	g.debug("forwarded via bot api", "from", from, "ids", ids, "target", target.String())
	return nil
}

// ResolveRecipient looks the chat up once so misconfigured targets fail at startup.
func (g *BotGateway) ResolveRecipient(ctx context.Context, ref domain.RecipientRef) (domain.RecipientTarget, error) {
	chatID, err := ParseRecipient(ref)
	if err != nil {
		return domain.RecipientTarget{}, err
	}

	chat, err := g.bot.GetChat(ctx, &telego.GetChatParams{ChatID: chatID})
	if err != nil {
		return domain.RecipientTarget{}, translateError("get_chat", err)
	}

	title := chat.Title
	if title == "" && chat.Username != "" {
		title = "@" + chat.Username
	}
	if title == "" {
		title = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}

	return domain.RecipientTarget{Ref: ref, ID: chat.ID, Title: title}, nil
}

// ParseRecipient accepts a numeric chat id or an "@username".
func ParseRecipient(ref domain.RecipientRef) (telego.ChatID, error) {
	value := strings.TrimSpace(string(ref))
	if value == "" {
		return telego.ChatID{}, errors.New("empty recipient")
	}
	if id, err := strconv.ParseInt(value, 10, 64); err == nil {
		return tu.ID(id), nil
	}
	if strings.ContainsAny(value, " /") {
		return telego.ChatID{}, fmt.Errorf("invalid recipient %q", value)
	}
	return tu.Username("@" + strings.TrimPrefix(value, "@")), nil
}

func targetChat(target domain.RecipientTarget) telego.ChatID {
	if target.ID != 0 {
		return tu.ID(target.ID)
	}
	chatID, err := ParseRecipient(target.Ref)
	if err != nil {
		return tu.Username(string(target.Ref))
	}
	return chatID
}

// translateError maps Bot API flood control replies to the gateway signal.
func translateError(op string, err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) && apiErr.ErrorCode == http.StatusTooManyRequests {
		wait := time.Duration(0)
		if apiErr.Parameters != nil {
			wait = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
		}
		if wait == 0 {
			wait = retryAfterFromText(apiErr.Description)
		}
		return &gateway.RateLimitedError{Op: op, RetryAfter: wait, Err: err}
	}

	if m := retryAfterExpr.FindStringSubmatch(strings.ToLower(err.Error())); m != nil {
		secs, _ := strconv.Atoi(m[1])
		return &gateway.RateLimitedError{Op: op, RetryAfter: time.Duration(secs) * time.Second, Err: err}
	}

	return fmt.Errorf("%s: %w", op, err)
}

func retryAfterFromText(text string) time.Duration {
	m := retryAfterExpr.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return 0
	}
	secs, _ := strconv.Atoi(m[1])
	return time.Duration(secs) * time.Second
}

func (g *BotGateway) debug(msg string, args ...interface{}) {
	if g.logger != nil {
		g.logger.Debug(msg, args...)
	}
}
