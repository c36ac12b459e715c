package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linuzri/polymarket-bot/internal/domain"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
	tele "gopkg.in/telebot.v3"
)

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

type WeatherEvaluator interface {
	EvaluateWeather(ctx context.Context, date string, locations []string) (domain.Batch, error)
}

// NewTelegramBot creates the bot without polling. It returns a nil bot when
// no token is configured.
func NewTelegramBot(token string) (*tele.Bot, error) {
	if token == "" {
		log.Info().Msg("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return b, nil
}

// StartTelegramBot registers the chat commands and starts polling in the
// background. A nil bot is a no-op.
func StartTelegramBot(b *tele.Bot, evaluator WeatherEvaluator) {
	if b == nil {
		return
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/consensus", func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		return c.Send(consensusReply(ctx, evaluator, c.Args(), time.Now()))
	})

	log.Info().Msg("Telegram bot started")
	go b.Start()
}

// consensusReply handles "/consensus [YYYY-MM-DD] [city ...]". Without a
// date the next market day is used.
func consensusReply(ctx context.Context, evaluator WeatherEvaluator, args []string, now time.Time) string {
	if evaluator == nil {
		return "Consensus service unavailable"
	}
	date := now.UTC().AddDate(0, 0, 1).Format("2006-01-02")
	if len(args) > 0 {
		if _, err := time.Parse("2006-01-02", args[0]); err == nil {
			date, args = args[0], args[1:]
		}
	}

	batch, err := evaluator.EvaluateWeather(ctx, date, args)
	if err != nil {
		return fmt.Sprintf("Error evaluating %s: %v\nUsage: /consensus [YYYY-MM-DD] [city ...]", date, err)
	}
	return truncate(FormatBatch(batch), maxMessageLen)
}

// FormatBatch renders a batch as plain chat text, one line per instrument.
func FormatBatch(b domain.Batch) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Consensus %s: %d/%d actionable\n", b.InstantID, b.ActionableCount(), len(b.Evaluations))
	for _, e := range b.Evaluations {
		if e.Result == nil {
			fmt.Fprintf(&sb, "%s: no result (%s)\n", e.Instrument, e.Reason)
			continue
		}
		mark := ""
		if e.Outcome == domain.OutcomeActionable {
			mark = " ✅"
		}
		fmt.Fprintf(&sb, "%s: %s %d/%d%s\n", e.Instrument, e.Result.Signal, e.Result.AgreementCount, e.Result.TotalSources, mark)
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Sender is the part of *tele.Bot the notifier uses.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Notifier pushes actionable results to one chat.
type Notifier struct {
	tracer trace.Tracer
	sender Sender
	chat   tele.Recipient
}

func NewNotifier(tracer trace.Tracer, sender Sender, chatID int64) *Notifier {
	return &Notifier{tracer: tracer, sender: sender, chat: tele.ChatID(chatID)}
}

func (n *Notifier) NotifyActionable(ctx context.Context, res domain.ConsensusResult) error {
	_, span := n.tracer.Start(ctx, "telegram.notify-actionable")
	defer span.End()

	if _, err := n.sender.Send(n.chat, FormatActionable(res)); err != nil {
		return fmt.Errorf("send telegram alert for %s: %w", res.Instrument, err)
	}
	return nil
}

func FormatActionable(res domain.ConsensusResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\nSignal: %s\nAgreement: %d/%d (%.0f%%)",
		res.Instrument, res.InstantID, res.Signal, res.AgreementCount, res.TotalSources, res.Confidence*100)
	if res.ReferencePrice != nil {
		fmt.Fprintf(&sb, "\nMarket: %.2f", *res.ReferencePrice)
	}
	if res.Edge != nil {
		fmt.Fprintf(&sb, "\nEdge: %+.2f", *res.Edge)
	}
	if res.KellyFraction != nil {
		fmt.Fprintf(&sb, "\nKelly: %.1f%%", *res.KellyFraction*100)
	}
	return sb.String()
}
