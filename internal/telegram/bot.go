// Package telegram exposes the estimation form as a Telegram bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lithammer/dedent"
	"github.com/rs/zerolog/log"

	"github.com/raine/local-market-estimator/internal/estimate"
	"github.com/raine/local-market-estimator/internal/form"
	"github.com/raine/local-market-estimator/internal/present"
)

// BotAPI is the part of the Telegram client the bot uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

var helpText = strings.TrimSpace(dedent.Dedent(`
	Send me a photo of something you want to sell and your 5-digit zip code,
	and I'll estimate what it would go for locally.

	/estimate - estimate the current photo
	/zip 94107 - set your zip code
	/reset - start over`))

const (
	gotPhotoText     = "Got your photo."
	askZipText       = "Now send your 5-digit zip code."
	askPhotoText     = "Now send a photo of the item."
	readyText        = "Send /estimate to get a price."
	analyzingText    = "Analyzing..."
	inFlightText     = "Already estimating, hold on."
	supersededText   = "The estimate was discarded because the photo or zip code changed."
	resetText        = "Cleared. Send a new photo to start over."
	downloadFailText = "Couldn't download the photo. Please try again."
)

var botCommands = []tgbotapi.BotCommand{
	{Command: "estimate", Description: "Estimate the current photo"},
	{Command: "zip", Description: "Set your zip code"},
	{Command: "reset", Description: "Start over"},
}

// RegisterCommands publishes the command menu.
func RegisterCommands(tg BotAPI) {
	config := tgbotapi.NewSetMyCommands(botCommands...)
	if _, err := tg.Request(config); err != nil {
		log.Error().Err(err).Msg("failed to set bot commands")
	} else {
		log.Info().Int("count", len(botCommands)).Msg("registered bot commands")
	}
}

// Bot dispatches Telegram updates to per-chat forms.
type Bot struct {
	tg         BotAPI
	registry   *form.Registry
	downloader *Downloader

	mu     sync.Mutex
	queues map[int64]*chatQueue
	wg     sync.WaitGroup
}

// chatQueue holds one chat's pending updates. At most one goroutine drains
// it, so a chat's updates reach its form in the order they were sent.
type chatQueue struct {
	pending []tgbotapi.Update
}

func NewBot(tg BotAPI, registry *form.Registry) *Bot {
	return &Bot{
		tg:         tg,
		registry:   registry,
		downloader: NewDownloader(),
		queues:     make(map[int64]*chatQueue),
	}
}

// Run handles updates until ctx is cancelled or the channel closes. Chats are
// handled concurrently; updates within a chat are handled one at a time.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("waiting for active handlers to finish")
			b.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				log.Warn().Msg("updates channel closed")
				b.wg.Wait()
				return nil
			}
			b.enqueue(ctx, update)
		}
	}
}

func (b *Bot) enqueue(ctx context.Context, update tgbotapi.Update) {
	chat := update.FromChat()
	if chat == nil {
		return
	}

	b.mu.Lock()
	q, draining := b.queues[chat.ID]
	if !draining {
		q = &chatQueue{}
		b.queues[chat.ID] = q
	}
	q.pending = append(q.pending, update)
	b.mu.Unlock()

	if !draining {
		b.wg.Add(1)
		go b.drain(ctx, chat.ID, q)
	}
}

// drain handles a chat's queued updates and exits once the queue is empty.
func (b *Bot) drain(ctx context.Context, chatID int64, q *chatQueue) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		if len(q.pending) == 0 || ctx.Err() != nil {
			delete(b.queues, chatID)
			b.mu.Unlock()
			return
		}
		update := q.pending[0]
		q.pending = q.pending[1:]
		b.mu.Unlock()

		b.HandleUpdate(ctx, update)
	}
}

func chatKey(chatID int64) string {
	return fmt.Sprintf("tg:%d", chatID)
}

// HandleUpdate processes a single update.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	ctrl := b.registry.Get(chatKey(chatID))

	switch {
	case len(msg.Photo) > 0:
		// Telegram sends several sizes; the last one is the largest
		photo := msg.Photo[len(msg.Photo)-1]
		b.handleImage(ctx, ctrl, chatID, photo.FileID, photo.FileID+".jpg", "image/jpeg", int64(photo.FileSize))
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		doc := msg.Document
		b.handleImage(ctx, ctrl, chatID, doc.FileID, doc.FileName, doc.MimeType, int64(doc.FileSize))
	case msg.IsCommand():
		b.handleCommand(ctx, ctrl, chatID, msg.Command(), msg.CommandArguments())
	case msg.Text != "":
		b.handlePostalCode(ctrl, chatID, msg.Text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, ctrl *form.Controller, chatID int64, command, args string) {
	switch command {
	case "start", "help":
		b.reply(chatID, helpText)
	case "zip":
		b.handlePostalCode(ctrl, chatID, args)
	case "estimate":
		b.handleEstimate(ctx, ctrl, chatID)
	case "reset":
		ctrl.Reset()
		b.reply(chatID, resetText)
	default:
		b.reply(chatID, helpText)
	}
}

func (b *Bot) handleImage(ctx context.Context, ctrl *form.Controller, chatID int64, fileID, name, declaredType string, size int64) {
	if size > estimate.MaxImageSize {
		ctrl.RejectImage(estimate.ReasonTooLarge)
		b.reply(chatID, estimate.MsgTooLarge)
		return
	}

	data, contentType, err := b.downloader.Download(ctx, b.tg.GetFileDirectURL, fileID)
	if errors.Is(err, errImageTooLarge) {
		ctrl.RejectImage(estimate.ReasonTooLarge)
		b.reply(chatID, estimate.MsgTooLarge)
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("failed to download image")
		b.reply(chatID, downloadFailText)
		return
	}

	// Telegram's file server labels everything octet-stream
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = declaredType
	}
	img := estimate.Image{
		Name:     name,
		MIMEType: estimate.DetectMIMEType(contentType, data),
		Size:     int64(len(data)),
		Data:     data,
	}
	if err := ctrl.SelectImage(img); err != nil {
		b.reply(chatID, present.ErrorText(estimate.ReportFor(err)))
		return
	}

	next := askZipText
	if ctrl.Snapshot().SubmitEnabled {
		next = readyText
	}
	b.reply(chatID, gotPhotoText+" "+next)
}

func (b *Bot) handlePostalCode(ctrl *form.Controller, chatID int64, text string) {
	code := strings.TrimSpace(text)
	if err := ctrl.SetPostalCode(code); err != nil {
		b.reply(chatID, present.ErrorText(estimate.ReportFor(err)))
		return
	}

	next := askPhotoText
	if ctrl.Snapshot().SubmitEnabled {
		next = readyText
	}
	b.reply(chatID, fmt.Sprintf("Zip code set to %s. %s", code, next))
}

func (b *Bot) handleEstimate(ctx context.Context, ctrl *form.Controller, chatID int64) {
	settled, err := ctrl.Submit()
	switch {
	case errors.Is(err, form.ErrSubmitInFlight):
		b.reply(chatID, inFlightText)
		return
	case err != nil:
		b.reply(chatID, present.ErrorText(estimate.ReportFor(err)))
		return
	}

	b.reply(chatID, analyzingText)
	select {
	case <-settled:
	case <-ctx.Done():
		return
	}

	snap := ctrl.Snapshot()
	switch snap.State {
	case form.StateSuccess:
		b.reply(chatID, present.ResultText(present.Result(snap.Result)))
	case form.StateFailure:
		b.reply(chatID, present.ErrorText(snap.Report))
	default:
		b.reply(chatID, supersededText)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.tg.Send(msg); err != nil {
		log.Error().Err(err).Int64("chatID", chatID).Msg("failed to send message")
	}
}
