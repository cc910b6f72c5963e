package telegram

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/raine/local-market-estimator/internal/estimate"
	"github.com/raine/local-market-estimator/internal/form"
)

var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00}, bytes.Repeat([]byte{0x42}, 512)...)

type botApiMock struct {
	mock.Mock
}

func (m *botApiMock) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func (m *botApiMock) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	return args.Get(0).(*tgbotapi.APIResponse), args.Error(1)
}

func (m *botApiMock) GetFileDirectURL(fileID string) (string, error) {
	args := m.Called(fileID)
	return args.Get(0).(string), args.Error(1)
}

func makeMessage(chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	return msg
}

func textContaining(chatID int64, substr string) any {
	return mock.MatchedBy(func(msg tgbotapi.MessageConfig) bool {
		return msg.ChatID == chatID && strings.Contains(msg.Text, substr)
	})
}

func makeTextUpdate(chatID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.SplitN(text, " ", 2)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{Message: msg}
}

func makePhotoUpdate(chatID int64, fileID string, size int) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 2,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Photo: []tgbotapi.PhotoSize{
			{FileID: fileID + "-small", Width: 90, Height: 90, FileSize: 100},
			{FileID: fileID, Width: 800, Height: 800, FileSize: size},
		},
	}}
}

func setup(t *testing.T, fn func(ctx context.Context, sub estimate.Submission) (*estimate.Result, error)) (*botApiMock, *Bot, *estimate.MockEstimator) {
	t.Helper()
	tg := new(botApiMock)
	est := &estimate.MockEstimator{EstimateFunc: fn}
	registry := form.NewRegistry(form.Options{Estimator: est}, 0)
	t.Cleanup(registry.Shutdown)
	return tg, NewBot(tg, registry), est
}

func fileServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(jpegBytes)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestHandleUpdate_Start(t *testing.T) {
	tg, bot, _ := setup(t, nil)
	chatID := int64(1)

	tg.On("Send", makeMessage(chatID, helpText)).Return(tgbotapi.Message{}, nil).Once()

	bot.HandleUpdate(context.Background(), makeTextUpdate(chatID, "/start"))
	tg.AssertExpectations(t)
}

func TestHandleUpdate_EstimateFlow(t *testing.T) {
	tg, bot, est := setup(t, func(ctx context.Context, sub estimate.Submission) (*estimate.Result, error) {
		return &estimate.Result{
			ItemName:       "Office Chair",
			EstimatedPrice: 45,
			PriceRange:     "$30 - $60",
			Confidence:     estimate.ConfidenceMedium,
			Reasoning:      "Light wear.",
		}, nil
	})
	chatID := int64(2)
	files := fileServer(t)
	ctx := context.Background()

	tg.On("GetFileDirectURL", "photo-1").Return(files.URL+"/photo-1.jpg", nil).Once()
	tg.On("Send", makeMessage(chatID, gotPhotoText+" "+askZipText)).Return(tgbotapi.Message{}, nil).Once()
	bot.HandleUpdate(ctx, makePhotoUpdate(chatID, "photo-1", len(jpegBytes)))

	tg.On("Send", makeMessage(chatID, "Zip code set to 94107. "+readyText)).Return(tgbotapi.Message{}, nil).Once()
	bot.HandleUpdate(ctx, makeTextUpdate(chatID, "94107"))

	tg.On("Send", makeMessage(chatID, analyzingText)).Return(tgbotapi.Message{}, nil).Once()
	tg.On("Send", mock.MatchedBy(func(msg tgbotapi.MessageConfig) bool {
		return msg.ChatID == chatID &&
			strings.Contains(msg.Text, "*Office Chair*") &&
			strings.Contains(msg.Text, "Estimated price: *$45*") &&
			strings.Contains(msg.Text, "Confidence: Medium")
	})).Return(tgbotapi.Message{}, nil).Once()
	bot.HandleUpdate(ctx, makeTextUpdate(chatID, "/estimate"))

	tg.AssertExpectations(t)
	if assert.Equal(t, 1, est.CallCount()) {
		call := est.Calls[0]
		assert.Equal(t, "94107", call.PostalCode)
		assert.Equal(t, "image/jpeg", call.Image.MIMEType)
		assert.Equal(t, jpegBytes, call.Image.Data)
	}
}

func TestHandleUpdate_ZipCommandThenPhoto(t *testing.T) {
	tg, bot, _ := setup(t, nil)
	chatID := int64(3)
	files := fileServer(t)

	tg.On("Send", makeMessage(chatID, "Zip code set to 10001. "+askPhotoText)).Return(tgbotapi.Message{}, nil).Once()
	bot.HandleUpdate(context.Background(), makeTextUpdate(chatID, "/zip 10001"))

	tg.On("GetFileDirectURL", "p").Return(files.URL+"/p.jpg", nil).Once()
	tg.On("Send", makeMessage(chatID, gotPhotoText+" "+readyText)).Return(tgbotapi.Message{}, nil).Once()
	bot.HandleUpdate(context.Background(), makePhotoUpdate(chatID, "p", len(jpegBytes)))

	tg.AssertExpectations(t)
}

func TestHandleUpdate_InvalidPostalCode(t *testing.T) {
	tg, bot, _ := setup(t, nil)
	chatID := int64(4)

	tg.On("Send", textContaining(chatID, estimate.MsgInvalidPostalCode)).Return(tgbotapi.Message{}, nil).Twice()
	bot.HandleUpdate(context.Background(), makeTextUpdate(chatID, "hello"))
	bot.HandleUpdate(context.Background(), makeTextUpdate(chatID, "123456"))

	tg.AssertExpectations(t)
}

func TestHandleUpdate_EstimateWithoutInput(t *testing.T) {
	tg, bot, est := setup(t, nil)
	chatID := int64(5)

	tg.On("Send", textContaining(chatID, estimate.MsgMissingInput)).Return(tgbotapi.Message{}, nil).Once()
	bot.HandleUpdate(context.Background(), makeTextUpdate(chatID, "/estimate"))

	tg.AssertExpectations(t)
	assert.Equal(t, 0, est.CallCount())
}

func TestHandleUpdate_EstimateFailure(t *testing.T) {
	tg, bot, _ := setup(t, func(ctx context.Context, sub estimate.Submission) (*estimate.Result, error) {
		return nil, &estimate.Error{Kind: estimate.KindQuotaExceeded, Message: estimate.MsgQuota}
	})
	chatID := int64(6)
	files := fileServer(t)
	ctx := context.Background()

	tg.On("GetFileDirectURL", "q").Return(files.URL+"/q.jpg", nil).Once()
	// Expectations match in order, so the specific one goes first
	tg.On("Send", textContaining(chatID, estimate.MsgQuota)).Return(tgbotapi.Message{}, nil).Once()
	tg.On("Send", mock.Anything).Return(tgbotapi.Message{}, nil).Times(3)

	bot.HandleUpdate(ctx, makePhotoUpdate(chatID, "q", len(jpegBytes)))
	bot.HandleUpdate(ctx, makeTextUpdate(chatID, "94107"))
	bot.HandleUpdate(ctx, makeTextUpdate(chatID, "/estimate"))

	tg.AssertExpectations(t)
}

func TestHandleUpdate_PhotoTooLarge(t *testing.T) {
	tg, bot, _ := setup(t, nil)
	chatID := int64(7)

	tg.On("Send", makeMessage(chatID, estimate.MsgTooLarge)).Return(tgbotapi.Message{}, nil).Once()
	bot.HandleUpdate(context.Background(), makePhotoUpdate(chatID, "big", estimate.MaxImageSize+1))

	tg.AssertExpectations(t)
	tg.AssertNotCalled(t, "GetFileDirectURL", "big")
}

func TestHandleUpdate_Reset(t *testing.T) {
	tg, bot, _ := setup(t, nil)
	chatID := int64(8)

	tg.On("Send", mock.Anything).Return(tgbotapi.Message{}, nil)
	bot.HandleUpdate(context.Background(), makeTextUpdate(chatID, "90210"))
	bot.HandleUpdate(context.Background(), makeTextUpdate(chatID, "/reset"))

	ctrl, ok := bot.registry.Lookup(chatKey(chatID))
	if assert.True(t, ok) {
		assert.Equal(t, "", ctrl.Snapshot().PostalCode)
	}
	tg.AssertCalled(t, "Send", makeMessage(chatID, resetText))
}

// sentTexts records the text of every message sent through tg.
func sentTexts(tg *botApiMock) func() []string {
	var (
		mu    sync.Mutex
		texts []string
	)
	tg.On("Send", mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		texts = append(texts, args.Get(0).(tgbotapi.MessageConfig).Text)
	}).Return(tgbotapi.Message{}, nil)
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), texts...)
	}
}

func TestRun_KeepsChatOrderWithSlowDownload(t *testing.T) {
	tg, bot, est := setup(t, func(ctx context.Context, sub estimate.Submission) (*estimate.Result, error) {
		return &estimate.Result{
			ItemName:       "Office Chair",
			EstimatedPrice: 45,
			PriceRange:     "$30 - $60",
			Confidence:     estimate.ConfidenceMedium,
			Reasoning:      "Light wear.",
		}, nil
	})
	chatID := int64(9)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write(jpegBytes)
	}))
	defer slow.Close()

	tg.On("GetFileDirectURL", "slow").Return(slow.URL+"/slow.jpg", nil).Once()
	texts := sentTexts(tg)

	updates := make(chan tgbotapi.Update, 3)
	updates <- makePhotoUpdate(chatID, "slow", len(jpegBytes))
	updates <- makeTextUpdate(chatID, "94107")
	updates <- makeTextUpdate(chatID, "/estimate")
	close(updates)

	done := make(chan error, 1)
	go func() { done <- bot.Run(context.Background(), updates) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	got := texts()
	if assert.Len(t, got, 4) {
		assert.Equal(t, gotPhotoText+" "+askZipText, got[0])
		assert.Equal(t, "Zip code set to 94107. "+readyText, got[1])
		assert.Equal(t, analyzingText, got[2])
		assert.Contains(t, got[3], "*Office Chair*")
	}
	assert.Equal(t, 1, est.CallCount())
}

func TestRun_ChatsAreIndependent(t *testing.T) {
	tg, bot, _ := setup(t, nil)
	blocked := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
		w.Write(jpegBytes)
	}))
	defer slow.Close()
	defer close(blocked)

	tg.On("GetFileDirectURL", "stuck").Return(slow.URL+"/stuck.jpg", nil).Once()
	texts := sentTexts(tg)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan tgbotapi.Update)
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx, updates) }()

	updates <- makePhotoUpdate(10, "stuck", len(jpegBytes))
	updates <- makeTextUpdate(11, "/start")

	assert.Eventually(t, func() bool {
		for _, text := range texts() {
			if text == helpText {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	blocked <- struct{}{}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRegisterCommands(t *testing.T) {
	tg := new(botApiMock)
	tg.On("Request", mock.AnythingOfType("tgbotapi.SetMyCommandsConfig")).Return(&tgbotapi.APIResponse{Ok: true}, nil).Once()

	RegisterCommands(tg)
	tg.AssertExpectations(t)
}
