// Package approval is the human-approval channel over Telegram: pending
// actions are pushed as messages with approve/cancel buttons and the
// operator's choice is mapped back onto action ledger transitions.
package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sniper/internal/storage/ledger"
)

const apiBase = "https://api.telegram.org/bot"

type decider interface {
	Authorize(pair string) error
	Cancel(pair string) error
}

// Telegram pushes approval requests and consumes button callbacks. With no
// bot token configured it degrades to log-only requests, which keeps
// dry-run setups usable without a bot.
type Telegram struct {
	api     string
	token   string
	chatID  string
	client  *http.Client
	actions decider
	log     *zap.Logger

	offset int64
}

func NewTelegram(token, chatID string, actions decider, log *zap.Logger) *Telegram {
	return &Telegram{
		api:     apiBase,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 40 * time.Second},
		actions: actions,
		log:     log,
	}
}

func (t *Telegram) enabled() bool { return t.token != "" && t.chatID != "" }

// RequestApproval sends one approve/cancel prompt for a pending action.
func (t *Telegram) RequestApproval(ctx context.Context, pair, symbol, reason string, price decimal.Decimal) error {
	if !t.enabled() {
		t.log.Info("approval requested (telegram disabled, decide via ledger)",
			zap.String("pair", pair),
			zap.String("symbol", symbol),
			zap.String("reason", reason),
			zap.String("price", price.String()))
		return nil
	}

	text := fmt.Sprintf("Buy approval needed\nToken: %s\nPair: %s\nReason: %s\nPrice: %s",
		symbol, pair, reason, price.String())
	payload := map[string]any{
		"chat_id": t.chatID,
		"text":    text,
		"reply_markup": map[string]any{
			"inline_keyboard": [][]map[string]string{{
				{"text": "Approve", "callback_data": "approve:" + pair},
				{"text": "Cancel", "callback_data": "cancel:" + pair},
			}},
		},
	}
	return t.post(ctx, "sendMessage", payload)
}

// Run long-polls for button callbacks until the context ends.
func (t *Telegram) Run(ctx context.Context) error {
	if !t.enabled() {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := t.pollOnce(ctx); err != nil && ctx.Err() == nil {
			t.log.Warn("telegram poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
		}
	}
}

func (t *Telegram) pollOnce(ctx context.Context) error {
	url := fmt.Sprintf("%s%s/getUpdates?timeout=30&offset=%d&allowed_updates=[\"callback_query\"]",
		t.api, t.token, t.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build getUpdates request")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "getUpdates")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read getUpdates response")
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("getUpdates status %d", resp.StatusCode)
	}

	for _, update := range gjson.GetBytes(body, "result").Array() {
		if id := update.Get("update_id").Int(); id >= t.offset {
			t.offset = id + 1
		}
		cb := update.Get("callback_query")
		if !cb.Exists() {
			continue
		}
		t.handleCallback(ctx, cb.Get("id").String(), cb.Get("data").String())
	}
	return nil
}

// handleCallback maps one button press onto an action ledger transition.
// A press on a stale button (the action already left pending) is answered
// but changes nothing.
func (t *Telegram) handleCallback(ctx context.Context, callbackID, data string) {
	verb, pair, ok := strings.Cut(data, ":")
	if !ok || pair == "" {
		return
	}

	var err error
	answer := ""
	switch verb {
	case "approve":
		err = t.actions.Authorize(pair)
		answer = "Approved"
	case "cancel":
		err = t.actions.Cancel(pair)
		answer = "Cancelled"
	default:
		return
	}

	if errors.Is(err, ledger.ErrNotPending) {
		answer = "Already decided"
		err = nil
	}
	if err != nil {
		t.log.Warn("approval transition failed",
			zap.String("pair", pair), zap.String("verb", verb), zap.Error(err))
		answer = "Failed, check logs"
	} else {
		t.log.Info("operator decision received",
			zap.String("pair", pair), zap.String("verb", verb))
	}

	if err := t.post(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              answer,
	}); err != nil {
		t.log.Warn("answer callback failed", zap.Error(err))
	}
}

// post sends one API call with bounded retries.
func (t *Telegram) post(ctx context.Context, method string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal telegram payload")
	}
	url := fmt.Sprintf("%s%s/%s", t.api, t.token, method)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "build telegram request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode/100 == 2 {
				return nil
			}
			lastErr = errors.Errorf("telegram %s status %d", method, resp.StatusCode)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	return lastErr
}
