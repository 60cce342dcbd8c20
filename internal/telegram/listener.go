package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"intraday_trader/internal/logger"
)

const pollTimeout = 30 * time.Second

// Update represents a Telegram Update object (partial schema)
type Update struct {
	UpdateID int `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message"`
}

type UpdateResponse struct {
	Ok          bool     `json:"ok"`
	Result      []Update `json:"result"`
	Description string   `json:"description"`
	ErrorCode   int      `json:"error_code"`
}

// CommandHandler turns a command into a reply. Empty replies are not sent.
type CommandHandler func(command string) string

// Listen long-polls getUpdates and feeds authorised messages to handler
// until ctx is done. Messages from other chats are dropped silently.
func (c *Client) Listen(ctx context.Context, handler CommandHandler) error {
	if !c.Enabled() {
		logger.Warnf("Telegram Listener: Credentials missing, disabled.")
		<-ctx.Done()
		return ctx.Err()
	}
	authChatID, err := strconv.ParseInt(c.chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", c.chatID, err)
	}

	logger.Infof("Telegram Listener: Started")
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		updates, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnf("Telegram Listener Error: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message.Chat.ID != authChatID {
				logger.Warnf("Unauthorized command from %s (chat %d): %q",
					u.Message.From.Username, u.Message.Chat.ID, u.Message.Text)
				continue
			}
			text := strings.TrimSpace(u.Message.Text)
			if text == "" {
				continue
			}
			logger.Infof("Command received: %s", text)
			if reply := handler(text); reply != "" {
				c.Notify(reply)
			}
		}
	}
}

func (c *Client) getUpdates(ctx context.Context, offset int) ([]Update, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("timeout", strconv.Itoa(int(pollTimeout/time.Second)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.poll.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result UpdateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if !result.Ok {
		return nil, fmt.Errorf("telegram api: %s (code %d)", result.Description, result.ErrorCode)
	}
	return result.Result, nil
}
