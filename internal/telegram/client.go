package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"intraday_trader/internal/logger"
)

const defaultAPI = "https://api.telegram.org"

// Client talks to one bot and one authorised chat. Without credentials it
// only logs.
type Client struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
	poll    *http.Client
	prefix  string
}

func New(token, chatID string) *Client {
	return &Client{
		token:   token,
		chatID:  strings.TrimSpace(chatID),
		baseURL: defaultAPI,
		http:    &http.Client{Timeout: 5 * time.Second},
		poll:    &http.Client{Timeout: pollTimeout + 10*time.Second},
	}
}

// WithBaseURL points the client at another API root (tests, proxies).
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

// WithPrefix tags every outgoing message, e.g. "[PAPER]".
func (c *Client) WithPrefix(p string) *Client {
	c.prefix = p
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.token != "" && c.chatID != ""
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// Notify sends text to the configured chat. Failures are logged, never returned.
func (c *Client) Notify(text string) {
	if c.prefix != "" {
		text = c.prefix + " " + text
	}
	if !c.Enabled() {
		log.Printf("[notify] %s", text)
		return
	}
	logger.Debugf("Telegram Notify: %s", text)

	body, _ := json.Marshal(map[string]string{
		"chat_id": c.chatID,
		"text":    text,
	})
	resp, err := c.http.Post(c.endpoint("sendMessage"), "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Warnf("Telegram Alert Failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warnf("Telegram API Error: Status %s", resp.Status)
	}
}
