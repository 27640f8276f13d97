package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramFiles struct {
	bot    *tgbotapi.BotAPI
	client *resty.Client
}

func newTelegramFiles(bot *tgbotapi.BotAPI) *telegramFiles {
	return &telegramFiles{
		bot:    bot,
		client: resty.New().SetTimeout(60 * time.Second),
	}
}

func (f *telegramFiles) Download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := f.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}
