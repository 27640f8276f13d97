package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/claritylab/claritylab/commons"
	"github.com/claritylab/claritylab/verdict"
)

const usage = "Send me a text message or an image and I will tell you whether it was written by a human, " +
	"or generated by a machine.\n\nSend one thing at a time: a photo with a caption counts as both."

// Sender delivers replies. *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Classifier interface {
	Classify(ctx context.Context, req verdict.Request) (verdict.Verdict, error)
}

// Downloader fetches the content of a Telegram file.
type Downloader interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

var errNotAnImage = errors.New("please send a photo or an image file")

type Router struct {
	Sender      Sender
	Classifier  Classifier
	Files       Downloader
	MaxFileSize int
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil {
		return
	}

	id, _ := uuid.NewV4()
	logger := log.WithFields(log.Fields{
		"request_id": id.String(),
		"chat_id":    msg.Chat.ID,
		"update_id":  upd.UpdateID,
	})

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			r.reply(msg, usage)
		default:
			r.reply(msg, "Unknown command. Try /help")
		}
		return
	}

	req, err := r.buildRequest(ctx, msg)
	if err != nil {
		logger.Debug("[Bot] Couldn't build request: ", err.Error())
		r.reply(msg, sentence(err.Error()))
		return
	}

	v, err := r.Classifier.Classify(ctx, req)
	if err != nil && verdict.IsOperational(err) {
		logger.Error("[Bot] Couldn't classify: ", err.Error())
		commons.ReportError(err, map[string]string{"code": verdict.Code(err), "surface": "telegram"})
	}
	r.reply(msg, formatReply(v, err))
}

// buildRequest maps one message onto a request. A caption next to an image
// fills the text field, which the orchestrator reports as ambiguous.
func (r *Router) buildRequest(ctx context.Context, msg *tgbotapi.Message) (verdict.Request, error) {
	req := verdict.Request{Text: msg.Text}
	if msg.Caption != "" {
		req.Text = msg.Caption
	}

	fileID, size, err := imageFile(msg)
	if err != nil {
		return verdict.Request{}, err
	}
	if fileID == "" {
		return req, nil
	}
	if r.MaxFileSize > 0 && size > r.MaxFileSize {
		return verdict.Request{}, fmt.Errorf("the image is too large, the limit is %d MB", r.MaxFileSize>>20)
	}

	req.Image, err = r.Files.Download(ctx, fileID)
	if err != nil {
		return verdict.Request{}, fmt.Errorf("couldn't download the image: %w", err)
	}
	return req, nil
}

// imageFile returns the largest photo size, or an image document.
func imageFile(msg *tgbotapi.Message) (string, int, error) {
	if len(msg.Photo) > 0 {
		ph := msg.Photo[len(msg.Photo)-1]
		return ph.FileID, ph.FileSize, nil
	}
	if msg.Document != nil {
		if !strings.HasPrefix(msg.Document.MimeType, "image/") {
			return "", 0, errNotAnImage
		}
		return msg.Document.FileID, msg.Document.FileSize, nil
	}
	return "", 0, nil
}

func formatReply(v verdict.Verdict, err error) string {
	switch {
	case err == nil:
		return "Result: " + v.Message
	case errors.Is(err, verdict.ErrEmptyInput):
		return sentence(verdict.ErrEmptyInput.Error())
	case errors.Is(err, verdict.ErrAmbiguousInput):
		return sentence(verdict.ErrAmbiguousInput.Error())
	case errors.Is(err, verdict.ErrInvalidImage):
		return sentence(verdict.ErrInvalidImage.Error())
	case errors.Is(err, verdict.ErrTimeout):
		return "Sorry, that took too long. Please try again later."
	case verdict.IsOperational(err):
		return "Sorry, the classifier is unavailable right now. Please try again later."
	default:
		return "Sorry, something went wrong."
	}
}

// sentence capitalizes s and ends it with a period.
func sentence(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	s = string(unicode.ToUpper(r)) + s[n:]
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

func (r *Router) reply(to *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	msg.ReplyToMessageID = to.MessageID
	if _, err := r.Sender.Send(msg); err != nil {
		log.Debug("[Bot] Couldn't send reply: ", err.Error())
	}
}
