package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	tele "gopkg.in/telebot.v4"

	"fwdbot/internal/forwarder"
)

// classify maps Bot API failures onto the forwarder taxonomy. Any Bot API
// error not known to be permanent is transient; other unknown errors are
// returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := floodWait(err); ok {
		return forwarder.RetryAfter(fe)
	}
	var ge tele.GroupError
	if errors.As(err, &ge) {
		return fmt.Errorf("%w: group migrated to supergroup %d", forwarder.ErrRejected, ge.MigratedTo)
	}
	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == 401:
			return fmt.Errorf("%w: %w", forwarder.ErrUnauthorized, err)
		case te.Code == 403:
			return fmt.Errorf("%w: %w", forwarder.ErrRejected, err)
		case te.Code == 400 && rejectedDescription(te.Description):
			return fmt.Errorf("%w: %w", forwarder.ErrRejected, err)
		}
		return fmt.Errorf("%w: %w", forwarder.ErrTransient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", forwarder.ErrTransient, err)
	}
	var ne net.Error
	var ue *url.Error
	if errors.As(err, &ne) || errors.As(err, &ue) {
		return fmt.Errorf("%w: %w", forwarder.ErrTransient, err)
	}
	return err
}

func floodWait(err error) (int, bool) {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return fe.RetryAfter, true
	}
	var fp *tele.FloodError
	if errors.As(err, &fp) && fp != nil {
		return fp.RetryAfter, true
	}
	return 0, false
}

var rejectedPhrases = []string{
	"not enough rights",
	"chat not found",
	"have no rights",
	"chat_write_forbidden",
	"bot was kicked",
	"user is deactivated",
	"message to forward not found",
	"chat_restricted",
	"upgraded to a supergroup",
}

func rejectedDescription(desc string) bool {
	desc = strings.ToLower(desc)
	for _, p := range rejectedPhrases {
		if strings.Contains(desc, p) {
			return true
		}
	}
	return false
}
