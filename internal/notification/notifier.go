// Package notification reports the outcome of recording sessions to shoutrrr
// service URLs such as ntfy, Telegram or Discord.
package notification

import (
	"fmt"
	"io"
	"log"
	"regexp"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/opusrec/internal/conf"
	"github.com/tphakala/opusrec/internal/errors"
	"github.com/tphakala/opusrec/internal/logger"
	"github.com/tphakala/opusrec/internal/pipeline"
)

// Type classifies a notification
type Type string

const (
	TypeFinished Type = "finished"
	TypeFailed   Type = "failed"
)

// urlSecretRegex matches credentials in service URLs, e.g. telegram://token@telegram
var urlSecretRegex = regexp.MustCompile(`([a-z][a-z0-9+.-]*://)[^@\s/]+@`)

// Notifier sends session summaries. A nil *Notifier is valid and sends
// nothing.
type Notifier struct {
	urls      []string
	onSuccess bool
	onFailure bool
	sender    *router.ServiceRouter
	log       logger.Logger
	output    io.Writer
}

// Option configures a Notifier
type Option func(*Notifier)

// WithLogger sets the notifier logger
func WithLogger(log logger.Logger) Option {
	return func(n *Notifier) { n.log = log }
}

// withServiceOutput redirects shoutrrr service logs, used by the logger:// service
func withServiceOutput(w io.Writer) Option {
	return func(n *Notifier) { n.output = w }
}

// New builds the sender for settings. It returns nil without error when
// notifications are disabled.
func New(settings *conf.NotifySettings, opts ...Option) (*Notifier, error) {
	if settings == nil || !settings.Enabled {
		return nil, nil //nolint:nilnil // a nil Notifier sends nothing
	}

	n := &Notifier{
		urls:      slices.Clone(settings.URLs),
		onSuccess: settings.OnSuccess,
		onFailure: settings.OnFailure,
		output:    io.Discard,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = logger.Global().Module("notification")
	}

	if len(n.urls) == 0 {
		return nil, errors.Newf("at least one notification url is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(n.urls...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid notification url: %s", redact(err.Error()))).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_sender").
			Build()
	}
	if settings.Timeout > 0 {
		sender.Timeout = settings.Timeout
	}
	sender.SetLogger(log.New(n.output, "", 0))
	n.sender = sender

	return n, nil
}

// Wants reports whether a notification of type t would be sent
func (n *Notifier) Wants(t Type) bool {
	if n == nil {
		return false
	}
	switch t {
	case TypeFinished:
		return n.onSuccess
	case TypeFailed:
		return n.onFailure
	default:
		return false
	}
}

// SessionEnded sends the session summary when its outcome is subscribed to
func (n *Notifier) SessionEnded(status *pipeline.Status, runErr error) error {
	t := TypeFinished
	if runErr != nil || status.State == pipeline.StateFailed {
		t = TypeFailed
	}
	if !n.Wants(t) {
		return nil
	}

	title := "opusrec: recording finished"
	body := status.Summary()
	if t == TypeFailed {
		title = "opusrec: recording failed"
		if runErr != nil {
			body += "\n" + string(errors.CategoryOf(runErr)) + ": " + redact(runErr.Error())
		}
	}
	if status.Output != "" {
		body += "\noutput: " + status.Output
	}

	return n.send(title, body)
}

func (n *Notifier) send(title, body string) error {
	start := time.Now()
	params := stypes.Params{}
	params.SetTitle(title)

	for _, err := range n.sender.Send(body, &params) {
		if err != nil {
			return errors.New(fmt.Errorf("send notification: %s", redact(err.Error()))).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("operation", "send").
				Timing("send", time.Since(start)).
				Build()
		}
	}

	n.log.Debug("notification sent",
		logger.String("title", title),
		logger.Int("services", len(n.urls)),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// redact removes credentials from service URLs in s
func redact(s string) string {
	return urlSecretRegex.ReplaceAllString(s, "${1}[REDACTED]@")
}
