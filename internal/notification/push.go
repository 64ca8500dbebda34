package notification

import (
	"context"
	"io"
	"log"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/datastore"
	"github.com/carsense/carsense-go/internal/errors"
)

// PushSender delivers alerts through shoutrrr push services (ntfy, gotify,
// telegram and the rest of the shoutrrr catalog). One ServiceRouter carries
// all configured URLs.
type PushSender struct {
	sender  *router.ServiceRouter
	timeout time.Duration
}

// NewPushSender builds the push channel sender, validating every configured
// service URL up front.
func NewPushSender(settings *conf.Settings) (*PushSender, error) {
	cfg := settings.Notification.Push
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("push channel enabled but no service URLs configured").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("channel", conf.ChannelPush).
			Build()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sender.Timeout = timeout
	// shoutrrr logs URLs including tokens; keep it quiet
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &PushSender{sender: sender, timeout: timeout}, nil
}

// Channel returns the channel identifier.
func (s *PushSender) Channel() string { return conf.ChannelPush }

// Send delivers the alert to every configured push service. Any service
// failing fails the attempt; the retry sweep re-drives it.
func (s *PushSender) Send(ctx context.Context, alert *datastore.Alert, delivery *datastore.NotificationDelivery) error {
	params := stypes.Params{}
	params.SetTitle(delivery.Subject)

	errs := s.sender.Send(delivery.Message, &params)
	for _, err := range errs {
		if err != nil {
			return errors.New(err).
				Component("notification").
				Category(errors.CategoryDelivery).
				Context("channel", s.Channel()).
				Build()
		}
	}
	return nil
}
