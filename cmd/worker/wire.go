package main

import (
	"github.com/tsu-platform/notify/dispatch"
	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/message"
	mpg "github.com/tsu-platform/notify/message/postgres"
	"github.com/tsu-platform/notify/outbox"
	"github.com/tsu-platform/notify/postgres"
)

// stores bundles the payload repositories the dispatchers read from.
type stores struct {
	emails  message.EmailRepository
	sms     message.SmsRepository
	pushes  message.PushRepository
	inApps  message.InAppRepository
	devices message.DeviceTokenRepository
}

func buildStores(db *postgres.Connection) (*stores, error) {
	emails, err := mpg.NewEmailStore(db)
	if err != nil {
		return nil, err
	}

	sms, err := mpg.NewSmsStore(db)
	if err != nil {
		return nil, err
	}

	pushes, err := mpg.NewPushStore(db)
	if err != nil {
		return nil, err
	}

	inApps, err := mpg.NewInAppStore(db)
	if err != nil {
		return nil, err
	}

	devices, err := mpg.NewDeviceTokenStore(db)
	if err != nil {
		return nil, err
	}

	return &stores{emails: emails, sms: sms, pushes: pushes, inApps: inApps, devices: devices}, nil
}

func buildRouter(outboxRepo outbox.Repository, stores *stores, logger log.Logger) (*dispatch.Router, error) {
	email, err := dispatch.NewEmailDispatcher(outboxRepo, stores.emails, &dispatch.LoggingEmailSender{Logger: logger}, logger)
	if err != nil {
		return nil, err
	}

	sms, err := dispatch.NewSmsDispatcher(outboxRepo, stores.sms, &dispatch.LoggingSmsSender{Logger: logger}, logger)
	if err != nil {
		return nil, err
	}

	push, err := dispatch.NewPushDispatcher(outboxRepo, stores.pushes, stores.devices, &dispatch.LoggingPushSender{Logger: logger}, logger)
	if err != nil {
		return nil, err
	}

	inApp, err := dispatch.NewInAppDispatcher(outboxRepo, stores.inApps, &dispatch.LoggingInAppSender{Logger: logger}, logger)
	if err != nil {
		return nil, err
	}

	return dispatch.NewRouter(logger, email, sms, push, inApp)
}
