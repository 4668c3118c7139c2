package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

// WhatsMeowDialer builds a whatsmeow client per generation over the shared device store.
// Reconnection is left to the Manager, so whatsmeow's own auto-reconnect stays off.
type WhatsMeowDialer struct {
	Datastore     *whatsapp.Datastore
	ProxyURL      string
	PairingNumber string
	Client        whatsapp.ClientOptions
	QR            *whatsapp.PairingQR
	QROut         io.Writer
}

func (d *WhatsMeowDialer) Dial(ctx context.Context, handle func(evt interface{})) (Transport, error) {
	device, err := d.Datastore.Device(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	wa := whatsmeow.NewClient(device, log.WhatsMeow("Client"))
	if len(d.ProxyURL) > 0 {
		wa.SetProxyAddress(d.ProxyURL)
	}
	wa.EnableAutoReconnect = false
	wa.AutoTrustIdentity = true

	client := whatsapp.NewClient(wa, d.Client)
	wa.AddEventHandler(handle)

	return &whatsmeowTransport{
		wa:      wa,
		client:  client,
		dialer:  d,
		handle:  handle,
		pairing: device.ID == nil,
	}, nil
}

type whatsmeowTransport struct {
	wa      *whatsmeow.Client
	client  *whatsapp.Client
	dialer  *WhatsMeowDialer
	handle  func(evt interface{})
	pairing bool
}

func (t *whatsmeowTransport) Socket() whatsapp.Socket {
	return t.client
}

func (t *whatsmeowTransport) Pairing() bool {
	return t.pairing
}

func (t *whatsmeowTransport) Disconnect() {
	t.wa.Disconnect()
	t.wa.RemoveEventHandlers()
}

func (t *whatsmeowTransport) Connect(ctx context.Context) error {
	if !t.pairing {
		return t.wa.Connect()
	}
	if t.dialer.PairingNumber != "" {
		return t.pairPhone(ctx)
	}
	return t.pairQR(ctx)
}

func (t *whatsmeowTransport) pairPhone(ctx context.Context) error {
	if err := t.wa.Connect(); err != nil {
		return err
	}
	phone := whatsapp.DecomposeJID(t.dialer.PairingNumber)
	code, err := t.wa.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome ("+runtime.GOOS+")")
	if err != nil {
		return fmt.Errorf("request pairing code: %w", err)
	}
	log.Component("connection").WithField("code", code).Info("Enter this pairing code in WhatsApp > Linked devices")
	if t.dialer.QROut != nil {
		fmt.Fprintf(t.dialer.QROut, "Pairing code: %s\n", code)
	}
	return nil
}

func (t *whatsmeowTransport) pairQR(ctx context.Context) error {
	qrChan, err := t.wa.GetQRChannel(ctx)
	if err != nil {
		return err
	}
	if err := t.wa.Connect(); err != nil {
		return err
	}

	go func() {
		err := whatsapp.WatchQR(ctx, qrChan, func(code string) {
			log.Component("connection").Info("Scan the QR code below with WhatsApp > Linked devices")
			if t.dialer.QROut != nil {
				whatsapp.RenderQR(t.dialer.QROut, code)
			}
			if t.dialer.QR != nil {
				if err := t.dialer.QR.Set(code); err != nil {
					log.Component("connection").WithError(err).Warn("Failed to encode pairing QR")
				}
			}
		})
		if t.dialer.QR != nil {
			t.dialer.QR.Clear()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Component("connection").WithError(err).Warn("QR pairing ended without success")
			// a fresh generation brings a fresh QR channel
			t.handle(&events.Disconnected{})
		}
	}()
	return nil
}
