package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"

	"github.com/mdp/qrterminal/v3"
	qrCode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
)

var ErrOutdatedForQR = errors.New("whatsapp client version is outdated for QR pairing")

// PairingQR holds the most recent pairing code so the status server can show it.
type PairingQR struct {
	mu      sync.RWMutex
	code    string
	dataURL string
}

func (p *PairingQR) Set(code string) error {
	if code == "" {
		p.Clear()
		return nil
	}
	png, err := qrCode.Encode(code, qrCode.Medium, 256)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.code = code
	p.dataURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	p.mu.Unlock()
	return nil
}

func (p *PairingQR) Clear() {
	p.mu.Lock()
	p.code, p.dataURL = "", ""
	p.mu.Unlock()
}

// DataURL returns the current code as a PNG data URL, or false when not pairing.
func (p *PairingQR) DataURL() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dataURL, p.dataURL != ""
}

// RenderQR prints code to w as a terminal QR block.
func RenderQR(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}

// WatchQR consumes the pairing channel until it succeeds or fails, handing every new code to onCode.
func WatchQR(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem, onCode func(code string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return errors.New("whatsapp qr channel closed before pairing")
			}
			switch {
			case evt.Event == "code":
				onCode(evt.Code)
			case evt.Event == whatsmeow.QRChannelSuccess.Event:
				return nil
			case evt.Event == whatsmeow.QRChannelTimeout.Event:
				return errors.New("whatsapp qr channel timed out")
			case evt.Event == whatsmeow.QRChannelErrUnexpectedEvent.Event:
				return errors.New("whatsapp qr channel entered an unexpected state")
			case evt.Event == whatsmeow.QRChannelClientOutdated.Event:
				return ErrOutdatedForQR
			case evt.Event == whatsmeow.QRChannelScannedWithoutMultidevice.Event:
				return errors.New("whatsapp qr scanned without multi-device enabled")
			case evt.Event == "error":
				if evt.Error != nil {
					return evt.Error
				}
				return errors.New("whatsapp qr channel reported an unspecified error")
			}
		}
	}
}
