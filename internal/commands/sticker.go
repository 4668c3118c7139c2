package commands

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

const stickerMaxBytes = 10 << 20

type stickerHandler struct{}

func newSticker(plugin.Options) (plugin.Handler, error) {
	return stickerHandler{}, nil
}

func (stickerHandler) Execute(ctx context.Context, c *plugin.Context) error {
	image := stickerSource(c)
	if image == nil {
		_, err := c.Reply(ctx, fmt.Sprintf("❌ Send or reply to an image with %s%s", c.Prefix, c.Command))
		return err
	}
	if image.GetFileLength() > stickerMaxBytes {
		_, err := c.Reply(ctx, "❌ That image is too large.")
		return err
	}

	data, err := c.Socket.Download(ctx, image)
	if err != nil {
		return fmt.Errorf("download image: %w", err)
	}
	webp, err := whatsapp.ConvertSticker(data)
	if err != nil {
		_, rerr := c.Reply(ctx, "❌ Could not convert that image.")
		return rerr
	}
	uploaded, err := c.Socket.Upload(ctx, webp, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("upload sticker: %w", err)
	}

	_, err = c.Send(ctx, &waE2E.Message{
		StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String("image/webp"),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(webp))),
		},
	})
	return err
}

// stickerSource is the image attached to the command or the one it quotes.
func stickerSource(c *plugin.Context) *waE2E.ImageMessage {
	if c.Message != nil && c.Message.Message.GetImageMessage() != nil {
		return c.Message.Message.GetImageMessage()
	}
	if q := quoted(c); q != nil {
		return q.GetQuotedMessage().GetImageMessage()
	}
	return nil
}
