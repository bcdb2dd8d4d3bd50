package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/saathi/saathi-core/internal/domain"
)

func newEventID() string {
	return uuid.NewString()
}

// normalize converts one raw inbound payload into the canonical message.
// Media kinds are downloaded into a scoped temporary file first: the
// message does not exist downstream until the attachment is on disk or
// confirmed absent.
func (c *Connection) normalize(ctx context.Context, id string, env envelope) (domain.Message, error) {
	message := domain.Message{
		ID:         id,
		SenderID:   env.From,
		ReceivedAt: time.Now().UTC(),
	}
	if env.Timestamp > 0 {
		message.ReceivedAt = time.UnixMilli(env.Timestamp).UTC()
	}
	if message.SenderID == "" {
		return domain.Message{}, fmt.Errorf("payload has no sender")
	}

	switch env.Kind {
	case rawKindText, rawKindExtendedText:
		message.Kind = domain.MessageKindText
		message.Text = env.Text
	case rawKindImage:
		message.Kind = domain.MessageKindImage
		message.Text = env.Caption
	case rawKindAudio:
		message.Kind = domain.MessageKindAudio
		message.Text = env.Caption
	case rawKindDocument:
		message.Kind = domain.MessageKindDocument
		message.Text = env.Caption
	default:
		// Video and anything newer the network invents.
		return domain.Message{}, fmt.Errorf("unsupported payload kind %q", env.Kind)
	}

	if message.Kind != domain.MessageKindText && env.MediaURL != "" {
		ref, err := c.downloadMedia(ctx, id, env.MediaURL)
		if err != nil {
			return domain.Message{}, fmt.Errorf("download attachment: %w", err)
		}
		message.MediaRef = ref
	}
	return message, nil
}

func (c *Connection) downloadMedia(ctx context.Context, id string, url string) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	response, err := c.cfg.HTTPClient.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media server returned status %d", response.StatusCode)
	}

	file, err := os.CreateTemp(c.cfg.MediaDir, "saathi-media-"+id+"-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(file, response.Body); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}
