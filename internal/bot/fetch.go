package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/coah80/yoinktube/internal/chat"
)

// attachmentFetcher downloads user uploads from Discord's CDN on demand.
type attachmentFetcher struct {
	client *http.Client
}

func newAttachmentFetcher() *attachmentFetcher {
	return &attachmentFetcher{client: &http.Client{Timeout: 2 * time.Minute}}
}

func (f *attachmentFetcher) attachment(a *discordgo.MessageAttachment) *chat.Attachment {
	if a == nil {
		return nil
	}
	url := a.URL
	return &chat.Attachment{
		Name: a.Filename,
		Size: int64(a.Size),
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return f.open(ctx, url)
		},
	}
}

func (f *attachmentFetcher) open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}
