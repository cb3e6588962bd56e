package main

import (
	"context"
	"fmt"
	"os"

	mastodon "github.com/mattn/go-mastodon"
)

const mediaDescription = "Snapshot of a satellite image of a coastal area."

// Poster publishes a subset image with its caption.
type Poster interface {
	Post(ctx context.Context, imagePath, caption string) error
}

type mastodonPoster struct {
	client *mastodon.Client
}

func newMastodonPoster(server, accessToken string) Poster {
	return &mastodonPoster{client: mastodon.NewClient(&mastodon.Config{
		Server:      server,
		AccessToken: accessToken,
	})}
}

func (p *mastodonPoster) Post(ctx context.Context, imagePath, caption string) error {
	file, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("Post: %w", err)
	}
	defer file.Close()

	attachment, err := p.client.UploadMediaFromMedia(ctx, &mastodon.Media{
		File:        file,
		Description: mediaDescription,
	})
	if err != nil {
		return fmt.Errorf("Post.UploadMedia: %w", err)
	}
	if _, err := p.client.PostStatus(ctx, &mastodon.Toot{
		Status:     caption,
		MediaIDs:   []mastodon.ID{attachment.ID},
		Visibility: "public",
	}); err != nil {
		return fmt.Errorf("Post.PostStatus: %w", err)
	}
	return nil
}
