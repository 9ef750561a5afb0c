package captions

import (
	"context"
	"fmt"
	"strconv"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

type VideoMetadata struct {
	Title        string `json:"title"`
	ChannelTitle string `json:"channel_title"`
	PublishedAt  string `json:"published_at"`
	Duration     string `json:"duration,omitempty"`
	ViewCount    uint64 `json:"view_count"`
	LikeCount    uint64 `json:"like_count,omitempty"`
}

func (m *VideoMetadata) Map() map[string]string {
	if m == nil {
		return nil
	}
	out := map[string]string{
		"title":         m.Title,
		"channel_title": m.ChannelTitle,
		"published_at":  m.PublishedAt,
		"view_count":    strconv.FormatUint(m.ViewCount, 10),
	}
	if m.Duration != "" {
		out["duration"] = m.Duration
	}
	return out
}

type MetadataLookup interface {
	Lookup(ctx context.Context, videoID string) (*VideoMetadata, error)
}

// DataAPI reads video metadata through the YouTube Data API v3.
type DataAPI struct {
	svc *youtube.Service
}

func NewDataAPI(ctx context.Context, apiKey string, opts ...option.ClientOption) (*DataAPI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("youtube api key is required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &DataAPI{svc: svc}, nil
}

func (d *DataAPI) Lookup(ctx context.Context, videoID string) (*VideoMetadata, error) {
	resp, err := d.svc.Videos.List([]string{"snippet", "statistics", "contentDetails"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("video %s not found", videoID)
	}
	item := resp.Items[0]
	meta := &VideoMetadata{}
	if item.Snippet != nil {
		meta.Title = item.Snippet.Title
		meta.ChannelTitle = item.Snippet.ChannelTitle
		meta.PublishedAt = item.Snippet.PublishedAt
	}
	if item.Statistics != nil {
		meta.ViewCount = item.Statistics.ViewCount
		meta.LikeCount = item.Statistics.LikeCount
	}
	if item.ContentDetails != nil {
		meta.Duration = item.ContentDetails.Duration
	}
	return meta, nil
}
