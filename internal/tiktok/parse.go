package tiktok

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ttgrab/ttgrab/internal/retriever"
)

// hydrationScriptID is the script tag carrying the page state JSON.
const hydrationScriptID = "__UNIVERSAL_DATA_FOR_REHYDRATION__"

type universalData struct {
	DefaultScope struct {
		VideoDetail struct {
			StatusCode int `json:"statusCode"`
			ItemInfo   struct {
				ItemStruct itemStruct `json:"itemStruct"`
			} `json:"itemInfo"`
		} `json:"webapp.video-detail"`
		MusicDetail struct {
			StatusCode int `json:"statusCode"`
			MusicInfo  struct {
				Music musicStruct `json:"music"`
			} `json:"musicInfo"`
		} `json:"webapp.music-detail"`
	} `json:"__DEFAULT_SCOPE__"`
}

type itemStruct struct {
	ID     string `json:"id"`
	Desc   string `json:"desc"`
	Author struct {
		UniqueID string `json:"uniqueId"`
		Nickname string `json:"nickname"`
	} `json:"author"`
	Video struct {
		PlayAddr string `json:"playAddr"`
		Cover    string `json:"cover"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		Duration int    `json:"duration"`
	} `json:"video"`
	Music     musicStruct `json:"music"`
	ImagePost *struct {
		Images []struct {
			ImageURL struct {
				URLList []string `json:"urlList"`
			} `json:"imageURL"`
		} `json:"images"`
	} `json:"imagePost"`
}

type musicStruct struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	AuthorName string `json:"authorName"`
	PlayURL    string `json:"playUrl"`
	Duration   int    `json:"duration"`
	CoverLarge string `json:"coverLarge"`
}

// parseHydration pulls the embedded state JSON out of a content page.
func parseHydration(page []byte) (*universalData, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	raw := doc.Find("script#" + hydrationScriptID).Text()
	if raw == "" {
		return nil, fmt.Errorf("hydration script %s not found", hydrationScriptID)
	}
	var data universalData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode hydration json: %w", err)
	}
	return &data, nil
}

// statusCodeErr maps the platform's page-level status codes onto the
// error taxonomy. Anything nonzero is content-level: the page rendered,
// the content just isn't servable.
func statusCodeErr(code int) error {
	switch code {
	case 0:
		return nil
	case 10204:
		return retriever.Errf(retriever.ErrContentUnavailable, "content deleted (status %d)", code)
	case 10216, 10222:
		return retriever.Errf(retriever.ErrContentUnavailable, "content private (status %d)", code)
	case 10231:
		return retriever.Errf(retriever.ErrContentUnavailable, "content region-locked (status %d)", code)
	default:
		return retriever.Errf(retriever.ErrContentUnavailable, "content unavailable (status %d)", code)
	}
}

func metadataFromItem(item *itemStruct, kind retriever.ContentKind) (*retriever.Metadata, error) {
	switch kind {
	case retriever.KindMusic:
		if item.Music.PlayURL == "" {
			return nil, retriever.Errf(retriever.ErrUnsupportedKind, "no sound attached to content %s", item.ID)
		}
		return &retriever.Metadata{
			ID:       item.ID,
			Title:    item.Music.Title,
			Author:   item.Music.AuthorName,
			Duration: time.Duration(item.Music.Duration) * time.Second,
			Kind:     retriever.KindMusic,
			PlayURL:  item.Music.PlayURL,
			CoverURL: item.Music.CoverLarge,
		}, nil

	case retriever.KindSlideshow:
		var urls []string
		for _, img := range item.ImagePost.Images {
			if len(img.ImageURL.URLList) > 0 {
				urls = append(urls, img.ImageURL.URLList[0])
			}
		}
		if len(urls) == 0 {
			return nil, retriever.Errf(retriever.ErrUnsupportedKind, "slideshow %s has no images", item.ID)
		}
		return &retriever.Metadata{
			ID:        item.ID,
			Title:     item.Desc,
			Author:    item.Author.UniqueID,
			Kind:      retriever.KindSlideshow,
			ImageURLs: urls,
		}, nil

	default:
		if item.Video.PlayAddr == "" {
			return nil, retriever.Errf(retriever.ErrUnsupportedKind, "content %s has no playable video", item.ID)
		}
		return &retriever.Metadata{
			ID:       item.ID,
			Title:    item.Desc,
			Author:   item.Author.UniqueID,
			Duration: time.Duration(item.Video.Duration) * time.Second,
			Kind:     retriever.KindVideo,
			PlayURL:  item.Video.PlayAddr,
			CoverURL: item.Video.Cover,
			Width:    item.Video.Width,
			Height:   item.Video.Height,
		}, nil
	}
}
