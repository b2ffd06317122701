// Copyright 2026 Semblance AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/semblance-ai/gateway/internal/connector"
)

// Instapaper imports unread bookmarks from the Instapaper Full API.
type Instapaper struct {
	http *connector.Client
}

func NewInstapaper(deps connector.Deps) *Instapaper {
	return &Instapaper{http: client("instapaper", deps)}
}

func (p *Instapaper) ID() string { return "instapaper" }

func (p *Instapaper) Source() connector.SourceType { return connector.SourceResearch }

// instapaperEntry is one element of the mixed-type array the bookmarks/list
// endpoint returns. Non-bookmark entries (meta, user) are skipped by type.
type instapaperEntry struct {
	Type       string  `json:"type"`
	BookmarkID int64   `json:"bookmark_id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Time       float64 `json:"time"`
}

func (p *Instapaper) FetchPage(ctx context.Context, token string, page, pageSize int) ([]connector.ImportedItem, []connector.ItemError, error) {
	// The API has no page cursor; one call returns the full window.
	if page > 0 {
		return nil, nil, nil
	}
	req := map[string]any{"limit": pageSize}
	var out []instapaperEntry
	if err := p.http.PostJSON(ctx, "https://www.instapaper.com/api/1/bookmarks/list", token, req, &out); err != nil {
		return nil, nil, err
	}

	var items []connector.ImportedItem
	var errs []connector.ItemError
	for _, e := range out {
		if e.Type != "bookmark" {
			continue
		}
		if e.BookmarkID == 0 {
			errs = append(errs, connector.ItemError{Message: "instapaper bookmark without id"})
			continue
		}
		items = append(items, connector.ImportedItem{
			ID:         fmt.Sprintf("ipr_%d", e.BookmarkID),
			Title:      e.Title,
			URL:        e.URL,
			SourceType: p.Source(),
			Timestamp:  time.Unix(int64(e.Time), 0).UTC(),
			Metadata:   map[string]any{"provider": "instapaper"},
		})
	}
	return items, errs, nil
}

// Revoke is a no-op: Instapaper has no token revocation endpoint.
func (p *Instapaper) Revoke(ctx context.Context, token string) error { return nil }
