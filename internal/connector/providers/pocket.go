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
	"strconv"
	"time"

	"github.com/semblance-ai/gateway/internal/connector"
)

// Pocket imports saved articles from the Pocket retrieve API.
type Pocket struct {
	http *connector.Client
}

func NewPocket(deps connector.Deps) *Pocket {
	return &Pocket{http: client("pocket", deps)}
}

func (p *Pocket) ID() string { return "pocket" }

func (p *Pocket) Source() connector.SourceType { return connector.SourceResearch }

type pocketItem struct {
	ItemID        string `json:"item_id"`
	ResolvedTitle string `json:"resolved_title"`
	GivenTitle    string `json:"given_title"`
	ResolvedURL   string `json:"resolved_url"`
	GivenURL      string `json:"given_url"`
	TimeAdded     string `json:"time_added"`
}

type pocketList struct {
	Status int                   `json:"status"`
	List   map[string]pocketItem `json:"list"`
}

func (p *Pocket) FetchPage(ctx context.Context, token string, page, pageSize int) ([]connector.ImportedItem, []connector.ItemError, error) {
	req := map[string]any{
		"access_token": token,
		"detailType":   "simple",
		"sort":         "newest",
		"count":        pageSize,
		"offset":       page * pageSize,
	}
	var out pocketList
	if err := p.http.PostJSON(ctx, "https://getpocket.com/v3/get", "", req, &out); err != nil {
		return nil, nil, err
	}

	items := make([]connector.ImportedItem, 0, len(out.List))
	var errs []connector.ItemError
	for _, it := range out.List {
		if it.ItemID == "" {
			errs = append(errs, connector.ItemError{Message: "pocket item without item_id"})
			continue
		}
		title := it.ResolvedTitle
		if title == "" {
			title = it.GivenTitle
		}
		url := it.ResolvedURL
		if url == "" {
			url = it.GivenURL
		}
		ts := time.Time{}
		if secs, err := strconv.ParseInt(it.TimeAdded, 10, 64); err == nil {
			ts = time.Unix(secs, 0).UTC()
		}
		items = append(items, connector.ImportedItem{
			ID:         "pkt_" + it.ItemID,
			Title:      title,
			URL:        url,
			SourceType: p.Source(),
			Timestamp:  ts,
			Metadata:   map[string]any{"provider": "pocket"},
		})
	}
	return items, errs, nil
}

// Revoke is a no-op: Pocket has no token revocation endpoint.
func (p *Pocket) Revoke(ctx context.Context, token string) error { return nil }
