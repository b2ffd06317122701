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

// Letterboxd imports the member's film log entries.
type Letterboxd struct {
	http *connector.Client
}

func NewLetterboxd(deps connector.Deps) *Letterboxd {
	return &Letterboxd{http: client("letterboxd", deps)}
}

func (p *Letterboxd) ID() string { return "letterboxd" }

func (p *Letterboxd) Source() connector.SourceType { return connector.SourceResearch }

type letterboxdEntry struct {
	ID   string `json:"id"`
	Film struct {
		Name  string `json:"name"`
		Links []struct {
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"links"`
	} `json:"film"`
	WhenAdded string  `json:"whenAdded"`
	Rating    float64 `json:"rating"`
}

type letterboxdPage struct {
	Items []letterboxdEntry `json:"items"`
}

func (p *Letterboxd) FetchPage(ctx context.Context, token string, page, pageSize int) ([]connector.ImportedItem, []connector.ItemError, error) {
	u := fmt.Sprintf("https://api.letterboxd.com/api/v0/log-entries?member=me&perPage=%d&page=%d", pageSize, page+1)
	var out letterboxdPage
	if err := p.http.GetJSON(ctx, u, token, &out); err != nil {
		return nil, nil, err
	}

	var items []connector.ImportedItem
	var errs []connector.ItemError
	for _, e := range out.Items {
		if e.ID == "" {
			errs = append(errs, connector.ItemError{Message: "letterboxd entry without id"})
			continue
		}
		var link string
		for _, l := range e.Film.Links {
			if l.Type == "letterboxd" {
				link = l.URL
				break
			}
		}
		ts := time.Time{}
		if parsed, err := time.Parse(time.RFC3339, e.WhenAdded); err == nil {
			ts = parsed.UTC()
		}
		items = append(items, connector.ImportedItem{
			ID:         "lbx_film_" + e.ID,
			Title:      e.Film.Name,
			URL:        link,
			SourceType: p.Source(),
			Timestamp:  ts,
			Metadata:   map[string]any{"provider": "letterboxd", "rating": e.Rating},
		})
	}
	return items, errs, nil
}

// Revoke is a no-op: Letterboxd tokens expire on their own and the API has
// no revocation endpoint.
func (p *Letterboxd) Revoke(ctx context.Context, token string) error { return nil }
