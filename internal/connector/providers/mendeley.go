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

// Mendeley imports documents from the member's reference library.
type Mendeley struct {
	http *connector.Client
}

func NewMendeley(deps connector.Deps) *Mendeley {
	return &Mendeley{http: client("mendeley", deps)}
}

func (p *Mendeley) ID() string { return "mendeley" }

func (p *Mendeley) Source() connector.SourceType { return connector.SourceResearch }

type mendeleyDoc struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Created string `json:"created"`
	Authors []struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"authors"`
	Identifiers map[string]string `json:"identifiers"`
}

func (p *Mendeley) FetchPage(ctx context.Context, token string, page, pageSize int) ([]connector.ImportedItem, []connector.ItemError, error) {
	// The documents endpoint uses link-header cursors; offset paging past
	// the first window is not supported, so one window per sync.
	if page > 0 {
		return nil, nil, nil
	}
	u := fmt.Sprintf("https://api.mendeley.com/documents?limit=%d&order=desc&sort=created", pageSize)
	var docs []mendeleyDoc
	if err := p.http.GetJSON(ctx, u, token, &docs); err != nil {
		return nil, nil, err
	}

	var items []connector.ImportedItem
	var errs []connector.ItemError
	for _, d := range docs {
		if d.ID == "" {
			errs = append(errs, connector.ItemError{Message: "mendeley document without id"})
			continue
		}
		ts := time.Time{}
		if parsed, err := time.Parse(time.RFC3339, d.Created); err == nil {
			ts = parsed.UTC()
		}
		meta := map[string]any{"provider": "mendeley", "year": d.Year}
		if doi, ok := d.Identifiers["doi"]; ok {
			meta["doi"] = doi
		}
		if len(d.Authors) > 0 {
			meta["author"] = d.Authors[0].LastName
		}
		items = append(items, connector.ImportedItem{
			ID:         "mnd_doc_" + d.ID,
			Title:      d.Title,
			SourceType: p.Source(),
			Timestamp:  ts,
			Metadata:   meta,
		})
	}
	return items, errs, nil
}

// Revoke is a no-op: Mendeley access tokens are short-lived and cannot be
// revoked out of band.
func (p *Mendeley) Revoke(ctx context.Context, token string) error { return nil }
