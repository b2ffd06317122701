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

// Box imports recently modified files from the account's root folder.
type Box struct {
	http *connector.Client
}

func NewBox(deps connector.Deps) *Box {
	return &Box{http: client("box", deps)}
}

func (p *Box) ID() string { return "box" }

func (p *Box) Source() connector.SourceType { return connector.SourceProductivity }

type boxItem struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
}

type boxFolder struct {
	TotalCount int       `json:"total_count"`
	Entries    []boxItem `json:"entries"`
}

func (p *Box) FetchPage(ctx context.Context, token string, page, pageSize int) ([]connector.ImportedItem, []connector.ItemError, error) {
	u := fmt.Sprintf("https://api.box.com/2.0/folders/0/items?fields=id,name,modified_at,size&limit=%d&offset=%d", pageSize, page*pageSize)
	var out boxFolder
	if err := p.http.GetJSON(ctx, u, token, &out); err != nil {
		return nil, nil, err
	}

	var items []connector.ImportedItem
	var errs []connector.ItemError
	for _, e := range out.Entries {
		if e.Type != "file" {
			continue
		}
		if e.ID == "" {
			errs = append(errs, connector.ItemError{Message: "box entry without id"})
			continue
		}
		ts := time.Time{}
		if parsed, err := time.Parse(time.RFC3339, e.ModifiedAt); err == nil {
			ts = parsed.UTC()
		}
		items = append(items, connector.ImportedItem{
			ID:         "box_file_" + e.ID,
			Title:      e.Name,
			SourceType: p.Source(),
			Timestamp:  ts,
			Metadata:   map[string]any{"provider": "box", "size": e.Size},
		})
	}
	return items, errs, nil
}

// Revoke posts to the OAuth revocation endpoint. Box accepts the token
// itself as the credential being revoked.
func (p *Box) Revoke(ctx context.Context, token string) error {
	return p.http.PostJSON(ctx, "https://api.box.com/oauth2/revoke", "", map[string]any{"token": token}, nil)
}
