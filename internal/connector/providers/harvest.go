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

// Harvest imports time entries from the Harvest v2 API.
type Harvest struct {
	http *connector.Client
}

func NewHarvest(deps connector.Deps) *Harvest {
	return &Harvest{http: client("harvest", deps)}
}

func (p *Harvest) ID() string { return "harvest" }

func (p *Harvest) Source() connector.SourceType { return connector.SourceProductivity }

type harvestEntry struct {
	ID        int64   `json:"id"`
	Notes     string  `json:"notes"`
	Hours     float64 `json:"hours"`
	SpentDate string  `json:"spent_date"`
	Project   struct {
		Name string `json:"name"`
	} `json:"project"`
	Task struct {
		Name string `json:"name"`
	} `json:"task"`
}

type harvestPage struct {
	TimeEntries []harvestEntry `json:"time_entries"`
	TotalPages  int            `json:"total_pages"`
}

func (p *Harvest) FetchPage(ctx context.Context, token string, page, pageSize int) ([]connector.ImportedItem, []connector.ItemError, error) {
	u := fmt.Sprintf("https://api.harvestapp.com/v2/time_entries?page=%d&per_page=%d", page+1, pageSize)
	var out harvestPage
	if err := p.http.GetJSON(ctx, u, token, &out); err != nil {
		return nil, nil, err
	}
	if page+1 > out.TotalPages && out.TotalPages > 0 {
		return nil, nil, nil
	}

	var items []connector.ImportedItem
	var errs []connector.ItemError
	for _, e := range out.TimeEntries {
		if e.ID == 0 {
			errs = append(errs, connector.ItemError{Message: "harvest entry without id"})
			continue
		}
		title := e.Notes
		if title == "" {
			title = fmt.Sprintf("%s / %s", e.Project.Name, e.Task.Name)
		}
		ts := time.Time{}
		if parsed, err := time.Parse("2006-01-02", e.SpentDate); err == nil {
			ts = parsed.UTC()
		}
		items = append(items, connector.ImportedItem{
			ID:         fmt.Sprintf("hrv_entry_%d", e.ID),
			Title:      title,
			SourceType: p.Source(),
			Timestamp:  ts,
			Metadata: map[string]any{
				"provider": "harvest",
				"hours":    e.Hours,
				"project":  e.Project.Name,
			},
		})
	}
	return items, errs, nil
}

// Revoke is a no-op: Harvest revocation requires the OAuth client secret,
// which stays with the UI's sign-in flow.
func (p *Harvest) Revoke(ctx context.Context, token string) error { return nil }
