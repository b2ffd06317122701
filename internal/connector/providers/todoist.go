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
	"time"

	"github.com/semblance-ai/gateway/internal/connector"
)

// Todoist imports active tasks from the Todoist REST API.
type Todoist struct {
	http *connector.Client
}

func NewTodoist(deps connector.Deps) *Todoist {
	return &Todoist{http: client("todoist", deps)}
}

func (p *Todoist) ID() string { return "todoist" }

func (p *Todoist) Source() connector.SourceType { return connector.SourceProductivity }

type todoistTask struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	Priority  int    `json:"priority"`
	ProjectID string `json:"project_id"`
	Due       *struct {
		Date string `json:"date"`
	} `json:"due"`
}

func (p *Todoist) FetchPage(ctx context.Context, token string, page, pageSize int) ([]connector.ImportedItem, []connector.ItemError, error) {
	// The REST tasks endpoint returns the full active set in one call.
	if page > 0 {
		return nil, nil, nil
	}
	var tasks []todoistTask
	if err := p.http.GetJSON(ctx, "https://api.todoist.com/rest/v2/tasks", token, &tasks); err != nil {
		return nil, nil, err
	}

	var items []connector.ImportedItem
	var errs []connector.ItemError
	for _, t := range tasks {
		if t.ID == "" {
			errs = append(errs, connector.ItemError{Message: "todoist task without id"})
			continue
		}
		ts := time.Time{}
		if parsed, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
			ts = parsed.UTC()
		}
		meta := map[string]any{
			"provider": "todoist",
			"priority": t.Priority,
			"project":  t.ProjectID,
		}
		if t.Due != nil {
			meta["due"] = t.Due.Date
		}
		items = append(items, connector.ImportedItem{
			ID:         "tds_task_" + t.ID,
			Title:      t.Content,
			URL:        t.URL,
			SourceType: p.Source(),
			Timestamp:  ts,
			Metadata:   meta,
		})
	}
	return items, errs, nil
}

// Revoke invalidates the access token via the sync API.
func (p *Todoist) Revoke(ctx context.Context, token string) error {
	return p.http.PostJSON(ctx, "https://todoist.com/api/access_tokens/revoke", token, map[string]any{}, nil)
}
