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
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/semblance-ai/gateway/internal/connector"
)

// Slack imports the member's saved-for-later messages.
type Slack struct {
	http *connector.Client
}

func NewSlack(deps connector.Deps) *Slack {
	return &Slack{http: client("slack", deps)}
}

func (p *Slack) ID() string { return "slack" }

func (p *Slack) Source() connector.SourceType { return connector.SourceMessaging }

type slackSaved struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Items []struct {
		Type    string `json:"type"`
		Message struct {
			TS        string `json:"ts"`
			Text      string `json:"text"`
			Permalink string `json:"permalink"`
			User      string `json:"user"`
		} `json:"message"`
	} `json:"items"`
	Paging struct {
		Pages int `json:"pages"`
	} `json:"paging"`
}

func (p *Slack) FetchPage(ctx context.Context, token string, page, pageSize int) ([]connector.ImportedItem, []connector.ItemError, error) {
	u := fmt.Sprintf("https://slack.com/api/stars.list?count=%d&page=%d", pageSize, page+1)
	var out slackSaved
	if err := p.http.GetJSON(ctx, u, token, &out); err != nil {
		return nil, nil, err
	}
	if !out.OK {
		switch out.Error {
		case "invalid_auth", "token_revoked", "account_inactive":
			return nil, nil, fmt.Errorf("%w: slack: %s", connector.ErrNoAccount, out.Error)
		case "ratelimited":
			return nil, nil, fmt.Errorf("slack: rate limited")
		default:
			return nil, nil, fmt.Errorf("slack: %s", out.Error)
		}
	}
	if out.Paging.Pages > 0 && page+1 > out.Paging.Pages {
		return nil, nil, nil
	}

	var items []connector.ImportedItem
	var errs []connector.ItemError
	for _, it := range out.Items {
		if it.Type != "message" {
			continue
		}
		if it.Message.TS == "" {
			errs = append(errs, connector.ItemError{Message: "slack saved item without ts"})
			continue
		}
		ts := time.Time{}
		if secs, err := strconv.ParseFloat(it.Message.TS, 64); err == nil {
			ts = time.Unix(int64(secs), 0).UTC()
		}
		title := truncateTitle(it.Message.Text, 120)
		items = append(items, connector.ImportedItem{
			ID:         "slk_live_" + strings.ReplaceAll(it.Message.TS, ".", "_"),
			Title:      title,
			URL:        it.Message.Permalink,
			SourceType: p.Source(),
			Timestamp:  ts,
			Metadata:   map[string]any{"provider": "slack", "user": it.Message.User},
		})
	}
	return items, errs, nil
}

// truncateTitle caps a title at max bytes without splitting a rune.
func truncateTitle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Revoke invalidates the token via auth.revoke.
func (p *Slack) Revoke(ctx context.Context, token string) error {
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := p.http.GetJSON(ctx, "https://slack.com/api/auth.revoke", token, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("slack: %s", out.Error)
	}
	return nil
}
