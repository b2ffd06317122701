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
	"net/url"
	"strconv"
	"time"

	"github.com/semblance-ai/gateway/internal/connector"
)

// LastFM imports recently scrobbled tracks from the Last.fm API.
type LastFM struct {
	http *connector.Client
}

func NewLastFM(deps connector.Deps) *LastFM {
	return &LastFM{http: client("lastfm", deps)}
}

func (p *LastFM) ID() string { return "lastfm" }

func (p *LastFM) Source() connector.SourceType { return connector.SourceResearch }

type lastfmTrack struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	MBID   string `json:"mbid"`
	Artist struct {
		Name string `json:"#text"`
	} `json:"artist"`
	Date *struct {
		UTS string `json:"uts"`
	} `json:"date"`
}

type lastfmRecent struct {
	RecentTracks struct {
		Track []lastfmTrack `json:"track"`
	} `json:"recenttracks"`
}

func (p *LastFM) FetchPage(ctx context.Context, token string, page, pageSize int) ([]connector.ImportedItem, []connector.ItemError, error) {
	// Last.fm pages are 1-based.
	q := url.Values{}
	q.Set("method", "user.getrecenttracks")
	q.Set("sk", token)
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page+1))

	var out lastfmRecent
	if err := p.http.GetJSON(ctx, "https://ws.audioscrobbler.com/2.0/?"+q.Encode(), "", &out); err != nil {
		return nil, nil, err
	}

	var items []connector.ImportedItem
	var errs []connector.ItemError
	for _, t := range out.RecentTracks.Track {
		if t.Name == "" {
			errs = append(errs, connector.ItemError{Message: "last.fm track without name"})
			continue
		}
		// A now-playing track carries no date; skip it rather than invent
		// a timestamp.
		if t.Date == nil {
			continue
		}
		uts, err := strconv.ParseInt(t.Date.UTS, 10, 64)
		if err != nil {
			errs = append(errs, connector.ItemError{Message: fmt.Sprintf("last.fm track %q: bad uts %q", t.Name, t.Date.UTS)})
			continue
		}
		id := t.MBID
		if id == "" {
			id = fmt.Sprintf("%d_%s", uts, t.Name)
		}
		items = append(items, connector.ImportedItem{
			ID:         "lfm_track_" + id,
			Title:      fmt.Sprintf("%s - %s", t.Artist.Name, t.Name),
			URL:        t.URL,
			SourceType: p.Source(),
			Timestamp:  time.Unix(uts, 0).UTC(),
			Metadata:   map[string]any{"provider": "lastfm", "artist": t.Artist.Name},
		})
	}
	return items, errs, nil
}

// Revoke is a no-op: Last.fm session keys do not expire and have no
// revocation endpoint.
func (p *LastFM) Revoke(ctx context.Context, token string) error { return nil }
