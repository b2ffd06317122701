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

package netguard

// connectorDomains is the fixed seed table: the exact set of domains each
// connector is permitted to contact. Seeding is exact-match, no wildcards.
// Downstream trust reporting asserts on exact counts, so additions here are
// breaking changes for that surface.
var connectorDomains = map[string][]string{
	"pocket":     {"getpocket.com"},
	"instapaper": {"www.instapaper.com"},
	"todoist":    {"api.todoist.com", "todoist.com"},
	"lastfm":     {"ws.audioscrobbler.com", "www.last.fm"},
	"letterboxd": {"api.letterboxd.com"},
	"mendeley":   {"api.mendeley.com"},
	"harvest":    {"api.harvestapp.com", "id.getharvest.com"},
	"slack":      {"slack.com", "api.slack.com"},
	"box":        {"account.box.com", "api.box.com", "upload.box.com"},
}

// DomainsForConnector returns the seed domain set for a connector, or nil
// for an unknown connector. The returned slice is a copy.
func DomainsForConnector(service string) []string {
	domains, ok := connectorDomains[service]
	if !ok {
		return nil
	}
	out := make([]string, len(domains))
	copy(out, domains)
	return out
}

// KnownConnectors returns the ids of every connector with a seed set.
func KnownConnectors() []string {
	ids := make([]string, 0, len(connectorDomains))
	for id := range connectorDomains {
		ids = append(ids, id)
	}
	return ids
}
