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

// Package providers holds the per-service adapter implementations. Each
// provider only maps its API's item shapes; auth custody, allowlisting and
// partial-failure accounting live in the connector package.
package providers

import (
	"fmt"

	"github.com/semblance-ai/gateway/internal/connector"
)

// RegisterAll wires every supported provider into the router.
func RegisterAll(router *connector.Router, deps connector.Deps) error {
	fetchers := []connector.Fetcher{
		NewPocket(deps),
		NewInstapaper(deps),
		NewTodoist(deps),
		NewLastFM(deps),
		NewLetterboxd(deps),
		NewMendeley(deps),
		NewHarvest(deps),
		NewSlack(deps),
		NewBox(deps),
	}
	for _, f := range fetchers {
		if err := router.Register(connector.NewServiceAdapter(f, deps)); err != nil {
			return fmt.Errorf("registering %s: %w", f.ID(), err)
		}
	}
	return nil
}

// client builds the allowlist-guarded HTTP client for a provider.
func client(service string, deps connector.Deps) *connector.Client {
	return connector.NewClient(service, deps.Guard, deps.Client)
}
