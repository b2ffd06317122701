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

//go:build windows

package ipc

import (
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// ownerOnlySD grants generic access to the pipe's creator-owner and nobody
// else, the named-pipe equivalent of a 0600 socket.
const ownerOnlySD = "D:P(A;;GA;;;OW)(A;;GA;;;SY)"

// Listen opens the gateway's named pipe. The endpoint carries the user's
// identifier so concurrent sessions on one machine get distinct pipes.
func Listen(endpoint string) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: ownerOnlySD,
		MessageMode:        false,
	}
	ln, err := winio.ListenPipe(endpoint, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on named pipe: %w", err)
	}
	return ln, nil
}

// Dial connects to a running gateway.
func Dial(endpoint string) (net.Conn, error) {
	timeout := 5 * time.Second
	conn, err := winio.DialPipe(endpoint, &timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway pipe: %w", err)
	}
	return conn, nil
}
