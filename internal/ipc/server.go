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

package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/semblance-ai/gateway/internal/protocol"
)

// maxLineBytes bounds one request line. Payloads are UI-sized, never bulk.
const maxLineBytes = 1 << 20

// Handler processes one raw request and reports whether it failed
// signature verification.
type Handler interface {
	Handle(ctx context.Context, raw []byte) (*protocol.Response, bool)
}

// Server runs the accept loop and the newline-delimited JSON framing: one
// request per line, one response line back.
type Server struct {
	handler Handler
	logger  *slog.Logger

	// badSig throttles repeated verification failures. Process-global: the
	// socket is single-user, so a budget per connection would just move the
	// abuse to reconnects.
	badSig *rate.Limiter

	wg sync.WaitGroup
}

// NewServer builds the transport server. badSigRate and badSigBurst tune
// the failed-signature throttle.
func NewServer(handler Handler, logger *slog.Logger, badSigRate float64, badSigBurst int) *Server {
	return &Server{
		handler: handler,
		logger:  logger,
		badSig:  rate.NewLimiter(rate.Limit(badSigRate), badSigBurst),
	}
}

// Serve accepts connections until ctx is cancelled or the listener closes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// serveConn handles one client connection. Requests on a connection are
// processed in order; connections are concurrent with each other.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	writer := bufio.NewWriter(conn)

	// Once a connection has failed verification, every further request on
	// it spends a limiter token before any handling. The throttle skips the
	// verification and audit work, not just the response.
	unverified := false

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp *protocol.Response
		if unverified && !s.badSig.Allow() {
			resp = protocol.Fail(protocol.CodeRateLimited, "too many unverifiable requests")
		} else {
			var sigFailed bool
			resp, sigFailed = s.handler.Handle(ctx, line)
			if sigFailed {
				unverified = true
			}
		}

		raw, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("encoding response failed", "error", err)
			return
		}
		raw = append(raw, '\n')
		if _, err := writer.Write(raw); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}

		if ctx.Err() != nil {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Debug("connection read ended", "error", err)
	}
}
