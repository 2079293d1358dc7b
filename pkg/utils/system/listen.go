// Copyright 2022 The kubegems.io Authors
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

package system

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// ListenAndServeContext serves handler until ctx is done. A graceful shutdown is not an error.
func ListenAndServeContext(ctx context.Context, listen string, handler http.Handler) error {
	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	return ServeContext(ctx, lis, handler)
}

func ServeContext(ctx context.Context, lis net.Listener, handler http.Handler) error {
	log := logr.FromContextOrDiscard(ctx)
	s := http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		log.Info("shutting down server", "addr", lis.Addr().String())
		shutdownctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownctx)
	}()
	log.Info("starting http server", "addr", lis.Addr().String())
	if err := s.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
