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

package exporter

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promcollectors "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"kubegems.io/jobnet/pkg/utils/config"
	"kubegems.io/jobnet/pkg/utils/pprof"
	"kubegems.io/jobnet/pkg/utils/system"
)

const (
	MetricPath  = "/metrics"
	MaxRequests = 40
)

type ExporterOptions struct {
	Listen                 string `json:"listen,omitempty" description:"metrics listen address, empty disables the exporter"`
	IncludeExporterMetrics bool   `json:"includeExporterMetrics,omitempty" description:"export go runtime and process metrics"`
	Pprof                  bool   `json:"pprof,omitempty" description:"serve /debug/pprof next to the metrics"`
}

func DefaultExporterOptions() *ExporterOptions {
	return &ExporterOptions{Listen: ""}
}

func (o *ExporterOptions) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Listen, config.JoinFlagName(prefix, "listen"), o.Listen, "metrics listen address, e.g. :9100")
	fs.BoolVar(&o.IncludeExporterMetrics, config.JoinFlagName(prefix, "include-exporter-metrics"), o.IncludeExporterMetrics, "export go runtime and process metrics")
	fs.BoolVar(&o.Pprof, config.JoinFlagName(prefix, "pprof"), o.Pprof, "serve /debug/pprof next to the metrics")
}

// Handler serves the metrics of a dedicated registry, so nothing registered on the
// prometheus default registry leaks into the output.
type Handler struct {
	Registry *prometheus.Registry
	inner    http.Handler
}

func NewHandler(includeExporterMetrics bool) *Handler {
	reg := prometheus.NewRegistry()
	if includeExporterMetrics {
		reg.MustRegister(
			promcollectors.NewProcessCollector(promcollectors.ProcessCollectorOpts{}),
			promcollectors.NewGoCollector(),
		)
	}
	return &Handler{
		Registry: reg,
		inner: promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			MaxRequestsInFlight: MaxRequests,
			ErrorHandling:       promhttp.ContinueOnError,
		}),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.inner.ServeHTTP(w, r)
}

// ServeMux routes the metrics and, when enabled, the pprof handlers.
func (h *Handler) ServeMux(options *ExporterOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(MetricPath, h)
	if options.Pprof {
		pprof.Register(mux)
	}
	return mux
}

func (h *Handler) Run(ctx context.Context, options *ExporterOptions) error {
	return system.ListenAndServeContext(ctx, options.Listen, h.ServeMux(options))
}
