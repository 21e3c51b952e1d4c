package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

func TestInitProvider_DescribesInstance(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	tel, err := InitProvider(context.Background(), ProviderConfig{
		Version:    "v1.2.3",
		ListenAddr: "127.0.0.1:8088",
		HostOrigin: "https://iknow.jp",
		Registerer: reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.Metrics.RecordPayload(context.Background(), "course")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawPayloads bool
	labels := map[string]string{}
	for _, f := range families {
		switch name := f.GetName(); {
		case name == "target_info":
			for _, lp := range f.GetMetric()[0].GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
		case strings.HasPrefix(name, "scribeline_payloads"):
			sawPayloads = true
		}
	}
	if !sawPayloads {
		t.Error("payload counter not exported to the registry")
	}
	want := map[string]string{
		"service_name":           "scribeline",
		"service_version":        "v1.2.3",
		"service_instance_id":    "127.0.0.1:8088",
		"scribeline_host_origin": "https://iknow.jp",
	}
	for k, v := range want {
		if labels[k] != v {
			t.Errorf("target_info %s = %q, want %q", k, labels[k], v)
		}
	}

	if _, span := StartSpan(context.Background(), SpanRebuild); !span.SpanContext().HasTraceID() {
		t.Error("global tracer provider not installed")
	}
}
