// Package telemetry provides OpenTelemetry tracing for pipeline runs.
//
// # Overview
//
// Each broker run is exported as one trace: a "pipeline.run" root span with
// one child span per stage. Spans go to an OTLP collector over gRPC or
// HTTP/protobuf. Run counters and durations live in the metrics package;
// this package only traces.
//
// # Usage
//
//	cfg := telemetry.FromAppConfig(appCfg.Telemetry, version)
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	executor.SetTracer(tel.Tracer(telemetry.InstrumentationName))
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  insecure: true          # local endpoints only
//	  sampling_rate: 1.0
//	  shutdown_timeout: 5s
//
// # Error Handling
//
// Exporter setup failures do not fail the run. The instance is marked
// degraded and hands out no-op tracers.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	executor.SetTracer(tt.Tracer("test"))
//	tt.AssertSpanExists(t, "pipeline.run")
package telemetry
