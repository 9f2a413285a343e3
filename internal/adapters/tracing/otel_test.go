package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestInitTracer_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer(&buf)
	if err != nil {
		t.Fatalf("InitTracer() error: %v", err)
	}

	_, span := Tracer("promptopt/test").Start(context.Background(), "stage.evaluate_quick")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}

	if !strings.Contains(buf.String(), "stage.evaluate_quick") {
		t.Errorf("expected span name in export, got %q", buf.String())
	}
}
