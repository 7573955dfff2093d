package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// captureOutput redirects EMF output for the duration of a test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := Output
	Output = &buf
	t.Cleanup(func() { Output = old })
	return &buf
}

func TestNew_ServiceDimension(t *testing.T) {
	initOnce.Do(func() {})
	serviceName = "triage-server"
	defer func() { serviceName = "" }()

	r := New("TestNamespace")
	if r.namespace != "TestNamespace" {
		t.Errorf("expected namespace TestNamespace, got %s", r.namespace)
	}
	if r.dimensions["Service"] != "triage-server" {
		t.Errorf("expected Service dimension triage-server, got %s", r.dimensions["Service"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	buf := captureOutput(t)
	initOnce.Do(func() {})
	serviceName = ""

	rec := New(Namespace)
	rec.Dimension("Operation", "reasoning")
	rec.Metric("LatencyMs", 1234.5, UnitMilliseconds)
	rec.Metric("CallCount", 1, UnitCount)
	rec.Property("sessionId", "abc12345")
	rec.Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}

	awsMap, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}
	cwArr, ok := awsMap["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	cw := cwArr[0].(map[string]interface{})
	if cw["Namespace"] != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, cw["Namespace"])
	}

	if doc["Operation"] != "reasoning" {
		t.Errorf("expected Operation=reasoning, got %v", doc["Operation"])
	}
	if doc["LatencyMs"] != 1234.5 {
		t.Errorf("expected LatencyMs=1234.5, got %v", doc["LatencyMs"])
	}
	if doc["sessionId"] != "abc12345" {
		t.Errorf("expected sessionId=abc12345, got %v", doc["sessionId"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := captureOutput(t)

	New("Test").Flush()

	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestRecorder_Chaining(t *testing.T) {
	serviceName = ""
	rec := New("Test").
		Dimension("Op", "test").
		Latency("Duration", 1500*time.Millisecond).
		Count("Calls").
		Property("id", "xyz")

	if rec.dimensions["Op"] != "test" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Duration"] != float64(1500) {
		t.Errorf("chaining Latency failed: %v", rec.values["Duration"])
	}
	if m := rec.metrics["Calls"]; m.Unit != UnitCount || rec.values["Calls"] != float64(1) {
		t.Error("chaining Count failed")
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}

func TestCall(t *testing.T) {
	serviceName = ""

	ok := Call("GeminiApi", "reasoning", 250*time.Millisecond, nil)
	if ok.dimensions["Operation"] != "reasoning" {
		t.Errorf("Operation = %q", ok.dimensions["Operation"])
	}
	if ok.values["GeminiApiLatencyMs"] != 250 || ok.values["GeminiApiCalls"] != 1 {
		t.Errorf("values = %v", ok.values)
	}
	if _, found := ok.metrics["GeminiApiErrors"]; found {
		t.Error("successful call should not record an error")
	}

	failed := Call("GeminiApi", "reasoning", time.Second, errors.New("boom"))
	if failed.values["GeminiApiErrors"] != 1 {
		t.Errorf("error count = %v", failed.values["GeminiApiErrors"])
	}
}

func TestDocument_SortedDimensions(t *testing.T) {
	serviceName = ""
	doc := New("Test").
		Dimension("Operation", "tts").
		Dimension("Model", "m").
		Count("Calls").
		document(time.UnixMilli(42))

	d := doc["_aws"].(directive)
	if d.Timestamp != 42 {
		t.Errorf("timestamp = %d", d.Timestamp)
	}
	dims := d.CloudWatchMetrics[0].Dimensions[0]
	if len(dims) != 2 || dims[0] != "Model" || dims[1] != "Operation" {
		t.Errorf("dimensions = %v", dims)
	}
}
