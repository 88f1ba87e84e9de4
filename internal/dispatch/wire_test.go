package dispatch

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/brainhub-io/gateway/internal/jobs"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	d := JobDescriptor{
		JobID:         uuid.New(),
		ResumeURI:     "s3://bucket/resume.pdf",
		JDURL:         "https://example.com/jd/123",
		ModelProvider: "anthropic",
		ModelName:     "claude",
		SubjectID:     "user-1",
		TraceID:       "trace-1",
		Priority:      jobs.PriorityHigh,
	}

	raw, err := Encode(d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.JobID != d.JobID || got.ResumeURI != d.ResumeURI || got.JDURL != d.JDURL ||
		got.ModelProvider != d.ModelProvider || got.ModelName != d.ModelName ||
		got.SubjectID != d.SubjectID || got.TraceID != d.TraceID || got.Priority != d.Priority {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, d)
	}
}

func TestEncodeDecodeLargePayloadCompresses(t *testing.T) {
	d := JobDescriptor{
		JobID:         uuid.New(),
		ResumeURI:     strings.Repeat("a", 4096),
		JDURL:         "https://example.com/jd/large",
		ModelProvider: "anthropic",
		ModelName:     "claude",
		SubjectID:     "user-1",
		TraceID:       "trace-1",
		Priority:      jobs.PriorityLow,
	}

	raw, err := Encode(d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if raw[1] != 1 {
		t.Fatalf("expected compressed flag set for large payload")
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ResumeURI != d.ResumeURI {
		t.Fatalf("resume uri mismatch after decompression")
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	raw := []byte{99, 0, 0, 0, 0, 0}
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for unknown schema version")
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	if _, err := Decode([]byte{wireSchemaVersion, 0, 0}); err == nil {
		t.Fatal("expected error for truncated descriptor")
	}
}

func TestRoutingKeyByPriority(t *testing.T) {
	cases := []struct {
		p    jobs.Priority
		want string
	}{
		{jobs.PriorityExpress, "jobs.priority.express"},
		{jobs.PriorityHigh, "jobs.priority.high"},
		{jobs.PriorityNormal, "jobs.priority.normal"},
		{jobs.PriorityLow, "jobs.priority.low"},
	}
	for _, c := range cases {
		if got := RoutingKey(c.p, 0, 1); got != c.want {
			t.Errorf("RoutingKey(%v, 0, 1) = %q, want %q", c.p, got, c.want)
		}
	}
}

func TestRoutingKeyShards(t *testing.T) {
	got := RoutingKey(jobs.PriorityHigh, 2, 4)
	want := "jobs.priority.high.2"
	if got != want {
		t.Errorf("RoutingKey with shards = %q, want %q", got, want)
	}
}
