// Package dispatch is the typed, priority-routed publish path to the
// broker (spec.md §4.8): confirms required, exponential retry, DLQ on
// final failure. The teacher repo has no broker of its own; this is
// grounded on storj-storj's streadway/amqp dependency, using
// rabbitmq/amqp091-go -- the actively maintained successor of the same
// wire protocol client -- plus the teacher's existing (indirect)
// cenkalti/backoff/v4 dependency for the retry schedule.
package dispatch

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/brainhub-io/gateway/internal/jobs"
)

// wireSchemaVersion is bumped whenever JobDescriptor's binary layout
// changes incompatibly.
const wireSchemaVersion uint8 = 1

// gzipThreshold mirrors the cache fabric's compression cutoff for
// broker payloads above this size.
const gzipThreshold = 1024

// JobDescriptor is the message sent to the worker, per spec.md §4.8.
type JobDescriptor struct {
	JobID         uuid.UUID
	ResumeURI     string
	JDURL         string
	ModelProvider string
	ModelName     string
	SubjectID     string
	TraceID       string
	Priority      jobs.Priority
}

// Encode serializes d into the length-prefixed, schema-versioned binary
// wire format described in spec.md §6, gzip-compressing the payload
// above gzipThreshold.
func Encode(d JobDescriptor) ([]byte, error) {
	var body bytes.Buffer
	writeLPString := func(s string) {
		b := []byte(s)
		_ = binary.Write(&body, binary.BigEndian, uint32(len(b)))
		body.Write(b)
	}

	idBytes, err := d.JobID.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job id: %w", err)
	}
	body.Write(idBytes)
	writeLPString(d.ResumeURI)
	writeLPString(d.JDURL)
	writeLPString(d.ModelProvider)
	writeLPString(d.ModelName)
	writeLPString(d.SubjectID)
	writeLPString(d.TraceID)
	writeLPString(string(d.Priority))

	payload := body.Bytes()
	compressed := false
	if len(payload) > gzipThreshold {
		if c, err := gzipCompress(payload); err == nil {
			payload = c
			compressed = true
		}
	}

	var out bytes.Buffer
	out.WriteByte(wireSchemaVersion)
	if compressed {
		out.WriteByte(1)
	} else {
		out.WriteByte(0)
	}
	_ = binary.Write(&out, binary.BigEndian, uint32(len(payload)))
	out.Write(payload)
	return out.Bytes(), nil
}

// Decode parses the wire format Encode produces.
func Decode(raw []byte) (JobDescriptor, error) {
	var d JobDescriptor
	if len(raw) < 6 {
		return d, fmt.Errorf("descriptor too short")
	}

	version := raw[0]
	if version != wireSchemaVersion {
		return d, fmt.Errorf("unsupported descriptor schema version %d", version)
	}
	compressed := raw[1] == 1

	length := binary.BigEndian.Uint32(raw[2:6])
	payload := raw[6:]
	if uint32(len(payload)) < length {
		return d, fmt.Errorf("descriptor truncated")
	}
	payload = payload[:length]

	if compressed {
		decompressed, err := gzipDecompress(payload)
		if err != nil {
			return d, fmt.Errorf("failed to decompress descriptor: %w", err)
		}
		payload = decompressed
	}

	r := bytes.NewReader(payload)
	readLPString := func() (string, error) {
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return "", err
		}
		buf := make([]byte, n)
		if _, err := r.Read(buf); err != nil && n > 0 {
			return "", err
		}
		return string(buf), nil
	}

	idBytes := make([]byte, 16)
	if _, err := r.Read(idBytes); err != nil {
		return d, fmt.Errorf("failed to read job id: %w", err)
	}
	if err := d.JobID.UnmarshalBinary(idBytes); err != nil {
		return d, fmt.Errorf("failed to parse job id: %w", err)
	}

	var err error
	if d.ResumeURI, err = readLPString(); err != nil {
		return d, err
	}
	if d.JDURL, err = readLPString(); err != nil {
		return d, err
	}
	if d.ModelProvider, err = readLPString(); err != nil {
		return d, err
	}
	if d.ModelName, err = readLPString(); err != nil {
		return d, err
	}
	if d.SubjectID, err = readLPString(); err != nil {
		return d, err
	}
	if d.TraceID, err = readLPString(); err != nil {
		return d, err
	}
	priority, err := readLPString()
	if err != nil {
		return d, err
	}
	d.Priority = jobs.Priority(priority)

	return d, nil
}

func gzipCompress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// RoutingKey maps a priority to its topic-exchange routing key, per
// spec.md §6: jobs.priority.{express|high|normal|low}, followed by
// ".{shard}" when shardCount > 1.
func RoutingKey(p jobs.Priority, shard, shardCount int) string {
	base := fmt.Sprintf("jobs.priority.%s", routingSuffix(p))
	if shardCount > 1 {
		return fmt.Sprintf("%s.%d", base, shard%shardCount)
	}
	return base
}

func routingSuffix(p jobs.Priority) string {
	switch p {
	case jobs.PriorityExpress:
		return "express"
	case jobs.PriorityHigh:
		return "high"
	case jobs.PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

const (
	ExchangeName = "jobs.exchange"
	DLQName      = "jobs.dlq"
	StatusTopic  = "jobs.status.*"
)
