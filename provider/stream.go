package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatwrap/metrics"
	"chatwrap/model"
)

// MaxFrameSize bounds a single SSE line.
const MaxFrameSize = 1 << 20

var doneSentinel = []byte("[DONE]")

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// ReadEvent reads the next SSE event from the stream and returns its event
// type and data. Multiple data lines are joined with "\n". A final event
// without the trailing blank line is still returned before io.EOF.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > MaxFrameSize {
			return "", nil, errors.New("sse frame exceeds maximum size")
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", nil, err
		}
		eof := errors.Is(err, io.EOF)

		line = bytes.TrimRight(line, "\r\n")

		switch {
		case len(line) == 0:
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[5:]
			if len(data) > 0 && data[0] == ' ' {
				data = data[1:]
			}
			dataLines = append(dataLines, bytes.Clone(data))
		}
		// id:, retry: and ":" comment lines are ignored.

		if eof {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, io.EOF
		}
	}
}

// streamEvent is the subset of the /messages stream payload we decode.
type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// completion guards a StreamHandler so that exactly one of OnComplete or
// OnError fires, at most once.
type completion struct {
	once sync.Once
	h    model.StreamHandler
}

func (c *completion) complete(full string) {
	c.once.Do(func() {
		if c.h.OnComplete != nil {
			c.h.OnComplete(full)
		}
	})
}

func (c *completion) fail(err error) {
	c.once.Do(func() {
		if c.h.OnError != nil {
			c.h.OnError(err)
		}
	})
}

// decodeStream reads content deltas from body, forwarding each to onChunk in
// arrival order. It returns the accumulated text on [DONE] or a clean EOF.
// Malformed frames are skipped and counted.
func decodeStream(ctx context.Context, body io.Reader, onChunk func(string), log zerolog.Logger, m *metrics.Metrics) (string, error) {
	reader := NewSSEReader(body)
	var full strings.Builder

	for {
		if err := ctx.Err(); err != nil {
			return full.String(), &StreamError{Partial: full.String(), Err: err}
		}

		_, data, err := reader.ReadEvent()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), &StreamError{Partial: full.String(), Err: err}
		}

		if bytes.Equal(data, doneSentinel) {
			return full.String(), nil
		}

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			m.RecordSkippedFrame()
			log.Debug().Err(err).Int("bytes", len(data)).Msg("Skipping malformed stream frame")
			continue
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta == nil || ev.Delta.Text == "" {
				continue
			}
			full.WriteString(ev.Delta.Text)
			m.RecordChunk()
			if onChunk != nil {
				onChunk(ev.Delta.Text)
			}
		case "message_stop":
			return full.String(), nil
		case "error":
			apiErr := &APIError{Message: "stream reported an error", Code: CodeStreamError}
			if ev.Error != nil {
				apiErr.Message = ev.Error.Message
				if ev.Error.Type != "" {
					apiErr.Code = ev.Error.Type
				}
			}
			return full.String(), &StreamError{Partial: full.String(), Err: apiErr}
		}
	}
}

// idleBody cancels the request when no bytes arrive within timeout.
type idleBody struct {
	io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
}

func newIdleBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleBody {
	return &idleBody{
		ReadCloser: body,
		timeout:    timeout,
		timer:      time.AfterFunc(timeout, cancel),
	}
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	return b.ReadCloser.Close()
}
