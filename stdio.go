package toolhost

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
)

// StdIO is a Transport over a raw byte stream pair, typically the stdin/stdout
// of a tool-server subprocess. Outbound messages are serialized to single-line
// JSON and written by one dedicated goroutine so concurrent sends never
// interleave; inbound bytes are reassembled into newline-terminated lines and
// decoded one message per line.
//
// A line that fails to decode is reported through the framing error handler and
// skipped; it does not terminate the stream. End of stream ends the Messages
// iterator.
//
// Instances must be created with NewStdIO and released with Stop.
type StdIO struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	onFramingError FramingErrorHandler

	writeMessages chan stdIOWrite
	done          chan struct{}
	readClosed    chan struct{}
	writeClosed   chan struct{}
	stopOnce      sync.Once
}

type stdIOWrite struct {
	line []byte
	errs chan error
}

// StdIOOption configures a StdIO transport.
type StdIOOption func(*StdIO)

// WithStdIOLogger sets the logger used for transport-level events.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger
	}
}

// WithFramingErrorHandler registers a handler for undecodable inbound lines.
func WithFramingErrorHandler(h FramingErrorHandler) StdIOOption {
	return func(s *StdIO) {
		s.onFramingError = h
	}
}

// NewStdIO creates a stdio transport over the given stream pair.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) *StdIO {
	s := &StdIO{
		reader:        reader,
		writer:        writer,
		logger:        slog.Default(),
		writeMessages: make(chan stdIOWrite),
		done:          make(chan struct{}),
		readClosed:    make(chan struct{}),
		writeClosed:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Start launches the write loop. The streams are assumed to be open already.
func (s *StdIO) Start(_ context.Context) error {
	go s.processWrites()
	return nil
}

// Send serializes msg to one newline-terminated JSON line and queues it for the
// write loop, waiting for the write to complete or the context to expire.
func (s *StdIO) Send(ctx context.Context, msg Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	// Newline terminates the frame; the payload itself never contains one
	// because encoding/json escapes control characters.
	line = append(line, '\n')

	w := stdIOWrite{
		line: line,
		errs: make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrConnectionClosed
	case s.writeMessages <- w:
	}

	select {
	case err := <-w.errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrConnectionClosed
	}
}

// Messages returns the inbound message sequence. Iteration ends on end of
// stream or Stop; malformed lines are skipped after notifying the framing
// error handler.
func (s *StdIO) Messages() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		defer close(s.readClosed)

		// bufio.Reader instead of bufio.Scanner so long lines never hit a max
		// token size limit.
		reader := bufio.NewReader(s.reader)
		for {
			type lineWithErr struct {
				line string
				err  error
			}

			lines := make(chan lineWithErr, 1)

			// The read itself runs in a goroutine so Stop can interrupt a
			// blocked read via the done channel.
			go func() {
				line, err := reader.ReadString('\n')
				if err != nil {
					lines <- lineWithErr{err: err}
					return
				}
				lines <- lineWithErr{line: strings.TrimSuffix(line, "\n")}
			}()

			var lwe lineWithErr
			select {
			case <-s.done:
				return
			case lwe = <-lines:
			}

			if lwe.err != nil {
				if !errors.Is(lwe.err, io.EOF) {
					s.logger.Error("read from tool server failed", "err", lwe.err)
				}
				return
			}

			if lwe.line == "" {
				continue
			}

			var msg Message
			if err := json.Unmarshal([]byte(lwe.line), &msg); err != nil {
				s.logger.Error("dropping undecodable line", "err", err)
				if s.onFramingError != nil {
					s.onFramingError(fmt.Errorf("decode line: %w", err))
				}
				continue
			}

			if !yield(msg) {
				return
			}
		}
	}
}

// Stop terminates both loops and waits for them to wind down. It is safe to
// call more than once; a session teardown and a failed connect may both reach
// it for the same stream.
func (s *StdIO) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.readClosed
		<-s.writeClosed
	})
}

func (s *StdIO) processWrites() {
	defer close(s.writeClosed)

	for {
		var w stdIOWrite
		select {
		case <-s.done:
			return
		case w = <-s.writeMessages:
		}

		_, err := s.writer.Write(w.line)
		w.errs <- err
	}
}
