// Package chat runs the interactive question/answer loop.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/kjstillabower/us-weather-agent/internal/observability"
	"github.com/kjstillabower/us-weather-agent/internal/validation"
)

// Refusal is printed for every query the classifier rejects.
const Refusal = "I only answer questions about weather in US cities. Please ask about the weather in a specific US city."

// maxLineBytes caps a single input line. Longer lines are refused without being buffered.
const maxLineBytes = 64 << 10

// Responder answers an accepted query.
type Responder interface {
	Respond(ctx context.Context, text string) (string, error)
}

// ClassifiedResponder answers a query the caller has already classified, so the
// responder can reuse the city hint instead of classifying again.
type ClassifiedResponder interface {
	RespondClassified(ctx context.Context, text string, res validation.ClassificationResult) (string, error)
}

// Answer hands an accepted query to r, passing res along when r can use it.
func Answer(ctx context.Context, r Responder, text string, res validation.ClassificationResult) (string, error) {
	if cr, ok := r.(ClassifiedResponder); ok {
		return cr.RespondClassified(ctx, text, res)
	}
	return r.Respond(ctx, text)
}

// Loop reads one query per line and writes one answer per query.
type Loop struct {
	In         io.Reader
	Out        io.Writer
	Responder  Responder
	Classifier *validation.Classifier
	Logger     *zap.Logger

	// Interactive prints the banner and prompt. Defaults to whether In is a terminal.
	Interactive *bool
}

// Run processes lines until quit/exit, EOF or ctx cancellation.
func (l *Loop) Run(ctx context.Context) error {
	classifier := l.Classifier
	if classifier == nil {
		classifier = validation.NewClassifier(validation.DefaultPolicy())
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx = observability.WithLogger(ctx, logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	interactive := l.isInteractive()

	if interactive {
		fmt.Fprintln(l.Out, "Welcome to Weather Agent!")
		fmt.Fprintln(l.Out, strings.Repeat("=", 60))
		fmt.Fprintln(l.Out, "Ask me about the weather in any US city.")
		fmt.Fprintln(l.Out, "Type 'quit' or 'exit' to leave.")
		fmt.Fprintln(l.Out)
	}

	lines := make(chan inputLine)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		br := bufio.NewReader(l.In)
		for {
			in, err := readLine(br)
			if in.text != "" || in.tooLong || err == nil {
				select {
				case lines <- in:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	for {
		if interactive {
			fmt.Fprint(l.Out, "You: ")
		}

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(l.Out, "\nGoodbye!")
			return nil
		case in, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}
			if in.tooLong {
				logger.Debug("query rejected", zap.String("reason", "line too long"))
				fmt.Fprintf(l.Out, "Agent: %s\n\n", Refusal)
				continue
			}
			line = strings.TrimSpace(in.text)
		}

		if line == "" {
			continue
		}
		if isQuit(line) {
			fmt.Fprintln(l.Out, "Goodbye!")
			return nil
		}

		res := classifier.Classify(line)
		observability.QueryClassificationsTotal.WithLabelValues(string(res.Reason)).Inc()
		if !res.Accepted {
			logger.Debug("query rejected", zap.String("reason", string(res.Reason)))
			fmt.Fprintf(l.Out, "Agent: %s\n\n", Refusal)
			continue
		}

		answer, err := Answer(ctx, l.Responder, line, res)
		if err != nil {
			logger.Warn("responder failed", zap.Error(err))
			fmt.Fprintf(l.Out, "Error: %v\n\n", err)
			continue
		}
		fmt.Fprintf(l.Out, "Agent: %s\n\n", answer)
	}
}

type inputLine struct {
	text    string
	tooLong bool
}

// readLine reads up to the next newline. Bytes past maxLineBytes are discarded and
// the line is marked tooLong.
func readLine(br *bufio.Reader) (inputLine, error) {
	var (
		buf []byte
		in  inputLine
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if !in.tooLong {
			if len(buf)+len(chunk) > maxLineBytes {
				in.tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err != nil {
			in.text = string(buf)
			return in, err
		}
		if !isPrefix {
			in.text = string(buf)
			return in, nil
		}
	}
}

func (l *Loop) isInteractive() bool {
	if l.Interactive != nil {
		return *l.Interactive
	}
	f, ok := l.In.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func isQuit(line string) bool {
	switch strings.ToLower(line) {
	case "quit", "exit":
		return true
	}
	return false
}
