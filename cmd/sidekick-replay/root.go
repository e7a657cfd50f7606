package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/namikmesic/claude-sidekick/internal/response"
	"github.com/namikmesic/claude-sidekick/internal/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	chunkSize     int
	maxFrameBytes int
	jsonOutput    bool
	logLevel      string
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "sidekick-replay [file]",
		Short: "Rebuild a message from a recorded event stream",
		Long: `sidekick-replay reads raw text/event-stream bytes captured from the
Messages API (a file, or stdin when no file is given) and prints the
message they describe: text, tool calls, stop reason, usage and cost.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.chunkSize < 0 {
				return fmt.Errorf("--chunk-size must not be negative, got %d", opts.chunkSize)
			}
			if opts.maxFrameBytes <= 0 {
				return fmt.Errorf("--max-frame-bytes must be positive, got %d", opts.maxFrameBytes)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level %q: %w", opts.logLevel, err)
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: "15:04:05"}).
				Level(level).With().Timestamp().Logger()

			in := stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			resp, runErr := replay(cmd.Context(), in, opts)
			s := summarize(resp, runErr)
			if opts.jsonOutput {
				err = s.writeJSON(stdout)
			} else {
				err = s.writeText(stdout)
			}
			if err != nil {
				return err
			}

			if runErr != nil {
				log.Debug().Err(runErr).Bool("fatal", response.IsFatal(runErr)).Msg("replay failed")
				return &replayError{err: runErr}
			}
			return nil
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "re-split input into reads of at most N bytes (0 keeps the reader's own sizes)")
	cmd.Flags().IntVar(&opts.maxFrameBytes, "max-frame-bytes", stream.DefaultMaxFrameBytes, "largest single SSE frame accepted")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print a JSON summary")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	return cmd
}

func replay(ctx context.Context, in io.Reader, opts options) (*response.Response, error) {
	if opts.chunkSize > 0 {
		in = &chunkReader{r: in, n: opts.chunkSize}
	}

	er := stream.NewEventReader(in, opts.maxFrameBytes)
	er.OnFrame = func(f stream.Frame) {
		log.Debug().Int("index", f.Index).Str("event", f.EventType).Int("bytes", f.RawBytes).Msg("frame")
	}
	return response.Consume(ctx, er)
}

// replayError is a stream that could not be rebuilt. It prints as the
// message shown to users and unwraps to the cause.
type replayError struct{ err error }

func (e *replayError) Error() string { return response.UserMessage(e.err) }
func (e *replayError) Unwrap() error { return e.err }

// chunkReader caps every Read at n bytes.
type chunkReader struct {
	r io.Reader
	n int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.n {
		p = p[:c.n]
	}
	return c.r.Read(p)
}
