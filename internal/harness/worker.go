package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/phobologic/apidrift/internal/logging"
	"github.com/phobologic/apidrift/internal/model"
)

// ExtractFunc builds the collection for in. Log records go to logger,
// which writes to the worker's stdout ahead of the marker.
type ExtractFunc func(ctx context.Context, in Input, logger *slog.Logger) (*model.Collection, error)

// Serve is the worker side of the protocol: it reads one Input from stdin,
// runs extract and writes the log, Marker and payload to stdout. A returned
// error should end the process with a non-zero status.
func Serve(ctx context.Context, stdin io.Reader, stdout io.Writer, extract ExtractFunc) error {
	logger := logging.New(logging.Config{Level: workerLevel(), Writer: stdout})
	if id := os.Getenv(AttemptEnv); id != "" {
		logger = logger.With("attempt", id)
	}

	var in Input
	if err := json.NewDecoder(stdin).Decode(&in); err != nil {
		return fmt.Errorf("decoding input: %w", err)
	}
	logger.Info("extracting", "release", in.Release.String(), "root", in.Root)

	c, err := extract(ctx, in, logger)
	if err != nil {
		logger.Error("extraction failed", "error", err)
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding collection: %w", err)
	}
	logger.Info("extracted", "entries", c.Len())

	if _, err := io.WriteString(stdout, "\n"+Marker+"\n"); err != nil {
		return err
	}
	_, err = stdout.Write(data)
	return err
}

func workerLevel() logging.Level {
	level, err := logging.ParseLevel(os.Getenv("APIDRIFT_LOG_LEVEL"))
	if err != nil {
		return logging.LevelInfo
	}
	return level
}
