package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/botyard/botyard/pkg/models"
	"github.com/rs/zerolog/log"
)

// LocalFileArchiver writes purged data as JSONL files to a local
// directory. It is the default archive backend for OSS / development.
//
// Directory structure:
//
//	{basePath}/tasks/2026-02-20T15-04-05Z.jsonl[.gz]
//	{basePath}/transcripts/{chatID}.jsonl[.gz]
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver. If basePath is
// empty it defaults to "~/.botyard/archive".
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			basePath = "/tmp/botyard/archive"
		} else {
			basePath = filepath.Join(home, ".botyard", "archive")
		}
	}
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

func (a *LocalFileArchiver) ArchiveTasks(_ context.Context, tasks []models.Task) (string, error) {
	filename := time.Now().UTC().Format("2006-01-02T15-04-05Z") + ".jsonl"
	fpath, err := a.writeJSONL(filepath.Join(a.basePath, "tasks"), filename, func(enc *json.Encoder) error {
		for _, t := range tasks {
			if err := enc.Encode(t); err != nil {
				return fmt.Errorf("encode task %s: %w", t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Debug().Str("path", fpath).Int("count", len(tasks)).Msg("Archived tasks to local file")
	return fpath, nil
}

func (a *LocalFileArchiver) ArchiveTranscript(_ context.Context, chat models.Chat, msgs []models.Message) (string, error) {
	fpath, err := a.writeJSONL(filepath.Join(a.basePath, "transcripts"), chat.ID+".jsonl", func(enc *json.Encoder) error {
		// First line is the chat itself, then its messages in order.
		if err := enc.Encode(chat); err != nil {
			return fmt.Errorf("encode chat %s: %w", chat.ID, err)
		}
		for _, m := range msgs {
			if err := enc.Encode(m); err != nil {
				return fmt.Errorf("encode message %s: %w", m.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Debug().Str("path", fpath).Int("messages", len(msgs)).Msg("Archived transcript to local file")
	return fpath, nil
}

func (a *LocalFileArchiver) writeJSONL(dir, filename string, write func(*json.Encoder) error) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(dir, filename)

	f, err := os.Create(fpath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if a.compress {
		gw := gzip.NewWriter(f)
		defer gw.Close()
		enc = json.NewEncoder(gw)
	}
	if err := write(enc); err != nil {
		return "", err
	}
	return fpath, nil
}
