package stream

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
)

// signature identifies a file's content without retaining the raw
// bytes. Equal signatures mean no observable change; this makes the
// fsnotify and polling detection paths idempotent.
type signature struct {
	size int64
	hash uint64
}

type snapshot struct {
	content   any
	signature signature
}

func readSnapshot(path string) (snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}

	var content any
	if err := json.Unmarshal(raw, &content); err != nil {
		return snapshot{}, fmt.Errorf("parse %s: %w", path, err)
	}

	return snapshot{
		content: content,
		signature: signature{
			size: int64(len(raw)),
			hash: xxhash.Sum64(raw),
		},
	}, nil
}
