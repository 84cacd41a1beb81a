package journal

import (
	"github.com/go-logr/logr"
)

// Open returns a SQLite journal at path, or Nop when path is empty. A
// journal that cannot be opened is logged and replaced by Nop so a broken
// database never stops a run.
func Open(path string, run Run, log logr.Logger) (Journal, bool) {
	if path == "" {
		return Nop{}, false
	}

	j, err := NewSQLiteJournal(path, run, log)
	if err != nil {
		log.Error(err, "Journal unavailable, continuing without it", "path", path)
		return Nop{}, false
	}
	return j, true
}
