// Package logger implements a per-loadID in-memory log buffer.
//
// Detailed lines are buffered while a file is being loaded and scored.
// If the load fails, the buffer is replayed followed by the final error,
// so the log carries the full story only when something went wrong. If
// the load succeeds, the buffer is dropped and one short line is written.
//
// Thread safety comes from a dedicated logger goroutine fed over a
// command channel; no mutexes.
package logger

import (
	"bytes"
	"log"
	"strings"
	"time"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
)

type cmd struct {
	act     action
	loadID  string
	message string    // for Append
	source  string    // for Success
	err     error     // for FlushError
	when    time.Time // arrival order, if ever needed
}

// Buffered so short bursts of Append calls never block the load itself.
var ch = make(chan cmd, 128)

// Begin starts buffering for loadID.
func Begin(loadID string) { ch <- cmd{act: actBegin, loadID: loadID, when: time.Now()} }

// Append adds one detailed line to the buffer.
func Append(loadID, msg string) {
	ch <- cmd{act: actAppend, loadID: loadID, message: msg, when: time.Now()}
}

// Success drops the buffer and writes a single short line.
func Success(loadID, source string) {
	ch <- cmd{act: actSuccess, loadID: loadID, source: source, when: time.Now()}
}

// FlushError replays the buffered lines followed by the final error.
func FlushError(loadID string, err error) {
	ch <- cmd{act: actFlushErr, loadID: loadID, err: err, when: time.Now()}
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.loadID] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.loadID]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Print(c.message) // no buffer, write straight through
			}

		case actSuccess:
			log.Printf("[%-6s][Load] ✔ processed %q", c.loadID, c.source)
			delete(buffers, c.loadID)

		case actFlushErr:
			if b := buffers[c.loadID]; b != nil {
				lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
				for _, ln := range lines {
					log.Print(ln)
				}
				delete(buffers, c.loadID)
			}
			log.Printf("[%-6s][ERROR] %v", c.loadID, c.err)
		}
	}
}
