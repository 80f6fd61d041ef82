// Package logging implements the firewall's two log sinks: a colorized
// console formatter for process lifecycle events, and an append-only
// CSV transaction log with size-based rotation. The transaction log's
// format is an external contract (the read-only dashboard parses it
// verbatim), so it is written through a dedicated, minimal code path
// rather than through the console logger's formatting.
package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger owns the transaction CSV sink and the console logger. A single
// mutex serializes the CSV write call; it is held across that one file
// write and, when the size threshold is crossed, the rotation that
// follows it, and never across console output.
type Logger struct {
	console *logrus.Logger

	mu          sync.Mutex
	path        string
	file        *os.File
	written     int64
	rotateBytes int64
	backupCount int
}

// New opens (or creates) the transaction log file at path, writing the
// header line if the file is new, and returns a Logger ready to accept
// records. rotateBytes <= 0 disables rotation.
func New(path string, rotateBytes int64, backupCount int, level logrus.Level) (*Logger, error) {
	console := logrus.New()
	console.SetLevel(level)
	console.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	l := &Logger{
		console:     console,
		path:        path,
		rotateBytes: rotateBytes,
		backupCount: backupCount,
	}
	if err := l.openFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) openFile() error {
	info, statErr := os.Stat(l.path)
	needsHeader := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: opening %s: %w", l.path, err)
	}
	l.file = f
	l.written = 0
	if !needsHeader && info != nil {
		l.written = info.Size()
	}

	if needsHeader {
		if _, err := f.WriteString(Header + "\n"); err != nil {
			return fmt.Errorf("logging: writing header to %s: %w", l.path, err)
		}
		l.written += int64(len(Header) + 1)
	}
	return nil
}

// Log appends rec as one CSV line and mirrors it to the console at a
// severity matching its action. The console log is best-effort: it
// never blocks the CSV write and a console formatting issue never
// drops the transaction record.
func (l *Logger) Log(rec Record) error {
	line := formatCSV(rec)

	l.mu.Lock()
	n, err := l.file.WriteString(line + "\n")
	if err == nil {
		l.written += int64(n)
		if l.rotateBytes > 0 && l.written >= l.rotateBytes {
			err = l.rotateLocked()
		}
	}
	l.mu.Unlock()

	l.logConsole(rec)
	return err
}

func (l *Logger) logConsole(rec Record) {
	fields := logrus.Fields{
		"txn":    rec.TransactionID,
		"src":    fmt.Sprintf("%s:%d", rec.SourceIP, rec.SourcePort),
		"fc":     rec.FunctionName,
		"unit":   rec.UnitID,
		"reason": rec.Reason,
	}
	switch rec.Action {
	case ActionAllow:
		l.console.WithFields(fields).Info("allow")
	case ActionBlock:
		l.console.WithFields(fields).Warn("block")
	case ActionError:
		l.console.WithFields(fields).Error("error")
	}
}

// rotateLocked renames the current file with a monotonic numeric
// suffix and opens a fresh one with the header line, pruning backups
// beyond backupCount. Caller must hold l.mu.
func (l *Logger) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("logging: closing %s before rotation: %w", l.path, err)
	}

	if l.backupCount > 0 {
		oldest := l.path + "." + strconv.Itoa(l.backupCount)
		os.Remove(oldest)
		for i := l.backupCount - 1; i >= 1; i-- {
			src := l.path + "." + strconv.Itoa(i)
			dst := l.path + "." + strconv.Itoa(i+1)
			if _, err := os.Stat(src); err == nil {
				os.Rename(src, dst)
			}
		}
		if err := os.Rename(l.path, l.path+".1"); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("logging: rotating %s: %w", l.path, err)
		}
	} else {
		os.Remove(l.path)
	}

	return l.openFile()
}

// Close flushes and closes the transaction log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Console returns the underlying process logger, for lifecycle and
// warning messages outside the transaction log.
func (l *Logger) Console() *logrus.Logger {
	return l.console
}

// PrintBanner logs the startup summary: listen/upstream endpoints and
// the policy in effect, matching the original firewall's startup banner.
func (l *Logger) PrintBanner(listen, upstream, policySummary string) {
	l.console.Infof("modbusguard starting: listen=%s upstream=%s", listen, upstream)
	l.console.Info(policySummary)
}

// PrintSummary logs the final counters on shutdown, matching the
// original firewall's shutdown statistics table.
func (l *Logger) PrintSummary(total, allowed, blocked, errors int64) {
	l.console.Infof("shutdown summary: total=%d allowed=%d blocked=%d errors=%d",
		total, allowed, blocked, errors)
}

func formatCSV(rec Record) string {
	fields := []string{
		time.Now().Format("2006-01-02T15:04:05"),
		strconv.Itoa(int(rec.TransactionID)),
		rec.SourceIP,
		strconv.Itoa(rec.SourcePort),
		strconv.Itoa(int(rec.FunctionCode)),
		rec.FunctionName,
		string(rec.Action),
		sanitizeReason(rec.Reason),
		strconv.Itoa(int(rec.UnitID)),
		strconv.Itoa(rec.DataLength),
	}
	return strings.Join(fields, ",")
}

// sanitizeReason replaces commas with spaces so a reason string can
// never split a CSV line into the wrong number of fields.
func sanitizeReason(reason string) string {
	return strings.ReplaceAll(reason, ",", " ")
}
