package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/logutils"
)

// CrucialHook is a function invoked for every crucial message after it has
// been written to the log. The agent registers a hook that relays crucial
// messages to the configured notification providers.
type CrucialHook func(message string)

var (
	filter *logutils.LevelFilter

	hookLock sync.RWMutex
	hooks    []CrucialHook
)

func init() {
	filter = &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERR"},
		MinLevel: "INFO",
		Writer:   os.Stderr,
	}
	log.SetOutput(filter)
	log.SetFlags(log.LstdFlags)
}

// SetLevel updates the minimum level at which messages are written out.
// Unrecognised levels fall back to INFO.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		filter.SetMinLevel("DEBUG")
	case "INFO":
		filter.SetMinLevel("INFO")
	case "WARN", "WARNING":
		filter.SetMinLevel("WARN")
	case "ERR", "ERROR":
		filter.SetMinLevel("ERR")
	default:
		filter.SetMinLevel("INFO")
	}
}

// SetOutput redirects log output, which is mainly useful for testing.
func SetOutput(w io.Writer) {
	filter.Writer = w
}

// RegisterCrucialHook adds a hook which will receive all crucial messages.
func RegisterCrucialHook(hook CrucialHook) {
	hookLock.Lock()
	defer hookLock.Unlock()
	hooks = append(hooks, hook)
}

// Debug writes a debug level message to the log.
func Debug(format string, v ...interface{}) {
	log.Printf("[DEBUG] "+format, v...)
}

// Info writes an info level message to the log.
func Info(format string, v ...interface{}) {
	log.Printf("[INFO] "+format, v...)
}

// Warning writes a warning level message to the log.
func Warning(format string, v ...interface{}) {
	log.Printf("[WARN] "+format, v...)
}

// Error writes an error level message to the log.
func Error(format string, v ...interface{}) {
	log.Printf("[ERR] "+format, v...)
}

// Crucial writes an error level message to the log and relays it to every
// registered crucial hook. Crucial messages are operator facing: scaling
// failures, killed jobs and reaped workers end up here.
func Crucial(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	log.Printf("[ERR] " + message)

	hookLock.RLock()
	defer hookLock.RUnlock()
	for _, hook := range hooks {
		hook(message)
	}
}
