package transfer

import (
	"errors"
	"sync"
)

// ProgressNotifier counts the files of a transfer. A failed file does not
// stop the others.
type ProgressNotifier struct {
	Completed    int
	Failed       int
	FailedPaths  []string
	FailedErrors []error

	mu sync.Mutex
}

func NewProgressNotifier() *ProgressNotifier {
	return &ProgressNotifier{
		FailedPaths:  make([]string, 0),
		FailedErrors: make([]error, 0),
	}
}

func (notifier *ProgressNotifier) addSuccess() {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.Completed++
}

func (notifier *ProgressNotifier) addFailure(path string, err error) {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.Failed++
	notifier.FailedPaths = append(notifier.FailedPaths, path)
	notifier.FailedErrors = append(notifier.FailedErrors, err)
}

// Err joins the failures, or returns nil when every file succeeded.
func (notifier *ProgressNotifier) Err() error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	return errors.Join(notifier.FailedErrors...)
}
